package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyowl/sessionsync/internal/adapters/identity"
	"github.com/studyowl/sessionsync/internal/navigation"
	"github.com/studyowl/sessionsync/internal/session"
	"github.com/studyowl/sessionsync/internal/types"
)

var testSecret = []byte("handler-test-secret")

type memCache struct {
	mu      sync.Mutex
	entries map[string]session.CacheEntry
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]session.CacheEntry)}
}

func (m *memCache) Read(scope string) (*session.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[scope]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *memCache) Write(scope string, entry session.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[scope] = entry
	return nil
}

func (m *memCache) Clear(scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, scope)
	return nil
}

type memRemote struct {
	mu   sync.Mutex
	rows map[string]map[string]types.ChatSession
}

func newMemRemote() *memRemote {
	return &memRemote{rows: make(map[string]map[string]types.ChatSession)}
}

func (m *memRemote) ListByOwner(ctx context.Context, ownerID string) ([]types.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ChatSession, 0, len(m.rows[ownerID]))
	for _, s := range m.rows[ownerID] {
		out = append(out, s)
	}
	return out, nil
}

func (m *memRemote) Upsert(ctx context.Context, sess types.ChatSession, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[ownerID] == nil {
		m.rows[ownerID] = make(map[string]types.ChatSession)
	}
	m.rows[ownerID][sess.ID] = sess
	return nil
}

func (m *memRemote) DeleteByID(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows[ownerID], id)
	return nil
}

func (m *memRemote) DeleteAllByOwner(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, ownerID)
	return nil
}

type handlerRig struct {
	router *gin.Engine
	engine *session.Engine
}

func newHandlerRig(t *testing.T) *handlerRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	source := identity.New(testSecret, nil)
	mirror := navigation.NewMirror()
	engine := session.NewEngine(newMemCache(), newMemRemote(), mirror, source, nil, nil, session.Options{
		CreateDebounce: time.Nanosecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine.Start(ctx)

	require.Eventually(t, func() bool {
		return len(engine.Snapshot()) > 0
	}, time.Second, 5*time.Millisecond, "initial guest load must synthesize a session")

	h := NewHandlers(engine, source, mirror)
	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.POST("/v1/auth/signin", h.SignIn)
	router.POST("/v1/auth/signout", h.SignOut)
	router.GET("/v1/sessions", h.ListSessions)
	router.POST("/v1/sessions", h.CreateSession)
	router.POST("/v1/sessions/:id/activate", h.ActivateSession)
	router.POST("/v1/sessions/:id/clear", h.ClearSession)
	router.PATCH("/v1/sessions/:id", h.RenameSession)
	router.DELETE("/v1/sessions/:id", h.DeleteSession)
	router.DELETE("/v1/sessions", h.DeleteAllSessions)
	router.POST("/v1/messages", h.AppendMessage)
	router.POST("/v1/navigate", h.Navigate)
	router.POST("/v1/flush", h.Flush)

	return &handlerRig{router: router, engine: engine}
}

func (r *handlerRig) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHealthEndpoints(t *testing.T) {
	rig := newHandlerRig(t)

	w, body := rig.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "online", body["status"])

	w, body = rig.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["guest"])
}

func TestListSessionsIncludesActiveAndURL(t *testing.T) {
	rig := newHandlerRig(t)

	w, body := rig.do(t, http.MethodGet, "/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)

	sessions, ok := body["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	assert.NotEmpty(t, body["active_session_id"])
	assert.Equal(t, body["active_session_id"], body["url_session_id"])
}

func TestCreateThenActivateAndDelete(t *testing.T) {
	rig := newHandlerRig(t)
	first, ok := rig.engine.Active()
	require.True(t, ok)

	w, body := rig.do(t, http.MethodPost, "/v1/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)
	created := body["session"].(map[string]any)
	createdID := created["id"].(string)
	assert.NotEqual(t, first.ID, createdID)

	w, _ = rig.do(t, http.MethodPost, "/v1/sessions/"+first.ID+"/activate", "")
	require.Equal(t, http.StatusOK, w.Code)
	active, ok := rig.engine.Active()
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)

	w, _ = rig.do(t, http.MethodDelete, "/v1/sessions/"+first.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = rig.do(t, http.MethodDelete, "/v1/sessions/"+first.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateDebounced(t *testing.T) {
	gin.SetMode(gin.TestMode)
	source := identity.New(testSecret, nil)
	mirror := navigation.NewMirror()
	engine := session.NewEngine(newMemCache(), newMemRemote(), mirror, source, nil, nil, session.Options{
		CreateDebounce: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	engine.Start(ctx)
	require.Eventually(t, func() bool { return len(engine.Snapshot()) > 0 }, time.Second, 5*time.Millisecond)

	h := NewHandlers(engine, source, mirror)
	router := gin.New()
	router.POST("/v1/sessions", h.CreateSession)
	rig := &handlerRig{router: router, engine: engine}

	w, _ := rig.do(t, http.MethodPost, "/v1/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = rig.do(t, http.MethodPost, "/v1/sessions", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAppendMessageDerivesTitle(t *testing.T) {
	rig := newHandlerRig(t)

	w, body := rig.do(t, http.MethodPost, "/v1/messages",
		`{"sender":"user","text":"help me with long division"}`)
	require.Equal(t, http.StatusOK, w.Code)

	sess := body["session"].(map[string]any)
	assert.Equal(t, "help me with long division", sess["title"])
	messages := sess["messages"].([]any)
	require.Len(t, messages, 1)
}

func TestAppendMessageRejectsBadBody(t *testing.T) {
	rig := newHandlerRig(t)

	w, _ := rig.do(t, http.MethodPost, "/v1/messages", `{"text":"no sender"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRenameAndClear(t *testing.T) {
	rig := newHandlerRig(t)
	active, ok := rig.engine.Active()
	require.True(t, ok)

	w, _ := rig.do(t, http.MethodPatch, "/v1/sessions/"+active.ID, `{"title":"Algebra notes"}`)
	require.Equal(t, http.StatusOK, w.Code)

	_, body := rig.do(t, http.MethodGet, "/v1/sessions", "")
	sessions := body["sessions"].([]any)
	assert.Equal(t, "Algebra notes", sessions[0].(map[string]any)["title"])

	w, _ = rig.do(t, http.MethodPost, "/v1/sessions/"+active.ID+"/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestNavigateSwitchesActive(t *testing.T) {
	rig := newHandlerRig(t)
	first, ok := rig.engine.Active()
	require.True(t, ok)

	_, body := rig.do(t, http.MethodPost, "/v1/sessions", "")
	second := body["session"].(map[string]any)["id"].(string)

	w, _ := rig.do(t, http.MethodPost, "/v1/navigate", `{"session_id":"`+first.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	active, ok := rig.engine.Active()
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)
	assert.NotEqual(t, second, active.ID)
}

func TestSignInAndOut(t *testing.T) {
	rig := newHandlerRig(t)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)

	w, body := rig.do(t, http.MethodPost, "/v1/auth/signin", `{"token":"`+signed+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", body["owner"])
	assert.Equal(t, types.Authenticated("alice"), rig.engine.Owner())

	w, _ = rig.do(t, http.MethodPost, "/v1/auth/signout", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, rig.engine.Owner().IsGuest())
}

func TestSignInRejectsGarbage(t *testing.T) {
	rig := newHandlerRig(t)

	w, _ := rig.do(t, http.MethodPost, "/v1/auth/signin", `{"token":"not-a-jwt"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFlushReportsSuccess(t *testing.T) {
	rig := newHandlerRig(t)

	w, body := rig.do(t, http.MethodPost, "/v1/flush", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["flushed"])
}
