// Package http contains the REST handlers the front-end calls for every
// session lifecycle operation. Reads are served over the websocket stream;
// these endpoints are the write path.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studyowl/sessionsync/internal/adapters/identity"
	"github.com/studyowl/sessionsync/internal/navigation"
	"github.com/studyowl/sessionsync/internal/session"
	"github.com/studyowl/sessionsync/internal/types"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	engine   *session.Engine
	identity *identity.Source
	mirror   *navigation.Mirror
}

// NewHandlers creates a new handler set.
func NewHandlers(engine *session.Engine, source *identity.Source, mirror *navigation.Mirror) *Handlers {
	return &Handlers{
		engine:   engine,
		identity: source,
		mirror:   mirror,
	}
}

// Root handles health check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "StudyOwl Session Sync",
		"version": "0.3.0",
	})
}

// Health handles detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	owner := h.engine.Owner()
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"owner":    owner.String(),
		"guest":    owner.IsGuest(),
		"sessions": len(h.engine.Snapshot()),
	})
}

// SignIn verifies an auth token and switches the engine to its owner.
func (h *Handlers) SignIn(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	owner, err := h.identity.SignIn(req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner.ID})
}

// SignOut switches the engine back to the guest identity.
func (h *Handlers) SignOut(c *gin.Context) {
	h.identity.SignOut()
	c.JSON(http.StatusOK, gin.H{"owner": nil})
}

// ListSessions returns the current in-memory set, newest first.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.engine.Snapshot()
	activeID := ""
	if active, ok := h.engine.Active(); ok {
		activeID = active.ID
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions":          sessions,
		"active_session_id": activeID,
		"url_session_id":    h.mirror.SessionParam(),
	})
}

// CreateSession starts a new chat and makes it active.
func (h *Handlers) CreateSession(c *gin.Context) {
	sess, err := h.engine.Create(c.Request.Context())
	if err != nil {
		if errors.Is(err, session.ErrCreateDebounced) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

// ActivateSession makes an existing session the active one.
func (h *Handlers) ActivateSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.SwitchTo(c.Request.Context(), id); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_session_id": id})
}

// DeleteSession removes one session everywhere.
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.Delete(c.Request.Context(), id); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// DeleteAllSessions wipes the owner's whole history.
func (h *Handlers) DeleteAllSessions(c *gin.Context) {
	if err := h.engine.DeleteAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": "all"})
}

// RenameSession sets a session's title.
func (h *Handlers) RenameSession(c *gin.Context) {
	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := h.engine.Rename(c.Request.Context(), id, req.Title); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"renamed": id})
}

// ClearSession empties a session's transcript but keeps the session.
func (h *Handlers) ClearSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.ClearMessages(c.Request.Context(), id); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": id})
}

// AppendMessage attaches a message to the active session.
func (h *Handlers) AppendMessage(c *gin.Context) {
	var req struct {
		Sender        string `json:"sender" binding:"required"`
		Text          string `json:"text"`
		Kind          string `json:"kind"`
		AttachmentURL string `json:"attachment_url"`
		Media         string `json:"media"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := types.ChatMessage{
		Sender:        types.Sender(req.Sender),
		Text:          req.Text,
		Kind:          req.Kind,
		AttachmentURL: req.AttachmentURL,
		Media:         req.Media,
	}
	sess, err := h.engine.AppendMessage(c.Request.Context(), msg)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// Navigate applies a URL change reported by the front-end.
func (h *Handlers) Navigate(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.HandleNavigation(c.Request.Context(), req.SessionID); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url_session_id": h.mirror.SessionParam()})
}

// Flush forces every dirty session out to the remote store.
func (h *Handlers) Flush(c *gin.Context) {
	failed := h.engine.FlushAll(c.Request.Context())
	if len(failed) > 0 {
		errs := make(map[string]string, len(failed))
		for id, err := range failed {
			if err == nil {
				err = session.ErrFlushSuperseded
			}
			errs[id] = err.Error()
		}
		c.JSON(http.StatusBadGateway, gin.H{"flushed": false, "errors": errs})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": true})
}

func respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNoActiveSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrEmptyID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
