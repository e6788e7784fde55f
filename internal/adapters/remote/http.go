// Package remote implements the RemoteStore port against the StudyOwl
// cloud sync API.
//
// Transport stack: a resty client over a retrying HTTP transport, wrapped
// in a circuit breaker. Rows are always owner-filtered server-side; the
// merge policy is last-write-wins on updated_at, so upserts are plain
// replacements.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/studyowl/sessionsync/internal/logging"
	"github.com/studyowl/sessionsync/internal/resilience"
	"github.com/studyowl/sessionsync/internal/types"
)

// Config holds the sync API connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	RetryMax   int
	RetryWait  time.Duration
	BreakerMax uint32 // consecutive failures before the breaker opens
}

// Store talks to the cloud sync API.
type Store struct {
	client  *resty.Client
	breaker *resilience.Breaker
	logger  *logging.Logger
}

// sessionRow is the wire shape of one remote session row. Local sync
// bookkeeping never crosses the wire.
type sessionRow struct {
	ID        string              `json:"id"`
	OwnerID   string              `json:"owner_id"`
	Title     string              `json:"title"`
	Messages  []types.ChatMessage `json:"messages"`
	IsActive  bool                `json:"is_active"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type listResponse struct {
	Sessions []sessionRow `json:"sessions"`
}

// New creates a remote store client.
func New(cfg Config, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	log := logger.Named("remote")

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWait > 0 {
		rc.RetryWaitMin = cfg.RetryWait
	}
	rc.Logger = nil

	client := resty.NewWithClient(rc.StandardClient()).
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	tripAfter := cfg.BreakerMax
	if tripAfter == 0 {
		tripAfter = 5
	}
	breaker := resilience.New("remote-store", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("remote breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Store{client: client, breaker: breaker, logger: log}
}

// ListByOwner returns the owner's sessions, updated_at descending.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]types.ChatSession, error) {
	var out listResponse
	err := s.breaker.Do(func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			SetPathParam("owner", ownerID).
			SetQueryParam("order", "updated_at.desc").
			SetResult(&out).
			Get("/v1/owners/{owner}/sessions")
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("list sessions: %s", resp.Status())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]types.ChatSession, 0, len(out.Sessions))
	for _, row := range out.Sessions {
		sessions = append(sessions, row.toSession())
	}
	return sessions, nil
}

// Upsert inserts or replaces one session row for the owner.
func (s *Store) Upsert(ctx context.Context, sess types.ChatSession, ownerID string) error {
	row := rowFromSession(sess, ownerID)
	return s.breaker.Do(func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			SetPathParam("owner", ownerID).
			SetPathParam("id", sess.ID).
			SetBody(row).
			Put("/v1/owners/{owner}/sessions/{id}")
		if err != nil {
			return fmt.Errorf("upsert session %s: %w", sess.ID, err)
		}
		if resp.IsError() {
			return fmt.Errorf("upsert session %s: %s", sess.ID, resp.Status())
		}
		return nil
	})
}

// DeleteByID removes one session row.
func (s *Store) DeleteByID(ctx context.Context, id, ownerID string) error {
	return s.breaker.Do(func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			SetPathParam("owner", ownerID).
			SetPathParam("id", id).
			Delete("/v1/owners/{owner}/sessions/{id}")
		if err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
		// A row already gone is success from the caller's view.
		if resp.IsError() && resp.StatusCode() != 404 {
			return fmt.Errorf("delete session %s: %s", id, resp.Status())
		}
		return nil
	})
}

// DeleteAllByOwner removes every session row for the owner.
func (s *Store) DeleteAllByOwner(ctx context.Context, ownerID string) error {
	return s.breaker.Do(func() error {
		resp, err := s.client.R().
			SetContext(ctx).
			SetPathParam("owner", ownerID).
			Delete("/v1/owners/{owner}/sessions")
		if err != nil {
			return fmt.Errorf("delete all sessions: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("delete all sessions: %s", resp.Status())
		}
		return nil
	})
}

func rowFromSession(sess types.ChatSession, ownerID string) sessionRow {
	return sessionRow{
		ID:        sess.ID,
		OwnerID:   ownerID,
		Title:     sess.Title,
		Messages:  sess.Messages,
		IsActive:  sess.Active,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}

func (r sessionRow) toSession() types.ChatSession {
	return types.ChatSession{
		ID:        r.ID,
		Title:     r.Title,
		Messages:  r.Messages,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Active:    r.IsActive,
		Sync:      types.SyncClean,
	}
}
