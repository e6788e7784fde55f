package remote

import (
	"context"

	"github.com/studyowl/sessionsync/internal/types"
)

// Disabled is the RemoteStore used when no sync API is configured. Every
// owner looks empty and writes vanish, so the engine runs cache-only and
// sessions simply stay dirty.
type Disabled struct{}

func (Disabled) ListByOwner(ctx context.Context, ownerID string) ([]types.ChatSession, error) {
	return nil, nil
}

func (Disabled) Upsert(ctx context.Context, sess types.ChatSession, ownerID string) error {
	return nil
}

func (Disabled) DeleteByID(ctx context.Context, id, ownerID string) error { return nil }

func (Disabled) DeleteAllByOwner(ctx context.Context, ownerID string) error { return nil }
