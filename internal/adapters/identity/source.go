// Package identity implements the in-process identity source. Sign-in
// verifies an HS256 token from the auth service and publishes the owner;
// sign-out publishes the guest identity. Subscribers see the new identity
// via Current before their callback runs.
package identity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/studyowl/sessionsync/internal/logging"
	"github.com/studyowl/sessionsync/internal/types"
)

var (
	// ErrInvalidToken reports a token that failed verification.
	ErrInvalidToken = errors.New("invalid auth token")
	// ErrMissingSubject reports a valid token with no subject claim.
	ErrMissingSubject = errors.New("auth token has no subject")
)

// Source holds the current owner and fans out identity changes.
type Source struct {
	secret []byte
	logger *logging.Logger

	mu          sync.Mutex
	current     types.Owner
	subscribers []func(types.Owner)
}

// New creates a source starting in the guest identity.
func New(secret []byte, logger *logging.Logger) *Source {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Source{
		secret:  secret,
		logger:  logger.Named("identity"),
		current: types.Guest,
	}
}

// Current returns the owner as of the last publish.
func (s *Source) Current() types.Owner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnChange registers a callback fired on every identity change.
func (s *Source) OnChange(fn func(types.Owner)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// SignIn verifies the token and publishes its subject as the owner.
func (s *Source) SignIn(token string) (types.Owner, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return types.Guest, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return types.Guest, ErrMissingSubject
	}

	owner := types.Authenticated(sub)
	s.publish(owner)
	s.logger.Info("signed in", zap.String("owner", owner.String()))
	return owner, nil
}

// SignOut publishes the guest identity.
func (s *Source) SignOut() {
	s.publish(types.Guest)
	s.logger.Info("signed out")
}

func (s *Source) publish(next types.Owner) {
	s.mu.Lock()
	if s.current == next {
		s.mu.Unlock()
		return
	}
	s.current = next
	subs := make([]func(types.Owner), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}
