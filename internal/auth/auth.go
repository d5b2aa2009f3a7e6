package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/ATPFlow/internal/config"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

// ErrUnauthorized is returned for a missing, unknown or expired token.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the identity behind a verified token.
type Principal struct {
	UserID string     `json:"user_id"`
	Role   store.Role `json:"role"`
}

type Verifier interface {
	VerifyRole(ctx context.Context, token string) (*Principal, error)
}

// StaticVerifier resolves tokens from a fixed table. Used for local runs
// and tests when no auth service is configured.
type StaticVerifier struct {
	tokens map[string]Principal
}

func NewStaticVerifier(tokens map[string]config.StaticToken) (*StaticVerifier, error) {
	v := &StaticVerifier{tokens: make(map[string]Principal, len(tokens))}
	for token, t := range tokens {
		role, err := store.ParseRole(t.Role)
		if err != nil {
			return nil, fmt.Errorf("static token for %s: %w", t.UserID, err)
		}
		if t.UserID == "" {
			return nil, fmt.Errorf("static token with role %s has no user id", role)
		}
		v.tokens[token] = Principal{UserID: t.UserID, Role: role}
	}
	return v, nil
}

func (v *StaticVerifier) VerifyRole(_ context.Context, token string) (*Principal, error) {
	p, ok := v.tokens[token]
	if !ok || token == "" {
		return nil, ErrUnauthorized
	}
	return &p, nil
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by the auth middleware, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}
