// Package auth resolves bearer tokens to principals. Tokens are issued by an
// external credential service, which writes one Redis session per token.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
	"github.com/lipeng19940807-debug/smash-ai-badminton/pkg/hash"
)

// ErrUnauthorized means the credential is missing, unknown or expired.
var ErrUnauthorized = errors.New("unauthorized")

// PrincipalResolver maps a caller credential to the authenticated user.
type PrincipalResolver interface {
	Resolve(ctx context.Context, token string) (*model.Principal, error)
}

// SessionResolver reads sessions stored as JSON {"id","username"} under
// session:<sha256(token)>.
type SessionResolver struct {
	rdb *redis.Client
}

func NewSessionResolver(rdb *redis.Client) *SessionResolver {
	return &SessionResolver{rdb: rdb}
}

func (r *SessionResolver) Resolve(ctx context.Context, token string) (*model.Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	if r.rdb == nil {
		return nil, errors.New("session store unavailable")
	}

	data, err := r.rdb.Get(ctx, hash.SessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return decodeSession(data)
}

func decodeSession(data []byte) (*model.Principal, error) {
	var p model.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: corrupt session", ErrUnauthorized)
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("%w: session has no user id", ErrUnauthorized)
	}
	return &p, nil
}

// StaticResolver serves a fixed token table. Useful for local development
// and tests.
type StaticResolver map[string]model.Principal

func (s StaticResolver) Resolve(_ context.Context, token string) (*model.Principal, error) {
	p, ok := s[token]
	if !ok || token == "" {
		return nil, ErrUnauthorized
	}
	return &p, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
