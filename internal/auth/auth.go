// Package auth resolves request credentials into sessions.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"movimenti/internal/core"
	"movimenti/internal/log"
)

// ErrNoTokens is returned when a static verifier is built without tokens.
var ErrNoTokens = errors.New("no API tokens configured")

// Session identifies an authenticated caller.
type Session struct {
	Subject string
}

// Verifier checks a bearer token. Invalid tokens yield core.ErrUnauthorized.
type Verifier interface {
	Verify(ctx context.Context, token string) (Session, error)
}

// StaticVerifier accepts a fixed set of tokens.
type StaticVerifier struct {
	digests [][32]byte
}

func NewStaticVerifier(tokens []string) (*StaticVerifier, error) {
	v := &StaticVerifier{}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			v.digests = append(v.digests, sha256.Sum256([]byte(t)))
		}
	}
	if len(v.digests) == 0 {
		return nil, ErrNoTokens
	}
	return v, nil
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, core.ErrUnauthorized
	}
	sum := sha256.Sum256([]byte(token))
	for i, d := range v.digests {
		if subtle.ConstantTimeCompare(sum[:], d[:]) == 1 {
			return Session{Subject: fmt.Sprintf("token-%d-%s", i, hex.EncodeToString(d[:4]))}, nil
		}
	}
	return Session{}, core.ErrUnauthorized
}

// AllowAll grants every caller the same local session. Only used when no
// tokens are configured.
type AllowAll struct{}

func (AllowAll) Verify(context.Context, string) (Session, error) {
	return Session{Subject: "local"}, nil
}

type contextKey struct{}

// WithSession returns ctx carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by Middleware, if any.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok
}

// Authorized reports whether ctx carries a session.
func Authorized(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Middleware resolves the bearer token into a session. Requests without a
// valid token pass through unauthenticated; handlers decide what that means.
func Middleware(v Verifier, logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentAuth)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			s, err := v.Verify(r.Context(), token)
			if err != nil {
				if token != "" {
					logger.WarnContext(r.Context(), "Rejected API token", log.FieldPath, r.URL.Path, log.FieldError, err)
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}
