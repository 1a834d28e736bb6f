// Package auth guards the exporter's HTTP endpoints with a static bearer
// token.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

var (
	// ErrInvalidToken is returned when a token is present but wrong.
	ErrInvalidToken = errors.New("invalid bearer token")
	// ErrMalformedAuthHeader is returned when the Authorization header is
	// not of the form "Bearer <token>".
	ErrMalformedAuthHeader = errors.New("malformed authorization header")
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject string
}

// Authenticator authenticates HTTP requests. It returns (nil, false, nil)
// when the request carries no credentials.
type Authenticator interface {
	AuthenticateRequest(r *http.Request) (*Identity, bool, error)
}

// BearerToken authenticates requests against a pre-shared token.
type BearerToken struct {
	token   []byte
	subject string
}

// NewBearerToken returns an authenticator accepting token. An empty token
// never authenticates anything.
func NewBearerToken(token, subject string) *BearerToken {
	return &BearerToken{token: []byte(token), subject: subject}
}

// AuthenticateRequest implements Authenticator.
func (b *BearerToken) AuthenticateRequest(r *http.Request) (*Identity, bool, error) {
	if len(b.token) == 0 {
		return nil, false, nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, false, nil
	}
	provided, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || provided == "" {
		return nil, false, ErrMalformedAuthHeader
	}
	if subtle.ConstantTimeCompare([]byte(provided), b.token) != 1 {
		return nil, false, ErrInvalidToken
	}
	return &Identity{Subject: b.subject}, true, nil
}

type contextKey struct{}

// IdentityFromContext returns the identity attached by Middleware, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}

// ContextWithIdentity attaches id to ctx.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// Middleware rejects requests the authenticator does not accept.
type Middleware struct {
	authn    Authenticator
	excluded map[string]bool
	logger   *slog.Logger
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithExcludedPaths serves the given paths without authentication.
func WithExcludedPaths(paths ...string) Option {
	return func(m *Middleware) {
		for _, p := range paths {
			m.excluded[p] = true
		}
	}
}

// WithLogger sets the logger rejected requests are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// NewMiddleware returns a Middleware using authn.
func NewMiddleware(authn Authenticator, opts ...Option) *Middleware {
	m := &Middleware{
		authn:    authn,
		excluded: make(map[string]bool),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap returns next guarded by the middleware.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.excluded[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		id, ok, err := m.authn.AuthenticateRequest(r)
		if err != nil || !ok {
			reason := "missing credentials"
			if err != nil {
				reason = err.Error()
			}
			m.logger.Debug("request rejected",
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.String("reason", reason),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="npu-exporter"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}
