// Package auth guards the admin API with a shared bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
)

var (
	// ErrUnauthorized means the request carried no credentials.
	ErrUnauthorized = errors.New("missing bearer token")
	// ErrForbidden means the credentials were present but wrong.
	ErrForbidden = errors.New("invalid bearer token")
)

// Authorizer checks requests against the configured admin token.
type Authorizer struct {
	token []byte
}

// NewAuthorizer creates an Authorizer. An empty token rejects every
// request, so an unconfigured deployment never runs open.
func NewAuthorizer(token string) *Authorizer {
	return &Authorizer{token: []byte(strings.TrimSpace(token))}
}

// Check returns nil when r carries the admin token.
func (a *Authorizer) Check(r *http.Request) error {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ErrUnauthorized
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return ErrUnauthorized
	}
	if len(a.token) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), a.token) != 1 {
		return ErrForbidden
	}
	return nil
}

// RequireAuth rejects unauthenticated requests with 401 and wrong tokens
// with 403 before the wrapped handler runs.
func (a *Authorizer) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch err := a.Check(r); {
		case errors.Is(err, ErrUnauthorized):
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			httputil.Unauthorized(w, "unauthorized")
		case err != nil:
			httputil.Forbidden(w, "forbidden")
		default:
			next.ServeHTTP(w, r)
		}
	})
}
