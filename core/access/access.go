/*Package access provides the request-authentication contract WebPods
depends on but does not implement: verifying a bearer token and turning
it into a user id. Token issuance, JWT verification, and OAuth provider
integration are out of scope; this package only defines the seam and a
reference implementation for tests and local development.
*/
package access

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// contextKey is the type for context keys, so the linter does not flag
// plain strings used as keys.
type contextKey string

const contextKeyUserID contextKey = "_user_id_"

// Authenticator verifies a bearer token and returns the user id it
// represents. An empty userID with a nil error means the request is
// anonymous; handlers that require authentication reject an empty
// user id themselves (spec §4.6, §7 MISSING_TOKEN/INVALID_TOKEN).
type Authenticator interface {
	Authenticate(tokenString string) (userID string, err error)
}

// ContextWithUserID returns a new context carrying userID.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

// UserIDFromContext retrieves the user id stored by middleware, or ""
// if the request is anonymous.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyUserID).(string)
	return id
}

// bearerToken extracts the token from the Authorization header, stripping
// a leading "Bearer " if present.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// Middleware builds an http middleware that resolves the bearer token of
// every request through auth and stores the resulting user id on the
// request context. A failed or missing token simply leaves the request
// anonymous; it is up to downstream handlers to reject anonymous access
// where the spec requires it.
func Middleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				h.ServeHTTP(w, r)
				return
			}
			userID, err := auth.Authenticate(token)
			if err != nil || userID == "" {
				h.ServeHTTP(w, r)
				return
			}
			h.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// BackdoorAuthenticator is a development/test Authenticator that treats
// the bearer token itself as the user id, optionally after resolving it
// through a fixed token-to-user map. It exists for integration tests and
// local runs where no real identity provider is wired up; it must never
// be used against a token supplied by an untrusted caller in production.
type BackdoorAuthenticator struct {
	mutex sync.RWMutex
	users map[string]string
}

// NewBackdoorAuthenticator creates a BackdoorAuthenticator. users maps a
// bearer token to the user id it authenticates as; a token absent from
// the map authenticates as itself.
func NewBackdoorAuthenticator(users map[string]string) *BackdoorAuthenticator {
	b := &BackdoorAuthenticator{users: make(map[string]string)}
	for token, userID := range users {
		b.users[token] = userID
	}
	return b
}

// Authenticate implements Authenticator.
func (b *BackdoorAuthenticator) Authenticate(tokenString string) (string, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if userID, ok := b.users[tokenString]; ok {
		return userID, nil
	}
	return tokenString, nil
}

// Grant registers tokenString as authenticating userID. It is go-routine
// safe so tests can add identities while a server is running.
func (b *BackdoorAuthenticator) Grant(tokenString, userID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.users[tokenString] = userID
}
