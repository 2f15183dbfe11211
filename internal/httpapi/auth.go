package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/webpods-org/webpods/internal/apperror"
	"github.com/webpods-org/webpods/internal/ratelimit"
)

// authenticate delegates to the configured Authenticator collaborator. A
// nil Authenticator means the deployment runs with no auth layer wired
// in, which is a valid test configuration per spec §6 ("Rate-limit
// middleware: configurable; disabled mode is a valid test
// configuration" applies equally to the Authenticator seam).
func (h *handler) authenticate(r *http.Request) (string, error) {
	if h.cfg.Auth == nil {
		return "", nil
	}
	userID, err := h.cfg.Auth.Authenticate(r)
	if err != nil {
		if appErr, ok := apperror.As(err); ok {
			return "", appErr
		}
		return "", apperror.Wrap(apperror.CodeInvalidToken, "authentication failed", err)
	}
	return userID, nil
}

// isOwner reports whether userID is the pod's current owner. An empty
// owner (no write has ever happened) is never "owned" by anyone here;
// callers that need to bootstrap the first owner do so explicitly via
// ensureOwnerBootstrap before calling isOwner.
func (h *handler) isOwner(ctx context.Context, pod, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	owner, err := h.cfg.Perm.Owner(ctx, pod)
	if err != nil {
		return false, err
	}
	return owner != "" && owner == userID, nil
}

// requestIdentifier picks the rate-limit identifier for a request: the
// authenticated user when known, the caller's IP otherwise (spec §4.9
// "keyed by user or IP and action").
func requestIdentifier(r *http.Request, userID string) string {
	if userID != "" {
		return ratelimit.UserIdentifier(userID)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return ratelimit.IPIdentifier(host)
}

// checkRateLimit sets the standard X-RateLimit-* response headers and,
// if the request is over its window's limit, writes the 429 error body
// and reports true so the caller stops handling the request.
func (h *handler) checkRateLimit(ctx context.Context, w http.ResponseWriter, identifier string, action ratelimit.Action) bool {
	if h.cfg.Limiter == nil {
		return false
	}
	result := h.cfg.Limiter.Check(ctx, identifier, action)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if !result.Allowed {
		writeError(w, apperror.New(apperror.CodeRateLimited, "rate limit exceeded"))
		return true
	}
	return false
}
