// Package httpapi is the HTTP surface from spec §6: subdomain routing to
// a pod, the per-pod POST/GET/DELETE/HEAD routes, and the `.config`,
// `.permissions`, `.schema` meta endpoints. It follows the teacher's
// backend package in using gorilla/mux for routing and
// gorilla/handlers for CORS, with domain errors funneled through one
// apperror->status mapping (errors.go) instead of the teacher's ad hoc
// http.Error calls.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
	"github.com/webpods-org/webpods/internal/apperror"
	"github.com/webpods-org/webpods/internal/blobstore"
	"github.com/webpods-org/webpods/internal/cache"
	"github.com/webpods-org/webpods/internal/model"
	"github.com/webpods-org/webpods/internal/permission"
	"github.com/webpods-org/webpods/internal/podstore"
	"github.com/webpods-org/webpods/internal/ratelimit"
	"github.com/webpods-org/webpods/internal/recordstore"
	"github.com/webpods-org/webpods/internal/streamstore"
)

// maxBodyBytes bounds a single record's request body. Spec §4.3 does not
// name a limit; this guards the server against an unbounded read into
// memory ahead of hashing/offload.
const maxBodyBytes = 64 << 20

// Authenticator is the out-of-scope collaborator named in spec §6:
// "produces a verified user_id | nil for a request; the core consumes
// this and never inspects tokens itself." An empty userID with a nil error
// means the request is anonymous, a valid outcome for reads of public
// streams.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// Config wires every internal package the HTTP surface dispatches to.
type Config struct {
	// ServerHost is the bare host pods are subdomains of, e.g.
	// "webpods.example.com" or "localhost". A request whose Host header
	// (port stripped) equals ServerHost exactly is routed to the bare
	// endpoints (/health, /test-utils/*) rather than treated as a pod.
	ServerHost string
	// RootPod, if set, is the pod served on the bare host instead of
	// /health/test-utils for any path not matching those exactly (spec
	// §6: "Requests on the bare server host are routed to an optional
	// rootPod if configured").
	RootPod string
	// TestUtilsEnabled gates the /test-utils/* surface (SPEC_FULL.md
	// SUPPLEMENTED FEATURES), off by default.
	TestUtilsEnabled bool

	DB      *csql.DB
	Pods    *podstore.Store
	Streams *streamstore.Store
	Records *recordstore.Store
	Perm    *permission.Engine
	Caches  *cache.Hierarchy
	Limiter *ratelimit.Limiter
	Blob    blobstore.Driver

	Auth Authenticator
}

type handler struct {
	cfg Config
}

// New builds the WebPods HTTP handler: request-id logging, subdomain
// dispatch, and CORS, matching the teacher's own middleware order in
// backend.New (AddRequestID first, CORS outermost).
func New(cfg Config) http.Handler {
	h := &handler{cfg: cfg}

	r := mux.NewRouter()
	logger.AddRequestID(r)
	r.PathPrefix("/").HandlerFunc(h.dispatch)

	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{
			http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead, http.MethodOptions,
		}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "If-None-Match"}),
		handlers.ExposedHeaders([]string{
			"X-Content-Hash", "X-Hash", "X-Previous-Hash", "X-Author", "X-Timestamp",
			"X-Total-Records", "X-Last-Modified", "X-Record-Type",
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
		}),
	)(r)
}

// dispatch resolves the request's Host header to either a pod subdomain
// or the bare server host, and routes accordingly. Subdomain extraction
// is done directly against r.Host (rather than via mux.Host matchers)
// so an explicit port in a local-dev Host header (e.g.
// "alice.localhost:8080") is stripped uniformly before comparison.
func (h *handler) dispatch(w http.ResponseWriter, r *http.Request) {
	host := stripPort(r.Host)

	if host == "" || host == h.cfg.ServerHost {
		h.dispatchBareHost(w, r)
		return
	}

	suffix := "." + h.cfg.ServerHost
	if !strings.HasSuffix(host, suffix) {
		writeError(w, apperror.Newf(apperror.CodePodNotFound, "unrecognized host %q", r.Host))
		return
	}
	pod := strings.TrimSuffix(host, suffix)
	if !model.ValidPodName(pod) {
		writeError(w, apperror.Newf(apperror.CodeInvalidPodName, "invalid pod name %q", pod))
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r, pod)
	case http.MethodGet:
		h.handleGet(w, r, pod)
	case http.MethodDelete:
		h.handleDelete(w, r, pod)
	case http.MethodHead:
		h.handleHead(w, r, pod)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) dispatchBareHost(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")

	switch {
	case path == "health" && r.Method == http.MethodGet:
		h.handleHealth(w, r)
	case h.cfg.TestUtilsEnabled && strings.HasPrefix(path, "test-utils/"):
		h.handleTestUtils(w, r, strings.TrimPrefix(path, "test-utils/"))
	case h.cfg.RootPod != "":
		switch r.Method {
		case http.MethodPost:
			h.handlePost(w, r, h.cfg.RootPod)
		case http.MethodGet:
			h.handleGet(w, r, h.cfg.RootPod)
		case http.MethodDelete:
			h.handleDelete(w, r, h.cfg.RootPod)
		case http.MethodHead:
			h.handleHead(w, r, h.cfg.RootPod)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		writeError(w, apperror.New(apperror.CodeNotFound, "not found"))
	}
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}
