package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/webpods-org/webpods/core/logger"
	"github.com/webpods-org/webpods/core/schema"
	"github.com/webpods-org/webpods/internal/apperror"
	"github.com/webpods-org/webpods/internal/model"
	"github.com/webpods-org/webpods/internal/permission"
	"github.com/webpods-org/webpods/internal/ratelimit"
	"github.com/webpods-org/webpods/internal/resolver"
)

// handlePost dispatches every write: stream creation, record append, and
// the `.config/owner` / `.config/routing` / `.schema/<path>` meta
// endpoints (spec §6). `.permissions/<path>` needs no special case here:
// it is an ordinary stream path whose writes are already owner-gated by
// permission.IsSystemPath inside CanWrite.
func (h *handler) handlePost(w http.ResponseWriter, r *http.Request, pod string) {
	ctx := r.Context()
	path := strings.Trim(r.URL.Path, "/")

	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if userID == "" {
		writeError(w, apperror.New(apperror.CodeMissingToken, "authentication required to write"))
		return
	}

	if h.checkRateLimit(ctx, w, requestIdentifier(r, userID), ratelimit.ActionWrite) {
		return
	}

	// spec §4.9: pod_create is counted only when a pod row is actually
	// inserted, never on a write to an existing pod.
	identifier := requestIdentifier(r, userID)
	if exists, err := h.cfg.Pods.Exists(ctx, pod); err != nil {
		writeError(w, err)
		return
	} else if !exists && h.checkRateLimit(ctx, w, identifier, ratelimit.ActionPodCreate) {
		return
	}

	if _, _, err := h.cfg.Pods.GetOrCreate(ctx, pod); err != nil {
		writeError(w, err)
		return
	}
	if err := h.ensureOwnerBootstrap(ctx, pod, userID); err != nil {
		writeError(w, err)
		return
	}

	switch {
	case path == ".config/owner":
		h.handleSetOwner(w, r, ctx, pod, userID)
	case path == ".config/routing":
		h.handleSetRouting(w, r, ctx, pod, userID)
	case strings.HasPrefix(path, ".schema/"):
		h.handleSetSchema(w, r, ctx, pod, userID, strings.TrimPrefix(path, ".schema/"))
	default:
		h.handleWrite(w, r, ctx, pod, path, userID)
	}
}

// ensureOwnerBootstrap implements spec §8's "Empty pod (first write)
// initializes an implicit /.config/owner record": the first
// authenticated write to a pod with no owner yet makes the writer the
// owner (spec §3 "Lifecycle").
func (h *handler) ensureOwnerBootstrap(ctx context.Context, pod, userID string) error {
	owner, err := h.cfg.Perm.Owner(ctx, pod)
	if err != nil {
		return err
	}
	if owner != "" {
		return nil
	}
	if _, err := h.cfg.Streams.GetOrCreate(ctx, pod, ".config/owner", userID, string(model.AccessPrivate), true); err != nil {
		return err
	}
	content, err := json.Marshal(map[string]string{"owner": userID})
	if err != nil {
		return apperror.Wrap(apperror.CodeInternalError, "encode owner bootstrap record", err)
	}
	if _, err := h.cfg.Records.Append(ctx, pod, ".config/owner", "owner", content, "application/json", userID, nil); err != nil {
		return err
	}
	h.cfg.Perm.InvalidateOwner(pod)
	return nil
}

// handleWrite implements the POST route's empty-body/non-empty-body
// split (spec §6): an empty body creates a stream at path; any other
// body appends a record whose name is path's last segment.
func (h *handler) handleWrite(w http.ResponseWriter, r *http.Request, ctx context.Context, pod, path, userID string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, apperror.Wrap(apperror.CodeInternalError, "read request body", err))
		return
	}
	if len(body) == 0 {
		h.createStream(w, r, ctx, pod, path, userID)
		return
	}
	h.appendRecord(w, r, ctx, pod, path, userID, body)
}

func (h *handler) createStream(w http.ResponseWriter, r *http.Request, ctx context.Context, pod, path, userID string) {
	access := r.URL.Query().Get("access")
	if access == "" {
		access = string(model.AccessPublic)
	}
	if access != string(model.AccessPublic) && access != string(model.AccessPrivate) && !model.IsPermissionPath(access) {
		writeError(w, apperror.Newf(apperror.CodeInvalidName, "invalid access mode %q", access))
		return
	}

	isOwner, err := h.isOwner(ctx, pod, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if permission.IsSystemPath(path) && !isOwner {
		writeError(w, apperror.New(apperror.CodeForbidden, "only the pod owner may create system streams"))
		return
	}

	if parentPath, _, ok := resolver.ForWrite(path); ok && parentPath != "" {
		parent, err := h.cfg.Streams.GetByPath(ctx, pod, parentPath)
		if err == nil {
			allowed, err := h.cfg.Perm.CanWrite(ctx, pod, parent, userID)
			if err != nil {
				writeError(w, err)
				return
			}
			if !allowed {
				writeError(w, apperror.New(apperror.CodeForbidden, "write access denied"))
				return
			}
		} else if appErr, ok := apperror.As(err); !ok || appErr.Code != apperror.CodeStreamNotFound {
			writeError(w, err)
			return
		}
	}

	// spec §4.9: stream_create is counted only when a new stream row is
	// inserted, never on append to an existing stream.
	if _, err := h.cfg.Streams.GetByPath(ctx, pod, path); err != nil {
		if appErr, ok := apperror.As(err); ok && appErr.Code == apperror.CodeStreamNotFound {
			if h.checkRateLimit(ctx, w, requestIdentifier(r, userID), ratelimit.ActionStreamCreate) {
				return
			}
		} else {
			writeError(w, err)
			return
		}
	}

	stream, err := h.cfg.Streams.GetOrCreate(ctx, pod, path, userID, access, isOwner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, streamResponse(stream))
}

func (h *handler) appendRecord(w http.ResponseWriter, r *http.Request, ctx context.Context, pod, path, userID string, body []byte) {
	streamPath, name, ok := resolver.ForWrite(path)
	if !ok {
		writeError(w, apperror.New(apperror.CodeInvalidName, "empty record path"))
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	isOwner, err := h.isOwner(ctx, pod, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	stream, err := h.cfg.Streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		if appErr, ok := apperror.As(err); ok && appErr.Code == apperror.CodeStreamNotFound {
			if h.checkRateLimit(ctx, w, requestIdentifier(r, userID), ratelimit.ActionStreamCreate) {
				return
			}
			stream, err = h.cfg.Streams.GetOrCreate(ctx, pod, streamPath, userID, string(model.AccessPublic), isOwner)
		}
		if err != nil {
			writeError(w, err)
			return
		}
	}

	allowed, err := h.cfg.Perm.CanWrite(ctx, pod, stream, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !allowed {
		writeError(w, apperror.New(apperror.CodeForbidden, "write access denied"))
		return
	}

	if stream.HasSchema {
		if err := validateSchema(stream, body, contentType, r.URL.Query().Get("validation")); err != nil {
			writeError(w, err)
			return
		}
	}

	rec, err := h.cfg.Records.Append(ctx, pod, streamPath, name, body, contentType, userID, captureHeaders(r.Header))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appendResponse(rec))
}

// validateSchema implements the `/.schema/<path>` feature named in spec
// §6: a stream with has_schema=true validates JSON writes against its
// stored document, in `strict` mode (rejecting the write) or
// `permissive` mode (logging and letting it through) per the
// `?validation=` query parameter. Non-JSON content types bypass
// validation entirely, since gojsonschema documents are JSON-only.
// Compiling through core/schema.NewSingleSchemaValidator keeps the
// $id-less single-document compile path in one place instead of
// duplicating gojsonschema plumbing here.
func validateSchema(stream model.Stream, body []byte, contentType, mode string) error {
	if mode == "" {
		mode = "permissive"
	}
	if !strings.Contains(contentType, "json") {
		return nil
	}

	validator, err := schema.NewSingleSchemaValidator(string(stream.SchemaDocument))
	if err != nil {
		return apperror.Wrap(apperror.CodeInvalidSchema, "schema validation error", err)
	}
	if err := validator.ValidateBytes(body); err == nil {
		return nil
	} else if mode == "strict" {
		return apperror.Wrap(apperror.CodeInvalidSchema, "schema validation failed", err)
	} else {
		logger.Default().Infoln("permissive schema validation failed for", stream.Pod, stream.Path, ":", err)
	}
	return nil
}

func (h *handler) handleSetOwner(w http.ResponseWriter, r *http.Request, ctx context.Context, pod, userID string) {
	isOwner, err := h.isOwner(ctx, pod, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !isOwner {
		writeError(w, apperror.New(apperror.CodeForbidden, "only the pod owner may transfer ownership"))
		return
	}

	var body struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil || body.Owner == "" {
		writeError(w, apperror.New(apperror.CodeInvalidName, "request body must be {\"owner\": \"<user id>\"}"))
		return
	}

	content, err := json.Marshal(map[string]string{"owner": body.Owner})
	if err != nil {
		writeError(w, apperror.Wrap(apperror.CodeInternalError, "encode owner record", err))
		return
	}
	if _, err := h.cfg.Records.Append(ctx, pod, ".config/owner", "owner", content, "application/json", userID, nil); err != nil {
		writeError(w, err)
		return
	}
	h.cfg.Perm.InvalidateOwner(pod)
	writeJSON(w, http.StatusOK, map[string]string{"owner": body.Owner})
}

func (h *handler) handleSetRouting(w http.ResponseWriter, r *http.Request, ctx context.Context, pod, userID string) {
	isOwner, err := h.isOwner(ctx, pod, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !isOwner {
		writeError(w, apperror.New(apperror.CodeForbidden, "only the pod owner may set the routing map"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, apperror.Wrap(apperror.CodeInternalError, "read request body", err))
		return
	}
	var routes map[string]string
	if err := json.Unmarshal(body, &routes); err != nil {
		writeError(w, apperror.New(apperror.CodeInvalidName, `request body must be {"<url-path>": "<stream>/<record>"}`))
		return
	}

	if _, err := h.cfg.Streams.GetOrCreate(ctx, pod, ".config/routing", userID, string(model.AccessPrivate), isOwner); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.cfg.Records.Append(ctx, pod, ".config/routing", "routing", body, "application/json", userID, nil); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routing": routes})
}

func (h *handler) handleSetSchema(w http.ResponseWriter, r *http.Request, ctx context.Context, pod, userID, streamPath string) {
	isOwner, err := h.isOwner(ctx, pod, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !isOwner {
		writeError(w, apperror.New(apperror.CodeForbidden, "only the pod owner may manage schemas"))
		return
	}

	document, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, apperror.Wrap(apperror.CodeInternalError, "read request body", err))
		return
	}
	if len(document) > 0 {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(document)); err != nil {
			writeError(w, apperror.Wrap(apperror.CodeInvalidSchema, "schema document does not compile", err))
			return
		}
	}

	streamPath = strings.Trim(streamPath, "/")
	if streamPath == "" {
		writeError(w, apperror.New(apperror.CodeInvalidName, "schema target stream path required"))
		return
	}
	if _, err := h.cfg.Streams.GetOrCreate(ctx, pod, streamPath, userID, string(model.AccessPublic), isOwner); err != nil {
		writeError(w, err)
		return
	}
	if err := h.cfg.Streams.SetSchema(ctx, pod, streamPath, document); err != nil {
		writeError(w, err)
		return
	}

	logger.FromContext(ctx).Debugln("schema updated for", pod, streamPath, "has_schema=", len(document) > 0)
	writeJSON(w, http.StatusOK, map[string]bool{"has_schema": len(document) > 0})
}

// captureHeaders stores request X-* headers on the record per spec §6
// ("X-* headers stored as headers map"), excluding the headers this
// layer itself manages on reads and rate-limit responses.
func captureHeaders(header http.Header) map[string]string {
	out := map[string]string{}
	for k := range header {
		lower := strings.ToLower(k)
		if !strings.HasPrefix(lower, "x-") {
			continue
		}
		if strings.HasPrefix(lower, "x-ratelimit") || lower == "x-request-id" {
			continue
		}
		out[k] = header.Get(k)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
