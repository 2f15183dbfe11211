package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/webpods-org/webpods/internal/apperror"
	"github.com/webpods-org/webpods/internal/ratelimit"
	"github.com/webpods-org/webpods/internal/resolver"
)

// handleDelete implements the DELETE route (spec §6): soft- or hard-delete
// a record, or remove a whole stream (owner-only, recursive).
func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request, pod string) {
	ctx := r.Context()
	path := strings.Trim(r.URL.Path, "/")

	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if userID == "" {
		writeError(w, apperror.New(apperror.CodeMissingToken, "authentication required to delete"))
		return
	}
	if h.checkRateLimit(ctx, w, requestIdentifier(r, userID), ratelimit.ActionWrite) {
		return
	}

	isOwner, err := h.isOwner(ctx, pod, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := resolver.Resolve(h.cfg.Streams, pod, path, false)
	if err != nil {
		writeError(w, err)
		return
	}

	switch result.Kind {
	case resolver.KindStream:
		if !isOwner {
			writeError(w, apperror.New(apperror.CodeForbidden, "only the pod owner may delete a stream"))
			return
		}
		if err := h.cfg.Streams.Delete(ctx, pod, result.StreamPath); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case resolver.KindRecord:
		purge := r.URL.Query().Get("purge") == "true"
		if err := h.cfg.Records.Delete(ctx, pod, result.RecordStreamPath, result.RecordName, purge, userID, isOwner); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, apperror.New(apperror.CodeNotFound, "not found"))
	}
}

// handleHead implements the HEAD route (spec §6): stream metadata headers
// without a body — X-Total-Records, X-Last-Modified, X-Hash (the tail
// record's hash).
func (h *handler) handleHead(w http.ResponseWriter, r *http.Request, pod string) {
	ctx := r.Context()
	path := strings.Trim(r.URL.Path, "/")

	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	stream, err := h.cfg.Streams.GetByPath(ctx, pod, path)
	if err != nil {
		writeError(w, err)
		return
	}
	allowed, err := h.cfg.Perm.CanRead(ctx, pod, stream, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !allowed {
		writeError(w, apperror.New(apperror.CodeForbidden, "read access denied"))
		return
	}

	_, total, _, err := h.cfg.Records.List(ctx, pod, path, 1, -1)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("X-Total-Records", strconv.FormatInt(total, 10))
	if total > 0 {
		tail, err := h.cfg.Records.GetByIndex(ctx, pod, path, total-1, true)
		if err == nil {
			w.Header().Set("X-Last-Modified", tail.CreatedAt.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"))
			w.Header().Set("X-Hash", tail.Hash)
		}
	}
	w.WriteHeader(http.StatusOK)
}
