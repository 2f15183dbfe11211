package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/webpods-org/webpods/internal/apperror"
	"github.com/webpods-org/webpods/internal/model"
	"github.com/webpods-org/webpods/internal/ratelimit"
	"github.com/webpods-org/webpods/internal/recordstore"
	"github.com/webpods-org/webpods/internal/resolver"
)

// handleGet implements the GET route (spec §6): read a named record's
// content, list a stream's records (optionally by index/range, unique,
// or recursive), or fetch a `/.schema/<path>` document.
func (h *handler) handleGet(w http.ResponseWriter, r *http.Request, pod string) {
	ctx := r.Context()
	path := strings.Trim(r.URL.Path, "/")

	userID, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if strings.HasPrefix(path, ".schema/") {
		h.handleGetSchema(w, r, pod, strings.TrimPrefix(path, ".schema/"))
		return
	}

	if h.checkRateLimit(ctx, w, requestIdentifier(r, userID), ratelimit.ActionRead) {
		return
	}

	q := r.URL.Query()
	result, err := resolver.Resolve(h.cfg.Streams, pod, path, q.Has("i"))
	if err != nil {
		writeError(w, err)
		return
	}

	switch result.Kind {
	case resolver.KindStream:
		h.getStream(w, r, ctx, pod, result.StreamPath, userID, q)
	case resolver.KindRecord:
		h.getRecord(w, r, ctx, pod, result.RecordStreamPath, result.RecordName, userID)
	default:
		writeError(w, apperror.New(apperror.CodeNotFound, "not found"))
	}
}

func (h *handler) getStream(w http.ResponseWriter, r *http.Request, ctx context.Context, pod, streamPath, userID string, q url.Values) {
	stream, err := h.cfg.Streams.GetByPath(ctx, pod, streamPath)
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

	if raw := q.Get("i"); raw != "" {
		h.getByIndexQuery(w, ctx, pod, streamPath, raw)
		return
	}

	maxContentSize := -1
	if v := q.Get("maxContentSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxContentSize = n
		}
	}
	includeContent := fieldsInclude(q.Get("fields"), "content")
	unique := q.Get("unique") == "true"

	if q.Get("recursive") == "true" {
		records, err := h.cfg.Records.ListRecursive(ctx, pod, streamPath, userID, unique)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recordsListResponse(records, int64(len(records)), false, includeContent, maxContentSize))
		return
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	after := int64(-1)
	if v := q.Get("after"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			after = n
		}
	}

	var records []model.Record
	var total int64
	var hasMore bool
	if unique {
		records, total, hasMore, err = h.cfg.Records.ListUnique(ctx, pod, streamPath, limit, after)
	} else {
		records, total, hasMore, err = h.cfg.Records.List(ctx, pod, streamPath, limit, after)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordsListResponse(records, total, hasMore, includeContent, maxContentSize))
}

// getByIndexQuery implements spec §6's `i=<n>` (single record) and
// `i=<a>:<b>` (range) query forms against a resolved stream.
func (h *handler) getByIndexQuery(w http.ResponseWriter, ctx context.Context, pod, streamPath, raw string) {
	single, start, end, err := recordstore.IndexQueryToRange(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	if single != nil {
		rec, err := h.cfg.Records.GetByIndex(ctx, pod, streamPath, *single, false)
		if err != nil {
			writeError(w, err)
			return
		}
		h.writeRecordContent(w, ctx, rec)
		return
	}
	records, err := h.cfg.Records.GetRange(ctx, pod, streamPath, *start, *end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordsListResponse(records, int64(len(records)), false, true, -1))
}

func (h *handler) getRecord(w http.ResponseWriter, r *http.Request, ctx context.Context, pod, streamPath, name, userID string) {
	stream, err := h.cfg.Streams.GetByPath(ctx, pod, streamPath)
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

	rec, err := h.cfg.Records.GetByName(ctx, pod, streamPath, name, false)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeRecordContent(w, ctx, rec)
}

// writeRecordContent writes the standard response headers (spec §6) and
// either the record's inline content or, for externally-stored content,
// a 302 redirect with ETag/Cache-Control/X-Record-Type.
func (h *handler) writeRecordContent(w http.ResponseWriter, ctx context.Context, rec model.Record) {
	setRecordHeaders(w, rec)

	if rec.Storage != "" {
		if h.cfg.Blob == nil {
			writeError(w, apperror.New(apperror.CodeInternalError, "external storage not configured"))
			return
		}
		url, err := h.cfg.Blob.GetFileURL(ctx, rec.Storage)
		if err != nil {
			writeError(w, apperror.Wrap(apperror.CodeInternalError, "resolve external storage url", err))
			return
		}
		w.Header().Set("ETag", `"`+rec.ContentHash+`"`)
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.Header().Set("X-Record-Type", "file")
		w.Header().Set("Location", url)
		w.WriteHeader(http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", rec.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Content)
}

func setRecordHeaders(w http.ResponseWriter, rec model.Record) {
	w.Header().Set("X-Content-Hash", rec.ContentHash)
	w.Header().Set("X-Hash", rec.Hash)
	if rec.PreviousHash != "" {
		w.Header().Set("X-Previous-Hash", rec.PreviousHash)
	}
	w.Header().Set("X-Author", rec.UserID)
	w.Header().Set("X-Timestamp", rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	for k, v := range rec.Headers {
		w.Header().Set(k, v)
	}
}

func (h *handler) handleGetSchema(w http.ResponseWriter, r *http.Request, pod, streamPath string) {
	stream, err := h.cfg.Streams.GetByPath(r.Context(), pod, strings.Trim(streamPath, "/"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !stream.HasSchema {
		writeError(w, apperror.New(apperror.CodeNotFound, "no schema set for this stream"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(stream.SchemaDocument)
}
