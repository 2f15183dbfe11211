package httpapi

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/webpods-org/webpods/internal/model"
)

// recordJSON is the wire shape for a record in list and append
// responses (spec §8 scenario 1's `{index, hash, previous_hash}`
// literal, extended with the rest of a record's public fields).
type recordJSON struct {
	Index        int64             `json:"index"`
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	ContentType  string            `json:"content_type"`
	Size         int64             `json:"size"`
	ContentHash  string            `json:"content_hash"`
	Hash         string            `json:"hash"`
	PreviousHash *string           `json:"previous_hash"`
	UserID       string            `json:"user_id"`
	Headers      map[string]string `json:"headers,omitempty"`
	CreatedAt    string            `json:"created_at"`
	Content      json.RawMessage   `json:"content,omitempty"`
}

func previousHashPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toRecordJSON(rec model.Record, includeContent bool, maxContentSize int) recordJSON {
	out := recordJSON{
		Index:        rec.Index,
		Name:         rec.Name,
		Path:         rec.Path,
		ContentType:  rec.ContentType,
		Size:         rec.Size,
		ContentHash:  rec.ContentHash,
		Hash:         rec.Hash,
		PreviousHash: previousHashPtr(rec.PreviousHash),
		UserID:       rec.UserID,
		Headers:      rec.Headers,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if includeContent && rec.Storage == "" && (maxContentSize < 0 || len(rec.Content) <= maxContentSize) {
		if strings.Contains(rec.ContentType, "json") && json.Valid(rec.Content) {
			out.Content = json.RawMessage(rec.Content)
		} else {
			encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString(rec.Content))
			out.Content = encoded
		}
	}
	return out
}

type listResponse struct {
	Records []recordJSON `json:"records"`
	Total   int64        `json:"total"`
	HasMore bool         `json:"has_more"`
}

func recordsListResponse(records []model.Record, total int64, hasMore, includeContent bool, maxContentSize int) listResponse {
	out := make([]recordJSON, len(records))
	for i, rec := range records {
		out[i] = toRecordJSON(rec, includeContent, maxContentSize)
	}
	return listResponse{Records: out, Total: total, HasMore: hasMore}
}

// appendResponse is the body returned from a successful POST append.
// Content is omitted: the client already has the bytes it just sent.
func appendResponse(rec model.Record) recordJSON {
	return toRecordJSON(rec, false, -1)
}

type streamJSON struct {
	Name             string `json:"name"`
	Path             string `json:"path"`
	AccessPermission string `json:"access_permission"`
	HasSchema        bool   `json:"has_schema"`
	CreatedAt        string `json:"created_at"`
}

func streamResponse(s model.Stream) streamJSON {
	return streamJSON{
		Name:             s.Name,
		Path:             s.Path,
		AccessPermission: s.AccessPermission,
		HasSchema:        s.HasSchema,
		CreatedAt:        s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// fieldsInclude reports whether the comma-separated `fields` query
// parameter names `want` (spec §6's `fields` query on GET list).
func fieldsInclude(fields, want string) bool {
	for _, f := range strings.Split(fields, ",") {
		if strings.TrimSpace(f) == want {
			return true
		}
	}
	return false
}
