// Package streamstore manages the stream tree: creation (lazily,
// segment-by-segment), lookup by id or path, child listing, and
// recursive deletion (spec §4.2). It follows the teacher's collection
// package in keeping all creation of a request's intermediate rows in
// one transaction and pushing cache invalidation to the caller's
// transaction boundary.
package streamstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/internal/apperror"
	"github.com/webpods-org/webpods/internal/cache"
	"github.com/webpods-org/webpods/internal/model"
)

// Store persists and caches streams.
type Store struct {
	db     *csql.DB
	caches *cache.Hierarchy
}

// New creates a stream store.
func New(db *csql.DB, caches *cache.Hierarchy) *Store {
	return &Store{db: db, caches: caches}
}

// streamPrefix is the "pod:P:stream:{path}" prefix shared by a stream's
// own cache entry and every single-record/record-list key nested under
// it (spec §4.7's key-shape table), so that one InvalidatePrefix call
// clears the whole subtree.
func streamPrefix(pod, path string) string {
	return StreamPrefix(pod, path)
}

// StreamPrefix is the exported form of the shared cache-key prefix, used
// by recordstore to key single-record and record-list cache entries
// under the same tree as the owning stream's own entry.
func StreamPrefix(pod, path string) string {
	return fmt.Sprintf("pod:%s:stream:%s", pod, path)
}

func streamCacheKey(pod, path string) string {
	return streamPrefix(pod, path) + ":meta"
}

func streamsListCacheKey(pod string) string {
	return fmt.Sprintf("pod:%s:streams", pod)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLikeLiteral escapes s's own "\", "%", and "_" so it can be used
// as a literal (non-wildcard) fragment of a `LIKE ... ESCAPE '\'`
// pattern. Stream and record names may legally contain "_"
// (model.ValidStreamName allows it), and an un-escaped "_" in a LIKE
// pattern matches any single character, so building a pattern directly
// from a name would let it over-match an unrelated sibling.
func EscapeLikeLiteral(s string) string {
	return likeEscaper.Replace(s)
}

// LikeDescendantPattern builds the `<prefix>/%` pattern for a `path LIKE
// $n ESCAPE '\'` descendant match, escaping prefix's own LIKE
// metacharacters first. Exported so recordstore's subtree queries build
// the same pattern.
func LikeDescendantPattern(prefix string) string {
	return EscapeLikeLiteral(prefix) + `/%`
}

// StreamColumns is the column list every SELECT against the stream table
// uses, shared with recordstore's subtree traversal so both packages
// scan exactly the same row shape.
const StreamColumns = `id, pod, name, parent_id, path, user_id, access_permission, has_schema, schema_document, metadata, created_at`

// ScanStream scans one StreamColumns-shaped row. Exported so recordstore
// can reuse it for its own subtree queries without duplicating the scan.
func ScanStream(row interface{ Scan(dest ...interface{}) error }) (model.Stream, error) {
	var st model.Stream
	var parentID sql.NullInt64
	var schemaDoc []byte
	var metadata []byte
	err := row.Scan(&st.ID, &st.Pod, &st.Name, &parentID, &st.Path, &st.UserID,
		&st.AccessPermission, &st.HasSchema, &schemaDoc, &metadata, &st.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Stream{}, apperror.New(apperror.CodeStreamNotFound, "stream not found")
		}
		return model.Stream{}, apperror.Wrap(apperror.CodeDatabaseError, "lookup stream", err)
	}
	if parentID.Valid {
		id := parentID.Int64
		st.ParentID = &id
	}
	st.SchemaDocument = schemaDoc
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &st.Metadata)
	}
	return st, nil
}

// GetByPath returns the stream at pod/path, or CodeStreamNotFound.
func (s *Store) GetByPath(ctx context.Context, pod, path string) (model.Stream, error) {
	path = strings.Trim(path, "/")
	if cached, ok := s.caches.Streams.Get(streamCacheKey(pod, path)); ok {
		return cached.(model.Stream), nil
	}
	stream, err := s.queryOne(ctx, s.db, `pod=$1 AND path=$2`, pod, path)
	if err != nil {
		return model.Stream{}, err
	}
	s.caches.Streams.Set(streamCacheKey(pod, path), stream, 1)
	return stream, nil
}

// LookupByPath implements resolver.StreamLookup.
func (s *Store) LookupByPath(pod, path string) (int64, bool, error) {
	stream, err := s.GetByPath(context.Background(), pod, path)
	if err != nil {
		if appErr, ok := apperror.As(err); ok && appErr.Code == apperror.CodeStreamNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return stream.ID, true, nil
}

// GetByID returns the stream with the given id, or CodeStreamNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (model.Stream, error) {
	return s.queryOne(ctx, s.db, `id=$1`, id)
}

func (s *Store) queryOne(ctx context.Context, q querier, where string, args ...interface{}) (model.Stream, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+StreamColumns+`
		FROM `+s.db.Schema+`.stream WHERE `+where+` AND deleted_at IS NULL;`, args...)
	return ScanStream(row)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// GetOrCreate resolves path segment by segment under pod, creating
// missing intermediate streams in one transaction (spec §4.2). Every
// created intermediate segment gets access_permission "public"; only the
// terminal segment receives the caller-supplied accessPermission. System
// streams (leading ".") may only be created when creator is the pod
// owner, which the caller (the HTTP handlers' owner check) must have
// already verified — this function trusts isOwner as passed in.
func (s *Store) GetOrCreate(ctx context.Context, pod, path, creator, accessPermission string, isOwner bool) (model.Stream, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return model.Stream{}, apperror.New(apperror.CodeInvalidName, "empty stream path")
	}
	segments := strings.Split(path, "/")
	for _, seg := range segments {
		if !model.ValidStreamName(seg) {
			return model.Stream{}, apperror.Newf(apperror.CodeInvalidName, "invalid stream segment %q", seg)
		}
		if seg[0] == '.' && !isOwner {
			return model.Stream{}, apperror.New(apperror.CodeForbidden, "only the pod owner may create system streams")
		}
	}

	if existing, err := s.GetByPath(ctx, pod, path); err == nil {
		return existing, nil
	} else if appErr, ok := apperror.As(err); !ok || appErr.Code != apperror.CodeStreamNotFound {
		return model.Stream{}, err
	}

	var result model.Stream
	err := s.db.WithStreamLock(ctx, "streamtree:"+pod, func(tx *sql.Tx) error {
		var parentID *int64
		var parentPath string
		for i, seg := range segments {
			segPath := seg
			if parentPath != "" {
				segPath = parentPath + "/" + seg
			}
			accessPerm := "public"
			if i == len(segments)-1 {
				accessPerm = accessPermission
			}

			existing, err := s.queryOne(ctx, tx, `pod=$1 AND path=$2`, pod, segPath)
			if err == nil {
				result = existing
				parentID = &existing.ID
				parentPath = segPath
				continue
			}
			if appErr, ok := apperror.As(err); !ok || appErr.Code != apperror.CodeStreamNotFound {
				return err
			}

			if conflict, err := recordNameConflicts(ctx, tx, s.db.Schema, parentID, seg); err != nil {
				return err
			} else if conflict {
				return apperror.Newf(apperror.CodeNameConflict, "record named %q already exists at this level", seg)
			}

			created, err := insertStream(ctx, tx, s.db.Schema, pod, seg, segPath, parentID, creator, accessPerm)
			if err != nil {
				return err
			}
			result = created
			parentID = &created.ID
			parentPath = segPath
		}
		return nil
	})
	if err != nil {
		return model.Stream{}, err
	}

	s.caches.Streams.Set(streamCacheKey(pod, path), result, 1)
	s.caches.Streams.Invalidate(streamsListCacheKey(pod))
	return result, nil
}

func recordNameConflicts(ctx context.Context, tx *sql.Tx, schema string, parentStreamID *int64, name string) (bool, error) {
	if parentStreamID == nil {
		return false, nil
	}
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM `+schema+`.record WHERE stream_id=$1 AND name=$2;`,
		*parentStreamID, name).Scan(&count)
	if err != nil {
		return false, apperror.Wrap(apperror.CodeDatabaseError, "check name conflict", err)
	}
	return count > 0, nil
}

func insertStream(ctx context.Context, tx *sql.Tx, schema, pod, name, path string, parentID *int64, creator, accessPermission string) (model.Stream, error) {
	row := tx.QueryRowContext(ctx,
		`INSERT INTO `+schema+`.stream(pod, parent_id, name, path, user_id, access_permission)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+StreamColumns+`;`,
		pod, parentID, name, path, creator, accessPermission)
	return ScanStream(row)
}

// ListChildren returns the direct children of parentID (or the pod's
// root streams if parentID is nil), in insertion order (spec §4.2).
func (s *Store) ListChildren(ctx context.Context, pod string, parentID *int64) ([]model.Stream, error) {
	var rows *sql.Rows
	var err error
	if parentID == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+StreamColumns+`
			FROM `+s.db.Schema+`.stream WHERE pod=$1 AND parent_id IS NULL AND deleted_at IS NULL ORDER BY id;`, pod)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+StreamColumns+`
			FROM `+s.db.Schema+`.stream WHERE pod=$1 AND parent_id=$2 AND deleted_at IS NULL ORDER BY id;`, pod, *parentID)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeDatabaseError, "list children", err)
	}
	defer rows.Close()

	var out []model.Stream
	for rows.Next() {
		st, err := ScanStream(rows)
		if err != nil {
			return nil, apperror.Wrap(apperror.CodeDatabaseError, "scan child stream", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SetSchema sets or clears the JSON Schema document attached to the
// stream at path (spec §6 `/.schema/<stream-path>`). An empty document
// clears has_schema, letting writes to the target stream bypass
// validation again.
func (s *Store) SetSchema(ctx context.Context, pod, path string, document []byte) error {
	path = strings.Trim(path, "/")
	stream, err := s.GetByPath(ctx, pod, path)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE `+s.db.Schema+`.stream SET has_schema=$1, schema_document=$2 WHERE id=$3;`,
		len(document) > 0, nullableJSON(document), stream.ID)
	if err != nil {
		return apperror.Wrap(apperror.CodeDatabaseError, "set stream schema", err)
	}
	s.caches.Streams.Invalidate(streamCacheKey(pod, path))
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Delete recursively soft-deletes path and every descendant stream
// (spec §4.2). System streams under /.config and /.permissions cannot
// be deleted. The caller must have already verified that caller is the
// pod owner.
func (s *Store) Delete(ctx context.Context, pod, path string) error {
	path = strings.Trim(path, "/")
	if strings.HasPrefix(path, ".config") || strings.HasPrefix(path, ".permissions") {
		return apperror.New(apperror.CodeForbidden, "system streams cannot be deleted")
	}

	if _, err := s.GetByPath(ctx, pod, path); err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx,
		`UPDATE `+s.db.Schema+`.stream SET deleted_at = now()
		 WHERE pod=$1 AND (path=$2 OR path LIKE $3 ESCAPE '\') AND deleted_at IS NULL
		 RETURNING path;`,
		pod, path, LikeDescendantPattern(path))
	if err != nil {
		return apperror.Wrap(apperror.CodeDatabaseError, "delete stream subtree", err)
	}
	var deleted []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return apperror.Wrap(apperror.CodeDatabaseError, "delete stream subtree", err)
		}
		deleted = append(deleted, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperror.Wrap(apperror.CodeDatabaseError, "delete stream subtree", err)
	}

	// Cache keys nest a stream's whole path in one key segment, so each
	// deleted descendant's entries are invalidated under its own prefix.
	for _, p := range deleted {
		s.caches.InvalidateStream(streamPrefix(pod, p))
	}
	s.caches.Streams.Invalidate(streamsListCacheKey(pod))
	return nil
}
