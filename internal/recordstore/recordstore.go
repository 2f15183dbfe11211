// Package recordstore is the Record Store (spec §4.3-§4.5): appends
// records under strict per-stream ordering, computes the SHA-256 hash
// chain, offloads large content to the External Storage Adapter, serves
// named/indexed/ranged/listed reads, and performs soft/hard delete and
// hash-chain verification. It follows the teacher's collection package
// in doing the whole append inside one `csql.WithStreamLock` transaction
// and pushing cache invalidation to the caller's transaction boundary.
package recordstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
	"github.com/webpods-org/webpods/internal/apperror"
	"github.com/webpods-org/webpods/internal/blobstore"
	"github.com/webpods-org/webpods/internal/cache"
	"github.com/webpods-org/webpods/internal/hashchain"
	"github.com/webpods-org/webpods/internal/model"
	"github.com/webpods-org/webpods/internal/permission"
	"github.com/webpods-org/webpods/internal/streamstore"
)

// CacheLimits are the per-pool admission thresholds from spec §4.7's pool
// table ("skip if record > 10 KiB", "skip if result > 100 KiB or > 1000
// records"). A zero-value CacheLimits uses those defaults.
type CacheLimits struct {
	MaxSingleRecordBytes int
	MaxListBytes         int
	MaxListRecords        int
}

func (l CacheLimits) withDefaults() CacheLimits {
	if l.MaxSingleRecordBytes <= 0 {
		l.MaxSingleRecordBytes = 10 * 1024
	}
	if l.MaxListBytes <= 0 {
		l.MaxListBytes = 100 * 1024
	}
	if l.MaxListRecords <= 0 {
		l.MaxListRecords = 1000
	}
	return l
}

type cachedList struct {
	Records []model.Record
	Total   int64
	HasMore bool
}

// Notifier publishes a change-notification event after a record commits
// (spec's DOMAIN STACK: an optional Kafka outbox). NotifyAppend is best
// effort; a Store never fails an append because a notifier failed.
type Notifier interface {
	NotifyAppend(ctx context.Context, pod, streamPath string, index int64, hash string) error
}

// Store persists, offloads, and caches records.
type Store struct {
	db              *csql.DB
	caches          *cache.Hierarchy
	streams         *streamstore.Store
	perm            *permission.Engine
	blob            blobstore.Driver
	minExternalSize int64
	notifier        Notifier
	limits          CacheLimits
}

// New creates a record store. perm may be nil and wired in afterward via
// SetPermissionEngine — the permission Engine needs a Store as its
// RecordReader, so the two are built in two steps to break the cycle
// (cmd/webpodsd wires them this way; see recordstore_test.go's harness).
// blob and notifier may be nil, disabling external storage offload and
// change notification respectively.
func New(db *csql.DB, caches *cache.Hierarchy, streams *streamstore.Store, perm *permission.Engine, blob blobstore.Driver, minExternalSize int64, notifier Notifier, limits CacheLimits) *Store {
	return &Store{
		db:              db,
		caches:          caches,
		streams:         streams,
		perm:            perm,
		blob:            blob,
		minExternalSize: minExternalSize,
		notifier:        notifier,
		limits:          limits.withDefaults(),
	}
}

// SetPermissionEngine wires the permission engine in after construction,
// once it has been built from this same Store as its RecordReader.
func (s *Store) SetPermissionEngine(perm *permission.Engine) {
	s.perm = perm
}

func singleRecordCacheKey(pod, streamPath, name string) string {
	return streamstore.StreamPrefix(pod, streamPath) + ":record:" + name + ":data"
}

func listCacheKey(pod, streamPath, queryFingerprint string) string {
	return streamstore.StreamPrefix(pod, streamPath) + ":list:" + queryFingerprint
}

// listFingerprint implements the "list:{sha256(query)[:16]}" key shape
// from spec §4.7's pool table.
func listFingerprint(limit int, after int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("limit=%d&after=%d", limit, after)))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalBytes returns the bytes append() hashes and persists, per spec
// §4.3 step 4: re-serialized JSON for application/json, decoded bytes for
// binary content types (assumed base64 on the wire), raw bytes otherwise.
// Malformed content is never rejected here — it is hashed and stored as
// given; strict validation is the Meta-Stream Handler's `.schema` feature,
// not the Record Store's job.
func canonicalBytes(content []byte, contentType string) []byte {
	switch {
	case contentType == "application/json" || strings.HasSuffix(contentType, "+json"):
		var v interface{}
		if err := json.Unmarshal(content, &v); err != nil {
			return content
		}
		canon, err := json.Marshal(v)
		if err != nil {
			return content
		}
		return canon
	case model.IsBinaryContentType(contentType):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(content)))
		if err != nil {
			return content
		}
		return decoded
	default:
		return content
	}
}

func extensionForContentType(contentType, name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 && i < len(name)-1 {
		return name[i:]
	}
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	case "application/zip":
		return ".zip"
	default:
		return ""
	}
}

// isoTimestamp formats t the way hash inputs and response headers both
// use (spec §3 "created_at_iso"). Append passes a time already truncated
// to microsecond precision by truncateToStorage, so the same string is
// reproduced after a postgres timestamptz round-trip (postgres's native
// resolution), keeping verify (§4.5) stable.
func isoTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func truncateToStorage(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Append implements spec §4.3: assigns the next dense index, computes the
// hash chain, optionally offloads content to external storage, and
// invalidates the stream's cache subtree on commit.
func (s *Store) Append(ctx context.Context, pod, streamPath, name string, content []byte, contentType, author string, headers map[string]string) (model.Record, error) {
	if !model.ValidRecordName(name) {
		return model.Record{}, apperror.Newf(apperror.CodeInvalidName, "invalid record name %q", name)
	}
	streamPath = strings.Trim(streamPath, "/")

	stream, err := s.streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		return model.Record{}, err
	}

	// spec §8 scenario 4 requires a record to be appendable under a name
	// that collides with an existing child stream: the path resolver
	// (§4.1) tries the full path as a stream first, so the stream simply
	// shadows the record for reads until it is deleted. Conflict
	// checking (§4.2) runs the other direction only, when a *stream* is
	// created under a name an existing record already uses.
	canon := canonicalBytes(content, contentType)
	contentHash := hashchain.ContentHash(canon)
	createdAt := truncateToStorage(time.Now())
	createdAtISO := isoTimestamp(createdAt)

	storedContent := canon
	storageLocator := ""
	if s.blob != nil && int64(len(canon)) >= s.minExternalSize && s.minExternalSize > 0 {
		ext := extensionForContentType(contentType, name)
		locator, blobErr := s.blob.StoreFile(ctx, pod, streamPath, name, contentHash, canon, ext)
		if blobErr != nil {
			logger.FromContext(ctx).Infoln("external storage upload failed, falling back to inline:", blobErr)
		} else {
			storageLocator = locator
			storedContent = nil
		}
	}

	var record model.Record
	err = s.db.WithStreamLock(ctx, fmt.Sprintf("stream:%d", stream.ID), func(tx *sql.Tx) error {
		tailIndex, tailHash, err := tailOf(ctx, tx, s.db.Schema, stream.ID)
		if err != nil {
			return err
		}

		index := tailIndex + 1
		hash := hashchain.RecordHash(tailHash, contentHash, author, createdAtISO)

		headersJSON, err := json.Marshal(headers)
		if err != nil {
			return apperror.Wrap(apperror.CodeInternalError, "encode headers", err)
		}

		var id int64
		row := tx.QueryRowContext(ctx, `
			INSERT INTO `+s.db.Schema+`.record
				(stream_id, index, name, content, content_type, size, content_hash, hash, previous_hash,
				 user_id, headers, storage_locator, deleted, purged, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false,false,$13)
			RETURNING id;`,
			stream.ID, index, name, nullableBytes(storedContent), contentType, len(canon), contentHash, hash, tailHash,
			author, headersJSON, nullableString(storageLocator), createdAt)
		if err := row.Scan(&id); err != nil {
			return apperror.Wrap(apperror.CodeDatabaseError, "insert record", err)
		}

		record = model.Record{
			ID: id, StreamID: stream.ID, Index: index, Name: name, Path: stream.Path + "/" + name,
			Content: storedContent, ContentType: contentType, Size: int64(len(canon)),
			ContentHash: contentHash, Hash: hash, PreviousHash: tailHash, UserID: author,
			Headers: headers, Storage: storageLocator, CreatedAt: createdAt,
		}
		return nil
	})
	if err != nil {
		return model.Record{}, err
	}

	s.caches.InvalidateStream(streamstore.StreamPrefix(pod, streamPath))

	if s.notifier != nil {
		if notifyErr := s.notifier.NotifyAppend(ctx, pod, streamPath, record.Index, record.Hash); notifyErr != nil {
			logger.FromContext(ctx).Infoln("change notification failed:", notifyErr)
		}
	}

	return record, nil
}

func tailOf(ctx context.Context, tx *sql.Tx, schema string, streamID int64) (int64, string, error) {
	var index int64
	var hash string
	err := tx.QueryRowContext(ctx,
		`SELECT index, hash FROM `+schema+`.record WHERE stream_id=$1 ORDER BY index DESC LIMIT 1;`, streamID).
		Scan(&index, &hash)
	if err == sql.ErrNoRows {
		return -1, "", nil
	}
	if err != nil {
		return 0, "", apperror.Wrap(apperror.CodeDatabaseError, "read tail record", err)
	}
	return index, hash, nil
}

func nullableBytes(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// recordColumns is shared by every SELECT that scans a full record row.
const recordColumns = `id, stream_id, index, name, content, content_type, size, content_hash, hash,
	previous_hash, user_id, headers, storage_locator, deleted, purged, created_at`

func scanRecord(row interface{ Scan(dest ...interface{}) error }) (model.Record, error) {
	var r model.Record
	var content []byte
	var headersJSON []byte
	var storage sql.NullString
	err := row.Scan(&r.ID, &r.StreamID, &r.Index, &r.Name, &content, &r.ContentType, &r.Size,
		&r.ContentHash, &r.Hash, &r.PreviousHash, &r.UserID, &headersJSON, &storage, &r.Deleted, &r.Purged, &r.CreatedAt)
	if err != nil {
		return model.Record{}, err
	}
	r.Content = content
	if storage.Valid {
		r.Storage = storage.String
	}
	if len(headersJSON) > 0 {
		_ = json.Unmarshal(headersJSON, &r.Headers)
	}
	return r, nil
}

func (s *Store) latestByName(ctx context.Context, streamID int64, name string) (model.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM `+s.db.Schema+`.record
		WHERE stream_id=$1 AND name=$2 ORDER BY index DESC LIMIT 1;`, streamID, name)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, apperror.Wrap(apperror.CodeDatabaseError, "lookup record by name", err)
	}
	return rec, true, nil
}

// tombstonedAfter reports whether a tombstone for originalName exists at
// an index greater than afterIndex (spec §4.4 getByName/getByIndex).
func (s *Store) tombstonedAfter(ctx context.Context, streamID int64, originalName string, afterIndex int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM `+s.db.Schema+`.record
		WHERE stream_id=$1 AND index>$2 AND name LIKE $3 ESCAPE '\';`,
		streamID, afterIndex, streamstore.EscapeLikeLiteral(originalName)+".deleted.%").Scan(&count)
	if err != nil {
		return false, apperror.Wrap(apperror.CodeDatabaseError, "check tombstone", err)
	}
	return count > 0, nil
}

// GetLatestByName implements permission.RecordReader: the small,
// inline-stored owner/grant records the permission engine reads. It does
// not apply the tombstone-visibility rule getByName does — ownership and
// grant streams are not deleted from in normal operation.
func (s *Store) GetLatestByName(ctx context.Context, pod, streamPath, name string) ([]byte, bool, error) {
	stream, err := s.streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		if appErr, ok := apperror.As(err); ok && appErr.Code == apperror.CodeStreamNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	rec, found, err := s.latestByName(ctx, stream.ID, name)
	if err != nil || !found {
		return nil, found, err
	}
	if rec.Storage != "" {
		return nil, false, apperror.New(apperror.CodeInternalError, "owner/grant record unexpectedly stored externally")
	}
	return rec.Content, true, nil
}

// GetByName implements spec §4.4's getByName, consulting and populating
// the singleRecords cache pool (spec §4.7) for the common
// includeDeleted=false case.
func (s *Store) GetByName(ctx context.Context, pod, streamPath, name string, includeDeleted bool) (model.Record, error) {
	streamPath = strings.Trim(streamPath, "/")
	key := singleRecordCacheKey(pod, streamPath, name)
	if !includeDeleted {
		if cached, ok := s.caches.SingleRecords.Get(key); ok {
			return cached.(model.Record), nil
		}
	}

	stream, err := s.streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		return model.Record{}, err
	}
	rec, found, err := s.latestByName(ctx, stream.ID, name)
	if err != nil {
		return model.Record{}, err
	}
	if !found {
		return model.Record{}, apperror.New(apperror.CodeRecordNotFound, "record not found")
	}
	if !includeDeleted {
		deleted, err := s.tombstonedAfter(ctx, stream.ID, name, rec.Index)
		if err != nil {
			return model.Record{}, err
		}
		if deleted {
			return model.Record{}, apperror.New(apperror.CodeRecordDeleted, "record was deleted")
		}
	}
	rec.Path = stream.Path + "/" + rec.Name

	if !includeDeleted && len(rec.Content) <= s.limits.MaxSingleRecordBytes {
		s.caches.SingleRecords.Set(key, rec, len(rec.Content))
	}
	return rec, nil
}

func (s *Store) countRecords(ctx context.Context, streamID int64) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+s.db.Schema+`.record WHERE stream_id=$1;`, streamID).Scan(&total)
	if err != nil {
		return 0, apperror.Wrap(apperror.CodeDatabaseError, "count records", err)
	}
	return total, nil
}

// GetByIndex implements spec §4.4's getByIndex, including Python-style
// negative index resolution.
func (s *Store) GetByIndex(ctx context.Context, pod, streamPath string, index int64, includeDeleted bool) (model.Record, error) {
	streamPath = strings.Trim(streamPath, "/")
	stream, err := s.streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		return model.Record{}, err
	}
	total, err := s.countRecords(ctx, stream.ID)
	if err != nil {
		return model.Record{}, err
	}
	if index < 0 {
		index = total + index
	}
	if index < 0 || index >= total {
		return model.Record{}, apperror.Newf(apperror.CodeInvalidIndex, "index out of range")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM `+s.db.Schema+`.record WHERE stream_id=$1 AND index=$2;`, stream.ID, index)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return model.Record{}, apperror.New(apperror.CodeRecordNotFound, "record not found")
	}
	if err != nil {
		return model.Record{}, apperror.Wrap(apperror.CodeDatabaseError, "lookup record by index", err)
	}
	if !includeDeleted {
		deleted, err := s.tombstonedAfter(ctx, stream.ID, rec.Name, rec.Index)
		if err != nil {
			return model.Record{}, err
		}
		if deleted {
			return model.Record{}, apperror.New(apperror.CodeRecordDeleted, "record was deleted")
		}
	}
	rec.Path = stream.Path + "/" + rec.Name
	return rec, nil
}

// GetRange implements spec §4.4's getRange: half-open [start, end),
// Python-style negatives.
func (s *Store) GetRange(ctx context.Context, pod, streamPath string, start, end int64) ([]model.Record, error) {
	streamPath = strings.Trim(streamPath, "/")
	stream, err := s.streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		return nil, err
	}
	total, err := s.countRecords(ctx, stream.ID)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start = total + start
	}
	if end < 0 {
		end = total + end
	}
	if start > end {
		return nil, apperror.New(apperror.CodeInvalidRange, "start must not exceed end")
	}
	if start < 0 {
		start = 0
	}
	if end > total {
		end = total
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM `+s.db.Schema+`.record
		WHERE stream_id=$1 AND index>=$2 AND index<$3 ORDER BY index;`, stream.ID, start, end)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeDatabaseError, "range query", err)
	}
	defer rows.Close()
	return scanAll(rows, stream.Path)
}

func scanAll(rows *sql.Rows, streamPath string) ([]model.Record, error) {
	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperror.Wrap(apperror.CodeDatabaseError, "scan record", err)
		}
		rec.Path = streamPath + "/" + rec.Name
		out = append(out, rec)
	}
	return out, rows.Err()
}

// List implements spec §4.4's list: a contiguous window keyed by index,
// after-cursor exclusive. Results are cached in the recordLists pool
// (spec §4.7) keyed by a fingerprint of the query.
func (s *Store) List(ctx context.Context, pod, streamPath string, limit int, after int64) (records []model.Record, total int64, hasMore bool, err error) {
	streamPath = strings.Trim(streamPath, "/")
	key := listCacheKey(pod, streamPath, listFingerprint(limit, after))
	if cached, ok := s.caches.RecordLists.Get(key); ok {
		c := cached.(cachedList)
		return c.Records, c.Total, c.HasMore, nil
	}

	stream, err := s.streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		return nil, 0, false, err
	}
	total, err = s.countRecords(ctx, stream.ID)
	if err != nil {
		return nil, 0, false, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM `+s.db.Schema+`.record
		WHERE stream_id=$1 AND index>$2 ORDER BY index LIMIT $3;`, stream.ID, after, limit+1)
	if err != nil {
		return nil, 0, false, apperror.Wrap(apperror.CodeDatabaseError, "list records", err)
	}
	defer rows.Close()
	records, err = scanAll(rows, stream.Path)
	if err != nil {
		return nil, 0, false, err
	}
	if len(records) > limit {
		records = records[:limit]
		hasMore = true
	}

	if size := approxListSize(records); len(records) <= s.limits.MaxListRecords && size <= s.limits.MaxListBytes {
		s.caches.RecordLists.Set(key, cachedList{Records: records, Total: total, HasMore: hasMore}, size)
	}
	return records, total, hasMore, nil
}

func approxListSize(records []model.Record) int {
	size := 0
	for _, r := range records {
		size += len(r.Content)
	}
	return size
}

// ListUnique implements spec §4.4's listUnique: latest-wins per distinct
// name, windowed the same way List is.
func (s *Store) ListUnique(ctx context.Context, pod, streamPath string, limit int, after int64) (records []model.Record, total int64, hasMore bool, err error) {
	streamPath = strings.Trim(streamPath, "/")
	stream, err := s.streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		return nil, 0, false, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (name) `+recordColumns+` FROM `+s.db.Schema+`.record
		WHERE stream_id=$1 ORDER BY name, index DESC;`, stream.ID)
	if err != nil {
		return nil, 0, false, apperror.Wrap(apperror.CodeDatabaseError, "list unique records", err)
	}
	defer rows.Close()
	all, err := scanAll(rows, stream.Path)
	if err != nil {
		return nil, 0, false, err
	}

	sortByIndex(all)
	total = int64(len(all))

	var windowed []model.Record
	for _, rec := range all {
		if rec.Index > after {
			windowed = append(windowed, rec)
		}
	}
	if len(windowed) > limit {
		windowed = windowed[:limit]
		hasMore = true
	}
	return windowed, total, hasMore, nil
}

func sortByIndex(records []model.Record) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].Index < records[j-1].Index; j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

// ListRecursive traverses the stream subtree rooted at streamPath by
// `stream.path` prefix (spec §4.4), listing each stream as List does, or
// as ListUnique does when unique is set. It applies perm.CanRead per
// stream and prunes entire inaccessible subtrees rather than merely
// filtering their records.
func (s *Store) ListRecursive(ctx context.Context, pod, streamPath, userID string, unique bool) ([]model.Record, error) {
	streamPath = strings.Trim(streamPath, "/")
	streams, err := s.subtreeStreams(ctx, pod, streamPath)
	if err != nil {
		return nil, err
	}

	var out []model.Record
	var deniedPrefixes []string
	for _, st := range streams {
		pruned := false
		for _, denied := range deniedPrefixes {
			if strings.HasPrefix(st.Path, denied+"/") {
				pruned = true
				break
			}
		}
		if pruned {
			continue
		}
		allowed, err := s.perm.CanRead(ctx, pod, st, userID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			deniedPrefixes = append(deniedPrefixes, st.Path)
			continue
		}

		var recs []model.Record
		if unique {
			recs, _, _, err = s.ListUnique(ctx, pod, st.Path, 1<<30, -1)
		} else {
			recs, _, _, err = s.List(ctx, pod, st.Path, 1<<30, -1)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (s *Store) subtreeStreams(ctx context.Context, pod, streamPath string) ([]model.Stream, error) {
	root, err := s.streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+streamstore.StreamColumns+`
		FROM `+s.db.Schema+`.stream
		WHERE pod=$1 AND (path=$2 OR path LIKE $3 ESCAPE '\') AND deleted_at IS NULL ORDER BY path;`,
		pod, streamPath, streamstore.LikeDescendantPattern(streamPath))
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeDatabaseError, "list subtree streams", err)
	}
	defer rows.Close()

	var out []model.Stream
	for rows.Next() {
		st, err := streamstore.ScanStream(rows)
		if err != nil {
			return nil, apperror.Wrap(apperror.CodeDatabaseError, "scan subtree stream", err)
		}
		out = append(out, st)
	}
	_ = root
	return out, rows.Err()
}

// Delete implements spec §4.4's delete: soft appends a tombstone;
// hard (purge) additionally wipes the original record's content while
// preserving its hash and content_hash. isOwner must already have been
// verified by the caller (mirrors streamstore.GetOrCreate's trust
// contract) since deletion is owner-only per spec §4.4.
func (s *Store) Delete(ctx context.Context, pod, streamPath, name string, purge bool, deletedBy string, isOwner bool) error {
	if !isOwner {
		return apperror.New(apperror.CodeForbidden, "only the pod owner may delete records")
	}
	streamPath = strings.Trim(streamPath, "/")
	stream, err := s.streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		return err
	}
	original, found, err := s.latestByName(ctx, stream.ID, name)
	if err != nil {
		return err
	}
	if !found {
		return apperror.New(apperror.CodeRecordNotFound, "record not found")
	}

	ts := time.Now().UTC().Format("20060102150405.000000000")
	tombstone := map[string]interface{}{
		"deleted":      true,
		"originalName": name,
		"deletedAt":    isoTimestamp(time.Now()),
		"deletedBy":    deletedBy,
	}
	if purge {
		tombstone["purged"] = true
		tombstone["purgedAt"] = isoTimestamp(time.Now())
		tombstone["purgedBy"] = deletedBy
	}
	tombstoneContent, err := json.Marshal(tombstone)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternalError, "encode tombstone", err)
	}
	tombstoneName := name + ".deleted." + ts

	if _, err := s.Append(ctx, pod, streamPath, tombstoneName, tombstoneContent, "application/json", deletedBy, nil); err != nil {
		return err
	}

	if purge {
		if original.Storage != "" && s.blob != nil {
			if err := s.blob.Delete(ctx, original.Storage); err != nil {
				logger.FromContext(ctx).Infoln("external storage purge failed:", err)
			}
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE `+s.db.Schema+`.record SET content='', purged=true, deleted=true WHERE id=$1;`, original.ID)
		if err != nil {
			return apperror.Wrap(apperror.CodeDatabaseError, "purge record content", err)
		}
	} else {
		_, err := s.db.ExecContext(ctx,
			`UPDATE `+s.db.Schema+`.record SET deleted=true WHERE id=$1;`, original.ID)
		if err != nil {
			return apperror.Wrap(apperror.CodeDatabaseError, "mark record deleted", err)
		}
	}

	s.caches.InvalidateStream(streamstore.StreamPrefix(pod, streamPath))
	return nil
}

// VerifyResult is the outcome of a hash-chain verification (spec §4.5).
type VerifyResult struct {
	Valid          bool
	FirstBreakIndex *int64
}

// Verify implements spec §4.5: recomputes each record's hash from the
// stored content_hash, user_id, and created_at, and checks it against the
// stored hash and the next record's previous_hash. Purged records are
// verified the same way as any other record, since content_hash (not the
// wiped content) is what the chain is built on.
func (s *Store) Verify(ctx context.Context, pod, streamPath string) (VerifyResult, error) {
	streamPath = strings.Trim(streamPath, "/")
	stream, err := s.streams.GetByPath(ctx, pod, streamPath)
	if err != nil {
		return VerifyResult{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM `+s.db.Schema+`.record WHERE stream_id=$1 ORDER BY index;`, stream.ID)
	if err != nil {
		return VerifyResult{}, apperror.Wrap(apperror.CodeDatabaseError, "verify: read stream", err)
	}
	defer rows.Close()

	records, err := scanAll(rows, stream.Path)
	if err != nil {
		return VerifyResult{}, err
	}

	expectedPrevious := ""
	for _, rec := range records {
		wantHash := hashchain.RecordHash(expectedPrevious, rec.ContentHash, rec.UserID, isoTimestamp(rec.CreatedAt))
		if rec.PreviousHash != expectedPrevious || rec.Hash != wantHash {
			idx := rec.Index
			return VerifyResult{Valid: false, FirstBreakIndex: &idx}, nil
		}
		expectedPrevious = rec.Hash
	}
	return VerifyResult{Valid: true}, nil
}

// IndexQueryToRange parses spec §6's `i=<n>` or `i=<a>:<b>` query form
// into a single index or a half-open range, used by the HTTP layer.
func IndexQueryToRange(raw string) (single *int64, start, end *int64, err error) {
	if !strings.Contains(raw, ":") {
		n, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return nil, nil, nil, apperror.Newf(apperror.CodeInvalidIndex, "invalid index %q", raw)
		}
		return &n, nil, nil, nil
	}
	parts := strings.SplitN(raw, ":", 2)
	a, err1 := strconv.ParseInt(parts[0], 10, 64)
	b, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return nil, nil, nil, apperror.Newf(apperror.CodeInvalidRange, "invalid range %q", raw)
	}
	return nil, &a, &b, nil
}
