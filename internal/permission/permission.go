// Package permission implements the three-mode access model from spec
// §4.6: public, private, and permission-stream, plus pod-ownership
// resolution via the distinguished `/.config/owner` meta-stream (spec
// §3, §9 "Ownership via records"). It depends only on a narrow
// RecordReader seam so the Record Store (which needs permission checks
// for listRecursive/listUniqueRecursive, spec §4.4) can depend on this
// package without a import cycle back to itself.
package permission

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/webpods-org/webpods/internal/apperror"
	"github.com/webpods-org/webpods/internal/cache"
	"github.com/webpods-org/webpods/internal/model"
)

// RecordReader is the read access the permission engine needs: the
// latest record of a given name in a given stream path, by convention
// the record name used for ownership and grant records (spec §3
// "Meta-stream /.config/owner", "Permission record").
type RecordReader interface {
	GetLatestByName(ctx context.Context, pod, streamPath, name string) (content []byte, found bool, err error)
}

// Engine evaluates read/write permission for a (user, stream) pair.
type Engine struct {
	records RecordReader
	cache   *cache.Pool
}

// New creates a permission Engine. cachePool is typically the pods pool,
// reused here to cache resolved owners per spec §9's "cache the resolved
// owner per pod".
func New(records RecordReader, cachePool *cache.Pool) *Engine {
	return &Engine{records: records, cache: cachePool}
}

type ownerRecord struct {
	Owner string `json:"owner"`
}

func ownerCacheKey(pod string) string {
	return fmt.Sprintf("pod:%s:owner", pod)
}

// Owner returns the current pod owner: the `owner` field of the latest
// record in `/.config/owner` (spec §3, §4.6). An empty string with a nil
// error means the pod has no owner yet (no write has happened).
func (e *Engine) Owner(ctx context.Context, pod string) (string, error) {
	if cached, ok := e.cache.Get(ownerCacheKey(pod)); ok {
		return cached.(string), nil
	}

	content, found, err := e.records.GetLatestByName(ctx, pod, ".config/owner", "owner")
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	var rec ownerRecord
	if err := json.Unmarshal(content, &rec); err != nil {
		return "", apperror.Wrap(apperror.CodeInternalError, "decode owner record", err)
	}
	e.cache.Set(ownerCacheKey(pod), rec.Owner, 1)
	return rec.Owner, nil
}

// InvalidateOwner drops the cached owner for pod. Only the owner entry is
// removed; other cached entries under the pod are left in place.
func (e *Engine) InvalidateOwner(pod string) {
	e.cache.Invalidate(ownerCacheKey(pod))
}

type grantRecord struct {
	UserID  string `json:"userId"`
	Read    bool   `json:"read"`
	Write   bool   `json:"write"`
	Revoke  bool   `json:"revoke"`
}

// grant resolves the latest permission grant for userID in the
// permission stream at permStreamPath, or (grantRecord{}, false) if the
// user has no grant record.
func (e *Engine) grant(ctx context.Context, pod, permStreamPath, userID string) (grantRecord, bool, error) {
	content, found, err := e.records.GetLatestByName(ctx, pod, permStreamPath, userID)
	if err != nil {
		return grantRecord{}, false, err
	}
	if !found {
		return grantRecord{}, false, nil
	}
	var rec grantRecord
	if err := json.Unmarshal(content, &rec); err != nil {
		return grantRecord{}, false, apperror.Wrap(apperror.CodeInternalError, "decode permission record", err)
	}
	return rec, true, nil
}

// IsSystemPath reports whether path falls under /.config/, /.permissions/,
// or /.schema/, which spec §4.6 requires pod ownership for any write: the
// same meta-stream management rule that already governs ownership
// transfer and permission grants also governs schema management, since
// all three shape what other users can read/write rather than holding
// application data.
func IsSystemPath(path string) bool {
	path = strings.TrimPrefix(path, "/")
	return strings.HasPrefix(path, ".config/") || path == ".config" ||
		strings.HasPrefix(path, ".permissions/") || path == ".permissions" ||
		strings.HasPrefix(path, ".schema/") || path == ".schema"
}

// CanRead implements spec §4.6's canRead(stream, user).
func (e *Engine) CanRead(ctx context.Context, pod string, stream model.Stream, userID string) (bool, error) {
	return e.can(ctx, pod, stream, userID, true)
}

// CanWrite implements spec §4.6's canWrite(stream, user).
func (e *Engine) CanWrite(ctx context.Context, pod string, stream model.Stream, userID string) (bool, error) {
	if IsSystemPath(stream.Path) {
		owner, err := e.Owner(ctx, pod)
		if err != nil {
			return false, err
		}
		return userID != "" && userID == owner, nil
	}
	return e.can(ctx, pod, stream, userID, false)
}

func (e *Engine) can(ctx context.Context, pod string, stream model.Stream, userID string, read bool) (bool, error) {
	owner, err := e.Owner(ctx, pod)
	if err != nil {
		return false, err
	}
	if userID != "" && (userID == stream.UserID || userID == owner) {
		return true, nil
	}

	switch {
	case stream.AccessPermission == string(model.AccessPublic):
		if read {
			return true, nil
		}
		return userID != "", nil
	case stream.AccessPermission == string(model.AccessPrivate):
		return false, nil
	case model.IsPermissionPath(stream.AccessPermission):
		if userID == "" {
			return false, nil
		}
		permPath := strings.TrimPrefix(stream.AccessPermission, "/")
		rec, found, err := e.grant(ctx, pod, permPath, userID)
		if err != nil {
			return false, err
		}
		if !found || rec.Revoke {
			return false, nil
		}
		if read {
			return rec.Read, nil
		}
		return rec.Write, nil
	default:
		return false, nil
	}
}
