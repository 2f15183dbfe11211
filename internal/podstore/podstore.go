// Package podstore manages the pod table: tenant namespaces addressed by
// a DNS-safe subdomain label (spec §3 "Pod", §4 lifecycle). It is
// intentionally thin — pod ownership and the rest of a pod's implicit
// bootstrap state live in the stream/record tree, not here (spec §9
// "Ownership via records").
package podstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/internal/apperror"
	"github.com/webpods-org/webpods/internal/cache"
	"github.com/webpods-org/webpods/internal/model"
)

// Store persists and caches pods.
type Store struct {
	db    *csql.DB
	cache *cache.Pool
}

// New creates a pod store backed by db, caching lookups in pool.
func New(db *csql.DB, pool *cache.Pool) *Store {
	return &Store{db: db, cache: pool}
}

func cacheKey(name string) string {
	return fmt.Sprintf("pod:%s:meta", name)
}

// GetByName returns the pod named name, or apperror.CodePodNotFound if it
// does not exist.
func (s *Store) GetByName(ctx context.Context, name string) (model.Pod, error) {
	if cached, ok := s.cache.Get(cacheKey(name)); ok {
		return cached.(model.Pod), nil
	}

	pod, err := s.queryByName(ctx, name)
	if err != nil {
		return model.Pod{}, err
	}

	s.cache.Set(cacheKey(name), pod, 1)
	return pod, nil
}

func (s *Store) queryByName(ctx context.Context, name string) (model.Pod, error) {
	var pod model.Pod
	var metadata []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT name, metadata, created_at FROM `+s.db.Schema+`.pod WHERE name=$1;`, name)
	if err := row.Scan(&pod.Name, &metadata, &pod.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.Pod{}, apperror.Newf(apperror.CodePodNotFound, "pod %q does not exist", name)
		}
		return model.Pod{}, apperror.Wrap(apperror.CodeDatabaseError, "lookup pod", err)
	}
	if err := unmarshalMetadata(metadata, &pod.Metadata); err != nil {
		return model.Pod{}, apperror.Wrap(apperror.CodeDatabaseError, "decode pod metadata", err)
	}
	return pod, nil
}

// GetOrCreate returns the pod named name, creating it with empty metadata
// if it does not already exist (spec §4 "Pods created on first
// authenticated write"). The caller is responsible for enforcing that the
// acting user holds a pod-creation allowance before calling this.
func (s *Store) GetOrCreate(ctx context.Context, name string) (pod model.Pod, created bool, err error) {
	if !model.ValidPodName(name) {
		return model.Pod{}, false, apperror.Newf(apperror.CodeInvalidPodName, "invalid pod name %q", name)
	}

	if pod, err = s.GetByName(ctx, name); err == nil {
		return pod, false, nil
	}
	if appErr, ok := apperror.As(err); !ok || appErr.Code != apperror.CodePodNotFound {
		return model.Pod{}, false, err
	}

	_, execErr := s.db.ExecContext(ctx,
		`INSERT INTO `+s.db.Schema+`.pod(name, metadata) VALUES ($1, '{}'::jsonb)
		 ON CONFLICT (name) DO NOTHING;`, name)
	if execErr != nil {
		return model.Pod{}, false, apperror.Wrap(apperror.CodeDatabaseError, "create pod", execErr)
	}

	pod, err = s.queryByName(ctx, name)
	if err != nil {
		return model.Pod{}, false, err
	}
	s.cache.Set(cacheKey(name), pod, 1)
	return pod, true, nil
}

// Exists reports whether a pod with name exists. It goes through
// GetByName, so a pod it finds is cached like any other lookup.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.GetByName(ctx, name)
	if err == nil {
		return true, nil
	}
	if appErr, ok := apperror.As(err); ok && appErr.Code == apperror.CodePodNotFound {
		return false, nil
	}
	return false, err
}

// InvalidateCache drops the cached entry for name (spec §4.7 "Pod owner
// change -> invalidate pod:P:*"; this is the pods-pool half of that
// cascade, the stream/record half lives in cache.Hierarchy).
func (s *Store) InvalidateCache(name string) {
	s.cache.Invalidate(cacheKey(name))
}

func unmarshalMetadata(raw []byte, out *map[string]interface{}) error {
	if len(raw) == 0 {
		*out = map[string]interface{}{}
		return nil
	}
	return json.Unmarshal(raw, out)
}
