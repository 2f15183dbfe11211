// Package ratelimit implements the sliding hourly window counter from
// spec §4.9: each (identifier, action) pair gets a counter row keyed to
// the hour it falls in, incremented atomically with a single upsert in
// the style of the teacher's core/registry upsert (ON CONFLICT DO
// UPDATE), not a read-then-write round trip.
package ratelimit

import (
	"context"
	"time"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
	"github.com/webpods-org/webpods/internal/apperror"
)

// Action identifies what kind of request is being throttled (spec §4.9).
type Action string

const (
	ActionRead         Action = "read"
	ActionWrite        Action = "write"
	ActionPodCreate    Action = "pod_create"
	ActionStreamCreate Action = "stream_create"
)

// Limits maps an action to its per-hour ceiling. A missing or
// non-positive entry means the action is never limited.
type Limits map[Action]int

// Result is what a Check call returns: the §4.9 `{allowed, remaining,
// resetAt}` triple, reported to callers as X-RateLimit-* headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces Limits against the rate_limit table created by
// internal/storage. A zero Limits value allows everything.
type Limiter struct {
	db     *csql.DB
	limits Limits
}

func New(db *csql.DB, limits Limits) *Limiter {
	return &Limiter{db: db, limits: limits}
}

// windowStart aligns t to the start of its containing hour, per spec
// §4.9 "aligns window to the next hour boundary" (the window a request
// falls into, not the boundary it is waiting for).
func windowStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}

// Check increments the counter for (identifier, action) in the current
// hour window and reports whether the request is allowed. Limiter
// errors fail open: spec §7 "Rate-limit-check failures fail open... so
// a limiter outage does not take the service down."
func (l *Limiter) Check(ctx context.Context, identifier string, action Action) Result {
	limit, limited := l.limits[action]
	if !limited || limit <= 0 {
		return Result{Allowed: true, Limit: 0, Remaining: 0, ResetAt: windowStart(time.Now()).Add(time.Hour)}
	}

	start := windowStart(time.Now())
	reset := start.Add(time.Hour)

	count, err := l.increment(ctx, identifier, string(action), start)
	if err != nil {
		logger.FromContext(ctx).Infoln("rate limit check failed, failing open:", err)
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: reset}
	}
	if err := l.Reap(ctx, start.Add(-2*time.Hour)); err != nil {
		logger.FromContext(ctx).Infoln("rate limit window reap failed:", err)
	}

	if count > int64(limit) {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: reset}
	}
	remaining := int64(limit) - count
	return Result{Allowed: true, Limit: limit, Remaining: int(remaining), ResetAt: reset}
}

func (l *Limiter) increment(ctx context.Context, identifier, action string, windowStart time.Time) (int64, error) {
	var count int64
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO `+l.db.Schema+`.rate_limit (identifier, action, window_start, count)
		VALUES ($1,$2,$3,1)
		ON CONFLICT (identifier, action, window_start) DO UPDATE SET count = `+l.db.Schema+`.rate_limit.count + 1
		RETURNING count;`,
		identifier, action, windowStart).Scan(&count)
	if err != nil {
		return 0, apperror.Wrap(apperror.CodeDatabaseError, "increment rate limit counter", err)
	}
	return count, nil
}

// Reap deletes windows older than olderThan (spec §4.9 "Old windows are
// reaped opportunistically on any counter update"). Called best-effort
// after a Check; a failure here is logged, never surfaced to callers.
func (l *Limiter) Reap(ctx context.Context, olderThan time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM `+l.db.Schema+`.rate_limit WHERE window_start < $1;`, olderThan)
	if err != nil {
		return apperror.Wrap(apperror.CodeDatabaseError, "reap rate limit windows", err)
	}
	return nil
}

// UserIdentifier and IPIdentifier format the two identifier shapes spec
// §4.9 defines.
func UserIdentifier(userID string) string { return "user:" + userID }
func IPIdentifier(addr string) string      { return "ip:" + addr }
