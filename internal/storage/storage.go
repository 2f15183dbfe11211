// Package storage bootstraps the Postgres schema WebPods runs on: the
// pod, stream, record, and rate_limit tables, created the same way the
// teacher backend package creates its collection tables — guarded by a
// postgres advisory lock and a registry-tracked schema version so that
// only one process pays the DDL cost when several start concurrently.
package storage

import (
	"crypto/sha1"
	"fmt"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
	"github.com/webpods-org/webpods/core/registry"
)

// SchemaVersion bumps whenever the DDL below changes shape.
const SchemaVersion = 3

const ddl = `
CREATE TABLE IF NOT EXISTS %[1]s.pod
(
	name              text PRIMARY KEY,
	metadata          jsonb NOT NULL DEFAULT '{}'::jsonb,
	created_at        timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[1]s.stream
(
	id                  bigserial PRIMARY KEY,
	pod                 text NOT NULL REFERENCES %[1]s.pod(name),
	parent_id           bigint REFERENCES %[1]s.stream(id),
	name                text NOT NULL,
	path                text NOT NULL,
	user_id             text NOT NULL,
	access_permission   text NOT NULL DEFAULT 'public',
	has_schema          boolean NOT NULL DEFAULT false,
	schema_document     jsonb,
	metadata            jsonb NOT NULL DEFAULT '{}'::jsonb,
	deleted_at          timestamptz,
	created_at          timestamptz NOT NULL DEFAULT now(),
	UNIQUE (pod, path)
);
CREATE INDEX IF NOT EXISTS stream_pod_parent_idx ON %[1]s.stream (pod, parent_id);
-- Defense-in-depth for the (pod, parent_id, name) uniqueness spec §3
-- requires: GetOrCreate's streamtree advisory lock already serializes
-- concurrent creators, but a DB constraint holds even if a caller ever
-- bypasses that lock. COALESCE folds root streams (parent_id IS NULL)
-- into one comparable group, since plain UNIQUE treats every NULL as
-- distinct. Scoped to live rows so a soft-deleted stream's name can be
-- recreated under the same parent.
CREATE UNIQUE INDEX IF NOT EXISTS stream_pod_parent_name_uq ON %[1]s.stream (pod, COALESCE(parent_id, -1), name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS %[1]s.record
(
	id                bigserial PRIMARY KEY,
	stream_id         bigint NOT NULL REFERENCES %[1]s.stream(id),
	index             bigint NOT NULL,
	name              text NOT NULL,
	content           bytea,
	content_type      text NOT NULL DEFAULT 'application/json',
	size              bigint NOT NULL DEFAULT 0,
	content_hash      text NOT NULL,
	hash              text NOT NULL,
	previous_hash     text NOT NULL DEFAULT '',
	user_id           text NOT NULL,
	headers           jsonb NOT NULL DEFAULT '{}'::jsonb,
	storage_locator   text,
	deleted           boolean NOT NULL DEFAULT false,
	purged            boolean NOT NULL DEFAULT false,
	created_at        timestamptz NOT NULL DEFAULT now(),
	UNIQUE (stream_id, index)
);
CREATE INDEX IF NOT EXISTS record_stream_created_idx ON %[1]s.record (stream_id, created_at);
CREATE INDEX IF NOT EXISTS record_stream_name_idx ON %[1]s.record (stream_id, name, index DESC);

CREATE TABLE IF NOT EXISTS %[1]s.rate_limit
(
	identifier        text NOT NULL,
	action            text NOT NULL,
	window_start      timestamptz NOT NULL,
	count             bigint NOT NULL DEFAULT 0,
	PRIMARY KEY (identifier, action, window_start)
);
`

// EnsureSchema creates the tables above if they do not already exist,
// and records the applied schema version in the registry so subsequent
// calls with an unchanged version are a no-op (spec's ambient-stack
// requirement for idempotent startup).
func EnsureSchema(db *csql.DB, reg *registry.Registry) error {
	accessor := reg.Accessor("_webpods_")

	var currentVersion string
	_, _ = accessor.Read("schema_version", &currentVersion)
	newVersion := fmt.Sprintf("%d/%x", SchemaVersion, sha1.Sum([]byte(ddl)))

	if currentVersion == newVersion {
		logger.Default().Debugln("webpods schema up to date")
		return nil
	}

	lockNumber := int64(len(db.Schema)) + SchemaVersion
	if _, err := db.Exec(fmt.Sprintf("SELECT pg_advisory_lock(%d);", lockNumber)); err != nil {
		return fmt.Errorf("acquire schema advisory lock: %w", err)
	}
	defer db.Exec(fmt.Sprintf("SELECT pg_advisory_unlock(%d);", lockNumber))

	logger.Default().Infoln("webpods schema changed - applying DDL")
	if _, err := db.Exec(fmt.Sprintf(ddl, db.Schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	return accessor.Write("schema_version", newVersion)
}
