// Package csql wraps database/sql with the conventions WebPods needs on top
// of a plain postgres connection: a schema-qualified database handle, and a
// helper for the single mandatory mutex in the whole system, the per-stream
// append lock (spec §4.3, §9 "Concurrency mapping").
package csql

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strings"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/webpods-org/webpods/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// OpenWithSchema opens a webpods postgres database with a schema.
// The schema gets created if it does not exist yet.
// The returned database also has the uuid-ossp extension loaded.
func OpenWithSchema(dataSourceName, dataSourcePassword, schema string) *DB {
	logger.Default().Infoln("connecting to postgres database: ", dataSourceName)
	db, err := sql.Open("postgres", fmt.Sprintf("%s password=%s", dataSourceName, dataSourcePassword))
	if err != nil {
		panic(err)
	}
	err = db.Ping()
	if err != nil {
		panic(err)
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		logger.Default().Infoln("selected database schema:", schema)
		_, err = db.Exec(`CREATE extension IF NOT EXISTS "uuid-ossp";`)
		if err != nil {
			if strings.Contains(err.Error(), "duplicate key value violates unique constraint \"pg_extension_name_index\"") {
				logger.Default().Error("installing uuid-ossp extension failed, this should not happen except in CI")
			} else {
				panic(err)
			}
		}

		_, err = db.Exec(`CREATE schema IF NOT EXISTS ` + schema + `;`)
		if err != nil {
			panic(err)
		}
	}
	return &DB{DB: db, Schema: schema}
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().Infoln("clear schema error:", db.Schema, err.Error())
	}
}

// StreamLockID derives a stable 64-bit advisory lock number from a stream
// id. It is used to serialize appends to the same stream (spec §4.3 step 1,
// §9 "per-stream append serialization is the only mandatory mutex")
// without taking out a lock that spans unrelated streams.
func StreamLockID(streamID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(streamID))
	return int64(h.Sum64())
}

// WithStreamLock runs fn inside a transaction that holds a postgres
// transaction-scoped advisory lock (pg_advisory_xact_lock) keyed by
// streamID. The lock is released automatically on commit or rollback,
// which is what gives us total ordering of appends to one stream while
// leaving appends to other streams unserialized (spec §4.3, §5).
func (db *DB) WithStreamLock(ctx context.Context, streamID string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1);`, StreamLockID(streamID)); err != nil {
		return fmt.Errorf("acquire stream lock: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}
