package storage_test

import (
	"os"
	"testing"

	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/registry"
	"github.com/webpods-org/webpods/internal/storage"
)

// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type testServiceConfig struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	db               *csql.DB
}

var testService testServiceConfig

func TestMain(m *testing.M) {
	if err := envdecode.Decode(&testService); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(testService.Postgres, testService.PostgresPassword, "_webpods_storage_unit_test_")
	defer db.Close()
	db.ClearSchema()

	testService.db = db

	os.Exit(m.Run())
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	reg := registry.New(testService.db)

	if err := storage.EnsureSchema(testService.db, reg); err != nil {
		t.Fatalf("first EnsureSchema call failed: %v", err)
	}
	if err := storage.EnsureSchema(testService.db, reg); err != nil {
		t.Fatalf("second EnsureSchema call failed: %v", err)
	}

	if _, err := testService.db.Exec(
		`INSERT INTO ` + testService.db.Schema + `.pod(name) VALUES ('alice');`); err != nil {
		t.Fatalf("expected pod table to exist after EnsureSchema, got %v", err)
	}
}
