package ratelimit_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/registry"
	"github.com/webpods-org/webpods/internal/ratelimit"
	"github.com/webpods-org/webpods/internal/storage"
)

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

	db := csql.OpenWithSchema(testService.Postgres, testService.PostgresPassword, "_webpods_ratelimit_unit_test_")
	defer db.Close()
	db.ClearSchema()

	if err := storage.EnsureSchema(db, registry.New(db)); err != nil {
		panic(err)
	}

	testService.db = db
	os.Exit(m.Run())
}

func TestCheckAllowsUnlimitedActions(t *testing.T) {
	limiter := ratelimit.New(testService.db, nil)
	result := limiter.Check(context.Background(), ratelimit.UserIdentifier("alice"), ratelimit.ActionRead)
	if !result.Allowed {
		t.Fatal("expected an action with no configured limit to always be allowed")
	}
}

func TestCheckCountsWithinWindowAndBlocksOverLimit(t *testing.T) {
	limiter := ratelimit.New(testService.db, ratelimit.Limits{ratelimit.ActionWrite: 2})
	id := ratelimit.UserIdentifier("bob")

	r1 := limiter.Check(context.Background(), id, ratelimit.ActionWrite)
	if !r1.Allowed || r1.Remaining != 1 {
		t.Fatalf("expected first request allowed with 1 remaining, got %+v", r1)
	}

	r2 := limiter.Check(context.Background(), id, ratelimit.ActionWrite)
	if !r2.Allowed || r2.Remaining != 0 {
		t.Fatalf("expected second request allowed with 0 remaining, got %+v", r2)
	}

	r3 := limiter.Check(context.Background(), id, ratelimit.ActionWrite)
	if r3.Allowed {
		t.Fatalf("expected third request in the same window to be denied, got %+v", r3)
	}
}

func TestCheckTracksIdentifiersIndependently(t *testing.T) {
	limiter := ratelimit.New(testService.db, ratelimit.Limits{ratelimit.ActionPodCreate: 1})

	r1 := limiter.Check(context.Background(), ratelimit.IPIdentifier("10.0.0.1"), ratelimit.ActionPodCreate)
	if !r1.Allowed {
		t.Fatal("expected first ip's pod_create to be allowed")
	}
	r2 := limiter.Check(context.Background(), ratelimit.IPIdentifier("10.0.0.2"), ratelimit.ActionPodCreate)
	if !r2.Allowed {
		t.Fatal("expected a different ip's pod_create counter to be independent")
	}
}

func TestReapRemovesOldWindows(t *testing.T) {
	limiter := ratelimit.New(testService.db, ratelimit.Limits{ratelimit.ActionRead: 5})
	id := ratelimit.UserIdentifier("carol")
	limiter.Check(context.Background(), id, ratelimit.ActionRead)

	if err := limiter.Reap(context.Background(), time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	result := limiter.Check(context.Background(), id, ratelimit.ActionRead)
	if result.Remaining != 4 {
		t.Fatalf("expected a fresh window after reaping the old one, got remaining=%d", result.Remaining)
	}
}
