package recordstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/registry"
	"github.com/webpods-org/webpods/internal/apperror"
	"github.com/webpods-org/webpods/internal/cache"
	"github.com/webpods-org/webpods/internal/permission"
	"github.com/webpods-org/webpods/internal/podstore"
	"github.com/webpods-org/webpods/internal/recordstore"
	"github.com/webpods-org/webpods/internal/storage"
	"github.com/webpods-org/webpods/internal/streamstore"
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

	db := csql.OpenWithSchema(testService.Postgres, testService.PostgresPassword, "_webpods_recordstore_unit_test_")
	defer db.Close()
	db.ClearSchema()

	if err := storage.EnsureSchema(db, registry.New(db)); err != nil {
		panic(err)
	}

	testService.db = db
	os.Exit(m.Run())
}

func newCaches() *cache.Hierarchy {
	return cache.NewHierarchy(cache.Sizes{Pods: 16, Streams: 16, SingleRecords: 16, RecordLists: 16})
}

// harness wires a fresh streamstore+recordstore+permission engine sharing
// one cache hierarchy, the same graph cmd/webpodsd wires at startup.
type harness struct {
	streams *streamstore.Store
	records *recordstore.Store
	perm    *permission.Engine
}

func newHarness() harness {
	caches := newCaches()
	streams := streamstore.New(testService.db, caches)
	records := recordstore.New(testService.db, caches, streams, nil, nil, 0, nil, recordstore.CacheLimits{})
	perm := permission.New(records, caches.Pods)
	records.SetPermissionEngine(perm)
	return harness{streams: streams, records: records, perm: perm}
}

func ensurePod(t *testing.T, name string) {
	t.Helper()
	pods := podstore.New(testService.db, cache.NewPool("pods", 16))
	if _, _, err := pods.GetOrCreate(context.Background(), name); err != nil {
		t.Fatal(err)
	}
}

func TestAppendAssignsDenseContiguousIndices(t *testing.T) {
	ensurePod(t, "alice")
	h := newHarness()
	ctx := context.Background()

	if _, err := h.streams.GetOrCreate(ctx, "alice", "/notes", "alice-user", "public", true); err != nil {
		t.Fatal(err)
	}

	r0, err := h.records.Append(ctx, "alice", "notes", "greet", []byte(`"hi"`), "application/json", "alice-user", nil)
	if err != nil {
		t.Fatal(err)
	}
	if r0.Index != 0 || r0.PreviousHash != "" {
		t.Fatalf("expected first record index 0 with empty previous hash, got %+v", r0)
	}

	r1, err := h.records.Append(ctx, "alice", "notes", "farewell", []byte(`"bye"`), "application/json", "alice-user", nil)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Index != 1 {
		t.Fatalf("expected second record index 1, got %d", r1.Index)
	}
	if r1.PreviousHash != r0.Hash {
		t.Fatalf("expected chained previous_hash, got %q want %q", r1.PreviousHash, r0.Hash)
	}
}

func TestGetByNameReturnsLatestVersion(t *testing.T) {
	ensurePod(t, "carol")
	h := newHarness()
	ctx := context.Background()

	if _, err := h.streams.GetOrCreate(ctx, "carol", "/config", "carol-user", "public", true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.records.Append(ctx, "carol", "config", "theme", []byte(`{"mode":"dark"}`), "application/json", "carol-user", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.records.Append(ctx, "carol", "config", "theme", []byte(`{"mode":"light"}`), "application/json", "carol-user", nil); err != nil {
		t.Fatal(err)
	}

	rec, err := h.records.GetByName(ctx, "carol", "config", "theme", false)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Index != 1 {
		t.Fatalf("expected latest-wins to return index 1, got %d", rec.Index)
	}

	unique, _, _, err := h.records.ListUnique(ctx, "carol", "config", 10, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(unique) != 1 || unique[0].Index != 1 {
		t.Fatalf("expected listUnique to return exactly the light record, got %+v", unique)
	}
}

func TestSoftDeleteThenRead(t *testing.T) {
	ensurePod(t, "dave")
	h := newHarness()
	ctx := context.Background()

	if _, err := h.streams.GetOrCreate(ctx, "dave", "/docs", "dave-user", "public", true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.records.Append(ctx, "dave", "docs", "a", []byte(`"x"`), "text/plain", "dave-user", nil); err != nil {
		t.Fatal(err)
	}
	if err := h.records.Delete(ctx, "dave", "docs", "a", false, "dave-user", true); err != nil {
		t.Fatal(err)
	}

	_, err := h.records.GetByName(ctx, "dave", "docs", "a", false)
	appErr, ok := apperror.As(err)
	if !ok || appErr.Code != apperror.CodeRecordDeleted {
		t.Fatalf("expected RECORD_DELETED, got %v", err)
	}

	_, err = h.records.GetByIndex(ctx, "dave", "docs", 0, false)
	appErr, ok = apperror.As(err)
	if !ok || appErr.Code != apperror.CodeRecordDeleted {
		t.Fatalf("expected RECORD_DELETED on indexed read, got %v", err)
	}
}

func TestNameStreamConflictScenario(t *testing.T) {
	ensurePod(t, "erin")
	h := newHarness()
	ctx := context.Background()

	if _, err := h.streams.GetOrCreate(ctx, "erin", "/app/config", "erin-user", "public", true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.records.Append(ctx, "erin", "app/config", "main", []byte(`"v"`), "text/plain", "erin-user", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.records.Append(ctx, "erin", "app", "config", []byte(`"top"`), "text/plain", "erin-user", nil); err != nil {
		t.Fatal(err)
	}

	if err := h.streams.Delete(ctx, "erin", "app/config"); err != nil {
		t.Fatal(err)
	}

	rec, err := h.records.GetByName(ctx, "erin", "app", "config", false)
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.Content) != `"top"` {
		t.Fatalf("expected record content to survive stream deletion, got %q", rec.Content)
	}
}

func TestHashChainVerificationAfterPurge(t *testing.T) {
	ensurePod(t, "frank")
	h := newHarness()
	ctx := context.Background()

	if _, err := h.streams.GetOrCreate(ctx, "frank", "/logs", "frank-user", "public", true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.records.Append(ctx, "frank", "logs", "r1", []byte(`"1"`), "text/plain", "frank-user", nil); err != nil {
		t.Fatal(err)
	}
	r2, err := h.records.Append(ctx, "frank", "logs", "r2", []byte(`"2"`), "text/plain", "frank-user", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.records.Append(ctx, "frank", "logs", "r3", []byte(`"3"`), "text/plain", "frank-user", nil); err != nil {
		t.Fatal(err)
	}

	if err := h.records.Delete(ctx, "frank", "logs", "r2", true, "frank-user", true); err != nil {
		t.Fatal(err)
	}

	result, err := h.records.Verify(ctx, "frank", "logs")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Fatalf("expected hash chain to remain valid after purge, break at %v", result.FirstBreakIndex)
	}

	_, err = h.records.GetByName(ctx, "frank", "logs", "r2", false)
	appErr, ok := apperror.As(err)
	if !ok || appErr.Code != apperror.CodeRecordDeleted {
		t.Fatalf("expected purged record to read back RECORD_DELETED, got %v", err)
	}

	r3, err := h.records.GetByName(ctx, "frank", "logs", "r3", false)
	if err != nil {
		t.Fatal(err)
	}
	if r3.PreviousHash != r2.Hash {
		t.Fatal("expected r3.previous_hash to still equal the purged r2's hash")
	}
}

func TestCacheInvalidatedOnAppend(t *testing.T) {
	ensurePod(t, "heidi")
	h := newHarness()
	ctx := context.Background()

	if _, err := h.streams.GetOrCreate(ctx, "heidi", "/blog/posts/2024", "heidi-user", "public", true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.records.Append(ctx, "heidi", "blog/posts/2024", "first", []byte("one"), "text/plain", "heidi-user", nil); err != nil {
		t.Fatal(err)
	}

	if _, err := h.records.GetByName(ctx, "heidi", "blog/posts/2024", "first", false); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := h.records.List(ctx, "heidi", "blog/posts/2024", 10, -1); err != nil {
		t.Fatal(err)
	}

	if _, err := h.records.Append(ctx, "heidi", "blog/posts/2024", "second", []byte("two"), "text/plain", "heidi-user", nil); err != nil {
		t.Fatal(err)
	}

	records, _, _, err := h.records.List(ctx, "heidi", "blog/posts/2024", 10, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected list cache to be invalidated and reflect the new record, got %+v", records)
	}
}

func TestListRecursiveSkipsInaccessibleSubtrees(t *testing.T) {
	ensurePod(t, "grace")
	h := newHarness()
	ctx := context.Background()

	if _, err := h.streams.GetOrCreate(ctx, "grace", "/blog/public", "grace-user", "public", true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.streams.GetOrCreate(ctx, "grace", "/blog/secret", "grace-user", "private", true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.records.Append(ctx, "grace", "blog/public", "hello", []byte("hi"), "text/plain", "grace-user", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.records.Append(ctx, "grace", "blog/secret", "shh", []byte("secret"), "text/plain", "grace-user", nil); err != nil {
		t.Fatal(err)
	}

	records, err := h.records.ListRecursive(ctx, "grace", "blog", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Name != "hello" {
		t.Fatalf("expected only the public record to be visible to an anonymous caller, got %+v", records)
	}
}
