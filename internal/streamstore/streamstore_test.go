package streamstore_test

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
	"github.com/webpods-org/webpods/internal/podstore"
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

	db := csql.OpenWithSchema(testService.Postgres, testService.PostgresPassword, "_webpods_streamstore_unit_test_")
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

func ensurePod(t *testing.T, name string) {
	t.Helper()
	pods := podstore.New(testService.db, cache.NewPool("pods", 16))
	if _, _, err := pods.GetOrCreate(context.Background(), name); err != nil {
		t.Fatal(err)
	}
}

func TestGetOrCreateCreatesIntermediateSegments(t *testing.T) {
	ensurePod(t, "alice")
	store := streamstore.New(testService.db, newCaches())
	ctx := context.Background()

	leaf, err := store.GetOrCreate(ctx, "alice", "/app/config", "alice-user", "public", true)
	if err != nil {
		t.Fatal(err)
	}
	if leaf.Path != "app/config" || leaf.Name != "config" {
		t.Fatalf("unexpected leaf stream: %+v", leaf)
	}

	parent, err := store.GetByPath(ctx, "alice", "app")
	if err != nil {
		t.Fatal(err)
	}
	if parent.AccessPermission != "public" {
		t.Fatalf("expected intermediate segment to default to public, got %+v", parent)
	}
	if leaf.ParentID == nil || *leaf.ParentID != parent.ID {
		t.Fatalf("expected leaf parent to be %d, got %+v", parent.ID, leaf.ParentID)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	ensurePod(t, "bob")
	store := streamstore.New(testService.db, newCaches())
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "bob", "/notes", "bob-user", "public", true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.GetOrCreate(ctx, "bob", "/notes", "bob-user", "private", true)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected idempotent stream creation, got ids %d and %d", first.ID, second.ID)
	}
}

func TestGetOrCreateRejectsSystemStreamFromNonOwner(t *testing.T) {
	ensurePod(t, "carol")
	store := streamstore.New(testService.db, newCaches())
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "carol", "/.config", "someone", "public", false)
	appErr, ok := apperror.As(err)
	if !ok || appErr.Code != apperror.CodeForbidden {
		t.Fatalf("expected FORBIDDEN for non-owner system stream creation, got %v", err)
	}
}

func TestDeleteCascadesToDescendants(t *testing.T) {
	ensurePod(t, "dave")
	store := streamstore.New(testService.db, newCaches())
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "dave", "/blog/posts/2024", "dave-user", "public", true); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, "dave", "blog"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.GetByPath(ctx, "dave", "blog"); err == nil {
		t.Fatal("expected deleted root stream to be gone")
	}
	if _, err := store.GetByPath(ctx, "dave", "blog/posts/2024"); err == nil {
		t.Fatal("expected deleted descendant stream to be gone")
	}
}

func TestDeleteRejectsSystemStreams(t *testing.T) {
	ensurePod(t, "erin")
	store := streamstore.New(testService.db, newCaches())
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "erin", "/.config/owner", "erin-user", "private", true); err != nil {
		t.Fatal(err)
	}
	err := store.Delete(ctx, "erin", ".config")
	appErr, ok := apperror.As(err)
	if !ok || appErr.Code != apperror.CodeForbidden {
		t.Fatalf("expected FORBIDDEN deleting system stream, got %v", err)
	}
}

func TestListChildrenReturnsInsertionOrder(t *testing.T) {
	ensurePod(t, "frank")
	store := streamstore.New(testService.db, newCaches())
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "frank", "/notes", "frank-user", "public", true); err != nil {
		t.Fatal(err)
	}
	root, err := store.GetByPath(ctx, "frank", "notes")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if _, err := store.GetOrCreate(ctx, "frank", "notes/"+name, "frank-user", "public", true); err != nil {
			t.Fatal(err)
		}
	}

	children, err := store.ListChildren(ctx, "frank", &root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(children))
	}
	for i, name := range []string{"a", "b", "c"} {
		if children[i].Name != name {
			t.Fatalf("expected insertion order a,b,c, got %v", children)
		}
	}
}
