package permission_test

import (
	"context"
	"testing"

	"github.com/webpods-org/webpods/internal/cache"
	"github.com/webpods-org/webpods/internal/model"
	"github.com/webpods-org/webpods/internal/permission"
)

type fakeReader struct {
	records map[string][]byte // key: pod + "/" + streamPath + "/" + name
}

func (f fakeReader) GetLatestByName(_ context.Context, pod, streamPath, name string) ([]byte, bool, error) {
	content, ok := f.records[pod+"/"+streamPath+"/"+name]
	return content, ok, nil
}

func newEngine(records map[string][]byte) *permission.Engine {
	return permission.New(fakeReader{records: records}, cache.NewPool("pods", 16))
}

func TestCanReadPublicStreamAllowsAnonymous(t *testing.T) {
	engine := newEngine(nil)
	stream := model.Stream{Pod: "alice", Path: "notes", AccessPermission: "public", UserID: "alice-user"}

	ok, err := engine.CanRead(context.Background(), "alice", stream, "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected public stream to allow anonymous reads")
	}
}

func TestCanWritePublicStreamRequiresAuthentication(t *testing.T) {
	engine := newEngine(nil)
	stream := model.Stream{Pod: "alice", Path: "notes", AccessPermission: "public", UserID: "alice-user"}

	ok, err := engine.CanWrite(context.Background(), "alice", stream, "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected anonymous write to public stream to be denied")
	}

	ok, err = engine.CanWrite(context.Background(), "alice", stream, "someone-else")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected authenticated write to public stream to be allowed")
	}
}

func TestCanReadPrivateStreamOnlyCreatorOrOwner(t *testing.T) {
	engine := newEngine(nil)
	stream := model.Stream{Pod: "alice", Path: "secrets", AccessPermission: "private", UserID: "alice-user"}

	ok, _ := engine.CanRead(context.Background(), "alice", stream, "alice-user")
	if !ok {
		t.Fatal("expected creator to read their own private stream")
	}

	ok, _ = engine.CanRead(context.Background(), "alice", stream, "stranger")
	if ok {
		t.Fatal("expected stranger to be denied reading a private stream")
	}
}

func TestCanReadPermissionStreamGrant(t *testing.T) {
	records := map[string][]byte{
		"alice/editors/bob": []byte(`{"userId":"bob","read":true,"write":false}`),
	}
	engine := newEngine(records)
	stream := model.Stream{Pod: "alice", Path: "posts", AccessPermission: "/editors", UserID: "alice-user"}

	ok, err := engine.CanRead(context.Background(), "alice", stream, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected bob to be granted read via permission stream")
	}

	ok, err = engine.CanWrite(context.Background(), "alice", stream, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected bob's write grant to be false")
	}
}

func TestCanReadPermissionStreamRevoked(t *testing.T) {
	records := map[string][]byte{
		"alice/editors/bob": []byte(`{"userId":"bob","revoke":true}`),
	}
	engine := newEngine(records)
	stream := model.Stream{Pod: "alice", Path: "posts", AccessPermission: "/editors", UserID: "alice-user"}

	ok, err := engine.CanRead(context.Background(), "alice", stream, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected revoked user to be denied")
	}
}

func TestCanWriteSystemPathRequiresOwnership(t *testing.T) {
	records := map[string][]byte{
		"alice/.config/owner/owner": []byte(`{"owner":"alice-user"}`),
	}
	engine := newEngine(records)
	stream := model.Stream{Pod: "alice", Path: ".config/routing", AccessPermission: "private", UserID: "someone"}

	ok, err := engine.CanWrite(context.Background(), "alice", stream, "alice-user")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected owner to write under /.config/")
	}

	ok, err = engine.CanWrite(context.Background(), "alice", stream, "someone")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected non-owner to be denied writing under /.config/")
	}
}

func TestOwnerReResolvedAfterInvalidation(t *testing.T) {
	records := map[string][]byte{
		"alice/.config/owner/owner": []byte(`{"owner":"alice-user"}`),
	}
	engine := newEngine(records)

	owner, err := engine.Owner(context.Background(), "alice")
	if err != nil || owner != "alice-user" {
		t.Fatalf("unexpected owner: %q, %v", owner, err)
	}

	engine.InvalidateOwner("alice")
	owner, err = engine.Owner(context.Background(), "alice")
	if err != nil || owner != "alice-user" {
		t.Fatalf("unexpected owner after invalidation re-lookup: %q, %v", owner, err)
	}
}
