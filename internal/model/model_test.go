package model_test

import (
	"testing"

	"github.com/webpods-org/webpods/internal/model"
)

func TestValidPodName(t *testing.T) {
	valid := []string{"alice", "alice-blog", "a", "a1-2b"}
	for _, n := range valid {
		if !model.ValidPodName(n) {
			t.Errorf("expected %q to be a valid pod name", n)
		}
	}
	invalid := []string{"", "Alice", "-alice", "alice_blog", "1alice", "UP"}
	for _, n := range invalid {
		if model.ValidPodName(n) {
			t.Errorf("expected %q to be an invalid pod name", n)
		}
	}
}

func TestValidStreamName(t *testing.T) {
	if !model.ValidStreamName("posts") || !model.ValidStreamName(".config") {
		t.Fatal("expected simple segment names to be valid")
	}
	if model.ValidStreamName("a/b") {
		t.Fatal("stream name must not contain a slash")
	}
	if model.ValidStreamName("") {
		t.Fatal("empty stream name must be invalid")
	}
}

func TestValidRecordName(t *testing.T) {
	if !model.ValidRecordName("first-post") {
		t.Fatal("expected valid record name to pass")
	}
	if model.ValidRecordName(".hidden") || model.ValidRecordName("trailing.") {
		t.Fatal("record name must not start or end with a period")
	}
	if model.ValidRecordName("a/b") {
		t.Fatal("record name must not contain a slash")
	}
}

func TestIsPermissionPath(t *testing.T) {
	if !model.IsPermissionPath("/editors") {
		t.Fatal("expected leading slash to be a permission path")
	}
	if model.IsPermissionPath("public") || model.IsPermissionPath("private") {
		t.Fatal("public/private must not be treated as permission paths")
	}
}

func TestIsBinaryContentType(t *testing.T) {
	if !model.IsBinaryContentType("image/png") {
		t.Fatal("image/png must be treated as binary")
	}
	if model.IsBinaryContentType("application/json") {
		t.Fatal("application/json must not be treated as binary")
	}
}
