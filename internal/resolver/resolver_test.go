package resolver_test

import (
	"testing"

	"github.com/webpods-org/webpods/internal/resolver"
)

type fakeLookup struct {
	streams map[string]int64
}

func (f fakeLookup) LookupByPath(pod, path string) (int64, bool, error) {
	id, ok := f.streams[pod+"/"+path]
	return id, ok, nil
}

func TestResolveStreamPath(t *testing.T) {
	lookup := fakeLookup{streams: map[string]int64{"alice/notes": 1}}

	result, err := resolver.Resolve(lookup, "alice", "/notes", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != resolver.KindStream || result.StreamID != 1 {
		t.Fatalf("expected stream resolution, got %+v", result)
	}
}

func TestResolveRecordPath(t *testing.T) {
	lookup := fakeLookup{streams: map[string]int64{"alice/notes": 1}}

	result, err := resolver.Resolve(lookup, "alice", "/notes/greet", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != resolver.KindRecord || result.RecordStreamID != 1 || result.RecordName != "greet" {
		t.Fatalf("expected record resolution, got %+v", result)
	}
}

func TestResolveNotFound(t *testing.T) {
	lookup := fakeLookup{streams: map[string]int64{}}

	result, err := resolver.Resolve(lookup, "alice", "/nothing/here", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != resolver.KindNotFound {
		t.Fatalf("expected not-found resolution, got %+v", result)
	}
}

func TestResolveIndexQueryForcesStreamInterpretation(t *testing.T) {
	// "notes/greet" exists as neither a stream path nor is consulted as
	// a record when an index query is present: only the full path as a
	// stream is tried.
	lookup := fakeLookup{streams: map[string]int64{"alice/notes": 1}}

	result, err := resolver.Resolve(lookup, "alice", "/notes/greet", true)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != resolver.KindNotFound {
		t.Fatalf("expected not-found because index query forces stream-only lookup, got %+v", result)
	}

	result, err = resolver.Resolve(lookup, "alice", "/notes", true)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != resolver.KindStream {
		t.Fatalf("expected stream resolution with index query, got %+v", result)
	}
}

func TestForWriteSplitsLastSegmentAsRecordName(t *testing.T) {
	streamPath, recordName, ok := resolver.ForWrite("/notes/greet")
	if !ok || streamPath != "notes" || recordName != "greet" {
		t.Fatalf("unexpected split: %q %q %v", streamPath, recordName, ok)
	}

	streamPath, recordName, ok = resolver.ForWrite("/app/config/main")
	if !ok || streamPath != "app/config" || recordName != "main" {
		t.Fatalf("unexpected split: %q %q %v", streamPath, recordName, ok)
	}
}
