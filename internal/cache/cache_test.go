package cache_test

import (
	"testing"

	"github.com/webpods-org/webpods/internal/cache"
)

func TestPoolGetSetMiss(t *testing.T) {
	p := cache.NewPool("test", 4)
	if _, ok := p.Get("missing"); ok {
		t.Fatal("expected miss on empty pool")
	}
	p.Set("alice/posts", "stream-value", 1)
	v, ok := p.Get("alice/posts")
	if !ok || v != "stream-value" {
		t.Fatalf("expected cached value, got %v, %v", v, ok)
	}

	stats := p.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPoolEvictsLeastRecentlyUsed(t *testing.T) {
	p := cache.NewPool("test", 2)
	p.Set("a", 1, 1)
	p.Set("b", 2, 1)
	p.Set("c", 3, 1) // evicts "a"

	if _, ok := p.Get("a"); ok {
		t.Fatal("expected least-recently-used entry to be evicted")
	}
	if stats := p.Stats(); stats.Evictions != 1 {
		t.Fatalf("expected one eviction, got %+v", stats)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	p := cache.NewPool("test", 16)
	p.Set("alice/posts", "stream", 1)
	p.Set("alice/posts:list:0-10", "page1", 10)
	p.Set("alice/posts:list:10-20", "page2", 10)
	p.Set("alice/comments", "other stream", 1)

	p.InvalidatePrefix("alice/posts")

	if _, ok := p.Get("alice/posts"); ok {
		t.Fatal("expected exact prefix key to be invalidated")
	}
	if _, ok := p.Get("alice/posts:list:0-10"); ok {
		t.Fatal("expected nested key to be invalidated")
	}
	if _, ok := p.Get("alice/comments"); !ok {
		t.Fatal("expected unrelated key to survive invalidation")
	}
}

func TestHierarchyInvalidateStreamCascades(t *testing.T) {
	h := cache.NewHierarchy(cache.Sizes{Pods: 4, Streams: 4, SingleRecords: 4, RecordLists: 4})

	h.Streams.Set("alice/posts", "stream", 1)
	h.SingleRecords.Set("alice/posts:first-post", "record", 1)
	h.RecordLists.Set("alice/posts:list:all", "records", 1)

	h.InvalidateStream("alice/posts")

	if _, ok := h.Streams.Get("alice/posts"); ok {
		t.Fatal("expected stream entry to be invalidated")
	}
	if _, ok := h.SingleRecords.Get("alice/posts:first-post"); ok {
		t.Fatal("expected single-record entry to be invalidated")
	}
	if _, ok := h.RecordLists.Get("alice/posts:list:all"); ok {
		t.Fatal("expected record-list entry to be invalidated")
	}
}

func TestParsePatternAcceptsTrailingWildcard(t *testing.T) {
	prefix, err := cache.ParsePattern("pod:alice:stream:blog/posts:*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prefix != "pod:alice:stream:blog/posts" {
		t.Fatalf("unexpected prefix: %q", prefix)
	}
}

func TestParsePatternRejectsInternalWildcard(t *testing.T) {
	if _, err := cache.ParsePattern("pod:*:stream:blog"); err == nil {
		t.Fatal("expected an error for a mid-pattern wildcard")
	}
}

func TestParsePatternRejectsMultipleWildcards(t *testing.T) {
	if _, err := cache.ParsePattern("pod:alice:*:stream:*"); err == nil {
		t.Fatal("expected an error for more than one wildcard")
	}
}

func TestInvalidatePatternAppliesParsedPrefix(t *testing.T) {
	p := cache.NewPool("test", 16)
	p.Set("pod:alice:stream:blog:meta", "stream", 1)
	p.Set("pod:alice:stream:blog:record:first:data", "record", 1)
	p.Set("pod:alice:stream:other:meta", "other stream", 1)

	if err := p.InvalidatePattern("pod:alice:stream:blog:*"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := p.Get("pod:alice:stream:blog:meta"); ok {
		t.Fatal("expected blog stream entry to be invalidated")
	}
	if _, ok := p.Get("pod:alice:stream:blog:record:first:data"); ok {
		t.Fatal("expected nested record entry to be invalidated")
	}
	if _, ok := p.Get("pod:alice:stream:other:meta"); !ok {
		t.Fatal("expected unrelated stream entry to survive")
	}
}

func TestInvalidatePrefixPrunesEmptyBranches(t *testing.T) {
	p := cache.NewPool("test", 16)
	p.Set("pod:alice:stream:blog:2024:first", "v", 1)
	p.InvalidatePrefix("pod:alice:stream:blog:2024:first")

	// Re-inserting an unrelated sibling under the same ancestor chain
	// must not collide with stale branch state left over from the
	// pruned leaf.
	p.Set("pod:alice:stream:blog:2023:first", "v2", 1)
	if v, ok := p.Get("pod:alice:stream:blog:2023:first"); !ok || v != "v2" {
		t.Fatalf("expected sibling entry to be readable after prune, got %v, %v", v, ok)
	}
	if _, ok := p.Get("pod:alice:stream:blog:2024:first"); ok {
		t.Fatal("expected pruned entry to stay gone")
	}
}

func TestSetOverwriteUpdatesSizeAndRecency(t *testing.T) {
	p := cache.NewPool("test", 2)
	p.Set("a", "v1", 10)
	p.Set("b", 1, 1)
	p.Set("a", "v2", 20) // re-touching "a" makes "b" the least-recently-used of the two
	if p.Size() != 21 {
		t.Fatalf("expected overwritten entry's size to replace, not add, got %d", p.Size())
	}

	p.Set("c", 1, 1) // evicts "b", the only untouched entry
	if _, ok := p.Get("b"); ok {
		t.Fatal("expected least-recently-used entry to be evicted, not the freshened one")
	}
	if v, ok := p.Get("a"); !ok || v != "v2" {
		t.Fatalf("expected recently-set entry to survive eviction with its new value, got %v, %v", v, ok)
	}
}

func TestHierarchyInvalidatePodCascades(t *testing.T) {
	h := cache.NewHierarchy(cache.Sizes{Pods: 4, Streams: 4, SingleRecords: 4, RecordLists: 4})

	h.Pods.Set("alice", "pod", 1)
	h.Streams.Set("alice:posts", "stream", 1)
	h.SingleRecords.Set("alice:posts:first-post", "record", 1)

	h.InvalidatePod("alice")

	if _, ok := h.Pods.Get("alice"); ok {
		t.Fatal("expected pod entry to be invalidated")
	}
	if _, ok := h.Streams.Get("alice:posts"); ok {
		t.Fatal("expected nested stream entry to be invalidated")
	}
	if _, ok := h.SingleRecords.Get("alice:posts:first-post"); ok {
		t.Fatal("expected nested record entry to be invalidated")
	}
}
