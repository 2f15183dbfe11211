// Package cache implements the hierarchical lookup cache described in
// spec §4.7: four independently-sized LRU pools (pods, streams, single
// records, record lists), each a prefix tree over ":"-delimited key
// segments so that deleting everything under a prefix costs
// O(keys-under-prefix) rather than a scan of the whole pool (spec §9
// "Cache pattern grammar"). No library in the retrieved corpus offers a
// prefix-tree-backed LRU — github.com/hashicorp/golang-lru (used
// elsewhere in the pack for flat caches) only exposes a single flat map,
// which is exactly the O(pool-size) InvalidatePrefix the spec says this
// design must avoid — so the tree, the shared doubly-linked LRU list,
// and the flat key index are hand-rolled here; see DESIGN.md.
package cache

import (
	"strings"
	"sync"

	"github.com/webpods-org/webpods/internal/apperror"
)

// Stats are the hit/miss/eviction counters spec §4.7 requires to be
// exposed for observability.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// node is one entry in the pool's shared LRU list. It is always reached
// either through the pool's flat key index (point Get/Set/Invalidate) or
// through the prefix tree (pattern invalidation); the two structures
// point at the same nodes rather than holding separate copies.
type node struct {
	key   string
	value interface{}
	size  int

	prev, next *node // shared LRU list across the whole pool
	leafOf     *treeNode
}

// treeNode is one branch or leaf of the pool's key prefix tree. Keys are
// split on ":" into segments (spec §4.7 "Data structure"); a treeNode
// exists for every segment prefix ever written, whether or not that
// prefix is itself a materialized key, so that sibling keys sharing a
// prefix ("pod:P:stream:S:meta" and "pod:P:stream:S:record:r:data")
// share the same ancestor chain and a single InvalidatePrefix walk
// reaches both.
type treeNode struct {
	segment  string
	parent   *treeNode
	children map[string]*treeNode
	entry    *node // non-nil iff this exact prefix is a materialized key
}

// Pool is one LRU cache with hierarchical prefix-pattern invalidation.
// All operations are guarded by one mutex: spec §5 requires cache
// operations to be non-blocking in-memory work serialized by "the
// pool's internal mutex."
type Pool struct {
	name     string
	capacity int

	mu    sync.Mutex
	root  *treeNode
	index map[string]*node
	head  *node // most-recently-used sentinel-adjacent node
	tail  *node // least-recently-used
	size  int

	hits  int64
	miss  int64
	evict int64
}

// NewPool creates a pool that holds at most capacity entries, evicting
// the least-recently-used entry once full (spec §4.7 "Admission
// policy"). capacity must be positive.
func NewPool(name string, capacity int) *Pool {
	if capacity <= 0 {
		panic("cache: NewPool requires a positive capacity")
	}
	return &Pool{
		name:     name,
		capacity: capacity,
		root:     &treeNode{children: map[string]*treeNode{}},
		index:    map[string]*node{},
	}
}

func splitKey(key string) []string {
	return strings.Split(key, ":")
}

// Get returns the cached value for key and whether it was present,
// moving a hit to the head of the LRU list.
func (p *Pool) Get(key string) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.index[key]
	if !ok {
		p.miss++
		return nil, false
	}
	p.hits++
	p.moveToFront(n)
	return n.value, true
}

// Set stores value under key. size is an admission-weight hint (for
// example the serialized byte length of a record list); callers that do
// not track size can pass 1. Pool-level size caps (spec §4.7's per-pool
// "skip if ..." rules) are enforced by the caller before calling Set —
// Pool itself only enforces the entry-count capacity.
func (p *Pool) Set(key string, value interface{}, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n, ok := p.index[key]; ok {
		n.value = value
		p.size += size - n.size
		n.size = size
		p.moveToFront(n)
		return
	}

	leaf := p.ensureTreeNode(key)
	n := &node{key: key, value: value, size: size, leafOf: leaf}
	leaf.entry = n
	p.index[key] = n
	p.size += size
	p.pushFront(n)

	if len(p.index) > p.capacity {
		p.evictTail()
	}
}

// ensureTreeNode walks (creating as needed) the chain of treeNodes for
// key's ":"-delimited segments and returns the terminal node.
func (p *Pool) ensureTreeNode(key string) *treeNode {
	cur := p.root
	for _, seg := range splitKey(key) {
		child, ok := cur.children[seg]
		if !ok {
			child = &treeNode{segment: seg, parent: cur, children: map[string]*treeNode{}}
			cur.children[seg] = child
		}
		cur = child
	}
	return cur
}

// Invalidate removes a single key.
func (p *Pool) Invalidate(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.index[key]; ok {
		p.removeNode(n)
	}
}

// InvalidatePrefix removes every key whose segment sequence is exactly
// prefix's segments or extends them (spec §4.7 "Pattern invalidation"):
// it navigates the tree to the node addressed by prefix's segments in
// one descent, then recursively deletes that subtree. Cost is
// O(keys-under-prefix), not O(pool-size), because only the addressed
// subtree is ever visited.
func (p *Pool) InvalidatePrefix(prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.root
	for _, seg := range splitKey(prefix) {
		child, ok := cur.children[seg]
		if !ok {
			return // nothing under this prefix
		}
		cur = child
	}
	p.deleteSubtree(cur)
	p.pruneAncestors(cur)
}

// InvalidatePattern validates and applies the one pattern grammar spec
// §9 allows: a literal key, or "<prefix>:*" with exactly one trailing
// wildcard. Any other shape — an internal wildcard, more than one "*",
// or a "*" not immediately preceded by ":" — is rejected as
// CodeInvalidPattern, keeping pattern delete from degenerating into an
// O(pool-size) scan dressed up as a glob.
func (p *Pool) InvalidatePattern(pattern string) error {
	prefix, err := ParsePattern(pattern)
	if err != nil {
		return err
	}
	p.InvalidatePrefix(prefix)
	return nil
}

// ParsePattern validates pattern against spec §9's grammar and returns
// the prefix to invalidate. A pattern with no "*" is treated as a
// literal single-key prefix (deleting at most that one key).
func ParsePattern(pattern string) (string, error) {
	count := strings.Count(pattern, "*")
	switch count {
	case 0:
		return pattern, nil
	case 1:
		if !strings.HasSuffix(pattern, ":*") {
			return "", apperror.Newf(apperror.CodeInvalidPattern, "wildcard must be a trailing %q segment: %q", ":*", pattern)
		}
		return strings.TrimSuffix(pattern, ":*"), nil
	default:
		return "", apperror.Newf(apperror.CodeInvalidPattern, "pattern may contain at most one wildcard: %q", pattern)
	}
}

// deleteSubtree removes every materialized key at or under sub from the
// LRU list and flat index, then drops sub's own children map so its
// treeNodes become unreachable garbage. It does not prune sub itself
// from its parent — the caller (InvalidatePrefix) does that once, after
// the whole deletion, via pruneAncestors.
func (p *Pool) deleteSubtree(sub *treeNode) {
	if sub.entry != nil {
		p.unlinkFromIndexAndList(sub.entry)
		sub.entry = nil
	}
	for _, child := range sub.children {
		p.deleteSubtree(child)
	}
	sub.children = map[string]*treeNode{}
}

// pruneAncestors removes now-empty branch nodes walking up from start
// toward the root (spec §4.7 "eviction drops the tail and prunes any
// now-empty branch ancestors"), stopping at the first ancestor that
// still has a materialized key or another child.
func (p *Pool) pruneAncestors(start *treeNode) {
	for cur := start; cur != nil && cur.parent != nil; cur = cur.parent {
		if cur.entry != nil || len(cur.children) > 0 {
			return
		}
		delete(cur.parent.children, cur.segment)
	}
}

// removeNode deletes a single materialized key: unlink it from the LRU
// list and flat index, clear its tree leaf, then prune any ancestor
// branch nodes left empty by the removal.
func (p *Pool) removeNode(n *node) {
	leaf := n.leafOf
	p.unlinkFromIndexAndList(n)
	leaf.entry = nil
	p.pruneAncestors(leaf)
}

func (p *Pool) unlinkFromIndexAndList(n *node) {
	delete(p.index, n.key)
	p.size -= n.size
	p.unlink(n)
}

// evictTail drops the least-recently-used node, the only mechanism spec
// §4.7 specifies for capacity overflow.
func (p *Pool) evictTail() {
	if p.tail == nil {
		return
	}
	victim := p.tail
	p.removeNode(victim)
	p.evict++
}

// --- shared doubly-linked LRU list -----------------------------------

func (p *Pool) pushFront(n *node) {
	n.prev = nil
	n.next = p.head
	if p.head != nil {
		p.head.prev = n
	}
	p.head = n
	if p.tail == nil {
		p.tail = n
	}
}

func (p *Pool) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		p.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		p.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (p *Pool) moveToFront(n *node) {
	if p.head == n {
		return
	}
	p.unlink(n)
	p.pushFront(n)
}

// Reset clears every entry in the pool without counting the clear as an
// eviction, for test harnesses that need a known-empty cache between
// scenarios (the /test-utils/reset endpoint).
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root = &treeNode{children: map[string]*treeNode{}}
	p.index = map[string]*node{}
	p.head, p.tail = nil, nil
	p.size = 0
}

// Len returns the number of entries currently cached.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.index)
}

// Size returns the sum of the admission-weight hints passed to Set for
// every entry currently cached.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Stats returns a snapshot of the pool's hit/miss/eviction counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Hits: p.hits, Misses: p.miss, Evictions: p.evict}
}

// Hierarchy bundles the four pools spec §4.7 names: pods, streams,
// single records, and record lists (ranges/lists/unique views).
type Hierarchy struct {
	Pods          *Pool
	Streams       *Pool
	SingleRecords *Pool
	RecordLists   *Pool
}

// Sizes configures the per-pool capacities for NewHierarchy.
type Sizes struct {
	Pods          int
	Streams       int
	SingleRecords int
	RecordLists   int
}

// DefaultSizes are the capacities from spec §4.7's pool table.
func DefaultSizes() Sizes {
	return Sizes{Pods: 1000, Streams: 5000, SingleRecords: 10000, RecordLists: 500}
}

// NewHierarchy builds the four pools described in spec §4.7.
func NewHierarchy(s Sizes) *Hierarchy {
	return &Hierarchy{
		Pods:          NewPool("pods", s.Pods),
		Streams:       NewPool("streams", s.Streams),
		SingleRecords: NewPool("single_records", s.SingleRecords),
		RecordLists:   NewPool("record_lists", s.RecordLists),
	}
}

// InvalidateStream drops a stream's own cache entry along with every
// single-record and record-list entry keyed under it, which is the
// cascade spec §4.7 requires on append, delete, and permission changes.
// streamPrefix is the common "pod:P:stream:{path}" prefix shared by the
// stream's own metadata key and every record/list key nested under it.
func (h *Hierarchy) InvalidateStream(streamPrefix string) {
	h.Streams.InvalidatePrefix(streamPrefix)
	h.SingleRecords.InvalidatePrefix(streamPrefix)
	h.RecordLists.InvalidatePrefix(streamPrefix)
}

// InvalidatePod drops a pod's own entry along with every stream, record,
// and record-list entry nested under it (spec §4.7, pod deletion cascade
// and owner-change invalidation, "pod:P:*").
func (h *Hierarchy) InvalidatePod(podKey string) {
	h.Pods.Invalidate(podKey)
	h.Streams.InvalidatePrefix(podKey)
	h.SingleRecords.InvalidatePrefix(podKey)
	h.RecordLists.InvalidatePrefix(podKey)
}

// Reset clears all four pools, for the /test-utils/reset endpoint.
func (h *Hierarchy) Reset() {
	h.Pods.Reset()
	h.Streams.Reset()
	h.SingleRecords.Reset()
	h.RecordLists.Reset()
}
