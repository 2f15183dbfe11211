// Package resolver implements the path resolution decision from spec
// §4.1: given a pod and a raw URL path, decide whether it names a
// stream, a record inside a parent stream, or neither. The disambiguation
// is "the system's central naming decision" (spec §4.1 Rationale) and is
// kept to two indexed lookups rather than a tree walk, the same way the
// teacher's collection routes resolve a request path against
// `collectionFunctions` without walking the whole configuration tree.
package resolver

import "strings"

// Kind discriminates the three possible resolutions.
type Kind int

const (
	// KindNotFound means neither a stream nor a record matched path.
	KindNotFound Kind = iota
	// KindStream means the full path names a stream.
	KindStream
	// KindRecord means path's prefix names a stream and the last segment
	// names a record within it.
	KindRecord
)

// Result is the outcome of resolving one path.
type Result struct {
	Kind Kind

	// Populated when Kind == KindStream.
	StreamID   int64
	StreamPath string

	// Populated when Kind == KindRecord.
	RecordStreamID   int64
	RecordStreamPath string
	RecordName       string
}

// StreamLookup is the subset of the Stream Store the resolver needs: an
// indexed lookup by full path. It is declared here, not imported from
// streamstore, so resolver has no dependency on the store's persistence
// details — only on the one operation it actually calls.
type StreamLookup interface {
	// LookupByPath returns the stream's id, whether it exists, and nil
	// error on a successful lookup (a miss is (_, false, nil), not an
	// error: NotFound is a normal resolution outcome, not a failure).
	LookupByPath(pod, path string) (streamID int64, ok bool, err error)
}

// Resolve implements spec §4.1's disambiguation rules.
//
// With hasIndexQuery set (the request carried "?i=..."), the entire path
// MUST name a stream; a miss resolves to NotFound even if a record with
// that exact path exists, because an index query is only meaningful
// against a stream.
//
// Without hasIndexQuery: first the full path is tried as a stream path;
// on a miss, the path is split at its last segment and that prefix is
// tried as a stream path, with the tail becoming the candidate record
// name. A second miss resolves to NotFound.
func Resolve(lookup StreamLookup, pod, rawPath string, hasIndexQuery bool) (Result, error) {
	path := normalize(rawPath)

	if hasIndexQuery {
		id, ok, err := lookup.LookupByPath(pod, path)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{Kind: KindNotFound}, nil
		}
		return Result{Kind: KindStream, StreamID: id, StreamPath: path}, nil
	}

	if id, ok, err := lookup.LookupByPath(pod, path); err != nil {
		return Result{}, err
	} else if ok {
		return Result{Kind: KindStream, StreamID: id, StreamPath: path}, nil
	}

	prefix, name, hasPrefix := splitLast(path)
	if !hasPrefix {
		return Result{Kind: KindNotFound}, nil
	}

	id, ok, err := lookup.LookupByPath(pod, prefix)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Kind: KindNotFound}, nil
	}

	return Result{
		Kind:             KindRecord,
		RecordStreamID:   id,
		RecordStreamPath: prefix,
		RecordName:       name,
	}, nil
}

// ForWrite implements spec §4.1's write-path rule: the last segment is
// always the record name, and the prefix is the stream path that must
// exist or be created by the caller. It never consults the database; it
// is pure string splitting, since write resolution has no ambiguity to
// resolve.
func ForWrite(rawPath string) (streamPath, recordName string, ok bool) {
	path := normalize(rawPath)
	return splitLastOK(path)
}

func normalize(path string) string {
	path = strings.Trim(path, "/")
	return path
}

func splitLast(path string) (prefix, last string, ok bool) {
	return splitLastOK(path)
}

func splitLastOK(path string) (prefix, last string, ok bool) {
	if path == "" {
		return "", "", false
	}
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path, true
	}
	return path[:idx], path[idx+1:], true
}
