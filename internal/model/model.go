// Package model holds the data-model types shared across the storage
// packages (spec §3): Pod, Stream, and Record, plus the name-validation
// rules every store enforces before touching the database.
package model

import (
	"regexp"
	"time"
)

// AccessPermission is the access mode for a stream (spec §4.6).
type AccessPermission string

const (
	// AccessPublic allows anonymous reads; authenticated writes.
	AccessPublic AccessPermission = "public"
	// AccessPrivate allows only the creator/owner.
	AccessPrivate AccessPermission = "private"
)

// IsPermissionPath reports whether access names a permission stream path,
// i.e. it has the form "/<path>" rather than "public" or "private".
func IsPermissionPath(access string) bool {
	return len(access) > 0 && access[0] == '/'
}

// Pod is a tenant namespace addressed by a DNS-safe subdomain label
// (spec §3 "Pod").
type Pod struct {
	Name      string                 `json:"name"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// podNamePattern enforces spec §3: lowercase, alphanumeric + hyphen,
// 1-63 chars, must start with a letter.
var podNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,62}$`)

// ValidPodName reports whether name satisfies the DNS-label rules in
// spec §3 (also used for INVALID_POD_NAME, spec §7).
func ValidPodName(name string) bool {
	return podNamePattern.MatchString(name)
}

// Stream is one node in a pod's stream tree (spec §3 "Stream").
type Stream struct {
	ID                int64                  `json:"-"`
	Pod               string                 `json:"-"`
	Name              string                 `json:"name"`
	ParentID          *int64                 `json:"-"`
	Path              string                 `json:"path"`
	UserID            string                 `json:"-"`
	AccessPermission  string                 `json:"access_permission"`
	HasSchema         bool                   `json:"has_schema"`
	SchemaDocument    []byte                 `json:"-"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// IsSystem reports whether the stream's name begins with "." (spec §4.2:
// "System streams (names beginning with '.')").
func (s Stream) IsSystem() bool {
	return len(s.Name) > 0 && s.Name[0] == '.'
}

// streamNamePattern: a stream name is one path segment (spec §3: "name is
// one path segment (no slashes)").
var streamNamePattern = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)

// ValidStreamName reports whether name is a legal single path segment.
func ValidStreamName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	return streamNamePattern.MatchString(name)
}

// Record is one immutable entry in a stream (spec §3 "Record").
type Record struct {
	ID            int64     `json:"-"`
	StreamID      int64     `json:"-"`
	Index         int64     `json:"index"`
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	Content       []byte    `json:"-"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	ContentHash   string    `json:"content_hash"`
	Hash          string    `json:"hash"`
	PreviousHash  string    `json:"previous_hash"`
	UserID        string    `json:"user_id"`
	Headers       map[string]string `json:"headers,omitempty"`
	Storage       string    `json:"-"`
	Deleted       bool      `json:"-"`
	Purged        bool      `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// recordNamePattern enforces spec §4.3: non-empty, <=255 chars,
// [A-Za-z0-9._-]+, cannot start or end with a period, no slashes.
var recordNamePattern = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)

// ValidRecordName reports whether name satisfies spec §4.3's constraints
// on record names.
func ValidRecordName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if name[0] == '.' || name[len(name)-1] == '.' {
		return false
	}
	return recordNamePattern.MatchString(name)
}

// IsBinaryContentType reports whether a content type is treated as
// base64-encoded binary for hashing purposes (spec §4.3 step 4).
func IsBinaryContentType(contentType string) bool {
	switch {
	case hasPrefix(contentType, "image/"),
		hasPrefix(contentType, "video/"),
		hasPrefix(contentType, "audio/"),
		contentType == "application/pdf",
		contentType == "application/zip",
		contentType == "application/octet-stream":
		return true
	default:
		return false
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
