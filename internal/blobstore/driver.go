// Package blobstore implements the External Storage Adapter from spec
// §4.8: large record content is offloaded outside the database and
// referenced by an opaque locator string. Adapted from the teacher's
// kss (Kurbisio Storage Service) package, generalized from a
// presigned-URL companion-file model to storeFile/getFileUrl, the shape
// spec §4.8 names explicitly.
package blobstore

import "context"

// Driver is the interface the Record Store consumes. The locator
// returned by StoreFile is opaque to callers (spec §9 "Open question");
// it must be round-tripped to GetFileURL unexamined.
type Driver interface {
	// StoreFile writes bytes under a location derived from pod,
	// streamPath, name, contentHash, and ext, and returns an opaque
	// locator for later retrieval.
	StoreFile(ctx context.Context, pod, streamPath, name, contentHash string, data []byte, ext string) (locator string, err error)

	// GetFileURL returns a URL the HTTP layer can redirect a reader to
	// for the content named by locator (spec §6: 302 with ETag and
	// Cache-Control).
	GetFileURL(ctx context.Context, locator string) (url string, err error)

	// Delete removes the blob named by locator. Used by hard delete
	// (purge); a soft delete never calls this (spec §4.4).
	Delete(ctx context.Context, locator string) error
}

// Type names a supported driver implementation.
type Type string

const (
	// TypeNone disables external storage; the Record Store stores
	// everything inline regardless of size.
	TypeNone Type = ""
	// TypeLocal offloads to a local filesystem directory tree.
	TypeLocal Type = "local"
	// TypeS3 offloads to an S3-compatible object store.
	TypeS3 Type = "s3"
)

// Configuration selects and parameterizes a Driver.
type Configuration struct {
	Type Type

	// MinExternalSize is the byte-size threshold from spec §4.3 step 6:
	// content at or above this size is offloaded; below it, stored inline.
	MinExternalSize int64

	Local *LocalConfiguration
	S3    *S3Configuration
}

// NewDriver builds the Driver selected by cfg.Type. A TypeNone
// configuration returns (nil, nil); the Record Store must check for a
// nil Driver and skip offloading entirely (spec §4.3 step 6's "if
// external storage is enabled").
func NewDriver(cfg Configuration) (Driver, error) {
	switch cfg.Type {
	case TypeNone:
		return nil, nil
	case TypeLocal:
		return NewLocalDriver(*cfg.Local)
	case TypeS3:
		return NewS3Driver(*cfg.S3)
	default:
		return nil, nil
	}
}
