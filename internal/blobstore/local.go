package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/webpods-org/webpods/core/logger"
)

// LocalConfiguration configures LocalDriver.
type LocalConfiguration struct {
	// BasePath is the filesystem root files are written under.
	BasePath string
	// BaseURL is prefixed to a locator to build the redirect URL
	// GetFileURL returns.
	BaseURL string
}

// LocalDriver offloads blobs to a local filesystem directory tree, laid
// out exactly as spec §4.8 describes:
// <basePath>/<pod>/<streamPath>/<contentHash><ext>. Adapted from the
// teacher's kss.LocalFilesystem file-writing code, with the
// presigned-URL signing scheme dropped — the locator here is already
// opaque and unguessable by construction (content-hash-named), so no
// separate signature is needed to protect it.
type LocalDriver struct {
	basePath string
	baseURL  string
}

// NewLocalDriver creates a LocalDriver rooted at cfg.BasePath.
func NewLocalDriver(cfg LocalConfiguration) (*LocalDriver, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local blobstore: BasePath is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0700); err != nil {
		return nil, fmt.Errorf("local blobstore: create base path: %w", err)
	}
	return &LocalDriver{basePath: cfg.BasePath, baseURL: strings.TrimSuffix(cfg.BaseURL, "/")}, nil
}

func locatorFor(pod, streamPath, contentHash, ext string) string {
	return filepath.ToSlash(filepath.Join(pod, streamPath, contentHash+ext))
}

// StoreFile implements Driver.
func (d *LocalDriver) StoreFile(_ context.Context, pod, streamPath, _, contentHash string, data []byte, ext string) (string, error) {
	locator := locatorFor(pod, streamPath, contentHash, ext)
	fullPath := filepath.Join(d.basePath, filepath.FromSlash(locator))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0700); err != nil {
		return "", fmt.Errorf("local blobstore: mkdir: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0600); err != nil {
		return "", fmt.Errorf("local blobstore: write: %w", err)
	}

	logger.Default().Debugf("blobstore: stored %d bytes at %s", len(data), locator)
	return locator, nil
}

// GetFileURL implements Driver.
func (d *LocalDriver) GetFileURL(_ context.Context, locator string) (string, error) {
	if strings.Contains(locator, "..") {
		return "", fmt.Errorf("local blobstore: invalid locator %q", locator)
	}
	return d.baseURL + "/" + locator, nil
}

// Delete implements Driver.
func (d *LocalDriver) Delete(_ context.Context, locator string) error {
	if strings.Contains(locator, "..") {
		return fmt.Errorf("local blobstore: invalid locator %q", locator)
	}
	return os.Remove(filepath.Join(d.basePath, filepath.FromSlash(locator)))
}
