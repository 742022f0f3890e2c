// Package storage owns the on-disk upload tree. Entities persist canonical
// slash-separated keys relative to the upload root ("processed/<id>_processed.mp4");
// filesystem paths and public URLs are always derived from those keys here.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	DirOriginal   = "original"
	DirProcessed  = "processed"
	DirThumbnails = "thumbnails"
)

// Keys are the storage keys reserved for a single upload.
type Keys struct {
	ID        string
	Original  string
	Processed string
	Thumbnail string
}

// Layout resolves storage keys under a root directory.
type Layout struct {
	root string
}

func NewLayout(root string) *Layout {
	return &Layout{root: filepath.Clean(root)}
}

// Root returns the upload root directory.
func (l *Layout) Root() string {
	return l.root
}

// EnsureDirs creates the original, processed and thumbnails directories.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{DirOriginal, DirProcessed, DirThumbnails} {
		if err := os.MkdirAll(filepath.Join(l.root, dir), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return nil
}

// NewKeys reserves a fresh set of keys. ext is the original file extension
// without the dot; uniqueness comes from a random UUID so concurrent uploads
// never share a path.
func (l *Layout) NewKeys(ext string) Keys {
	id := uuid.NewString()
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	original := id
	if ext != "" {
		original = id + "." + ext
	}
	return Keys{
		ID:        id,
		Original:  path.Join(DirOriginal, original),
		Processed: path.Join(DirProcessed, id+"_processed.mp4"),
		Thumbnail: path.Join(DirThumbnails, id+"_thumb.jpg"),
	}
}

// Path converts a key to a filesystem path under the root.
func (l *Layout) Path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Exists reports whether the file behind key is present.
func (l *Layout) Exists(key string) bool {
	info, err := os.Stat(l.Path(key))
	return err == nil && !info.IsDir()
}

// Size returns the size in bytes of the file behind key.
func (l *Layout) Size(key string) (int64, error) {
	info, err := os.Stat(l.Path(key))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes the files behind keys, ignoring ones that do not exist.
// All keys are attempted; the joined errors are returned.
func (l *Layout) Remove(keys ...string) error {
	var errs []error
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := os.Remove(l.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublicURL formats the externally visible URL for a storage key.
func PublicURL(prefix, key string) string {
	prefix = strings.TrimRight(prefix, "/")
	return prefix + "/" + strings.TrimLeft(key, "/")
}
