package attachments

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore deletes attachment payloads by storage reference.
type BlobStore interface {
	Delete(ctx context.Context, ref string) error
}

// DiskStore is a BlobStore over a local directory. Storage references are
// paths relative to the base directory.
type DiskStore struct {
	base string
}

// NewDiskStore creates a DiskStore rooted at base.
func NewDiskStore(base string) *DiskStore {
	return &DiskStore{base: base}
}

// Delete removes the payload file. A reference that no longer exists counts
// as deleted: the sweep must be safe to retry after a partial failure.
func (s *DiskStore) Delete(_ context.Context, ref string) error {
	path := filepath.Join(s.base, ref)
	if !strings.HasPrefix(path, filepath.Clean(s.base)+string(os.PathSeparator)) {
		return fmt.Errorf("storage ref %q escapes base directory", ref)
	}

	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing blob %q: %w", ref, err)
	}
	return nil
}
