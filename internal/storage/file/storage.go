// Package file provides the local filesystem storage backend. All paths
// are slash separated and relative to the configured base directory.
package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/renditionlab/renditions/internal/codec"
)

// Storage reads sources from and writes artifacts to a directory tree.
type Storage struct {
	base string
}

// New creates a Storage rooted at base. An empty base leaves paths as
// given, which lets the CLI work with arbitrary directories.
func New(base string) *Storage {
	return &Storage{base: base}
}

func (s *Storage) abs(rel string) string {
	return filepath.Join(s.base, filepath.FromSlash(rel))
}

// List walks root and returns the slash-relative paths of the image files
// under it, sorted.
func (s *Storage) List(ctx context.Context, root string) ([]string, error) {
	rootAbs := s.abs(root)

	var out []string
	err := filepath.WalkDir(rootAbs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		if !codec.InputExtension(filepath.Ext(p)) {
			return nil
		}
		rel, err := filepath.Rel(rootAbs, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Strings(out)
	return out, nil
}

// Open returns a reader over the file at path.
func (s *Storage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.abs(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// Save writes src to path, creating parent directories. It returns the
// path it wrote.
func (s *Storage) Save(ctx context.Context, path string, src io.Reader, size int64) (string, error) {
	abs := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("failed to create dir for %s: %w", path, err)
	}

	f, err := os.Create(abs)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}

	return path, nil
}

// EnsureDir pre-creates one destination directory for the executor.
func (s *Storage) EnsureDir(dir string) error {
	return os.MkdirAll(s.abs(dir), 0o755)
}
