package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// LocalBackend stores registry objects on the filesystem under root.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a filesystem backend rooted at dir. The registry/
// layout is created beneath it.
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{root: filepath.Clean(root)}
}

// Root returns the directory the backend writes under.
func (b *LocalBackend) Root() string { return b.root }

// Location implements Backend.
func (b *LocalBackend) Location() string { return b.root }

// Path returns the filesystem path for a key.
func (b *LocalBackend) Path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

// Put writes to a temp file in the destination directory and renames it into
// place, so readers never observe a partial manifest.
func (b *LocalBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := b.writeTemp(key, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, b.Path(key)); err != nil {
		_ = os.Remove(tmp)
		return classifyFSError(key, err)
	}
	return nil
}

// PutIfAbsent writes to a temp file and hard-links it into place; link fails
// if the destination exists, which makes the create-only check atomic.
func (b *LocalBackend) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := b.writeTemp(key, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, b.Path(key)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", key, ErrExists)
		}
		return classifyFSError(key, err)
	}
	return nil
}

func (b *LocalBackend) writeTemp(key string, data []byte) (string, error) {
	dst := b.Path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", classifyFSError(key, err)
	}

	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return "", classifyFSError(key, err)
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", classifyFSError(key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", classifyFSError(key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", classifyFSError(key, err)
	}
	return name, nil
}

// Get implements Backend.
func (b *LocalBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.Path(key))
	if err != nil {
		return nil, classifyFSError(key, err)
	}
	return data, nil
}

// Exists implements Backend.
func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(b.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, classifyFSError(key, err)
	}
	return !info.IsDir(), nil
}

// List implements Backend. Temp files left by interrupted writes are skipped.
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := b.Path(strings.TrimSuffix(prefix, "/"))
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, classifyFSError(prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements Backend.
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := b.Path(key)
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classifyFSError(key, err)
	}
	// Drop the now-empty timestamp directory; ignore failures since another
	// file may legitimately live there.
	_ = os.Remove(filepath.Dir(p))
	return nil
}

// classifyFSError maps filesystem errors onto the shared taxonomy. Local I/O
// failures are never transient enough to retry.
func classifyFSError(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return core.NotFound(key, "registry entry is absent", nil)
	}
	return core.Storage(key, false, err)
}
