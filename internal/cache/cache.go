// Package cache is a content-addressed file store shared by all projects
// on a machine. Downloaded artifacts and imported base data files are
// kept by digest so a second project never fetches or asks for them again.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/lucretia/decomplicator/internal/digest"
	"github.com/lucretia/decomplicator/internal/sandbox"
)

// Namespace separates kinds of cached content.
type Namespace string

const (
	Artifacts Namespace = "artifacts"
	BaseData  Namespace = "basedata"
)

var namespaces = []Namespace{Artifacts, BaseData}

// Cache provides content-addressed file storage.
// Entries are verified on retrieval and removed if corrupt.
type Cache struct {
	dir string
}

// New creates a Cache at the given directory.
// The directory is created if it does not exist.
func New(dir string) (*Cache, error) {
	for _, ns := range namespaces {
		nsDir := filepath.Join(dir, string(ns))
		if err := os.MkdirAll(nsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", nsDir, err)
		}
	}
	return &Cache{dir: dir}, nil
}

// DefaultDir returns the default cache directory.
// Uses DECOMPLICATOR_CACHE_DIR, then XDG_CACHE_HOME, then ~/.cache/decomplicator.
func DefaultDir() string {
	if dir := os.Getenv("DECOMPLICATOR_CACHE_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "decomplicator")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return filepath.Join(os.TempDir(), "decomplicator-cache")
		}
		return filepath.Join("/tmp", "decomplicator-cache")
	}
	return filepath.Join(home, ".cache", "decomplicator")
}

// Lookup returns the path of a cached entry after re-verifying it.
// A corrupt entry is removed and reported as a miss.
func (c *Cache) Lookup(ns Namespace, d digest.Digest) (string, bool) {
	path := c.entryPath(ns, d)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	if err := digest.Verify(path, d); err != nil {
		_ = remove(path)
		return "", false
	}
	return path, true
}

// Has checks if an entry exists without verifying its content.
func (c *Cache) Has(ns Namespace, d digest.Digest) bool {
	_, err := os.Stat(c.entryPath(ns, d))
	return err == nil
}

// entryPerm is the mode of stored entries. Entries are never written in
// place, so nothing reading them can change the cache.
const entryPerm = 0444

// Import verifies the file at src against d and stores a read-only copy.
// No-op if already cached.
func (c *Cache) Import(ns Namespace, d digest.Digest, src string) (string, error) {
	if err := digest.Verify(src, d); err != nil {
		return "", fmt.Errorf("cache import: %w", err)
	}

	path := c.entryPath(ns, d)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("cache import: %w", err)
	}
	defer in.Close()

	// Concurrent imports of the same digest race only on the final rename.
	if err := sandbox.WriteFileAtomic(path, in, entryPerm); err != nil {
		return "", fmt.Errorf("storing cache entry: %w", err)
	}
	return path, nil
}

// Materialize places a writable copy of a verified cached entry at dst.
// The project copy shares nothing with the entry.
func (c *Cache) Materialize(ns Namespace, d digest.Digest, dst string) (bool, error) {
	path, ok := c.Lookup(ns, d)
	if !ok {
		return false, nil
	}
	in, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("materializing %s: %w", d, err)
	}
	defer in.Close()
	if err := sandbox.WriteFileAtomic(dst, in, 0644); err != nil {
		return false, fmt.Errorf("materializing %s: %w", d, err)
	}
	return true, nil
}

// Entry describes one cached object.
type Entry struct {
	Namespace Namespace
	Digest    digest.Digest
	Size      int64
}

// List returns every complete entry in the cache, sorted by namespace and digest.
func (c *Cache) List() ([]Entry, error) {
	var entries []Entry
	for _, ns := range namespaces {
		root := filepath.Join(c.dir, string(ns))
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || isTemp(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			parts := strings.Split(filepath.ToSlash(rel), "/")
			if len(parts) != 3 {
				return nil
			}
			dg, err := digest.Parse(parts[0] + ":" + parts[2])
			if err != nil {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			entries = append(entries, Entry{Namespace: ns, Digest: dg, Size: info.Size()})
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("listing cache: %w", err)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Namespace != entries[j].Namespace {
			return entries[i].Namespace < entries[j].Namespace
		}
		return entries[i].Digest.String() < entries[j].Digest.String()
	})
	return entries, nil
}

// Remove deletes an entry. Removing a missing entry succeeds.
func (c *Cache) Remove(ns Namespace, d digest.Digest) error {
	if err := remove(c.entryPath(ns, d)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// remove deletes a read-only entry. Windows refuses to delete files
// without write permission.
func remove(path string) error {
	if runtime.GOOS == "windows" {
		_ = os.Chmod(path, 0644)
	}
	return os.Remove(path)
}

// Clean removes leftover staging files from interrupted imports and
// returns their paths.
func (c *Cache) Clean() ([]string, error) {
	var removed []string
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isTemp(d.Name()) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed = append(removed, path)
		}
		return nil
	})
	return removed, err
}

// Size returns the total size of the cache in bytes.
func (c *Cache) Size() (int64, error) {
	var total int64
	err := filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Path returns the cache directory path.
func (c *Cache) Path() string {
	return c.dir
}

func (c *Cache) entryPath(ns Namespace, d digest.Digest) string {
	sum := d.Sum
	if len(sum) < 2 {
		return filepath.Join(c.dir, string(ns), string(d.Algorithm), sum)
	}
	return filepath.Join(c.dir, string(ns), string(d.Algorithm), sum[:2], sum)
}

func isTemp(name string) bool {
	return strings.Contains(name, ".tmp-")
}
