package digest

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

type treeRecord struct {
	relPath string
	kind    string
	payload string
}

// OfTree computes a deterministic digest of the directory tree at root.
// Each entry contributes its slash-separated relative path, its type and
// its payload (content digest for files, target for symlinks), in sorted
// path order. Modes and timestamps are ignored.
func OfTree(root string, algo Algorithm) (Digest, error) {
	records := make([]treeRecord, 0, 64)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		rec := treeRecord{relPath: filepath.ToSlash(rel)}
		switch {
		case d.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			rec.kind = "symlink"
			rec.payload = filepath.ToSlash(target)
		case d.Type().IsRegular():
			sum, err := Of(path, algo)
			if err != nil {
				return err
			}
			rec.kind = "file"
			rec.payload = sum.Sum
		case d.IsDir():
			rec.kind = "dir"
		default:
			return fmt.Errorf("unsupported file type in tree digest: %s", path)
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return Digest{}, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].relPath < records[j].relPath
	})

	h, err := NewHasher(algo)
	if err != nil {
		return Digest{}, err
	}
	for _, rec := range records {
		if _, err := io.WriteString(h, rec.relPath+"\n"+rec.kind+"\n"+rec.payload+"\n"); err != nil {
			return Digest{}, err
		}
	}
	return h.Digest(), nil
}
