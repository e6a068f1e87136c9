// Package archive unpacks toolchain and scaffold archives into a project
// folder. Every member is checked against the destination before anything
// is written, and re-running an installation over a partial result only
// writes the members that are missing or different.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/internal/sandbox"
)

// Options controls one installation.
type Options struct {
	// Done lists members (by archive name) already placed by an earlier,
	// interrupted installation. Those that still exist are skipped unread.
	Done map[string]bool

	// StripComponents drops this many leading path segments from every
	// member name. Members with no segments left are ignored.
	StripComponents int

	// OnEntry is called after each member is placed or confirmed. An error
	// aborts the installation.
	OnEntry func(name string) error

	// Progress, if set, receives the number of members handled and the
	// total member count.
	Progress func(done, total int)
}

// Result lists what an installation did, by archive member name.
type Result struct {
	Written []string
	Skipped []string
	Ignored []string // device nodes, fifos and members emptied by StripComponents
}

// Installer unpacks archives.
type Installer struct {
	Logger *slog.Logger
}

// Install unpacks archivePath into targetDir, creating targetDir if needed.
//
// A member whose path, symlink target or hardlink target would land outside
// targetDir fails the installation with UnsafeArchiveEntry before anything
// is written for it. Cancellation is observed between members and while
// copying member content.
func (in *Installer) Install(ctx context.Context, archivePath, targetDir string, opts Options) (*Result, error) {
	if err := Supported(archivePath); err != nil {
		return nil, failure.New(failure.MalformedManifest, "extract", err)
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, failure.New(failure.IOFailure, "extract", fmt.Errorf("creating %s: %w", targetDir, err))
	}
	root, err := filepath.EvalSymlinks(targetDir)
	if err != nil {
		return nil, failure.New(failure.IOFailure, "extract", err)
	}

	total := -1
	if opts.Progress != nil {
		total, err = count(archivePath)
		if err != nil {
			return nil, failure.New(failure.IOFailure, "extract", err)
		}
	}

	result := &Result{}
	handled := 0
	err = walk(archivePath, func(e entry) error {
		if err := ctx.Err(); err != nil {
			return failure.New(failure.Cancelled, "extract", err)
		}

		placed, err := in.place(ctx, root, e, opts)
		if err != nil {
			return err
		}
		switch placed {
		case written:
			result.Written = append(result.Written, e.name)
		case skipped:
			result.Skipped = append(result.Skipped, e.name)
		case ignored:
			result.Ignored = append(result.Ignored, e.name)
		}

		if placed != ignored && opts.OnEntry != nil {
			if err := opts.OnEntry(e.name); err != nil {
				return err
			}
		}
		handled++
		if opts.Progress != nil {
			opts.Progress(handled, total)
		}
		return nil
	})
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			return result, fe
		}
		if ctx.Err() != nil {
			return result, failure.New(failure.Cancelled, "extract", ctx.Err())
		}
		return result, failure.New(failure.IOFailure, "extract", err)
	}

	in.logger().Debug("archive installed",
		"archive", archivePath, "target", targetDir,
		"written", len(result.Written), "skipped", len(result.Skipped))
	return result, nil
}

type outcome int

const (
	written outcome = iota
	skipped
	ignored
)

func (in *Installer) place(ctx context.Context, root string, e entry, opts Options) (outcome, error) {
	rel, ok, err := memberPath(e.name, opts.StripComponents)
	if err != nil {
		return 0, unsafeEntry(e.name, err)
	}
	if !ok {
		return ignored, nil
	}

	// The parent is resolved through any symlinks; the member's own name is
	// not, so an existing link at dest is replaced rather than followed.
	parent, err := sandbox.ValidatePath(root, filepath.FromSlash(path.Dir(rel)))
	if err != nil {
		return 0, unsafeEntry(e.name, err)
	}
	dest := filepath.Join(parent, path.Base(rel))

	switch e.typ {
	case typeDir:
		if err := os.MkdirAll(dest, e.mode|0700); err != nil {
			return 0, err
		}
		return written, nil

	case typeSymlink:
		return placeSymlink(root, parent, dest, e)

	case typeHardlink:
		return placeHardlink(root, dest, e, opts.StripComponents)

	case typeFile:
		if opts.Done[e.name] {
			if _, err := os.Lstat(dest); err == nil {
				return skipped, nil
			}
		}
		return placeFile(ctx, dest, e)

	default:
		in.logger().Debug("ignoring special archive member", "name", e.name)
		return ignored, nil
	}
}

// memberPath cleans an archive name and applies StripComponents. It
// reports false for members that become empty.
func memberPath(name string, strip int) (string, bool, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") || filepath.VolumeName(name) != "" {
		return "", false, fmt.Errorf("absolute member path")
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", false, fmt.Errorf("member path contains '..'")
		}
	}

	clean := path.Clean(name)
	if clean == "." {
		return "", false, nil
	}
	if strip > 0 {
		parts := strings.Split(clean, "/")
		if len(parts) <= strip {
			return "", false, nil
		}
		clean = strings.Join(parts[strip:], "/")
	}
	if !sandbox.IsLocalRel(clean) {
		return "", false, fmt.Errorf("member path is not local")
	}
	return clean, true, nil
}

func placeSymlink(root, parent, dest string, e entry) (outcome, error) {
	target := e.linkname
	if target == "" || strings.HasPrefix(target, "/") || filepath.IsAbs(target) {
		return 0, unsafeEntry(e.name, fmt.Errorf("symlink target '%s' is absolute", target))
	}

	resolved := filepath.Join(parent, filepath.FromSlash(target))
	if !sandbox.Within(root, resolved) {
		return 0, unsafeEntry(e.name, fmt.Errorf("symlink target '%s' leaves the install folder", target))
	}
	relToRoot, err := filepath.Rel(root, resolved)
	if err != nil {
		return 0, unsafeEntry(e.name, err)
	}
	if _, err := sandbox.ValidatePath(root, relToRoot); err != nil {
		return 0, unsafeEntry(e.name, err)
	}

	if existing, err := os.Readlink(dest); err == nil && existing == target {
		return skipped, nil
	}
	if err := os.MkdirAll(parent, 0755); err != nil {
		return 0, err
	}
	if err := os.RemoveAll(dest); err != nil {
		return 0, err
	}
	if err := os.Symlink(target, dest); err != nil {
		return 0, fmt.Errorf("creating symlink %s: %w", e.name, err)
	}
	return written, nil
}

func placeHardlink(root, dest string, e entry, strip int) (outcome, error) {
	rel, ok, err := memberPath(e.linkname, strip)
	if err != nil || !ok {
		return 0, unsafeEntry(e.name, fmt.Errorf("hardlink target '%s' is not inside the archive", e.linkname))
	}
	src, err := sandbox.ValidatePath(root, filepath.FromSlash(rel))
	if err != nil {
		return 0, unsafeEntry(e.name, err)
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("hardlink %s: target %s not yet extracted: %w", e.name, e.linkname, err)
	}
	if destInfo, err := os.Stat(dest); err == nil && os.SameFile(srcInfo, destInfo) {
		return skipped, nil
	}
	if err := sandbox.Link(src, dest); err != nil {
		return 0, err
	}
	return written, nil
}

func placeFile(ctx context.Context, dest string, e entry) (outcome, error) {
	body := io.Reader(&contextReader{ctx: ctx, r: e.body})

	same, replay, release, err := compareExisting(dest, body, e.size)
	defer release()
	if err != nil {
		return 0, err
	}
	if same {
		return skipped, nil
	}

	mode := e.mode
	if mode == 0 {
		mode = 0644
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, replay); err != nil {
		return 0, err
	}
	if err := tmp.Chmod(mode); err != nil {
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	// The old file may still be open for replay; close it before replacing.
	release()
	if info, err := os.Lstat(dest); err == nil && !info.Mode().IsRegular() {
		if err := os.RemoveAll(dest); err != nil {
			return 0, err
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, err
	}
	committed = true
	return written, nil
}

const compareChunk = 32 * 1024

// compareExisting reports whether the file at dest already holds exactly the
// bytes of r. When it does not, replay yields the full content of r,
// including any prefix consumed by the comparison. release must be called
// once replay is no longer needed.
func compareExisting(dest string, r io.Reader, size int64) (bool, io.Reader, func(), error) {
	noop := func() {}
	info, err := os.Lstat(dest)
	if err != nil || !info.Mode().IsRegular() || (size >= 0 && info.Size() != size) {
		return false, r, noop, nil
	}
	f, err := os.Open(dest)
	if err != nil {
		return false, r, noop, nil
	}
	var once sync.Once
	release := func() { once.Do(func() { _ = f.Close() }) }

	want := make([]byte, compareChunk)
	have := make([]byte, compareChunk)
	var matched int64
	for {
		n, rerr := io.ReadFull(r, want)
		if rerr != nil && !errors.Is(rerr, io.EOF) && !errors.Is(rerr, io.ErrUnexpectedEOF) {
			return false, nil, release, rerr
		}
		m, _ := io.ReadFull(f, have[:n])
		if m != n || !bytes.Equal(want[:n], have[:n]) {
			// The consumed prefix equals the first matched bytes of dest.
			replay := io.MultiReader(
				io.NewSectionReader(f, 0, matched),
				bytes.NewReader(append([]byte(nil), want[:n]...)),
				r,
			)
			return false, replay, release, nil
		}
		matched += int64(n)
		if rerr != nil {
			// Entry exhausted. Equal only if dest is too.
			extra, _ := f.Read(have[:1])
			if extra == 0 {
				return true, nil, release, nil
			}
			return false, io.MultiReader(io.NewSectionReader(f, 0, matched)), release, nil
		}
	}
}

func count(archivePath string) (int, error) {
	n := 0
	err := walk(archivePath, func(entry) error {
		n++
		return nil
	})
	return n, err
}

func unsafeEntry(name string, err error) error {
	return failure.New(failure.UnsafeArchiveEntry, "extract", fmt.Errorf("member '%s': %w", name, err)).
		WithHint("the archive tries to write outside its install folder; it will not be unpacked")
}

func (in *Installer) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return slog.New(slog.DiscardHandler)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
