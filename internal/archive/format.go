package archive

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/mholt/archiver"
	"github.com/nwaples/rardecode"
	"github.com/pierrec/lz4/v4"
)

type entryType int

const (
	typeFile entryType = iota
	typeDir
	typeSymlink
	typeHardlink
	typeOther
)

// entry is one archive member in a format-neutral shape.
type entry struct {
	name     string // slash-separated, as stored in the archive
	typ      entryType
	mode     os.FileMode
	size     int64 // -1 when unknown
	linkname string
	body     io.Reader
}

type walkFunc func(e entry) error

// nativeTarSuffixes are compressed tarballs decoded here rather than by archiver.
var nativeTarSuffixes = map[string]func(io.Reader) (io.ReadCloser, error){
	".tar.zst": openZstd,
	".tzst":    openZstd,
	".tar.lz4": openLz4,
	".tlz4":    openLz4,
}

func openZstd(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

func openLz4(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func nativeOpener(name string) func(io.Reader) (io.ReadCloser, error) {
	lower := strings.ToLower(name)
	for suffix, open := range nativeTarSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return open
		}
	}
	return nil
}

// Supported reports whether name has an extension the installer can unpack.
func Supported(name string) error {
	if nativeOpener(name) != nil {
		return nil
	}
	format, err := archiver.ByExtension(name)
	if err != nil {
		return fmt.Errorf("unrecognised archive format for '%s'", name)
	}
	if _, ok := format.(archiver.Walker); !ok {
		return fmt.Errorf("'%s' is a compressed file, not an archive", name)
	}
	return nil
}

// walk visits every member of the archive at path in archive order.
// Errors returned by fn stop the walk and are returned unchanged.
func walk(path string, fn walkFunc) error {
	if open := nativeOpener(path); open != nil {
		return walkCompressedTar(path, open, fn)
	}

	var stopErr error
	err := archiver.Walk(path, func(f archiver.File) error {
		e, err := fromArchiverFile(f)
		if err != nil {
			stopErr = err
			return archiver.ErrStopWalk
		}
		if err := fn(e); err != nil {
			stopErr = err
			return archiver.ErrStopWalk
		}
		return nil
	})
	if stopErr != nil {
		return stopErr
	}
	if err != nil {
		return fmt.Errorf("reading archive %s: %w", path, err)
	}
	return nil
}

func walkCompressedTar(path string, open func(io.Reader) (io.ReadCloser, error), fn walkFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", path, err)
	}
	defer f.Close()

	r, err := open(f)
	if err != nil {
		return fmt.Errorf("opening decompressor for %s: %w", path, err)
	}
	defer r.Close()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive %s: %w", path, err)
		}
		if err := fn(fromTarHeader(hdr, tr)); err != nil {
			return err
		}
	}
}

func fromTarHeader(hdr *tar.Header, body io.Reader) entry {
	e := entry{
		name:     hdr.Name,
		mode:     os.FileMode(hdr.Mode).Perm(),
		size:     hdr.Size,
		linkname: hdr.Linkname,
		body:     body,
	}
	switch hdr.Typeflag {
	case tar.TypeReg:
		e.typ = typeFile
	case tar.TypeDir:
		e.typ = typeDir
	case tar.TypeSymlink:
		e.typ = typeSymlink
	case tar.TypeLink:
		e.typ = typeHardlink
	default:
		e.typ = typeOther
	}
	return e
}

func fromArchiverFile(f archiver.File) (entry, error) {
	switch h := f.Header.(type) {
	case *tar.Header:
		return fromTarHeader(h, f), nil
	case zip.FileHeader:
		e := entry{
			name: strings.ReplaceAll(h.Name, `\`, "/"),
			mode: h.Mode().Perm(),
			size: int64(h.UncompressedSize64),
			body: f,
		}
		switch {
		case h.Mode()&os.ModeSymlink != 0:
			target, err := io.ReadAll(io.LimitReader(f, 4096))
			if err != nil {
				return entry{}, fmt.Errorf("reading symlink %s: %w", h.Name, err)
			}
			e.typ = typeSymlink
			e.linkname = string(target)
		case h.FileInfo().IsDir() || strings.HasSuffix(h.Name, "/"):
			e.typ = typeDir
		default:
			e.typ = typeFile
		}
		return e, nil
	case *rardecode.FileHeader:
		e := entry{
			name: strings.ReplaceAll(h.Name, `\`, "/"),
			mode: h.Mode().Perm(),
			size: h.UnPackedSize,
			body: f,
		}
		if h.IsDir {
			e.typ = typeDir
		} else {
			e.typ = typeFile
		}
		return e, nil
	default:
		return entry{}, fmt.Errorf("unsupported archive header %T for %s", f.Header, f.Name())
	}
}
