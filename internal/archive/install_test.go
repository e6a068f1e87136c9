package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/lucretia/decomplicator/internal/failure"
)

type member struct {
	name     string
	body     string
	dir      bool
	symlink  string
	hardlink string
	mode     int64
}

var toolchain = []member{
	{name: "gcc/", dir: true},
	{name: "gcc/bin/", dir: true},
	{name: "gcc/bin/mips-gcc", body: "#!/bin/sh\necho gcc\n", mode: 0755},
	{name: "gcc/include/stdio.h", body: "#pragma once\n"},
	{name: "gcc/bin/cc", symlink: "mips-gcc"},
}

func writeTar(t *testing.T, w io.Writer, members []member) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Mode: 0644}
		if m.mode != 0 {
			hdr.Mode = m.mode
		}
		switch {
		case m.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0755
		case m.symlink != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = m.symlink
		case m.hardlink != "":
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = m.hardlink
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(m.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(m.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
}

func makeTarGz(t *testing.T, dir string, members []member) string {
	t.Helper()
	path := filepath.Join(dir, "bundle.tar.gz")
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	writeTar(t, gz, members)
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func makeTarZst(t *testing.T, dir string, members []member) string {
	t.Helper()
	path := filepath.Join(dir, "bundle.tar.zst")
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	writeTar(t, zw, members)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func makeTarLz4(t *testing.T, dir string, members []member) string {
	t.Helper()
	path := filepath.Join(dir, "bundle.tar.lz4")
	var buf bytes.Buffer
	lw := lz4.NewWriter(&buf)
	writeTar(t, lw, members)
	if err := lw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func makeZip(t *testing.T, dir string, members []member) string {
	t.Helper()
	path := filepath.Join(dir, "bundle.zip")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		if m.symlink != "" || m.hardlink != "" {
			continue
		}
		w, err := zw.Create(m.name)
		if err != nil {
			t.Fatal(err)
		}
		if !m.dir {
			if _, err := w.Write([]byte(m.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestInstallFormats(t *testing.T) {
	makers := map[string]func(*testing.T, string, []member) string{
		"tar.gz":  makeTarGz,
		"tar.zst": makeTarZst,
		"tar.lz4": makeTarLz4,
		"zip":     makeZip,
	}
	for name, mk := range makers {
		t.Run(name, func(t *testing.T) {
			archivePath := mk(t, t.TempDir(), toolchain)
			target := filepath.Join(t.TempDir(), "tools")

			in := &Installer{}
			res, err := in.Install(context.Background(), archivePath, target, Options{})
			if err != nil {
				t.Fatalf("Install: %v", err)
			}
			if len(res.Written) == 0 {
				t.Fatal("nothing written")
			}
			if got := readFile(t, filepath.Join(target, "gcc", "include", "stdio.h")); got != "#pragma once\n" {
				t.Errorf("stdio.h = %q", got)
			}
			if name != "zip" && runtime.GOOS != "windows" {
				info, err := os.Stat(filepath.Join(target, "gcc", "bin", "mips-gcc"))
				if err != nil {
					t.Fatal(err)
				}
				if info.Mode().Perm()&0100 == 0 {
					t.Error("executable bit lost")
				}
				link, err := os.Readlink(filepath.Join(target, "gcc", "bin", "cc"))
				if err != nil || link != "mips-gcc" {
					t.Errorf("symlink = %q, %v", link, err)
				}
			}
		})
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	archivePath := makeTarGz(t, t.TempDir(), toolchain)
	target := t.TempDir()
	in := &Installer{}

	if _, err := in.Install(context.Background(), archivePath, target, Options{}); err != nil {
		t.Fatalf("first Install: %v", err)
	}
	stdio := filepath.Join(target, "gcc", "include", "stdio.h")
	before, err := os.Stat(stdio)
	if err != nil {
		t.Fatal(err)
	}

	res, err := in.Install(context.Background(), archivePath, target, Options{})
	if err != nil {
		t.Fatalf("second Install: %v", err)
	}
	for _, w := range res.Written {
		if w == "gcc/include/stdio.h" || w == "gcc/bin/mips-gcc" || w == "gcc/bin/cc" {
			t.Errorf("%s was rewritten on an identical re-run", w)
		}
	}
	after, err := os.Stat(stdio)
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(before, after) {
		t.Error("unchanged file was replaced")
	}
}

func TestInstallRepairsPartialResult(t *testing.T) {
	archivePath := makeTarGz(t, t.TempDir(), toolchain)
	target := t.TempDir()
	in := &Installer{}

	if _, err := in.Install(context.Background(), archivePath, target, Options{}); err != nil {
		t.Fatal(err)
	}
	// Simulate an interrupted run: one member truncated, one missing.
	stdio := filepath.Join(target, "gcc", "include", "stdio.h")
	if err := os.WriteFile(stdio, []byte("#prag"), 0644); err != nil {
		t.Fatal(err)
	}
	gcc := filepath.Join(target, "gcc", "bin", "mips-gcc")
	if err := os.Remove(gcc); err != nil {
		t.Fatal(err)
	}

	res, err := in.Install(context.Background(), archivePath, target, Options{})
	if err != nil {
		t.Fatalf("re-Install: %v", err)
	}
	if got := readFile(t, stdio); got != "#pragma once\n" {
		t.Errorf("stdio.h not repaired: %q", got)
	}
	if got := readFile(t, gcc); got != "#!/bin/sh\necho gcc\n" {
		t.Errorf("mips-gcc not restored: %q", got)
	}
	wantWritten := map[string]bool{"gcc/include/stdio.h": true, "gcc/bin/mips-gcc": true}
	for _, w := range res.Written {
		if !wantWritten[w] && w != "gcc/" && w != "gcc/bin/" {
			t.Errorf("unexpected rewrite of %s", w)
		}
	}
}

func TestInstallSameSizeDifferentContent(t *testing.T) {
	archivePath := makeTarGz(t, t.TempDir(), []member{{name: "a.txt", body: "abcdef"}})
	target := t.TempDir()
	if err := os.WriteFile(filepath.Join(target, "a.txt"), []byte("abcxyz"), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := (&Installer{}).Install(context.Background(), archivePath, target, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(target, "a.txt")); got != "abcdef" {
		t.Errorf("content = %q", got)
	}
	if len(res.Written) != 1 {
		t.Errorf("Written = %v", res.Written)
	}
}

func TestInstallDoneSetAndCallbacks(t *testing.T) {
	archivePath := makeTarGz(t, t.TempDir(), toolchain)
	target := t.TempDir()
	in := &Installer{}
	if _, err := in.Install(context.Background(), archivePath, target, Options{}); err != nil {
		t.Fatal(err)
	}

	var seen []string
	var lastDone, lastTotal int
	res, err := in.Install(context.Background(), archivePath, target, Options{
		Done:     map[string]bool{"gcc/include/stdio.h": true},
		OnEntry:  func(name string) error { seen = append(seen, name); return nil },
		Progress: func(done, total int) { lastDone, lastTotal = done, total },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != len(toolchain) {
		t.Errorf("OnEntry saw %d members, want %d", len(seen), len(toolchain))
	}
	if lastDone != len(toolchain) || lastTotal != len(toolchain) {
		t.Errorf("progress = %d/%d", lastDone, lastTotal)
	}
	found := false
	for _, s := range res.Skipped {
		if s == "gcc/include/stdio.h" {
			found = true
		}
	}
	if !found {
		t.Error("member in Done set should be skipped")
	}
}

func TestInstallStripComponents(t *testing.T) {
	archivePath := makeTarGz(t, t.TempDir(), toolchain)
	target := t.TempDir()

	res, err := (&Installer{}).Install(context.Background(), archivePath, target, Options{StripComponents: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(target, "include", "stdio.h")); got != "#pragma once\n" {
		t.Errorf("stdio.h = %q", got)
	}
	if len(res.Ignored) != 1 || res.Ignored[0] != "gcc/" {
		t.Errorf("Ignored = %v", res.Ignored)
	}
}

func TestInstallRejectsUnsafeMembers(t *testing.T) {
	cases := map[string][]member{
		"dotdot":       {{name: "ok.txt", body: "ok"}, {name: "../evil.txt", body: "x"}, {name: "after.txt", body: "after"}},
		"nested":       {{name: "ok.txt", body: "ok"}, {name: "a/../../evil.txt", body: "x"}, {name: "after.txt", body: "after"}},
		"absolute":     {{name: "ok.txt", body: "ok"}, {name: "/tmp/evil.txt", body: "x"}, {name: "after.txt", body: "after"}},
		"symlink":      {{name: "ok.txt", body: "ok"}, {name: "link", symlink: "../../etc"}, {name: "after.txt", body: "after"}},
		"abs-symlink":  {{name: "ok.txt", body: "ok"}, {name: "link", symlink: "/etc/passwd"}, {name: "after.txt", body: "after"}},
		"hardlink-out": {{name: "ok.txt", body: "ok"}, {name: "hl", hardlink: "../outside"}, {name: "after.txt", body: "after"}},
	}
	for name, members := range cases {
		t.Run(name, func(t *testing.T) {
			archivePath := makeTarGz(t, t.TempDir(), members)
			parent := t.TempDir()
			target := filepath.Join(parent, "tools")

			_, err := (&Installer{}).Install(context.Background(), archivePath, target, Options{})
			if !failure.Is(err, failure.UnsafeArchiveEntry) {
				t.Fatalf("expected UnsafeArchiveEntry, got %v", err)
			}
			if _, err := os.Stat(filepath.Join(target, "after.txt")); !os.IsNotExist(err) {
				t.Error("members after the unsafe one must not be written")
			}
			if _, err := os.Lstat(filepath.Join(target, "link")); !os.IsNotExist(err) {
				t.Error("unsafe symlink must not be created")
			}
			if _, err := os.Stat(filepath.Join(parent, "evil.txt")); !os.IsNotExist(err) {
				t.Error("file escaped the install folder")
			}
		})
	}
}

func TestInstallSymlinkThroughEarlierLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not reliable on Windows")
	}
	// "up" points at the root; "up/x/esc" then resolves one level above it.
	members := []member{
		{name: "x/", dir: true},
		{name: "up", symlink: "."},
		{name: "deep/", dir: true},
		{name: "deep/alias", symlink: "../x"},
		{name: "up/esc", symlink: "../outside"},
	}
	archivePath := makeTarGz(t, t.TempDir(), members)
	_, err := (&Installer{}).Install(context.Background(), archivePath, t.TempDir(), Options{})
	if !failure.Is(err, failure.UnsafeArchiveEntry) {
		t.Fatalf("expected UnsafeArchiveEntry, got %v", err)
	}
}

func TestInstallHonoursCancellation(t *testing.T) {
	archivePath := makeTarGz(t, t.TempDir(), toolchain)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Installer{}).Install(ctx, archivePath, t.TempDir(), Options{})
	if !failure.Is(err, failure.Cancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestSupported(t *testing.T) {
	for _, name := range []string{"a.tar.gz", "a.tgz", "a.zip", "a.tar.xz", "a.tar.bz2", "a.tar", "a.tar.zst", "a.tar.lz4", "a.rar"} {
		if err := Supported(name); err != nil {
			t.Errorf("Supported(%q): %v", name, err)
		}
	}
	for _, name := range []string{"a.txt", "a.gz", "rom.z64"} {
		if err := Supported(name); err == nil {
			t.Errorf("Supported(%q) should fail", name)
		}
	}
}

func TestMemberPath(t *testing.T) {
	got, ok, err := memberPath("./gcc/bin/", 0)
	if err != nil || !ok || got != "gcc/bin" {
		t.Errorf("memberPath = %q, %v, %v", got, ok, err)
	}
	if _, _, err := memberPath(`..\evil`, 0); err == nil {
		t.Error("backslash traversal should be rejected")
	}
	if _, ok, _ := memberPath("top/", 1); ok {
		t.Error("stripped-away member should be ignored")
	}
}
