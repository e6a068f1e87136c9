package cache

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/lucretia/decomplicator/internal/digest"
)

func writeFile(t *testing.T, dir, name, content string) (string, digest.Digest) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path, digest.OfBytes([]byte(content), digest.SHA256)
}

func TestImportAndLookup(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src, d := writeFile(t, t.TempDir(), "gcc.tar.gz", "toolchain bytes")

	path, err := c.Import(Artifacts, d, src)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	got, ok := c.Lookup(Artifacts, d)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != path {
		t.Errorf("Lookup path = %q, want %q", got, path)
	}
	if c.Has(BaseData, d) {
		t.Error("namespaces must be separate")
	}

	// Import twice should not error.
	if _, err := c.Import(Artifacts, d, src); err != nil {
		t.Fatalf("second Import: %v", err)
	}
}

func TestImportRejectsWrongDigest(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src, _ := writeFile(t, t.TempDir(), "rom.z64", "real rom")
	wrong := digest.OfBytes([]byte("other rom"), digest.SHA256)

	if _, err := c.Import(BaseData, wrong, src); err == nil {
		t.Fatal("expected error for digest mismatch")
	}
	if c.Has(BaseData, wrong) {
		t.Error("mismatched content must not be stored")
	}
}

func TestLookupMiss(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup(Artifacts, digest.OfBytes([]byte("nope"), digest.SHA256)); ok {
		t.Fatal("expected cache miss")
	}
}

func TestLookupSelfHeals(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src, d := writeFile(t, t.TempDir(), "a", "original")
	path, err := c.Import(Artifacts, d, src)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("corrupted"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Lookup(Artifacts, d); ok {
		t.Fatal("corrupt entry should be a miss")
	}
	if c.Has(Artifacts, d) {
		t.Error("corrupt entry should have been removed")
	}
}

func TestMaterialize(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src, d := writeFile(t, t.TempDir(), "rom", "rom bytes")
	if _, err := c.Import(BaseData, d, src); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "project", "baserom.z64")
	ok, err := c.Materialize(BaseData, d, dst)
	if err != nil || !ok {
		t.Fatalf("Materialize: ok=%v err=%v", ok, err)
	}
	if err := digest.Verify(dst, d); err != nil {
		t.Errorf("materialized file: %v", err)
	}

	ok, err = c.Materialize(BaseData, digest.OfBytes([]byte("missing"), digest.SHA256), dst)
	if err != nil || ok {
		t.Errorf("missing entry: ok=%v err=%v", ok, err)
	}
}

func TestEntriesAreIndependentCopies(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src, d := writeFile(t, t.TempDir(), "gcc.tar.gz", "toolchain bytes")
	path, err := c.Import(Artifacts, d, src)
	if err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0444 {
			t.Errorf("entry mode = %o, want 444", perm)
		}
	}

	// Appending to the imported file must not reach the entry.
	appendTo(t, src, "more")
	if _, ok := c.Lookup(Artifacts, d); !ok {
		t.Fatal("entry changed with its source")
	}

	dst := filepath.Join(t.TempDir(), "downloads", "gcc.tar.gz")
	if ok, err := c.Materialize(Artifacts, d, dst); err != nil || !ok {
		t.Fatalf("Materialize: ok=%v err=%v", ok, err)
	}
	appendTo(t, dst, "more")
	if err := os.Chmod(dst, 0755); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup(Artifacts, d); !ok {
		t.Fatal("entry changed with a project copy")
	}
	if info, err := os.Stat(path); err == nil && runtime.GOOS != "windows" && info.Mode().Perm() != 0444 {
		t.Errorf("entry mode = %o after chmod of the copy", info.Mode().Perm())
	}

	if err := c.Remove(Artifacts, d); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if c.Has(Artifacts, d) {
		t.Error("entry not removed")
	}
}

func appendTo(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(text); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestListAndClean(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	srcDir := t.TempDir()
	a, da := writeFile(t, srcDir, "a", "aaa")
	b, db := writeFile(t, srcDir, "b", "bbb")
	if _, err := c.Import(Artifacts, da, a); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Import(BaseData, db, b); err != nil {
		t.Fatal(err)
	}
	stray := c.entryPath(Artifacts, da) + ".tmp-999"
	if err := os.WriteFile(stray, []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Namespace != Artifacts || !entries[0].Digest.Equal(da) || entries[0].Size != 3 {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}

	removed, err := c.Clean()
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(removed) != 1 || removed[0] != stray {
		t.Errorf("Clean removed %v", removed)
	}

	if err := c.Remove(Artifacts, da); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if c.Has(Artifacts, da) {
		t.Error("entry should be gone")
	}
}

func TestDefaultDir(t *testing.T) {
	t.Setenv("DECOMPLICATOR_CACHE_DIR", "")
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
	if got := DefaultDir(); got != filepath.Join("/tmp/xdg", "decomplicator") {
		t.Errorf("DefaultDir = %q", got)
	}
	t.Setenv("DECOMPLICATOR_CACHE_DIR", "/srv/cache")
	if got := DefaultDir(); got != "/srv/cache" {
		t.Errorf("DefaultDir = %q", got)
	}
}
