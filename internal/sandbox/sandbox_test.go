package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func realTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestValidatePathWithinRoot(t *testing.T) {
	root := realTempDir(t)

	resolved, err := ValidatePath(root, "tools/gcc/bin")
	if err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}
	if want := filepath.Join(root, "tools", "gcc", "bin"); resolved != want {
		t.Errorf("got %q, want %q", resolved, want)
	}

	self, err := ValidatePath(root, ".")
	if err != nil {
		t.Fatalf("ValidatePath(.): %v", err)
	}
	if self != root {
		t.Errorf("got %q, want %q", self, root)
	}
}

func TestValidatePathRejectsEscapes(t *testing.T) {
	root := realTempDir(t)
	for _, p := range []string{"../escape.txt", "a/../../escape.txt", "a/b/c/../../../../x"} {
		_, err := ValidatePath(root, p)
		if err == nil {
			t.Errorf("ValidatePath(%q) should fail", p)
			continue
		}
		if !strings.Contains(err.Error(), "outside the project folder") {
			t.Errorf("ValidatePath(%q): unexpected error: %v", p, err)
		}
	}

	if _, err := ValidatePath(root, "/etc/passwd"); err == nil {
		t.Error("absolute paths should be rejected")
	}
}

func TestValidatePathSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not reliable on Windows")
	}
	root := realTempDir(t)
	outside := realTempDir(t)

	if err := os.Symlink(outside, filepath.Join(root, "escape-link")); err != nil {
		t.Fatal(err)
	}
	if _, err := ValidatePath(root, "escape-link/file.txt"); err == nil {
		t.Error("symlink leaving the root should be rejected")
	}

	if err := os.MkdirAll(filepath.Join(root, "real"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}
	resolved, err := ValidatePath(root, "link/file.txt")
	if err != nil {
		t.Fatalf("internal symlink should be allowed: %v", err)
	}
	if want := filepath.Join(root, "real", "file.txt"); resolved != want {
		t.Errorf("got %q, want %q", resolved, want)
	}
}

func TestWithin(t *testing.T) {
	root := filepath.FromSlash("/proj")
	cases := map[string]bool{
		"/proj":          true,
		"/proj/a/b":      true,
		"/proj2/a":       false,
		"/proj/../other": false,
		"/":              false,
	}
	for p, want := range cases {
		if got := Within(root, filepath.FromSlash(p)); got != want {
			t.Errorf("Within(%q, %q) = %v, want %v", root, p, got, want)
		}
	}
}

func TestIsLocalRel(t *testing.T) {
	good := []string{"a", "a/b/c.txt", "./a", "a/../b"}
	bad := []string{"", "/abs", "../up", "a/../../up", `\root`}
	for _, p := range good {
		if !IsLocalRel(p) {
			t.Errorf("IsLocalRel(%q) = false, want true", p)
		}
	}
	for _, p := range bad {
		if IsLocalRel(p) {
			t.Errorf("IsLocalRel(%q) = true, want false", p)
		}
	}
}

func TestSafeWrite(t *testing.T) {
	root := realTempDir(t)

	if err := SafeWrite(root, "a/b/c/file.txt", []byte("original"), 0644); err != nil {
		t.Fatalf("SafeWrite: %v", err)
	}
	if err := SafeWrite(root, "a/b/c/file.txt", []byte("updated"), 0600); err != nil {
		t.Fatalf("SafeWrite overwrite: %v", err)
	}

	path := filepath.Join(root, "a", "b", "c", "file.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "updated" {
		t.Errorf("content = %q, want %q", data, "updated")
	}
	if runtime.GOOS != "windows" {
		info, _ := os.Stat(path)
		if info.Mode().Perm() != 0600 {
			t.Errorf("perm = %04o, want 0600", info.Mode().Perm())
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}

	if err := SafeWrite(root, "../escape.txt", []byte("bad"), 0644); err == nil {
		t.Error("expected error for escape attempt")
	}
}

func TestSafeRemove(t *testing.T) {
	root := realTempDir(t)
	if err := SafeWrite(root, "dir/to-delete.txt", []byte("bye"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := SafeRemove(root, "dir"); err != nil {
		t.Fatalf("SafeRemove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "dir")); !os.IsNotExist(err) {
		t.Error("directory should be removed")
	}
	if err := SafeRemove(root, "never-existed"); err != nil {
		t.Errorf("removing a missing path should succeed: %v", err)
	}
	if err := SafeRemove(root, "."); err == nil {
		t.Error("removing the project folder must be refused")
	}
	if err := SafeRemove(root, "../escape.txt"); err == nil {
		t.Error("expected error for escape attempt")
	}
}

func TestSafeMkdirAll(t *testing.T) {
	root := realTempDir(t)
	for i := 0; i < 2; i++ {
		if err := SafeMkdirAll(root, "a/b/c", 0755); err != nil {
			t.Fatalf("SafeMkdirAll #%d: %v", i, err)
		}
	}
	info, err := os.Stat(filepath.Join(root, "a", "b", "c"))
	if err != nil || !info.IsDir() {
		t.Fatalf("directory should exist: %v", err)
	}
	if err := SafeMkdirAll(root, "../escape", 0755); err == nil {
		t.Error("expected error for escape attempt")
	}
}
