package digest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucretia/decomplicator/internal/failure"
)

const helloSHA256 = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestParse(t *testing.T) {
	d, err := Parse("sha256:" + strings.ToUpper(helloSHA256))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.Algorithm != SHA256 || d.Sum != helloSHA256 {
		t.Errorf("got %+v", d)
	}

	bare, err := Parse(helloSHA256)
	if err != nil {
		t.Fatalf("Parse bare: %v", err)
	}
	if !bare.Equal(d) {
		t.Errorf("bare hex should parse as sha256: %+v", bare)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []string{
		"md5:" + helloSHA256,
		"sha256:abc",
		"sha256:" + strings.Repeat("zz", 32),
		"",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) should fail", c)
		}
	}
}

func TestOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := Of(path, SHA256)
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	if d.String() != "sha256:"+helloSHA256 {
		t.Errorf("got %s", d)
	}

	again, err := Of(path, SHA256)
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	if !again.Equal(d) {
		t.Error("digest is not deterministic")
	}
}

func TestBlake3Empty(t *testing.T) {
	d := OfBytes(nil, BLAKE3)
	want := "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	if d.Sum != want {
		t.Errorf("blake3(\"\") = %s, want %s", d.Sum, want)
	}
}

func TestVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path, MustParse("sha256:"+helloSHA256)); err != nil {
		t.Errorf("Verify: %v", err)
	}

	wrong := OfBytes([]byte("goodbye"), SHA256)
	err := Verify(path, wrong)
	if !failure.Is(err, failure.IntegrityError) {
		t.Errorf("expected IntegrityError, got %v", err)
	}

	err = Verify(filepath.Join(t.TempDir(), "missing"), wrong)
	if !failure.Is(err, failure.IOFailure) {
		t.Errorf("expected IOFailure for missing file, got %v", err)
	}
}

func TestTextRoundTrip(t *testing.T) {
	var d Digest
	if err := d.UnmarshalText([]byte("sha256:" + helloSHA256)); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	text, _ := d.MarshalText()
	if string(text) != "sha256:"+helloSHA256 {
		t.Errorf("MarshalText = %s", text)
	}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOfTreeStable(t *testing.T) {
	files := map[string]string{
		"bin/gcc":         "elf",
		"include/stdio.h": "#pragma once",
		"README":          "readme",
	}
	a, b := t.TempDir(), t.TempDir()
	writeTree(t, a, files)
	writeTree(t, b, files)

	da, err := OfTree(a, SHA256)
	if err != nil {
		t.Fatalf("OfTree: %v", err)
	}
	db, err := OfTree(b, SHA256)
	if err != nil {
		t.Fatalf("OfTree: %v", err)
	}
	if !da.Equal(db) {
		t.Errorf("identical trees differ: %s vs %s", da, db)
	}

	writeTree(t, b, map[string]string{"README": "changed"})
	dc, err := OfTree(b, SHA256)
	if err != nil {
		t.Fatalf("OfTree: %v", err)
	}
	if dc.Equal(da) {
		t.Error("content change did not change the tree digest")
	}
}
