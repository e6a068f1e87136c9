package config

import (
	"strings"
	"testing"
	"time"
)

func TestMergeScalarsOverlayWins(t *testing.T) {
	base := &Settings{
		Version:  1,
		CacheDir: "/var/cache/decomplicator",
		Fetch:    FetchSettings{MaxAttempts: 3, Timeout: time.Minute, UserAgent: "base"},
		Log:      LogSettings{Level: "info", Format: "text"},
	}
	overlay := &Settings{
		Fetch: FetchSettings{MaxAttempts: 8},
		Run:   RunSettings{CheckpointEvery: 16},
		Log:   LogSettings{Level: "debug"},
	}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Version != 1 {
		t.Errorf("version = %d, want 1", merged.Version)
	}
	if merged.CacheDir != "/var/cache/decomplicator" {
		t.Errorf("cache_dir = %q, want base value", merged.CacheDir)
	}
	if merged.Fetch.MaxAttempts != 8 {
		t.Errorf("max_attempts = %d, want 8", merged.Fetch.MaxAttempts)
	}
	if merged.Fetch.Timeout != time.Minute || merged.Fetch.UserAgent != "base" {
		t.Errorf("fetch = %+v, want base timeout and user agent kept", merged.Fetch)
	}
	if merged.Run.CheckpointEvery != 16 {
		t.Errorf("checkpoint_every = %d, want 16", merged.Run.CheckpointEvery)
	}
	if merged.Log.Level != "debug" || merged.Log.Format != "text" {
		t.Errorf("log = %+v, want level debug, format text", merged.Log)
	}
}

func TestMergeVariablesDeepMerge(t *testing.T) {
	base := &Settings{Variables: map[string]string{"region": "us", "jobs": "4"}}
	overlay := &Settings{Variables: map[string]string{"jobs": "8", "compiler": "ido"}}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := map[string]string{"region": "us", "jobs": "8", "compiler": "ido"}
	for k, v := range want {
		if merged.Variables[k] != v {
			t.Errorf("%s = %q, want %q", k, merged.Variables[k], v)
		}
	}
}

func TestMergeVariablesBothEmpty(t *testing.T) {
	merged, err := Merge(&Settings{}, &Settings{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Variables != nil {
		t.Errorf("variables = %v, want nil", merged.Variables)
	}
}

func TestMergeTemplatesByName(t *testing.T) {
	base := &Settings{Templates: []TemplateAlias{
		{Name: "oot", Location: "https://base.example/oot.toml"},
		{Name: "sm64", Location: "/srv/templates/sm64"},
	}}
	overlay := &Settings{Templates: []TemplateAlias{
		{Name: "oot", Location: "https://mirror.example/oot.toml"},
		{Name: "mm", Location: "/srv/templates/mm"},
	}}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged.Templates) != 3 {
		t.Fatalf("templates = %d, want 3", len(merged.Templates))
	}
	loc, ok := merged.Template("oot")
	if !ok || loc != "https://mirror.example/oot.toml" {
		t.Errorf("oot = %q, %v, want overlay location", loc, ok)
	}
	if _, ok := merged.Template("sm64"); !ok {
		t.Error("base-only template sm64 was dropped")
	}
}

func TestMergeVersionMismatch(t *testing.T) {
	_, err := Merge(&Settings{Version: 1}, &Settings{Version: 2})
	if err == nil {
		t.Fatal("expected version mismatch error")
	}
	if !strings.Contains(err.Error(), "version mismatch") {
		t.Errorf("error = %q, want version mismatch", err)
	}
}

func TestMergeVersionInherited(t *testing.T) {
	tests := []struct {
		base, overlay, want int
	}{
		{0, 0, 0},
		{1, 0, 1},
		{0, 1, 1},
		{1, 1, 1},
	}
	for _, tt := range tests {
		merged, err := Merge(&Settings{Version: tt.base}, &Settings{Version: tt.overlay})
		if err != nil {
			t.Fatalf("Merge(%d, %d): %v", tt.base, tt.overlay, err)
		}
		if merged.Version != tt.want {
			t.Errorf("Merge(%d, %d).Version = %d, want %d", tt.base, tt.overlay, merged.Version, tt.want)
		}
	}
}

func TestMergeNil(t *testing.T) {
	s := &Settings{CacheDir: "/c"}
	if got, _ := Merge(nil, s); got != s {
		t.Error("Merge(nil, s) should return s")
	}
	if got, _ := Merge(s, nil); got != s {
		t.Error("Merge(s, nil) should return s")
	}
}

func TestMergeAllEmpty(t *testing.T) {
	merged, err := MergeAll(nil)
	if err != nil {
		t.Fatalf("MergeAll: %v", err)
	}
	if merged == nil {
		t.Fatal("MergeAll(nil) returned nil settings")
	}
}
