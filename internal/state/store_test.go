package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/internal/manifest"
)

func sampleRun(project string) *Run {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Run{
		Version:       Version,
		ProjectFolder: project,
		Template:      TemplateRef{ID: "sm64", Source: "/templates/sm64", Format: "toml"},
		BaseData:      &BaseDataRef{Path: "/roms/baserom.z64", Digest: "sha256:abc"},
		ResumeToken:   "sha256:feed",
		Status:        RunRunning,
		Current:       1,
		Steps: []StepRecord{
			{ID: "01-fetch-aaaaaaaa", Kind: "fetch", Status: StepCompleted},
			{ID: "02-extract-bbbbbbbb", Kind: "extract", Status: StepInProgress, Entries: []string{"gcc/", "gcc/bin/gcc"}},
			{ID: "03-run-cccccccc", Kind: "run", Status: StepPending},
		},
		StartedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveAndLoad(t *testing.T) {
	project := t.TempDir()
	var store Store

	original := sampleRun(project)
	if err := store.Save(original); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(project)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.ResumeToken != "sha256:feed" || loaded.Current != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.Steps) != 3 || len(loaded.Steps[1].Entries) != 2 {
		t.Fatalf("steps = %+v", loaded.Steps)
	}
	if !loaded.StartedAt.Equal(original.StartedAt) {
		t.Errorf("started_at = %v", loaded.StartedAt)
	}

	// No temp files are left next to the state file.
	entries, err := os.ReadDir(Dir(project))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Store{}.Load(t.TempDir())
	if !errors.Is(err, ErrNoRun) {
		t.Fatalf("expected ErrNoRun, got %v", err)
	}
}

func TestLoadUnparseableIsCorrupt(t *testing.T) {
	project := t.TempDir()
	writeState(t, project, "version: 1\nsteps: [unterminated\n")

	_, err := Store{}.Load(project)
	if !failure.Is(err, failure.StateCorrupt) {
		t.Fatalf("expected StateCorrupt, got %v", err)
	}
	// The file is never discarded.
	if _, statErr := os.Stat(Path(project)); statErr != nil {
		t.Errorf("state file should be kept: %v", statErr)
	}
}

func TestLoadTruncatedIsCorrupt(t *testing.T) {
	project := t.TempDir()
	writeState(t, project, "version: 1\n")

	_, err := Store{}.Load(project)
	if !failure.Is(err, failure.StateCorrupt) {
		t.Fatalf("expected StateCorrupt, got %v", err)
	}
}

func TestLoadToleratesUnknownFieldsAndKinds(t *testing.T) {
	project := t.TempDir()
	writeState(t, project, `
version: 1
project_folder: /p
template: {id: sm64, source: /t, format: toml, channel: beta}
resume_token: sha256:feed
status: running
current: 1
telemetry: {enabled: false}
steps:
  - {id: 01-fetch-aaaaaaaa, kind: fetch, status: completed}
  - {id: 02-mount-bbbbbbbb, kind: mount, status: pending, options: [ro]}
`)
	run, err := Store{}.Load(project)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if run.Steps[1].Kind != "mount" {
		t.Errorf("kind = %q", run.Steps[1].Kind)
	}
}

func TestValidate(t *testing.T) {
	run := sampleRun("/p")
	if errs := Validate(run); len(errs) != 0 {
		t.Fatalf("valid run reported %v", errs)
	}

	run.Steps[2].Status = StepInProgress
	run.Steps[0].ID = run.Steps[1].ID
	run.Current = 7
	run.Version = 9
	errs := Validate(run)
	if len(errs) != 4 {
		t.Errorf("errors = %v, want 4", errs)
	}

	done := sampleRun("/p")
	done.Status = RunCompleted
	if errs := Validate(done); len(errs) != 1 {
		t.Errorf("completed run with pending steps: %v", errs)
	}
}

func TestManifestCopy(t *testing.T) {
	project := t.TempDir()
	var store Store
	data := []byte("format_version = 1\n")

	if err := store.SaveManifest(project, data, manifest.FormatTOML); err != nil {
		t.Fatalf("SaveManifest: %v", err)
	}
	src, err := store.LoadManifest(project, manifest.FormatTOML)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if string(src.Data) != string(data) || filepath.Base(src.Location) != "manifest.toml" {
		t.Errorf("source = %+v", src)
	}

	_, err = store.LoadManifest(project, manifest.FormatYAML)
	if !failure.Is(err, failure.StateCorrupt) {
		t.Errorf("missing copy: expected StateCorrupt, got %v", err)
	}
}

func TestReset(t *testing.T) {
	project := t.TempDir()
	var store Store
	if err := store.Save(sampleRun(project)); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveManifest(project, []byte("x"), manifest.FormatTOML); err != nil {
		t.Fatal(err)
	}
	kept := filepath.Join(project, "tools", "gcc")
	if err := os.MkdirAll(kept, 0755); err != nil {
		t.Fatal(err)
	}

	if err := store.Reset(project); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := store.Load(project); !errors.Is(err, ErrNoRun) {
		t.Errorf("state should be gone: %v", err)
	}
	if _, err := os.Stat(kept); err != nil {
		t.Errorf("provisioned files must survive a reset: %v", err)
	}
}

func TestAcquire(t *testing.T) {
	project := t.TempDir()
	var store Store

	lock, err := store.Acquire(project)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := store.Acquire(project); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire: expected ErrLocked, got %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}

	again, err := store.Acquire(project)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	defer again.Release()
}

func TestAcquireTakesOverStaleLock(t *testing.T) {
	project := t.TempDir()
	if err := os.MkdirAll(Dir(project), 0755); err != nil {
		t.Fatal(err)
	}
	// A pid far above any pid_max cannot belong to a live process.
	if err := os.WriteFile(filepath.Join(Dir(project), lockName), []byte("2147483646\n"), 0644); err != nil {
		t.Fatal(err)
	}

	lock, err := Store{}.Acquire(project)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()
}

func writeState(t *testing.T, project, content string) {
	t.Helper()
	if err := os.MkdirAll(Dir(project), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(Path(project), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
