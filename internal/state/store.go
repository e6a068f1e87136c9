package state

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/internal/manifest"
	"github.com/lucretia/decomplicator/internal/sandbox"
)

const (
	// DirName is the hidden provisioning directory inside a project folder.
	DirName = manifest.ReservedDir

	FileName         = "state.yaml"
	manifestBaseName = "manifest"
)

// ErrNoRun is returned by Load when the project folder has no state file.
var ErrNoRun = errors.New("no provisioning run recorded")

// Store reads and writes run state under project folders.
type Store struct{}

// Dir returns the provisioning directory of a project folder.
func Dir(projectFolder string) string {
	return filepath.Join(projectFolder, DirName)
}

// Path returns the state file path of a project folder.
func Path(projectFolder string) string {
	return filepath.Join(Dir(projectFolder), FileName)
}

// Load reads the run recorded in projectFolder. It returns ErrNoRun if
// there is none, and a StateCorrupt failure if the file cannot be parsed or
// fails validation. Unknown fields and step kinds are accepted.
func (Store) Load(projectFolder string) (*Run, error) {
	path := Path(projectFolder)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, failure.New(failure.IOFailure, "load state", fmt.Errorf("reading %s: %w", path, err))
	}

	var run Run
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, corrupt(fmt.Errorf("parsing %s: %w", path, err))
	}
	if errs := Validate(&run); len(errs) > 0 {
		return nil, corrupt(&failure.ValidationError{Subject: "state", Errors: errs})
	}
	return &run, nil
}

func corrupt(err error) error {
	return failure.New(failure.StateCorrupt, "load state", err).
		WithHint("the progress record is unreadable; start fresh to provision this folder again")
}

// Save writes run durably: a crash during Save leaves either the previous
// record or the new one, never a partial file.
func (Store) Save(run *Run) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(run); err != nil {
		return failure.New(failure.IOFailure, "save state", fmt.Errorf("marshaling state: %w", err))
	}
	if err := enc.Close(); err != nil {
		return failure.New(failure.IOFailure, "save state", err)
	}
	if err := sandbox.WriteFileAtomic(Path(run.ProjectFolder), &buf, 0644); err != nil {
		return failure.New(failure.IOFailure, "save state", err)
	}
	return nil
}

// SaveManifest freezes the manifest a run was started from.
func (Store) SaveManifest(projectFolder string, data []byte, format manifest.Format) error {
	path := ManifestPath(projectFolder, format)
	if err := sandbox.WriteFileAtomic(path, bytes.NewReader(data), 0644); err != nil {
		return failure.New(failure.IOFailure, "save manifest copy", err)
	}
	return nil
}

// LoadManifest reads the frozen manifest copy. A missing copy means the
// state cannot be resumed and is reported as StateCorrupt.
func (Store) LoadManifest(projectFolder string, format manifest.Format) (*manifest.Source, error) {
	path := ManifestPath(projectFolder, format)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, corrupt(fmt.Errorf("manifest copy %s is missing", path))
	}
	if err != nil {
		return nil, failure.New(failure.IOFailure, "load manifest copy", err)
	}
	return &manifest.Source{Data: data, Format: format, Location: path}, nil
}

// ManifestPath returns where the frozen manifest copy lives.
func ManifestPath(projectFolder string, format manifest.Format) string {
	return filepath.Join(Dir(projectFolder), manifestBaseName+format.Ext())
}

// Reset removes the recorded run and manifest copy. Files provisioned into
// the project folder are left alone.
func (Store) Reset(projectFolder string) error {
	entries, err := os.ReadDir(Dir(projectFolder))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return failure.New(failure.IOFailure, "reset state", err)
	}
	for _, e := range entries {
		if e.Name() == lockName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(Dir(projectFolder), e.Name())); err != nil {
			return failure.New(failure.IOFailure, "reset state", err)
		}
	}
	return nil
}

// Validate checks a Run for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(run *Run) []string {
	var errs []string

	if run.Version < 1 || run.Version > Version {
		errs = append(errs, fmt.Sprintf("unsupported version %d; this build reads version %d", run.Version, Version))
	}
	if run.ResumeToken == "" {
		errs = append(errs, "'resume_token' is required")
	}
	if run.Template.Format == "" {
		errs = append(errs, "template: 'format' is required")
	}
	switch run.Status {
	case RunRunning, RunCompleted, RunFailed:
	default:
		errs = append(errs, fmt.Sprintf("invalid status '%s'", run.Status))
	}
	if run.Current < 0 || run.Current > len(run.Steps) {
		errs = append(errs, fmt.Sprintf("current step %d is out of range (0..%d)", run.Current, len(run.Steps)))
	}

	ids := make(map[string]bool)
	inProgress := 0
	for i, s := range run.Steps {
		prefix := fmt.Sprintf("step[%d]", i)
		if s.ID != "" {
			prefix = fmt.Sprintf("step '%s'", s.ID)
		}
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("%s: 'id' is required", prefix))
		} else if ids[s.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate step id", prefix))
		} else {
			ids[s.ID] = true
		}
		switch s.Status {
		case StepPending, StepCompleted, StepFailed:
		case StepInProgress:
			inProgress++
		default:
			errs = append(errs, fmt.Sprintf("%s: invalid status '%s'", prefix, s.Status))
		}
	}
	if inProgress > 1 {
		errs = append(errs, fmt.Sprintf("%d steps are in progress; at most one can be", inProgress))
	}
	if run.Status == RunCompleted && run.Done() != len(run.Steps) {
		errs = append(errs, "run is marked completed but not every step is")
	}
	return errs
}
