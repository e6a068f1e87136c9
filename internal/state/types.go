// Package state persists provisioning progress inside a project folder so
// an interrupted run can be resumed without repeating completed work.
package state

import "time"

// Version is the state file version written by this build.
const Version = 1

// RunStatus is the overall status of a provisioning run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StepStatus is the status of one step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Run is the durable record of a provisioning run.
type Run struct {
	Version       int          `yaml:"version"`
	ProjectFolder string       `yaml:"project_folder"`
	Template      TemplateRef  `yaml:"template"`
	BaseData      *BaseDataRef `yaml:"base_data,omitempty"`
	// Variables are the plan's merged variables. Resume re-parses the
	// frozen manifest with them so the same plan is reproduced.
	Variables map[string]string `yaml:"variables,omitempty"`
	// TemplateFiles are the template files the plan read, so the plan can
	// be rebuilt after the template directory changed or is gone.
	TemplateFiles map[string]string `yaml:"template_files,omitempty"`
	// AdoptRepository records that the project folder already was a clone
	// of the template's repository.
	AdoptRepository bool `yaml:"adopt_repository,omitempty"`

	ResumeToken string         `yaml:"resume_token"`
	Status      RunStatus      `yaml:"status"`
	Current     int            `yaml:"current"`
	Steps       []StepRecord   `yaml:"steps"`
	Failure     *FailureRecord `yaml:"failure,omitempty"`
	StartedAt   time.Time      `yaml:"started_at"`
	UpdatedAt   time.Time      `yaml:"updated_at"`
	CompletedAt *time.Time     `yaml:"completed_at,omitempty"`
}

// TemplateRef records where the run's manifest came from.
type TemplateRef struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name,omitempty"`
	Version string `yaml:"version,omitempty"`
	Source  string `yaml:"source"`
	Dir     string `yaml:"dir,omitempty"`
	Format  string `yaml:"format"`
}

// BaseDataRef records the base data file the run was started with.
type BaseDataRef struct {
	Path   string `yaml:"path,omitempty"`
	Digest string `yaml:"digest"`
}

// StepRecord is the progress of one step.
type StepRecord struct {
	ID         string     `yaml:"id"`
	Kind       string     `yaml:"kind"`
	Name       string     `yaml:"name,omitempty"`
	Status     StepStatus `yaml:"status"`
	Attempts   int        `yaml:"attempts,omitempty"`
	Entries    []string   `yaml:"entries,omitempty"` // extraction checkpoint
	Error      string     `yaml:"error,omitempty"`
	StartedAt  *time.Time `yaml:"started_at,omitempty"`
	FinishedAt *time.Time `yaml:"finished_at,omitempty"`
}

// FailureRecord describes why a run stopped.
type FailureRecord struct {
	Kind      string `yaml:"kind"`
	StepIndex int    `yaml:"step_index"`
	StepID    string `yaml:"step_id,omitempty"`
	Message   string `yaml:"message"`
	ExitCode  int    `yaml:"exit_code,omitempty"`
	Hint      string `yaml:"hint,omitempty"`
}

// Step returns the record with the given ID.
func (r *Run) Step(id string) (*StepRecord, bool) {
	for i := range r.Steps {
		if r.Steps[i].ID == id {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// Done reports how many leading steps are completed.
func (r *Run) Done() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status != StepCompleted {
			break
		}
		n++
	}
	return n
}
