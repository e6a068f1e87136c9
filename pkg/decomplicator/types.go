package decomplicator

import (
	"github.com/lucretia/decomplicator/internal/config"
	"github.com/lucretia/decomplicator/internal/engine"
	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/internal/manifest"
	"github.com/lucretia/decomplicator/internal/state"
)

// Type aliases re-export internal types as the public API.

type Plan = manifest.Plan
type Step = manifest.Step
type Action = manifest.Action
type Run = state.Run
type RunOptions = engine.RunOptions
type Event = engine.Event
type EventKind = engine.EventKind
type Events = engine.Events
type CheckResult = engine.CheckResult
type DriftEntry = engine.DriftEntry
type Settings = config.Settings
type Kind = failure.Kind
type Error = failure.Error

// Event kinds.
const (
	StepStarted   = engine.StepStarted
	StepProgress  = engine.StepProgress
	StepOutput    = engine.StepOutput
	StepCompleted = engine.StepCompleted
	StepSkipped   = engine.StepSkipped
	StepFailed    = engine.StepFailed
	RunCompleted  = engine.RunCompleted
	RunFailed     = engine.RunFailed
)

// NewEvents returns an event stream to pass in RunOptions.
func NewEvents() *Events { return engine.NewEvents() }

// KindOf returns the failure kind of err. Unclassified errors report
// IOFailure.
func KindOf(err error) Kind { return failure.KindOf(err) }
