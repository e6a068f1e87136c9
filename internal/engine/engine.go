// Package engine executes a resolved plan step by step inside a project
// folder. Progress is checkpointed to the state store before and after
// every step so an interrupted run resumes where it stopped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/internal/manifest"
	"github.com/lucretia/decomplicator/internal/state"
	"github.com/lucretia/decomplicator/internal/toolenv"
)

// ErrOtherPlan is returned by Run when the project folder holds a run of
// a different plan.
var ErrOtherPlan = errors.New("project folder holds a run of a different plan")

// Run provisions projectFolder according to plan.
//
// The base data file is verified first; a mismatch fails with
// IncompatibleBaseData before anything else happens. If the folder already
// holds a run of the same plan, Run continues it like Resume. A run of a
// different plan, or an unreadable state file, is only replaced when
// opts.Fresh is set.
func (e *Engine) Run(ctx context.Context, plan *manifest.Plan, projectFolder string, opts RunOptions) (*state.Run, error) {
	project, err := filepath.Abs(projectFolder)
	if err != nil {
		return nil, failure.New(failure.IOFailure, "start run", err)
	}
	if opts, err = absBaseData(opts); err != nil {
		return nil, err
	}

	base, err := e.baseData(plan, opts.BaseDataPath, "")
	if err != nil {
		opts.Events.emit(runEvent(RunFailed, err))
		return nil, err
	}

	lock, err := e.Store.Acquire(project)
	if err != nil {
		opts.Events.emit(runEvent(RunFailed, err))
		return nil, err
	}
	defer lock.Release()

	run, err := e.prepare(plan, project, opts)
	if err != nil {
		opts.Events.emit(runEvent(RunFailed, err))
		return nil, err
	}
	if run.Status == state.RunCompleted {
		e.logger().Info("project already provisioned", "project", project, "template", plan.Template.ID)
		opts.Events.emit(runEvent(RunCompleted, nil))
		return run, nil
	}
	if opts.BaseDataPath != "" && run.BaseData != nil {
		run.BaseData.Path = opts.BaseDataPath
	}
	return e.execute(ctx, plan, run, base, opts.Events)
}

// prepare returns the run to execute: the recorded one if it belongs to
// plan, otherwise a new one whose manifest copy and state are saved.
func (e *Engine) prepare(plan *manifest.Plan, project string, opts RunOptions) (*state.Run, error) {
	existing, err := e.Store.Load(project)
	switch {
	case errors.Is(err, state.ErrNoRun):
	case err != nil:
		if !opts.Fresh {
			return nil, err
		}
		e.logger().Warn("discarding unreadable state", "project", project, "error", err)
	case existing.ResumeToken == plan.Digest && !opts.Fresh:
		return existing, nil
	default:
		if !opts.Fresh {
			return nil, failure.New(failure.StateCorrupt, "start run", ErrOtherPlan).
				WithHint(fmt.Sprintf("the folder was provisioned from '%s'; start fresh to replace that run", existing.Template.ID))
		}
	}

	if opts.Fresh {
		if err := e.Store.Reset(project); err != nil {
			return nil, err
		}
	}
	run := e.newRun(plan, project, opts.BaseDataPath)
	if err := e.Store.SaveManifest(project, plan.Document, plan.Format); err != nil {
		return nil, err
	}
	if err := e.Store.Save(run); err != nil {
		return nil, err
	}
	return run, nil
}

func (e *Engine) newRun(plan *manifest.Plan, project, baseDataPath string) *state.Run {
	now := e.now()
	run := &state.Run{
		Version:       state.Version,
		ProjectFolder: project,
		Template: state.TemplateRef{
			ID:      plan.Template.ID,
			Name:    plan.Template.Name,
			Version: plan.Template.Version,
			Source:  plan.Template.Source,
			Dir:     plan.Template.Dir,
			Format:  string(plan.Format),
		},
		Variables:       plan.Variables,
		TemplateFiles:   plan.Files,
		AdoptRepository: plan.Repository != nil && plan.Repository.Adopted,
		ResumeToken:     plan.Digest,
		Status:          state.RunRunning,
		StartedAt:       now,
		UpdatedAt:       now,
	}
	if plan.BaseData != nil {
		run.BaseData = &state.BaseDataRef{Path: baseDataPath, Digest: plan.BaseData.Digest.String()}
	}
	for _, s := range plan.Steps {
		run.Steps = append(run.Steps, state.StepRecord{
			ID:     s.ID,
			Kind:   string(s.Kind()),
			Name:   s.Name,
			Status: state.StepPending,
		})
	}
	return run
}

// Resume continues the run recorded in projectFolder. A completed run is a
// no-op. The frozen manifest copy is re-parsed and must reproduce the
// recorded plan; an unreadable state file is reported as StateCorrupt and
// left in place.
func (e *Engine) Resume(ctx context.Context, projectFolder string, opts RunOptions) (*state.Run, error) {
	project, err := filepath.Abs(projectFolder)
	if err != nil {
		return nil, failure.New(failure.IOFailure, "resume", err)
	}
	if opts, err = absBaseData(opts); err != nil {
		return nil, err
	}

	lock, err := e.Store.Acquire(project)
	if err != nil {
		opts.Events.emit(runEvent(RunFailed, err))
		return nil, err
	}
	defer lock.Release()

	recorded, err := e.Store.Load(project)
	if err != nil {
		opts.Events.emit(runEvent(RunFailed, err))
		return nil, err
	}
	if recorded.Status == state.RunCompleted {
		opts.Events.emit(runEvent(RunCompleted, nil))
		return recorded, nil
	}

	run, plan, err := e.Reload(project)
	if err != nil {
		opts.Events.emit(runEvent(RunFailed, err))
		return nil, err
	}

	var fallback string
	if run.BaseData != nil {
		fallback = run.BaseData.Path
	}
	base, err := e.baseData(plan, opts.BaseDataPath, fallback)
	if err != nil {
		opts.Events.emit(runEvent(RunFailed, err))
		return nil, err
	}
	if opts.BaseDataPath != "" && run.BaseData != nil {
		run.BaseData.Path = opts.BaseDataPath
	}
	return e.execute(ctx, plan, run, base, opts.Events)
}

// absBaseData makes the base data path absolute so the recorded path
// stays valid from any working directory.
func absBaseData(opts RunOptions) (RunOptions, error) {
	if opts.BaseDataPath == "" {
		return opts, nil
	}
	abs, err := filepath.Abs(opts.BaseDataPath)
	if err != nil {
		return opts, failure.New(failure.IOFailure, "check base data", err)
	}
	opts.BaseDataPath = abs
	return opts, nil
}

// Reload reads the recorded run and rebuilds its plan from the frozen
// manifest copy and the template files recorded with it.
func (e *Engine) Reload(projectFolder string) (*state.Run, *manifest.Plan, error) {
	run, err := e.Store.Load(projectFolder)
	if err != nil {
		return nil, nil, err
	}
	src, err := e.Store.LoadManifest(projectFolder, manifest.Format(run.Template.Format))
	if err != nil {
		return nil, nil, err
	}
	plan, err := manifest.Parse(src, manifest.Options{
		ProjectDir:      run.ProjectFolder,
		Vars:            run.Variables,
		TemplateDir:     run.Template.Dir,
		Files:           run.TemplateFiles,
		AdoptRepository: run.AdoptRepository,
	})
	if err != nil {
		return nil, nil, err
	}
	if plan.Digest != run.ResumeToken {
		return nil, nil, failure.Newf(failure.StateCorrupt, "resume",
			"manifest copy resolves to %s, run was started from %s", plan.Digest, run.ResumeToken).
			WithHint("the template or its files changed since the run started; start fresh")
	}
	for i, s := range plan.Steps {
		if i >= len(run.Steps) || run.Steps[i].ID != s.ID {
			return nil, nil, failure.Newf(failure.StateCorrupt, "resume", "recorded steps do not match the plan at step %d", i+1)
		}
	}
	if len(run.Steps) != len(plan.Steps) {
		return nil, nil, failure.Newf(failure.StateCorrupt, "resume", "%d steps recorded, plan has %d", len(run.Steps), len(plan.Steps))
	}
	return run, plan, nil
}

// Status returns the run recorded in projectFolder.
func (e *Engine) Status(projectFolder string) (*state.Run, error) {
	return e.Store.Load(projectFolder)
}

// execute walks the plan from the first step not yet completed.
func (e *Engine) execute(ctx context.Context, plan *manifest.Plan, run *state.Run, base string, events *Events) (*state.Run, error) {
	log := e.logger().With("project", run.ProjectFolder, "template", plan.Template.ID)
	env := toolenv.New(run.ProjectFolder, plan.Env)

	run.Status = state.RunRunning
	run.Failure = nil
	run.CompletedAt = nil

	for i, step := range plan.Steps {
		rec := &run.Steps[i]
		if rec.Status == state.StepCompleted {
			events.emit(stepEvent(StepSkipped, step))
			continue
		}

		if err := ctx.Err(); err != nil {
			return e.fail(run, step, nil, failure.New(failure.Cancelled, "run", err), events)
		}

		started := e.now()
		rec.Status = state.StepInProgress
		rec.Attempts++
		rec.Error = ""
		rec.StartedAt = &started
		rec.FinishedAt = nil
		run.Current = i
		if err := e.save(run); err != nil {
			return e.fail(run, step, rec, err, events)
		}
		events.emit(stepEvent(StepStarted, step))
		log.Info("step started", "step", step.ID, "kind", step.Kind(), "name", step.Name)

		sc := &stepRun{
			engine: e,
			plan:   plan,
			run:    run,
			rec:    rec,
			step:   step,
			env:    env,
			base:   base,
			events: events,
			log:    log.With("step", step.ID),
		}
		if err := sc.exec(ctx); err != nil {
			if ctx.Err() != nil && !failure.Is(err, failure.Cancelled) {
				err = failure.New(failure.Cancelled, "run", errors.Join(ctx.Err(), err))
			}
			return e.fail(run, step, rec, err, events)
		}

		finished := e.now()
		rec.Status = state.StepCompleted
		rec.Entries = nil
		rec.FinishedAt = &finished
		run.Current = i + 1
		if err := e.save(run); err != nil {
			return e.fail(run, step, rec, err, events)
		}
		events.emit(stepEvent(StepCompleted, step))
		log.Info("step completed", "step", step.ID, "duration", finished.Sub(started))
		if e.afterStep != nil {
			e.afterStep(i)
		}
	}

	completed := e.now()
	run.Status = state.RunCompleted
	run.Current = len(run.Steps)
	run.CompletedAt = &completed
	if err := e.save(run); err != nil {
		events.emit(runEvent(RunFailed, err))
		return run, err
	}
	events.emit(runEvent(RunCompleted, nil))
	log.Info("provisioning complete", "steps", len(run.Steps))
	return run, nil
}

// fail records err against step and stops the run. rec is nil when the
// step never started.
func (e *Engine) fail(run *state.Run, step manifest.Step, rec *state.StepRecord, err error, events *Events) (*state.Run, error) {
	fe := failure.AtStep(err, failure.IOFailure, step.Index, step.ID, string(step.Kind()))

	if rec != nil {
		finished := e.now()
		rec.Status = state.StepFailed
		rec.Error = fe.Error()
		rec.FinishedAt = &finished
	}
	run.Status = state.RunFailed
	run.Current = step.Index
	run.Failure = &state.FailureRecord{
		Kind:      string(fe.Kind),
		StepIndex: step.Index,
		StepID:    step.ID,
		Message:   fe.Error(),
		ExitCode:  fe.ExitCode,
		Hint:      fe.Hint,
	}
	if saveErr := e.save(run); saveErr != nil {
		e.logger().Error("could not record failure", "project", run.ProjectFolder, "error", saveErr)
	}

	ev := stepEvent(StepFailed, step)
	ev.Err = fe
	events.emit(ev)
	events.emit(runEvent(RunFailed, fe))
	e.logger().Error("step failed", "project", run.ProjectFolder, "step", step.ID, "kind", fe.Kind, "error", fe.Err)
	return run, fe
}

func (e *Engine) save(run *state.Run) error {
	run.UpdatedAt = e.now()
	return e.Store.Save(run)
}
