package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/internal/state"
	"github.com/lucretia/decomplicator/internal/toolenv"
)

// ErrUnknownAction is returned by RunAction for a name the template does
// not declare.
var ErrUnknownAction = errors.New("unknown action")

// ErrNotProvisioned is returned by RunAction before a run has completed.
var ErrNotProvisioned = errors.New("project folder is not fully provisioned")

// RunAction runs a named action of the template a completed run used.
// Commands run in order in the project folder; the first one that exits
// non-zero ends the sequence with BuildStepFailed.
func (e *Engine) RunAction(ctx context.Context, projectFolder, name string, opts RunOptions) error {
	project, err := filepath.Abs(projectFolder)
	if err != nil {
		return failure.New(failure.IOFailure, "action", err)
	}

	run, plan, err := e.Reload(project)
	if err != nil {
		return err
	}
	if run.Status != state.RunCompleted {
		return failure.New(failure.BuildStepFailed, "action", ErrNotProvisioned).
			WithHint("resume provisioning first")
	}
	action, ok := plan.Action(name)
	if !ok {
		var names []string
		for _, a := range plan.Actions {
			names = append(names, a.Name)
		}
		sort.Strings(names)
		return failure.New(failure.MalformedManifest, "action", fmt.Errorf("%w '%s' (available: %v)", ErrUnknownAction, name, names))
	}

	env := toolenv.New(project, plan.Env)
	log := e.logger().With("project", project, "action", action.Name)
	for i, argv := range action.Commands {
		line := commandLine(argv[0], argv[1:])
		log.Info("running action command", "command", line)

		output := outputLogger(log)
		code, err := e.runCommand(ctx, command{
			Name: argv[0],
			Args: argv[1:],
			Dir:  project,
			Env:  env,
			Output: func(stream, text string) {
				opts.Events.emit(Event{Kind: StepOutput, Index: i, StepID: action.Name, Label: line, Stream: stream, Line: text})
				output(stream, text)
			},
		})
		if err != nil {
			return err
		}
		if code != 0 {
			return &failure.Error{
				Kind:     failure.BuildStepFailed,
				Index:    -1,
				Op:       "action " + action.Name,
				Err:      fmt.Errorf("'%s' exited with code %d", line, code),
				ExitCode: code,
			}
		}
	}
	return nil
}
