package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucretia/decomplicator/internal/archive"
	"github.com/lucretia/decomplicator/internal/cache"
	"github.com/lucretia/decomplicator/internal/digest"
	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/internal/fetch"
	"github.com/lucretia/decomplicator/internal/manifest"
	"github.com/lucretia/decomplicator/internal/patch"
	"github.com/lucretia/decomplicator/internal/sandbox"
	"github.com/lucretia/decomplicator/internal/state"
	"github.com/lucretia/decomplicator/internal/toolenv"
)

// stepRun carries what one step execution needs.
type stepRun struct {
	engine *Engine
	plan   *manifest.Plan
	run    *state.Run
	rec    *state.StepRecord
	step   manifest.Step
	env    *toolenv.Env
	base   string // verified base data file, if the plan has one
	events *Events
	log    *slog.Logger
}

func (s *stepRun) exec(ctx context.Context) error {
	switch op := s.step.Op.(type) {
	case *manifest.Fetch:
		return s.fetch(ctx, op)
	case *manifest.Verify:
		return s.verify(op)
	case *manifest.Extract:
		return s.extract(ctx, op)
	case *manifest.Copy:
		return s.copy(op)
	case *manifest.Run:
		return s.command(ctx, op)
	case *manifest.Patch:
		return s.patch(op)
	default:
		return failure.Newf(failure.MalformedManifest, "run", "unknown step kind %s", s.step.Kind())
	}
}

// path resolves a project-relative path inside the project folder.
func (s *stepRun) path(rel string) (string, error) {
	p, err := sandbox.ValidatePath(s.run.ProjectFolder, filepath.FromSlash(rel))
	if err != nil {
		return "", failure.New(failure.IOFailure, string(s.step.Kind()), err)
	}
	return p, nil
}

func (s *stepRun) progress() *progress {
	return &progress{events: s.events, step: s.step}
}

func (s *stepRun) fetch(ctx context.Context, op *manifest.Fetch) error {
	dest, err := s.path(op.Destination)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return failure.New(failure.IOFailure, "fetch", err)
	}

	c := s.engine.Cache
	if op.Cache && c != nil {
		ok, err := c.Materialize(cache.Artifacts, op.Digest, dest)
		if err != nil {
			s.log.Warn("cached artifact unusable, downloading", "error", err)
		} else if ok {
			s.log.Info("artifact taken from cache", "destination", op.Destination)
			return nil
		}
	}

	p := s.progress()
	result, err := s.engine.fetcher().Fetch(ctx, fetch.Request{
		URL:         op.URL,
		Destination: dest,
		Digest:      op.Digest,
		Progress:    p.report,
	})
	if err != nil {
		return err
	}
	s.log.Info("artifact ready", "url", op.URL, "bytes", result.Bytes,
		"attempts", result.Attempts, "resumed", result.Resumed, "reused", result.Reused)

	if op.Cache && c != nil {
		if _, err := c.Import(cache.Artifacts, op.Digest, dest); err != nil {
			s.log.Warn("could not cache artifact", "error", err)
		}
	}
	return nil
}

func (s *stepRun) verify(op *manifest.Verify) error {
	p, err := s.path(op.Path)
	if err != nil {
		return err
	}
	return digest.Verify(p, op.Digest)
}

func (s *stepRun) extract(ctx context.Context, op *manifest.Extract) error {
	archivePath, err := s.path(op.Archive)
	if err != nil {
		return err
	}
	target, err := s.path(op.Target)
	if err != nil {
		return err
	}

	done := make(map[string]bool, len(s.rec.Entries))
	for _, name := range s.rec.Entries {
		done[name] = true
	}
	if len(done) > 0 {
		s.log.Info("continuing extraction", "entries_done", len(done))
	}

	every := s.engine.checkpointEvery()
	pending := 0
	p := s.progress()
	result, err := s.engine.installer().Install(ctx, archivePath, target, archive.Options{
		Done:            done,
		StripComponents: op.StripComponents,
		OnEntry: func(name string) error {
			if done[name] {
				return nil
			}
			done[name] = true
			s.rec.Entries = append(s.rec.Entries, name)
			pending++
			if pending < every {
				return nil
			}
			pending = 0
			return s.engine.save(s.run)
		},
		Progress: func(handled, total int) {
			p.report(int64(handled), int64(total))
		},
	})
	if err != nil {
		return err
	}
	s.log.Info("archive extracted", "target", op.Target,
		"written", len(result.Written), "skipped", len(result.Skipped), "ignored", len(result.Ignored))

	if !op.TreeDigest.IsZero() {
		got, err := digest.OfTree(target, op.TreeDigest.Algorithm)
		if err != nil {
			return failure.New(failure.IOFailure, "extract", err)
		}
		if !got.Equal(op.TreeDigest) {
			return failure.Newf(failure.IntegrityError, "extract",
				"%s: expected tree %s, got %s", op.Target, op.TreeDigest, got)
		}
	}

	if op.Remove {
		if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return failure.New(failure.IOFailure, "extract", err)
		}
	}
	return nil
}

func (s *stepRun) copy(op *manifest.Copy) error {
	dst, err := s.path(op.Destination)
	if err != nil {
		return err
	}

	switch op.From {
	case manifest.FromBaseData:
		if s.base == "" {
			return failure.Newf(failure.IncompatibleBaseData, "copy", "no verified base data file available")
		}
		err = sandbox.CopyFile(s.base, dst)

	case manifest.FromTemplate:
		if s.plan.Template.Dir == "" {
			return failure.Newf(failure.MalformedManifest, "copy", "template has no local directory to copy '%s' from", op.Source)
		}
		err = sandbox.CopyTree(filepath.Join(s.plan.Template.Dir, filepath.FromSlash(op.Source)), dst)

	default:
		src, perr := s.path(op.Source)
		if perr != nil {
			return perr
		}
		if !op.Move {
			err = sandbox.CopyTree(src, dst)
			break
		}
		// A move interrupted after the rename has nothing left to do.
		if _, statErr := os.Lstat(src); errors.Is(statErr, os.ErrNotExist) {
			if _, dstErr := os.Lstat(dst); dstErr == nil {
				return nil
			}
		}
		err = sandbox.Move(src, dst)
	}
	if err != nil {
		return failure.New(failure.IOFailure, "copy", err)
	}
	return nil
}

func (s *stepRun) command(ctx context.Context, op *manifest.Run) error {
	dir := s.run.ProjectFolder
	if op.Workdir != "" {
		var err error
		if dir, err = s.path(op.Workdir); err != nil {
			return err
		}
	}

	// Outputs under the state directory are scratch space of built-in
	// steps. Clear what an interrupted attempt left behind.
	for _, rel := range op.Produces {
		if !strings.HasPrefix(rel, manifest.ReservedDir+"/") {
			continue
		}
		p, err := s.path(rel)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(p); err != nil {
			return failure.New(failure.IOFailure, "run", err)
		}
	}

	output := outputLogger(s.log, "executable", op.Executable)
	code, err := s.engine.runCommand(ctx, command{
		Name:    op.Executable,
		Args:    op.Args,
		Dir:     dir,
		Env:     s.env.With(op.Env),
		Timeout: op.Timeout,
		Output: func(stream, line string) {
			ev := stepEvent(StepOutput, s.step)
			ev.Stream = stream
			ev.Line = line
			s.events.emit(ev)
			output(stream, line)
		},
	})
	if err != nil {
		return err
	}
	if !op.ExitAccepted(code) {
		return &failure.Error{
			Kind:     failure.BuildStepFailed,
			Index:    -1,
			Op:       "run",
			Err:      fmt.Errorf("'%s' exited with code %d (accepted: %v)", commandLine(op.Executable, op.Args), code, op.ExitCodes),
			ExitCode: code,
			Hint:     "see the step output above; resume once the cause is fixed",
		}
	}

	for _, rel := range op.Produces {
		p, err := s.path(rel)
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); err != nil {
			return &failure.Error{
				Kind:     failure.BuildStepFailed,
				Index:    -1,
				Op:       "run",
				Err:      fmt.Errorf("'%s' exited with %d but did not produce %s", op.Executable, code, rel),
				ExitCode: code,
			}
		}
	}
	return nil
}

func (s *stepRun) patch(op *manifest.Patch) error {
	changed, err := patch.Apply(s.run.ProjectFolder, patch.Edit{
		Path:    op.Path,
		Op:      op.Op,
		Text:    op.Text,
		Find:    op.Find,
		Replace: op.Replace,
	})
	if errors.Is(err, patch.ErrNotFound) {
		return failure.New(failure.MalformedManifest, "patch", fmt.Errorf("%s: %w", op.Path, err)).
			WithHint("the project file does not contain the text the template expects")
	}
	if err != nil {
		return failure.New(failure.IOFailure, "patch", err)
	}
	s.log.Debug("patch applied", "path", op.Path, "op", op.Op, "changed", changed)
	return nil
}
