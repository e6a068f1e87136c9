package engine

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/lucretia/decomplicator/internal/digest"
	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/internal/manifest"
	"github.com/lucretia/decomplicator/internal/state"
)

// Check re-verifies the outputs of completed steps that carry a digest:
// fetched artifacts, verified files and extracted trees with a
// tree_digest. Returns Clean=true if everything matches.
func (e *Engine) Check(projectFolder string) (*CheckResult, error) {
	project, err := filepath.Abs(projectFolder)
	if err != nil {
		return nil, failure.New(failure.IOFailure, "check", err)
	}
	run, plan, err := e.Reload(project)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{Clean: true}
	removed := removedArchives(plan)

	for i, step := range plan.Steps {
		if run.Steps[i].Status != state.StepCompleted {
			continue
		}

		var rel string
		var want digest.Digest
		tree := false
		switch op := step.Op.(type) {
		case *manifest.Fetch:
			if removed[op.Destination] {
				continue
			}
			rel, want = op.Destination, op.Digest
		case *manifest.Verify:
			if removed[op.Path] {
				continue
			}
			rel, want = op.Path, op.Digest
		case *manifest.Extract:
			if op.TreeDigest.IsZero() {
				continue
			}
			rel, want, tree = op.Target, op.TreeDigest, true
		default:
			continue
		}

		abs := filepath.Join(project, filepath.FromSlash(rel))
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				result.Missing = append(result.Missing, rel)
				result.Clean = false
				continue
			}
			return nil, failure.New(failure.IOFailure, "check", err)
		}

		var got digest.Digest
		if tree {
			got, err = digest.OfTree(abs, want.Algorithm)
		} else {
			got, err = digest.Of(abs, want.Algorithm)
		}
		if err != nil {
			return nil, failure.New(failure.IOFailure, "check", err)
		}
		if !got.Equal(want) {
			result.Drifted = append(result.Drifted, DriftEntry{
				Path:     rel,
				Expected: want.String(),
				Actual:   got.String(),
			})
			result.Clean = false
		}
	}
	return result, nil
}

// removedArchives lists fetched files a later extract step deletes.
func removedArchives(plan *manifest.Plan) map[string]bool {
	removed := make(map[string]bool)
	for _, step := range plan.Steps {
		if x, ok := step.Op.(*manifest.Extract); ok && x.Remove {
			removed[x.Archive] = true
		}
	}
	return removed
}
