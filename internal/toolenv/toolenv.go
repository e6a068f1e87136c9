// Package toolenv builds the environment external commands run under: the
// template's tool directories first on PATH, then the template's variables,
// then per-step overrides.
package toolenv

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/lucretia/decomplicator/internal/manifest"
)

// Env is a resolved command environment for one project folder.
type Env struct {
	ProjectDir string
	// ToolDirs are absolute directories searched before the inherited PATH.
	ToolDirs []string
	vars     map[string]string
}

// New resolves env against projectDir on top of the process environment.
func New(projectDir string, env manifest.Env) *Env {
	return NewFrom(os.Environ(), projectDir, env)
}

// NewFrom is New with an explicit base environment in "KEY=value" form.
func NewFrom(base []string, projectDir string, env manifest.Env) *Env {
	e := &Env{ProjectDir: projectDir, vars: make(map[string]string, len(base)+len(env.Vars)+1)}
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		e.vars[normalize(k)] = v
	}
	for _, p := range env.Path {
		e.ToolDirs = append(e.ToolDirs, filepath.Join(projectDir, filepath.FromSlash(p)))
	}
	if len(e.ToolDirs) > 0 {
		parts := append([]string(nil), e.ToolDirs...)
		if inherited := e.vars[pathKey]; inherited != "" {
			parts = append(parts, inherited)
		}
		e.vars[pathKey] = strings.Join(parts, string(os.PathListSeparator))
	}
	for k, v := range env.Vars {
		e.vars[normalize(k)] = v
	}
	e.vars["DECOMPLICATOR_PROJECT_DIR"] = projectDir
	return e
}

// With returns a copy with overrides applied.
func (e *Env) With(overrides map[string]string) *Env {
	if len(overrides) == 0 {
		return e
	}
	out := &Env{ProjectDir: e.ProjectDir, ToolDirs: e.ToolDirs, vars: make(map[string]string, len(e.vars)+len(overrides))}
	for k, v := range e.vars {
		out.vars[k] = v
	}
	for k, v := range overrides {
		out.vars[normalize(k)] = v
	}
	return out
}

// Get returns a variable's value.
func (e *Env) Get(key string) string {
	return e.vars[normalize(key)]
}

// Environ returns the environment in "KEY=value" form, sorted by key.
func (e *Env) Environ() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + e.vars[k]
	}
	return out
}

// Resolve finds the executable for name. Names containing a path separator
// are taken relative to dir; bare names are searched in the tool
// directories first, then the inherited PATH.
func (e *Env) Resolve(name, dir string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty executable name")
	}
	if strings.ContainsAny(name, `/\`) {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, filepath.FromSlash(p))
		}
		if isExecutable(p) {
			return p, nil
		}
		return "", fmt.Errorf("executable '%s' not found", name)
	}
	for _, d := range filepath.SplitList(e.vars[pathKey]) {
		if d == "" {
			continue
		}
		for _, candidate := range candidates(filepath.Join(d, name)) {
			if isExecutable(candidate) {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("executable '%s' not found in the template's tool directories or PATH: %w", name, exec.ErrNotFound)
}

func isExecutable(p string) bool {
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0111 != 0
}
