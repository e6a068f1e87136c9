package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lucretia/decomplicator/internal/failure"
)

// Version is the settings format version this build understands.
const Version = 1

// Parse reads one settings file without validating it.
func Parse(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	return &s, nil
}

// Load reads and validates a single settings file.
func Load(path string) (*Settings, error) {
	s, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if errs := Validate(s); len(errs) > 0 {
		return nil, &failure.ValidationError{Subject: "settings", Errors: errs}
	}
	return s, nil
}

// Result is the outcome of LoadLayers.
type Result struct {
	Settings *Settings
	Layers   []LayerInfo
}

// LoadLayers discovers, parses and merges every settings layer, then
// applies environment overrides and validates the result. Missing system
// and user files are skipped; a missing explicit file is an error. With no
// file at all the result holds empty settings.
func LoadLayers(opts DiscoverOptions) (*Result, error) {
	layers := DiscoverPaths(opts)
	var loaded []*Settings

	for i := range layers {
		l := &layers[i]
		s, err := Parse(l.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && l.Level != LevelExplicit {
				continue
			}
			l.Err = err
			return &Result{Layers: layers}, err
		}
		l.Loaded = true
		loaded = append(loaded, s)
	}

	merged, err := MergeAll(loaded)
	if err != nil {
		return &Result{Layers: layers}, err
	}
	ApplyEnv(merged)

	if errs := Validate(merged); len(errs) > 0 {
		return &Result{Layers: layers}, &failure.ValidationError{Subject: "settings", Errors: errs}
	}
	return &Result{Settings: merged, Layers: layers}, nil
}

// ApplyEnv overrides settings from the environment.
func ApplyEnv(s *Settings) {
	if dir := os.Getenv("DECOMPLICATOR_CACHE_DIR"); dir != "" {
		s.CacheDir = dir
	}
}

// Validate checks settings for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(s *Settings) []string {
	var errs []string

	if s.Version != 0 && s.Version != Version {
		errs = append(errs, fmt.Sprintf("unsupported version %d, only version %d is supported", s.Version, Version))
	}

	if s.Fetch.MaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("fetch: 'max_attempts' must not be negative, got %d", s.Fetch.MaxAttempts))
	}
	if s.Fetch.BaseDelay < 0 || s.Fetch.MaxDelay < 0 || s.Fetch.Timeout < 0 ||
		s.Fetch.HeaderTimeout < 0 || s.Fetch.IdleTimeout < 0 {
		errs = append(errs, "fetch: durations must not be negative")
	}
	if s.Fetch.BaseDelay > 0 && s.Fetch.MaxDelay > 0 && s.Fetch.BaseDelay > s.Fetch.MaxDelay {
		errs = append(errs, fmt.Sprintf("fetch: 'base_delay' %s exceeds 'max_delay' %s", s.Fetch.BaseDelay, s.Fetch.MaxDelay))
	}

	if s.Run.CheckpointEvery < 0 {
		errs = append(errs, fmt.Sprintf("run: 'checkpoint_every' must not be negative, got %d", s.Run.CheckpointEvery))
	}
	if s.Run.KillGrace < 0 {
		errs = append(errs, "run: 'kill_grace' must not be negative")
	}

	switch s.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log: invalid level '%s', must be one of: debug, info, warn, error", s.Log.Level))
	}
	switch s.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log: invalid format '%s', must be one of: text, json", s.Log.Format))
	}

	names := make(map[string]bool)
	for i, t := range s.Templates {
		prefix := fmt.Sprintf("template[%d]", i)
		if t.Name != "" {
			prefix = fmt.Sprintf("template '%s'", t.Name)
		}
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: 'name' is required", prefix))
		} else if names[t.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate template name '%s'", prefix, t.Name))
		} else {
			names[t.Name] = true
		}
		if t.Location == "" {
			errs = append(errs, fmt.Sprintf("%s: 'location' is required", prefix))
		}
	}

	return errs
}
