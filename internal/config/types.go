// Package config loads user settings for decomplicator. Settings come from
// up to three YAML layers (system, user and an explicit file) merged in
// that order, so a later layer overrides an earlier one.
package config

import "time"

// Settings are the merged user settings.
type Settings struct {
	Version   int               `yaml:"version"`
	CacheDir  string            `yaml:"cache_dir,omitempty"`
	Fetch     FetchSettings     `yaml:"fetch,omitempty"`
	Run       RunSettings       `yaml:"run,omitempty"`
	Log       LogSettings       `yaml:"log,omitempty"`
	Variables map[string]string `yaml:"variables,omitempty"`
	Templates []TemplateAlias   `yaml:"templates,omitempty"`
}

// FetchSettings tune artifact downloads. Zero values keep the fetcher's
// defaults.
type FetchSettings struct {
	MaxAttempts   int           `yaml:"max_attempts,omitempty"`
	BaseDelay     time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay      time.Duration `yaml:"max_delay,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`        // whole HTTP exchange, body included
	HeaderTimeout time.Duration `yaml:"header_timeout,omitempty"` // wait for response headers
	IdleTimeout   time.Duration `yaml:"idle_timeout,omitempty"`   // longest gap between body reads
	UserAgent     string        `yaml:"user_agent,omitempty"`
}

// RunSettings tune step execution.
type RunSettings struct {
	CheckpointEvery int           `yaml:"checkpoint_every,omitempty"`
	KillGrace       time.Duration `yaml:"kill_grace,omitempty"`
}

// LogSettings select the log level, format and an optional log file.
type LogSettings struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text, json
	File   string `yaml:"file,omitempty"`
}

// TemplateAlias gives a short name to a template location.
type TemplateAlias struct {
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
}

// Template returns the location registered under name.
func (s *Settings) Template(name string) (string, bool) {
	for _, t := range s.Templates {
		if t.Name == name {
			return t.Location, true
		}
	}
	return "", false
}
