package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const settingsFileName = "settings.yaml"
const settingsDirName = "decomplicator"

// Level is the precedence level of a settings file.
type Level string

const (
	LevelSystem   Level = "system"
	LevelUser     Level = "user"
	LevelExplicit Level = "explicit"
)

// LayerInfo describes a discovered settings file and its load status.
type LayerInfo struct {
	Err    error // non-nil if the file exists but failed to load
	Path   string
	Level  Level
	Loaded bool
}

// DiscoverOptions controls how settings paths are discovered.
type DiscoverOptions struct {
	// ExplicitPath is a settings file named on the command line. Optional.
	ExplicitPath string

	// SystemPath overrides the default system settings path.
	// Empty means use the OS default.
	SystemPath string

	// UserPath overrides the default user settings path.
	// Empty means use the OS default.
	UserPath string

	// NoInherit skips the system and user layers.
	NoInherit bool
}

// DiscoverPaths returns the ordered list of settings paths to check, from
// lowest precedence (system) to highest (explicit). Paths are deduplicated
// by absolute path.
func DiscoverPaths(opts DiscoverOptions) []LayerInfo {
	var layers []LayerInfo
	seen := make(map[string]bool)

	add := func(level Level, path string) {
		if path == "" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		layers = append(layers, LayerInfo{Path: path, Level: level})
	}

	if !opts.NoInherit {
		sys := opts.SystemPath
		if sys == "" {
			sys = defaultSystemPath()
		}
		add(LevelSystem, sys)

		user := opts.UserPath
		if user == "" {
			user = defaultUserPath()
		}
		add(LevelUser, user)
	}

	add(LevelExplicit, opts.ExplicitPath)
	return layers
}

func defaultSystemPath() string {
	switch runtime.GOOS {
	case "windows":
		pd := os.Getenv("ProgramData")
		if pd == "" {
			pd = `C:\ProgramData`
		}
		return filepath.Join(pd, settingsDirName, settingsFileName)
	default:
		return filepath.Join("/etc", settingsDirName, settingsFileName)
	}
}

func defaultUserPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, settingsDirName, settingsFileName)
}

// EnvNoInherit returns true if DECOMPLICATOR_NO_INHERIT is set to "1" or "true".
func EnvNoInherit() bool {
	return envBoolTrue("DECOMPLICATOR_NO_INHERIT")
}

// envBoolTrue returns true if the env var is set to "1" or "true" (case-insensitive).
func envBoolTrue(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true"
}
