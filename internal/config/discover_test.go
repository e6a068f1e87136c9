package config

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestDiscoverPathsAllLevels(t *testing.T) {
	layers := DiscoverPaths(DiscoverOptions{
		ExplicitPath: "./settings.yaml",
		SystemPath:   "/etc/decomplicator/settings.yaml",
		UserPath:     "/home/user/.config/decomplicator/settings.yaml",
	})

	if len(layers) != 3 {
		t.Fatalf("expected 3 layers, got %d", len(layers))
	}
	want := []Level{LevelSystem, LevelUser, LevelExplicit}
	for i, l := range want {
		if layers[i].Level != l {
			t.Errorf("layers[%d].Level = %q, want %q", i, layers[i].Level, l)
		}
	}
}

func TestDiscoverPathsDeduplication(t *testing.T) {
	same, err := filepath.Abs("./settings.yaml")
	if err != nil {
		t.Fatal(err)
	}

	layers := DiscoverPaths(DiscoverOptions{
		ExplicitPath: same,
		SystemPath:   "/other/settings.yaml",
		UserPath:     same,
	})

	if len(layers) != 2 {
		t.Fatalf("expected 2 layers (deduped), got %d", len(layers))
	}
	if layers[1].Level != LevelUser {
		t.Errorf("layers[1].Level = %q, want %q", layers[1].Level, LevelUser)
	}
}

func TestDiscoverPathsNoInherit(t *testing.T) {
	layers := DiscoverPaths(DiscoverOptions{
		ExplicitPath: "./settings.yaml",
		SystemPath:   "/etc/decomplicator/settings.yaml",
		NoInherit:    true,
	})
	if len(layers) != 1 || layers[0].Level != LevelExplicit {
		t.Fatalf("layers = %+v, want explicit only", layers)
	}
}

func TestDiscoverPathsWithoutExplicit(t *testing.T) {
	layers := DiscoverPaths(DiscoverOptions{})
	if len(layers) == 0 {
		t.Fatal("expected default system layer")
	}
	if layers[0].Level != LevelSystem {
		t.Errorf("layers[0].Level = %q, want %q", layers[0].Level, LevelSystem)
	}
	for _, l := range layers {
		if l.Level == LevelExplicit {
			t.Errorf("unexpected explicit layer %q", l.Path)
		}
	}
}

func TestDefaultSystemPath(t *testing.T) {
	p := defaultSystemPath()
	switch runtime.GOOS {
	case "windows":
		if !filepath.IsAbs(p) {
			t.Errorf("system path should be absolute on Windows, got %q", p)
		}
	default:
		if p != "/etc/decomplicator/settings.yaml" {
			t.Errorf("system path = %q, want /etc/decomplicator/settings.yaml", p)
		}
	}
}

func TestDefaultUserPath(t *testing.T) {
	p := defaultUserPath()
	if p == "" {
		t.Skip("os.UserConfigDir() not available")
	}
	if !filepath.IsAbs(p) {
		t.Errorf("user path should be absolute, got %q", p)
	}
	if filepath.Base(filepath.Dir(p)) != settingsDirName {
		t.Errorf("user path = %q, want it under %s/", p, settingsDirName)
	}
}

func TestEnvNoInherit(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{"  true  ", true},
		{"false", false},
		{"0", false},
		{"yes", false},
	}

	for _, tt := range tests {
		t.Setenv("DECOMPLICATOR_NO_INHERIT", tt.value)
		if got := EnvNoInherit(); got != tt.want {
			t.Errorf("EnvNoInherit() with %q = %v, want %v", tt.value, got, tt.want)
		}
	}
}
