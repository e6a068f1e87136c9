//go:build windows

package toolenv

import (
	"os"
	"path/filepath"
	"strings"
)

// Windows environment keys are case-insensitive; they are kept upper-case.
const pathKey = "PATH"

func normalize(key string) string { return strings.ToUpper(key) }

func candidates(p string) []string {
	if filepath.Ext(p) != "" {
		return []string{p}
	}
	exts := os.Getenv("PATHEXT")
	if exts == "" {
		exts = ".COM;.EXE;.BAT;.CMD"
	}
	var out []string
	for _, ext := range strings.Split(exts, ";") {
		if ext != "" {
			out = append(out, p+strings.ToLower(ext))
		}
	}
	return out
}
