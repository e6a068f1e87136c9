// Package patch applies in-place edits to files inside a project folder.
// Every operation is safe to repeat: applying a patch that has already been
// applied leaves the file unchanged.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucretia/decomplicator/internal/sandbox"
)

// Op is a patch operation.
type Op string

const (
	Append     Op = "append"
	Prepend    Op = "prepend"
	Replace    Op = "replace"
	Substitute Op = "substitute"
	Delete     Op = "delete"
)

// Ops lists every operation.
var Ops = []Op{Append, Prepend, Replace, Substitute, Delete}

// ParseOp validates an operation name.
func ParseOp(s string) (Op, error) {
	for _, op := range Ops {
		if string(op) == s {
			return op, nil
		}
	}
	if s == "" {
		return "", fmt.Errorf("'op' is required; must be one of: append, prepend, replace, substitute, delete")
	}
	return "", fmt.Errorf("invalid op '%s'; must be one of: append, prepend, replace, substitute, delete", s)
}

// NeedsText reports whether op takes a text body.
func (op Op) NeedsText() bool {
	return op == Append || op == Prepend || op == Replace
}

// Edit describes one patch against a file under a project root.
type Edit struct {
	Path    string // project-relative
	Op      Op
	Text    string
	Find    string
	Replace string
}

// ErrNotFound is returned by Substitute when neither the pattern nor its
// replacement occurs in the file.
var ErrNotFound = errors.New("pattern not found")

// Apply performs e against root. It reports whether the file changed.
func Apply(root string, e Edit) (bool, error) {
	if e.Op == Delete {
		target, err := sandbox.ValidatePath(root, filepath.FromSlash(e.Path))
		if err != nil {
			return false, err
		}
		if _, err := os.Lstat(target); errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err := sandbox.SafeRemove(root, filepath.FromSlash(e.Path)); err != nil {
			return false, fmt.Errorf("deleting '%s': %w", e.Path, err)
		}
		return true, nil
	}

	target, err := sandbox.ValidatePath(root, filepath.FromSlash(e.Path))
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return false, fmt.Errorf("patch target '%s': %w", e.Path, err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("patch target '%s' is not a regular file", e.Path)
	}
	original, err := os.ReadFile(target)
	if err != nil {
		return false, fmt.Errorf("reading '%s': %w", e.Path, err)
	}

	patched, err := e.apply(original)
	if err != nil {
		return false, fmt.Errorf("patching '%s': %w", e.Path, err)
	}
	if bytes.Equal(original, patched) {
		return false, nil
	}
	if err := sandbox.WriteFileAtomic(target, bytes.NewReader(patched), info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, nil
}

func (e Edit) apply(content []byte) ([]byte, error) {
	text := []byte(e.Text)
	switch e.Op {
	case Append:
		if hasSuffixLine(content, text) {
			return content, nil
		}
		return appendContent(content, text), nil
	case Prepend:
		if bytes.HasPrefix(content, withNewline(text)) {
			return content, nil
		}
		return prependContent(content, text), nil
	case Replace:
		return text, nil
	case Substitute:
		if e.Find == "" {
			return nil, fmt.Errorf("substitute requires 'find'")
		}
		if bytes.Contains(content, []byte(e.Find)) {
			return bytes.ReplaceAll(content, []byte(e.Find), []byte(e.Replace)), nil
		}
		if e.Replace != "" && bytes.Contains(content, []byte(e.Replace)) {
			return content, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrNotFound, e.Find)
	default:
		return nil, fmt.Errorf("invalid op '%s'", e.Op)
	}
}

func appendContent(original, addition []byte) []byte {
	out := make([]byte, 0, len(original)+len(addition)+1)
	out = append(out, original...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return append(out, addition...)
}

func prependContent(original, addition []byte) []byte {
	out := withNewline(addition)
	return append(out, original...)
}

func withNewline(b []byte) []byte {
	out := make([]byte, 0, len(b)+1)
	out = append(out, b...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out
}

// hasSuffixLine reports whether content already ends with addition, ignoring
// a trailing newline difference.
func hasSuffixLine(content, addition []byte) bool {
	if len(addition) == 0 {
		return true
	}
	trimmed := bytes.TrimSuffix(addition, []byte("\n"))
	c := bytes.TrimSuffix(content, []byte("\n"))
	if !bytes.HasSuffix(c, trimmed) {
		return false
	}
	// The match must start on a line boundary.
	start := len(c) - len(trimmed)
	return start == 0 || c[start-1] == '\n'
}
