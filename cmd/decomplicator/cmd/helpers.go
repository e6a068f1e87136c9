package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/pkg/decomplicator"
)

var useColor bool

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	titleStyle = lipgloss.NewStyle().Bold(true)
)

// paint renders s with style when color output is on.
func paint(style lipgloss.Style, s string) string {
	if !useColor {
		return s
	}
	return style.Render(s)
}

// newClient creates a library client from the loaded settings and flags.
func newClient() (*decomplicator.Client, error) {
	return decomplicator.New(decomplicator.Options{
		Settings: settings,
		CacheDir: cacheDir,
		Logger:   logger,
	})
}

// projectFolder returns the absolute project folder named by args[i], or
// the working directory.
func projectFolder(args []string, i int) (string, error) {
	dir := "."
	if len(args) > i {
		dir = args[i]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving project folder: %w", err)
	}
	return abs, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// confirm asks a yes/no question on stdin. Without a terminal it refuses.
func confirm(in io.Reader, question string) (bool, error) {
	if f, ok := in.(*os.File); ok && !isTerminal(f) {
		return false, errors.New("confirmation needed but stdin is not a terminal (use --yes)")
	}
	fmt.Printf("%s [y/N] ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// printError reports err on stderr with its failure kind and hint.
func printError(err error) {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		errorf("%s", err)
		return
	}
	msg := string(fe.Kind)
	if fe.StepID != "" {
		msg += fmt.Sprintf(" in step %d (%s)", fe.Index+1, fe.StepID)
	}
	if fe.Err != nil {
		msg += ": " + fe.Err.Error()
	}
	errorf("%s", msg)
	if fe.Hint != "" {
		fmt.Fprintf(os.Stderr, "  %s %s\n", paint(warnStyle, "hint:"), fe.Hint)
	}
	if fe.Kind.Retryable() {
		fmt.Fprintf(os.Stderr, "  %s\n", paint(dimStyle, "run 'decomplicator resume' to try again"))
	}
}

func humanSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Println("  " + paint(dimStyle, fmt.Sprintf(format, args...)))
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, paint(errStyle, "error:")+" "+format+"\n", args...)
}
