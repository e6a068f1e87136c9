package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/internal/toolenv"
)

// DefaultKillGrace is how long a cancelled command's process group has
// between the stop request (SIGTERM, or CTRL_BREAK on Windows) and being
// killed.
const DefaultKillGrace = 5 * time.Second

// command is one external process invocation.
type command struct {
	Name    string // executable as written in the manifest
	Args    []string
	Dir     string
	Env     *toolenv.Env
	Timeout time.Duration

	// Output receives each line the process writes.
	Output func(stream, line string)
}

// runCommand runs c and returns its exit code. The error is set only when
// the process could not be started or did not exit on its own; a non-zero
// exit is not an error here.
func (e *Engine) runCommand(ctx context.Context, c command) (int, error) {
	path, err := c.Env.Resolve(c.Name, c.Dir)
	if err != nil {
		return -1, failure.New(failure.BuildStepFailed, "run", err).
			WithHint("install the tool or check the template's env.path")
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env.Environ()
	grace := e.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	isolate(cmd, grace)

	stdout := &lineWriter{stream: "stdout", emit: c.Output}
	stderr := &lineWriter{stream: "stderr", emit: c.Output}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.logger().Debug("starting command", "executable", path, "args", c.Args, "dir", c.Dir)
	runErr := cmd.Run()
	stdout.Flush()
	stderr.Flush()

	if ctx.Err() != nil {
		return -1, failure.New(failure.Cancelled, "run", ctx.Err())
	}
	if runCtx.Err() != nil {
		return -1, failure.Newf(failure.StepTimeout, "run", "%s did not finish within %s", c.Name, c.Timeout).
			WithHint("the process group was terminated; resume to try again")
	}
	if runErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, failure.New(failure.IOFailure, "run", fmt.Errorf("starting %s: %w", c.Name, runErr))
}

// escalate asks a process group to stop with soft. If soft fails, hard
// runs at once and its error is returned; otherwise hard runs in the
// background once grace has passed.
func escalate(soft, hard func() error, grace time.Duration) error {
	if err := soft(); err != nil {
		return hard()
	}
	go func() {
		time.Sleep(grace)
		_ = hard()
	}()
	return nil
}

// commandLine renders an argument vector for logs and errors.
func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

// lineWriter splits process output into lines.
type lineWriter struct {
	mu     sync.Mutex
	stream string
	emit   func(stream, line string)
	buf    bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(i+1), "\r\n"))
		w.send(line)
	}
	return len(p), nil
}

// Flush emits a trailing line with no newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.send(strings.TrimRight(w.buf.String(), "\r"))
		w.buf.Reset()
	}
}

func (w *lineWriter) send(line string) {
	if w.emit != nil {
		w.emit(w.stream, line)
	}
}

// outputLogger logs process output at debug level.
func outputLogger(log *slog.Logger, attrs ...any) func(stream, line string) {
	return func(stream, line string) {
		log.Debug(line, append([]any{"stream", stream}, attrs...)...)
	}
}
