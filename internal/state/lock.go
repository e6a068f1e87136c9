package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lucretia/decomplicator/internal/failure"
)

const lockName = "lock"

// ErrLocked is wrapped by Lock when another live process holds the project.
var ErrLocked = errors.New("project folder is in use by another run")

// Lock is an exclusive claim on a project folder.
type Lock struct {
	path string
}

// Acquire claims projectFolder for the calling process. A lock file left by
// a process that no longer exists is taken over.
func (Store) Acquire(projectFolder string) (*Lock, error) {
	dir := Dir(projectFolder)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, failure.New(failure.IOFailure, "lock project", err)
	}
	path := filepath.Join(dir, lockName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, failure.New(failure.IOFailure, "lock project", errors.Join(werr, cerr))
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, failure.New(failure.IOFailure, "lock project", err)
		}

		pid, ok := lockOwner(path)
		if ok && processAlive(pid) {
			return nil, failure.New(failure.IOFailure, "lock project", fmt.Errorf("%w (pid %d)", ErrLocked, pid)).
				WithHint("wait for the other run to finish or stop it")
		}
		if !ok && freshlyCreated(path) {
			// The owner may not have written its pid yet.
			return nil, failure.New(failure.IOFailure, "lock project", ErrLocked)
		}
		// Stale: the owner is gone or the file is unreadable.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, failure.New(failure.IOFailure, "lock project", err)
		}
	}
	return nil, failure.New(failure.IOFailure, "lock project", ErrLocked)
}

// Release gives up the claim. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func freshlyCreated(path string) bool {
	info, err := os.Stat(path)
	return err == nil && time.Since(info.ModTime()) < 5*time.Second
}

func lockOwner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
