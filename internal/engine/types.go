package engine

import (
	"log/slog"
	"time"

	"github.com/lucretia/decomplicator/internal/archive"
	"github.com/lucretia/decomplicator/internal/cache"
	"github.com/lucretia/decomplicator/internal/fetch"
	"github.com/lucretia/decomplicator/internal/state"
)

// DefaultCheckpointEvery is how many archive entries are placed between
// state saves during an extract step.
const DefaultCheckpointEvery = 64

// Engine executes plans against project folders.
type Engine struct {
	Fetcher   *fetch.Fetcher
	Installer *archive.Installer
	Store     state.Store
	// Cache, if set, holds base data files and cacheable downloads.
	Cache  *cache.Cache
	Logger *slog.Logger

	CheckpointEvery int           // 0 means DefaultCheckpointEvery
	KillGrace       time.Duration // 0 means DefaultKillGrace

	// Now returns the current time. Tests pin it.
	Now func() time.Time

	// afterStep is called once a step's completion has been saved.
	afterStep func(index int)
}

// RunOptions controls Run, Resume and RunAction.
type RunOptions struct {
	// BaseDataPath is the user's base data file. Empty means use the
	// base data cache, then the path recorded by an earlier run.
	BaseDataPath string

	// Fresh discards any recorded run in the project folder, including an
	// unreadable one. Provisioned files are kept and reconciled by the
	// idempotent steps.
	Fresh bool

	// Events, if set, receives run notifications.
	Events *Events
}

// DriftEntry is an output whose content no longer matches its digest.
type DriftEntry struct {
	Path     string
	Expected string
	Actual   string
}

// CheckResult holds the outcome of re-verifying a completed run's outputs.
type CheckResult struct {
	Clean   bool
	Drifted []DriftEntry
	Missing []string
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) fetcher() *fetch.Fetcher {
	if e.Fetcher == nil {
		return &fetch.Fetcher{Client: fetch.DefaultHTTPClient{}, Logger: e.Logger}
	}
	return e.Fetcher
}

func (e *Engine) installer() *archive.Installer {
	if e.Installer == nil {
		return &archive.Installer{Logger: e.Logger}
	}
	return e.Installer
}

func (e *Engine) checkpointEvery() int {
	if e.CheckpointEvery <= 0 {
		return DefaultCheckpointEvery
	}
	return e.CheckpointEvery
}
