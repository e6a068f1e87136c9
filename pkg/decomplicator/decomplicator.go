// Package decomplicator provides the public Go library API for
// decomplicator.
//
// decomplicator provisions a build environment for a decompilation
// project from a template: it downloads and verifies toolchains, unpacks
// them into the project folder, copies the user's base data file into
// place and runs the template's build steps. Interrupted runs resume from
// the last completed step.
//
// # Basic Usage
//
//	client, err := decomplicator.New(decomplicator.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	plan, err := client.Plan(ctx, "https://example.org/oot/decomplicator.toml", decomplicator.PlanOptions{
//	    ProjectFolder: "/home/me/oot",
//	})
//
//	events := decomplicator.NewEvents()
//	go func() {
//	    for ev := range events.C() {
//	        fmt.Println(ev.Kind, ev.Label)
//	    }
//	}()
//	run, err := client.Provision(ctx, plan, "/home/me/oot", decomplicator.RunOptions{
//	    BaseDataPath: "/home/me/baserom.z64",
//	    Events:       events,
//	})
//	events.Close()
package decomplicator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lucretia/decomplicator/internal/archive"
	"github.com/lucretia/decomplicator/internal/cache"
	"github.com/lucretia/decomplicator/internal/config"
	"github.com/lucretia/decomplicator/internal/engine"
	"github.com/lucretia/decomplicator/internal/fetch"
	"github.com/lucretia/decomplicator/internal/manifest"
	"github.com/lucretia/decomplicator/internal/state"
)

// Provisioner provisions a project folder from a plan.
type Provisioner interface {
	Provision(ctx context.Context, plan *Plan, projectFolder string, opts RunOptions) (*Run, error)
}

// Resumer continues an interrupted run.
type Resumer interface {
	Resume(ctx context.Context, projectFolder string, opts RunOptions) (*Run, error)
}

// Checker re-verifies the outputs of a completed run.
type Checker interface {
	Check(projectFolder string) (*CheckResult, error)
}

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a decomplicator client.
type Options struct {
	// Settings are user settings, usually from config.LoadLayers. Nil
	// means defaults.
	Settings *Settings

	// CacheDir overrides Settings.CacheDir. If both are empty the default
	// cache directory is used.
	CacheDir string

	// HTTPClient is used for manifests and downloads. Nil means a client
	// honouring Settings.Fetch.Timeout and Settings.Fetch.HeaderTimeout.
	HTTPClient HTTPClient

	Logger *slog.Logger
}

// PlanOptions configures manifest resolution.
type PlanOptions struct {
	// ProjectFolder is exposed to the manifest as {{.ProjectDir}}.
	ProjectFolder string

	// Vars override manifest variables and the settings' variables.
	Vars map[string]string

	// ExistingRepository adopts a git repository already checked out in
	// the project folder instead of cloning the template's repository.
	ExistingRepository bool
}

// Client is the main entry point for the decomplicator library.
// It implements Provisioner, Resumer and Checker.
type Client struct {
	settings *config.Settings
	registry *manifest.Registry
	cache    *cache.Cache
	engine   *engine.Engine
}

// New creates a new decomplicator Client.
func New(opts Options) (*Client, error) {
	s := opts.Settings
	if s == nil {
		s = &config.Settings{}
	}

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = s.CacheDir
	}
	if cacheDir == "" {
		cacheDir = cache.DefaultDir()
	}
	c, err := cache.New(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("initializing cache: %w", err)
	}

	client := opts.HTTPClient
	if client == nil {
		client = fetch.NewClient(s.Fetch.Timeout, s.Fetch.HeaderTimeout)
	}

	eng := &engine.Engine{
		Fetcher: &fetch.Fetcher{
			Client:      client,
			MaxAttempts: s.Fetch.MaxAttempts,
			BaseDelay:   s.Fetch.BaseDelay,
			MaxDelay:    s.Fetch.MaxDelay,
			IdleTimeout: s.Fetch.IdleTimeout,
			UserAgent:   s.Fetch.UserAgent,
			Logger:      opts.Logger,
		},
		Installer:       &archive.Installer{Logger: opts.Logger},
		Store:           state.Store{},
		Cache:           c,
		Logger:          opts.Logger,
		CheckpointEvery: s.Run.CheckpointEvery,
		KillGrace:       s.Run.KillGrace,
	}

	return &Client{
		settings: s,
		registry: manifest.DefaultRegistry(client),
		cache:    c,
		engine:   eng,
	}, nil
}

// Plan resolves the manifest at location into a plan. location may also
// be the name of a template registered in the settings.
func (c *Client) Plan(ctx context.Context, location string, opts PlanOptions) (*Plan, error) {
	if alias, ok := c.settings.Template(location); ok {
		location = alias
	}
	return manifest.Resolve(ctx, location, manifest.Options{
		Registry:        c.registry,
		ProjectDir:      opts.ProjectFolder,
		Vars:            manifest.MergeVars(c.settings.Variables, opts.Vars),
		AdoptRepository: opts.ExistingRepository,
	})
}

// Provision runs plan in projectFolder. A folder already holding a run of
// the same plan is resumed.
func (c *Client) Provision(ctx context.Context, plan *Plan, projectFolder string, opts RunOptions) (*Run, error) {
	return c.engine.Run(ctx, plan, projectFolder, opts)
}

// Resume continues the run recorded in projectFolder.
func (c *Client) Resume(ctx context.Context, projectFolder string, opts RunOptions) (*Run, error) {
	return c.engine.Resume(ctx, projectFolder, opts)
}

// Status returns the run recorded in projectFolder.
func (c *Client) Status(projectFolder string) (*Run, error) {
	return c.engine.Status(projectFolder)
}

// Check re-verifies the outputs of completed steps in projectFolder.
func (c *Client) Check(projectFolder string) (*CheckResult, error) {
	return c.engine.Check(projectFolder)
}

// RunAction runs a named template action in a provisioned project folder.
func (c *Client) RunAction(ctx context.Context, projectFolder, name string, opts RunOptions) error {
	return c.engine.RunAction(ctx, projectFolder, name, opts)
}

// Actions returns the actions of the template projectFolder was
// provisioned from.
func (c *Client) Actions(projectFolder string) ([]Action, error) {
	_, plan, err := c.engine.Reload(projectFolder)
	if err != nil {
		return nil, err
	}
	return plan.Actions, nil
}

// ImportBaseData verifies path against the plan's base data digest and
// stores it in the cache so later runs need not be given the file.
func (c *Client) ImportBaseData(plan *Plan, path string) (string, error) {
	return c.engine.CheckBaseData(plan, path)
}

// Reset discards the run recorded in projectFolder. Provisioned files
// are left in place.
func (c *Client) Reset(projectFolder string) error {
	lock, err := c.engine.Store.Acquire(projectFolder)
	if err != nil {
		return err
	}
	defer lock.Release()
	return c.engine.Store.Reset(projectFolder)
}

// Cache returns the client's content-addressed cache.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}
