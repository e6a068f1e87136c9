package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/lucretia/decomplicator/internal/cache"
	"github.com/lucretia/decomplicator/internal/digest"
	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/lucretia/decomplicator/internal/manifest"
)

// baseData locates and verifies the plan's base data file, returning the
// path copy steps read it from. It touches neither the network nor the
// project folder.
//
// A file given by the user is verified and added to the base data cache.
// Without one, the cache is consulted, then fallback (the path recorded by
// an earlier run).
func (e *Engine) baseData(plan *manifest.Plan, path, fallback string) (string, error) {
	want := plan.BaseData
	if want == nil {
		if path != "" {
			e.logger().Warn("template needs no base data file; ignoring it", "path", path)
		}
		return "", nil
	}

	if path == "" && e.Cache != nil {
		if cached, ok := e.Cache.Lookup(cache.BaseData, want.Digest); ok {
			e.logger().Debug("base data found in cache", "digest", want.Digest.String())
			return cached, nil
		}
	}
	if path == "" {
		path = fallback
	}
	if path == "" {
		return "", failure.Newf(failure.IncompatibleBaseData, "check base data",
			"template '%s' needs %s and none was given", plan.Template.ID, baseDataName(want)).
			WithHint("supply the file with --rom")
	}

	got, err := digest.Of(path, want.Digest.Algorithm)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", failure.New(failure.IncompatibleBaseData, "check base data", err).
				WithHint("supply the file with --rom")
		}
		return "", failure.New(failure.IOFailure, "check base data", err)
	}
	if !got.Equal(want.Digest) {
		return "", failure.Newf(failure.IncompatibleBaseData, "check base data",
			"%s is not %s: expected %s, got %s", path, baseDataName(want), want.Digest, got).
			WithHint("this template was written for a specific dump; check its region and revision")
	}

	if e.Cache == nil {
		return path, nil
	}
	cached, err := e.Cache.Import(cache.BaseData, want.Digest, path)
	if err != nil {
		e.logger().Warn("could not cache base data file", "path", path, "error", err)
		return path, nil
	}
	return cached, nil
}

func baseDataName(b *manifest.BaseData) string {
	if b.Name != "" {
		return fmt.Sprintf("'%s'", b.Name)
	}
	return "a base data file"
}

// CheckBaseData verifies path against the plan's base data digest and adds
// it to the cache. An empty path looks the file up in the cache. Returns
// the path run steps would read.
func (e *Engine) CheckBaseData(plan *manifest.Plan, path string) (string, error) {
	return e.baseData(plan, path, "")
}
