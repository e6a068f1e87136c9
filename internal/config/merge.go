package config

import "fmt"

// Merge combines two settings layers where overlay takes precedence:
//   - version: must agree if both declare it
//   - scalars: a non-zero overlay value wins
//   - variables: deep merge, overlay keys win
//   - templates: merge by name, an overlay entry replaces the base entry
func Merge(base, overlay *Settings) (*Settings, error) {
	if base == nil {
		return overlay, nil
	}
	if overlay == nil {
		return base, nil
	}

	result := &Settings{}
	if err := mergeVersion(base.Version, overlay.Version, &result.Version); err != nil {
		return nil, err
	}

	result.CacheDir = pick(base.CacheDir, overlay.CacheDir)

	result.Fetch = FetchSettings{
		MaxAttempts:   pick(base.Fetch.MaxAttempts, overlay.Fetch.MaxAttempts),
		BaseDelay:     pick(base.Fetch.BaseDelay, overlay.Fetch.BaseDelay),
		MaxDelay:      pick(base.Fetch.MaxDelay, overlay.Fetch.MaxDelay),
		Timeout:       pick(base.Fetch.Timeout, overlay.Fetch.Timeout),
		HeaderTimeout: pick(base.Fetch.HeaderTimeout, overlay.Fetch.HeaderTimeout),
		IdleTimeout:   pick(base.Fetch.IdleTimeout, overlay.Fetch.IdleTimeout),
		UserAgent:     pick(base.Fetch.UserAgent, overlay.Fetch.UserAgent),
	}
	result.Run = RunSettings{
		CheckpointEvery: pick(base.Run.CheckpointEvery, overlay.Run.CheckpointEvery),
		KillGrace:       pick(base.Run.KillGrace, overlay.Run.KillGrace),
	}
	result.Log = LogSettings{
		Level:  pick(base.Log.Level, overlay.Log.Level),
		Format: pick(base.Log.Format, overlay.Log.Format),
		File:   pick(base.Log.File, overlay.Log.File),
	}

	result.Variables = mergeVariables(base.Variables, overlay.Variables)
	result.Templates = mergeTemplates(base.Templates, overlay.Templates)
	return result, nil
}

// MergeAll merges layers in order (lowest precedence first).
func MergeAll(layers []*Settings) (*Settings, error) {
	if len(layers) == 0 {
		return &Settings{}, nil
	}
	result := layers[0]
	for i := 1; i < len(layers); i++ {
		var err error
		result, err = Merge(result, layers[i])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func pick[T comparable](base, overlay T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

func mergeVersion(base, overlay int, out *int) error {
	switch {
	case base == 0:
		*out = overlay
	case overlay == 0, base == overlay:
		*out = base
	default:
		return fmt.Errorf("settings version mismatch: one layer declares version %d, another declares version %d", base, overlay)
	}
	return nil
}

func mergeVariables(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	result := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		result[k] = v
	}
	return result
}

func mergeTemplates(base, overlay []TemplateAlias) []TemplateAlias {
	if len(base) == 0 {
		return overlay
	}
	if len(overlay) == 0 {
		return base
	}

	names := make(map[string]bool, len(overlay))
	for _, t := range overlay {
		names[t.Name] = true
	}
	var result []TemplateAlias
	for _, t := range base {
		if !names[t.Name] {
			result = append(result, t)
		}
	}
	return append(result, overlay...)
}
