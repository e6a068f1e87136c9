package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format is a manifest encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FileNames are the manifest names looked up inside a template directory,
// in order of preference.
var FileNames = []string{
	"decomplicator.toml",
	"decomplicator.yaml",
	"decomplicator.yml",
	"decomplicator.json",
	"decomplicator.jsonc",
}

// FormatOf picks the encoding from a file name or URL path.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("cannot tell manifest format of '%s': use a .toml, .yaml, .yml, .json or .jsonc name", name)
}

// Ext is the canonical file extension for the format.
func (f Format) Ext() string {
	if f == FormatJSON {
		return ".jsonc"
	}
	return "." + string(f)
}

// document mirrors the on-disk manifest. TOML uses [[step]] and [[action]]
// tables; YAML and JSON use "steps" and "actions" lists.
type document struct {
	FormatVersion int               `toml:"format_version" yaml:"format_version" json:"format_version"`
	Template      rawTemplate       `toml:"template" yaml:"template" json:"template"`
	BaseData      *rawBaseData      `toml:"base_data" yaml:"base_data" json:"base_data"`
	Repository    *rawRepository    `toml:"repository" yaml:"repository" json:"repository"`
	Env           rawEnv            `toml:"env" yaml:"env" json:"env"`
	Variables     map[string]string `toml:"variables" yaml:"variables" json:"variables"`
	Steps         []rawStep         `toml:"step" yaml:"steps" json:"steps"`
	Actions       []rawAction       `toml:"action" yaml:"actions" json:"actions"`
}

type rawTemplate struct {
	ID          string `toml:"id" yaml:"id" json:"id"`
	Name        string `toml:"name" yaml:"name" json:"name"`
	Version     string `toml:"version" yaml:"version" json:"version"`
	Description string `toml:"description" yaml:"description" json:"description"`
	TrustNotice string `toml:"trust_notice" yaml:"trust_notice" json:"trust_notice"`
}

type rawBaseData struct {
	Name   string `toml:"name" yaml:"name" json:"name"`
	Digest string `toml:"digest" yaml:"digest" json:"digest"`
	Path   string `toml:"path" yaml:"path" json:"path"`
}

type rawRepository struct {
	URL    string `toml:"url" yaml:"url" json:"url"`
	Commit string `toml:"commit" yaml:"commit" json:"commit"`
	Branch string `toml:"branch" yaml:"branch" json:"branch"`
	Path   string `toml:"path" yaml:"path" json:"path"`
}

type rawEnv struct {
	Path []string          `toml:"path" yaml:"path" json:"path"`
	Vars map[string]string `toml:"vars" yaml:"vars" json:"vars"`
}

type rawAction struct {
	Name        string     `toml:"name" yaml:"name" json:"name"`
	Description string     `toml:"description" yaml:"description" json:"description"`
	Commands    [][]string `toml:"commands" yaml:"commands" json:"commands"`
}

type rawStep struct {
	Kind string `toml:"kind" yaml:"kind" json:"kind"`
	Name string `toml:"name" yaml:"name" json:"name"`

	// fetch, verify
	URL         string `toml:"url" yaml:"url" json:"url"`
	Digest      string `toml:"digest" yaml:"digest" json:"digest"`
	Destination string `toml:"destination" yaml:"destination" json:"destination"`
	Cache       *bool  `toml:"cache" yaml:"cache" json:"cache"`

	// verify, patch
	Path string `toml:"path" yaml:"path" json:"path"`

	// extract
	Archive         string `toml:"archive" yaml:"archive" json:"archive"`
	Target          string `toml:"target" yaml:"target" json:"target"`
	StripComponents int    `toml:"strip_components" yaml:"strip_components" json:"strip_components"`
	TreeDigest      string `toml:"tree_digest" yaml:"tree_digest" json:"tree_digest"`
	Remove          bool   `toml:"remove" yaml:"remove" json:"remove"`

	// copy
	Source string `toml:"source" yaml:"source" json:"source"`
	From   string `toml:"from" yaml:"from" json:"from"`
	Move   bool   `toml:"move" yaml:"move" json:"move"`

	// run
	Executable string            `toml:"executable" yaml:"executable" json:"executable"`
	Args       []string          `toml:"args" yaml:"args" json:"args"`
	Workdir    string            `toml:"workdir" yaml:"workdir" json:"workdir"`
	ExitCodes  []int             `toml:"exit_codes" yaml:"exit_codes" json:"exit_codes"`
	Timeout    string            `toml:"timeout" yaml:"timeout" json:"timeout"`
	Env        map[string]string `toml:"env" yaml:"env" json:"env"`
	Produces   []string          `toml:"produces" yaml:"produces" json:"produces"`

	// patch
	Op      string `toml:"op" yaml:"op" json:"op"`
	Text    string `toml:"text" yaml:"text" json:"text"`
	File    string `toml:"file" yaml:"file" json:"file"`
	Find    string `toml:"find" yaml:"find" json:"find"`
	Replace string `toml:"replace" yaml:"replace" json:"replace"`
}

// decode parses data strictly: unknown keys are errors so typos in a
// template surface before anything runs.
func decode(data []byte, format Format) (*document, error) {
	var doc document
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &doc)
		if err != nil {
			return nil, fmt.Errorf("parsing TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}

	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}

	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported manifest format '%s'", format)
	}
	return &doc, nil
}
