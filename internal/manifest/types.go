// Package manifest turns a template's declarative manifest into an ordered,
// validated Plan of typed provisioning steps.
package manifest

import (
	"time"

	"github.com/lucretia/decomplicator/internal/digest"
	"github.com/lucretia/decomplicator/internal/patch"
)

// Manifest format versions this build understands.
const (
	FormatVersion    = 1
	MinFormatVersion = 1
)

// Kind names a step kind. The set is closed.
type Kind string

const (
	KindFetch   Kind = "fetch"
	KindVerify  Kind = "verify"
	KindExtract Kind = "extract"
	KindCopy    Kind = "copy"
	KindRun     Kind = "run"
	KindPatch   Kind = "patch"
)

// Kinds lists every step kind in manifest order of appearance in docs.
var Kinds = []Kind{KindFetch, KindVerify, KindExtract, KindCopy, KindRun, KindPatch}

// Template identifies the template a plan was resolved from.
type Template struct {
	ID          string
	Name        string
	Version     string
	Description string
	TrustNotice string

	// Source is where the manifest was read from: a file path or URL.
	Source string
	// Dir is the local directory holding the manifest and any files it
	// ships. Empty for remote manifests.
	Dir string
}

// BaseData is the user-supplied file a template requires.
type BaseData struct {
	Name   string
	Digest digest.Digest
	// Path is where the file is copied inside the project, if anywhere.
	Path string
}

// DefaultBranch is the branch a cloned repository is checked out on.
const DefaultBranch = "decomplicator-project"

// CloneDir is where the repository is cloned before it is moved into
// place. It lives inside the provisioning directory.
const CloneDir = ReservedDir + "/clone"

// Repository is the git repository a project is built around. It expands
// into three steps: clone into CloneDir, move to Path, and check out
// Branch at Commit.
type Repository struct {
	URL    string
	Commit string
	Branch string
	Path   string // project-relative; "." is the project folder itself

	// Adopted means the project folder already holds the clone and no
	// repository steps are planned.
	Adopted bool
}

// Env is the environment run steps and actions execute under.
type Env struct {
	Path []string // project-relative, prepended to PATH
	Vars map[string]string
}

// Action is a named command sequence runnable after provisioning.
type Action struct {
	Name        string
	Description string
	Commands    [][]string
}

// Plan is a resolved manifest. It is never mutated after Resolve returns.
type Plan struct {
	FormatVersion int
	Template      Template
	BaseData      *BaseData
	Repository    *Repository
	Env           Env
	Variables     map[string]string // merged: manifest, built-ins, then overrides
	Steps         []Step
	Actions       []Action

	// Digest identifies the plan's content. Two plans with equal digests
	// perform the same steps.
	Digest string

	// Files holds the template files patch steps read, by slash-separated
	// template-relative path.
	Files map[string]string

	// Document holds the manifest bytes as read, and Format their encoding.
	Document []byte
	Format   Format
}

// Step is one provisioning step.
type Step struct {
	Index int
	ID    string // "NN-kind-hhhhhhhh", stable across re-resolution
	Name  string
	Op    Op
}

// Kind returns the step's kind.
func (s Step) Kind() Kind { return s.Op.Kind() }

// Label is a short human description of the step.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Op is the kind-specific payload of a step. It is implemented only by the
// types in this package.
type Op interface {
	Kind() Kind
	// inputs are project-relative paths the step reads.
	inputs() []string
	// outputs are project-relative paths the step creates.
	outputs() []string
}

// Fetch downloads URL to Destination and verifies it against Digest.
type Fetch struct {
	URL         string        `json:"url"`
	Digest      digest.Digest `json:"digest"`
	Destination string        `json:"destination"`
	// Cache allows the download to be served from and added to the shared
	// artifact cache.
	Cache bool `json:"cache"`
}

// Verify checks that Path matches Digest.
type Verify struct {
	Path   string        `json:"path"`
	Digest digest.Digest `json:"digest"`
}

// Extract unpacks Archive into Target.
type Extract struct {
	Archive         string        `json:"archive"`
	Target          string        `json:"target"`
	StripComponents int           `json:"strip_components,omitempty"`
	TreeDigest      digest.Digest `json:"tree_digest,omitzero"`
	// Remove deletes the archive once it is unpacked.
	Remove bool `json:"remove,omitempty"`
}

// Copy origins.
const (
	FromProject  = "project"
	FromTemplate = "template"
	FromBaseData = "base_data"
)

// Copy copies (or moves) a file or tree to Destination.
type Copy struct {
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination"`
	From        string `json:"from"`
	Move        bool   `json:"move,omitempty"`
}

// Run executes an external command.
type Run struct {
	Executable string            `json:"executable"`
	Args       []string          `json:"args,omitempty"`
	Workdir    string            `json:"workdir,omitempty"`
	ExitCodes  []int             `json:"exit_codes"`
	Timeout    time.Duration     `json:"timeout,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Produces   []string          `json:"produces,omitempty"`
}

// Patch edits a project file in place.
type Patch struct {
	Path    string   `json:"path"`
	Op      patch.Op `json:"op"`
	Text    string   `json:"text,omitempty"`
	File    string   `json:"file,omitempty"` // template-relative source of Text
	Find    string   `json:"find,omitempty"`
	Replace string   `json:"replace,omitempty"`
}

func (*Fetch) Kind() Kind   { return KindFetch }
func (*Verify) Kind() Kind  { return KindVerify }
func (*Extract) Kind() Kind { return KindExtract }
func (*Copy) Kind() Kind    { return KindCopy }
func (*Run) Kind() Kind     { return KindRun }
func (*Patch) Kind() Kind   { return KindPatch }

func (f *Fetch) inputs() []string  { return nil }
func (f *Fetch) outputs() []string { return []string{f.Destination} }

func (v *Verify) inputs() []string  { return []string{v.Path} }
func (v *Verify) outputs() []string { return nil }

func (e *Extract) inputs() []string  { return []string{e.Archive} }
func (e *Extract) outputs() []string { return []string{e.Target} }

func (c *Copy) inputs() []string {
	if c.From == FromProject {
		return []string{c.Source}
	}
	return nil
}
func (c *Copy) outputs() []string { return []string{c.Destination} }

func (r *Run) inputs() []string {
	if r.Workdir == "" || r.Workdir == "." {
		return nil
	}
	return []string{r.Workdir}
}
func (r *Run) outputs() []string { return r.Produces }

func (p *Patch) inputs() []string {
	if p.Op == patch.Delete {
		return nil
	}
	return []string{p.Path}
}
func (p *Patch) outputs() []string { return nil }

// ExitAccepted reports whether code is one of the step's accepted exit codes.
func (r *Run) ExitAccepted(code int) bool {
	for _, c := range r.ExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Action looks up an action by name.
func (p *Plan) Action(name string) (Action, bool) {
	for _, a := range p.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return Action{}, false
}
