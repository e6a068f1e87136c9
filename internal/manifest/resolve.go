package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucretia/decomplicator/internal/digest"
	"github.com/lucretia/decomplicator/internal/failure"
)

// Options controls resolution.
type Options struct {
	// Registry reads the manifest location. Nil means DefaultRegistry(nil).
	Registry *Registry

	// ProjectDir, if known, is exposed to manifest strings as {{.ProjectDir}}.
	ProjectDir string

	// Vars override manifest variables.
	Vars map[string]string

	// TemplateDir overrides the template directory of the source. Resume
	// uses it to re-parse a frozen manifest copy against the original
	// template files.
	TemplateDir string

	// Files supplies template file contents by slash-separated
	// template-relative path. Files it holds are not read from the template
	// directory, so a run's plan can be rebuilt after the template changed.
	Files map[string]string

	// AdoptRepository declares that the project folder already is a clone
	// of the manifest's repository.
	AdoptRepository bool
}

// Resolve reads the manifest at location (a local file, a template
// directory or an http(s) URL) and parses it into a Plan. It has no side
// effects beyond reading.
func Resolve(ctx context.Context, location string, opts Options) (*Plan, error) {
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry(nil)
	}
	src, err := reg.Read(ctx, location)
	if err != nil {
		return nil, err
	}
	return Parse(src, opts)
}

// Parse validates a manifest document and builds its Plan.
//
// Missing or unusable fetch digests and URLs fail with UntrustedSource.
// Every other problem, including a step that reads a path no earlier step
// produces, fails with MalformedManifest. All problems found are reported
// together.
func Parse(src *Source, opts Options) (*Plan, error) {
	if opts.TemplateDir != "" {
		copied := *src
		copied.Dir = opts.TemplateDir
		src = &copied
	}

	doc, err := decode(src.Data, src.Format)
	if err != nil {
		return nil, failure.New(failure.MalformedManifest, "parse manifest", fmt.Errorf("%s: %w", src.Location, err))
	}

	b := &builder{
		src:  src,
		opts: opts,
		x: &expander{
			vars: MergeVars(doc.Variables, builtinVars(opts, src), opts.Vars),
		},
	}
	plan := b.build(doc)

	b.malformed = append(b.malformed, b.x.errs...)
	if len(b.untrusted) > 0 {
		return nil, failure.New(failure.UntrustedSource, "parse manifest",
			&failure.ValidationError{Subject: "manifest", Errors: b.untrusted}).
			WithHint("every download needs an http(s) URL and a digest")
	}
	if len(b.malformed) > 0 {
		return nil, failure.New(failure.MalformedManifest, "parse manifest",
			&failure.ValidationError{Subject: "manifest", Errors: b.malformed})
	}

	for i := range plan.Steps {
		plan.Steps[i].Index = i
		plan.Steps[i].ID = stepID(i, plan.Steps[i].Op)
	}
	plan.Digest = planDigest(plan)
	return plan, nil
}

// stepID derives a stable identifier from position and canonical content.
func stepID(index int, op Op) string {
	canonical, err := json.Marshal(struct {
		Kind Kind `json:"kind"`
		Op   Op   `json:"op"`
	}{op.Kind(), op})
	if err != nil {
		// Op types contain only JSON-safe fields.
		panic(fmt.Sprintf("encoding step %d: %v", index, err))
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%02d-%s-%s", index+1, op.Kind(), hex.EncodeToString(sum[:4]))
}

func planDigest(p *Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "format %d\n", p.FormatVersion)
	fmt.Fprintf(&sb, "template %s %s\n", p.Template.ID, p.Template.Version)
	if p.BaseData != nil {
		fmt.Fprintf(&sb, "base_data %s %s\n", p.BaseData.Digest, p.BaseData.Path)
	}
	if r := p.Repository; r != nil {
		fmt.Fprintf(&sb, "repository %s %s %s %s %t\n", r.URL, r.Commit, r.Branch, r.Path, r.Adopted)
	}
	env, _ := json.Marshal(p.Env)
	fmt.Fprintf(&sb, "env %s\n", env)
	for _, s := range p.Steps {
		fmt.Fprintf(&sb, "step %s\n", s.ID)
	}
	return digest.OfBytes([]byte(sb.String()), digest.SHA256).String()
}
