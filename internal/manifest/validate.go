package manifest

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lucretia/decomplicator/internal/archive"
	"github.com/lucretia/decomplicator/internal/digest"
	"github.com/lucretia/decomplicator/internal/patch"
	"github.com/lucretia/decomplicator/internal/sandbox"
)

// ReservedDir holds provisioning state inside a project folder. Steps may
// not write into it.
const ReservedDir = ".decomplicator"

type builder struct {
	src       *Source
	opts      Options
	x         *expander
	malformed []string
	untrusted []string

	// produced lists outputs of the steps seen so far.
	produced []string
	// files records the template files read so far.
	files map[string]string
}

func (b *builder) fail(prefix, format string, args ...any) {
	b.malformed = append(b.malformed, prefix+": "+fmt.Sprintf(format, args...))
}

func (b *builder) build(doc *document) *Plan {
	plan := &Plan{
		FormatVersion: doc.FormatVersion,
		Variables:     b.x.vars,
		Document:      b.src.Data,
		Format:        b.src.Format,
	}

	switch {
	case doc.FormatVersion == 0:
		b.malformed = append(b.malformed, "'format_version' is required")
	case doc.FormatVersion > FormatVersion:
		b.malformed = append(b.malformed, fmt.Sprintf("format_version %d is newer than this build supports (%d); update decomplicator", doc.FormatVersion, FormatVersion))
	case doc.FormatVersion < MinFormatVersion:
		b.malformed = append(b.malformed, fmt.Sprintf("format_version %d is no longer supported (minimum %d)", doc.FormatVersion, MinFormatVersion))
	}

	plan.Template = Template{
		ID:          doc.Template.ID,
		Name:        doc.Template.Name,
		Version:     doc.Template.Version,
		Description: doc.Template.Description,
		TrustNotice: doc.Template.TrustNotice,
		Source:      b.src.Location,
		Dir:         b.src.Dir,
	}
	if plan.Template.ID == "" {
		b.malformed = append(b.malformed, "template: 'id' is required")
	}
	if plan.Template.Name == "" {
		plan.Template.Name = plan.Template.ID
	}

	if doc.BaseData != nil {
		plan.BaseData = b.baseData(doc.BaseData)
		if plan.BaseData != nil && plan.BaseData.Path != "" {
			plan.Steps = append(plan.Steps, Step{
				Name: "Copy " + plan.BaseData.Name,
				Op:   &Copy{From: FromBaseData, Destination: plan.BaseData.Path},
			})
			b.produced = append(b.produced, plan.BaseData.Path)
		}
	}

	if doc.Repository != nil {
		plan.Repository = b.repository(doc.Repository)
		if plan.Repository != nil && !plan.Repository.Adopted {
			plan.Steps = append(plan.Steps, repositorySteps(plan.Repository)...)
		}
	}

	plan.Env = b.env(doc.Env)

	for i, raw := range doc.Steps {
		prefix := fmt.Sprintf("step[%d]", i)
		if raw.Name != "" {
			prefix = fmt.Sprintf("step '%s'", raw.Name)
		}
		op := b.step(prefix, raw, plan.BaseData != nil)
		if op == nil {
			continue
		}
		for _, in := range op.inputs() {
			if !b.covered(in) {
				b.fail(prefix, "reads '%s' which no earlier step produces", in)
			}
		}
		b.produced = append(b.produced, op.outputs()...)
		plan.Steps = append(plan.Steps, Step{Name: raw.Name, Op: op})
	}

	plan.Actions = b.actions(doc.Actions)
	plan.Files = b.files
	return plan
}

func (b *builder) baseData(raw *rawBaseData) *BaseData {
	bd := &BaseData{Name: raw.Name}
	if bd.Name == "" {
		bd.Name = "base data"
	}
	if raw.Digest == "" {
		b.malformed = append(b.malformed, "base_data: 'digest' is required")
		return nil
	}
	d, err := digest.Parse(raw.Digest)
	if err != nil {
		b.fail("base_data", "%v", err)
		return nil
	}
	bd.Digest = d
	if raw.Path != "" {
		bd.Path = b.projectPath("base_data", "path", raw.Path, true)
	}
	return bd
}

var commitID = regexp.MustCompile(`^[0-9a-f]{7,64}$`)

func (b *builder) repository(raw *rawRepository) *Repository {
	r := &Repository{
		URL:     b.x.expand("repository.url", raw.URL),
		Commit:  strings.ToLower(raw.Commit),
		Branch:  raw.Branch,
		Path:    ".",
		Adopted: b.opts.AdoptRepository,
	}
	switch {
	case r.URL == "":
		b.malformed = append(b.malformed, "repository: 'url' is required")
	case strings.HasPrefix(r.URL, "-"):
		b.fail("repository", "invalid url '%s'", r.URL)
	}
	if !commitID.MatchString(r.Commit) {
		b.untrusted = append(b.untrusted, fmt.Sprintf("repository: commit '%s' must be a commit id (7 to 64 hex digits)", raw.Commit))
	}
	if r.Branch == "" {
		r.Branch = DefaultBranch
	}
	if strings.HasPrefix(r.Branch, "-") || strings.ContainsAny(r.Branch, " \t~^:?*[\\") || strings.Contains(r.Branch, "..") {
		b.fail("repository", "invalid branch name '%s'", r.Branch)
	}
	if raw.Path != "" {
		r.Path = b.projectPath("repository", "path", b.x.expand("repository.path", raw.Path), true)
	}
	if r.Path != "" {
		b.produced = append(b.produced, r.Path)
	}
	return r
}

// repositorySteps clones r into CloneDir, moves the clone into place and
// checks out the pinned commit on r.Branch. -B keeps the checkout
// repeatable after an interrupted attempt.
func repositorySteps(r *Repository) []Step {
	workdir := r.Path
	if workdir == "." {
		workdir = ""
	}
	return []Step{
		{
			Name: "Clone repository",
			Op: &Run{
				Executable: "git",
				Args:       []string{"clone", "--", r.URL, CloneDir},
				ExitCodes:  []int{0},
				Produces:   []string{CloneDir},
			},
		},
		{
			Name: "Move repository into place",
			Op:   &Copy{From: FromProject, Source: CloneDir, Destination: r.Path, Move: true},
		},
		{
			Name: "Check out " + r.Commit,
			Op: &Run{
				Executable: "git",
				Args:       []string{"checkout", "-B", r.Branch, r.Commit},
				Workdir:    workdir,
				ExitCodes:  []int{0},
			},
		},
	}
}

func (b *builder) env(raw rawEnv) Env {
	env := Env{Vars: b.x.expandMap("env.vars", raw.Vars)}
	for i, p := range raw.Path {
		field := fmt.Sprintf("path[%d]", i)
		if clean := b.projectPath("env", field, b.x.expand("env."+field, p), false); clean != "" {
			env.Path = append(env.Path, clean)
		}
	}
	for k := range env.Vars {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			b.fail("env", "invalid variable name '%s'", k)
		}
	}
	return env
}

func (b *builder) step(prefix string, raw rawStep, hasBaseData bool) Op {
	x := b.x
	switch Kind(raw.Kind) {
	case KindFetch:
		f := &Fetch{
			URL:         x.expand(prefix+".url", raw.URL),
			Destination: b.projectPath(prefix, "destination", x.expand(prefix+".destination", raw.Destination), true),
			Cache:       raw.Cache == nil || *raw.Cache,
		}
		b.checkURL(prefix, f.URL)
		if raw.Digest == "" {
			b.untrusted = append(b.untrusted, fmt.Sprintf("%s: 'digest' is required for downloads", prefix))
		} else if d, err := digest.Parse(raw.Digest); err != nil {
			b.untrusted = append(b.untrusted, fmt.Sprintf("%s: %v", prefix, err))
		} else {
			f.Digest = d
		}
		return f

	case KindVerify:
		v := &Verify{Path: b.projectPath(prefix, "path", x.expand(prefix+".path", raw.Path), true)}
		v.Digest = b.requiredDigest(prefix, "digest", raw.Digest)
		return v

	case KindExtract:
		e := &Extract{
			Archive:         b.projectPath(prefix, "archive", x.expand(prefix+".archive", raw.Archive), true),
			Target:          b.projectPath(prefix, "target", x.expand(prefix+".target", raw.Target), true),
			StripComponents: raw.StripComponents,
			Remove:          raw.Remove,
		}
		if e.Archive != "" {
			if err := archive.Supported(e.Archive); err != nil {
				b.fail(prefix, "%v", err)
			}
		}
		if e.StripComponents < 0 {
			b.fail(prefix, "'strip_components' must not be negative")
		}
		if raw.TreeDigest != "" {
			e.TreeDigest = b.requiredDigest(prefix, "tree_digest", raw.TreeDigest)
		}
		return e

	case KindCopy:
		return b.copyStep(prefix, raw, hasBaseData)

	case KindRun:
		return b.runStep(prefix, raw)

	case KindPatch:
		return b.patchStep(prefix, raw)

	case "":
		b.fail(prefix, "'kind' is required; must be one of: %s", kindList())
	default:
		b.fail(prefix, "unknown kind '%s'; must be one of: %s", raw.Kind, kindList())
	}
	return nil
}

func (b *builder) copyStep(prefix string, raw rawStep, hasBaseData bool) Op {
	c := &Copy{
		From:        raw.From,
		Move:        raw.Move,
		Destination: b.projectPath(prefix, "destination", b.x.expand(prefix+".destination", raw.Destination), true),
	}
	if c.From == "" {
		c.From = FromProject
	}
	source := b.x.expand(prefix+".source", raw.Source)

	switch c.From {
	case FromProject:
		c.Source = b.projectPath(prefix, "source", source, true)
	case FromTemplate:
		if b.src.Dir == "" {
			b.fail(prefix, "copying from the template needs a local template directory")
		}
		c.Source = b.templatePath(prefix, "source", source)
	case FromBaseData:
		if !hasBaseData {
			b.fail(prefix, "copying base data needs a [base_data] section")
		}
		if source != "" {
			b.fail(prefix, "'source' must be empty when copying base data")
		}
	default:
		b.fail(prefix, "invalid from '%s'; must be one of: project, template, base_data", c.From)
	}
	if c.Move && c.From != FromProject {
		b.fail(prefix, "'move' is only allowed for project files")
	}
	return c
}

func (b *builder) runStep(prefix string, raw rawStep) Op {
	x := b.x
	r := &Run{
		Executable: x.expand(prefix+".executable", raw.Executable),
		Args:       x.expandAll(prefix+".args", raw.Args),
		ExitCodes:  raw.ExitCodes,
		Env:        x.expandMap(prefix+".env", raw.Env),
	}
	if r.Executable == "" {
		b.fail(prefix, "'executable' is required")
	}
	if raw.Workdir != "" {
		r.Workdir = b.projectPath(prefix, "workdir", x.expand(prefix+".workdir", raw.Workdir), false)
	}
	if len(r.ExitCodes) == 0 {
		r.ExitCodes = []int{0}
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil || d <= 0 {
			b.fail(prefix, "invalid timeout '%s'; use a duration such as '30m'", raw.Timeout)
		}
		r.Timeout = d
	}
	for i, p := range raw.Produces {
		field := fmt.Sprintf("produces[%d]", i)
		if clean := b.projectPath(prefix, field, x.expand(prefix+"."+field, p), true); clean != "" {
			r.Produces = append(r.Produces, clean)
		}
	}
	return r
}

func (b *builder) patchStep(prefix string, raw rawStep) Op {
	x := b.x
	p := &Patch{
		Path:    b.projectPath(prefix, "path", x.expand(prefix+".path", raw.Path), true),
		Find:    x.expand(prefix+".find", raw.Find),
		Replace: x.expand(prefix+".replace", raw.Replace),
	}
	op, err := patch.ParseOp(raw.Op)
	if err != nil {
		b.fail(prefix, "%v", err)
		return p
	}
	p.Op = op

	switch {
	case op.NeedsText():
		if (raw.Text == "") == (raw.File == "") {
			b.fail(prefix, "op '%s' needs exactly one of 'text' or 'file'", op)
		}
		if raw.Text != "" {
			p.Text = x.expand(prefix+".text", raw.Text)
		}
		if raw.File != "" {
			p.File = raw.File
			p.Text = b.readTemplateFile(prefix, raw.File)
		}
	case op == patch.Substitute:
		if p.Find == "" {
			b.fail(prefix, "op 'substitute' needs 'find'")
		}
	case op == patch.Delete:
		if raw.Text != "" || raw.File != "" || raw.Find != "" {
			b.fail(prefix, "op 'delete' takes no content")
		}
	}
	return p
}

func (b *builder) actions(raw []rawAction) []Action {
	var out []Action
	seen := make(map[string]bool)
	for i, ra := range raw {
		prefix := fmt.Sprintf("action[%d]", i)
		if ra.Name != "" {
			prefix = fmt.Sprintf("action '%s'", ra.Name)
		}
		switch {
		case ra.Name == "":
			b.fail(prefix, "'name' is required")
		case seen[ra.Name]:
			b.fail(prefix, "duplicate action name '%s'", ra.Name)
		default:
			seen[ra.Name] = true
		}
		if len(ra.Commands) == 0 {
			b.fail(prefix, "at least one command is required")
		}
		a := Action{Name: ra.Name, Description: ra.Description}
		for j, cmd := range ra.Commands {
			if len(cmd) == 0 || cmd[0] == "" {
				b.fail(prefix, "command[%d] is empty", j)
				continue
			}
			a.Commands = append(a.Commands, b.x.expandAll(fmt.Sprintf("%s.commands[%d]", prefix, j), cmd))
		}
		out = append(out, a)
	}
	return out
}

func (b *builder) checkURL(prefix, raw string) {
	if raw == "" {
		b.untrusted = append(b.untrusted, fmt.Sprintf("%s: 'url' is required", prefix))
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		b.untrusted = append(b.untrusted, fmt.Sprintf("%s: '%s' is not an absolute http(s) URL", prefix, raw))
	}
}

func (b *builder) requiredDigest(prefix, field, raw string) digest.Digest {
	if raw == "" {
		b.fail(prefix, "'%s' is required", field)
		return digest.Digest{}
	}
	d, err := digest.Parse(raw)
	if err != nil {
		b.fail(prefix, "%s: %v", field, err)
	}
	return d
}

// projectPath cleans a project-relative path to slash form. Paths leaving
// the project or pointing into ReservedDir are rejected.
func (b *builder) projectPath(prefix, field, raw string, required bool) string {
	if raw == "" {
		if required {
			b.fail(prefix, "'%s' is required", field)
		}
		return ""
	}
	clean := path.Clean(strings.ReplaceAll(raw, `\`, "/"))
	if !sandbox.IsLocalRel(clean) {
		b.fail(prefix, "%s '%s' must stay inside the project folder", field, raw)
		return ""
	}
	if clean == ReservedDir || strings.HasPrefix(clean, ReservedDir+"/") {
		b.fail(prefix, "%s '%s' is reserved for provisioning state", field, raw)
		return ""
	}
	return clean
}

func (b *builder) templatePath(prefix, field, raw string) string {
	if raw == "" {
		b.fail(prefix, "'%s' is required", field)
		return ""
	}
	clean := path.Clean(strings.ReplaceAll(raw, `\`, "/"))
	if !sandbox.IsLocalRel(clean) {
		b.fail(prefix, "%s '%s' must stay inside the template directory", field, raw)
		return ""
	}
	return clean
}

func (b *builder) readTemplateFile(prefix, raw string) string {
	rel := b.templatePath(prefix, "file", raw)
	if rel == "" {
		return ""
	}
	if text, ok := b.opts.Files[rel]; ok {
		b.keepFile(rel, text)
		return text
	}
	if b.src.Dir == "" {
		b.fail(prefix, "'file' needs a local template directory")
		return ""
	}
	resolved, err := sandbox.ValidatePath(b.src.Dir, filepath.FromSlash(rel))
	if err != nil {
		b.fail(prefix, "%v", err)
		return ""
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		b.fail(prefix, "reading '%s': %v", raw, err)
		return ""
	}
	b.keepFile(rel, string(data))
	return string(data)
}

func (b *builder) keepFile(rel, text string) {
	if b.files == nil {
		b.files = make(map[string]string)
	}
	b.files[rel] = text
}

// covered reports whether p equals or lies under an output produced so far.
func (b *builder) covered(p string) bool {
	for _, out := range b.produced {
		if out == "." || p == out || strings.HasPrefix(p, out+"/") {
			return true
		}
	}
	return false
}

func kindList() string {
	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
