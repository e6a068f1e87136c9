package manifest

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"
	"text/template"
)

// expander substitutes {{.NAME}} references in manifest strings.
type expander struct {
	vars map[string]string
	errs []string
}

// expand applies variable substitution to s. Failures are collected
// rather than returned so every bad reference in a manifest is reported.
func (x *expander) expand(field, s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	tmpl, err := template.New(field).Option("missingkey=error").Parse(s)
	if err != nil {
		x.errs = append(x.errs, fmt.Sprintf("%s: parsing template: %v", field, err))
		return s
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, x.vars); err != nil {
		x.errs = append(x.errs, fmt.Sprintf("%s: %v", field, err))
		return s
	}
	return buf.String()
}

func (x *expander) expandAll(field string, in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = x.expand(fmt.Sprintf("%s[%d]", field, i), s)
	}
	return out
}

func (x *expander) expandMap(field string, in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = x.expand(field+"."+k, v)
	}
	return out
}

// MergeVars merges manifest variables with built-ins and caller overrides.
// Later maps win.
func MergeVars(layers ...map[string]string) map[string]string {
	n := 0
	for _, l := range layers {
		n += len(l)
	}
	merged := make(map[string]string, n)
	for _, l := range layers {
		for k, v := range l {
			merged[k] = v
		}
	}
	return merged
}

func builtinVars(opts Options, src *Source) map[string]string {
	vars := map[string]string{
		"OS":   runtime.GOOS,
		"Arch": runtime.GOARCH,
	}
	if src.Dir != "" {
		vars["TemplateDir"] = src.Dir
	}
	if opts.ProjectDir != "" {
		vars["ProjectDir"] = opts.ProjectDir
	}
	return vars
}
