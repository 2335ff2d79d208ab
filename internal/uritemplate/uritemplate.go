// Package uritemplate implements the small subset of RFC 6570 that
// resource templates need (spec.md §4.5): simple string expansion with
// `{var}`, and reserved expansion with `{+var}` that allows the
// variable's captured value to contain additional path segments.
package uritemplate

import (
	"regexp"
	"strings"
)

// Template is a compiled URI template ready to match concrete URIs.
type Template struct {
	raw   string
	names []string
	plus  []bool
	regex *regexp.Regexp
}

var varPattern = regexp.MustCompile(`\{(\+?)([A-Za-z_][A-Za-z0-9_]*)\}`)

// Compile parses a template string such as "file:///{+path}" or
// "users://{id}/profile" into a matchable Template.
func Compile(tmpl string) *Template {
	var names []string
	var plus []bool

	var sb strings.Builder
	last := 0
	for _, loc := range varPattern.FindAllStringSubmatchIndex(tmpl, -1) {
		sb.WriteString(regexp.QuoteMeta(tmpl[last:loc[0]]))
		isPlus := tmpl[loc[2]:loc[3]] == "+"
		name := tmpl[loc[4]:loc[5]]
		names = append(names, name)
		plus = append(plus, isPlus)
		if isPlus {
			sb.WriteString("(.+)")
		} else {
			sb.WriteString("([^/]+)")
		}
		last = loc[1]
	}
	sb.WriteString(regexp.QuoteMeta(tmpl[last:]))

	return &Template{
		raw:   tmpl,
		names: names,
		plus:  plus,
		regex: regexp.MustCompile("^" + sb.String() + "$"),
	}
}

// String returns the original template text.
func (t *Template) String() string { return t.raw }

// Match reports whether uri matches the template, returning the
// captured variable bindings on success.
func (t *Template) Match(uri string) (map[string]string, bool) {
	m := t.regex.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	vars := make(map[string]string, len(t.names))
	for i, name := range t.names {
		vars[name] = m[i+1]
	}
	return vars, true
}

// Matcher holds a set of compiled templates in registration order and
// resolves a concrete URI against them, preferring an earlier-registered
// template over a later one when more than one matches (spec.md §4.5:
// "insertion order breaks ties").
type Matcher struct {
	templates []*Template
}

func NewMatcher() *Matcher { return &Matcher{} }

func (m *Matcher) Add(tmpl string) *Template {
	t := Compile(tmpl)
	m.templates = append(m.templates, t)
	return t
}

// Resolve returns the first-registered template that matches uri, with
// its captured variables.
func (m *Matcher) Resolve(uri string) (*Template, map[string]string, bool) {
	for _, t := range m.templates {
		if vars, ok := t.Match(uri); ok {
			return t, vars, true
		}
	}
	return nil, nil, false
}
