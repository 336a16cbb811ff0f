// Package template renders the parameterized strings used throughout a
// suite document: filter values, filematch values, and stage scripts.
//
// Two render modes are supported. Plain mode substitutes values verbatim.
// Shell mode wraps every substituted value in single quotes (escaping any
// embedded single quote as `'\''`) so the rendered string is safe to hand to
// a shell. Shell mode is implemented by shell-quoting every value in the
// template's data before execution, rather than by patching the standard
// library's token stream — text/template does not expose one, so the
// post-filter is applied at the data layer instead, the way the teacher
// project notes an equivalent "inject a filter after every expression" idea
// for its own engine.
//
// An action that opens with a bare name, such as `{{ file.name }}` or
// `{{ roots | basename }}`, looks that name up in the context as if it were
// written with a leading dot; names of template functions and keywords are
// left as they are.
package template

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
)

// RenderFailure is raised for a syntax error or an undefined name while
// rendering a template. It always carries the offending source text so
// callers can report exactly what failed to render.
type RenderFailure struct {
	Source string
	Err    error
}

func (e *RenderFailure) Error() string {
	return fmt.Sprintf("render failed for template %q: %v", e.Source, e.Err)
}

func (e *RenderFailure) Unwrap() error { return e.Err }

// Mode selects how substituted values are encoded into the rendered string.
type Mode int

const (
	// Plain inserts substituted values verbatim.
	Plain Mode = iota
	// Shell wraps every substituted value in single quotes, escaping
	// embedded single quotes as '\''.
	Shell
)

// bareName matches the opening of an action whose first word is a bare name
// used as a value: followed by a field access, a pipe, or the action's end.
var bareName = regexp.MustCompile(`\{\{(-?\s*)([A-Za-z_][A-Za-z0-9_]*)(\.|\s*(?:\||-?\}\}))`)

var actionKeywords = map[string]bool{"end": true, "else": true, "break": true, "continue": true, "nil": true, "true": true, "false": true}

type cacheKey struct {
	source string
	mode   Mode
}

// Engine renders templated strings against a context map, caching compiled
// templates by (source, mode) the way the teacher caches compiled templates
// keyed by (source, shellMode).
type Engine struct {
	mu    sync.Mutex
	cache map[cacheKey]*template.Template
}

// New returns a ready-to-use Engine.
func New() *Engine {
	return &Engine{cache: map[cacheKey]*template.Template{}}
}

func (e *Engine) compile(source string, mode Mode) (*template.Template, error) {
	key := cacheKey{source: source, mode: mode}

	e.mu.Lock()
	if t, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return t, nil
	}
	e.mu.Unlock()

	funcs := funcMap()
	src := bareName.ReplaceAllStringFunc(source, func(m string) string {
		sub := bareName.FindStringSubmatch(m)
		if _, isFunc := funcs[sub[2]]; isFunc || actionKeywords[sub[2]] {
			return m
		}
		return "{{" + sub[1] + "." + sub[2] + sub[3]
	})
	t, err := template.New(source).Option("missingkey=error").Funcs(funcs).Parse(src)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = t
	e.mu.Unlock()
	return t, nil
}

// Render executes source against context in plain mode.
func (e *Engine) Render(source string, context map[string]any) (string, error) {
	return e.render(source, context, Plain)
}

// RenderShell executes source against context in shell mode: every
// substituted value is individually single-quote escaped before
// substitution.
func (e *Engine) RenderShell(source string, context map[string]any) (string, error) {
	return e.render(source, context, Shell)
}

func (e *Engine) render(source string, context map[string]any, mode Mode) (string, error) {
	t, err := e.compile(source, mode)
	if err != nil {
		return "", &RenderFailure{Source: source, Err: err}
	}

	data := context
	if mode == Shell {
		data = shellQuoteContext(context)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", &RenderFailure{Source: source, Err: err}
	}
	return buf.String(), nil
}

// shellQuoteContext returns a copy of context where every leaf string value
// (recursively, through maps and slices) has been shell-quoted. Non-string
// leaves are stringified with fmt.Sprint and then quoted (nil becomes an
// empty, unquoted string), matching the
// "every substituted value" wording of the spec: the template author writes
// `{{ file.name }}` as normal and the engine is responsible for making the
// substitution shell-safe.
func shellQuoteContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = shellQuoteValue(v)
	}
	return out
}

func shellQuoteValue(v any) any {
	switch x := v.(type) {
	case string:
		return ShellQuote(x)
	case map[string]any:
		return shellQuoteContext(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = ShellQuote(s)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = shellQuoteValue(e)
		}
		return out
	case nil:
		return ""
	default:
		return ShellQuote(fmt.Sprint(x))
	}
}

// ShellQuote wraps v in single quotes, escaping embedded single quotes as
// '\'' (close quote, escaped literal quote, reopen quote) — the POSIX shell
// idiom for safely embedding arbitrary text in a single-quoted argument.
func ShellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
