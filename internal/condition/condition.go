// Package condition evaluates the predicate set attached to a suite's
// filters and filematches, per spec §4.B.
package condition

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	tmpl "github.com/MSU-Libraries/colophon/internal/template"
)

// flagKeys are mapping keys that configure matching behavior elsewhere in
// the suite (filematch/filter shape) rather than acting as comparators here.
// They are ignored during evaluation, per spec §4.B.
var flagKeys = map[string]bool{
	"ignorecase": true,
	"multiple":   true,
	"optional":   true,
	"linkedto":   true,
	"label":      true,
	"value":      true,
}

// Set is a single condition: a templated value plus zero or more comparator
// keys, combined with logical AND.
type Set struct {
	Equals      *string `yaml:"equals"`
	StartsWith  *string `yaml:"startswith"`
	EndsWith    *string `yaml:"endswith"`
	Regex       *string `yaml:"regex"`
	GreaterThan *string `yaml:"greaterthan"`
	LessThan    *string `yaml:"lessthan"`
	IgnoreCase  bool    `yaml:"ignorecase"`
}

// Evaluator renders templated values and evaluates condition sets against
// them, memoizing compiled regular expressions.
type Evaluator struct {
	engine *tmpl.Engine

	mu     sync.Mutex
	regexp map[string]*regexp.Regexp
}

// NewEvaluator returns an Evaluator backed by the given template engine.
func NewEvaluator(engine *tmpl.Engine) *Evaluator {
	return &Evaluator{engine: engine, regexp: map[string]*regexp.Regexp{}}
}

// Match renders value in plain mode, applies ignorecase if set, then
// evaluates every comparator in cond against the rendered result. An empty
// condition set (no comparators set) always matches. Returns the rendered
// value (for callers that also want it, e.g. the matcher) and whether it
// matched.
func (e *Evaluator) Match(value string, cond Set, ctx map[string]any) (rendered string, matched bool, err error) {
	rendered, err = e.engine.Render(value, ctx)
	if err != nil {
		return "", false, err
	}
	lhs := rendered
	if cond.IgnoreCase {
		lhs = strings.ToLower(lhs)
	}

	if cond.Equals != nil {
		rhs, err := e.renderOperand(*cond.Equals, ctx, cond.IgnoreCase)
		if err != nil {
			return "", false, err
		}
		if lhs != rhs {
			return rendered, false, nil
		}
	}
	if cond.StartsWith != nil {
		rhs, err := e.renderOperand(*cond.StartsWith, ctx, cond.IgnoreCase)
		if err != nil {
			return "", false, err
		}
		if !strings.HasPrefix(lhs, rhs) {
			return rendered, false, nil
		}
	}
	if cond.EndsWith != nil {
		rhs, err := e.renderOperand(*cond.EndsWith, ctx, cond.IgnoreCase)
		if err != nil {
			return "", false, err
		}
		if !strings.HasSuffix(lhs, rhs) {
			return rendered, false, nil
		}
	}
	if cond.Regex != nil {
		re, err := e.compileRegex(*cond.Regex, cond.IgnoreCase)
		if err != nil {
			return "", false, err
		}
		if !re.MatchString(lhs) {
			return rendered, false, nil
		}
	}
	if cond.GreaterThan != nil {
		rhs, err := e.renderOperand(*cond.GreaterThan, ctx, false)
		if err != nil {
			return "", false, err
		}
		ok, cmp := compareDecimal(rendered, rhs)
		if !ok || cmp <= 0 {
			return rendered, false, nil
		}
	}
	if cond.LessThan != nil {
		rhs, err := e.renderOperand(*cond.LessThan, ctx, false)
		if err != nil {
			return "", false, err
		}
		ok, cmp := compareDecimal(rendered, rhs)
		if !ok || cmp >= 0 {
			return rendered, false, nil
		}
	}

	return rendered, true, nil
}

func (e *Evaluator) renderOperand(operand string, ctx map[string]any, ignorecase bool) (string, error) {
	rendered, err := e.engine.Render(operand, ctx)
	if err != nil {
		return "", err
	}
	if ignorecase {
		rendered = strings.ToLower(rendered)
	}
	return rendered, nil
}

// compileRegex compiles pattern, caching by (pattern, ignorecase). When
// ignorecase is set the pattern itself is made case-insensitive (via an
// "(?i)" prefix) rather than relying solely on lowercasing the operand, so
// an uppercase-containing pattern still matches lowercased input.
func (e *Evaluator) compileRegex(pattern string, ignorecase bool) (*regexp.Regexp, error) {
	key := pattern
	if ignorecase {
		key = "(?i)" + pattern
	}

	e.mu.Lock()
	if re, ok := e.regexp[key]; ok {
		e.mu.Unlock()
		return re, nil
	}
	e.mu.Unlock()

	re, err := regexp.Compile(key)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.regexp[key] = re
	e.mu.Unlock()
	return re, nil
}

// compareDecimal reports whether both sides are decimal digit strings and,
// if so, the sign of lhs-rhs (as with strings.Compare on the parsed ints).
func compareDecimal(lhs, rhs string) (ok bool, cmp int) {
	if !isDecimal(lhs) || !isDecimal(rhs) {
		return false, 0
	}
	li, err := strconv.Atoi(lhs)
	if err != nil {
		return false, 0
	}
	ri, err := strconv.Atoi(rhs)
	if err != nil {
		return false, 0
	}
	switch {
	case li > ri:
		return true, 1
	case li < ri:
		return true, -1
	default:
		return true, 0
	}
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsFlagKey reports whether key is a flag (not a comparator) in the
// suite's YAML shape, for callers decoding a raw mapping.
func IsFlagKey(key string) bool { return flagKeys[key] }
