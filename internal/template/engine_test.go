package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlain(t *testing.T) {
	e := New()
	out, err := e.Render("hello {{ .name }}", map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRenderUndefinedFails(t *testing.T) {
	e := New()
	_, err := e.Render("{{ .missing }}", map[string]any{"name": "world"})
	require.Error(t, err)
	var rf *RenderFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, "{{ .missing }}", rf.Source)
}

func TestRenderShellEscapesEachValue(t *testing.T) {
	e := New()
	out, err := e.RenderShell("{{ .name }}", map[string]any{"name": "O'Brien"})
	require.NoError(t, err)
	assert.Equal(t, `'O'\''Brien'`, out)
}

func TestShellQuoteInvariant(t *testing.T) {
	for _, v := range []string{"plain", "with space", "with'quote", "''double''"} {
		got := ShellQuote(v)
		want := "'" + replaceAllQuotes(v) + "'"
		assert.Equal(t, want, got)
	}
}

func replaceAllQuotes(v string) string {
	out := ""
	for _, r := range v {
		if r == '\'' {
			out += `'\''`
		} else {
			out += string(r)
		}
	}
	return out
}

func TestBasenameFilter(t *testing.T) {
	e := New()
	out, err := e.Render("{{ .path | basename }}", map[string]any{"path": "a/b/c.txt"})
	require.NoError(t, err)
	assert.Equal(t, "c.txt", out)
}

func TestTemplateCacheReused(t *testing.T) {
	e := New()
	_, err := e.Render("{{ .x }}", map[string]any{"x": "1"})
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
	_, err = e.Render("{{ .x }}", map[string]any{"x": "2"})
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
	_, err = e.RenderShell("{{ .x }}", map[string]any{"x": "2"})
	require.NoError(t, err)
	assert.Len(t, e.cache, 2)
}
