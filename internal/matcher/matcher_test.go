package matcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MSU-Libraries/colophon/internal/condition"
	"github.com/MSU-Libraries/colophon/internal/directory"
	"github.com/MSU-Libraries/colophon/internal/manifest"
	tmpl "github.com/MSU-Libraries/colophon/internal/template"
	"github.com/MSU-Libraries/colophon/internal/suite"
)

func loadDir(t *testing.T, files map[string]string) *directory.Directory {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { os.Chdir(wd) })

	d := directory.New()
	require.NoError(t, d.Load(root))
	return d
}

func strp(s string) *string { return &s }

func TestS2SingleMatchDefaultValue(t *testing.T) {
	d := loadDir(t, map[string]string{"report.pdf": "x"})
	row := manifest.NewRow([]string{"id"}, []string{"42"})
	ev := condition.NewEvaluator(tmpl.New())

	fm := suite.FileMatch{Label: "doc", Set: condition.Set{EndsWith: strp(".pdf")}}
	res := Match(row, fm, "42", d, ev)

	assert.Empty(t, res.Failures)
	assert.Equal(t, 1, res.MatchedCount)
	lv, ok := row.Label("doc")
	require.True(t, ok)
	require.NotNil(t, lv.Path)
	assert.Equal(t, "report.pdf", *lv.Path)
}

func TestS3MultipleWithoutFlagFails(t *testing.T) {
	d := loadDir(t, map[string]string{"a.log": "x", "b.log": "y"})
	row := manifest.NewRow([]string{"id"}, []string{"1"})
	ev := condition.NewEvaluator(tmpl.New())

	fm := suite.FileMatch{Label: "x", Set: condition.Set{EndsWith: strp(".log")}}
	res := Match(row, fm, "1", d, ev)

	assert.Equal(t, 2, res.MatchedCount)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0], "matched multiple files")
	assert.Len(t, row.Associated, 2)
}

func TestS4LinkedWithHole(t *testing.T) {
	d := loadDir(t, map[string]string{
		"r0.txt":      "x",
		"r1.txt":      "y",
		"r0.txt.side": "z",
	})
	row := manifest.NewRow([]string{"id"}, []string{"1"})
	ev := condition.NewEvaluator(tmpl.New())

	roots := suite.FileMatch{Label: "roots", Multiple: true, Set: condition.Set{Regex: strp(`^r[0-9]\.txt$`)}}
	rootRes := Match(row, roots, "1", d, ev)
	require.Empty(t, rootRes.Failures)
	require.Equal(t, 2, rootRes.MatchedCount)

	sides := suite.FileMatch{Label: "sides", LinkedTo: "roots", Value: "{{ roots | basename }}.side"}
	sideRes := Match(row, sides, "1", d, ev)

	require.Len(t, sideRes.Failures, 1)
	assert.Contains(t, sideRes.Failures[0], "not all linked files were found")

	lv, ok := row.Label("sides")
	require.True(t, ok)
	require.Len(t, lv.List, 2)
	require.NotNil(t, lv.List[0])
	assert.Equal(t, "r0.txt.side", *lv.List[0])
	assert.Nil(t, lv.List[1])
}

func TestOptionalNoMatchIsNotAFailure(t *testing.T) {
	d := loadDir(t, map[string]string{"a.txt": "x"})
	row := manifest.NewRow([]string{"id"}, []string{"1"})
	ev := condition.NewEvaluator(tmpl.New())

	fm := suite.FileMatch{Label: "doc", Optional: true, Set: condition.Set{EndsWith: strp(".pdf")}}
	res := Match(row, fm, "1", d, ev)

	assert.Empty(t, res.Failures)
	assert.Equal(t, 0, res.MatchedCount)
}

func TestDoubleAssociationIsMatcherFailure(t *testing.T) {
	d := loadDir(t, map[string]string{"a.txt": "x"})
	row1 := manifest.NewRow([]string{"id"}, []string{"1"})
	ev := condition.NewEvaluator(tmpl.New())
	fm := suite.FileMatch{Label: "doc", Set: condition.Set{EndsWith: strp(".txt")}}
	res1 := Match(row1, fm, "1", d, ev)
	require.Empty(t, res1.Failures)

	row2 := manifest.NewRow([]string{"id"}, []string{"2"})
	res2 := Match(row2, fm, "2", d, ev)
	require.Len(t, res2.Failures, 1)
	assert.Contains(t, res2.Failures[0], "already associated")
}
