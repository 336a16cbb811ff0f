package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.pdf"), []byte("abc"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.log"), []byte("xy"), 0o644))
	return root
}

func TestLoadWalksInOrderAndChdirs(t *testing.T) {
	root := mkTree(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(wd)

	d := New()
	require.NoError(t, d.Load(root))

	entries := d.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "report.pdf", entries[0].Info.Name)
	assert.Equal(t, "pdf", entries[0].Info.Ext)
	assert.Equal(t, "report", entries[0].Info.Base)

	cur, err := os.Getwd()
	require.NoError(t, err)
	realRoot, _ := filepath.EvalSymlinks(root)
	realCur, _ := filepath.EvalSymlinks(cur)
	assert.Equal(t, realRoot, realCur)
}

func TestLoadTwiceFails(t *testing.T) {
	root := mkTree(t)
	wd, _ := os.Getwd()
	defer os.Chdir(wd)

	d := New()
	require.NoError(t, d.Load(root))
	err := d.Load(root)
	require.Error(t, err)
}

func TestAssociateOnceThenFails(t *testing.T) {
	root := mkTree(t)
	wd, _ := os.Getwd()
	defer os.Chdir(wd)

	d := New()
	require.NoError(t, d.Load(root))

	require.NoError(t, d.Associate("report.pdf", "42"))
	err := d.Associate("report.pdf", "43")
	require.Error(t, err)

	unassoc := d.Files(false)
	require.Len(t, unassoc, 1)
	assert.Equal(t, "sub/nested.log", unassoc[0].Path)

	assoc := d.Files(true)
	require.Len(t, assoc, 1)
	assert.Equal(t, "42", assoc[0].Info.Associated)
}
