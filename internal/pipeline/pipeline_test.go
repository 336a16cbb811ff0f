package pipeline

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readSummary(t *testing.T, workdir string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(workdir, "summary.json"))
	require.NoError(t, err)
	var s map[string]any
	require.NoError(t, json.Unmarshal(b, &s))
	return s
}

// S1 — filter excludes by equals.
func TestS1FilterExcludesByEquals(t *testing.T) {
	root := t.TempDir()
	manifestPath := filepath.Join(root, "manifest.csv")
	suitePath := filepath.Join(root, "suite.yml")
	source := filepath.Join(root, "source")
	workdir := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(source, 0o755))

	writeFile(t, manifestPath, "id,kind\n001,a\n002,b\n")
	writeFile(t, suitePath, `
manifest:
  id: "{{ id }}"
  filter:
    - value: "{{ kind }}"
      equals: "a"
  files:
    - label: doc
      optional: true
`)

	code, err := Run(Options{
		ManifestPath: manifestPath,
		SuitePath:    suitePath,
		SourceDir:    source,
		Workdir:      workdir,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	s := readSummary(t, workdir)
	overview := s["row-overview"].(map[string]any)
	assert.EqualValues(t, 1, overview["succeeded"])
	assert.EqualValues(t, 1, overview["skipped"])
	assert.EqualValues(t, 0, overview["failed"])
}

// S2 — single match default value.
func TestS2SingleMatchDefaultValue(t *testing.T) {
	root := t.TempDir()
	manifestPath := filepath.Join(root, "manifest.csv")
	suitePath := filepath.Join(root, "suite.yml")
	source := filepath.Join(root, "source")
	workdir := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(source, 0o755))
	writeFile(t, filepath.Join(source, "report.pdf"), "pdf-bytes")

	writeFile(t, manifestPath, "id\n42\n")
	writeFile(t, suitePath, `
manifest:
  id: "{{ id }}"
  files:
    - label: doc
      endswith: ".pdf"
`)

	code, err := Run(Options{
		ManifestPath: manifestPath,
		SuitePath:    suitePath,
		SourceDir:    source,
		Workdir:      workdir,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(filepath.Join(workdir, "manifest.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "report.pdf")
}

// S3 — multiple without flag fails.
func TestS3MultipleWithoutFlagFails(t *testing.T) {
	root := t.TempDir()
	manifestPath := filepath.Join(root, "manifest.csv")
	suitePath := filepath.Join(root, "suite.yml")
	source := filepath.Join(root, "source")
	workdir := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(source, 0o755))
	writeFile(t, filepath.Join(source, "a.log"), "a")
	writeFile(t, filepath.Join(source, "b.log"), "b")

	writeFile(t, manifestPath, "id\n1\n")
	writeFile(t, suitePath, `
manifest:
  id: "{{ id }}"
  files:
    - label: x
      endswith: ".log"
`)

	code, err := Run(Options{
		ManifestPath: manifestPath,
		SuitePath:    suitePath,
		SourceDir:    source,
		Workdir:      workdir,
		Strict:       false,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, code)
}

// S4 — linkedto with hole.
func TestS4LinkedtoWithHole(t *testing.T) {
	root := t.TempDir()
	manifestPath := filepath.Join(root, "manifest.csv")
	suitePath := filepath.Join(root, "suite.yml")
	source := filepath.Join(root, "source")
	workdir := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(source, 0o755))
	writeFile(t, filepath.Join(source, "r0.txt"), "0")
	writeFile(t, filepath.Join(source, "r1.txt"), "1")
	writeFile(t, filepath.Join(source, "r0.txt.side"), "side")

	writeFile(t, manifestPath, "id\n1\n")
	writeFile(t, suitePath, `
manifest:
  id: "{{ id }}"
  files:
    - label: roots
      regex: "^r[0-9]\\.txt$"
      multiple: true
    - label: sides
      linkedto: roots
      value: "{{ roots | basename }}.side"
`)

	code, err := Run(Options{
		ManifestPath: manifestPath,
		SuitePath:    suitePath,
		SourceDir:    source,
		Workdir:      workdir,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, code)

	s := readSummary(t, workdir)
	rows := s["rows"].(map[string]any)
	row1 := rows["1"].(map[string]any)
	failures := row1["failures"].([]any)
	require.NotEmpty(t, failures)
	assert.Contains(t, failures[0], "not all linked files were found")
}

// S5 — stage exit bit 16 filters and halts stages.
func TestS5StageBit16FiltersAndHalts(t *testing.T) {
	root := t.TempDir()
	manifestPath := filepath.Join(root, "manifest.csv")
	suitePath := filepath.Join(root, "suite.yml")
	source := filepath.Join(root, "source")
	workdir := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(source, 0o755))

	writeFile(t, manifestPath, "id\n1\n")
	writeFile(t, suitePath, `
manifest:
  id: "{{ id }}"
  files:
    - label: doc
      optional: true
stages:
  early:
    script: "exit 16"
  late:
    script: "touch late-ran"
`)

	code, err := Run(Options{
		ManifestPath: manifestPath,
		SuitePath:    suitePath,
		SourceDir:    source,
		Workdir:      workdir,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	_, err = os.Stat(filepath.Join(workdir, "1", "late"))
	assert.True(t, os.IsNotExist(err), "late stage must not have run")

	s := readSummary(t, workdir)
	skipped := s["skipped"].([]any)
	assert.Contains(t, skipped, "1")
	rows := s["rows"].(map[string]any)
	row1 := rows["1"].(map[string]any)
	assert.Contains(t, row1["skipped-because"], "early")
}

// S6 — ignore_missing suppresses.
func TestS6IgnoreMissingSuppresses(t *testing.T) {
	root := t.TempDir()
	manifestPath := filepath.Join(root, "manifest.csv")
	suitePath := filepath.Join(root, "suite.yml")
	source := filepath.Join(root, "source")
	workdir := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(source, 0o755))

	writeFile(t, manifestPath, "id\n1\n")
	writeFile(t, suitePath, `
manifest:
  id: "{{ id }}"
  files:
    - label: doc
      endswith: ".pdf"
`)

	code, err := Run(Options{
		ManifestPath:  manifestPath,
		SuitePath:     suitePath,
		SourceDir:     source,
		Workdir:       workdir,
		IgnoreMissing: true,
		Strict:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	s := readSummary(t, workdir)
	overview := s["row-overview"].(map[string]any)
	assert.EqualValues(t, 1, overview["ignored"])
	rows := s["rows"].(map[string]any)
	assert.NotContains(t, rows, "1")

	var ignored []string
	b, err := os.ReadFile(filepath.Join(workdir, "ignored.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &ignored))
	assert.Equal(t, []string{"1"}, ignored)
}

func TestZipBundlesWorkdirContents(t *testing.T) {
	root := t.TempDir()
	manifestPath := filepath.Join(root, "manifest.csv")
	suitePath := filepath.Join(root, "suite.yml")
	source := filepath.Join(root, "source")
	workdir := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(source, 0o755))

	writeFile(t, manifestPath, "id\n1\n")
	writeFile(t, suitePath, `
manifest:
  id: "{{ id }}"
  files:
    - label: doc
      endswith: ".pdf"
      optional: true
`)

	code, err := Run(Options{
		ManifestPath: manifestPath,
		SuitePath:    suitePath,
		SourceDir:    source,
		Workdir:      workdir,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	zipPath, err := Zip(workdir)
	require.NoError(t, err)
	defer os.Remove(zipPath)

	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "summary.json")
	assert.Contains(t, names, "manifest.csv")
}
