// Package report emits the manifest CSV, ignored list, and summary JSON
// artifacts, and derives the process exit code, per spec §4.I.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MSU-Libraries/colophon/internal/manifest"
	"github.com/MSU-Libraries/colophon/internal/stage"
)

// ExitCode values, per spec §6/§8 property 5.
const (
	ExitOK      = 0
	ExitFailure = 2
)

// RowSummary is the per-row detail block under summary.rows, per spec §4.I.
type RowSummary struct {
	ExitCodes      map[string]ExitCodeSummary `json:"exit-codes,omitempty"`
	Failures       []string                   `json:"failures,omitempty"`
	SkippedBecause string                     `json:"skipped-because,omitempty"`
}

// ExitCodeSummary records how many times an exit code occurred for a row
// and its bitmask decode.
type ExitCodeSummary struct {
	Occurrences int    `json:"occurrences"`
	CodeMeaning string `json:"code-meaning"`
}

// Summary is the full shape of summary.json, per spec §4.I.
type Summary struct {
	RowOverview       RowOverview           `json:"row-overview"`
	Skipped           []string              `json:"skipped"`
	Failed            []string              `json:"failed"`
	UnassociatedFiles []string              `json:"unassociated-files"`
	Rows              map[string]RowSummary `json:"rows"`
}

// RowOverview is the row-count breakdown in summary.json.
type RowOverview struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Ignored   int `json:"ignored,omitempty"`
}

// RowResult carries everything the reporter needs about one processed row
// beyond what *manifest.Row already holds: its manifest_id and the exit
// codes observed across its stages.
type RowResult struct {
	ManifestID string
	Row        *manifest.Row
	ExitCodes  []int
}

// Options configures a report run.
type Options struct {
	Workdir       string
	Strict        bool
	IgnoreMissing bool
}

// Write emits manifest.csv, summary.json, and (if IgnoreMissing)
// ignored.json under opts.Workdir, and returns the process exit code.
func Write(opts Options, m *manifest.Manifest, results []RowResult, unassociated []string) (int, error) {
	if err := os.MkdirAll(opts.Workdir, 0o755); err != nil {
		return 0, fmt.Errorf("report: %w", err)
	}

	if err := writeManifestCSV(filepath.Join(opts.Workdir, "manifest.csv"), m); err != nil {
		return 0, err
	}

	if opts.IgnoreMissing {
		if err := writeIgnored(filepath.Join(opts.Workdir, "ignored.json"), m, results); err != nil {
			return 0, err
		}
	}

	summary := buildSummary(m, results, unassociated)
	if err := writeJSON(filepath.Join(opts.Workdir, "summary.json"), summary); err != nil {
		return 0, err
	}

	return exitCode(opts, summary), nil
}

func exitCode(opts Options, s Summary) int {
	if s.RowOverview.Failed > 0 {
		return ExitFailure
	}
	if opts.Strict && (s.RowOverview.Skipped > 0 || len(s.UnassociatedFiles) > 0) {
		return ExitFailure
	}
	return ExitOK
}

// writeManifestCSV writes every row's values in the header of the row with
// the most keys, per spec §4.I (dynamically-added labels appear as
// columns). All fields are quoted, matching the teacher's "all fields
// quoted on write" CSV convention.
func writeManifestCSV(path string, m *manifest.Manifest) error {
	header := widestHeader(m)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	writeRecord := func(fields []string) {
		for i, v := range fields {
			if i > 0 {
				w.WriteByte(',')
			}
			w.WriteString(`"` + strings.ReplaceAll(v, `"`, `""`) + `"`)
		}
		w.WriteByte('\n')
	}

	writeRecord(header)
	for _, row := range m.Rows() {
		record := make([]string, len(header))
		for i, h := range header {
			record[i] = rowValue(row, h)
		}
		writeRecord(record)
	}
	return w.Flush()
}

func widestHeader(m *manifest.Manifest) []string {
	var widest []string
	widestLen := -1
	for _, row := range m.Rows() {
		keys := append([]string(nil), row.Columns()...)
		for l := range row.Labels {
			keys = append(keys, l)
		}
		if len(keys) > widestLen {
			widest = keys
			widestLen = len(keys)
		}
	}
	if widest == nil {
		return append([]string(nil), m.Headers()...)
	}
	return widest
}

func rowValue(row *manifest.Row, key string) string {
	if v, ok := row.Get(key); ok {
		return v
	}
	lv, ok := row.Label(key)
	if !ok {
		return ""
	}
	return labelValueToString(lv)
}

func labelValueToString(lv manifest.LabelValue) string {
	if lv.Multiple {
		parts := make([]string, len(lv.List))
		for i, p := range lv.List {
			if p == nil {
				parts[i] = ""
			} else {
				parts[i] = *p
			}
		}
		b, _ := json.Marshal(parts)
		return string(b)
	}
	if lv.Path == nil {
		return ""
	}
	return *lv.Path
}

func writeIgnored(path string, m *manifest.Manifest, results []RowResult) error {
	byID := map[string]RowResult{}
	for _, r := range results {
		byID[r.ManifestID] = r
	}
	var ids []string
	for _, row := range m.Rows() {
		if row.Ignored {
			ids = append(ids, findID(byID, row))
		}
	}
	if ids == nil {
		ids = []string{}
	}
	return writeJSON(path, ids)
}

// rowManifestID is the fallback id for a row that no RowResult carries: the
// row's "id" column, or "" when it has none. Callers that have the
// authoritative RowResult.ManifestID should prefer that.
func rowManifestID(row *manifest.Row) string {
	if v, ok := row.Get("id"); ok {
		return v
	}
	return ""
}

func buildSummary(m *manifest.Manifest, results []RowResult, unassociated []string) Summary {
	s := Summary{
		Rows:              map[string]RowSummary{},
		UnassociatedFiles: unassociated,
	}
	if s.UnassociatedFiles == nil {
		s.UnassociatedFiles = []string{}
	}

	byID := map[string]RowResult{}
	for _, r := range results {
		byID[r.ManifestID] = r
	}

	hasIgnored := false

	for _, row := range m.Rows() {
		if row.Ignored {
			hasIgnored = true
			s.RowOverview.Ignored++
			continue
		}

		id := findID(byID, row)
		exitCodes := exitCodeHistogram(byID[id].ExitCodes)

		switch {
		case row.Filtered != "":
			s.RowOverview.Skipped++
			s.Skipped = append(s.Skipped, id)
			s.Rows[id] = RowSummary{ExitCodes: exitCodes, SkippedBecause: row.Filtered}
		case len(row.Failures) > 0:
			s.RowOverview.Failed++
			s.Failed = append(s.Failed, id)
			s.Rows[id] = RowSummary{ExitCodes: exitCodes, Failures: row.Failures}
		default:
			s.RowOverview.Succeeded++
			s.Rows[id] = RowSummary{ExitCodes: exitCodes}
		}
	}

	if !hasIgnored {
		s.RowOverview.Ignored = 0
	}
	if s.Skipped == nil {
		s.Skipped = []string{}
	}
	if s.Failed == nil {
		s.Failed = []string{}
	}

	return s
}

// findID looks up the manifest_id for row among results keyed by id; when no
// result carries row, it falls back to its "id" column if present.
func findID(byID map[string]RowResult, row *manifest.Row) string {
	for id, r := range byID {
		if r.Row == row {
			return id
		}
	}
	return rowManifestID(row)
}

func exitCodeHistogram(codes []int) map[string]ExitCodeSummary {
	if len(codes) == 0 {
		return nil
	}
	counts := map[int]int{}
	for _, c := range codes {
		counts[c]++
	}
	out := make(map[string]ExitCodeSummary, len(counts))
	var keys []int
	for c := range counts {
		keys = append(keys, c)
	}
	sort.Ints(keys)
	for _, c := range keys {
		out[fmt.Sprint(c)] = ExitCodeSummary{Occurrences: counts[c], CodeMeaning: stage.Describe(c)}
	}
	return out
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
