// Package manifest loads the tabular manifest CSV and owns row records with
// their processing state, per spec §4.D.
package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// LabelValue is a tagged variant of a filematch label's value: unset,
// a single path, or a list of paths (where a nil entry means "no file
// matched at this linked index"), per spec §9's design note.
type LabelValue struct {
	Multiple bool
	Path     *string   // set when !Multiple and a file matched
	List     []*string // set when Multiple
}

// Row is one manifest record plus its processing state. Columns preserve
// source CSV order; Labels holds the filematch-derived keys a row acquires
// during matching.
type Row struct {
	columns   []string // header order
	values    map[string]string
	Labels    map[string]LabelValue

	Filtered   string   // "" = not filtered, else the reason
	Ignored    bool     // no files matched, under ignore-missing mode
	Failures   []string
	Associated []string // filepaths associated to this row
}

// NewRow builds a Row from header/value slices of equal length.
func NewRow(headers, values []string) *Row {
	r := &Row{
		columns: append([]string(nil), headers...),
		values:  make(map[string]string, len(headers)),
		Labels:  map[string]LabelValue{},
	}
	for i, h := range headers {
		r.values[h] = values[i]
	}
	return r
}

// Get returns a column value by name. Labels are not consulted; use Label
// for those.
func (r *Row) Get(key string) (string, bool) {
	if v, ok := r.values[key]; ok {
		return v, true
	}
	return "", false
}

// HasColumn reports whether key is a manifest column (not a label).
func (r *Row) HasColumn(key string) bool {
	_, ok := r.values[key]
	return ok
}

// HasLabel reports whether key is a label set on this row (by the matcher).
func (r *Row) HasLabel(key string) bool {
	_, ok := r.Labels[key]
	return ok
}

// Label returns the label value for key.
func (r *Row) Label(key string) (LabelValue, bool) {
	v, ok := r.Labels[key]
	return v, ok
}

// SetLabel assigns a label's value.
func (r *Row) SetLabel(key string, v LabelValue) {
	r.Labels[key] = v
}

// Skipped reports whether the row is filtered or ignored, per spec §3.
func (r *Row) Skipped() bool {
	return r.Filtered != "" || r.Ignored
}

// Columns returns the header order this row was constructed with.
func (r *Row) Columns() []string { return r.columns }

// Context builds the template context for this row: every column plus
// every label's current value (path string, list of path-or-nil, or nil).
func (r *Row) Context() map[string]any {
	ctx := make(map[string]any, len(r.values)+len(r.Labels))
	for k, v := range r.values {
		ctx[k] = v
	}
	for k, lv := range r.Labels {
		ctx[k] = lv.TemplateValue()
	}
	return ctx
}

// TemplateValue renders a LabelValue into the shape templates see: nil,
// a path string, or a []any of path-strings/nil.
func (lv LabelValue) TemplateValue() any {
	if lv.Multiple {
		out := make([]any, len(lv.List))
		for i, p := range lv.List {
			if p == nil {
				out[i] = nil
			} else {
				out[i] = *p
			}
		}
		return out
	}
	if lv.Path == nil {
		return nil
	}
	return *lv.Path
}

// Manifest holds all rows loaded from a CSV file, in source order.
type Manifest struct {
	headers []string
	rows    []*Row
}

// Load parses a CSV file: the first row is headers, every later row must
// have the same field count as the header row. A mismatch fails with a
// 1-based (including the header) row-number error, per spec §4.D.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	defer f.Close()
	return load(f)
}

func load(r io.Reader) (*Manifest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	headers, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("manifest: read header: %w", err)
	}

	m := &Manifest{headers: headers}
	lineNo := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		lineNo++
		if len(record) != len(headers) {
			return nil, fmt.Errorf("Column count in row %d does not match header", lineNo)
		}
		m.rows = append(m.rows, NewRow(headers, record))
	}
	return m, nil
}

// Headers returns the original CSV header row.
func (m *Manifest) Headers() []string { return m.headers }

// Rows returns every row, in source order.
func (m *Manifest) Rows() []*Row { return m.rows }

// Selected returns rows that are not skipped.
func (m *Manifest) Selected() []*Row {
	var out []*Row
	for _, r := range m.rows {
		if !r.Skipped() {
			out = append(out, r)
		}
	}
	return out
}

// Skipped returns rows matching the given filtered/ignored flags. Passing
// both true counts rows that are either filtered or ignored (logical OR),
// matching "filtered and/or ignored rows" from spec §4.D.
func (m *Manifest) Skipped(filtered, ignored bool) []*Row {
	var out []*Row
	for _, r := range m.rows {
		match := false
		if filtered && r.Filtered != "" {
			match = true
		}
		if ignored && r.Ignored {
			match = true
		}
		if match {
			out = append(out, r)
		}
	}
	return out
}
