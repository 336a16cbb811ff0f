package template

import (
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/araddon/dateparse"
	humanize "github.com/dustin/go-humanize"
)

// funcMap returns the function set available to every rendered template:
// the full sprig set plus a handful of filters specific to suite authoring.
func funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()

	// basename returns the last path component, per spec §4.A.
	fm["basename"] = func(p string) string { return filepath.Base(p) }

	// humanizeBytes renders a byte count (as carried on file.size) in
	// human-friendly units, e.g. for diagnostic stage scripts.
	fm["humanizeBytes"] = func(v any) string {
		n, err := toUint64(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return humanize.Bytes(n)
	}

	// parseDate parses a loosely-formatted date/time string, for suite
	// authors who want to compare against a file's embedded timestamp
	// inside a templated condition value.
	fm["parseDate"] = func(s string) (string, error) {
		t, err := dateparse.ParseAny(s)
		if err != nil {
			return "", err
		}
		return t.Format("2006-01-02T15:04:05Z07:00"), nil
	}

	return fm
}

func toUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case int:
		return uint64(x), nil
	case int64:
		return uint64(x), nil
	case uint64:
		return x, nil
	case float64:
		return uint64(x), nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
