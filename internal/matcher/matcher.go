// Package matcher resolves a row's filematch specs into file associations,
// implementing the linkedto/multiple/optional algorithm of spec §4.F.
package matcher

import (
	"fmt"
	"strings"

	"github.com/MSU-Libraries/colophon/internal/condition"
	"github.com/MSU-Libraries/colophon/internal/directory"
	"github.com/MSU-Libraries/colophon/internal/manifest"
	tmpl "github.com/MSU-Libraries/colophon/internal/template"
	"github.com/MSU-Libraries/colophon/internal/suite"
)

// Result reports how many files matched a single filematch spec and any
// failures recorded along the way. The matcher never returns a Go error for
// a semantic mismatch; per spec §4.F "the matcher returns
// (files_matched_count, failures_list)".
type Result struct {
	MatchedCount int
	Failures     []string
}

// Match resolves one filematch spec against row, associating files in dir
// and setting row's label. manifestID is the row's already-rendered id
// (needed to stamp FileInfo.Associated and row.Associated).
func Match(row *manifest.Row, fm suite.FileMatch, manifestID string, dir *directory.Directory, ev *condition.Evaluator) Result {
	var res Result

	// 1. Preconditions.
	var linkedList []*string
	linked := fm.LinkedTo != ""
	if linked {
		lv, ok := row.Label(fm.LinkedTo)
		if !ok {
			res.Failures = append(res.Failures, fmt.Sprintf("field %q does not exist", fm.LinkedTo))
			linked = false
		} else if !lv.Multiple {
			res.Failures = append(res.Failures, fmt.Sprintf("linkedto target %q must have multiple: true", fm.LinkedTo))
			linked = false
		} else {
			linkedList = lv.List
		}
	}

	multiple := fm.Multiple || linked

	// 3. Default label value.
	if !row.HasLabel(fm.Label) {
		if multiple {
			row.SetLabel(fm.Label, manifest.LabelValue{Multiple: true})
		} else {
			row.SetLabel(fm.Label, manifest.LabelValue{})
		}
	}

	// 2. Iteration plan.
	indices := []int{-1} // single iteration, no index
	if linked {
		indices = make([]int, len(linkedList))
		for i := range linkedList {
			indices[i] = i
		}
	}

	var matchedVector []*string // positionally aligned with linkedList when linked

	for _, idx := range indices {
		entryCtx := row.Context()
		if linked {
			if linkedList[idx] != nil {
				entryCtx[fm.LinkedTo] = *linkedList[idx]
			} else {
				entryCtx[fm.LinkedTo] = nil
			}
		}

		var linkedFilepath *string
		var iterationMatches []string

		renderFailed := false
		for _, e := range dir.All() {
			ctx := make(map[string]any, len(entryCtx)+1)
			for k, v := range entryCtx {
				ctx[k] = v
			}
			ctx["file"] = e.Info.Flat()

			rendered, matched, err := ev.Match(fm.EffectiveValue(), fm.Set, ctx)
			if err != nil {
				var rf *tmpl.RenderFailure
				msg := err.Error()
				if ok := asRenderFailure(err, &rf); ok {
					msg = rf.Error()
				}
				res.Failures = append(res.Failures, fmt.Sprintf("template render failed while matching %q: %s", fm.Label, msg))
				renderFailed = true
				break
			}
			// A filematch always requires rendered(value) == file.name, AND'd
			// with whatever comparators fm.Set adds. With the default value
			// "{{ file.name }}" this is trivially true, leaving comparators
			// like endswith to do the filtering. With a custom value (e.g. a
			// linkedto sibling computing an expected filename) this is what
			// ties the rendered string to an actual file on disk.
			if matched {
				matched = rendered == e.Info.Name
				if fm.IgnoreCase {
					matched = strings.EqualFold(rendered, e.Info.Name)
				}
			}
			if !matched {
				continue
			}

			if !linked {
				appendLabelMatch(row, fm.Label, multiple, e.Path)
			}

			if assocErr := dir.Associate(e.Path, manifestID); assocErr != nil {
				res.Failures = append(res.Failures, assocErr.Error())
			} else {
				row.Associated = append(row.Associated, e.Path)
			}

			if linked {
				if linkedFilepath != nil {
					res.Failures = append(res.Failures, fmt.Sprintf(
						"matched multiple files for linked label %q at index %d; previously matched %s; ignoring %s",
						fm.Label, idx, *linkedFilepath, e.Path))
				} else {
					p := e.Path
					linkedFilepath = &p
					iterationMatches = append(iterationMatches, e.Path)
				}
			} else {
				iterationMatches = append(iterationMatches, e.Path)
			}
		}

		if renderFailed {
			break
		}

		res.MatchedCount += len(iterationMatches)

		if linked {
			matchedVector = append(matchedVector, linkedFilepath)
		}
	}

	// 5. Postconditions.
	if res.MatchedCount == 0 && !fm.Optional && !linked {
		res.Failures = append(res.Failures, fmt.Sprintf("required filematch %q: no matching file was found", fm.Label))
	}

	if linked && !fm.Optional {
		var holes []string
		for i, p := range matchedVector {
			if p == nil {
				target := "<nil>"
				if linkedList[i] != nil {
					target = *linkedList[i]
				}
				holes = append(holes, fmt.Sprintf("(%s, nil)", target))
			}
		}
		if len(holes) > 0 {
			res.Failures = append(res.Failures, fmt.Sprintf("not all linked files were found: %v", holes))
		}
	}

	if res.MatchedCount > 1 && !multiple {
		res.Failures = append(res.Failures, fmt.Sprintf(
			"matched multiple files where only a single match was allowed for label %q", fm.Label))
	}

	if linked {
		row.SetLabel(fm.Label, manifest.LabelValue{Multiple: true, List: matchedVector})
	}

	return res
}

func appendLabelMatch(row *manifest.Row, label string, multiple bool, path string) {
	lv, _ := row.Label(label)
	p := path
	if multiple {
		lv.Multiple = true
		lv.List = append(lv.List, &p)
	} else {
		lv.Path = &p
	}
	row.SetLabel(label, lv)
}

func asRenderFailure(err error, out **tmpl.RenderFailure) bool {
	rf, ok := err.(*tmpl.RenderFailure)
	if ok {
		*out = rf
	}
	return ok
}
