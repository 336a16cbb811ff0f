// Package pipeline wires together the suite, manifest, directory, matcher,
// stage, and reporter packages into the single-threaded row-processing loop
// of spec §2/§5: Suite + Manifest + Directory load → filter → match (with
// buffered logs) → run stages → report.
package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog"

	"github.com/MSU-Libraries/colophon/internal/condition"
	"github.com/MSU-Libraries/colophon/internal/directory"
	"github.com/MSU-Libraries/colophon/internal/logbuf"
	"github.com/MSU-Libraries/colophon/internal/manifest"
	"github.com/MSU-Libraries/colophon/internal/matcher"
	"github.com/MSU-Libraries/colophon/internal/report"
	"github.com/MSU-Libraries/colophon/internal/stage"
	"github.com/MSU-Libraries/colophon/internal/suite"
	tmpl "github.com/MSU-Libraries/colophon/internal/template"
)

// Options are the external inputs of spec §6, collected into a single
// Context record per the design note in spec §9 (prefer passing a Context
// over process-wide globals in a rewrite).
type Options struct {
	ManifestPath  string
	SuitePath     string
	SourceDir     string
	Workdir       string
	Strict        bool
	IgnoreMissing bool
	GlobalContext map[string]any

	LogLevel  string
	LogFormat string
	NoColor   bool
}

// Run loads the suite, manifest, and directory, processes every row, and
// writes the reporter artifacts, returning the process exit code. Errors
// returned here are all configuration-class (spec §7): missing files,
// invalid YAML/CSV, schema mismatch, or a singleton violation. Row-level
// problems never surface as a Go error; they're folded into the row and the
// final exit code.
func Run(opts Options) (int, error) {
	engine := tmpl.New()
	ev := condition.NewEvaluator(engine)

	st, err := suite.Load(opts.SuitePath, engine)
	if err != nil {
		return 0, fmt.Errorf("pipeline: %w", err)
	}

	m, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		return 0, fmt.Errorf("pipeline: %w", err)
	}

	dir := directory.New()
	if err := dir.Load(opts.SourceDir); err != nil {
		return 0, fmt.Errorf("pipeline: %w", err)
	}

	buf := logbuf.New(logbuf.NewSink())
	logger := logbuf.NewLogger(buf, opts.LogLevel, opts.LogFormat, opts.NoColor)

	var results []report.RowResult
	for _, row := range m.Rows() {
		res := processRow(st, row, dir, ev, engine, buf, &logger, opts)
		if res != nil {
			results = append(results, *res)
		}
	}

	var unassociated []string
	for _, e := range dir.Files(false) {
		unassociated = append(unassociated, e.Path)
	}

	code, err := report.Write(report.Options{
		Workdir:       opts.Workdir,
		Strict:        opts.Strict,
		IgnoreMissing: opts.IgnoreMissing,
	}, m, results, unassociated)
	if err != nil {
		return 0, fmt.Errorf("pipeline: %w", err)
	}
	return code, nil
}

// processRow runs one manifest row through filter → match → stages. It
// never returns an error: every failure mode is recorded on row itself, per
// spec §7 ("only configuration-class errors abort the whole run").
func processRow(st *suite.Suite, row *manifest.Row, dir *directory.Directory, ev *condition.Evaluator, engine *tmpl.Engine, buf *logbuf.Buffer, logger *zerolog.Logger, opts Options) *report.RowResult {
	// The whole row is processed under one buffered span: its log records
	// are only committed to the real sink once we know the row doesn't end
	// up ignored, per spec §4.H/§5 "Logging discipline". Every early return
	// below must flush (not discard) since only the file-matching outcome
	// can make a row ignored.
	buf.Start()

	ctx := mergedContext(row, opts.GlobalContext)

	manifestID, err := st.ManifestID(ctx)
	if err != nil {
		row.Failures = append(row.Failures, fmt.Sprintf("rendering manifest id failed: %v", err))
		logger.Error().Err(err).Msg("manifest id render failed")
		_ = buf.End(false)
		return &report.RowResult{ManifestID: "", Row: row}
	}

	reason, err := st.Filter(ctx, ev)
	if err != nil {
		row.Failures = append(row.Failures, fmt.Sprintf("evaluating filter failed: %v", err))
		logger.Error().Str("manifest_id", manifestID).Err(err).Msg("filter render failed")
		_ = buf.End(false)
		return &report.RowResult{ManifestID: manifestID, Row: row}
	}
	if reason != "" {
		row.Filtered = reason
		logger.Info().Str("manifest_id", manifestID).Str("reason", reason).Msg("row filtered")
		_ = buf.End(false)
		return &report.RowResult{ManifestID: manifestID, Row: row}
	}

	rowLog := logger.With().Str("manifest_id", manifestID).Logger()
	var matchFailures []string
	for _, fm := range st.Files() {
		res := matcher.Match(row, fm, manifestID, dir, ev)
		for _, f := range res.Failures {
			rowLog.Warn().Str("label", fm.Label).Msg(f)
		}
		matchFailures = append(matchFailures, res.Failures...)
	}

	if len(row.Associated) == 0 && opts.IgnoreMissing {
		row.Ignored = true
		_ = buf.End(true)
		return &report.RowResult{ManifestID: manifestID, Row: row}
	}
	row.Failures = append(row.Failures, matchFailures...)

	var exitCodes []int
	stageCtx := mergedContext(row, nil)
	for _, sg := range st.Stages() {
		outcome := stage.Run(engine, opts.Workdir, outputDirName(manifestID), sg.Name, sg.Script, sg.LoopVars, stageCtx, opts.GlobalContext)
		row.Failures = append(row.Failures, outcome.Failures...)
		exitCodes = append(exitCodes, outcome.Exits...)
		if outcome.End {
			row.Filtered = outcome.Reason
			rowLog.Info().Str("stage", sg.Name).Msg("stage ended row processing")
			break
		}
	}

	_ = buf.End(false)
	return &report.RowResult{ManifestID: manifestID, Row: row, ExitCodes: exitCodes}
}

// Zip bundles every file under workdir into a single deflate-compressed zip
// file in the system temp directory and returns its path, mirroring
// ColophonJob.zip_output's archival/handoff bundling.
func Zip(workdir string) (string, error) {
	out, err := os.CreateTemp("", "colophon_*.zip")
	if err != nil {
		return "", fmt.Errorf("pipeline: zip: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	walkErr := filepath.WalkDir(workdir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workdir, path)
		if err != nil {
			return err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   filepath.ToSlash(rel),
			Method: zip.Deflate,
		})
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if closeErr := zw.Close(); closeErr != nil && walkErr == nil {
		walkErr = closeErr
	}
	if walkErr != nil {
		return "", fmt.Errorf("pipeline: zip: %w", walkErr)
	}
	return out.Name(), nil
}

// mergedContext builds a template context with global as the base layer and
// the row's columns/labels taking precedence on key collisions.
func mergedContext(row *manifest.Row, global map[string]any) map[string]any {
	ctx := make(map[string]any, len(global)+4)
	for k, v := range global {
		ctx[k] = v
	}
	for k, v := range row.Context() {
		ctx[k] = v
	}
	return ctx
}

// unsafePathChars matches characters a rendered manifest_id may legally
// contain (per spec §4.E, only "/" is guaranteed replaced) but that are not
// safe as a single path component on common filesystems.
var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// outputDirName returns manifestID unchanged when it's already a safe path
// component, falling back to a slugified form otherwise. The suite's
// manifest_id (with only "/" replaced) remains the identifier used in
// reports and file associations; this sanitization applies only to the
// on-disk stage-artifact directory name.
func outputDirName(manifestID string) string {
	if manifestID == "" || !unsafePathChars.MatchString(manifestID) {
		return manifestID
	}
	return slug.Make(manifestID)
}
