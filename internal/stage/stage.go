// Package stage renders and runs a row's shell stages, interpreting the
// exit-code bitmask protocol of spec §4.G.
package stage

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	tmpl "github.com/MSU-Libraries/colophon/internal/template"
)

// Exit code bitmask bits, per spec §4.G.
const (
	BitFailure      = 1 << 0 // 1
	BitInaccessible = 1 << 1 // 2
	BitBadArgument  = 1 << 2 // 4
	BitWarning      = 1 << 3 // 8
	BitSkipRow      = 1 << 4 // 16
)

// ProcessingFailure is raised when a stage's loopvars are missing, not
// lists, or of mismatched length, per spec §4.G.
type ProcessingFailure struct {
	Stage  string
	Reason string
}

func (e *ProcessingFailure) Error() string {
	return fmt.Sprintf("stage %q: %s", e.Stage, e.Reason)
}

// EndStagesProcessing signals that a script set bit 16: the row is filtered
// and remaining stages for it must be skipped, per spec §4.G/§7.
type EndStagesProcessing struct {
	Stage  string
	Reason string
}

func (e *EndStagesProcessing) Error() string {
	return fmt.Sprintf("stage %q ended stage processing: %s", e.Stage, e.Reason)
}

// Outcome is the typed result of running one stage for one row, per the
// design note in spec §9 preferring typed results over non-local exits.
type Outcome struct {
	// Failures accumulates row-failure messages contributed by this stage
	// (script exit bit 0, or a caught ProcessingFailure/RenderFailure).
	Failures []string
	// Exits records every exit code observed across this stage's
	// loopvar-expanded executions, for the reporter's exit-code histogram.
	Exits []int
	// End is set when any execution's exit code has bit 16 set; Reason is
	// the filter reason to apply to the row.
	End    bool
	Reason string
}

// Describe renders the bitmask decode for an exit code, e.g. for
// "ecode.<N>" file contents, per spec §4.G.
func Describe(code int) string {
	if code == 0 {
		return "success"
	}
	var parts []string
	if code&BitFailure != 0 {
		parts = append(parts, "failure")
	}
	if code&BitInaccessible != 0 {
		parts = append(parts, "inaccessible file")
	}
	if code&BitBadArgument != 0 {
		parts = append(parts, "bad argument")
	}
	if code&BitWarning != 0 {
		parts = append(parts, "warning logged")
	}
	if code&BitSkipRow != 0 {
		parts = append(parts, "skip this manifest row")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("unknown bits in code %d", code)
	}
	joined := parts[0]
	for _, p := range parts[1:] {
		joined += ", " + p
	}
	return joined
}

// rendering is one (context, suffix) pair to execute, produced by loopvar
// expansion.
type rendering struct {
	ctx    map[string]any
	suffix string
}

// expand builds the loopvar-expanded renderings for a stage. If loopVars is
// empty, returns a single (row, "") pair. Otherwise every named var must
// exist in row and be a list ([]any), all lists must share a length N, and
// N renderings are produced, each with every loopvar replaced by its i-th
// element and suffix ".i".
func expand(stageName string, row map[string]any, loopVars []string) ([]rendering, error) {
	if len(loopVars) == 0 {
		return []rendering{{ctx: row, suffix: ""}}, nil
	}

	lists := make(map[string][]any, len(loopVars))
	length := -1
	for _, v := range loopVars {
		raw, ok := row[v]
		if !ok {
			return nil, &ProcessingFailure{Stage: stageName, Reason: fmt.Sprintf("loopvar %q does not exist on row", v)}
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, &ProcessingFailure{Stage: stageName, Reason: fmt.Sprintf("loopvar %q is not a list", v)}
		}
		if length == -1 {
			length = len(list)
		} else if len(list) != length {
			return nil, &ProcessingFailure{Stage: stageName, Reason: fmt.Sprintf("loopvar %q has length %d, expected %d", v, len(list), length)}
		}
		lists[v] = list
	}

	out := make([]rendering, length)
	for i := 0; i < length; i++ {
		copyCtx := make(map[string]any, len(row))
		for k, val := range row {
			copyCtx[k] = val
		}
		for _, v := range loopVars {
			copyCtx[v] = lists[v][i]
		}
		out[i] = rendering{ctx: copyCtx, suffix: fmt.Sprintf(".%d", i)}
	}
	return out, nil
}

// Run executes a single named stage for a row, writing per-execution
// artifacts under workdir/manifestID/stageName<suffix>/, and returns the
// accumulated Outcome. globalCtx is merged into every rendering's context,
// per spec §4.G "row ∪ global-context".
func Run(engine *tmpl.Engine, workdir, manifestID, stageName, script string, loopVars []string, row map[string]any, globalCtx map[string]any) Outcome {
	var out Outcome

	renderings, err := expand(stageName, row, loopVars)
	if err != nil {
		out.Failures = append(out.Failures, err.Error())
		return out
	}

	for _, r := range renderings {
		ctx := make(map[string]any, len(r.ctx)+len(globalCtx))
		for k, v := range r.ctx {
			ctx[k] = v
		}
		for k, v := range globalCtx {
			ctx[k] = v
		}

		rendered, err := engine.RenderShell(script, ctx)
		if err != nil {
			out.Failures = append(out.Failures, err.Error())
			continue
		}

		code, stdout, stderr, runErr := execute(rendered)
		if runErr != nil {
			out.Failures = append(out.Failures, fmt.Sprintf("stage %q: %v", stageName, runErr))
			continue
		}

		dir := filepath.Join(workdir, manifestID, stageName+r.suffix)
		if err := writeArtifacts(dir, stdout, stderr, code); err != nil {
			out.Failures = append(out.Failures, fmt.Sprintf("stage %q: write artifacts: %v", stageName, err))
		}

		out.Exits = append(out.Exits, code)

		if code%2 == 1 {
			out.Failures = append(out.Failures, fmt.Sprintf("stage %q exited %d (%s)", stageName, code, Describe(code)))
		}
		if code&BitSkipRow != 0 {
			out.End = true
			out.Reason = fmt.Sprintf("stage %q set exit bit 16: %s", stageName, Describe(code))
			// Per spec §9 open question: both effects apply when bits 0 and
			// 16 are both set. Stop expanding further loopvar iterations
			// for this stage and let the caller halt remaining stages.
			break
		}
	}

	return out
}

// execute runs script via the default shell and captures its output and
// exit code.
func execute(script string) (code int, stdout, stderr []byte, err error) {
	cmd := exec.Command("sh", "-c", script)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = outBuf.Bytes(), errBuf.Bytes()

	if runErr == nil {
		return 0, stdout, stderr, nil
	}
	var exitErr *exec.ExitError
	if asExitError(runErr, &exitErr) {
		return exitErr.ExitCode(), stdout, stderr, nil
	}
	return 0, stdout, stderr, runErr
}

func asExitError(err error, out **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*out = ee
	}
	return ok
}

func writeArtifacts(dir string, stdout, stderr []byte, code int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := appendFile(filepath.Join(dir, "stdout.txt"), stdout); err != nil {
		return err
	}
	if err := appendFile(filepath.Join(dir, "stderr.txt"), stderr); err != nil {
		return err
	}
	ecodePath := filepath.Join(dir, fmt.Sprintf("ecode.%d", code))
	content := fmt.Sprintf("%d = %s\n", code, Describe(code))
	return os.WriteFile(ecodePath, []byte(content), 0o644)
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}
