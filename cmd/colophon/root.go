package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MSU-Libraries/colophon/internal/pipeline"
)

// flags mirrors the teacher's main.go flag struct: plain package-level vars
// bound directly to cobra's flag set.
var (
	flagManifest      string
	flagSuite         string
	flagSource        string
	flagWorkdir       string
	flagStrict        bool
	flagIgnoreMissing bool
	flagSet           []string
	flagLogLevel      string
	flagLogFormat     string
	flagNoColor       bool
	flagZip           bool
)

var rootCmd = &cobra.Command{
	Use:   "colophon",
	Short: "Batch verification harness: manifest + suite + source directory",
	Long: `colophon filters manifest rows, associates on-disk files to each
surviving row under named labels, executes an ordered sequence of shell
stages per row, and emits structured reports plus a deterministic exit code.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.Flags().StringVar(&flagManifest, "manifest", "", "path to the manifest CSV (required)")
	rootCmd.Flags().StringVar(&flagSuite, "suite", "", "path to the suite YAML document (required)")
	rootCmd.Flags().StringVar(&flagSource, "source", "", "source directory of files to associate (required)")
	rootCmd.Flags().StringVar(&flagWorkdir, "workdir", "", "directory to write reports and stage artifacts into (required)")
	rootCmd.Flags().BoolVar(&flagStrict, "strict", false, "exit 2 if any row was skipped or any file is left unassociated")
	rootCmd.Flags().BoolVar(&flagIgnoreMissing, "ignore-missing", false, "mark rows with no matched files as ignored instead of failed")
	rootCmd.Flags().StringArrayVar(&flagSet, "set", nil, "key=value added to the global template context (repeatable, supports dotted keys)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "zerolog level: trace, debug, info, warn, error")
	rootCmd.Flags().StringVar(&flagLogFormat, "log-format", "console", "log output format: console or json")
	rootCmd.Flags().BoolVar(&flagNoColor, "no-color", false, "disable ANSI color in console-format logs")
	rootCmd.Flags().BoolVar(&flagZip, "zip", false, "bundle the workdir into a zip file after reporting")

	for _, name := range []string{"manifest", "suite", "source", "workdir"} {
		_ = rootCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(newVersionCmd())
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), err)
		return 1
	}
	return lastExitCode
}

// lastExitCode carries the pipeline's own exit code (0 or 2, per spec §6)
// out of RunE, which cobra otherwise only treats as success/failure.
var lastExitCode int

func runRoot(cmd *cobra.Command, _ []string) error {
	global := map[string]any{}
	for _, kv := range flagSet {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			return fmt.Errorf("--set expects key=value, got %q", kv)
		}
		setByDottedKey(global, kv[:idx], parseScalar(kv[idx+1:]))
	}

	code, err := pipeline.Run(pipeline.Options{
		ManifestPath:  flagManifest,
		SuitePath:     flagSuite,
		SourceDir:     flagSource,
		Workdir:       flagWorkdir,
		Strict:        flagStrict,
		IgnoreMissing: flagIgnoreMissing,
		GlobalContext: global,
		LogLevel:      flagLogLevel,
		LogFormat:     flagLogFormat,
		NoColor:       flagNoColor,
	})
	if err != nil {
		return err
	}
	lastExitCode = code

	if flagZip {
		path, err := pipeline.Zip(flagWorkdir)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}

// parseScalar converts a --set operand to bool/int/float/JSON/YAML where
// possible, falling back to the raw string, the way the teacher's main.go
// parseScalar does for its own --set flag.
func parseScalar(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	if err := yaml.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// setByDottedKey assigns val into m using a dotted path, creating maps along
// the way, mirroring the teacher's main.go helper of the same name.
func setByDottedKey(m map[string]any, dotted string, val any) {
	parts := strings.Split(dotted, ".")
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = val
			return
		}
		next, ok := cur[p]
		if !ok {
			nm := map[string]any{}
			cur[p] = nm
			cur = nm
			continue
		}
		nmm, ok := next.(map[string]any)
		if !ok {
			nmm = map[string]any{}
			cur[p] = nmm
		}
		cur = nmm
	}
}
