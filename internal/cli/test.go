package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/litewatch/internal/scenario"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Golden   string // golden trace directory; empty disables comparison
	Update   bool   // regenerate golden files
	Filter   string // scenario filter (glob pattern)
	Parallel int    // scenarios run at once
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
	Note   string   `json:"-"` // text-mode suffix, e.g. "golden updated"
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>...",
		Short: "Run scenario files",
		Long: `Run scenario files, each against its own in-memory database.

Every step's expectations are checked. With --golden, each scenario's trace
is also compared byte-for-byte against <golden>/<name>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  litewatch test ./scenarios
  litewatch test ./scenarios --filter "keyed-*"
  litewatch test ./scenarios --golden ./scenarios/golden
  litewatch test ./scenarios --golden ./scenarios/golden --update
  litewatch test ./scenarios/basic.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden trace directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files (requires --golden)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", runtime.GOMAXPROCS(0), "scenarios run at once")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.Update && opts.Golden == "" {
		return f.Fail(ExitCommandError, "invalid flags", errors.New("--update requires --golden"))
	}
	if opts.Parallel < 1 {
		return f.Fail(ExitCommandError, "invalid flags", fmt.Errorf("--parallel must be at least 1, got %d", opts.Parallel))
	}

	var scenarioFiles []string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return f.Fail(ExitCommandError, "scenario path not found", err)
		}
		files, err := findScenarioFiles(path, opts.Filter)
		if err != nil {
			return f.Fail(ExitCommandError, "failed to find scenarios", err)
		}
		scenarioFiles = append(scenarioFiles, files...)
	}

	if len(scenarioFiles) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{
				Scenarios: []ScenarioResult{},
				Total:     0,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	// Each scenario owns its database, so they run concurrently. Results
	// keep file order.
	results := make([]ScenarioResult, len(scenarioFiles))
	var group errgroup.Group
	group.SetLimit(opts.Parallel)
	for i, file := range scenarioFiles {
		group.Go(func() error {
			results[i] = runScenario(file, opts, cmd)
			return nil
		})
	}
	_ = group.Wait()

	result := TestResult{
		Scenarios: results,
		Total:     len(results),
	}
	for _, r := range results {
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles returns path itself when it is a file, or every YAML
// scenario file beneath it when it is a directory. Golden directories are
// skipped.
func findScenarioFiles(path string, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if p != path && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, p)
		return nil
	})

	return files, err
}

// runScenario loads, runs and checks one scenario file.
func runScenario(file string, opts *TestOptions, cmd *cobra.Command) ScenarioResult {
	s, err := scenario.Load(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			File:   file,
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}

	var runOpts []scenario.RunOption
	if opts.Verbose {
		runOpts = append(runOpts, scenario.WithLogger(opts.newLogger(cmd.ErrOrStderr())))
	}
	result, err := scenario.Run(commandContext(cmd), s, runOpts...)
	if err != nil {
		return ScenarioResult{
			Name:   s.Name,
			File:   file,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}

	out := ScenarioResult{Name: s.Name, File: file, Pass: result.Pass, Errors: result.Errors}
	if opts.Golden == "" {
		return out
	}

	snapshot, err := scenario.MarshalSnapshot(s.Name, result)
	if err != nil {
		out.Pass = false
		out.Errors = append(out.Errors, err.Error())
		return out
	}
	goldenPath := filepath.Join(opts.Golden, s.Name+".golden")

	if opts.Update {
		if err := updateGoldenFile(goldenPath, snapshot); err != nil {
			out.Pass = false
			out.Errors = append(out.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			return out
		}
		out.Note = "golden updated"
		return out
	}

	golden, err := os.ReadFile(goldenPath)
	if err != nil {
		out.Pass = false
		out.Errors = append(out.Errors, fmt.Sprintf("failed to read golden file: %v", err))
		return out
	}
	if !bytes.Equal(golden, snapshot) {
		out.Pass = false
		out.Errors = append(out.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
	return out
}

// updateGoldenFile writes the current trace as the golden file.
func updateGoldenFile(goldenPath string, snapshot []byte) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(goldenPath, snapshot, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}
	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    "TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	for _, r := range result.Scenarios {
		writeScenarioLine(w, r)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}

func writeScenarioLine(w io.Writer, r ScenarioResult) {
	if r.Pass {
		if r.Note != "" {
			fmt.Fprintf(w, "✓ %s (%s)\n", r.Name, r.Note)
		} else {
			fmt.Fprintf(w, "✓ %s\n", r.Name)
		}
		return
	}
	fmt.Fprintf(w, "✗ %s\n", r.Name)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
