// Package main is the CLI entry point for the cyclistic trip pipeline.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Collins-13/cyclistic-pipeline/internal/config"
	"github.com/Collins-13/cyclistic-pipeline/internal/logger"
	"github.com/Collins-13/cyclistic-pipeline/internal/pipeline"
	"github.com/Collins-13/cyclistic-pipeline/internal/store"
	"github.com/Collins-13/cyclistic-pipeline/pkg/utils"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

var (
	verbose bool
	quiet   bool

	dryRun bool

	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitRuntimeError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cyclistic",
	Short: "Cyclistic - bike-share trip data pipeline",
	Long: `Cyclistic runs batch analysis jobs over bike-share trip exports.

A job file (JSON or YAML) lists the monthly CSV sources to ingest, the
cleaning policy, the aggregations to compute, and where results go.

Examples:
  # Validate a job file
  cyclistic validate job.yaml

  # Run a job
  cyclistic run job.yaml

  # Run without writing exports
  cyclistic run --dry-run job.yaml`,
}

var validateCmd = &cobra.Command{
	Use:   "validate <job-file>",
	Short: "Validate a pipeline job file",
	Long: `Validate a job file against the job schema.

Supports both JSON and YAML formats. The format is auto-detected from the
file extension (.json, .yaml, .yml) or content.

Exit codes:
  0 - Job file is valid
  1 - Validation errors (schema violations)
  2 - Parse errors (invalid JSON/YAML syntax)`,
	Args: cobra.ExactArgs(1),
	Run:  runValidate,
}

var runCmd = &cobra.Command{
	Use:   "run <job-file>",
	Short: "Run a pipeline job",
	Long: `Run the pipeline described by a job file.

The job file is validated against the schema first; an invalid job never
starts ingesting. With --dry-run the whole pipeline executes but no export
files are written.

Exit codes:
  0 - Run completed
  1 - Validation errors
  2 - Parse errors
  3 - Runtime errors`,
	Args: cobra.ExactArgs(1),
	Run:  runJob,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version, commit hash, and build date information.",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run the pipeline without writing exports")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadJob parses and validates a job file, exiting with the right code on
// failure. Both commands go through this path so a job that runs is always
// a job that validates.
func loadJob(path string) *config.Result {
	result := config.ParseJobFile(path)

	if len(result.ParseErrors) > 0 {
		fmt.Fprintf(os.Stderr, "✗ %d parse error(s) in %s:\n", len(result.ParseErrors), path)
		for _, parseErr := range result.ParseErrors {
			fmt.Fprintf(os.Stderr, "  - %s\n", parseErr.Error())
		}
		os.Exit(ExitParseError)
	}

	if len(result.ValidationErrors) > 0 {
		fmt.Fprintf(os.Stderr, "✗ %d validation error(s) in %s:\n", len(result.ValidationErrors), path)
		for _, validationErr := range result.ValidationErrors {
			fmt.Fprintf(os.Stderr, "  - %s\n", validationErr.Error())
		}
		os.Exit(ExitValidationError)
	}

	return result
}

func runValidate(_ *cobra.Command, args []string) {
	jobPath := args[0]

	result := loadJob(jobPath)

	if !quiet {
		fmt.Printf("✓ Job file is valid (format: %s)\n", result.Format)
		if verbose {
			if name, ok := result.Data["name"].(string); ok {
				fmt.Printf("  Job: %s\n", name)
			}
			if sources, ok := result.Data["sources"].([]interface{}); ok {
				fmt.Printf("  Sources: %d\n", len(sources))
			}
		}
	}

	os.Exit(ExitSuccess)
}

// runJob funnels through executeRun so deferred cleanup (the tracking store)
// runs before os.Exit.
func runJob(_ *cobra.Command, args []string) {
	os.Exit(executeRun(args[0]))
}

func executeRun(jobPath string) int {
	result := loadJob(jobPath)

	job, err := config.ConvertToJobSpec(result.Data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Invalid job: %v\n", err)
		return ExitValidationError
	}
	if job.Name == "" {
		job.Name = jobPath
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Bad configuration: %v\n", err)
		return ExitRuntimeError
	}

	log := logger.New(cfg.Environment)
	switch {
	case verbose:
		log = log.Level(zerolog.DebugLevel)
	case quiet:
		log = log.Level(zerolog.ErrorLevel)
	}

	runner := &pipeline.Runner{
		Log:    log,
		Client: &http.Client{Timeout: cfg.HTTPTimeout},
		Retry:  pipeline.DefaultRetryConfig(),
		DryRun: dryRun,
	}

	if cfg.TrackingEnabled() {
		trackingStore, storeErr := store.Open(cfg.TrackingDB)
		if storeErr != nil {
			fmt.Fprintf(os.Stderr, "✗ Failed to open tracking database: %v\n", storeErr)
			return ExitRuntimeError
		}
		defer trackingStore.Close()
		runner.Store = trackingStore
	}

	runResult, err := runner.Run(context.Background(), job)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Run failed: %v\n", err)
		return ExitRuntimeError
	}

	if !quiet {
		fmt.Printf("✓ Run %s completed in %s\n", runResult.RunID, runResult.Duration.Round(time.Millisecond))
		fmt.Printf("  %s\n", runResult.Stats.Summary())
		for _, agg := range runResult.Aggregations {
			fmt.Printf("  %s: %d groups\n", agg.Name, len(agg.Buckets))
		}
		for _, export := range runResult.Exports {
			line := fmt.Sprintf("  wrote %s (%s)", export.Path, export.Sink)
			if verbose {
				if size, sizeErr := utils.FileSize(export.Path); sizeErr == nil {
					line += fmt.Sprintf(", %d bytes", size)
				}
			}
			fmt.Println(line)
		}
	}

	return ExitSuccess
}
