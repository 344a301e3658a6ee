package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/artifacts"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// newReportCmd creates the `report` command, which shows a stored run report.
func newReportCmd() *cobra.Command {
	var last bool
	var outputPath string
	var format string

	reportCmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Show the report of a previous run",
		Long: `Reads a run report from the report directory and prints its summary.
Pass the run ID printed at the end of a run, or --last for the most recent run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runReport(cmd.OutOrStdout(), cfg.Paths.ReportDir, runID, last, outputPath, format)
		},
	}

	reportCmd.Flags().BoolVar(&last, "last", false, "Show the most recent run")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the report as JSON to this file instead of printing it.")
	reportCmd.Flags().StringVarP(&format, "format", "f", "text", "Output format on stdout: 'text' or 'json'.")
	return reportCmd
}

// runReport resolves the requested report and renders it.
func runReport(w io.Writer, reportDir, runID string, last bool, outputPath, format string) error {
	logger := observability.GetLogger()

	switch {
	case runID == "" && !last:
		return errors.New("a run ID or --last is required")
	case runID != "" && last:
		return errors.New("a run ID and --last are mutually exclusive")
	}

	var report *artifacts.Report
	var err error
	if last {
		report, err = artifacts.LatestReport(reportDir)
	} else {
		if filepath.Base(runID) != runID {
			return fmt.Errorf("invalid run ID '%s'", runID)
		}
		report, err = artifacts.ReadReport(artifacts.ReportPath(reportDir, runID))
	}
	if err != nil {
		return fmt.Errorf("could not load report: %w", err)
	}
	logger.Debug("Loaded run report.", zap.String("run_id", report.RunID))

	if outputPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		logger.Info("Report written.", zap.String("path", outputPath))
		return nil
	}

	switch format {
	case "text":
		printSummary(w, report)
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Fprintln(w, string(data))
	default:
		return fmt.Errorf("unsupported format '%s'", format)
	}
	return nil
}
