package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/artifacts"
	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/discovery"
	"github.com/xkilldash9x/formpilot/internal/driver"
	"github.com/xkilldash9x/formpilot/internal/notify"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

const shutdownTimeout = 15 * time.Second

// openPage launches the browser and returns the page the driver operates on
// together with its release function. Tests replace it.
var openPage = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (driver.Page, func(), error) {
	manager := browser.NewManager(cfg.Browser, logger)
	release := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		}
	}

	session, err := manager.NewSession(ctx)
	if err != nil {
		release()
		return nil, nil, err
	}
	return session, release, nil
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Fill, upload to and submit the configured form",
		Long: `Opens the form in a browser with a persistent profile, waits for a manual
login when Google asks for one, clears any previous answers, fills the field
manifest, attaches every eligible file from the upload directory and submits.
A CAPTCHA pauses the run and notifies you until it is solved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd)
		},
	}
	addRunFlags(runCmd)
	return runCmd
}

// addRunFlags declares the workflow overrides. They only take effect when set
// on the command line.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "Form URL. (Overrides config/env)")
	cmd.Flags().String("upload-dir", "", "Directory holding the files to upload. (Overrides config/env)")
	cmd.Flags().Bool("headless", false, "Run the browser without a window. (Overrides config/env)")
	cmd.Flags().Bool("no-clear", false, "Skip clearing previous answers before filling.")
	cmd.Flags().Bool("keep-open", true, "Keep the browser open after the run until interrupted. (Overrides config/env)")
}

// flagKeys maps run flags onto configuration keys.
var flagKeys = map[string]string{
	"url":        "form.url",
	"upload-dir": "form.upload_dir",
	"headless":   "browser.headless",
	"keep-open":  "browser.keep_open",
}

// bindFlags applies the flags the user actually set on top of the file and
// environment configuration.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.Flags()
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	if f := flags.Lookup("no-clear"); f != nil && f.Changed {
		noClear, err := flags.GetBool("no-clear")
		if err != nil {
			return err
		}
		v.Set("form.clear_before_fill", !noClear)
	}
	return nil
}

func runWorkflow(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, err := configFromContext(ctx)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()

	finder, err := discovery.NewFinder(cfg.Form.UploadDir, cfg.Form.Extensions, cfg.Form.Ignore, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize file discovery: %w", err)
	}
	notifier, err := notify.FromConfig(cfg.Notify, cfg.Paths.AlertFile, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifiers: %w", err)
	}
	store := artifacts.NewStore(cfg.Paths.ScreenshotDir, cfg.Paths.ReportDir, logger)

	page, release, err := openPage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	defer release()

	d := driver.New(page, cfg, finder, notifier, store, logger)
	report, runErr := d.Run(ctx)
	printSummary(cmd.OutOrStdout(), report)

	if cfg.Browser.KeepOpen && ctx.Err() == nil {
		logger.Info("Browser left open for inspection. Press Ctrl+C to exit.")
		<-ctx.Done()
	}
	return runErr
}

func printSummary(w io.Writer, report *artifacts.Report) {
	if report == nil {
		return
	}
	status := "FAILED"
	if report.Success {
		status = "SUBMITTED"
	}
	fmt.Fprintf(w, "\nRun %s: %s (stage: %s)\n", report.RunID, status, report.Stage)
	fmt.Fprintf(w, "  Fields filled: %d/%d\n", report.FieldsFilled, report.FieldsExpected)
	fmt.Fprintf(w, "  Files: %d\n", len(report.Files))
	if report.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", report.Error)
	}
	for _, shot := range report.Screenshots {
		fmt.Fprintf(w, "  Screenshot: %s\n", shot)
	}
}
