// Package driver runs one form session: load and authenticate, clear, fill,
// upload, validate and submit, escalating to a human for login and CAPTCHA.
package driver

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/artifacts"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/notify"
)

// Page is the browser surface the driver operates on.
type Page = schemas.Page

// FileSource yields the Upload File Set.
type FileSource interface {
	Find() []string
}

// Stage names recorded in the run report.
const (
	StageLoad     = "load"
	StageClear    = "clear"
	StageFill     = "fill"
	StageDiscover = "discover"
	StageUpload   = "upload"
	StageSubmit   = "submit"
	StageDone     = "done"
)

// SubmitState is the state of the submission state machine.
type SubmitState string

const (
	NotSubmitted SubmitState = "not-submitted"
	Submitted    SubmitState = "submitted"
	SubmitFailed SubmitState = "failed"
)

const screenshotTimeout = 15 * time.Second

// Driver executes the workflow against one page.
type Driver struct {
	page     Page
	cfg      *config.Config
	files    FileSource
	notifier notify.Notifier
	store    *artifacts.Store
	logger   *zap.Logger
	now      func() time.Time

	stats runStats
}

type runStats struct {
	uploadConfirmed    bool
	submitAttempts     int
	captchaEscalations int
	submitState        SubmitState
	screenshots        []string
}

// New wires a driver. notifier may be nil, in which case escalations are only logged.
func New(page Page, cfg *config.Config, files FileSource, notifier notify.Notifier, store *artifacts.Store, logger *zap.Logger) *Driver {
	if notifier == nil {
		notifier = notify.Multi{}
	}
	return &Driver{
		page:     page,
		cfg:      cfg,
		files:    files,
		notifier: notifier,
		store:    store,
		logger:   logger.Named("driver"),
		now:      time.Now,
		stats:    runStats{submitState: NotSubmitted},
	}
}

// Run executes every stage in order and stops at the first failure. The
// returned report is always non-nil and has been written to disk; the error
// is the failing stage's error.
func (d *Driver) Run(ctx context.Context) (report *artifacts.Report, err error) {
	d.stats = runStats{submitState: NotSubmitted}
	report = &artifacts.Report{
		RunID:          uuid.New().String(),
		FormURL:        d.cfg.Form.URL,
		StartedAt:      d.now(),
		FieldsExpected: len(d.cfg.Form.Fields),
		Files:          []string{},
	}
	logger := d.logger.With(zap.String("run_id", report.RunID))
	logger.Info("Starting form automation.", zap.String("url", d.cfg.Form.URL))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic during form automation.", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic during stage %s: %v", report.Stage, r)
		}
		d.finish(report, err)
		if d.store != nil {
			if _, werr := d.store.WriteReport(report); werr != nil {
				logger.Warn("Could not write run report.", zap.Error(werr))
			}
		}
	}()

	report.Stage = StageLoad
	if err = d.LoadForm(ctx); err != nil {
		logger.Error("Form load failed.", zap.Error(err))
		return report, err
	}

	if d.cfg.Form.ClearBeforeFill {
		report.Stage = StageClear
		if err = d.ClearForm(ctx); err != nil {
			logger.Error("Form clear operation failed.", zap.Error(err))
			return report, err
		}
		logger.Info("Form clear operation successful.")
	}

	report.Stage = StageFill
	filled, err := d.FillFields(ctx)
	report.FieldsFilled = filled
	if err != nil {
		return report, err
	}
	if filled != len(d.cfg.Form.Fields) {
		err = fmt.Errorf("%w: %d/%d fields", ErrIncompleteFill, filled, len(d.cfg.Form.Fields))
		logger.Error("Form population incomplete.", zap.Int("filled", filled), zap.Int("expected", len(d.cfg.Form.Fields)))
		return report, err
	}

	report.Stage = StageDiscover
	files := d.files.Find()
	report.Files = files

	report.Stage = StageUpload
	if err = d.UploadFiles(ctx, files); err != nil {
		logger.Error("File upload operation failed.", zap.Error(err))
		return report, err
	}

	report.Stage = StageSubmit
	if err = d.SubmitForm(ctx); err != nil {
		logger.Error("Form submission failed.", zap.Error(err))
		return report, err
	}

	report.Stage = StageDone
	logger.Info("Automation completed successfully.")
	return report, nil
}

func (d *Driver) finish(report *artifacts.Report, err error) {
	report.FinishedAt = d.now()
	report.UploadConfirmed = d.stats.uploadConfirmed
	report.SubmitAttempts = d.stats.submitAttempts
	report.CaptchaEscalations = d.stats.captchaEscalations
	report.SubmitState = string(d.stats.submitState)
	report.Screenshots = append([]string(nil), d.stats.screenshots...)
	report.Success = err == nil && report.Stage == StageDone
	if err != nil {
		report.Error = err.Error()
	}
}

// capture saves a screenshot named name. It runs even when ctx has been
// cancelled so a failure is still documented.
func (d *Driver) capture(ctx context.Context, name string) {
	if d.store == nil {
		return
	}
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()
	path, err := d.store.SaveScreenshot(shotCtx, d.page, name)
	if err != nil {
		d.logger.Warn("Could not save screenshot.", zap.String("name", name), zap.Error(err))
		return
	}
	d.stats.screenshots = append(d.stats.screenshots, path)
}

// count is Page.Count with the element timeout applied.
func (d *Driver) count(ctx context.Context, sel schemas.Selector) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.Timeouts.Element)
	defer cancel()
	return d.page.Count(cctx, sel)
}

func (d *Driver) click(ctx context.Context, sel schemas.Selector, opts schemas.ClickOptions) error {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.Timeouts.Element)
	defer cancel()
	return d.page.Click(cctx, sel, opts)
}

// pollInterval paces element waits; short element timeouts poll proportionally faster.
func (d *Driver) pollInterval() time.Duration {
	interval := 200 * time.Millisecond
	if fifth := d.cfg.Timeouts.Element / 5; fifth > 0 && fifth < interval {
		interval = fifth
	}
	return interval
}
