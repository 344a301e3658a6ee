// Package artifacts writes the on-disk traces of a run: timestamped
// screenshots and the JSON run report.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// ErrNoReports is returned by LatestReport when the directory holds no readable report.
var ErrNoReports = errors.New("no run reports found")

// Screenshotter captures the current viewport as PNG bytes.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Report is the outcome record of one run.
type Report struct {
	RunID              string    `json:"run_id"`
	FormURL            string    `json:"form_url"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Stage              string    `json:"stage"`
	Success            bool      `json:"success"`
	FieldsFilled       int       `json:"fields_filled"`
	FieldsExpected     int       `json:"fields_expected"`
	Files              []string  `json:"files"`
	UploadConfirmed    bool      `json:"upload_confirmed"`
	SubmitAttempts     int       `json:"submit_attempts"`
	CaptchaEscalations int       `json:"captcha_escalations"`
	SubmitState        string    `json:"submit_state"`
	Error              string    `json:"error,omitempty"`
	Screenshots        []string  `json:"screenshots,omitempty"`
}

// Store owns the screenshot and report directories.
type Store struct {
	screenshotDir string
	reportDir     string
	logger        *zap.Logger
	now           func() time.Time
}

// NewStore returns a store writing screenshots and reports under the given
// directories. Directories are created on first write.
func NewStore(screenshotDir, reportDir string, logger *zap.Logger) *Store {
	return &Store{
		screenshotDir: screenshotDir,
		reportDir:     reportDir,
		logger:        logger.Named("artifacts"),
		now:           time.Now,
	}
}

// SaveScreenshot captures src and writes it as <name>_<YYYYMMDD_HHMMSS>.png,
// returning the written path.
func (s *Store) SaveScreenshot(ctx context.Context, src Screenshotter, name string) (string, error) {
	data, err := src.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to capture screenshot '%s': %w", name, err)
	}
	if err := os.MkdirAll(s.screenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}

	path := filepath.Join(s.screenshotDir, fmt.Sprintf("%s_%s.png", name, s.now().Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	s.logger.Info("Screenshot saved.", zap.String("path", path))
	return path, nil
}

// WriteReport stores r as <report_dir>/<run_id>.json and returns the path.
func (s *Store) WriteReport(r *Report) (string, error) {
	if r.RunID == "" {
		return "", fmt.Errorf("report has no run id")
	}
	if err := os.MkdirAll(s.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	path := ReportPath(s.reportDir, r.RunID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	s.logger.Info("Run report written.", zap.String("path", path))
	return path, nil
}

// ReadReport loads a report previously written by WriteReport.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", path, err)
	}
	return &r, nil
}

// ReportPath returns where the report of runID lives under dir.
func ReportPath(dir, runID string) string {
	return filepath.Join(dir, runID+".json")
}

// LatestReport returns the report in dir with the most recent start time.
// Files that fail to decode are skipped.
func LatestReport(dir string) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s", ErrNoReports, dir)
		}
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	var latest *Report
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		r, err := ReadReport(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w in %s", ErrNoReports, dir)
	}
	return latest, nil
}
