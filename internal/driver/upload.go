package driver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/wait"
)

var errNoFileInput = errors.New("no file input in any frame")

// UploadFiles opens the upload control, attaches files to the first file
// input found in any frame and waits for the uploads to show up. An
// unconfirmed upload is a warning only.
func (d *Driver) UploadFiles(ctx context.Context, files []string) error {
	if len(files) == 0 {
		d.logger.Warn("No files available for upload.")
		return ErrNoFiles
	}
	d.logger.Info("Initiating file upload.", zap.Int("files", len(files)))

	if err := d.click(ctx, selAddFile, schemas.ClickOptions{}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.capture(ctx, "upload_error")
		return fmt.Errorf("%w: could not open the upload control: %w", ErrUpload, err)
	}
	if err := wait.Sleep(ctx, d.cfg.Timeouts.Medium); err != nil {
		return err
	}

	attached, err := d.attachFiles(ctx, files)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.capture(ctx, "upload_error")
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if !attached {
		d.logger.Error("File input discovery failed.")
		d.capture(ctx, "upload_error")
		return ErrFileInputNotFound
	}

	confirmed, err := d.waitForUploadCompletion(ctx, len(files))
	if err != nil {
		return err
	}
	d.stats.uploadConfirmed = confirmed
	if !confirmed {
		d.logger.Warn("Upload completion not confirmed; proceeding.", zap.Duration("waited", d.cfg.Timeouts.UploadMax))
	}
	d.logger.Info("File upload operation successful.")
	return nil
}

// attachFiles searches every frame for a file input, retrying while the
// picker loads, then falls back to the top-level document alone.
func (d *Driver) attachFiles(ctx context.Context, files []string) (bool, error) {
	err := wait.Retry(ctx, d.cfg.Retry.UploadAttempts, d.cfg.Timeouts.UploadRetry, func(ctx context.Context, attempt int) error {
		ok, err := d.page.SetInputFiles(ctx, files, true)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				// The run or the tab is gone; no later attempt can succeed.
				return wait.Permanent(err)
			}
			d.logger.Debug("Frame search for file input failed.", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if !ok {
			d.logger.Debug("File input not present yet.", zap.Int("attempt", attempt))
			return errNoFileInput
		}
		return nil
	})
	if err == nil {
		d.logger.Info("File upload initiated.")
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return false, err
	}

	ok, err := d.page.SetInputFiles(ctx, files, false)
	if err != nil {
		return false, err
	}
	if ok {
		d.logger.Info("File upload initiated via direct method.")
	}
	return ok, nil
}

// waitForUploadCompletion reports whether, before the upload timeout, no
// progress indicator remained and at least expected file chips were shown.
// Only a cancelled ctx is returned as an error.
func (d *Driver) waitForUploadCompletion(ctx context.Context, expected int) (bool, error) {
	d.logger.Info("Monitoring upload progress.")
	chips := fileChipSelector(d.cfg.Form.Extensions)

	visible := 0
	err := wait.Until(ctx, d.cfg.Timeouts.UploadPoll, d.cfg.Timeouts.UploadMax, func(ctx context.Context) (bool, error) {
		progress, err := d.page.Count(ctx, selUploadProgress)
		if err != nil {
			return false, nil
		}
		visible, err = d.page.Count(ctx, chips)
		if err != nil {
			return false, nil
		}
		return progress == 0 && visible >= expected, nil
	})
	switch {
	case err == nil:
		d.logger.Info("Upload completion confirmed.", zap.Int("visible_files", visible))
		return true, wait.Sleep(ctx, d.cfg.Timeouts.Medium)
	case errors.Is(err, wait.ErrTimeout):
		return false, nil
	default:
		return false, err
	}
}
