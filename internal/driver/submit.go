package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/wait"
)

const captchaMessage = "Google Forms challenged the automation. Please solve the CAPTCHA in the open browser window."

// IsSubmitted runs the layered success detector. The checks are evaluated in
// a fixed order and the first conclusive one wins: the confirmation text, a
// URL that left the live form, any configured success phrase, and finally a
// completion indicator with the submit control gone. Visible error text is a
// negative signal. A failing query counts as not submitted.
func (d *Driver) IsSubmitted(ctx context.Context) bool {
	ok, err := d.detectSubmission(ctx)
	if err != nil {
		d.logger.Debug("Submission check failed.", zap.Error(err))
		return false
	}
	return ok
}

func (d *Driver) detectSubmission(ctx context.Context) (bool, error) {
	if n, err := d.count(ctx, selSuccess); err != nil || n > 0 {
		return n > 0, err
	}

	url, err := d.page.URL(ctx)
	if err != nil {
		return false, err
	}
	if leftLiveForm(url) {
		return true, nil
	}

	for _, msg := range d.cfg.Form.SuccessMessages {
		if n, err := d.count(ctx, schemas.ExactText(msg)); err != nil || n > 0 {
			return n > 0, err
		}
	}

	submit, err := d.count(ctx, selSubmit)
	if err != nil {
		return false, err
	}
	if submit == 0 {
		n, err := d.count(ctx, selCompletion)
		if err != nil || n > 0 {
			return n > 0, err
		}
	}

	if n, err := d.count(ctx, selErrorText); err == nil && n > 0 {
		d.logger.Debug("Error indicators present on the form.", zap.Int("count", n))
	}
	return false, nil
}

// captchaPresent looks for challenge markers in the page and for reCAPTCHA
// frames anywhere in the frame tree.
func (d *Driver) captchaPresent(ctx context.Context) (bool, error) {
	n, err := d.count(ctx, selCaptcha)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	urls, err := d.page.FrameURLs(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range urls {
		if strings.Contains(strings.ToLower(u), captchaMarker) {
			return true, nil
		}
	}
	return false, nil
}

// SubmitForm validates the form, then clicks Submit up to the configured
// number of attempts, handing CAPTCHA challenges to the user.
func (d *Driver) SubmitForm(ctx context.Context) error {
	if err := d.ValidateForm(ctx); err != nil {
		d.stats.submitState = SubmitFailed
		return err
	}

	d.logger.Info("Initiating form submission.")
	d.logger.Info("Ensuring upload completion before submission.")
	if err := wait.Sleep(ctx, d.cfg.Timeouts.PreSubmit); err != nil {
		return err
	}

	attempts := d.cfg.Retry.SubmitAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		d.stats.submitAttempts = attempt
		d.logger.Info("Submission attempt.", zap.Int("attempt", attempt), zap.Int("of", attempts))

		submitted, err := d.submitAttempt(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			d.logger.Error("Submission attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
			if d.IsSubmitted(ctx) {
				d.logger.Info("Form submission successful despite error.")
				submitted = true
			}
		}
		if submitted {
			d.stats.submitState = Submitted
			d.logger.Info("Form submission successful.")
			return nil
		}
		if attempt < attempts {
			d.logger.Warn("Submission attempt failed; retrying.", zap.Int("attempt", attempt))
		}
	}

	d.stats.submitState = SubmitFailed
	d.capture(ctx, "submit_failed")
	return fmt.Errorf("%w (%d attempts)", ErrSubmitExhausted, attempts)
}

// submitAttempt performs one pass of overlay removal, click, CAPTCHA
// escalation and post-verification.
func (d *Driver) submitAttempt(ctx context.Context) (bool, error) {
	if script := overlayScript(d.cfg.Form.OverlaySelectors); script != "" {
		if err := d.page.Evaluate(ctx, script); err != nil {
			return false, fmt.Errorf("overlay removal failed: %w", err)
		}
	}
	if err := wait.Sleep(ctx, d.cfg.Timeouts.Short); err != nil {
		return false, err
	}

	n, err := d.count(ctx, selSubmit)
	if err != nil {
		return false, err
	}
	if n > 0 {
		d.logger.Info("Executing submit button click.")
		if err := d.click(ctx, selSubmit, schemas.ClickOptions{Force: true}); err != nil {
			return false, fmt.Errorf("submit click failed: %w", err)
		}
		if err := wait.Sleep(ctx, d.cfg.Timeouts.Long); err != nil {
			return false, err
		}
		if d.IsSubmitted(ctx) {
			return true, nil
		}
	} else {
		d.logger.Warn("Submit button not found.")
	}

	submitted, err := d.handleCaptcha(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		d.logger.Debug("CAPTCHA handling failed.", zap.Error(err))
	}
	if submitted {
		return true, nil
	}

	checks := d.cfg.Retry.VerifyChecks
	for i := 0; i < checks; i++ {
		if err := wait.Sleep(ctx, d.cfg.Timeouts.Verify); err != nil {
			return false, err
		}
		if d.IsSubmitted(ctx) {
			return true, nil
		}
	}
	return false, nil
}

// handleCaptcha notifies the user when a challenge is on screen and waits
// until it is solved, disappears, or the CAPTCHA timeout elapses.
func (d *Driver) handleCaptcha(ctx context.Context) (bool, error) {
	present, err := d.captchaPresent(ctx)
	if err != nil || !present {
		return false, err
	}

	d.stats.captchaEscalations++
	if err := d.notifier.Notify(ctx, d.cfg.Notify.Title, captchaMessage); err != nil {
		d.logger.Warn("Notification delivery failed.", zap.Error(err))
	}
	if err := d.page.BringToFront(ctx); err != nil {
		d.logger.Debug("Could not bring the browser window to front.", zap.Error(err))
	}
	d.logger.Warn("CAPTCHA detected. Waiting for manual completion.", zap.Duration("timeout", d.cfg.Timeouts.Captcha))

	submitted := false
	err = wait.Until(ctx, d.cfg.Timeouts.CaptchaPoll, d.cfg.Timeouts.Captcha, func(ctx context.Context) (bool, error) {
		if d.IsSubmitted(ctx) {
			submitted = true
			return true, nil
		}
		n, err := d.count(ctx, selCaptcha)
		if err != nil {
			return false, nil
		}
		return n == 0, nil
	})
	switch {
	case err == nil:
		if submitted {
			d.logger.Info("Submission confirmed while waiting on CAPTCHA.")
		} else {
			d.logger.Info("CAPTCHA no longer present; resuming.")
		}
		return submitted, nil
	case errors.Is(err, wait.ErrTimeout):
		d.logger.Warn("CAPTCHA wait timed out.")
		return false, nil
	default:
		return false, err
	}
}
