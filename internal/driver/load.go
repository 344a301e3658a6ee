package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/wait"
)

// LoadForm opens the form URL and, when Google redirects to sign-in, waits
// for a human to complete the login in the browser window.
func (d *Driver) LoadForm(ctx context.Context) error {
	d.logger.Info("Loading form.", zap.String("url", d.cfg.Form.URL))

	loadCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeouts.FormLoad)
	defer cancel()

	if err := d.page.Navigate(loadCtx, d.cfg.Form.URL); err != nil {
		d.capture(ctx, "load_error")
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if err := d.page.WaitStable(loadCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The document may keep loading resources; the URL check below decides.
		d.logger.Debug("Page did not settle before the load timeout.", zap.Error(err))
	}

	url, err := d.page.URL(ctx)
	if err != nil {
		d.capture(ctx, "load_error")
		return fmt.Errorf("%w: could not read page URL: %w", ErrLoad, err)
	}

	if !isAuthURL(url) {
		d.logger.Info("Form load successful.")
		return nil
	}

	d.logger.Info("Authentication required. Please log in within the open browser window.",
		zap.Duration("timeout", d.cfg.Timeouts.Login))
	if err := d.waitForLogin(ctx); err != nil {
		if errors.Is(err, wait.ErrTimeout) {
			d.capture(ctx, "auth_timeout")
			return fmt.Errorf("%w after %s", ErrAuthTimeout, d.cfg.Timeouts.Login)
		}
		return err
	}
	d.logger.Info("Authentication successful.")

	stableCtx, cancelStable := context.WithTimeout(ctx, d.cfg.Timeouts.FormLoad)
	defer cancelStable()
	if err := d.page.WaitStable(stableCtx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// waitForLogin polls the page URL until it is back on the live form.
func (d *Driver) waitForLogin(ctx context.Context) error {
	start := d.now()
	lastStatus := start
	return wait.Until(ctx, d.cfg.Timeouts.LoginPoll, d.cfg.Timeouts.Login, func(ctx context.Context) (bool, error) {
		url, err := d.page.URL(ctx)
		if err != nil {
			// Navigation in progress.
			d.logger.Debug("Could not read URL while waiting for login.", zap.Error(err))
			return false, nil
		}
		if isFormURL(url) {
			return true, nil
		}
		if now := d.now(); d.cfg.Timeouts.LoginStatus > 0 && now.Sub(lastStatus) >= d.cfg.Timeouts.LoginStatus {
			lastStatus = now
			remaining := d.cfg.Timeouts.Login - now.Sub(start)
			d.logger.Info("Still waiting for login.", zap.Duration("remaining", remaining.Round(time.Second)))
		}
		return false, nil
	})
}
