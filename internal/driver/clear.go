package driver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/wait"
)

// ClearForm resets previously entered answers through the form's own
// "Clear form" action. A form without the control counts as cleared.
func (d *Driver) ClearForm(ctx context.Context) error {
	d.logger.Info("Clearing existing form state.")

	if err := d.clearForm(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.capture(ctx, "clear_error")
		return fmt.Errorf("%w: %w", ErrClear, err)
	}
	return nil
}

func (d *Driver) clearForm(ctx context.Context) error {
	// The control usually sits at the bottom of the form.
	clicked := false
	for _, pos := range []schemas.ScrollPosition{schemas.ScrollBottom, schemas.ScrollTop} {
		if err := d.page.Scroll(ctx, pos); err != nil {
			return fmt.Errorf("scroll failed: %w", err)
		}
		pause := d.cfg.Timeouts.Short
		if pos == schemas.ScrollTop {
			pause = d.cfg.Timeouts.Medium
		}
		if err := wait.Sleep(ctx, pause); err != nil {
			return err
		}
		var err error
		clicked, err = d.clickFirst(ctx, clearSelectors)
		if err != nil {
			return err
		}
		if clicked {
			break
		}
	}
	if !clicked {
		d.logger.Warn("Clear form control not found; skipping clear step.")
		return nil
	}

	err := wait.Until(ctx, d.pollInterval(), d.cfg.Timeouts.Element, func(ctx context.Context) (bool, error) {
		n, err := d.page.Count(ctx, selDialog)
		return n > 0, err
	})
	switch {
	case errors.Is(err, wait.ErrTimeout):
		d.logger.Info("No confirmation dialog detected; proceeding.")
		return wait.Sleep(ctx, d.cfg.Timeouts.Long)
	case err != nil:
		return err
	}

	confirmed, err := d.clickFirst(ctx, confirmSelectors)
	if err != nil {
		return err
	}
	if !confirmed {
		d.logger.Debug("No confirm button matched; pressing Enter.")
		if err := d.page.PressKey(ctx, "Enter"); err != nil {
			return fmt.Errorf("failed to confirm clear dialog: %w", err)
		}
	}

	err = wait.Until(ctx, d.pollInterval(), d.cfg.Timeouts.Element, func(ctx context.Context) (bool, error) {
		n, err := d.page.Count(ctx, selDialog)
		return n == 0, err
	})
	if errors.Is(err, wait.ErrTimeout) {
		d.logger.Warn("Clear confirmation dialog still open.")
	} else if err != nil {
		return err
	}

	// Let the form reset before the fields are queried again.
	return wait.Sleep(ctx, d.cfg.Timeouts.Long)
}

// clickFirst clicks the first selector that matches an element. Click
// failures move on to the next candidate; query failures are returned.
func (d *Driver) clickFirst(ctx context.Context, candidates []schemas.Selector) (bool, error) {
	for _, sel := range candidates {
		n, err := d.count(ctx, sel)
		if err != nil {
			return false, fmt.Errorf("query %s: %w", sel, err)
		}
		if n == 0 {
			continue
		}
		if err := d.click(ctx, sel, schemas.ClickOptions{}); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			d.logger.Debug("Candidate click failed.", zap.String("selector", sel.String()), zap.Error(err))
			continue
		}
		d.logger.Info("Clicked.", zap.String("selector", sel.String()))
		return true, nil
	}
	return false, nil
}
