package driver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/config"
)

// binding pairs a manifest entry with the input it fills. field is nil when
// the entry could not be bound.
type binding struct {
	entry config.FieldConfig
	field *schemas.InputField
}

// bindFields pairs manifest entries with visible inputs. Entries with a label
// claim the first unclaimed input whose label matches case-insensitively;
// every other entry takes the input at its own position when that input is
// still unclaimed.
func bindFields(entries []config.FieldConfig, inputs []schemas.InputField) []binding {
	bindings := make([]binding, len(entries))
	claimed := make([]bool, len(inputs))

	for i, entry := range entries {
		bindings[i].entry = entry
		want := normalizeLabel(entry.Label)
		if want == "" {
			continue
		}
		for j := range inputs {
			if !claimed[j] && normalizeLabel(inputs[j].Label) == want {
				bindings[i].field = &inputs[j]
				claimed[j] = true
				break
			}
		}
	}

	for i := range bindings {
		if bindings[i].field != nil || i >= len(inputs) || claimed[i] {
			continue
		}
		bindings[i].field = &inputs[i]
		claimed[i] = true
	}
	return bindings
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// FillFields enters every manifest value into its bound input and returns
// how many were filled. A failing field is logged and skipped.
func (d *Driver) FillFields(ctx context.Context) (int, error) {
	d.logger.Info("Populating form fields.", zap.Int("fields", len(d.cfg.Form.Fields)))

	bindings, err := d.bind(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		d.capture(ctx, "fill_error")
		return 0, fmt.Errorf("%w: %w", ErrIncompleteFill, err)
	}

	filled := 0
	for _, b := range bindings {
		if b.field == nil {
			d.logger.Warn("No input available for field.", zap.String("field", b.entry.Name))
			continue
		}
		fctx, cancel := context.WithTimeout(ctx, d.cfg.Timeouts.Element)
		err := d.page.Fill(fctx, *b.field, b.entry.Value)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return filled, ctx.Err()
			}
			d.logger.Warn("Field population failed.", zap.String("field", b.entry.Name), zap.Error(err))
			continue
		}
		d.logger.Debug("Field populated.", zap.String("field", b.entry.Name), zap.Int("input", b.field.Index))
		filled++
	}

	d.logger.Info("Form field population complete.", zap.Int("filled", filled), zap.Int("expected", len(d.cfg.Form.Fields)))
	return filled, nil
}

// bind queries the visible inputs and pairs them with the manifest.
func (d *Driver) bind(ctx context.Context) ([]binding, error) {
	ictx, cancel := context.WithTimeout(ctx, d.cfg.Timeouts.Element)
	defer cancel()
	inputs, err := d.page.Inputs(ictx)
	if err != nil {
		return nil, fmt.Errorf("failed to list inputs: %w", err)
	}

	bindings := bindFields(d.cfg.Form.Fields, inputs)
	for _, b := range bindings {
		if b.entry.Label != "" && b.field != nil && normalizeLabel(b.field.Label) != normalizeLabel(b.entry.Label) {
			d.logger.Warn("Label not found; field bound by position.",
				zap.String("field", b.entry.Name), zap.String("label", b.entry.Label))
		}
	}
	return bindings, nil
}

// ValidateForm re-reads every bound input and fails on the first blank value.
func (d *Driver) ValidateForm(ctx context.Context) error {
	d.logger.Info("Validating form.")

	bindings, err := d.bind(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	for _, b := range bindings {
		if b.field == nil {
			continue
		}
		vctx, cancel := context.WithTimeout(ctx, d.cfg.Timeouts.Element)
		value, err := d.page.Value(vctx, *b.field)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: could not read %s: %w", ErrValidation, b.entry.Name, err)
		}
		if strings.TrimSpace(value) == "" {
			d.logger.Error("Validation failure: field empty.", zap.String("field", b.entry.Name))
			return fmt.Errorf("%w: %s is empty", ErrValidation, b.entry.Name)
		}
		d.logger.Debug("Validation passed.", zap.String("field", b.entry.Name))
	}
	d.logger.Info("Form validation successful.")
	return nil
}
