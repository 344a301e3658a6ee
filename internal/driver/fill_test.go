package driver

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/config"
)

func boundIndexes(bindings []binding) []int {
	out := make([]int, len(bindings))
	for i, b := range bindings {
		out[i] = -1
		if b.field != nil {
			out[i] = b.field.Index
		}
	}
	return out
}

func inputsLabeled(labels ...string) []schemas.InputField {
	return newFakePage().withInputs(labels...).inputs
}

func TestBindFields(t *testing.T) {
	tests := []struct {
		name    string
		entries []config.FieldConfig
		inputs  []schemas.InputField
		want    []int
	}{
		{
			name:    "positional",
			entries: []config.FieldConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}},
			inputs:  inputsLabeled("", "", ""),
			want:    []int{0, 1, 2},
		},
		{
			name:    "fewer inputs than entries",
			entries: []config.FieldConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}},
			inputs:  inputsLabeled("", ""),
			want:    []int{0, 1, -1},
		},
		{
			name: "label claims its input before positions are assigned",
			entries: []config.FieldConfig{
				{Name: "a"},
				{Name: "b", Label: "Employee ID"},
				{Name: "c"},
			},
			inputs: inputsLabeled("Email", "Name", "Employee ID"),
			want:   []int{0, 2, -1},
		},
		{
			name:    "labels match case and whitespace insensitively",
			entries: []config.FieldConfig{{Name: "id", Label: " employee   id "}},
			inputs:  inputsLabeled("Name", "Employee ID"),
			want:    []int{1},
		},
		{
			name:    "unknown label falls back to position",
			entries: []config.FieldConfig{{Name: "a"}, {Name: "b", Label: "Missing"}},
			inputs:  inputsLabeled("First", "Second"),
			want:    []int{0, 1},
		},
		{
			name:    "no inputs",
			entries: []config.FieldConfig{{Name: "a"}},
			want:    []int{-1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := boundIndexes(bindFields(tt.entries, tt.inputs))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("bindFields() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFillFields(t *testing.T) {
	t.Run("fills every field in manifest order", func(t *testing.T) {
		cfg := testConfig(t)
		page := newFakePage().withInputs(make([]string, len(cfg.Form.Fields))...)
		d := newTestDriver(t, page, cfg, nil, nil)

		filled, err := d.FillFields(context.Background())
		require.NoError(t, err)
		assert.Equal(t, len(cfg.Form.Fields), filled)
		for i, f := range cfg.Form.Fields {
			assert.Equal(t, f.Value, page.values[i], f.Name)
		}
		assert.NotContains(t, page.values[1], config.TodayPlaceholder)
	})

	t.Run("failing field is skipped", func(t *testing.T) {
		cfg := testConfig(t)
		page := newFakePage().withInputs(make([]string, len(cfg.Form.Fields))...)
		page.fillErr[3] = errBoom
		d := newTestDriver(t, page, cfg, nil, nil)

		filled, err := d.FillFields(context.Background())
		require.NoError(t, err)
		assert.Equal(t, len(cfg.Form.Fields)-1, filled)
		assert.NotContains(t, page.values, 3)
		assert.Equal(t, cfg.Form.Fields[4].Value, page.values[4])
	})

	t.Run("form with fewer inputs", func(t *testing.T) {
		cfg := testConfig(t)
		page := newFakePage().withInputs("", "", "", "", "")
		d := newTestDriver(t, page, cfg, nil, nil)

		filled, err := d.FillFields(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, filled)
	})

	t.Run("input query failure", func(t *testing.T) {
		cfg := testConfig(t)
		page := newFakePage()
		page.inputsErr = errBoom
		d := newTestDriver(t, page, cfg, nil, nil)

		filled, err := d.FillFields(context.Background())
		assert.ErrorIs(t, err, ErrIncompleteFill)
		assert.ErrorIs(t, err, errBoom)
		assert.Zero(t, filled)
		assert.Equal(t, 1, page.screenshots)
	})
}

func TestValidateForm(t *testing.T) {
	setup := func(t *testing.T) (*Driver, *fakePage) {
		cfg := testConfig(t)
		page := newFakePage().withInputs(make([]string, len(cfg.Form.Fields))...)
		d := newTestDriver(t, page, cfg, nil, nil)
		_, err := d.FillFields(context.Background())
		require.NoError(t, err)
		return d, page
	}

	t.Run("all fields populated", func(t *testing.T) {
		d, _ := setup(t)
		assert.NoError(t, d.ValidateForm(context.Background()))
	})

	t.Run("blank field", func(t *testing.T) {
		d, page := setup(t)
		page.values[2] = ""
		err := d.ValidateForm(context.Background())
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, err.Error(), "CNIC")
	})

	t.Run("whitespace counts as blank", func(t *testing.T) {
		d, page := setup(t)
		page.values[7] = " \t "
		err := d.ValidateForm(context.Background())
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, err.Error(), "Amount Claimed")
	})

	t.Run("unbound entries are not checked", func(t *testing.T) {
		cfg := testConfig(t)
		page := newFakePage().withInputs("", "")
		d := newTestDriver(t, page, cfg, nil, nil)
		_, err := d.FillFields(context.Background())
		require.NoError(t, err)
		assert.NoError(t, d.ValidateForm(context.Background()))
	})
}
