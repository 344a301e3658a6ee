// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "formpilot", cfg.Logger.ServiceName)
	assert.False(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.KeepOpen)
	assert.True(t, cfg.Form.ClearBeforeFill)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.FormLoad)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.Login)
	assert.Equal(t, 3*time.Minute, cfg.Timeouts.Captcha)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.UploadMax)
	assert.Equal(t, 5, cfg.Retry.UploadAttempts)
	assert.Equal(t, 3, cfg.Retry.SubmitAttempts)
	assert.Equal(t, []string{".png", ".jpg", ".jpeg", ".pdf", ".doc", ".docx"}, cfg.Form.Extensions)
	assert.Equal(t, []string{NotifierConsole, NotifierMarker, NotifierDesktop}, cfg.Notify.Enabled)

	require.Len(t, cfg.Form.Fields, 8)
	assert.Equal(t, "Email", cfg.Form.Fields[0].Name)
	assert.Equal(t, TodayPlaceholder, cfg.Form.Fields[1].Value, "defaults are not finalized")
	assert.Equal(t, "Amount Claimed", cfg.Form.Fields[7].Name)

	assert.NoError(t, cfg.Validate(), "defaults must be valid")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Form Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		noURL := *cfg
		noURL.Form.URL = ""
		err := noURL.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "url is required")

		relative := *cfg
		relative.Form.URL = "forms/d/e/abc"
		err = relative.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an absolute URL")

		badExt := *cfg
		badExt.Form.Extensions = []string{"pdf"}
		err = badExt.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must start with a dot")

		noFields := *cfg
		noFields.Form.Fields = nil
		err = noFields.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fields must contain at least one entry")

		blankName := *cfg
		blankName.Form.Fields = []FieldConfig{{Name: "  ", Value: "x"}}
		err = blankName.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fields[0].name is required")
	})

	t.Run("Timeout Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		zeroLogin := *cfg
		zeroLogin.Timeouts.Login = 0
		err := zeroLogin.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "login must be a positive duration")

		negativeSettle := *cfg
		negativeSettle.Timeouts.Medium = -time.Second
		err = negativeSettle.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "medium must not be negative")

		// With several invalid values the first in declaration order is reported, every time.
		manyNegative := *cfg
		manyNegative.Timeouts.Short = -time.Second
		manyNegative.Timeouts.Long = -time.Second
		manyNegative.Timeouts.Verify = -time.Second
		for i := 0; i < 50; i++ {
			err = manyNegative.Validate()
			require.Error(t, err)
			assert.Equal(t, "timeouts configuration invalid: short must not be negative", err.Error())
		}
	})

	t.Run("Retry Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		noUpload := *cfg
		noUpload.Retry.UploadAttempts = 0
		err := noUpload.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry.upload_attempts must be a positive integer")

		noSubmit := *cfg
		noSubmit.Retry.SubmitAttempts = -1
		err = noSubmit.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry.submit_attempts must be a positive integer")
	})

	t.Run("Notifier Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Notify.Enabled = []string{NotifierConsole, "pager"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown notifier 'pager'")
	})
}

// -- Finalization Tests --

func TestFinalize(t *testing.T) {
	now := time.Date(2024, time.March, 9, 15, 4, 5, 0, time.UTC)

	t.Run("derives paths from the data directory", func(t *testing.T) {
		dataDir := t.TempDir()
		cfg := NewDefaultConfig()
		cfg.Paths.DataDir = dataDir
		cfg.Logger.LogFile = ""

		require.NoError(t, cfg.Finalize(now))
		assert.Equal(t, filepath.Join(dataDir, "screenshots"), cfg.Paths.ScreenshotDir)
		assert.Equal(t, filepath.Join(dataDir, "reports"), cfg.Paths.ReportDir)
		assert.Equal(t, filepath.Join(dataDir, "captcha_alert.txt"), cfg.Paths.AlertFile)
		assert.Equal(t, filepath.Join(dataDir, "browser_data"), cfg.Browser.ProfileDir)
		assert.Equal(t, filepath.Join(dataDir, "automation.log"), cfg.Logger.LogFile)
	})

	t.Run("keeps explicit paths", func(t *testing.T) {
		dataDir := t.TempDir()
		shots := filepath.Join(t.TempDir(), "shots")
		cfg := NewDefaultConfig()
		cfg.Paths.DataDir = dataDir
		cfg.Paths.ScreenshotDir = shots

		require.NoError(t, cfg.Finalize(now))
		assert.Equal(t, shots, cfg.Paths.ScreenshotDir)
	})

	t.Run("expands home relative paths", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		homedir.DisableCache = true
		t.Cleanup(func() { homedir.DisableCache = false })

		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Finalize(now))
		assert.Equal(t, filepath.Join(home, ".formpilot"), cfg.Paths.DataDir)
		assert.Equal(t, filepath.Join(home, "Documents", "upload"), cfg.Form.UploadDir)
	})

	t.Run("expands the today placeholder", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Paths.DataDir = t.TempDir()

		require.NoError(t, cfg.Finalize(now))
		assert.Equal(t, "2024-03-09", cfg.Form.Fields[1].Value)
		assert.Equal(t, "EMP001", cfg.Form.Fields[3].Value)
	})
}

func TestExpandValue(t *testing.T) {
	now := time.Date(2025, time.December, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2025-12-31", ExpandValue("{{today}}", now))
	assert.Equal(t, "on 2025-12-31 and 2025-12-31", ExpandValue("on {{today}} and {{today}}", now))
	assert.Equal(t, "literal", ExpandValue("literal", now))
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("environment overrides", func(t *testing.T) {
		dataDir := t.TempDir()
		t.Setenv("FORMPILOT_FORM_URL", "https://docs.google.com/forms/d/e/test/viewform")
		t.Setenv("FORMPILOT_BROWSER_HEADLESS", "true")
		t.Setenv("FORMPILOT_RETRY_SUBMIT_ATTEMPTS", "7")
		t.Setenv("FORMPILOT_TIMEOUTS_CAPTCHA", "45s")
		t.Setenv("FORMPILOT_PATHS_DATA_DIR", dataDir)

		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "https://docs.google.com/forms/d/e/test/viewform", cfg.Form.URL)
		assert.True(t, cfg.Browser.Headless)
		assert.Equal(t, 7, cfg.Retry.SubmitAttempts)
		assert.Equal(t, 45*time.Second, cfg.Timeouts.Captcha)
		assert.Equal(t, filepath.Join(dataDir, "reports"), cfg.Paths.ReportDir)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("paths.data_dir", t.TempDir())
		v.Set("retry.upload_attempts", 0)

		cfg, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestConfigStructureMapping(t *testing.T) {
	dataDir := t.TempDir()
	yamlConfig := []byte(`
browser:
  headless: true
  keep_open: false
form:
  url: https://docs.google.com/forms/d/e/yaml/viewform
  upload_dir: ` + dataDir + `
  extensions: [".pdf"]
  clear_before_fill: false
  fields:
    - name: Email
      value: someone@example.com
      label: Email address
    - name: Date
      value: "{{today}}"
timeouts:
  login: 90s
notify:
  enabled: [marker]
paths:
  data_dir: ` + dataDir + `
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.True(t, cfg.Browser.Headless)
	assert.False(t, cfg.Browser.KeepOpen)
	assert.False(t, cfg.Form.ClearBeforeFill)
	assert.Equal(t, []string{".pdf"}, cfg.Form.Extensions)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Login)
	assert.Equal(t, []string{NotifierMarker}, cfg.Notify.Enabled)

	require.Len(t, cfg.Form.Fields, 2)
	assert.Equal(t, FieldConfig{Name: "Email", Value: "someone@example.com", Label: "Email address"}, cfg.Form.Fields[0])
	assert.Equal(t, time.Now().Format("2006-01-02"), cfg.Form.Fields[1].Value)
}
