// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides (FORMPILOT_FORM_URL, ...).
const EnvPrefix = "FORMPILOT"

// TodayPlaceholder in a field value is replaced by the current date (YYYY-MM-DD) at load time.
const TodayPlaceholder = "{{today}}"

// Supported notifier names for notify.enabled.
const (
	NotifierConsole = "console"
	NotifierMarker  = "marker"
	NotifierDesktop = "desktop"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Form     FormConfig    `mapstructure:"form" yaml:"form"`
	Timeouts TimeoutConfig `mapstructure:"timeouts" yaml:"timeouts"`
	Retry    RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Notify   NotifyConfig  `mapstructure:"notify" yaml:"notify"`
	Paths    PathsConfig   `mapstructure:"paths" yaml:"paths"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the Chromium instance driven by the session.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ProfileDir persists cookies and login state across runs. Defaults to <data_dir>/browser_data.
	ProfileDir string `mapstructure:"profile_dir" yaml:"profile_dir"`
	// KeepOpen leaves the browser running after the workflow until the process is interrupted.
	KeepOpen  bool     `mapstructure:"keep_open" yaml:"keep_open"`
	NoSandbox bool     `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	ExecPath  string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args      []string `mapstructure:"args" yaml:"args"`
}

// FieldConfig is one entry of the field manifest.
type FieldConfig struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Value string `mapstructure:"value" yaml:"value"`
	// Label, when set, binds the entry to the input whose question title or
	// accessible label matches it. Entries without a label (or whose label is
	// not found) bind by position.
	Label string `mapstructure:"label" yaml:"label,omitempty"`
}

// FormConfig describes the form being driven and the values entered into it.
type FormConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	UploadDir        string        `mapstructure:"upload_dir" yaml:"upload_dir"`
	Extensions       []string      `mapstructure:"extensions" yaml:"extensions"`
	Ignore           []string      `mapstructure:"ignore" yaml:"ignore"`
	Fields           []FieldConfig `mapstructure:"fields" yaml:"fields"`
	ClearBeforeFill  bool          `mapstructure:"clear_before_fill" yaml:"clear_before_fill"`
	OverlaySelectors []string      `mapstructure:"overlay_selectors" yaml:"overlay_selectors"`
	SuccessMessages  []string      `mapstructure:"success_messages" yaml:"success_messages"`
}

// TimeoutConfig holds every bounded wait of the workflow.
type TimeoutConfig struct {
	FormLoad    time.Duration `mapstructure:"form_load" yaml:"form_load"`
	Element     time.Duration `mapstructure:"element" yaml:"element"`
	Login       time.Duration `mapstructure:"login" yaml:"login"`
	LoginPoll   time.Duration `mapstructure:"login_poll" yaml:"login_poll"`
	LoginStatus time.Duration `mapstructure:"login_status" yaml:"login_status"`
	Captcha     time.Duration `mapstructure:"captcha" yaml:"captcha"`
	CaptchaPoll time.Duration `mapstructure:"captcha_poll" yaml:"captcha_poll"`
	UploadMax   time.Duration `mapstructure:"upload_max" yaml:"upload_max"`
	UploadPoll  time.Duration `mapstructure:"upload_poll" yaml:"upload_poll"`
	UploadRetry time.Duration `mapstructure:"upload_retry" yaml:"upload_retry"`
	// Short, Medium and Long are the settle pauses between UI steps.
	Short     time.Duration `mapstructure:"short" yaml:"short"`
	Medium    time.Duration `mapstructure:"medium" yaml:"medium"`
	Long      time.Duration `mapstructure:"long" yaml:"long"`
	PreSubmit time.Duration `mapstructure:"pre_submit" yaml:"pre_submit"`
	Verify    time.Duration `mapstructure:"verify" yaml:"verify"`
}

// RetryConfig bounds the retried stages.
type RetryConfig struct {
	UploadAttempts int `mapstructure:"upload_attempts" yaml:"upload_attempts"`
	SubmitAttempts int `mapstructure:"submit_attempts" yaml:"submit_attempts"`
	VerifyChecks   int `mapstructure:"verify_checks" yaml:"verify_checks"`
}

// NotifyConfig selects the notifiers used when human action is required.
type NotifyConfig struct {
	Enabled []string `mapstructure:"enabled" yaml:"enabled"`
	Title   string   `mapstructure:"title" yaml:"title"`
}

// PathsConfig locates the on-disk artifacts. Empty entries derive from DataDir.
type PathsConfig struct {
	DataDir       string `mapstructure:"data_dir" yaml:"data_dir"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	ReportDir     string `mapstructure:"report_dir" yaml:"report_dir"`
	AlertFile     string `mapstructure:"alert_file" yaml:"alert_file"`
}

// DefaultFields is the manifest used when the configuration does not provide one.
var DefaultFields = []FieldConfig{
	{Name: "Email", Value: "user@example.com"},
	{Name: "Date", Value: TodayPlaceholder},
	{Name: "CNIC", Value: "12345-1234567-1"},
	{Name: "Employee ID", Value: "EMP001"},
	{Name: "Name", Value: "Jane Doe"},
	{Name: "Grade", Value: "Senior Developer"},
	{Name: "Assigned Limit", Value: "50"},
	{Name: "Amount Claimed", Value: "2500"},
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.keep_open", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})

	// -- Form --
	v.SetDefault("form.url", "https://docs.google.com/forms/d/e/1FAIpQLSeHFwvq3NzKk9pvVl8CC5Lv8i5q7riXT2Uqcbq-oYyv85uSPQ/viewform")
	v.SetDefault("form.upload_dir", "~/Documents/upload")
	v.SetDefault("form.extensions", []string{".png", ".jpg", ".jpeg", ".pdf", ".doc", ".docx"})
	v.SetDefault("form.ignore", []string{"~$*", ".*"})
	v.SetDefault("form.fields", fieldsToMaps(DefaultFields))
	v.SetDefault("form.clear_before_fill", true)
	v.SetDefault("form.overlay_selectors", []string{`div[class*="fFW7wc"]`, `div[class*="XKSfm"]`})
	v.SetDefault("form.success_messages", []string{
		"Your response has been recorded",
		"Response recorded",
		"Thank you for your response",
		"Form submitted successfully",
	})

	// -- Timeouts --
	v.SetDefault("timeouts.form_load", "60s")
	v.SetDefault("timeouts.element", "10s")
	v.SetDefault("timeouts.login", "5m")
	v.SetDefault("timeouts.login_poll", "2s")
	v.SetDefault("timeouts.login_status", "30s")
	v.SetDefault("timeouts.captcha", "3m")
	v.SetDefault("timeouts.captcha_poll", "2s")
	v.SetDefault("timeouts.upload_max", "30s")
	v.SetDefault("timeouts.upload_poll", "1s")
	v.SetDefault("timeouts.upload_retry", "2s")
	v.SetDefault("timeouts.short", "1s")
	v.SetDefault("timeouts.medium", "2s")
	v.SetDefault("timeouts.long", "5s")
	v.SetDefault("timeouts.pre_submit", "5s")
	v.SetDefault("timeouts.verify", "2s")

	// -- Retry --
	v.SetDefault("retry.upload_attempts", 5)
	v.SetDefault("retry.submit_attempts", 3)
	v.SetDefault("retry.verify_checks", 3)

	// -- Notify --
	v.SetDefault("notify.enabled", []string{NotifierConsole, NotifierMarker, NotifierDesktop})
	v.SetDefault("notify.title", "Action Required: Solve CAPTCHA")

	// -- Paths --
	v.SetDefault("paths.data_dir", "~/.formpilot")
	v.SetDefault("paths.screenshot_dir", "")
	v.SetDefault("paths.report_dir", "")
	v.SetDefault("paths.alert_file", "")
}

func fieldsToMaps(fields []FieldConfig) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(fields))
	for _, f := range fields {
		m := map[string]interface{}{"name": f.Name, "value": f.Value}
		if f.Label != "" {
			m["label"] = f.Label
		}
		out = append(out, m)
	}
	return out
}

// NewConfigFromViper creates a finalized, validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Finalize(time.Now()); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Finalize expands home-relative paths, derives the artifact locations from
// the data directory and resolves value placeholders against now.
func (c *Config) Finalize(now time.Time) error {
	var err error
	expand := func(p *string) {
		if err != nil || *p == "" {
			return
		}
		var expanded string
		expanded, err = homedir.Expand(*p)
		if err != nil {
			err = fmt.Errorf("could not resolve path '%s': %w", *p, err)
			return
		}
		*p = expanded
	}

	expand(&c.Paths.DataDir)
	expand(&c.Paths.ScreenshotDir)
	expand(&c.Paths.ReportDir)
	expand(&c.Paths.AlertFile)
	expand(&c.Browser.ProfileDir)
	expand(&c.Form.UploadDir)
	expand(&c.Logger.LogFile)
	if err != nil {
		return err
	}

	if c.Paths.DataDir != "" {
		derive := func(p *string, name string) {
			if *p == "" {
				*p = filepath.Join(c.Paths.DataDir, name)
			}
		}
		derive(&c.Paths.ScreenshotDir, "screenshots")
		derive(&c.Paths.ReportDir, "reports")
		derive(&c.Paths.AlertFile, "captcha_alert.txt")
		derive(&c.Browser.ProfileDir, "browser_data")
		derive(&c.Logger.LogFile, "automation.log")
	}

	for i := range c.Form.Fields {
		c.Form.Fields[i].Value = ExpandValue(c.Form.Fields[i].Value, now)
	}
	return nil
}

// ExpandValue replaces the supported placeholders in a field value.
func ExpandValue(value string, now time.Time) string {
	return strings.ReplaceAll(value, TodayPlaceholder, now.Format("2006-01-02"))
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Form.Validate(); err != nil {
		return fmt.Errorf("form configuration invalid: %w", err)
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("timeouts configuration invalid: %w", err)
	}
	if c.Retry.UploadAttempts <= 0 {
		return errors.New("retry.upload_attempts must be a positive integer")
	}
	if c.Retry.SubmitAttempts <= 0 {
		return errors.New("retry.submit_attempts must be a positive integer")
	}
	if c.Retry.VerifyChecks < 0 {
		return errors.New("retry.verify_checks must not be negative")
	}
	for _, name := range c.Notify.Enabled {
		switch name {
		case NotifierConsole, NotifierMarker, NotifierDesktop:
		default:
			return fmt.Errorf("notify.enabled: unknown notifier '%s'", name)
		}
	}
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir is required")
	}
	return nil
}

// Validate checks the form section.
func (f *FormConfig) Validate() error {
	if f.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(f.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url '%s' is not an absolute URL", f.URL)
	}
	if f.UploadDir == "" {
		return errors.New("upload_dir is required")
	}
	if len(f.Extensions) == 0 {
		return errors.New("extensions must list at least one extension")
	}
	for _, ext := range f.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("extension '%s' must start with a dot", ext)
		}
	}
	if len(f.Fields) == 0 {
		return errors.New("fields must contain at least one entry")
	}
	for i, field := range f.Fields {
		if strings.TrimSpace(field.Name) == "" {
			return fmt.Errorf("fields[%d].name is required", i)
		}
	}
	return nil
}

// Validate ensures every wait has a usable bound.
func (t *TimeoutConfig) Validate() error {
	type bound struct {
		key string
		d   time.Duration
	}
	for _, b := range []bound{
		{"form_load", t.FormLoad}, {"element", t.Element}, {"login", t.Login},
		{"login_poll", t.LoginPoll}, {"captcha", t.Captcha}, {"captcha_poll", t.CaptchaPoll},
		{"upload_max", t.UploadMax}, {"upload_poll", t.UploadPoll},
	} {
		if b.d <= 0 {
			return fmt.Errorf("%s must be a positive duration", b.key)
		}
	}
	for _, b := range []bound{
		{"login_status", t.LoginStatus}, {"upload_retry", t.UploadRetry}, {"short", t.Short},
		{"medium", t.Medium}, {"long", t.Long}, {"pre_submit", t.PreSubmit}, {"verify", t.Verify},
	} {
		if b.d < 0 {
			return fmt.Errorf("%s must not be negative", b.key)
		}
	}
	return nil
}
