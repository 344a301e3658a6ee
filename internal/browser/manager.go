// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
)

const launchTimeout = 60 * time.Second

// Manager owns the Chromium process. The browser runs with a persistent
// profile directory so login state survives between runs.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	sessions    []*Session
}

// NewManager creates a manager; the browser is launched by the first NewSession call.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
	}
}

// chromeFlags translates the configuration into command line switches, keyed
// without the leading dashes. Later entries in the allocator option list win,
// so these override chromedp's defaults.
func chromeFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                 cfg.Headless,
		"enable-automation":        false,
		"disable-dev-shm-usage":    true,
		"disable-blink-features":   "AutomationControlled",
		"no-default-browser-check": true,
		"start-maximized":          !cfg.Headless,
	}
	if cfg.Headless {
		flags["disable-gpu"] = true
	}
	if cfg.NoSandbox {
		flags["no-sandbox"] = true
	}

	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range chromeFlags(m.cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if m.cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(m.cfg.ProfileDir))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	return opts
}

// NewSession launches the browser if needed and attaches a session to a
// page. The first session reuses the tab Chromium opens at startup.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allocCtx == nil {
		if m.cfg.ProfileDir != "" {
			if err := os.MkdirAll(m.cfg.ProfileDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create browser profile directory: %w", err)
			}
		}
		m.logger.Info("Launching browser.",
			zap.Bool("headless", m.cfg.Headless),
			zap.String("profile_dir", m.cfg.ProfileDir))
		// The allocator must outlive ctx's deadline; it is released by Shutdown.
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), m.allocatorOptions()...)
	}

	tabCtx, cancel := chromedp.NewContext(m.allocCtx,
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	startCtx, cancelStart := CombineContext(tabCtx, ctx)
	startCtx, cancelTimeout := context.WithTimeout(startCtx, launchTimeout)
	defer cancelTimeout()
	defer cancelStart()

	// Run with no actions starts the browser and attaches to the page target.
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	session := newSession(tabCtx, cancel, m.logger)
	m.sessions = append(m.sessions, session)
	m.logger.Info("Browser session ready.", zap.String("session_id", session.ID()))
	return session, nil
}

// Shutdown closes every session and terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	allocCancel := m.allocCancel
	m.allocCtx, m.allocCancel = nil, nil
	m.mu.Unlock()

	if allocCancel == nil {
		return nil
	}
	m.logger.Info("Shutting down browser.")

	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			m.logger.Warn("Error closing session.", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		allocCancel()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Browser shutdown complete.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for browser to exit: %w", ctx.Err())
	}
}
