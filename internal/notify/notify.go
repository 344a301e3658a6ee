// Package notify raises user-facing alerts when the run needs a human, for
// example to solve a CAPTCHA in the open browser window.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// Notifier delivers one alert.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Console logs the alert at WARN level.
type Console struct {
	logger *zap.Logger
}

// NewConsole returns a notifier that writes alerts to logger.
func NewConsole(logger *zap.Logger) *Console {
	return &Console{logger: logger.Named("notify")}
}

// Notify logs message with title attached.
func (c *Console) Notify(_ context.Context, title, message string) error {
	c.logger.Warn(message, zap.String("title", title))
	return nil
}

// Marker appends "<RFC3339 timestamp> - <message>" lines to a file that
// external tooling can watch.
type Marker struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewMarker returns a notifier appending to the file at path, creating its
// directory on first use.
func NewMarker(path string) *Marker {
	return &Marker{path: path, now: time.Now}
}

// Notify appends one timestamped line. Concurrent calls are serialized.
func (m *Marker) Notify(_ context.Context, _ string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open marker file: %w", err)
	}
	line := fmt.Sprintf("%s - %s\n", m.now().Format(time.RFC3339), message)
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to write marker file: %w", err)
	}
	return f.Close()
}

// Desktop raises a native desktop notification (libnotify/D-Bus on Linux,
// Notification Center on macOS, toast on Windows).
type Desktop struct {
	send   func(title, message string) error
	logger *zap.Logger
}

// NewDesktop returns a notifier that shows alerts through the OS notification service.
func NewDesktop(logger *zap.Logger) *Desktop {
	return &Desktop{
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		logger: logger.Named("notify"),
	}
}

// Notify shows the alert. A desktop without a notification service yields
// an error the caller logs; the run is not affected.
func (d *Desktop) Notify(_ context.Context, title, message string) error {
	if err := d.send(title, message); err != nil {
		return fmt.Errorf("failed to show desktop notification: %w", err)
	}
	d.logger.Debug("Desktop notification shown.", zap.String("title", title))
	return nil
}

// Multi fans an alert out to every notifier concurrently. All notifiers are
// attempted; their errors are joined.
type Multi []Notifier

// Notify delivers the alert through every notifier and waits for all of them.
func (m Multi) Notify(ctx context.Context, title, message string) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, n := range m {
		i, n := i, n
		g.Go(func() error {
			errs[i] = n.Notify(ctx, title, message)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// FromConfig builds the notifiers named in cfg.Enabled, in order.
func FromConfig(cfg config.NotifyConfig, alertFile string, logger *zap.Logger) (Multi, error) {
	var m Multi
	for _, name := range cfg.Enabled {
		switch name {
		case config.NotifierConsole:
			m = append(m, NewConsole(logger))
		case config.NotifierMarker:
			m = append(m, NewMarker(alertFile))
		case config.NotifierDesktop:
			m = append(m, NewDesktop(logger))
		default:
			return nil, fmt.Errorf("unknown notifier '%s'", name)
		}
	}
	return m, nil
}
