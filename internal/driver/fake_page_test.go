package driver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/artifacts"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/notify"
)

const liveFormURL = "https://docs.google.com/forms/d/e/test-form/viewform"

// fakePage is an in-memory stand-in for a browser tab. Element counts are
// keyed by Selector.String(); dynamic counts and click side effects let a
// test script how the page reacts.
type fakePage struct {
	mu sync.Mutex

	counts   map[string]int
	countFns map[string]func() int
	countErr error

	onClick  map[string]func()
	clickErr map[string]error
	clicks   []string
	forced   []string
	keys     []string
	scrolls  []schemas.ScrollPosition
	scripts  []string

	inputs    []schemas.InputField
	inputsErr error
	values    map[int]string
	fillErr   map[int]error

	url      string
	urls     []string
	navErr   error
	navCalls int

	// fileInput is where the file input lives: "", "main" or "frame".
	fileInput      string
	fileInputAfter int
	setFilesCalls  int
	setFilesErr    error
	setFilesAll    []bool
	attached       []string

	frameURLs   []string
	frontCalls  int
	screenshots int
}

var _ schemas.Page = (*fakePage)(nil)

func newFakePage() *fakePage {
	return &fakePage{
		counts:   map[string]int{},
		countFns: map[string]func() int{},
		onClick:  map[string]func(){},
		clickErr: map[string]error{},
		values:   map[int]string{},
		fillErr:  map[int]error{},
		url:      liveFormURL,
	}
}

// setCount fixes the number of elements matching sel.
func (p *fakePage) setCount(sel schemas.Selector, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.countFns, sel.String())
	p.counts[sel.String()] = n
}

func (p *fakePage) setCountFn(sel schemas.Selector, fn func() int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.countFns[sel.String()] = fn
}

func (p *fakePage) countOf(sel schemas.Selector) int {
	if fn, ok := p.countFns[sel.String()]; ok {
		return fn()
	}
	return p.counts[sel.String()]
}

// withInputs adds n visible text inputs labeled after labels (or "Field i").
func (p *fakePage) withInputs(labels ...string) *fakePage {
	p.inputs = nil
	for i, label := range labels {
		p.inputs = append(p.inputs, schemas.InputField{Index: i, Label: label, Tag: "input", Type: "text"})
	}
	return p
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navCalls++
	if p.navErr != nil {
		return p.navErr
	}
	if len(p.urls) == 0 {
		p.url = url
	}
	return nil
}

// URL walks through urls, one per call, then keeps returning the last.
func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(p.urls) > 0 {
		p.url = p.urls[0]
		if len(p.urls) > 1 {
			p.urls = p.urls[1:]
		}
	}
	return p.url, nil
}

func (p *fakePage) WaitStable(ctx context.Context) error { return ctx.Err() }

func (p *fakePage) Scroll(_ context.Context, pos schemas.ScrollPosition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls = append(p.scrolls, pos)
	return nil
}

func (p *fakePage) Count(ctx context.Context, sel schemas.Selector) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.countErr != nil {
		return 0, p.countErr
	}
	return p.countOf(sel), nil
}

func (p *fakePage) Click(_ context.Context, sel schemas.Selector, opts schemas.ClickOptions) error {
	p.mu.Lock()
	key := sel.String()
	if err := p.clickErr[key]; err != nil {
		p.mu.Unlock()
		return err
	}
	if p.countOf(sel) == 0 {
		p.mu.Unlock()
		return fmt.Errorf("element not found: %s", key)
	}
	p.clicks = append(p.clicks, key)
	if opts.Force {
		p.forced = append(p.forced, key)
	}
	hook := p.onClick[key]
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (p *fakePage) PressKey(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakePage) Evaluate(_ context.Context, script string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	return nil
}

func (p *fakePage) Inputs(context.Context) ([]schemas.InputField, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inputsErr != nil {
		return nil, p.inputsErr
	}
	return append([]schemas.InputField(nil), p.inputs...), nil
}

func (p *fakePage) Fill(_ context.Context, field schemas.InputField, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fillErr[field.Index]; err != nil {
		return err
	}
	p.values[field.Index] = value
	return nil
}

func (p *fakePage) Value(_ context.Context, field schemas.InputField) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[field.Index], nil
}

func (p *fakePage) SetInputFiles(_ context.Context, files []string, allFrames bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setFilesCalls++
	p.setFilesAll = append(p.setFilesAll, allFrames)
	if p.setFilesErr != nil {
		return false, p.setFilesErr
	}
	if p.setFilesCalls <= p.fileInputAfter {
		return false, nil
	}
	switch {
	case p.fileInput == "main", p.fileInput == "frame" && allFrames:
		p.attached = append([]string(nil), files...)
		return true, nil
	}
	return false, nil
}

func (p *fakePage) FrameURLs(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{p.url}, p.frameURLs...), nil
}

func (p *fakePage) BringToFront(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frontCalls++
	return nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshots++
	return []byte("\x89PNG"), nil
}

func (p *fakePage) clicked(sel schemas.Selector) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.clicks {
		if c == sel.String() {
			n++
		}
	}
	return n
}

// staticFiles is a FileSource with a fixed result.
type staticFiles []string

func (s staticFiles) Find() []string { return append([]string{}, s...) }

// recordingNotifier counts notifications.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (r *recordingNotifier) Notify(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, title+": "+message)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

var errBoom = errors.New("boom")

// testConfig returns the default configuration with every wait shrunk to
// milliseconds and artifacts under a temporary directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Form.URL = liveFormURL
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.ScreenshotDir = filepath.Join(cfg.Paths.DataDir, "screenshots")
	cfg.Paths.ReportDir = filepath.Join(cfg.Paths.DataDir, "reports")
	for i := range cfg.Form.Fields {
		cfg.Form.Fields[i].Value = config.ExpandValue(cfg.Form.Fields[i].Value, time.Now())
	}
	cfg.Timeouts = config.TimeoutConfig{
		FormLoad:    time.Second,
		Element:     50 * time.Millisecond,
		Login:       300 * time.Millisecond,
		LoginPoll:   5 * time.Millisecond,
		LoginStatus: 20 * time.Millisecond,
		Captcha:     300 * time.Millisecond,
		CaptchaPoll: 5 * time.Millisecond,
		UploadMax:   150 * time.Millisecond,
		UploadPoll:  5 * time.Millisecond,
		UploadRetry: time.Millisecond,
		Short:       time.Millisecond,
		Medium:      time.Millisecond,
		Long:        time.Millisecond,
		PreSubmit:   time.Millisecond,
		Verify:      time.Millisecond,
	}
	cfg.Retry = config.RetryConfig{UploadAttempts: 3, SubmitAttempts: 2, VerifyChecks: 2}
	return cfg
}

func newTestDriver(t *testing.T, page *fakePage, cfg *config.Config, files FileSource, notifier notify.Notifier) *Driver {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := artifacts.NewStore(cfg.Paths.ScreenshotDir, cfg.Paths.ReportDir, logger)
	if files == nil {
		files = staticFiles{}
	}
	return New(page, cfg, files, notifier, store, logger)
}
