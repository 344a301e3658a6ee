// internal/browser/session.go
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

//go:embed js/probe.js
var probeScript string

// probeSource is the probe as a bare expression.
var probeSource = strings.TrimSuffix(strings.TrimSpace(probeScript), ";")

const (
	targetAttr     = "data-formpilot-target"
	fieldAttr      = "data-formpilot-field"
	fileInputQuery = `input[type="file"]`
)

// ErrElementNotFound is returned when a selector matches nothing.
var ErrElementNotFound = errors.New("element not found")

// Session is one browser tab driven over the DevTools protocol.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu sync.Mutex
	// frames holds contexts attached to out-of-process iframe targets, by target ID.
	frames map[target.ID]frameContext
	closed bool
}

type frameContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var _ schemas.Page = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		frames: make(map[target.ID]frameContext),
	}
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// Close detaches from any iframe targets and cancels the tab context.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	frames := s.frames
	s.frames = nil
	s.mu.Unlock()

	for _, f := range frames {
		f.cancel()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Debug("Browser session closed.")
	return nil
}

// runActions executes actions bounded by both the tab lifetime and ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	return runIn(s.ctx, ctx, actions...)
}

func runIn(tabCtx, ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// probe calls a method of the embedded DOM helper, decoding its JSON result into res.
func (s *Session) probe(ctx context.Context, res interface{}, method string, args ...interface{}) error {
	encoded := make([]string, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return fmt.Errorf("failed to encode argument for %s: %w", method, err)
		}
		encoded[i] = string(b)
	}
	expr := fmt.Sprintf("(%s).%s(%s)", probeSource, method, strings.Join(encoded, ", "))

	var raw []byte
	if err := s.runActions(ctx, chromedp.Evaluate(expr, &raw)); err != nil {
		return fmt.Errorf("probe %s failed: %w", method, err)
	}
	if res == nil {
		return nil
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("failed to decode probe %s result: %w", method, err)
	}
	return nil
}

// -- Navigation --

// Navigate loads url in the tab and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.runActions(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// URL returns the location of the top-level document.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.runActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// WaitStable waits for the body to be ready and the document to finish loading.
func (s *Session) WaitStable(ctx context.Context) error {
	var complete bool
	return s.runActions(ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Poll(`document.readyState === "complete"`, &complete),
	)
}

// Scroll moves the viewport to the top or the bottom of the document.
func (s *Session) Scroll(ctx context.Context, pos schemas.ScrollPosition) error {
	where := "top"
	if pos == schemas.ScrollBottom {
		where = "bottom"
	}
	return s.probe(ctx, nil, "scroll", where)
}

// BringToFront activates the tab and raises the browser window.
func (s *Session) BringToFront(ctx context.Context) error {
	return s.runActions(ctx, page.BringToFront())
}

// Screenshot captures the visible viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.runActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Evaluate runs script in the top-level document and discards the result.
func (s *Session) Evaluate(ctx context.Context, script string) error {
	return s.runActions(ctx, chromedp.Evaluate(script, nil))
}

// -- Element interaction --

// Count returns how many elements in the top-level document match sel.
func (s *Session) Count(ctx context.Context, sel schemas.Selector) (int, error) {
	var n int
	if err := s.probe(ctx, &n, "count", sel); err != nil {
		return 0, err
	}
	return n, nil
}

// Click clicks the first element matching sel. A forced click dispatches a
// mouse click at the element's position without waiting for it to become
// visible, falling back to a DOM click.
func (s *Session) Click(ctx context.Context, sel schemas.Selector, opts schemas.ClickOptions) error {
	token := uuid.New().String()
	var marked bool
	if err := s.probe(ctx, &marked, "mark", sel, token); err != nil {
		return err
	}
	if !marked {
		return fmt.Errorf("%w: %s", ErrElementNotFound, sel)
	}
	query := fmt.Sprintf(`[%s="%s"]`, targetAttr, token)

	if !opts.Force {
		return s.runActions(ctx, chromedp.Click(query, chromedp.ByQuery, chromedp.NodeVisible))
	}

	var nodes []*cdp.Node
	err := s.runActions(ctx,
		chromedp.Nodes(query, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)),
	)
	if err == nil && len(nodes) > 0 {
		if err = s.runActions(ctx, chromedp.MouseClickNode(nodes[0])); err == nil {
			return nil
		}
	}
	s.logger.Debug("Mouse click failed; falling back to DOM click.", zap.String("selector", sel.String()), zap.Error(err))

	var clicked bool
	if err := s.probe(ctx, &clicked, "click", sel); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%w: %s", ErrElementNotFound, sel)
	}
	return nil
}

// PressKey sends a key press to the focused element. Named keys such as
// "Enter" and "Escape" are translated to their key codes.
func (s *Session) PressKey(ctx context.Context, key string) error {
	var k string
	switch key {
	case "Enter":
		k = kb.Enter
	case "Escape":
		k = kb.Escape
	case "Tab":
		k = kb.Tab
	default:
		k = key
	}
	return s.runActions(ctx, chromedp.KeyEvent(k))
}

// -- Form fields --

// Inputs lists the visible fillable fields and tags each with its index so
// later calls can address it.
func (s *Session) Inputs(ctx context.Context) ([]schemas.InputField, error) {
	var fields []schemas.InputField
	if err := s.probe(ctx, &fields, "inputs"); err != nil {
		return nil, err
	}
	return fields, nil
}

func fieldQuery(field schemas.InputField) string {
	return fmt.Sprintf(`[%s="%d"]`, fieldAttr, field.Index)
}

// Fill types value into field. Date and time inputs do not accept typed text
// reliably, so their value is assigned directly.
func (s *Session) Fill(ctx context.Context, field schemas.InputField, value string) error {
	switch field.Type {
	case "date", "time", "datetime-local", "month", "week":
		var ok bool
		if err := s.probe(ctx, &ok, "setValue", field.Index, value); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: field %d", ErrElementNotFound, field.Index)
		}
		return nil
	}

	query := fieldQuery(field)
	return s.runActions(ctx,
		chromedp.Click(query, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Clear(query, chromedp.ByQuery),
		chromedp.SendKeys(query, value, chromedp.ByQuery),
	)
}

// Value reads the current value of field.
func (s *Session) Value(ctx context.Context, field schemas.InputField) (string, error) {
	var res struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := s.probe(ctx, &res, "value", field.Index); err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("%w: field %d", ErrElementNotFound, field.Index)
	}
	return res.Value, nil
}

// -- Files and frames --

// SetInputFiles assigns files to the first file input found. The top-level
// document is searched first; with allFrames the search continues into
// same-origin iframes and then into out-of-process iframe targets.
func (s *Session) SetInputFiles(ctx context.Context, files []string, allFrames bool) (bool, error) {
	ok, err := assignFiles(ctx, s.ctx, files)
	if err != nil || ok || !allFrames {
		return ok, err
	}

	var iframes []*cdp.Node
	if err := s.runActions(ctx, chromedp.Nodes("iframe", &iframes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return false, fmt.Errorf("failed to list iframes: %w", err)
	}
	for _, frame := range iframes {
		ok, err := assignFiles(ctx, s.ctx, files, chromedp.FromNode(frame))
		if err != nil {
			// Cross-origin frames have no accessible content document here.
			s.logger.Debug("Could not search iframe.", zap.String("src", frame.AttributeValue("src")), zap.Error(err))
			continue
		}
		if ok {
			return true, nil
		}
	}

	frameCtxs, err := s.iframeTargets(ctx)
	if err != nil {
		return false, err
	}
	for _, fc := range frameCtxs {
		ok, err := assignFiles(ctx, fc, files)
		if err != nil {
			s.logger.Debug("Could not search iframe target.", zap.Error(err))
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func assignFiles(ctx, tabCtx context.Context, files []string, opts ...chromedp.QueryOption) (bool, error) {
	var nodes []*cdp.Node
	queryOpts := append([]chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}, opts...)
	if err := runIn(tabCtx, ctx, chromedp.Nodes(fileInputQuery, &nodes, queryOpts...)); err != nil {
		return false, err
	}
	if len(nodes) == 0 {
		return false, nil
	}
	err := runIn(tabCtx, ctx, chromedp.ActionFunc(func(c context.Context) error {
		return dom.SetFileInputFiles(files).WithBackendNodeID(nodes[0].BackendNodeID).Do(c)
	}))
	if err != nil {
		return false, fmt.Errorf("failed to set input files: %w", err)
	}
	return true, nil
}

// iframeTargets attaches to every out-of-process iframe of the browser and
// returns their contexts. Attachments are cached until Close.
func (s *Session) iframeTargets(ctx context.Context) ([]context.Context, error) {
	infos, err := s.targets(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("session closed")
	}
	var out []context.Context
	for _, info := range infos {
		if info.Type != "iframe" {
			continue
		}
		fc, ok := s.frames[info.TargetID]
		if !ok {
			fctx, cancel := chromedp.NewContext(s.ctx, chromedp.WithTargetID(info.TargetID))
			fc = frameContext{ctx: fctx, cancel: cancel}
			s.frames[info.TargetID] = fc
		}
		out = append(out, fc.ctx)
	}
	return out, nil
}

func (s *Session) targets(ctx context.Context) ([]*target.Info, error) {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	return infos, nil
}

// FrameURLs returns the URL of every frame in the page's frame tree plus
// those of out-of-process iframe targets.
func (s *Session) FrameURLs(ctx context.Context) ([]string, error) {
	var tree *page.FrameTree
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read frame tree: %w", err)
	}

	var urls []string
	var walk func(t *page.FrameTree)
	walk = func(t *page.FrameTree) {
		if t == nil {
			return
		}
		if t.Frame != nil {
			urls = append(urls, t.Frame.URL)
		}
		for _, child := range t.ChildFrames {
			walk(child)
		}
	}
	walk(tree)

	infos, err := s.targets(ctx)
	if err != nil {
		s.logger.Debug("Could not list iframe targets.", zap.Error(err))
		return urls, nil
	}
	for _, info := range infos {
		if info.Type == "iframe" {
			urls = append(urls, info.URL)
		}
	}
	return urls, nil
}
