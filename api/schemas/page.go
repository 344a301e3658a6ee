package schemas

import (
	"context"
	"fmt"
	"strings"
)

// Selector describes a set of elements on the driven page.
//
// CSS scopes the candidates. When CSS is empty and Text or Pattern is set, the
// query behaves like a text locator and only the innermost matching elements
// are returned. With CSS set, Text is a case-insensitive substring filter
// unless Exact is true.
type Selector struct {
	CSS        string `json:"css,omitempty"`
	Text       string `json:"text,omitempty"`
	Exact      bool   `json:"exact,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
	IgnoreCase bool   `json:"ignoreCase,omitempty"`
	Visible    bool   `json:"visible,omitempty"`
}

// CSS returns a selector matching the given CSS expression.
func CSS(css string) Selector { return Selector{CSS: css} }

// ExactText returns a text locator matching elements whose normalized text equals text.
func ExactText(text string) Selector { return Selector{Text: text, Exact: true} }

// HasText returns a selector for css elements containing text (case-insensitive).
func HasText(css, text string) Selector { return Selector{CSS: css, Text: text} }

// String renders the selector in a stable form, suitable for logging and map keys.
func (s Selector) String() string {
	var parts []string
	if s.CSS != "" {
		parts = append(parts, "css="+s.CSS)
	}
	if s.Text != "" {
		if s.Exact {
			parts = append(parts, fmt.Sprintf("text=%q", s.Text))
		} else {
			parts = append(parts, "has-text="+s.Text)
		}
	}
	if s.Pattern != "" {
		p := "/" + s.Pattern + "/"
		if s.IgnoreCase {
			p += "i"
		}
		parts = append(parts, "pattern="+p)
	}
	if s.Visible {
		parts = append(parts, "visible")
	}
	return strings.Join(parts, " ")
}

// InputField is a visible, fillable input or textarea discovered on the page.
// Index is the element's position among the visible fillable inputs at the time
// of the query.
type InputField struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Tag   string `json:"tag"`
	Type  string `json:"type"`
}

// ScrollPosition identifies a scroll target for the page.
type ScrollPosition int

const (
	ScrollTop ScrollPosition = iota
	ScrollBottom
)

// ClickOptions tunes a click.
type ClickOptions struct {
	// Force skips visibility/actionability waits and dispatches the click directly.
	Force bool
}

// Page is the browser surface the form driver operates on. The concrete
// implementation is a chromedp tab (internal/browser); tests use an in-memory stub.
type Page interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// URL reports the current location of the top-level document.
	URL(ctx context.Context) (string, error)
	// WaitStable blocks until the document is ready.
	WaitStable(ctx context.Context) error
	Scroll(ctx context.Context, pos ScrollPosition) error

	// Count returns the number of elements matching sel in the top-level document.
	Count(ctx context.Context, sel Selector) (int, error)
	// Click clicks the first element matching sel.
	Click(ctx context.Context, sel Selector, opts ClickOptions) error
	// PressKey dispatches a key press to the focused element ("Enter", "Escape", ...).
	PressKey(ctx context.Context, key string) error
	// Evaluate runs a script in the top-level document, discarding its result.
	Evaluate(ctx context.Context, script string) error

	// Inputs lists the visible fillable inputs, in document order.
	Inputs(ctx context.Context) ([]InputField, error)
	// Fill clicks, clears and types value into field.
	Fill(ctx context.Context, field InputField, value string) error
	// Value reads the current value of field.
	Value(ctx context.Context, field InputField) (string, error)

	// SetInputFiles assigns files to the first file input found. With allFrames
	// the search covers every frame of the page (including out-of-process
	// iframes); otherwise only the top-level document is queried. It reports
	// whether an input was found.
	SetInputFiles(ctx context.Context, files []string, allFrames bool) (bool, error)

	// FrameURLs returns the URLs of every frame attached to the page.
	FrameURLs(ctx context.Context) ([]string, error)
	BringToFront(ctx context.Context) error
	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}
