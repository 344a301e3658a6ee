// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext derives a context from primary, which carries the chromedp
// target, that is also cancelled when secondary is done. When secondary has
// an earlier deadline the combined context reports it, so deadline-aware
// waits see the caller's bound.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	if deadline, ok := secondary.Deadline(); ok {
		if current, has := combined.Deadline(); !has || deadline.Before(current) {
			var cancelDeadline context.CancelFunc
			combined, cancelDeadline = context.WithDeadline(combined, deadline)
			parentCancel := cancel
			cancel = func() {
				cancelDeadline()
				parentCancel()
			}
		}
	}

	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
