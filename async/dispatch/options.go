package dispatch

import "time"

// CallOption configures a single call
type CallOption func(*callOptions)

type callOptions struct {
	callback       func(value any)
	timeout        time.Duration
	defaultTimeout bool
}

// WithCallback registers fn to receive the call's value. fn runs on the
// dispatcher's response goroutine after the future settled, and also for
// answers that arrive after the call timed out. If the dispatcher is disposed
// with the call still queued fn receives nil. fn must not block.
func WithCallback(fn func(value any)) CallOption {
	return func(o *callOptions) {
		o.callback = fn
	}
}

// WithTimeout settles the future with common.ErrTimeout if no answer arrived
// within d
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
		o.defaultTimeout = false
	}
}

// WithDefaultTimeout applies the dispatcher's configured call timeout
func WithDefaultTimeout() CallOption {
	return func(o *callOptions) {
		o.defaultTimeout = true
	}
}
