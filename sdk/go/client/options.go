package client

import (
	"fmt"
	"time"

	"github.com/zeusync/worldlink/internal/core/protocol"
)

// CallOption adjusts one World call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout    time.Duration
	timeoutSet bool
	filter     *protocol.ListFilter
}

// WithTimeout bounds how long the call waits for its reply. It must be at least one
// millisecond; the call fails with ErrInvalidTimeout before sending anything otherwise.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// WithTimeoutMillis is WithTimeout for a timeout given in milliseconds.
func WithTimeoutMillis(ms int64) CallOption {
	return WithTimeout(time.Duration(ms) * time.Millisecond)
}

// WithFilter narrows List. It is ignored by other calls.
func WithFilter(f ListFilter) CallOption {
	return func(o *callOptions) { o.filter = &f }
}

func (w *World) callOptions(opts []CallOption) (callOptions, error) {
	o := callOptions{timeout: w.cfg.DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeoutSet && o.timeout < time.Millisecond {
		return o, fmt.Errorf("%w: %s", ErrInvalidTimeout, o.timeout)
	}
	return o, nil
}
