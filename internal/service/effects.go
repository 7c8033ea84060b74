package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	transportTimeout    = 10 * time.Second
	sinkTimeout         = 15 * time.Second
	defaultFetchTimeout = 30 * time.Second
)

type transportCall struct {
	op string
	fn func(ctx context.Context) error
}

// outbox runs transport calls in submission order on its own goroutine so the
// event loop never waits on the chat platform.
type outbox struct {
	mu      sync.Mutex
	pending []transportCall
	wake    chan struct{}
	logger  *slog.Logger
}

func newOutbox(logger *slog.Logger) *outbox {
	return &outbox{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// push queues a call. It never blocks.
func (o *outbox) push(op string, fn func(ctx context.Context) error) {
	o.mu.Lock()
	o.pending = append(o.pending, transportCall{op: op, fn: fn})
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run(ctx context.Context) {
	for {
		o.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		}
	}
}

func (o *outbox) drain(ctx context.Context) {
	for ctx.Err() == nil {
		o.mu.Lock()
		if len(o.pending) == 0 {
			o.mu.Unlock()
			return
		}
		call := o.pending[0]
		o.pending = o.pending[1:]
		o.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, transportTimeout)
		if err := call.fn(callCtx); err != nil {
			// Delivery is best effort
			o.logger.Warn("transport call failed", "op", call.op, "error", err)
		}
		cancel()
	}
}
