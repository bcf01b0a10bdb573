package browser

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned for operations submitted after the session's
// protocol queue shut down.
var ErrQueueClosed = errors.New("browser: protocol queue closed")

// execResult carries one queued operation's outcome back to its caller.
type execResult struct {
	value any
	err   error
}

// execReq is one queued protocol operation. The operation receives the
// caller's context so timeouts cancel the in-flight protocol call, not just
// the wait for a queue slot.
type execReq struct {
	ctx  context.Context
	fn   func(ctx context.Context) (any, error)
	done chan execResult
}

// execQueue serializes protocol operations onto a single worker goroutine.
// Concurrent callers (an interpreter step and a telemetry probe install,
// say) queue rather than interleave, which keeps the single protocol
// connection free of request races.
type execQueue struct {
	reqs      chan execReq
	closed    chan struct{}
	closeOnce sync.Once
}

// newExecQueue creates the queue and starts its worker.
func newExecQueue(depth int) *execQueue {
	if depth <= 0 {
		depth = 16
	}
	q := &execQueue{
		reqs:   make(chan execReq, depth),
		closed: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *execQueue) run() {
	for {
		select {
		case <-q.closed:
			// Fail any requests that were already queued.
			for {
				select {
				case req := <-q.reqs:
					req.done <- execResult{err: ErrQueueClosed}
				default:
					return
				}
			}
		case req := <-q.reqs:
			if req.ctx.Err() != nil {
				// Caller gave up while queued; don't issue the call.
				req.done <- execResult{err: req.ctx.Err()}
				continue
			}
			value, err := req.fn(req.ctx)
			req.done <- execResult{value: value, err: err}
		}
	}
}

// do submits fn and blocks until it completes, the context is cancelled, or
// the queue closes. A cancelled wait abandons the result; the worker's send
// into the buffered done channel never blocks.
func (q *execQueue) do(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	req := execReq{ctx: ctx, fn: fn, done: make(chan execResult, 1)}

	select {
	case q.reqs <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closed:
		return nil, ErrQueueClosed
	}

	// The send can win the race against a concurrent close: the request
	// then sits in the buffer with no worker to drain it. Re-checking
	// closed here is deterministic (a closed channel is always ready), so
	// a stranded request fails fast instead of waiting out its timeout.
	select {
	case <-q.closed:
		select {
		case res := <-req.done:
			return res.value, res.err
		default:
			return nil, ErrQueueClosed
		}
	default:
	}

	select {
	case res := <-req.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close shuts the queue down. Queued but unstarted requests fail with
// ErrQueueClosed. Safe to call more than once.
func (q *execQueue) close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
