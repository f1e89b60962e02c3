package agent

import (
	"sync"
	"sync/atomic"
)

// CancelToken is the shared cancellation flag for one run. It is
// cooperative: the controller checks it at every suspension point and
// stops entering new work once it is set, but already-issued model
// requests and in-flight tool calls are allowed to settle.
//
// A token is safe for concurrent use and may be cancelled from any
// goroutine.
type CancelToken struct {
	flag atomic.Bool
	once sync.Once
	done chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the flag. Subsequent calls are no-ops.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.flag.Store(true)
	t.once.Do(func() { close(t.done) })
}

func (t *CancelToken) IsCancelled() bool {
	return t != nil && t.flag.Load()
}

// Done returns a channel closed on cancellation, for use in select
// across suspension points.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}
