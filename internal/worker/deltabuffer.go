package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sidecarhq/agentctl/internal/store"
)

const deltaFlushInterval = 1200 * time.Millisecond

// deltaFlusher batches onTextDelta callbacks into agent_text_delta events on
// a fixed interval (§4.4), guaranteeing at most one flush in flight at a
// time. Buffered text not yet flushed when the attempt ends is flushed
// synchronously by stop.
type deltaFlusher struct {
	mu      sync.Mutex
	sb      strings.Builder
	flushed strings.Builder // everything ever flushed, for the fallback-safe final text

	flushing bool

	post func(string) error

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newDeltaFlusher(post func(string) error) *deltaFlusher {
	return &deltaFlusher{post: post}
}

// add appends s to the pending buffer.
func (f *deltaFlusher) add(s string) {
	f.mu.Lock()
	f.sb.WriteString(s)
	f.mu.Unlock()
}

// allText returns every delta ever seen, flushed or not: the termination
// contract's "buffered text" fallback (§4.4 step 4) needs the full
// accumulation, not just what has been posted so far.
func (f *deltaFlusher) allText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed.String() + f.sb.String()
}

// start runs the periodic flush loop until ctx is done or stop is called.
func (f *deltaFlusher) start(ctx context.Context) {
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	go func() {
		defer close(f.doneCh)
		ticker := time.NewTicker(deltaFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.flush()
			case <-f.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// stop halts the periodic loop and performs one last flush of any remaining
// buffered text.
func (f *deltaFlusher) stop() {
	f.stopOnce.Do(func() {
		if f.stopCh != nil {
			close(f.stopCh)
			<-f.doneCh
		}
	})
	f.flush()
}

// flush is idempotent under concurrent calls: if a flush is already in
// flight, a concurrent call is a no-op (§4.4 "idempotent: no concurrent
// flush allowed").
func (f *deltaFlusher) flush() {
	f.mu.Lock()
	if f.flushing || f.sb.Len() == 0 {
		f.mu.Unlock()
		return
	}
	f.flushing = true
	pending := f.sb.String()
	f.sb.Reset()
	f.mu.Unlock()

	if f.post != nil {
		_ = f.post(pending)
	}

	f.mu.Lock()
	f.flushed.WriteString(pending)
	f.flushing = false
	f.mu.Unlock()
}

func textDeltaEvent(text string) store.JobEvent {
	return store.JobEvent{Type: store.EventAgentTextDelta, Data: map[string]any{"delta": text}}
}

func logEvent(message string) store.JobEvent {
	return store.JobEvent{Type: store.EventLog, Message: &message}
}
