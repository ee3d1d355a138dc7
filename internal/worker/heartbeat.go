package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sidecarhq/agentctl/internal/rpcsession"
)

// heartbeat polls the worker heartbeat endpoint on a fixed interval for the
// duration of one attempt, requesting session.Abort() the first time it
// observes abortRequested (§4.4 step 2).
type heartbeat struct {
	client   OrchClient
	interval time.Duration
	jobID    string
	session  rpcsession.Session

	acted atomic.Bool
	seen  atomic.Bool

	doneCh chan struct{}
}

func newHeartbeat(client OrchClient, interval time.Duration, jobID string, session rpcsession.Session) *heartbeat {
	return &heartbeat{client: client, interval: interval, jobID: jobID, session: session}
}

func (h *heartbeat) start(ctx context.Context) {
	h.doneCh = make(chan struct{})
	go func() {
		defer close(h.doneCh)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.poll(ctx)
			}
		}
	}()
}

func (h *heartbeat) poll(ctx context.Context) {
	abortRequested, err := h.client.Heartbeat(ctx, h.jobID)
	if err != nil || !abortRequested {
		return
	}
	h.seen.Store(true)
	if h.acted.CompareAndSwap(false, true) {
		msg := "abort requested by operator or policy"
		_ = h.client.PostEvent(ctx, h.jobID, logEvent(msg))
		_ = h.session.Abort(ctx)
	}
}

// abortSeen reports whether an abort was observed during this attempt.
func (h *heartbeat) abortSeen() bool {
	return h.seen.Load()
}

// wait blocks until the polling goroutine has exited.
func (h *heartbeat) wait() {
	if h.doneCh != nil {
		<-h.doneCh
	}
}
