package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sidecarhq/agentctl/internal/store"
	"goa.design/clue/log"
)

const mockStepInterval = 200 * time.Millisecond

// mockSteps is the deterministic four-step sequence run under
// PI_EXEC_MODE=mock (§4.4 "Mock mode"). No child process, no routing plan:
// the loop exists purely to exercise the heartbeat/abort and event-posting
// plumbing in integration tests without an agent binary.
var mockSteps = []string{
	"received task",
	"planning",
	"executing",
	"finalizing",
}

// runMockJob drives job through mockSteps, posting a log event per step and
// checking for abort between steps.
func (w *Worker) runMockJob(ctx context.Context, job *store.Job) {
	for i, step := range mockSteps {
		select {
		case <-ctx.Done():
			return
		default:
		}

		abortRequested, err := w.client.Heartbeat(ctx, job.ID)
		if err != nil {
			log.Printf(ctx, "worker: mock heartbeat failed job=%s: %v", job.ID, err)
		}
		if abortRequested {
			w.reportAborted(ctx, job.ID, "abort requested during mock run")
			return
		}

		msg := fmt.Sprintf("mock step %d/%d: %s", i+1, len(mockSteps), step)
		_ = w.client.PostEvent(ctx, job.ID, logEvent(msg))

		t := time.NewTimer(mockStepInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	result := fmt.Sprintf("[mock] completed %q after %d steps", job.Prompt, len(mockSteps))
	w.reportComplete(ctx, job.ID, result)
}
