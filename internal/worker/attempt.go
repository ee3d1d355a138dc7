package worker

import (
	"context"
	"fmt"

	"github.com/sidecarhq/agentctl/internal/routing"
	"github.com/sidecarhq/agentctl/internal/rpcsession"
	"github.com/sidecarhq/agentctl/internal/store"
	"goa.design/clue/log"
)

// runJob drives job through the routing plan's profile chain until it
// completes, aborts, or exhausts attempts (§4.4, §4.6).
func (w *Worker) runJob(ctx context.Context, job *store.Job) {
	plan, err := w.routing.BuildPlan(routing.JobView{
		Kind:           string(job.Kind),
		ModelProfileID: modelProfileFromMetadata(job),
	})
	if err != nil {
		w.reportFail(ctx, job.ID, fmt.Sprintf("routing: %v", err))
		return
	}
	if len(plan.Profiles) == 0 || plan.MaxAttempts == 0 {
		w.reportFail(ctx, job.ID, "routing: no profiles available")
		return
	}

	var lastErr string
	attempts := 0
	for _, profileID := range plan.Profiles {
		if attempts >= plan.MaxAttempts {
			break
		}
		attempts++

		outcome := w.runAttempt(ctx, job, profileID)
		switch {
		case outcome.aborted:
			w.reportAborted(ctx, job.ID, "abort requested")
			return
		case outcome.succeeded:
			w.routing.MarkSuccess(profileID)
			w.reportComplete(ctx, job.ID, outcome.resultText)
			return
		}

		lastErr = outcome.errMsg
		fb := w.routing.EvaluateFallback(profileID, routing.FallbackInput{
			AbortRequested:         outcome.abortRequested,
			AttemptHadOutput:       outcome.hadOutput,
			AttemptHadToolActivity: outcome.hadToolActivity,
			ErrorMessage:           outcome.errMsg,
		})
		log.Printf(ctx, "worker: attempt failed job=%s profile=%s fallback=%v reason=%s",
			job.ID, profileID, fb.Fallback, fb.Reason)
		if !fb.Fallback {
			break
		}
	}
	w.reportFail(ctx, job.ID, lastErr)
}

// attemptOutcome summarizes one profile attempt for fallback evaluation.
type attemptOutcome struct {
	succeeded       bool
	aborted         bool
	abortRequested  bool
	hadOutput       bool
	hadToolActivity bool
	resultText      string
	errMsg          string
}

func (w *Worker) runAttempt(ctx context.Context, job *store.Job, profileID string) attemptOutcome {
	session, err := w.routing.GetSession(ctx, profileID, job.SessionKey)
	if err != nil {
		return attemptOutcome{errMsg: fmt.Sprintf("get session: %v", err)}
	}

	hb := newHeartbeat(w.client, w.hbMs, job.ID, session)
	hbCtx, cancelHB := context.WithCancel(ctx)
	hb.start(hbCtx)
	defer func() {
		cancelHB()
		hb.wait()
	}()

	flusher := newDeltaFlusher(func(text string) error {
		return w.client.PostEvent(ctx, job.ID, textDeltaEvent(text))
	})
	flusher.start(ctx)

	out := attemptOutcome{}
	var policyDenyReason string

	cb := rpcsession.Callbacks{
		OnTextDelta: func(delta string) {
			out.hadOutput = true
			flusher.add(delta)
		},
		OnToolStart: func(name string) {
			decision := w.policy.Evaluate(string(job.Kind), profileID, name)
			if !decision.Allowed {
				policyDenyReason = fmt.Sprintf("policy denied tool=%s", name)
				_ = w.client.PostEvent(ctx, job.ID, store.JobEvent{Type: store.EventLog, Message: &policyDenyReason})
				_ = session.Abort(ctx)
				return
			}
			out.hadToolActivity = true
			_ = w.client.PostEvent(ctx, job.ID, store.JobEvent{Type: store.EventToolStart, Data: map[string]any{"tool": name}})
		},
		OnToolEnd: func(name string) {
			_ = w.client.PostEvent(ctx, job.ID, store.JobEvent{Type: store.EventToolEnd, Data: map[string]any{"tool": name}})
		},
		OnLog: func(line string) {
			_ = w.client.PostEvent(ctx, job.ID, store.JobEvent{Type: store.EventLog, Message: &line})
		},
	}

	resultText, promptErr := session.Prompt(ctx, job.Prompt, cb)
	flusher.stop()

	// A policy denial is a deliberate, non-retryable failure (§4.7, §7): it
	// must never be reported as an abort (that's reserved for a cooperative
	// gateway-requested abort) and it must never fall back to the next
	// profile, so it sets abortRequested for fallback-blocking purposes only.
	gatewayAbort := hb.abortSeen()
	policyDenied := policyDenyReason != ""
	out.abortRequested = gatewayAbort || policyDenied

	if gatewayAbort {
		out.aborted = true
		return out
	}
	if policyDenied {
		out.errMsg = policyDenyReason
		return out
	}

	if promptErr != nil {
		out.errMsg = promptErr.Error()
		return out
	}

	final := resultText
	if final == "" {
		final = flusher.allText()
	}
	out.succeeded = true
	out.resultText = final
	return out
}

func (w *Worker) reportComplete(ctx context.Context, jobID, resultText string) {
	if err := w.client.Complete(ctx, jobID, resultText); err != nil {
		log.Printf(ctx, "worker: report complete failed job=%s: %v", jobID, err)
	}
}

func (w *Worker) reportFail(ctx context.Context, jobID, errMsg string) {
	if err := w.client.Fail(ctx, jobID, errMsg); err != nil {
		log.Printf(ctx, "worker: report fail failed job=%s: %v", jobID, err)
	}
}

func (w *Worker) reportAborted(ctx context.Context, jobID, reason string) {
	if err := w.client.Aborted(ctx, jobID, reason); err != nil {
		log.Printf(ctx, "worker: report aborted failed job=%s: %v", jobID, err)
	}
}
