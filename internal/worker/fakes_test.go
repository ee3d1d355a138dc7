package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sidecarhq/agentctl/internal/routing"
	"github.com/sidecarhq/agentctl/internal/rpcsession"
	"github.com/sidecarhq/agentctl/internal/store"
	"github.com/sidecarhq/agentctl/internal/toolpolicy"
)

// fakeClient is an in-memory OrchClient double recording every call.
type fakeClient struct {
	mu sync.Mutex

	claims []*store.Job // popped in order by Claim

	events         []store.JobEvent
	heartbeatAbort bool
	heartbeatErr   error

	completed []string // jobID/resultText pairs encoded as "id:text"
	failed    []string
	aborted   []string

	adminState store.AdminState
}

func (f *fakeClient) Claim(ctx context.Context, workerID string) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.claims) == 0 {
		return nil, nil
	}
	job := f.claims[0]
	f.claims = f.claims[1:]
	return job, nil
}

func (f *fakeClient) PostEvent(ctx context.Context, jobID string, event store.JobEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeClient) Heartbeat(ctx context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeatAbort, f.heartbeatErr
}

func (f *fakeClient) Complete(ctx context.Context, jobID, resultText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID+":"+resultText)
	return nil
}

func (f *fakeClient) Fail(ctx context.Context, jobID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, jobID+":"+errMsg)
	return nil
}

func (f *fakeClient) Aborted(ctx context.Context, jobID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, jobID+":"+reason)
	return nil
}

func (f *fakeClient) AdminState(ctx context.Context) (store.AdminState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adminState, nil
}

func (f *fakeClient) eventsOfType(t store.EventType) []store.JobEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.JobEvent
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeSession is a scripted rpcsession.Session double.
type fakeSession struct {
	mu sync.Mutex

	promptResult string
	promptErr    error
	deltas       []string
	toolStarts   []string
	toolEnds     []string
	holdFor      time.Duration // artificial delay before returning, to let a heartbeat tick fire

	abortCalls int
	aborted    bool
}

func (s *fakeSession) Prompt(ctx context.Context, message string, cb rpcsession.Callbacks) (string, error) {
	for _, d := range s.deltas {
		if cb.OnTextDelta != nil {
			cb.OnTextDelta(d)
		}
	}
	for _, name := range s.toolStarts {
		if cb.OnToolStart != nil {
			cb.OnToolStart(name)
		}
		if cb.OnToolEnd != nil {
			cb.OnToolEnd(name)
		}
	}
	if s.holdFor > 0 {
		time.Sleep(s.holdFor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return "", errors.New("aborted")
	}
	return s.promptResult, s.promptErr
}

func (s *fakeSession) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortCalls++
	s.aborted = true
	return nil
}

func (s *fakeSession) Stop() {}

// fakeRouting is a scripted RoutingRuntime double.
type fakeRouting struct {
	mu sync.Mutex

	plan    routing.Plan
	planErr error

	sessions map[string]rpcsession.Session // keyed by profileID

	fallback routing.FallbackResult

	marked []string
}

func (r *fakeRouting) BuildPlan(job routing.JobView) (routing.Plan, error) {
	return r.plan, r.planErr
}

func (r *fakeRouting) GetSession(ctx context.Context, profileID, sessionKey string) (rpcsession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[profileID]; ok {
		return s, nil
	}
	return nil, errors.New("no session configured for profile " + profileID)
}

func (r *fakeRouting) EvaluateFallback(profileID string, in routing.FallbackInput) routing.FallbackResult {
	return r.fallback
}

func (r *fakeRouting) MarkSuccess(profileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked = append(r.marked, profileID)
}

// fakePolicy is a scripted PolicyEvaluator double.
type fakePolicy struct {
	denyTool string
}

func (p *fakePolicy) Evaluate(kind, profileID, toolName string) toolpolicy.Decision {
	if p.denyTool != "" && toolName == p.denyTool {
		return toolpolicy.Decision{Allowed: false, Reason: toolpolicy.ReasonMatchedDeny}
	}
	return toolpolicy.Decision{Allowed: true, Reason: toolpolicy.ReasonAllowed}
}
