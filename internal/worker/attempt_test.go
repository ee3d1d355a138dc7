package worker

import (
	"testing"
	"time"

	"github.com/sidecarhq/agentctl/internal/routing"
	"github.com/sidecarhq/agentctl/internal/rpcsession"
	"github.com/sidecarhq/agentctl/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestWorker(client *fakeClient, rt *fakeRouting, policy *fakePolicy) *Worker {
	return &Worker{
		client:   client,
		routing:  rt,
		policy:   policy,
		workerID: "test-worker",
		pollMs:   10 * time.Millisecond,
		hbMs:     10 * time.Millisecond,
		sleep:    time.Sleep,
	}
}

func TestRunJobCompletesWithFinalText(t *testing.T) {
	client := &fakeClient{}
	session := &fakeSession{promptResult: "hello world"}
	rt := &fakeRouting{
		plan:     routing.Plan{Profiles: []string{"p1"}, MaxAttempts: 1},
		sessions: map[string]rpcsession.Session{"p1": session},
	}
	w := newTestWorker(client, rt, &fakePolicy{})

	job := &store.Job{ID: "j1", Kind: store.KindTask, SessionKey: "main", Prompt: "hi"}
	w.runJob(t.Context(), job)

	require.Equal(t, []string{"j1:hello world"}, client.completed)
	require.Equal(t, []string{"p1"}, rt.marked)
	require.Empty(t, client.failed)
}

func TestRunJobFallsBackOnRetryableErrorWithNoOutput(t *testing.T) {
	client := &fakeClient{}
	first := &fakeSession{promptErr: errFakeRateLimit}
	second := &fakeSession{promptResult: "recovered"}
	rt := &fakeRouting{
		plan:     routing.Plan{Profiles: []string{"p1", "p2"}, MaxAttempts: 2},
		sessions: map[string]rpcsession.Session{"p1": first, "p2": second},
		fallback: routing.FallbackResult{Fallback: true, Reason: "retryable_error_profile_cooldown_180s"},
	}
	w := newTestWorker(client, rt, &fakePolicy{})

	job := &store.Job{ID: "j2", Kind: store.KindTask, SessionKey: "main", Prompt: "hi"}
	w.runJob(t.Context(), job)

	require.Equal(t, []string{"j2:recovered"}, client.completed)
	require.Equal(t, []string{"p2"}, rt.marked, "only the successful profile is marked")
	require.Empty(t, client.failed)
}

func TestRunJobPoisonedAttemptDoesNotFallback(t *testing.T) {
	client := &fakeClient{}
	session := &fakeSession{promptErr: errFakeRateLimit, toolStarts: []string{"search"}}
	rt := &fakeRouting{
		plan:     routing.Plan{Profiles: []string{"p1", "p2"}, MaxAttempts: 2},
		sessions: map[string]rpcsession.Session{"p1": session},
		fallback: routing.FallbackResult{Fallback: false, Reason: "tool_activity_detected"},
	}
	w := newTestWorker(client, rt, &fakePolicy{})

	job := &store.Job{ID: "j3", Kind: store.KindTask, SessionKey: "main", Prompt: "hi"}
	w.runJob(t.Context(), job)

	require.Empty(t, client.completed)
	require.Len(t, client.failed, 1)
	require.Contains(t, client.failed[0], "j3:")
}

func TestRunJobPolicyDeniedToolFailsWithDenyReason(t *testing.T) {
	client := &fakeClient{}
	session := &fakeSession{toolStarts: []string{"dangerous_tool"}}
	rt := &fakeRouting{
		plan:     routing.Plan{Profiles: []string{"p1"}, MaxAttempts: 1},
		sessions: map[string]rpcsession.Session{"p1": session},
	}
	policy := &fakePolicy{denyTool: "dangerous_tool"}
	w := newTestWorker(client, rt, policy)

	job := &store.Job{ID: "j4", Kind: store.KindTask, SessionKey: "main", Prompt: "hi"}
	w.runJob(t.Context(), job)

	// A policy denial is not a cooperative abort: it is a non-retryable
	// failure carrying the deny reason (§4.7, §7), never reported as aborted.
	require.Equal(t, 1, session.abortCalls)
	require.Empty(t, client.aborted)
	require.Empty(t, client.completed)
	require.Len(t, client.failed, 1)
	require.Contains(t, client.failed[0], "j4:")
	require.Contains(t, client.failed[0], "policy denied tool=dangerous_tool")

	logEvents := client.eventsOfType(store.EventLog)
	require.Len(t, logEvents, 1)
	require.Contains(t, *logEvents[0].Message, "policy denied tool=dangerous_tool")

	require.Empty(t, client.eventsOfType(store.EventToolStart), "a denied tool never posts tool_start")
}

func TestRunJobHeartbeatAbortStopsAttempt(t *testing.T) {
	client := &fakeClient{heartbeatAbort: true}
	session := &fakeSession{promptResult: "too late", holdFor: 60 * time.Millisecond}
	rt := &fakeRouting{
		plan:     routing.Plan{Profiles: []string{"p1"}, MaxAttempts: 1},
		sessions: map[string]rpcsession.Session{"p1": session},
	}
	w := newTestWorker(client, rt, &fakePolicy{})
	w.hbMs = 10 * time.Millisecond

	job := &store.Job{ID: "j5", Kind: store.KindTask, SessionKey: "main", Prompt: "hi"}
	w.runJob(t.Context(), job)

	require.Equal(t, 1, session.abortCalls)
	require.Len(t, client.aborted, 1)
	require.Empty(t, client.completed)
}

func TestRunJobUnknownRoutingProfileFailsFast(t *testing.T) {
	client := &fakeClient{}
	rt := &fakeRouting{planErr: routing.ErrUnknownProfile}
	w := newTestWorker(client, rt, &fakePolicy{})

	job := &store.Job{ID: "j6", Kind: store.KindTask, SessionKey: "main", Prompt: "hi"}
	w.runJob(t.Context(), job)

	require.Len(t, client.failed, 1)
	require.Empty(t, client.completed)
}

var errFakeRateLimit = fakeErr("rate limit exceeded")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
