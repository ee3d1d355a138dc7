package worker

import (
	"context"
	"testing"
	"time"

	"github.com/sidecarhq/agentctl/internal/routing"
	"github.com/sidecarhq/agentctl/internal/rpcsession"
	"github.com/sidecarhq/agentctl/internal/store"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	w := New(Config{}, &fakeClient{}, &fakeRouting{}, &fakePolicy{})
	require.NotEmpty(t, w.workerID)
	require.Equal(t, time.Duration(defaultPollMs)*time.Millisecond, w.pollMs)
	require.Equal(t, time.Duration(defaultHeartbeatMs)*time.Millisecond, w.hbMs)
}

func TestNewHonorsExplicitWorkerID(t *testing.T) {
	w := New(Config{WorkerID: "custom-1"}, &fakeClient{}, &fakeRouting{}, &fakePolicy{})
	require.Equal(t, "custom-1", w.workerID)
}

func TestRunClaimsAndCompletesThenKeepsPolling(t *testing.T) {
	session := &fakeSession{promptResult: "done"}
	client := &fakeClient{
		claims: []*store.Job{{ID: "j1", Kind: store.KindTask, SessionKey: "main", Prompt: "hi"}},
	}
	rt := &fakeRouting{
		plan:     routing.Plan{Profiles: []string{"p1"}, MaxAttempts: 1},
		sessions: map[string]rpcsession.Session{"p1": session},
	}
	w := newTestWorker(client, rt, &fakePolicy{})
	w.pollMs = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	require.Equal(t, []string{"j1:done"}, client.completed)
}

func TestRunMockModeCompletesClaimedJob(t *testing.T) {
	client := &fakeClient{
		claims: []*store.Job{{ID: "m1", Prompt: "hi"}},
	}
	w := newTestWorker(client, &fakeRouting{}, &fakePolicy{})
	w.cfg.MockMode = true
	w.pollMs = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Run(ctx)

	require.Len(t, client.completed, 1)
}

func TestLogAdminStateReadsClient(t *testing.T) {
	reason := "maintenance"
	client := &fakeClient{adminState: store.AdminState{Paused: true, PauseReason: &reason}}
	w := newTestWorker(client, &fakeRouting{}, &fakePolicy{})
	w.logAdminState(context.Background())
}

func TestModelProfileFromMetadata(t *testing.T) {
	require.Equal(t, "", modelProfileFromMetadata(&store.Job{}))
	require.Equal(t, "fast", modelProfileFromMetadata(&store.Job{Metadata: map[string]string{"modelProfile": "fast"}}))
}
