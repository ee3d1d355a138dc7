package worker

import (
	"testing"
	"time"

	"github.com/sidecarhq/agentctl/internal/store"
	"github.com/stretchr/testify/require"
)

func TestRunMockJobCompletesAfterFourSteps(t *testing.T) {
	client := &fakeClient{}
	w := newTestWorker(client, &fakeRouting{}, &fakePolicy{})
	w.cfg.MockMode = true

	job := &store.Job{ID: "m1", Prompt: "say hi"}
	w.runMockJob(t.Context(), job)

	require.Len(t, client.completed, 1)
	require.Contains(t, client.completed[0], "m1:")
	require.Contains(t, client.completed[0], "say hi")

	logEvents := client.eventsOfType(store.EventLog)
	require.Len(t, logEvents, len(mockSteps))
	require.Empty(t, client.aborted)
}

func TestRunMockJobAbortsBetweenSteps(t *testing.T) {
	client := &fakeClient{heartbeatAbort: true}
	w := newTestWorker(client, &fakeRouting{}, &fakePolicy{})
	w.cfg.MockMode = true

	job := &store.Job{ID: "m2", Prompt: "say hi"}
	start := time.Now()
	w.runMockJob(t.Context(), job)

	require.Empty(t, client.completed)
	require.Len(t, client.aborted, 1)
	require.Contains(t, client.aborted[0], "m2:")
	require.Less(t, time.Since(start), mockStepInterval*time.Duration(len(mockSteps)))
}
