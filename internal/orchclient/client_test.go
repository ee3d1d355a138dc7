package orchclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sidecarhq/agentctl/internal/store"
	"github.com/stretchr/testify/require"
)

const testWorkerToken = "worker-secret-01234567890"

func requireBearer(t *testing.T, r *http.Request) {
	t.Helper()
	require.Equal(t, "Bearer "+testWorkerToken, r.Header.Get("Authorization"))
}

func TestClaimReturnsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		require.Equal(t, "/v1/workers/claim", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "w1", body["workerId"])
		json.NewEncoder(w).Encode(map[string]*store.Job{
			"job": {ID: "j1", Kind: store.KindTask, Status: store.StatusRunning},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, testWorkerToken)
	job, err := c.Claim(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "j1", job.ID)
}

func TestClaimReturnsNilWhenNoWork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]*store.Job{"job": nil})
	}))
	defer srv.Close()

	c := New(srv.URL, testWorkerToken)
	job, err := c.Claim(context.Background(), "w1")
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestPostEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/workers/j1/events", r.URL.Path)
		var body map[string]store.JobEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, store.EventType("tool_start"), body["event"].Type)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, testWorkerToken)
	err := c.PostEvent(context.Background(), "j1", store.JobEvent{Type: "tool_start", Ts: time.Unix(0, 0)})
	require.NoError(t, err)
}

func TestHeartbeatReportsAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/workers/j1/heartbeat", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]bool{"abortRequested": true})
	}))
	defer srv.Close()

	c := New(srv.URL, testWorkerToken)
	abort, err := c.Heartbeat(context.Background(), "j1")
	require.NoError(t, err)
	require.True(t, abort)
}

func TestCompleteFailAborted(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]*store.Job{"job": {ID: "j1"}})
	}))
	defer srv.Close()

	c := New(srv.URL, testWorkerToken)
	require.NoError(t, c.Complete(context.Background(), "j1", "done"))
	require.NoError(t, c.Fail(context.Background(), "j1", "boom"))
	require.NoError(t, c.Aborted(context.Background(), "j1", "cancelled"))
	require.Equal(t, []string{
		"/v1/workers/j1/complete",
		"/v1/workers/j1/fail",
		"/v1/workers/j1/aborted",
	}, gotPaths)
}

func TestAdminState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/admin/state", r.URL.Path)
		json.NewEncoder(w).Encode(store.AdminState{Paused: true})
	}))
	defer srv.Close()

	c := New(srv.URL, testWorkerToken)
	st, err := c.AdminState(context.Background())
	require.NoError(t, err)
	require.True(t, st.Paused)
}

func TestErrorStatusIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "wrong-token")
	_, err := c.Claim(context.Background(), "w1")
	require.Error(t, err)
}
