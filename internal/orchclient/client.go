// Package orchclient is the worker-side HTTP client for the worker-token
// protected endpoints of the Control HTTP API (§6.3).
package orchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sidecarhq/agentctl/internal/store"
)

// clientTimeout is the 20s client-side bound on webhook/HTTP calls (§5
// Cancellation).
const clientTimeout = 20 * time.Second

// Client talks to the orchestrator's worker-token protected endpoints.
type Client struct {
	baseURL     string
	workerToken string
	httpClient  *http.Client
}

// New builds a Client. baseURL should not have a trailing slash.
func New(baseURL, workerToken string) *Client {
	return &Client{
		baseURL:     baseURL,
		workerToken: workerToken,
		httpClient:  &http.Client{Timeout: clientTimeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("orchclient: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("orchclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.workerToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("orchclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("orchclient: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("orchclient: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("orchclient: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Claim polls the claim endpoint, returning nil when there is no work.
func (c *Client) Claim(ctx context.Context, workerID string) (*store.Job, error) {
	var resp struct {
		Job *store.Job `json:"job"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/v1/workers/claim", map[string]string{"workerId": workerID}, &resp); err != nil {
		return nil, err
	}
	return resp.Job, nil
}

// PostEvent reports a worker event against a claimed job.
func (c *Client) PostEvent(ctx context.Context, jobID string, event store.JobEvent) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/workers/"+jobID+"/events", map[string]store.JobEvent{"event": event}, nil)
	return err
}

// Heartbeat reports liveness and reads back whether an abort was requested.
func (c *Client) Heartbeat(ctx context.Context, jobID string) (bool, error) {
	var resp struct {
		AbortRequested bool `json:"abortRequested"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/v1/workers/"+jobID+"/heartbeat", nil, &resp); err != nil {
		return false, err
	}
	return resp.AbortRequested, nil
}

// Complete reports a successful terminal result.
func (c *Client) Complete(ctx context.Context, jobID, resultText string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/workers/"+jobID+"/complete", map[string]string{"resultText": resultText}, nil)
	return err
}

// Fail reports a terminal failure.
func (c *Client) Fail(ctx context.Context, jobID, errMsg string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/workers/"+jobID+"/fail", map[string]string{"error": errMsg}, nil)
	return err
}

// Aborted acknowledges a cooperative abort.
func (c *Client) Aborted(ctx context.Context, jobID, reason string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/workers/"+jobID+"/aborted", map[string]string{"reason": reason}, nil)
	return err
}

// AdminState polls the admin state endpoint, which accepts either the
// gateway or the worker token. Workers use it only for the paused flag on
// their informational slow-cadence log line (SPEC_FULL §C.2); it never
// gates worker behavior.
func (c *Client) AdminState(ctx context.Context) (store.AdminState, error) {
	var resp store.AdminState
	_, err := c.do(ctx, http.MethodGet, "/v1/admin/state", nil, &resp)
	return resp, err
}
