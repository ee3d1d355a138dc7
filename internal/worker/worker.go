// Package worker implements component C4, the claim loop: a single process
// identity that repeatedly polls the control API for queued work, drives an
// RPC session per attempt with heartbeat/abort and tool-policy wiring, and
// reports terminal state back through the orchestrator's worker-token
// endpoints.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sidecarhq/agentctl/internal/routing"
	"github.com/sidecarhq/agentctl/internal/rpcsession"
	"github.com/sidecarhq/agentctl/internal/store"
	"github.com/sidecarhq/agentctl/internal/toolpolicy"
	"goa.design/clue/log"
)

const (
	defaultPollMs           = 2000
	defaultHeartbeatMs      = 2000
	adminPollMultiplier     = 10
	modelProfileMetadataKey = "modelProfile"
)

// OrchClient is the worker-token protected subset of the Control HTTP API
// the claim loop needs (§6.3).
type OrchClient interface {
	Claim(ctx context.Context, workerID string) (*store.Job, error)
	PostEvent(ctx context.Context, jobID string, event store.JobEvent) error
	Heartbeat(ctx context.Context, jobID string) (bool, error)
	Complete(ctx context.Context, jobID, resultText string) error
	Fail(ctx context.Context, jobID, errMsg string) error
	Aborted(ctx context.Context, jobID, reason string) error
	AdminState(ctx context.Context) (store.AdminState, error)
}

// RoutingRuntime is the subset of *routing.Runtime the claim loop drives.
type RoutingRuntime interface {
	BuildPlan(job routing.JobView) (routing.Plan, error)
	GetSession(ctx context.Context, profileID, sessionKey string) (rpcsession.Session, error)
	EvaluateFallback(profileID string, in routing.FallbackInput) routing.FallbackResult
	MarkSuccess(profileID string)
}

// PolicyEvaluator is the subset of *toolpolicy.Engine the claim loop needs.
type PolicyEvaluator interface {
	Evaluate(kind, profileID, toolName string) toolpolicy.Decision
}

// Config configures a Worker.
type Config struct {
	WorkerID       string // default "<hostname>-<pid>"
	PollMs         int    // default 2000
	HeartbeatMs    int    // default 2000
	MockMode       bool   // PI_EXEC_MODE=mock
	MockSessionKey string // sessionKey used for the synthesized mock session, defaults to "mock"
}

// Worker is the C4 claim loop.
type Worker struct {
	cfg     Config
	client  OrchClient
	routing RoutingRuntime
	policy  PolicyEvaluator

	workerID string
	pollMs   time.Duration
	hbMs     time.Duration

	sleep func(time.Duration)
}

// New builds a Worker. A zero-value cfg.WorkerID is replaced with the
// hostname-pid default (SPEC_FULL §C.3); zero poll/heartbeat intervals take
// the spec's §4.4 defaults.
func New(cfg Config, client OrchClient, rt RoutingRuntime, policy PolicyEvaluator) *Worker {
	id := cfg.WorkerID
	if id == "" {
		id = defaultWorkerID()
	}
	pollMs := cfg.PollMs
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	hbMs := cfg.HeartbeatMs
	if hbMs <= 0 {
		hbMs = defaultHeartbeatMs
	}
	return &Worker{
		cfg:      cfg,
		client:   client,
		routing:  rt,
		policy:   policy,
		workerID: id,
		pollMs:   time.Duration(pollMs) * time.Millisecond,
		hbMs:     time.Duration(hbMs) * time.Millisecond,
		sleep:    time.Sleep,
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Run polls for work until ctx is cancelled. Each claimed job is driven to a
// terminal report before the next claim, matching the single-worker-identity
// model in §4.4 (no internal concurrency across jobs).
func (w *Worker) Run(ctx context.Context) {
	log.Printf(ctx, "worker: starting id=%s pollMs=%d heartbeatMs=%d mock=%v",
		w.workerID, w.pollMs.Milliseconds(), w.hbMs.Milliseconds(), w.cfg.MockMode)

	var pollCount int
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.client.Claim(ctx, w.workerID)
		if err != nil {
			log.Printf(ctx, "worker: claim failed: %v", err)
			w.sleepOrDone(ctx, w.pollMs)
			continue
		}
		if job == nil {
			pollCount++
			if pollCount%adminPollMultiplier == 0 {
				w.logAdminState(ctx)
			}
			w.sleepOrDone(ctx, w.pollMs)
			continue
		}

		pollCount = 0
		if w.cfg.MockMode {
			w.runMockJob(ctx, job)
		} else {
			w.runJob(ctx, job)
		}
	}
}

func (w *Worker) sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// logAdminState is the slower-cadence informational poll from SPEC_FULL §C.2:
// it never gates behavior, it only surfaces the paused flag in logs.
func (w *Worker) logAdminState(ctx context.Context) {
	st, err := w.client.AdminState(ctx)
	if err != nil {
		log.Printf(ctx, "worker: admin state poll failed: %v", err)
		return
	}
	if st.Paused {
		reason := ""
		if st.PauseReason != nil {
			reason = *st.PauseReason
		}
		log.Printf(ctx, "worker: orchestrator is paused reason=%q", reason)
	}
}

func modelProfileFromMetadata(job *store.Job) string {
	if job.Metadata == nil {
		return ""
	}
	return job.Metadata[modelProfileMetadataKey]
}
