// Command worker runs the claim loop (C4): it polls the orchestrator for
// queued jobs and drives each through the model routing runtime (C6) and an
// RPC session pool (C5), honoring heartbeat/abort and tool policy (C7) along
// the way.
//
// # Configuration
//
// Environment variables:
//
//	ORCH_BASE_URL             - orchestrator base URL (required)
//	ORCH_WORKER_TOKEN         - worker bearer secret (required)
//	WORKER_ID                 - worker identity override (default "<hostname>-<pid>")
//	WORKER_POLL_MS            - claim poll interval in ms (default 2000)
//	WORKER_HEARTBEAT_MS       - heartbeat interval in ms (default 2000)
//	PI_EXEC_MODE              - "mock" runs the deterministic mock sequence instead of spawning an agent
//	PI_BINARY                 - agent binary path (required unless PI_EXEC_MODE=mock)
//	PI_PROVIDER               - default provider for the legacy single-profile routing config
//	PI_MODEL                  - default model for the legacy single-profile routing config
//	PI_WORKSPACE              - passed through to the agent child process environment
//	PI_SESSION_ROOT           - directory under which per-session subdirectories are created
//	PI_APPEND_SYSTEM_PROMPT   - system prompt append text for the legacy single-profile config
//	PI_MODEL_ROUTING_FILE     - routing config document path (optional)
//	PI_TOOL_POLICY_FILE       - tool policy document path (optional, allow-all if unset)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sidecarhq/agentctl/internal/orchclient"
	"github.com/sidecarhq/agentctl/internal/routing"
	"github.com/sidecarhq/agentctl/internal/rpcsession"
	"github.com/sidecarhq/agentctl/internal/toolpolicy"
	"github.com/sidecarhq/agentctl/internal/worker"
	"goa.design/clue/log"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	if err := run(ctx); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context) error {
	baseURL := os.Getenv("ORCH_BASE_URL")
	workerToken := os.Getenv("ORCH_WORKER_TOKEN")
	if baseURL == "" || workerToken == "" {
		return fmt.Errorf("ORCH_BASE_URL and ORCH_WORKER_TOKEN are both required")
	}

	mockMode := os.Getenv("PI_EXEC_MODE") == "mock"
	agentBinary := os.Getenv("PI_BINARY")
	if !mockMode && agentBinary == "" {
		return fmt.Errorf("PI_BINARY is required unless PI_EXEC_MODE=mock")
	}

	client := orchclient.New(baseURL, workerToken)

	policy, err := toolpolicy.New(os.Getenv("PI_TOOL_POLICY_FILE"))
	if err != nil {
		return fmt.Errorf("load tool policy: %w", err)
	}

	var routingRt *routing.Runtime
	if !mockMode {
		routingCfg, err := routing.Load(os.Getenv("PI_MODEL_ROUTING_FILE"), os.Getenv("PI_PROVIDER"), os.Getenv("PI_MODEL"))
		if err != nil {
			return fmt.Errorf("load routing config: %w", err)
		}
		if os.Getenv("PI_MODEL_ROUTING_FILE") == "" {
			if prompt := os.Getenv("PI_APPEND_SYSTEM_PROMPT"); prompt != "" && len(routingCfg.Profiles) > 0 {
				routingCfg.Profiles[0].SystemPromptOverride = prompt
			}
		}
		if err := routing.ValidateProviderCredentials(ctx, routingCfg); err != nil {
			return fmt.Errorf("validate provider credentials: %w", err)
		}

		env := map[string]string{}
		if ws := os.Getenv("PI_WORKSPACE"); ws != "" {
			env["PI_WORKSPACE"] = ws
		}
		poolCfg := rpcsession.PoolConfig{
			AgentBinary: agentBinary,
			SessionRoot: envOr("PI_SESSION_ROOT", "./data/sessions"),
			Env:         env,
		}
		onLog := func(sessionKey, line string) {
			log.Printf(ctx, "worker: session=%s %s", sessionKey, line)
		}
		routingRt = routing.NewRuntime(routingCfg, poolCfg, onLog)
		defer routingRt.StopAll()
	}

	w := worker.New(worker.Config{
		WorkerID:    os.Getenv("WORKER_ID"),
		PollMs:      envIntOr("WORKER_POLL_MS", 0),
		HeartbeatMs: envIntOr("WORKER_HEARTBEAT_MS", 0),
		MockMode:    mockMode,
	}, client, routingAdapter{routingRt}, policy)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.Printf(ctx, "worker: received %v, shutting down", sig)
		cancel()
	}()

	w.Run(runCtx)
	return nil
}

// routingAdapter lets a nil *routing.Runtime stand in for mock mode, where
// the worker package's RoutingRuntime is never actually called.
type routingAdapter struct {
	rt *routing.Runtime
}

func (a routingAdapter) BuildPlan(job routing.JobView) (routing.Plan, error) {
	return a.rt.BuildPlan(job)
}

func (a routingAdapter) GetSession(ctx context.Context, profileID, sessionKey string) (rpcsession.Session, error) {
	return a.rt.GetSession(ctx, profileID, sessionKey)
}

func (a routingAdapter) EvaluateFallback(profileID string, in routing.FallbackInput) routing.FallbackResult {
	return a.rt.EvaluateFallback(profileID, in)
}

func (a routingAdapter) MarkSuccess(profileID string) {
	a.rt.MarkSuccess(profileID)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return defaultVal
}
