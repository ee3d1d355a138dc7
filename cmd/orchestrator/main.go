// Command orchestrator runs the Control HTTP API (C2): the job store, the
// proactive runtime, and the tool policy engine behind one bearer-secured
// HTTP server.
//
// # Configuration
//
// Environment variables:
//
//	ORCH_HOST                   - listen host (default "localhost")
//	ORCH_PORT                   - listen port (default "8080")
//	ORCH_STATE_FILE             - job store snapshot path (default "./data/state.json")
//	ORCH_PROACTIVE_CONFIG_FILE  - proactive rules document path (default "./data/proactive.json")
//	ORCH_TOOL_POLICY_FILE       - tool policy document path (optional, allow-all if unset)
//	ORCH_GATEWAY_TOKEN          - bearer secret for gateway-facing endpoints (required)
//	ORCH_WORKER_TOKEN           - bearer secret for worker-facing endpoints (required)
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sidecarhq/agentctl/internal/httpapi"
	"github.com/sidecarhq/agentctl/internal/proactive"
	"github.com/sidecarhq/agentctl/internal/store"
	"github.com/sidecarhq/agentctl/internal/toolpolicy"
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
	host := envOr("ORCH_HOST", "localhost")
	port := envOr("ORCH_PORT", "8080")
	stateFile := envOr("ORCH_STATE_FILE", "./data/state.json")
	proactiveFile := envOr("ORCH_PROACTIVE_CONFIG_FILE", "./data/proactive.json")
	toolPolicyFile := os.Getenv("ORCH_TOOL_POLICY_FILE")
	gatewayToken := os.Getenv("ORCH_GATEWAY_TOKEN")
	workerToken := os.Getenv("ORCH_WORKER_TOKEN")

	if gatewayToken == "" || workerToken == "" {
		return fmt.Errorf("ORCH_GATEWAY_TOKEN and ORCH_WORKER_TOKEN are both required")
	}

	stateSink, err := store.NewFileSink(stateFile)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	st, err := store.NewStore(stateSink)
	if err != nil {
		return fmt.Errorf("load job store: %w", err)
	}

	proactiveSink, err := store.NewFileSink(proactiveFile)
	if err != nil {
		return fmt.Errorf("open proactive config file: %w", err)
	}
	proactiveCfg, err := proactive.LoadConfig(proactiveSink)
	if err != nil {
		return fmt.Errorf("load proactive config: %w", err)
	}
	proactiveRt := proactive.NewRuntime(proactiveCfg, proactiveSink, st)

	policy, err := toolpolicy.New(toolPolicyFile)
	if err != nil {
		return fmt.Errorf("load tool policy: %w", err)
	}

	server := httpapi.NewServer(httpapi.Config{
		Store:        st,
		Proactive:    proactiveRt,
		Policy:       policy,
		GatewayToken: gatewayToken,
		WorkerToken:  workerToken,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go proactiveRt.Run(runCtx)

	addr := net.JoinHostPort(host, port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	errc := make(chan error, 1)
	go func() {
		log.Printf(ctx, "orchestrator: listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigc:
		log.Printf(ctx, "orchestrator: received %v, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf(ctx, "orchestrator: shutdown error: %v", err)
	}
	cancel()
	return nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
