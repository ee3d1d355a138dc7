package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sidecarhq/agentctl/internal/routing/providers"
	"github.com/sidecarhq/agentctl/internal/rpcsession"
)

// ErrUnknownProfile is returned by BuildPlan when a job requests a model
// profile id that the routing config does not define.
var ErrUnknownProfile = fmt.Errorf("routing: requested model profile not found")

var defaultRetryableSubstrings = []string{
	"rate limit", "timeout", "timed out", "connection reset", "connection refused",
	"econnreset", "ehostunreach", "etimedout", "429", "503", "502",
	"provider", "model", "authentication", "auth", "api key",
}

// Plan is the result of BuildPlan: the ordered profile ids to attempt, and
// the hard cap on attempts for this job.
type Plan struct {
	Profiles    []string
	MaxAttempts int
}

// FallbackInput carries the outcome of one attempt, as observed by the
// worker's claim loop.
type FallbackInput struct {
	AbortRequested         bool
	AttemptHadOutput       bool
	AttemptHadToolActivity bool
	ErrorMessage           string
}

// FallbackResult is the outcome of evaluateFallback (§4.6).
type FallbackResult struct {
	Fallback bool
	Reason   string
}

// JobView is the minimal view of a job BuildPlan needs; callers build one
// from their own store.Job.
type JobView struct {
	Kind           string
	ModelProfileID string // from job.metadata["modelProfile"], empty if unset
}

// Runtime is the Model Routing Runtime (C6): it owns the routing config,
// per-profile cooldown state, and lazily-constructed per-profile RPC
// session pools.
type Runtime struct {
	cfg Config

	mu        sync.Mutex
	cooldowns map[string]time.Time

	poolCfg rpcsession.PoolConfig
	poolsMu sync.Mutex
	pools   map[string]*rpcsession.Pool
	onLog   func(sessionKey, line string)

	now func() time.Time
}

// NewRuntime constructs a Runtime from an already-loaded Config. poolCfg
// supplies the agent binary and session root shared by every per-profile
// pool; each pool additionally merges in its profile's resolved env.
func NewRuntime(cfg Config, poolCfg rpcsession.PoolConfig, onLog func(sessionKey, line string)) *Runtime {
	return &Runtime{
		cfg:       cfg,
		cooldowns: make(map[string]time.Time),
		poolCfg:   poolCfg,
		pools:     make(map[string]*rpcsession.Pool),
		onLog:     onLog,
		now:       time.Now,
	}
}

// ValidateProviderCredentials constructs (but never calls) each profile's
// provider SDK client, surfacing credential or config problems at startup
// instead of on the first job. Called once by NewRuntime's caller, after
// Load.
func ValidateProviderCredentials(ctx context.Context, cfg Config) error {
	for _, p := range cfg.Profiles {
		if err := providers.ValidateCredentials(ctx, p.Provider, p.Model, p.ResolvedEnv()); err != nil {
			return fmt.Errorf("routing: profile %q: %w", p.ID, err)
		}
	}
	return nil
}

// BuildPlan computes the route chain for job (§4.6 buildPlan).
func (r *Runtime) BuildPlan(job JobView) (Plan, error) {
	chain := r.cfg.chainForKind(job.Kind)
	if job.ModelProfileID != "" {
		if _, ok := r.cfg.profileByID(job.ModelProfileID); !ok {
			return Plan{}, ErrUnknownProfile
		}
		chain = []string{job.ModelProfileID}
	}

	chain = dedupe(chain)

	r.mu.Lock()
	now := r.now()
	var cold, warm []string
	for _, id := range chain {
		if until, ok := r.cooldowns[id]; ok && until.After(now) {
			warm = append(warm, id)
		} else {
			cold = append(cold, id)
		}
	}
	r.mu.Unlock()

	ordered := chain
	if len(cold) > 0 {
		ordered = append(append([]string{}, cold...), warm...)
	}

	max := len(chain)
	if r.cfg.MaxAttemptsPerJob < max {
		max = r.cfg.MaxAttemptsPerJob
	}
	if max > len(ordered) {
		max = len(ordered)
	}
	return Plan{Profiles: ordered, MaxAttempts: max}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// EvaluateFallback implements §4.6 evaluateFallback, mutating cooldown
// state on a retryable failure.
func (r *Runtime) EvaluateFallback(profileID string, in FallbackInput) FallbackResult {
	switch {
	case in.AbortRequested:
		return FallbackResult{Fallback: false, Reason: "abort_requested"}
	case in.AttemptHadToolActivity:
		return FallbackResult{Fallback: false, Reason: "tool_activity_detected"}
	case in.AttemptHadOutput:
		return FallbackResult{Fallback: false, Reason: "partial_output_detected"}
	}

	if !isRetryable(in.ErrorMessage) {
		return FallbackResult{Fallback: false, Reason: "error_not_retryable"}
	}

	profile, ok := r.cfg.profileByID(profileID)
	cooldownSeconds := defaultCooldownSeconds
	if ok {
		cooldownSeconds = profile.CooldownSeconds
	}

	r.mu.Lock()
	r.cooldowns[profileID] = r.now().Add(time.Duration(cooldownSeconds) * time.Second)
	r.mu.Unlock()

	return FallbackResult{
		Fallback: true,
		Reason:   fmt.Sprintf("retryable_error_profile_cooldown_%ds", cooldownSeconds),
	}
}

func isRetryable(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, s := range defaultRetryableSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MarkSuccess clears profileID's cooldown.
func (r *Runtime) MarkSuccess(profileID string) {
	r.mu.Lock()
	delete(r.cooldowns, profileID)
	r.mu.Unlock()
}

// GetSession lazily constructs a per-profile RpcSessionPool and returns the
// session for "<profileId>__<sessionKey>" (§4.6 getSession).
func (r *Runtime) GetSession(ctx context.Context, profileID, sessionKey string) (rpcsession.Session, error) {
	profile, ok := r.cfg.profileByID(profileID)
	if !ok {
		return nil, fmt.Errorf("routing: profile %q not found", profileID)
	}

	pool := r.poolFor(profileID, profile)
	key := profileID + "__" + sessionKey
	return pool.Get(ctx, key, profile.Provider, profile.Model, profile.SystemPromptOverride)
}

func (r *Runtime) poolFor(profileID string, profile Profile) *rpcsession.Pool {
	r.poolsMu.Lock()
	defer r.poolsMu.Unlock()
	if p, ok := r.pools[profileID]; ok {
		return p
	}
	cfg := r.poolCfg
	env := make(map[string]string, len(cfg.Env)+len(profile.Env)+len(profile.EnvFrom))
	for k, v := range cfg.Env {
		env[k] = v
	}
	for k, v := range profile.ResolvedEnv() {
		env[k] = v
	}
	cfg.Env = env

	var onLog func(string, string)
	if r.onLog != nil {
		onLog = r.onLog
	}
	p := rpcsession.NewPool(cfg, onLog)
	r.pools[profileID] = p
	return p
}

// StopAll tears down every per-profile session pool. Called on worker
// shutdown.
func (r *Runtime) StopAll() {
	r.poolsMu.Lock()
	pools := make([]*rpcsession.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.poolsMu.Unlock()
	for _, p := range pools {
		p.StopAll()
	}
}
