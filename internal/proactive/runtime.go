package proactive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sidecarhq/agentctl/internal/store"
)

// JobEnqueuer is the subset of Store's public API the proactive runtime
// needs. All mutations flow through this interface so C3 never touches C1's
// internals directly (§3 Ownership).
type JobEnqueuer interface {
	CreateJob(req store.NewJobRequest) (*store.Job, error)
	HasActiveJobByMetadata(key, value string) (bool, error)
	GetLatestTerminalJobByMetadata(key, value string) (*store.Job, error)
	ListProactiveRuns(limit int, triggerKey string) ([]*store.Job, error)
	ListPendingProactiveDeliveries(limit int) ([]*store.Job, error)
	MarkProactiveDelivery(id string, receipt string) error
}

const backoffStreakLookback = len(backoffSchedule) + 1

// Runtime is the Proactive Runtime (C3): one ticker loop that evaluates
// heartbeat, cron, and webhook rules, enqueuing jobs through store with
// dedupe and exponential backoff.
type Runtime struct {
	mu   sync.Mutex
	cfg  Config
	sink store.Sink

	store JobEnqueuer
	now   func() time.Time
}

// NewRuntime constructs a Runtime with an already-loaded Config.
func NewRuntime(cfg Config, sink store.Sink, enqueuer JobEnqueuer) *Runtime {
	return &Runtime{cfg: cfg, sink: sink, store: enqueuer, now: time.Now}
}

// Run blocks, ticking every cfg.TickMs until ctx is done.
func (r *Runtime) Run(ctx context.Context) {
	r.mu.Lock()
	interval := time.Duration(r.cfg.TickMs) * time.Millisecond
	r.mu.Unlock()
	if interval <= 0 {
		interval = defaultTickMs * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick runs one evaluation pass over every rule (§4.3 steps 1-3).
func (r *Runtime) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cfg.Enabled {
		return
	}

	now := r.now()
	dirty := false

	anyHeartbeatFired := false
	for i := range r.cfg.HeartbeatRules {
		rule := &r.cfg.HeartbeatRules[i]
		if rule.NextDueAt.IsZero() || !now.Before(rule.NextDueAt) {
			triggerKey := "heartbeat:" + rule.ID
			if _, err := r.attemptEnqueueLocked("heartbeat", triggerKey, rule.Prompt, rule.Delivery, rule.Target, false); err == nil {
				anyHeartbeatFired = true
			}
			rule.NextDueAt = now.Add(time.Duration(rule.EverySeconds) * time.Second)
			dirty = true
		}
	}

	if anyHeartbeatFired {
		for i := range r.cfg.CronRules {
			rule := &r.cfg.CronRules[i]
			if rule.SessionTarget == SessionTargetMain && rule.WakeMode == WakeModeNextHeartbeat && rule.WakePending {
				triggerKey := "cron:" + rule.ID
				res, err := r.attemptEnqueueLocked("cron", triggerKey, rule.Prompt, rule.Delivery, rule.Target, false)
				if err == nil && (res.Status == StatusEnqueued || res.Status == StatusDuplicateActiveJob) {
					rule.WakePending = false
					dirty = true
				}
			}
		}
	}

	mk := minuteKey(now)
	var toRemove []int
	for i := range r.cfg.CronRules {
		rule := &r.cfg.CronRules[i]
		switch {
		case rule.Expression != "":
			if rule.FiredMinuteKey == mk {
				continue
			}
			sched, err := parseCronExpression(rule.Expression)
			if err != nil {
				continue
			}
			loc, err := resolveLocation(rule.Timezone)
			if err != nil {
				continue
			}
			if !sched.Matches(now.In(loc)) {
				continue
			}
			rule.FiredMinuteKey = mk
			dirty = true
			if rule.SessionTarget == SessionTargetMain && rule.WakeMode == WakeModeNextHeartbeat {
				rule.WakePending = true
				continue
			}
			triggerKey := "cron:" + rule.ID
			r.attemptEnqueueLocked("cron", triggerKey, rule.Prompt, rule.Delivery, rule.Target, rule.SessionTarget == SessionTargetIsolated)

		case rule.EverySeconds > 0:
			if !rule.NextDueAt.IsZero() && now.Before(rule.NextDueAt) {
				continue
			}
			if rule.SessionTarget == SessionTargetMain && rule.WakeMode == WakeModeNextHeartbeat {
				rule.WakePending = true
				rule.NextDueAt = now.Add(time.Duration(rule.EverySeconds) * time.Second)
				dirty = true
				continue
			}
			triggerKey := "cron:" + rule.ID
			r.attemptEnqueueLocked("cron", triggerKey, rule.Prompt, rule.Delivery, rule.Target, rule.SessionTarget == SessionTargetIsolated)
			rule.NextDueAt = now.Add(time.Duration(rule.EverySeconds) * time.Second)
			dirty = true

		case rule.At != nil:
			if now.Before(*rule.At) {
				continue
			}
			triggerKey := "cron:" + rule.ID
			res, err := r.attemptEnqueueLocked("cron", triggerKey, rule.Prompt, rule.Delivery, rule.Target, rule.SessionTarget == SessionTargetIsolated)
			if err == nil && res.Status == StatusEnqueued {
				toRemove = append(toRemove, i)
				dirty = true
			}
		}
	}
	for i := len(toRemove) - 1; i >= 0; i-- {
		idx := toRemove[i]
		r.cfg.CronRules = append(r.cfg.CronRules[:idx], r.cfg.CronRules[idx+1:]...)
	}

	if dirty && r.sink != nil {
		_ = SaveConfig(r.sink, r.cfg)
	}
}

func rewriteSessionKey(target Target, isolated bool, ruleID string) string {
	if isolated {
		return "cron:" + ruleID
	}
	return target.SessionKey
}

// attemptEnqueueLocked implements the shared dedupe/backoff/enqueue path
// for heartbeat, cron, and (via HandleWebhook) webhook rules. Callers must
// hold r.mu.
func (r *Runtime) attemptEnqueueLocked(kind, triggerKey, prompt string, delivery Delivery, target Target, isolatedSession bool) (EnqueueResult, error) {
	active, err := r.store.HasActiveJobByMetadata("proactiveTriggerKey", triggerKey)
	if err != nil {
		return EnqueueResult{}, err
	}
	if active {
		return EnqueueResult{Status: StatusDuplicateActiveJob}, nil
	}

	if kind != "webhook" {
		if blocked, err := r.backoffBlockedLocked(triggerKey); err != nil {
			return EnqueueResult{}, err
		} else if blocked {
			return EnqueueResult{Status: StatusBackoffBlocked}, nil
		}
	}

	truncated := false
	finalPrompt := prompt
	if len(finalPrompt) > store.MaxPromptChars {
		finalPrompt = finalPrompt[:store.MaxPromptChars-15] + "...[truncated]"
		truncated = true
	}

	sessionKey := target.SessionKey
	ruleID := triggerKey
	if i := indexOfColon(triggerKey); i >= 0 {
		ruleID = triggerKey[i+1:]
	}
	if isolatedSession {
		sessionKey = rewriteSessionKey(target, true, ruleID)
	}

	metadata := make(map[string]string, len(target.Metadata)+6)
	for k, v := range target.Metadata {
		metadata[k] = v
	}
	metadata["proactiveTriggerKind"] = kind
	metadata["proactiveTriggerId"] = ruleID
	metadata["proactiveTriggerKey"] = triggerKey
	metadata["proactiveTriggeredAt"] = r.now().UTC().Format(time.RFC3339)
	if truncated {
		metadata["proactivePromptTruncated"] = "true"
	}
	metadata["proactiveDeliveryMode"] = string(delivery.Mode)
	if delivery.Mode == DeliveryWebhook && delivery.WebhookURL != "" {
		metadata["proactiveDeliveryWebhookUrl"] = delivery.WebhookURL
	}

	job, err := r.store.CreateJob(store.NewJobRequest{
		Kind:             store.Kind(target.Kind),
		Prompt:           finalPrompt,
		ChatID:           target.ChatID,
		ThreadID:         target.ThreadID,
		RequesterID:      target.RequesterID,
		SessionKey:       sessionKey,
		RequiresApproval: target.RequiresApproval,
		Metadata:         metadata,
	})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("proactive: enqueue %s: %w", triggerKey, err)
	}
	return EnqueueResult{Status: StatusEnqueued, JobID: job.ID}, nil
}

func indexOfColon(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// backoffBlockedLocked inspects the most recent terminal job for triggerKey
// and reports whether the retry window has not yet elapsed (§4.3 Backoff).
func (r *Runtime) backoffBlockedLocked(triggerKey string) (bool, error) {
	terminal, err := r.store.GetLatestTerminalJobByMetadata("proactiveTriggerKey", triggerKey)
	if err != nil {
		return false, err
	}
	if terminal == nil || terminal.Status != store.StatusFailed {
		return false, nil
	}

	runs, err := r.store.ListProactiveRuns(backoffStreakLookback, triggerKey)
	if err != nil {
		return false, err
	}
	streak := 0
	for _, j := range runs {
		if !j.Status.Terminal() {
			continue
		}
		if j.Status != store.StatusFailed {
			break
		}
		streak++
	}

	blockedUntil := terminal.UpdatedAt.Add(backoffDelay(streak))
	return r.now().Before(blockedUntil), nil
}

// TriggerHeartbeatNow bypasses the schedule check but still honors dedupe
// and backoff (§4.3 Manual triggers).
func (r *Runtime) TriggerHeartbeatNow(id string) (EnqueueResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range r.cfg.HeartbeatRules {
		if rule.ID == id {
			return r.attemptEnqueueManualLocked("heartbeat", "heartbeat:"+rule.ID, rule.Prompt, rule.Delivery, rule.Target, false)
		}
	}
	return EnqueueResult{}, fmt.Errorf("proactive: heartbeat rule %q not found", id)
}

// TriggerCronNow bypasses the schedule check but still honors dedupe,
// backoff, and the isolated-session key rewrite (§4.3 Manual triggers).
// The rule's wakeMode is not consulted: a next-heartbeat rule is enqueued
// at once, not marked pending.
func (r *Runtime) TriggerCronNow(id string) (EnqueueResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range r.cfg.CronRules {
		if rule.ID == id {
			return r.attemptEnqueueManualLocked("cron", "cron:"+rule.ID, rule.Prompt, rule.Delivery, rule.Target, rule.SessionTarget == SessionTargetIsolated)
		}
	}
	return EnqueueResult{}, fmt.Errorf("proactive: cron rule %q not found", id)
}

func (r *Runtime) attemptEnqueueManualLocked(kind, triggerKey, prompt string, delivery Delivery, target Target, isolated bool) (EnqueueResult, error) {
	if target.Metadata == nil {
		target.Metadata = map[string]string{}
	} else {
		cp := make(map[string]string, len(target.Metadata)+1)
		for k, v := range target.Metadata {
			cp[k] = v
		}
		target.Metadata = cp
	}
	target.Metadata["proactiveManualTrigger"] = "true"
	return r.attemptEnqueueLocked(kind, triggerKey, prompt, delivery, target, isolated)
}
