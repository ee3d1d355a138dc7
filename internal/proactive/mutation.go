package proactive

import "fmt"

// Config returns a snapshot of the current rule set.
func (r *Runtime) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.cfg
	cfg.HeartbeatRules = append(r.cfg.HeartbeatRules[:0:0], r.cfg.HeartbeatRules...)
	cfg.CronRules = append(r.cfg.CronRules[:0:0], r.cfg.CronRules...)
	cfg.Webhooks = append(r.cfg.Webhooks[:0:0], r.cfg.Webhooks...)
	return cfg
}

// UpsertHeartbeatRule inserts or replaces a heartbeat rule by id, validating
// the resulting config before persisting it (§4.3 Mutation API).
func (r *Runtime) UpsertHeartbeatRule(rule HeartbeatRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cfg
	next.HeartbeatRules = append([]HeartbeatRule(nil), r.cfg.HeartbeatRules...)
	found := false
	for i := range next.HeartbeatRules {
		if next.HeartbeatRules[i].ID == rule.ID {
			rule.NextDueAt = next.HeartbeatRules[i].NextDueAt
			next.HeartbeatRules[i] = rule
			found = true
			break
		}
	}
	if !found {
		next.HeartbeatRules = append(next.HeartbeatRules, rule)
	}
	return r.replaceConfigLocked(next)
}

// DeleteHeartbeatRule removes a heartbeat rule by id.
func (r *Runtime) DeleteHeartbeatRule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cfg
	rules := make([]HeartbeatRule, 0, len(r.cfg.HeartbeatRules))
	for _, hr := range r.cfg.HeartbeatRules {
		if hr.ID != id {
			rules = append(rules, hr)
		}
	}
	next.HeartbeatRules = rules
	return r.replaceConfigLocked(next)
}

// UpsertCronRule inserts or replaces a cron rule by id.
func (r *Runtime) UpsertCronRule(rule CronRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cfg
	next.CronRules = append([]CronRule(nil), r.cfg.CronRules...)
	found := false
	for i := range next.CronRules {
		if next.CronRules[i].ID == rule.ID {
			rule.NextDueAt = next.CronRules[i].NextDueAt
			rule.FiredMinuteKey = next.CronRules[i].FiredMinuteKey
			rule.WakePending = next.CronRules[i].WakePending
			next.CronRules[i] = rule
			found = true
			break
		}
	}
	if !found {
		next.CronRules = append(next.CronRules, rule)
	}
	return r.replaceConfigLocked(next)
}

// DeleteCronRule removes a cron rule by id.
func (r *Runtime) DeleteCronRule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cfg
	rules := make([]CronRule, 0, len(r.cfg.CronRules))
	for _, cr := range r.cfg.CronRules {
		if cr.ID != id {
			rules = append(rules, cr)
		}
	}
	next.CronRules = rules
	return r.replaceConfigLocked(next)
}

// UpsertWebhook inserts or replaces a webhook rule by id.
func (r *Runtime) UpsertWebhook(wh Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cfg
	next.Webhooks = append([]Webhook(nil), r.cfg.Webhooks...)
	found := false
	for i := range next.Webhooks {
		if next.Webhooks[i].ID == wh.ID {
			next.Webhooks[i] = wh
			found = true
			break
		}
	}
	if !found {
		next.Webhooks = append(next.Webhooks, wh)
	}
	return r.replaceConfigLocked(next)
}

// DeleteWebhook removes a webhook rule by id.
func (r *Runtime) DeleteWebhook(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cfg
	webhooks := make([]Webhook, 0, len(r.cfg.Webhooks))
	for _, w := range r.cfg.Webhooks {
		if w.ID != id {
			webhooks = append(webhooks, w)
		}
	}
	next.Webhooks = webhooks
	return r.replaceConfigLocked(next)
}

// SetEnabled flips the runtime's enabled flag and persists it.
func (r *Runtime) SetEnabled(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.cfg
	next.Enabled = enabled
	return r.replaceConfigLocked(next)
}

// replaceConfigLocked validates next, persists it through sink, and swaps
// it in only on success so a rejected mutation never corrupts in-memory
// state. Callers must hold r.mu.
func (r *Runtime) replaceConfigLocked(next Config) error {
	next = normalizeConfig(next)
	if err := ValidateConfig(next); err != nil {
		return err
	}
	if r.sink != nil {
		if err := SaveConfig(r.sink, next); err != nil {
			return fmt.Errorf("proactive: persist config: %w", err)
		}
	}
	r.cfg = next
	return nil
}

// ListPendingDeliveries returns up to limit terminal jobs still awaiting
// outbound delivery (§4.3 delivery outbox).
func (r *Runtime) ListPendingDeliveries(limit int) ([]*JobDelivery, error) {
	jobs, err := r.store.ListPendingProactiveDeliveries(limit)
	if err != nil {
		return nil, err
	}
	out := make([]*JobDelivery, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, &JobDelivery{
			JobID:      j.ID,
			Status:     string(j.Status),
			ResultText: j.ResultText,
			Error:      j.Error,
			Metadata:   j.Metadata,
		})
	}
	return out, nil
}

// AckDelivery marks a job's delivery attempt as handled, recording receipt
// (an opaque identifier such as a chat message id or webhook response code).
func (r *Runtime) AckDelivery(jobID, receipt string) error {
	return r.store.MarkProactiveDelivery(jobID, receipt)
}

// JobDelivery is the subset of a terminal job's fields the delivery outbox
// needs to announce or POST the result.
type JobDelivery struct {
	JobID      string
	Status     string
	ResultText string
	Error      string
	Metadata   map[string]string
}
