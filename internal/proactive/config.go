package proactive

import (
	"encoding/json"
	"fmt"

	"github.com/sidecarhq/agentctl/internal/store"
)

// LoadConfig reads and normalizes the proactive config from sink. A missing
// file yields a disabled, empty config.
func LoadConfig(sink store.Sink) (Config, error) {
	data, err := sink.Load()
	if err != nil {
		return Config{}, fmt.Errorf("proactive: load config: %w", err)
	}
	if len(data) == 0 {
		return normalizeConfig(Config{}), nil
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("proactive: parse config: %w", err)
	}
	cfg = normalizeConfig(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalizeConfig(cfg Config) Config {
	if cfg.TickMs <= 0 {
		cfg.TickMs = defaultTickMs
	}
	if cfg.WebhookPayloadMaxChars <= 0 {
		cfg.WebhookPayloadMaxChars = defaultWebhookPayloadMaxChars
	}
	return cfg
}

// ValidateConfig checks id uniqueness across namespaces, cron syntax,
// timezones, and cross-field constraints (§3 ProactiveRule, §4.3 Mutation
// API).
func ValidateConfig(cfg Config) error {
	seen := make(map[string]bool)
	markID := func(id string) error {
		if id == "" {
			return fmt.Errorf("proactive: rule id must not be empty")
		}
		if seen[id] {
			return fmt.Errorf("proactive: duplicate rule id %q", id)
		}
		seen[id] = true
		return nil
	}

	for _, r := range cfg.HeartbeatRules {
		if err := markID(r.ID); err != nil {
			return err
		}
		if r.EverySeconds < minHeartbeatEverySeconds || r.EverySeconds > maxHeartbeatEverySeconds {
			return fmt.Errorf("proactive: heartbeat %q: everySeconds must be in [%d,%d]", r.ID, minHeartbeatEverySeconds, maxHeartbeatEverySeconds)
		}
	}

	for _, r := range cfg.CronRules {
		if err := markID(r.ID); err != nil {
			return err
		}
		if err := validateCronRuleSchedule(r); err != nil {
			return err
		}
		if r.WakeMode == WakeModeNextHeartbeat && r.SessionTarget != SessionTargetMain {
			return fmt.Errorf("proactive: cron %q: wakeMode=next-heartbeat requires sessionTarget=main", r.ID)
		}
		if _, err := resolveLocation(r.Timezone); err != nil {
			return err
		}
	}

	for _, w := range cfg.Webhooks {
		if err := markID(w.ID); err != nil {
			return err
		}
		if len(w.Secret) < 16 {
			return fmt.Errorf("proactive: webhook %q: secret must be at least 16 chars", w.ID)
		}
	}

	return nil
}

func validateCronRuleSchedule(r CronRule) error {
	set := 0
	if r.Expression != "" {
		set++
		if _, err := parseCronExpression(r.Expression); err != nil {
			return fmt.Errorf("proactive: cron %q: %w", r.ID, err)
		}
	}
	if r.At != nil {
		set++
	}
	if r.EverySeconds > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("proactive: cron %q: exactly one of {expression, at, everySeconds} must be set", r.ID)
	}
	return nil
}

// SaveConfig persists cfg through sink, atomically.
func SaveConfig(sink store.Sink, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("proactive: marshal config: %w", err)
	}
	if err := sink.Save(data); err != nil {
		return fmt.Errorf("proactive: save config: %w", err)
	}
	return nil
}
