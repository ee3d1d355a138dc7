// Package routing implements component C6: model-profile route chains,
// fallback/cooldown bookkeeping, and per-profile session pools (§4.6).
package routing

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	defaultCooldownSeconds = 180
	maxAttemptsPerJobCap   = 8
)

// Profile is one named model configuration (§3 ModelProfile).
type Profile struct {
	ID                   string            `json:"id"`
	Provider             string            `json:"provider,omitempty"`
	Model                string            `json:"model,omitempty"`
	SystemPromptOverride string            `json:"systemPromptOverride,omitempty"`
	CooldownSeconds      int               `json:"cooldownSeconds,omitempty"`
	Env                  map[string]string `json:"env,omitempty"`
	EnvFrom              map[string]string `json:"envFrom,omitempty"`
}

// RouteChains maps a job kind (or "default") to an ordered list of profile
// ids to try in turn (§3 Route chains).
type RouteChains struct {
	Default []string `json:"default,omitempty"`
	Task    []string `json:"task,omitempty"`
	Run     []string `json:"run,omitempty"`
}

// Config is the on-disk routing document (§6.1).
type Config struct {
	Profiles          []Profile   `json:"profiles"`
	RouteChains       RouteChains `json:"routeChains"`
	MaxAttemptsPerJob int         `json:"maxAttemptsPerJob,omitempty"`
}

// Load reads and validates a routing config from path. A missing path or
// missing file yields a legacy single-profile config using
// defaultProvider/defaultModel, per §4.6.
func Load(path, defaultProvider, defaultModel string) (Config, error) {
	if path == "" {
		return legacyConfig(defaultProvider, defaultModel), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return legacyConfig(defaultProvider, defaultModel), nil
		}
		return Config{}, fmt.Errorf("routing: read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("routing: parse config: %w", err)
	}
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func legacyConfig(defaultProvider, defaultModel string) Config {
	cfg := Config{
		Profiles: []Profile{{
			ID:              "default",
			Provider:        defaultProvider,
			Model:           defaultModel,
			CooldownSeconds: defaultCooldownSeconds,
		}},
	}
	normalize(&cfg)
	return cfg
}

func normalize(cfg *Config) {
	for i := range cfg.Profiles {
		if cfg.Profiles[i].CooldownSeconds <= 0 {
			cfg.Profiles[i].CooldownSeconds = defaultCooldownSeconds
		}
	}
	firstID := ""
	if len(cfg.Profiles) > 0 {
		firstID = cfg.Profiles[0].ID
	}
	if len(cfg.RouteChains.Default) == 0 {
		cfg.RouteChains.Default = []string{firstID}
	}
	if len(cfg.RouteChains.Task) == 0 {
		cfg.RouteChains.Task = cfg.RouteChains.Default
	}
	if len(cfg.RouteChains.Run) == 0 {
		cfg.RouteChains.Run = cfg.RouteChains.Default
	}
	if cfg.MaxAttemptsPerJob <= 0 {
		cfg.MaxAttemptsPerJob = maxAttemptsPerJobCap
	} else if cfg.MaxAttemptsPerJob > maxAttemptsPerJobCap {
		cfg.MaxAttemptsPerJob = maxAttemptsPerJobCap
	}
}

func validate(cfg Config) error {
	if len(cfg.Profiles) == 0 {
		return fmt.Errorf("routing: at least one profile is required")
	}
	seen := make(map[string]bool, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		if p.ID == "" {
			return fmt.Errorf("routing: profile id must not be empty")
		}
		if seen[p.ID] {
			return fmt.Errorf("routing: duplicate profile id %q", p.ID)
		}
		seen[p.ID] = true
		if p.CooldownSeconds <= 0 {
			return fmt.Errorf("routing: profile %q: cooldownSeconds must be > 0", p.ID)
		}
		for envKey, hostVar := range p.EnvFrom {
			if _, ok := os.LookupEnv(hostVar); !ok {
				return fmt.Errorf("routing: profile %q: envFrom[%q]=%q references missing host variable", p.ID, envKey, hostVar)
			}
		}
	}
	checkChain := func(name string, ids []string) error {
		for _, id := range ids {
			if !seen[id] {
				return fmt.Errorf("routing: route chain %s references unknown profile %q", name, id)
			}
		}
		return nil
	}
	if err := checkChain("default", cfg.RouteChains.Default); err != nil {
		return err
	}
	if err := checkChain("task", cfg.RouteChains.Task); err != nil {
		return err
	}
	if err := checkChain("run", cfg.RouteChains.Run); err != nil {
		return err
	}
	return nil
}

func (c Config) profileByID(id string) (Profile, bool) {
	for _, p := range c.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

func (c Config) chainForKind(kind string) []string {
	switch kind {
	case "task":
		if len(c.RouteChains.Task) > 0 {
			return c.RouteChains.Task
		}
	case "run":
		if len(c.RouteChains.Run) > 0 {
			return c.RouteChains.Run
		}
	}
	return c.RouteChains.Default
}

// ResolvedEnv returns the profile's process environment overlay: static Env
// entries plus EnvFrom entries resolved against the current host
// environment (already validated present at Load time).
func (p Profile) ResolvedEnv() map[string]string {
	env := make(map[string]string, len(p.Env)+len(p.EnvFrom))
	for k, v := range p.Env {
		env[k] = v
	}
	for envKey, hostVar := range p.EnvFrom {
		env[envKey] = os.Getenv(hostVar)
	}
	return env
}
