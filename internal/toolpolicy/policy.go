// Package toolpolicy implements component C7: layered allow/deny evaluation
// for tool invocations, composed from a default layer, a per-job-kind layer,
// and a per-model-profile layer (§4.7).
package toolpolicy

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Layer is one named allow/deny rule set. A nil Allow means "no allowlist at
// this layer" (does not narrow); a non-nil empty Allow means "block
// everything unless a later layer replaces it".
type Layer struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// Config is the on-disk tool policy document (§3 ToolPolicy, §6.1).
type Config struct {
	Default   *Layer            `json:"default,omitempty"`
	ByKind    map[string]*Layer `json:"byKind,omitempty"`
	ByProfile map[string]*Layer `json:"byProfile,omitempty"`
}

// Decision is the outcome of evaluating one tool invocation.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason"`
	MatchedDenyPattern string `json:"matchedDenyPattern,omitempty"`
}

const (
	ReasonMatchedDeny    = "matched_deny_rule"
	ReasonAllowlistEmpty = "allowlist_empty"
	ReasonNotInAllowlist = "not_in_allowlist"
	ReasonAllowed        = "allowed"
)

// Engine evaluates tool invocations against a loaded Config. It is safe for
// concurrent use: the config is immutable after construction.
type Engine struct {
	cfg Config
}

// New loads a tool policy from path. A missing path yields an allow-all
// engine per §4.7.
func New(path string) (*Engine, error) {
	if path == "" {
		return &Engine{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Engine{}, nil
		}
		return nil, fmt.Errorf("toolpolicy: read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("toolpolicy: parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// NewFromConfig builds an Engine directly from an already-validated Config,
// without reading a file.
func NewFromConfig(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Validate compiles every pattern in cfg to catch malformed globs up front,
// per §9 "all configuration input is validated up front".
func Validate(cfg Config) error {
	check := func(l *Layer) error {
		if l == nil {
			return nil
		}
		for _, p := range append(append([]string{}, l.Allow...), l.Deny...) {
			if _, err := compilePattern(p); err != nil {
				return fmt.Errorf("toolpolicy: invalid pattern %q: %w", p, err)
			}
		}
		return nil
	}
	if err := check(cfg.Default); err != nil {
		return err
	}
	for k, l := range cfg.ByKind {
		if err := check(l); err != nil {
			return fmt.Errorf("byKind.%s: %w", k, err)
		}
	}
	for p, l := range cfg.ByProfile {
		if err := check(l); err != nil {
			return fmt.Errorf("byProfile.%s: %w", p, err)
		}
	}
	return nil
}

// effective composes the layer order default -> byKind.<kind> ->
// byProfile.<profileID> per §4.7: deny lists accumulate across layers,
// allow lists are replaced by the last layer that sets one.
type effective struct {
	allow    []string // nil = no allowlist constraint
	allowSet bool
	deny     []string
}

func (e *Engine) compose(kind, profileID string) effective {
	var eff effective
	apply := func(l *Layer) {
		if l == nil {
			return
		}
		eff.deny = append(eff.deny, l.Deny...)
		if l.Allow != nil {
			eff.allow = l.Allow
			eff.allowSet = true
		}
	}
	apply(e.cfg.Default)
	if e.cfg.ByKind != nil {
		apply(e.cfg.ByKind[kind])
	}
	if e.cfg.ByProfile != nil {
		apply(e.cfg.ByProfile[profileID])
	}
	return eff
}

// Config returns the engine's loaded policy document, for read-only
// display by the control API's `/v1/tools` listing.
func (e *Engine) Config() Config {
	return e.cfg
}

// Evaluate decides whether toolName may run for a job of the given kind
// under the given model profile id.
func (e *Engine) Evaluate(kind, profileID, toolName string) Decision {
	eff := e.compose(kind, profileID)

	for _, pat := range eff.deny {
		if matches(pat, toolName) {
			return Decision{Allowed: false, Reason: ReasonMatchedDeny, MatchedDenyPattern: pat}
		}
	}
	if eff.allowSet {
		if len(eff.allow) == 0 {
			return Decision{Allowed: false, Reason: ReasonAllowlistEmpty}
		}
		for _, pat := range eff.allow {
			if matches(pat, toolName) {
				return Decision{Allowed: true, Reason: ReasonAllowed}
			}
		}
		return Decision{Allowed: false, Reason: ReasonNotInAllowlist}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

func matches(pattern, name string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("toolpolicy: empty pattern")
	}
	if !strings.Contains(pattern, "*") {
		return regexp.Compile("^" + regexp.QuoteMeta(pattern) + "$")
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}
