package rpcsession

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// PoolConfig fixes the agent binary and session root shared by every
// session the pool spawns; per-session values (provider, model, prompt
// append, sessionKey) vary per call to Get.
type PoolConfig struct {
	AgentBinary string
	SessionRoot string
	Env         map[string]string
}

// Pool lazily constructs and caches one Session per sessionKey, sanitizing
// the key into a session directory name per §4.5. Callers that need
// per-profile isolation (so a session never crosses provider boundaries)
// pass a composite key of the form "<profileId>__<sessionKey>"; Pool
// itself treats the key as opaque.
type Pool struct {
	cfg PoolConfig

	mu       sync.Mutex
	sessions map[string]Session
	onLog    func(sessionKey, line string)
}

// NewPool constructs an empty Pool. onLog, if non-nil, receives every log
// line a session's child process writes to stderr, tagged with the
// sessionKey it came from.
func NewPool(cfg PoolConfig, onLog func(sessionKey, line string)) *Pool {
	return &Pool{
		cfg:      cfg,
		sessions: make(map[string]Session),
		onLog:    onLog,
	}
}

// Get returns the existing session for sessionKey, or spawns a new one
// using provider/model/appendSystemPrompt if none exists yet.
func (p *Pool) Get(ctx context.Context, sessionKey, provider, model, appendSystemPrompt string) (Session, error) {
	p.mu.Lock()
	if s, ok := p.sessions[sessionKey]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	dir := filepath.Join(p.cfg.SessionRoot, SanitizeSessionKey(sessionKey))
	opts := StartupOptions{
		AgentBinary:        p.cfg.AgentBinary,
		SessionDir:         dir,
		Provider:           provider,
		Model:              model,
		AppendSystemPrompt: appendSystemPrompt,
		Env:                p.cfg.Env,
	}

	var onLog func(string)
	if p.onLog != nil {
		onLog = func(line string) { p.onLog(sessionKey, line) }
	}

	s, err := NewSession(ctx, opts, onLog)
	if err != nil {
		return nil, fmt.Errorf("rpcsession: spawn session %q: %w", sessionKey, err)
	}

	p.mu.Lock()
	if existing, ok := p.sessions[sessionKey]; ok {
		p.mu.Unlock()
		s.Stop()
		return existing, nil
	}
	p.sessions[sessionKey] = s
	p.mu.Unlock()

	return s, nil
}

// Evict stops and removes the session for sessionKey, if one exists, so the
// next Get for that key spawns a fresh child.
func (p *Pool) Evict(sessionKey string) {
	p.mu.Lock()
	s, ok := p.sessions[sessionKey]
	if ok {
		delete(p.sessions, sessionKey)
	}
	p.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// StopAll terminates every live session. Called on process shutdown.
func (p *Pool) StopAll() {
	p.mu.Lock()
	sessions := make([]Session, 0, len(p.sessions))
	for k, s := range p.sessions {
		sessions = append(sessions, s)
		delete(p.sessions, k)
	}
	p.mu.Unlock()
	for _, s := range sessions {
		s.Stop()
	}
}
