package rpcsession

import (
	"context"
	"errors"
	"time"
)

// Errors surfaced to callers of Session and Pool.
var (
	ErrChildExited   = errors.New("rpcsession: child process exited")
	ErrStartupFailed = errors.New("rpcsession: child exited during startup")
	ErrTimeout       = errors.New("rpcsession: request timed out")
)

// Timeouts from §4.5.
const (
	PromptAckTimeout        = 60 * time.Second
	PromptCompletionTimeout = 15 * time.Minute
	AbortTimeout            = 10 * time.Second
	LastTextTimeout         = 30 * time.Second
	StartupGrace            = 150 * time.Millisecond
)

// Callbacks receives progress notifications during Prompt. Each callback
// returns quickly; the caller (the worker's claim loop) is responsible for
// any policy evaluation or buffering.
type Callbacks struct {
	OnTextDelta func(delta string)
	OnToolStart func(name string)
	OnToolEnd   func(name string)
	OnLog       func(line string)
}

// Session is one long-lived RPC conversation with a child agent process.
type Session interface {
	// Prompt sends message, streams progress through cb until the child
	// emits agent_end (or the overall timeout elapses), then fetches and
	// returns the last assistant text.
	Prompt(ctx context.Context, message string, cb Callbacks) (string, error)
	// Abort sends a best-effort abort request. Failures are tolerated by
	// the caller because the job's terminal state is decided elsewhere.
	Abort(ctx context.Context) error
	// Stop terminates the child process, escalating to SIGKILL if it does
	// not exit promptly after SIGTERM.
	Stop()
}
