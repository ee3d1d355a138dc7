package rpcsession

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// session implements Session over a spawned childSession.
type session struct {
	cs *childSession

	promptMu sync.Mutex // Prompt calls are serialized per session (§5)
}

// deltaBuffer accumulates text_delta events so Prompt can fall back to
// them if get_last_assistant_text returns a non-string or empty result.
type deltaBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (d *deltaBuffer) add(s string) {
	d.mu.Lock()
	d.sb.WriteString(s)
	d.mu.Unlock()
}

func (d *deltaBuffer) string() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sb.String()
}

// NewSession spawns a child agent process for opts and returns a ready
// Session. onLog receives raw stderr lines and framing-error notices.
func NewSession(ctx context.Context, opts StartupOptions, onLog func(string)) (Session, error) {
	cs, err := spawn(ctx, opts, onLog)
	if err != nil {
		return nil, err
	}
	return &session{cs: cs}, nil
}

func (s *session) Prompt(ctx context.Context, message string, cb Callbacks) (string, error) {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, PromptCompletionTimeout)
	defer cancel()

	listenerID, events := s.cs.subscribe()
	defer s.cs.unsubscribe(listenerID)

	var buf deltaBuffer

	id := s.cs.nextReqID()
	respCh, cleanup := s.cs.registerPending(id)
	defer cleanup()

	req := envelope{
		Type:    typePrompt,
		ID:      id,
		Command: typePrompt,
		Data:    mustMarshal(map[string]any{"message": message}),
	}
	if err := s.cs.sendRaw(req); err != nil {
		return "", err
	}

	ackCtx, cancelAck := context.WithTimeout(ctx, PromptAckTimeout)
	defer cancelAck()

	acked := false
	for {
		waitCtx := ackCtx
		if acked {
			waitCtx = ctx
		}
		select {
		case resp := <-respCh:
			if !resp.Success {
				return "", fmt.Errorf("rpcsession: prompt rejected: %s", resp.Error)
			}
			acked = true
		case env, ok := <-events:
			if !ok {
				return "", fmt.Errorf("%w", ErrChildExited)
			}
			acked = true
			switch env.Type {
			case eventMessageUpdate:
				if env.AssistantMessageEvent != nil && env.AssistantMessageEvent.Type == assistantTextDelta {
					buf.add(env.AssistantMessageEvent.Delta)
					if cb.OnTextDelta != nil {
						cb.OnTextDelta(env.AssistantMessageEvent.Delta)
					}
				}
			case eventToolExecutionStart:
				if cb.OnToolStart != nil {
					cb.OnToolStart(env.ToolName)
				}
			case eventToolExecutionEnd:
				if cb.OnToolEnd != nil {
					cb.OnToolEnd(env.ToolName)
				}
			case eventAgentEnd:
				text, err := s.fetchLastText(ctx)
				if err != nil {
					return "", err
				}
				if text == "" {
					return buf.string(), nil
				}
				return text, nil
			}
		case <-waitCtx.Done():
			if !acked {
				return "", fmt.Errorf("%w: no activity within %s", ErrTimeout, PromptAckTimeout)
			}
			return "", waitCtx.Err()
		case <-s.cs.exited:
			return "", fmt.Errorf("%w: %v", ErrChildExited, s.cs.exitErr)
		}
	}
}

func (s *session) fetchLastText(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, LastTextTimeout)
	defer cancel()

	id := s.cs.nextReqID()
	resp, err := s.cs.request(reqCtx, envelope{Type: typeGetLastText, ID: id, Command: typeGetLastText}, LastTextTimeout)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("rpcsession: get_last_assistant_text failed: %s", resp.Error)
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	var raw struct {
		Text json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return "", fmt.Errorf("rpcsession: decode last text: %w", err)
	}
	var text string
	if err := json.Unmarshal(raw.Text, &text); err != nil {
		// data.text is present but not a JSON string (e.g. null or a
		// number); the caller falls back to buffered deltas.
		return "", nil
	}
	return strings.TrimRight(text, "\n"), nil
}

func (s *session) Abort(ctx context.Context) error {
	id := s.cs.nextReqID()
	resp, err := s.cs.request(ctx, envelope{Type: typeAbort, ID: id, Command: typeAbort}, AbortTimeout)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("rpcsession: abort failed: %s", resp.Error)
	}
	return nil
}

func (s *session) Stop() {
	s.cs.stop()
}
