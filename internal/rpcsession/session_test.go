package rpcsession

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMain re-execs this test binary as a fake agent child process when
// GO_WANT_HELPER_PROCESS is set, following the standard library's own
// os/exec test pattern. This lets tests drive the real line-JSON
// transport without depending on an actual agent binary.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		runHelperProcess()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperCommand(behavior string) (string, []string, []string) {
	return os.Args[0], []string{"-test.run=TestMain"}, []string{
		"GO_WANT_HELPER_PROCESS=1",
		"HELPER_BEHAVIOR=" + behavior,
	}
}

// runHelperProcess is the fake child: it reads line-JSON requests from
// stdin and responds according to HELPER_BEHAVIOR.
func runHelperProcess() {
	behavior := os.Getenv("HELPER_BEHAVIOR")
	if behavior == "exit_immediately" {
		return
	}

	w := bufio.NewWriter(os.Stdout)
	writeLine := func(v any) {
		b, _ := json.Marshal(v)
		w.Write(b)
		w.WriteByte('\n')
		w.Flush()
	}

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var req map[string]any
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}
		id, _ := req["id"].(string)
		typ, _ := req["type"].(string)

		switch {
		case typ == typePrompt && behavior == "happy_path":
			writeLine(map[string]any{"type": eventMessageUpdate, "assistantMessageEvent": map[string]any{"type": assistantTextDelta, "delta": "hi"}})
			writeLine(map[string]any{"type": eventAgentEnd})
		case typ == typeGetLastText && behavior == "happy_path":
			writeLine(map[string]any{"type": typeResponse, "id": id, "success": true, "data": map[string]any{"text": "hi"}})
		case typ == typePrompt && behavior == "fallback_to_deltas":
			writeLine(map[string]any{"type": eventMessageUpdate, "assistantMessageEvent": map[string]any{"type": assistantTextDelta, "delta": "buffered"}})
			writeLine(map[string]any{"type": eventAgentEnd})
		case typ == typeGetLastText && behavior == "fallback_to_deltas":
			writeLine(map[string]any{"type": typeResponse, "id": id, "success": true, "data": map[string]any{"text": nil}})
		case typ == typePrompt && behavior == "prompt_rejected":
			writeLine(map[string]any{"type": typeResponse, "id": id, "success": false, "error": "unknown provider: bogus"})
		case typ == typeAbort:
			writeLine(map[string]any{"type": typeResponse, "id": id, "success": true})
		case typ == typeExtensionUIRequest:
			// never sent to us in these tests
		default:
			writeLine(map[string]any{"type": typeResponse, "id": id, "success": true})
		}
	}
}

func TestSanitizeSessionKey(t *testing.T) {
	require.Equal(t, "a_b_c", SanitizeSessionKey("a/b c"))
	require.Equal(t, "abc-123_X.y", SanitizeSessionKey("abc-123_X.y"))
}

func TestSessionStartupFailsWhenChildExitsImmediately(t *testing.T) {
	bin, args, env := helperCommand("exit_immediately")
	opts := StartupOptions{AgentBinary: bin, SessionDir: t.TempDir()}
	opts.Env = envSliceToMap(env)

	_, err := newTestSession(t, bin, args, opts)
	require.ErrorIs(t, err, ErrStartupFailed)
}

func TestSessionPromptHappyPath(t *testing.T) {
	bin, args, env := helperCommand("happy_path")
	opts := StartupOptions{AgentBinary: bin, SessionDir: t.TempDir()}
	opts.Env = envSliceToMap(env)

	s, err := newTestSession(t, bin, args, opts)
	require.NoError(t, err)
	defer s.Stop()

	var deltas []string
	text, err := s.Prompt(context.Background(), "hello", Callbacks{
		OnTextDelta: func(d string) { deltas = append(deltas, d) },
	})
	require.NoError(t, err)
	require.Equal(t, "hi", text)
	require.Equal(t, []string{"hi"}, deltas)
}

func TestSessionPromptFallsBackToBufferedDeltasWhenLastTextNotString(t *testing.T) {
	bin, args, env := helperCommand("fallback_to_deltas")
	opts := StartupOptions{AgentBinary: bin, SessionDir: t.TempDir()}
	opts.Env = envSliceToMap(env)

	s, err := newTestSession(t, bin, args, opts)
	require.NoError(t, err)
	defer s.Stop()

	text, err := s.Prompt(context.Background(), "hello", Callbacks{})
	require.NoError(t, err)
	require.Equal(t, "buffered", text)
}

func TestSessionPromptRejectedAckFailsFastWithChildMessage(t *testing.T) {
	bin, args, env := helperCommand("prompt_rejected")
	opts := StartupOptions{AgentBinary: bin, SessionDir: t.TempDir()}
	opts.Env = envSliceToMap(env)

	s, err := newTestSession(t, bin, args, opts)
	require.NoError(t, err)
	defer s.Stop()

	_, err = s.Prompt(context.Background(), "hello", Callbacks{})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTimeout, "a rejected ack must fail fast, not time out")
	require.Contains(t, err.Error(), "unknown provider: bogus")
}

func TestSessionAbort(t *testing.T) {
	bin, args, env := helperCommand("happy_path")
	opts := StartupOptions{AgentBinary: bin, SessionDir: t.TempDir()}
	opts.Env = envSliceToMap(env)

	s, err := newTestSession(t, bin, args, opts)
	require.NoError(t, err)
	defer s.Stop()

	err = s.Abort(context.Background())
	require.NoError(t, err)
}

// newTestSession re-execs the test binary as the fake child process: only
// the -test.run flag is passed so the child's own flag.Parse (inside
// testing.Main) succeeds, since a re-exec'd test binary cannot also accept
// the production --mode/--session-dir flags on its argv.
func newTestSession(t *testing.T, bin string, extraArgs []string, opts StartupOptions) (Session, error) {
	t.Helper()
	cs, err := spawnProcess(context.Background(), bin, extraArgs, opts.Env, nil)
	if err != nil {
		return nil, err
	}
	return &session{cs: cs}, nil
}

func envSliceToMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}
