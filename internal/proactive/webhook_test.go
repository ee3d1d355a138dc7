package proactive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleWebhookUnknownID(t *testing.T) {
	_, rt := newTestStoreAndRuntime(t, Config{Enabled: true}, func() time.Time { return time.Now() })
	_, err := rt.HandleWebhook("missing", "secret", nil)
	require.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestHandleWebhookSecretMismatch(t *testing.T) {
	cfg := Config{
		Enabled:  true,
		Webhooks: []Webhook{{ID: "wh1", Secret: "super-secret-value", Prompt: "event", Target: basicTarget()}},
	}
	_, rt := newTestStoreAndRuntime(t, cfg, func() time.Time { return time.Now() })

	_, err := rt.HandleWebhook("wh1", "wrong-secret-value!", nil)
	require.ErrorIs(t, err, ErrWebhookSecretMismatch)
}

func TestHandleWebhookEnqueuesJobAndIncludesPayload(t *testing.T) {
	cfg := Config{
		Enabled: true,
		Webhooks: []Webhook{{
			ID: "wh1", Secret: "super-secret-value", Prompt: "got event",
			IncludePayloadInPrompt: true, Target: basicTarget(),
		}},
	}
	st, rt := newTestStoreAndRuntime(t, cfg, func() time.Time { return time.Now() })

	res, err := rt.HandleWebhook("wh1", "super-secret-value", []byte(`{"k":"v"}`))
	require.NoError(t, err)
	require.Equal(t, StatusEnqueued, res.Status)

	job, err := st.GetJob(res.JobID)
	require.NoError(t, err)
	require.Contains(t, job.Prompt, "got event")
	require.Contains(t, job.Prompt, "\"k\": \"v\"", "payload is re-indented as pretty-JSON, not appended raw")
	require.Equal(t, "webhook", job.Metadata["proactiveTriggerKind"])
}

func TestHandleWebhookTruncatesOversizedPayload(t *testing.T) {
	cfg := Config{
		Enabled:                true,
		WebhookPayloadMaxChars: 10,
		Webhooks: []Webhook{{
			ID: "wh1", Secret: "super-secret-value", Prompt: "event",
			IncludePayloadInPrompt: true, Target: basicTarget(),
		}},
	}
	st, rt := newTestStoreAndRuntime(t, cfg, func() time.Time { return time.Now() })

	res, err := rt.HandleWebhook("wh1", "super-secret-value", []byte("0123456789ABCDEFGHIJ"))
	require.NoError(t, err)

	job, err := st.GetJob(res.JobID)
	require.NoError(t, err)
	require.Contains(t, job.Prompt, "...[truncated]")
	require.NotContains(t, job.Prompt, "ABCDEFGHIJ")
}

func TestHandleWebhookSkipsBackoffCheck(t *testing.T) {
	cfg := Config{
		Enabled:  true,
		Webhooks: []Webhook{{ID: "wh1", Secret: "super-secret-value", Prompt: "event", Target: basicTarget()}},
	}
	st, rt := newTestStoreAndRuntime(t, cfg, func() time.Time { return time.Now() })

	res1, err := rt.HandleWebhook("wh1", "super-secret-value", nil)
	require.NoError(t, err)
	_, err = st.FailJob(res1.JobID, "boom")
	require.NoError(t, err)

	res2, err := rt.HandleWebhook("wh1", "super-secret-value", nil)
	require.NoError(t, err)
	require.Equal(t, StatusEnqueued, res2.Status, "webhooks never back off, unlike heartbeat/cron")
}
