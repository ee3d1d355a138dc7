package proactive

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrWebhookNotFound is returned when no webhook rule matches the path id.
var ErrWebhookNotFound = errors.New("proactive: webhook not found")

// ErrWebhookSecretMismatch is returned when the caller-supplied secret does
// not match the configured one.
var ErrWebhookSecretMismatch = errors.New("proactive: webhook secret mismatch")

// HandleWebhook processes an inbound POST against webhook id, validating
// secret and packaging payload into the prompt per §4.3 Webhook ingress.
// Webhook triggers skip the backoff check (only heartbeat/cron back off).
func (r *Runtime) HandleWebhook(id, providedSecret string, payload []byte) (EnqueueResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var wh *Webhook
	for i := range r.cfg.Webhooks {
		if r.cfg.Webhooks[i].ID == id {
			wh = &r.cfg.Webhooks[i]
			break
		}
	}
	if wh == nil {
		return EnqueueResult{}, ErrWebhookNotFound
	}
	if subtle.ConstantTimeCompare([]byte(providedSecret), []byte(wh.Secret)) != 1 {
		return EnqueueResult{}, ErrWebhookSecretMismatch
	}

	prompt := wh.Prompt
	if wh.IncludePayloadInPrompt && len(payload) > 0 {
		maxChars := r.cfg.WebhookPayloadMaxChars
		if maxChars <= 0 {
			maxChars = defaultWebhookPayloadMaxChars
		}
		body := prettyJSON(payload)
		if len(body) > maxChars {
			body = body[:maxChars] + "\n...[truncated]"
		}
		prompt = fmt.Sprintf("%s\n\n%s", prompt, body)
	}

	triggerKey := "webhook:" + wh.ID
	return r.attemptEnqueueLocked("webhook", triggerKey, prompt, Delivery{Mode: DeliveryNone}, wh.Target, false)
}

// prettyJSON re-indents payload for inclusion in a prompt (§4.3). Non-JSON
// bodies are appended as-is.
func prettyJSON(payload []byte) string {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(payload)
	}
	return string(pretty)
}
