package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sidecarhq/agentctl/internal/proactive"
)

func (s *Server) handleProactiveState(w http.ResponseWriter, r *http.Request) {
	cfg := s.proactive.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":        cfg.Enabled,
		"heartbeatRules": len(cfg.HeartbeatRules),
		"cronRules":      len(cfg.CronRules),
		"webhooks":       len(cfg.Webhooks),
	})
}

func (s *Server) handleProactiveConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proactive.Config())
}

func (s *Server) handleProactiveRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	triggerKey := r.URL.Query().Get("triggerKey")
	jobs, err := s.store.ListProactiveRuns(limit, triggerKey)
	if err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": jobs})
}

func (s *Server) handleUpsertHeartbeat(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, verr := s.validator.validate("upsertHeartbeatRule", upsertHeartbeatRuleSchema, body); verr != nil {
		writeError(w, verr)
		return
	}
	var rule proactive.HeartbeatRule
	if jerr := json.Unmarshal(body, &rule); jerr != nil {
		writeError(w, errValidation("invalid request body"))
		return
	}
	if err := s.proactive.UpsertHeartbeatRule(rule); err != nil {
		writeError(w, errValidation(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.proactive.DeleteHeartbeatRule(r.PathValue("id")); err != nil {
		writeError(w, errValidation(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUpsertCron(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, verr := s.validator.validate("upsertCronRule", upsertCronRuleSchema, body); verr != nil {
		writeError(w, verr)
		return
	}
	var rule proactive.CronRule
	if jerr := json.Unmarshal(body, &rule); jerr != nil {
		writeError(w, errValidation("invalid request body"))
		return
	}
	if err := s.proactive.UpsertCronRule(rule); err != nil {
		writeError(w, errValidation(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteCron(w http.ResponseWriter, r *http.Request) {
	if err := s.proactive.DeleteCronRule(r.PathValue("id")); err != nil {
		writeError(w, errValidation(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePendingDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	deliveries, err := s.proactive.ListPendingDeliveries(limit)
	if err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

type ackDeliveryRequest struct {
	Receipt string `json:"receipt"`
}

func (s *Server) handleAckDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ackDeliveryRequest
	if len(body) > 0 {
		if _, verr := s.validator.validate("ackDelivery", ackDeliverySchema, body); verr != nil {
			writeError(w, verr)
			return
		}
		if jerr := json.Unmarshal(body, &req); jerr != nil {
			writeError(w, errValidation("invalid request body"))
			return
		}
	}
	if err := s.proactive.AckDelivery(r.PathValue("id"), req.Receipt); err != nil {
		writeError(w, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	secret := r.Header.Get("x-webhook-secret")
	res, herr := s.proactive.HandleWebhook(r.PathValue("webhookId"), secret, body)
	if herr != nil {
		switch {
		case errors.Is(herr, proactive.ErrWebhookNotFound):
			writeError(w, errNotFound("webhook not found"))
		case errors.Is(herr, proactive.ErrWebhookSecretMismatch):
			writeError(w, errAuth("missing or invalid webhook secret"))
		default:
			writeError(w, errInternal(herr.Error()))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":     true,
		"status": res.Status,
		"jobId":  res.JobID,
	})
}
