package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sidecarhq/agentctl/internal/proactive"
)

// handleToolsList returns the effective policy pattern layers (not a live
// tool catalog owned by the external agent process) so gateway-side UIs
// can render what is currently allowed (SPEC_FULL §C.4).
func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"policy": s.policy.get().Config()})
}

type toolInvokeRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolInvokeResponse struct {
	OK     bool `json:"ok"`
	Result any  `json:"result,omitempty"`
}

// handleToolsInvoke dispatches the `tool` name named in §6.3 to the
// matching proactive-runtime operation.
func (s *Server) handleToolsInvoke(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, verr := s.validator.validate("toolInvoke", toolInvokeSchema, body); verr != nil {
		writeError(w, verr)
		return
	}
	var req toolInvokeRequest
	if jerr := json.Unmarshal(body, &req); jerr != nil {
		writeError(w, errValidation("invalid request body"))
		return
	}

	result, invokeErr := s.invokeTool(req.Tool, req.Arguments)
	if invokeErr != nil {
		writeError(w, invokeErr)
		return
	}
	writeJSON(w, http.StatusOK, toolInvokeResponse{OK: true, Result: result})
}

type ruleIDArgs struct {
	ID string `json:"id"`
}

func (s *Server) invokeTool(tool string, args json.RawMessage) (any, *APIError) {
	switch tool {
	case "cron.list":
		return s.proactive.Config().CronRules, nil
	case "cron.add", "cron.update":
		var rule proactive.CronRule
		if err := json.Unmarshal(args, &rule); err != nil {
			return nil, errValidation("arguments: invalid cron rule")
		}
		if err := s.proactive.UpsertCronRule(rule); err != nil {
			return nil, errValidation(err.Error())
		}
		return map[string]string{"id": rule.ID}, nil
	case "cron.remove":
		id, aerr := parseRuleID(args)
		if aerr != nil {
			return nil, aerr
		}
		if err := s.proactive.DeleteCronRule(id); err != nil {
			return nil, errValidation(err.Error())
		}
		return map[string]string{"id": id}, nil
	case "cron.run":
		id, aerr := parseRuleID(args)
		if aerr != nil {
			return nil, aerr
		}
		res, err := s.proactive.TriggerCronNow(id)
		if err != nil {
			return nil, errNotFound(err.Error())
		}
		return res, nil

	case "heartbeat.list":
		return s.proactive.Config().HeartbeatRules, nil
	case "heartbeat.add", "heartbeat.update":
		var rule proactive.HeartbeatRule
		if err := json.Unmarshal(args, &rule); err != nil {
			return nil, errValidation("arguments: invalid heartbeat rule")
		}
		if err := s.proactive.UpsertHeartbeatRule(rule); err != nil {
			return nil, errValidation(err.Error())
		}
		return map[string]string{"id": rule.ID}, nil
	case "heartbeat.remove":
		id, aerr := parseRuleID(args)
		if aerr != nil {
			return nil, aerr
		}
		if err := s.proactive.DeleteHeartbeatRule(id); err != nil {
			return nil, errValidation(err.Error())
		}
		return map[string]string{"id": id}, nil
	case "heartbeat.run":
		id, aerr := parseRuleID(args)
		if aerr != nil {
			return nil, aerr
		}
		res, err := s.proactive.TriggerHeartbeatNow(id)
		if err != nil {
			return nil, errNotFound(err.Error())
		}
		return res, nil

	case "proactive.runs":
		limit := 50
		var q struct {
			Limit      int    `json:"limit"`
			TriggerKey string `json:"triggerKey"`
		}
		if len(args) > 0 {
			_ = json.Unmarshal(args, &q)
		}
		if q.Limit > 0 {
			limit = q.Limit
		}
		runs, err := s.store.ListProactiveRuns(limit, q.TriggerKey)
		if err != nil {
			return nil, errInternal(err.Error())
		}
		return runs, nil

	default:
		return nil, errValidation("unknown tool " + strconv.Quote(tool))
	}
}

func parseRuleID(args json.RawMessage) (string, *APIError) {
	var a ruleIDArgs
	if err := json.Unmarshal(args, &a); err != nil || a.ID == "" {
		return "", errValidation("arguments.id is required")
	}
	return a.ID, nil
}
