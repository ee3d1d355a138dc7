package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sidecarhq/agentctl/internal/store"
)

type createJobRequest struct {
	Kind             string            `json:"kind"`
	Prompt           string            `json:"prompt"`
	Channel          string            `json:"channel"`
	ChatID           string            `json:"chatId"`
	ThreadID         *string           `json:"threadId"`
	RequesterID      string            `json:"requesterId"`
	SessionKey       string            `json:"sessionKey"`
	RequiresApproval bool              `json:"requiresApproval"`
	Metadata         map[string]string `json:"metadata"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.validator.validate("createJob", createJobSchema, body); err != nil {
		writeError(w, err)
		return
	}
	var req createJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errValidation("invalid request body"))
		return
	}
	job, err := s.store.CreateJob(store.NewJobRequest{
		Kind:             store.Kind(req.Kind),
		Prompt:           req.Prompt,
		Channel:          req.Channel,
		ChatID:           req.ChatID,
		ThreadID:         req.ThreadID,
		RequesterID:      req.RequesterID,
		SessionKey:       req.SessionKey,
		RequiresApproval: req.RequiresApproval,
		Metadata:         req.Metadata,
	})
	if err != nil {
		writeError(w, storeErr(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*store.Job{"job": job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.PathValue("id"))
	if err != nil {
		writeError(w, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]*store.Job{"job": job})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	cursor := 0
	if c := r.URL.Query().Get("cursor"); c != "" {
		parsed, err := strconv.Atoi(c)
		if err != nil || parsed < 0 {
			writeError(w, errValidation("cursor must be a non-negative integer"))
			return
		}
		cursor = parsed
	}
	events, nextCursor, total, err := s.store.GetEvents(r.PathValue("id"), cursor)
	if err != nil {
		writeError(w, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":     events,
		"nextCursor": nextCursor,
		"total":      total,
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.ApproveJob(r.PathValue("id"))
	if err != nil {
		writeError(w, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]*store.Job{"job": job})
}

func (s *Server) handleAbortJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.RequestAbort(r.PathValue("id"))
	if err != nil {
		writeError(w, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]*store.Job{"job": job})
}
