package httpapi

import (
	"encoding/json"
	"net/http"
)

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAdminState(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetAdminState()
	if err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAdminPause(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req pauseRequest
	if len(body) > 0 {
		if _, verr := s.validator.validate("adminPause", adminPauseSchema, body); verr != nil {
			writeError(w, verr)
			return
		}
		if jerr := json.Unmarshal(body, &req); jerr != nil {
			writeError(w, errValidation("invalid request body"))
			return
		}
	}
	st, err := s.store.SetPaused(true, req.Reason)
	if err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAdminResume(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.SetPaused(false, "")
	if err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, st)
}
