package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/sidecarhq/agentctl/internal/store"
)

type claimRequest struct {
	WorkerID string `json:"workerId"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, verr := s.validator.validate("claim", claimSchema, body); verr != nil {
		writeError(w, verr)
		return
	}
	var req claimRequest
	if jerr := json.Unmarshal(body, &req); jerr != nil {
		writeError(w, errValidation("invalid request body"))
		return
	}
	job, err := s.store.ClaimNextQueuedJob(req.WorkerID)
	if err != nil {
		writeError(w, errInternal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]*store.Job{"job": job})
}

type postEventRequest struct {
	Event store.JobEvent `json:"event"`
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, verr := s.validator.validate("postWorkerEvent", postWorkerEventSchema, body); verr != nil {
		writeError(w, verr)
		return
	}
	var req postEventRequest
	if jerr := json.Unmarshal(body, &req); jerr != nil {
		writeError(w, errValidation("invalid request body"))
		return
	}
	if err := s.store.AppendWorkerEvent(r.PathValue("id"), req.Event); err != nil {
		writeError(w, storeErr(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	abortRequested, err := s.store.GetAbortRequested(r.PathValue("id"))
	if err != nil {
		writeError(w, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"abortRequested": abortRequested})
}

type completeRequest struct {
	ResultText string `json:"resultText"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, verr := s.validator.validate("completeJob", completeJobSchema, body); verr != nil {
		writeError(w, verr)
		return
	}
	var req completeRequest
	if jerr := json.Unmarshal(body, &req); jerr != nil {
		writeError(w, errValidation("invalid request body"))
		return
	}
	job, err := s.store.CompleteJob(r.PathValue("id"), req.ResultText)
	if err != nil {
		writeError(w, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]*store.Job{"job": job})
}

type failRequest struct {
	Error string `json:"error"`
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, verr := s.validator.validate("failJob", failJobSchema, body); verr != nil {
		writeError(w, verr)
		return
	}
	var req failRequest
	if jerr := json.Unmarshal(body, &req); jerr != nil {
		writeError(w, errValidation("invalid request body"))
		return
	}
	job, err := s.store.FailJob(r.PathValue("id"), req.Error)
	if err != nil {
		writeError(w, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]*store.Job{"job": job})
}

type abortedRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAborted(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req abortedRequest
	if len(body) > 0 {
		if _, verr := s.validator.validate("abortedJob", abortedJobSchema, body); verr != nil {
			writeError(w, verr)
			return
		}
		if jerr := json.Unmarshal(body, &req); jerr != nil {
			writeError(w, errValidation("invalid request body"))
			return
		}
	}
	job, err := s.store.MarkAborted(r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]*store.Job{"job": job})
}
