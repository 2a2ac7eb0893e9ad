package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/minderhq/minder/internal/job"
	"github.com/minderhq/minder/internal/registry"
	"github.com/minderhq/minder/internal/scheduler"
	"github.com/minderhq/minder/internal/track"
)

// Error codes carried in API error responses so clients can branch
// without string matching.
const (
	codeNotFound             = "not_found"
	codeInvalidState         = "invalid_state"
	codeConfirmationRequired = "confirmation_required"
	codeBadRequest           = "bad_request"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// submitRequest is the wire form of a submission. The interval travels
// as float seconds; an explicit disable flag separates "no interval"
// from "use the default".
type submitRequest struct {
	Name            string   `json:"name,omitempty"`
	Args            []string `json:"args"`
	ReportInterval  *float64 `json:"report_interval,omitempty"`
	DisableInterval bool     `json:"disable_interval,omitempty"`
	WorkDir         string   `json:"work_dir,omitempty"`
}

// conditionRequest is the wire form of a condition: a comparison of the
// first scalar against a threshold.
type conditionRequest struct {
	Scalars      []string `json:"scalars"`
	Op           string   `json:"op"`
	Threshold    float64  `json:"threshold"`
	Title        string   `json:"title,omitempty"`
	OnlyRelevant bool     `json:"only_relevant,omitempty"`
}

type scalarRequest struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.cfg.API.Status())
	}
}

func (s *Server) handleStop() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.cfg.API.Stop()
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleSubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
			return
		}

		spec := job.Spec{Name: req.Name, Args: req.Args, WorkDir: req.WorkDir}
		if req.DisableInterval {
			zero := time.Duration(0)
			spec.ReportInterval = &zero
		} else if req.ReportInterval != nil {
			d := time.Duration(*req.ReportInterval * float64(time.Second))
			spec.ReportInterval = &d
		}

		summary, err := s.cfg.API.Submit(spec)
		if err != nil {
			writeCommandError(w, err)
			return
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.JobSubmitted()
		}
		writeJSON(w, http.StatusCreated, summary)
	}
}

func (s *Server) handleList() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.cfg.API.List())
	}
}

func (s *Server) handleGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := s.cfg.API.Logs(chi.URLParam(r, "identifier"))
		if err != nil {
			writeCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, logs.Job)
	}
}

func (s *Server) handleCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		confirmed := r.URL.Query().Get("confirmed") == "true"
		summary, err := s.cfg.API.Cancel(chi.URLParam(r, "identifier"), confirmed)
		if err != nil {
			writeCommandError(w, err)
			return
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.JobCanceled()
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := s.cfg.API.Logs(chi.URLParam(r, "identifier"))
		if err != nil {
			writeCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, logs)
	}
}

func (s *Server) handleNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := s.cfg.API.Notifications(chi.URLParam(r, "identifier"))
		if err != nil {
			writeCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func (s *Server) handleReport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := s.cfg.API.Report(chi.URLParam(r, "identifier"))
		if err != nil {
			writeCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

func (s *Server) handleReportScalar() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scalarRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, codeBadRequest, "scalar name is required")
			return
		}
		if err := s.cfg.API.ReportScalar(chi.URLParam(r, "identifier"), req.Name, req.Value); err != nil {
			writeCommandError(w, err)
			return
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ScalarReported()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAddCondition() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conditionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
			return
		}
		if len(req.Scalars) == 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "at least one scalar name is required")
			return
		}

		pred, err := track.Comparison(req.Op, req.Threshold)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}

		cond := track.NewCondition(req.Scalars, pred)
		if req.Title != "" {
			cond.WithTitle(req.Title)
		}
		if req.OnlyRelevant {
			cond.OnlyRelevant()
		}

		if err := s.cfg.API.AddCondition(chi.URLParam(r, "identifier"), cond); err != nil {
			writeCommandError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

// writeCommandError maps command-layer sentinels onto HTTP statuses and
// stable error codes.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, scheduler.ErrConfirmationRequired):
		writeError(w, http.StatusConflict, codeConfirmationRequired, err.Error())
	case errors.Is(err, registry.ErrInvalidState):
		writeError(w, http.StatusConflict, codeInvalidState, err.Error())
	default:
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
