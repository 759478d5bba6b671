// internal/server/handlers.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	pipeerrors "research-pipeline/internal/common/errors"
)

type researchRequest struct {
	Question string `json:"question"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, http.StatusBadRequest, "question is required", nil)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, err := s.pipeline.Run(ctx, req.Question)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	result, err := s.pipeline.Get(r.Context(), runID)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

type refineRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	// Feedback body is optional
	var req refineRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, err := s.pipeline.Refine(ctx, runID, req.Feedback)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true

	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			status[name] = err.Error()
			healthy = false
		} else {
			status[name] = "ok"
		}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"healthy": healthy,
		"checks":  status,
	})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

// writePipelineError maps pipeline error codes onto HTTP statuses.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	code := pipeerrors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case pipeerrors.ErrCodeInvalidQuestion:
		status = http.StatusBadRequest
	case pipeerrors.ErrCodeRunNotFound:
		status = http.StatusNotFound
	case pipeerrors.ErrCodeAlreadyRefined:
		status = http.StatusConflict
	case pipeerrors.ErrCodeNoFindings:
		status = http.StatusUnprocessableEntity
	case pipeerrors.ErrCodeSearchFailed,
		pipeerrors.ErrCodeSearchTimeout,
		pipeerrors.ErrCodeSummaryFailed,
		pipeerrors.ErrCodeGenerationFailed,
		pipeerrors.ErrCodeGenerationTimeout:
		status = http.StatusBadGateway
	}

	var stdErr *pipeerrors.StandardError
	details := ""
	message := err.Error()
	if errors.As(err, &stdErr) {
		message = stdErr.Message
		details = stdErr.Details
	}

	s.logger.Warn("request failed", map[string]interface{}{
		"code":   string(code),
		"status": status,
		"error":  err.Error(),
	})

	s.writeJSON(w, status, errorResponse{
		Error:   message,
		Code:    string(code),
		Details: details,
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, details map[string]interface{}) {
	resp := errorResponse{Error: message}
	if details != nil {
		if d, err := json.Marshal(details); err == nil {
			resp.Details = string(d)
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
