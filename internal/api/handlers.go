package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ErrorResponse is the error response body
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// handlePostback handles GET /postback, the public tracking endpoint.
// On success the destination's status and body are mirrored to the caller.
func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	partnerID := query.Get("pid")

	params := make(map[string]string, len(query))
	for key, values := range query {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	out, perr := s.pipeline.Handle(r, partnerID, params)
	if perr != nil {
		if perr.RetryAfter > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(perr.RetryAfter.Seconds()))))
		}
		if s.config.Debug {
			s.sendJSON(w, perr.HTTPStatus, ErrorResponse{Error: perr.Message, Code: string(perr.Code)})
			return
		}
		http.Error(w, http.StatusText(perr.HTTPStatus), perr.HTTPStatus)
		return
	}

	w.WriteHeader(out.Status)
	w.Write([]byte(out.Body))
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
