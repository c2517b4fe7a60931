package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/hollis/chassis/pkg/agent"
)

// handleCompletions runs the agent loop for one request. With "stream"
// set the response is a server-sent event stream; otherwise one JSON body.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.shuttingDown() {
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "messages cannot be empty")
		return
	}

	requestID, _ := gonanoid.New()
	logger := s.logger.With().Str("request_id", requestID).Logger()

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	params := req.toRunParams()

	if req.Stream {
		s.streamCompletion(w, r, requestID, params, logger)
		return
	}

	result, err := s.runner.Run(r.Context(), params)
	if err != nil {
		logger.Error().Err(err).Msg("Run failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, CompletionResponse{
		ID:        requestID,
		Outcome:   result.Outcome,
		Message:   result.Message,
		Messages:  result.Messages,
		ToolCalls: result.ToolCalls,
		Usage:     result.Usage,
	})
}

// streamCompletion writes the run's event stream as server-sent events,
// one data line per event, terminated by [DONE].
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, requestID string, params agent.RunParams, logger zerolog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-Id", requestID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.runner.RunStream(r.Context(), params)
	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to marshal stream event")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			logger.Debug().Err(err).Msg("Client disconnected mid-stream")
			return
		}
		flusher.Flush()
	}

	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleTools returns the aggregated tool catalog.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	descriptors := s.tools.Aggregate(nil)
	tools := make([]ToolInfo, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
			Origin:      string(d.Origin),
			Server:      d.Server,
		})
	}

	s.writeJSON(w, http.StatusOK, ToolListResponse{Tools: tools})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
