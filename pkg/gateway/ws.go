package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/hollis/chassis/pkg/agent"
)

// handleWebSocket streams runs over a websocket. Each client message is
// one CompletionRequest; the server answers with the run's event stream
// before reading the next request.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	logger := s.logger.With().Str("client_id", clientID).Logger()
	logger.Info().Str("ip", r.RemoteAddr).Msg("Client connected")

	defer func() {
		conn.Close()
		logger.Info().Msg("Client disconnected")
	}()

	for {
		var req CompletionRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}

		if len(req.Messages) == 0 {
			if err := conn.WriteJSON(agent.Event{
				Type:  agent.EventError,
				Error: "messages cannot be empty",
			}); err != nil {
				return
			}
			continue
		}

		ok := func() bool {
			s.inFlightReqs.Add(1)
			defer s.inFlightReqs.Done()

			events := s.runner.RunStream(r.Context(), req.toRunParams())
			for event := range events {
				if err := conn.WriteJSON(event); err != nil {
					logger.Debug().Err(err).Msg("Client went away mid-run")
					return false
				}
			}
			return true
		}()
		if !ok {
			return
		}
	}
}
