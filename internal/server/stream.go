package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleRefreshStream relays progress events over Server-Sent Events.
// GET /api/refresh/stream
//
// The stream carries every event published after the client connects and
// closes itself once a terminal phase (completed/failed) has been relayed.
// A client that connects while no cycle is running just waits for the next
// one, kept alive by heartbeats.
func (s *Server) handleRefreshStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	eventChan, cancel := s.broadcaster.Subscribe()
	defer cancel()

	s.log.Info().Msg("Client connected to refresh stream")

	// Initial message so the client knows the subscription is live
	fmt.Fprintf(w, "data: %s\n\n", s.encodeJSON(map[string]any{
		"type":       "connected",
		"refreshing": s.orch.Running(),
	}))
	flusher.Flush()

	done := r.Context().Done()

	// Heartbeat ticker to keep the connection alive through proxies
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			s.log.Info().Msg("Client disconnected from refresh stream")
			return

		case ev, open := <-eventChan:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", s.encodeJSON(ev))
			flusher.Flush()

			if ev.Phase.Terminal() {
				s.log.Info().Str("cycle_id", ev.CycleID).Msg("Refresh stream closed at terminal phase")
				return
			}

		case <-heartbeat.C:
			fmt.Fprintf(w, "data: %s\n\n", s.encodeJSON(map[string]any{
				"type":      "heartbeat",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}))
			flusher.Flush()
		}
	}
}

// encodeJSON encodes a value for an SSE data line.
func (s *Server) encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal stream payload")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}
