package server

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleRefreshWS relays progress events over a WebSocket, for dashboard
// clients that already hold a socket open. Same contract as the SSE stream:
// events from connect time onward, closed after a terminal phase.
// GET /api/refresh/ws
func (s *Server) handleRefreshWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The HTTP layer already enforces CORS; the handshake does not
		// need a second origin check.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	eventChan, cancel := s.broadcaster.Subscribe()
	defer cancel()

	s.log.Info().Msg("Client connected to refresh WebSocket")
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return

		case ev, open := <-eventChan:
			if !open {
				conn.Close(websocket.StatusNormalClosure, "broadcaster closed")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				s.log.Info().Err(err).Msg("WebSocket write failed, dropping client")
				return
			}
			if ev.Phase.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "cycle finished")
				return
			}
		}
	}
}
