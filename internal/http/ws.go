package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/courier-dispatch/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// handleDriverWS streams booking offers and transaction updates to one
// driver's device over its personal channel.
func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "bad driver id", http.StatusBadRequest)
		return
	}
	s.serveChannel(w, r, bus.DriverChannel(id))
}

// handleFeedWS streams the redacted public activity feed.
func (s *Server) handleFeedWS(w http.ResponseWriter, r *http.Request) {
	s.serveChannel(w, r, bus.FeedChannel)
}

// serveChannel bridges one bus subscription onto one websocket. The
// subscription dies with the connection; a slow or gone client only
// loses its own messages.
func (s *Server) serveChannel(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "channel", channel, "error", err)
		return
	}
	defer conn.Close()

	msgs, cancel, err := s.Bus.Subscribe(r.Context(), channel)
	if err != nil {
		s.logger.Error("websocket subscribe failed", "channel", channel, "error", err)
		return
	}
	defer cancel()

	// drain the client side so close frames and pongs are processed
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
