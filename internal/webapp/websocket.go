package webapp

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JonathanBrouwer/lightbringer/internal/light"
	"github.com/JonathanBrouwer/lightbringer/internal/pkg/metrics"
	"github.com/JonathanBrouwer/lightbringer/pkg/valuesync"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// serveWS streams the light state as 8-byte binary frames in both
// directions. A client never receives its own writes back.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	select {
	case s.sessions <- struct{}{}:
		defer func() { <-s.sessions }()
	default:
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}

	watcher, err := s.cfg.State.Watch()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer watcher.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "Failed to upgrade to websocket")
		return
	}
	defer conn.Close()

	s.log.Info("Websocket opened, sending initial state", "remote", r.RemoteAddr)
	initial := s.cfg.State.Snapshot().Encode()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, initial[:]); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readPump(ctx, cancel, conn, watcher)
	s.writePump(ctx, conn, watcher)
	s.log.Info("Websocket closed", "remote", r.RemoteAddr)
}

// readPump is the only reader of conn.
func (s *Server) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, watcher *valuesync.Watcher[light.State]) {
	defer cancel()

	conn.SetReadLimit(light.StateLen * 8)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Error(err, "Websocket read error")
			}
			return
		}
		if kind != websocket.BinaryMessage {
			s.log.Info("Closing websocket after non-binary message")
			return
		}
		st, err := light.Decode(msg)
		if err != nil {
			s.log.Info("Received invalid websocket frame", "bytes", msg)
			return
		}
		watcher.Publish(st)
		metrics.LightWritesTotal.WithLabelValues("websocket").Inc()
	}
}

// writePump is the only writer of conn.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, watcher *valuesync.Watcher[light.State]) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-watcher.Changed():
			// The reader may have published in between; that write is
			// not echoed.
			st, ok := watcher.TryRead()
			if !ok {
				continue
			}
			b := st.Encode()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, b[:]); err != nil {
				return
			}
		}
	}
}
