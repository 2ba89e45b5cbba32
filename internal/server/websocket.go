package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fenggwsx/roomlink/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (a *App) websocketHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer conn.Close()
		if a.cfg.MaxFrameBytes > 0 {
			conn.SetReadLimit(int64(a.cfg.MaxFrameBytes))
		}
		stream := &wsStream{conn: conn}
		a.serve(ctx, stream, stream, r.RemoteAddr)
	})
	return mux
}

// wsStream carries one JSON envelope per websocket text frame. gorilla
// connections allow one concurrent reader and one concurrent writer, which
// matches the read loop and write loop of a client session.
type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) ReadEnvelope(_ context.Context) (protocol.Envelope, error) {
	var env protocol.Envelope
	if err := s.conn.ReadJSON(&env); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return env, io.EOF
		}
		return env, err
	}
	return env, nil
}

func (s *wsStream) WriteEnvelope(_ context.Context, env protocol.Envelope) error {
	return s.conn.WriteJSON(env)
}

func (s *wsStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *wsStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
