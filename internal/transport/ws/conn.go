// Package ws bridges a client WebSocket to a transcription session.
// Binary frames carry PCM16 audio; text frames carry JSON control messages.
// Every server event is written as a JSON text frame.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-scribe-service/internal/observability/logging"
	"ai-scribe-service/internal/service/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	// OwnerParam is the handshake query parameter naming the user.
	OwnerParam = "userId"
)

// ErrClosed is returned by Send after the connection is closed.
var ErrClosed = errors.New("ws: connection closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI is served from a different origin in development
	},
}

// Conn is a WebSocket with serialized writes. It implements session.Sink.
type Conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an upgraded connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send writes event as a JSON text frame.
func (c *Conn) Send(event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(event)
}

func (c *Conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame and releases the socket. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.ws.Close()
}

// Handler upgrades requests carrying a userId query parameter and serves
// one session per connection.
func Handler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get(OwnerParam)
		if ownerID == "" {
			http.Error(w, "missing "+OwnerParam, http.StatusBadRequest)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			l := logging.WithComponent("ws")
			l.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		Serve(r.Context(), NewConn(ws), reg, ownerID)
	}
}

// Serve runs the read loop until the client goes away, then tears the
// session down: stop, drain, release.
func Serve(ctx context.Context, c *Conn, reg *session.Registry, ownerID string) {
	s := reg.Open(ownerID, c)
	log := logging.WithSession(s.ID(), ownerID).With().Str("component", "ws").Logger()

	stop := make(chan struct{})
	defer func() {
		close(stop)
		reg.Close(context.Background(), s.ID())
		c.Close()
	}()
	go c.keepalive(stop, log)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("Client connection lost")
			} else {
				log.Info().Msg("Client disconnected")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch mt {
		case websocket.BinaryMessage:
			s.HandleAudio(ctx, data)
		case websocket.TextMessage:
			s.HandleMessage(ctx, data)
		}
	}
}

func (c *Conn) keepalive(stop <-chan struct{}, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				log.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}
