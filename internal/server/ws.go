package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatty/internal/model"
	"github.com/matheus3301/chatty/internal/registry"
	"go.uber.org/zap"
)

const (
	sendQueueSize = 64
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from the app origin; the bearer token is
	// the actual access control.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn is one live websocket bound to a user's private channel. It
// satisfies registry.Handle: Enqueue never blocks, a full queue drops.
type wsConn struct {
	conn   *websocket.Conn
	send   chan model.Envelope
	closed chan struct{}
	once   sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   conn,
		send:   make(chan model.Envelope, sendQueueSize),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Enqueue(env model.Envelope) bool {
	select {
	case c.send <- env:
		return true
	case <-c.closed:
		return false
	default:
		return false
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// writePump drains the send queue onto the wire and keeps the
// connection alive with pings. A single writer goroutine per
// connection; gorilla connections do not allow concurrent writes.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// handleWS upgrades the request and binds the connection to the
// authenticated user's channel until it drops.
func handleWS(reg *registry.Registry, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims == nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		wc := newWSConn(conn)
		reg.Register(claims.UserID, wc)
		logger.Info("channel opened", zap.String("user_id", claims.UserID))

		go wc.writePump()

		// The channel is push-only. Reading still runs to observe pongs
		// and the close handshake.
		conn.SetReadLimit(1024)
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		reg.Unregister(claims.UserID, wc)
		wc.close()
		logger.Info("channel closed", zap.String("user_id", claims.UserID))
	}
}
