package ws

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/manpreetbhatti/inkroom/internal/auth"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
	"github.com/manpreetbhatti/inkroom/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	sendBufferSize    = 256
	messagesPerSecond = 100
	messageBurst      = 200
)

// Authenticator resolves the connect-time token to an identity.
type Authenticator interface {
	Authenticate(token string) (auth.Identity, error)
}

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	identity auth.Identity

	rateLimiter *ratelimit.Limiter

	// Guarded by hub.mu
	rooms  map[protocol.RoomID]struct{}
	closed bool

	kickOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, identity auth.Identity) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		id:          uuid.NewString()[:8],
		identity:    identity,
		rateLimiter: hub.limiters.Get(identity.UserID),
		rooms:       make(map[protocol.RoomID]struct{}),
	}
}

// deliverLocked queues data without blocking. A peer whose buffer is full
// is disconnected rather than allowed to stall the room. The caller holds
// hub.mu.
func (c *Client) deliverLocked(data []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.kick("send buffer full")
		return false
	}
}

func (c *Client) kick(reason string) {
	c.kickOnce.Do(func() {
		log.Printf("🚫 Disconnecting client %s: %s", c.id, reason)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func tokenFrom(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ServeWs upgrades the request and authenticates it. A rejected token
// closes the socket before the connection is registered.
func ServeWs(hub *Hub, authn Authenticator, w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	token := tokenFrom(r)
	if token == "" {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(map[string]string{"message": "Unauthorized"})
		conn.Close()
		return
	}

	identity, err := authn.Authenticate(token)
	if err != nil {
		if !errors.Is(err, auth.ErrAuthRejected) {
			log.Printf("⚠️ Authentication error: %v", err)
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthorized"))
		conn.Close()
		return
	}

	client := newClient(hub, conn, identity)

	select {
	case hub.register <- client:
	case <-hub.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("⚠️ Rate limit exceeded for %s (warning #%d)", c.identity.UserID, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				c.kick("excessive rate limit violations")
				return
			}
			continue
		}

		m, err := protocol.Decode(data)
		if err != nil {
			c.hub.notify(c, protocol.Notice(err))
			continue
		}
		c.hub.Dispatch(c, m)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
