package ws

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/manpreetbhatti/inkroom/internal/db"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
	"github.com/manpreetbhatti/inkroom/internal/ratelimit"
	"github.com/manpreetbhatti/inkroom/internal/room"
)

// Persister is the part of the store the router writes through.
type Persister interface {
	InsertDrawing(ctx context.Context, roomID int64, elementID, data, userID string) error
	UpsertDrawing(ctx context.Context, roomID int64, elementID, data, userID string) error
	DeleteDrawing(ctx context.Context, roomID int64, elementID string) error
	ClearDrawings(ctx context.Context, roomID int64) error
	ReplaceDrawings(ctx context.Context, roomID int64, userID string, elements []db.ElementData) error
	SaveChat(ctx context.Context, roomID int64, userID, message string) error
}

const persistTimeout = 5 * time.Second

// Hub is the connection registry and room broadcast router. Membership
// lives in two indexes kept in step under mu: room id to connections, and
// each connection's own set of joined rooms.
type Hub struct {
	rooms   map[protocol.RoomID]*room.Room[*Client]
	clients map[*Client]struct{}

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	store    Persister
	limiters *ratelimit.ClientLimiters
	upgrader websocket.Upgrader

	mu sync.RWMutex
}

// NewHub builds a router that persists durable edits through store. A nil
// store relays without persisting.
func NewHub(store Persister) *Hub {
	h := &Hub{
		rooms:      make(map[protocol.RoomID]*room.Room[*Client]),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		store:      store,
		limiters:   ratelimit.NewClientLimiters(messagesPerSecond, messageBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	h.AllowOrigins(nil)
	return h
}

// AllowOrigins restricts which browser origins may open a socket. An empty
// list or "*" allows any origin.
func (h *Hub) AllowOrigins(origins []string) {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowed = nil
			break
		}
		if o != "" {
			allowed[strings.ToLower(o)] = true
		}
	}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[strings.ToLower(origin)]
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()

			log.Printf("🔌 Client %s connected as %s (total: %d)", client.id, client.identity.UserID, total)

		case client := <-h.unregister:
			h.removeClient(client)

		case <-h.stop:
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.limiters.Stop()
	})
}

// removeClient is the implicit leave of every joined room on disconnect.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	for roomID := range c.rooms {
		h.leaveLocked(c, roomID)
	}
	delete(h.clients, c)
	c.closed = true
	close(c.send)

	log.Printf("Client %s disconnected (remaining: %d)", c.id, len(h.clients))
}

// Join adds the connection to a room and tells every member, the joiner
// included, the new presence count.
func (h *Hub) Join(c *Client, roomID protocol.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = room.New[*Client](string(roomID))
		h.rooms[roomID] = r
	}
	if r.Add(c) {
		c.rooms[roomID] = struct{}{}
		log.Printf("Client %s joined room %s (total: %d)", c.id, roomID, r.Len())
	}
	h.sendCountLocked(r, roomID)
}

func (h *Hub) Leave(c *Client, roomID protocol.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, roomID)
}

func (h *Hub) leaveLocked(c *Client, roomID protocol.RoomID) {
	r, ok := h.rooms[roomID]
	if !ok || !r.Remove(c) {
		return
	}
	delete(c.rooms, roomID)

	if r.Empty() {
		delete(h.rooms, roomID)
		log.Printf("Room %s closed (empty)", roomID)
		return
	}
	log.Printf("Client %s left room %s (remaining: %d)", c.id, roomID, r.Len())
	h.sendCountLocked(r, roomID)
}

func (h *Hub) sendCountLocked(r *room.Room[*Client], roomID protocol.RoomID) {
	data := protocol.Encode(protocol.NewUserCount(roomID, r.Len()))
	r.Each(func(member *Client) {
		member.deliverLocked(data)
	})
}

// broadcast sends data to every member of the room except skip, which may be nil.
func (h *Hub) broadcast(roomID protocol.RoomID, data []byte, skip *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return 0
	}
	sent := 0
	r.Each(func(member *Client) {
		if member != skip && member.deliverLocked(data) {
			sent++
		}
	})
	return sent
}

// notify answers the sender only.
func (h *Hub) notify(c *Client, text string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c.deliverLocked(protocol.Encode(protocol.NewNotice(text)))
}

// Dispatch routes one decoded event from c. It runs on c's read goroutine,
// so one connection's events are handled strictly in order: relay first,
// then persist.
func (h *Hub) Dispatch(c *Client, m *protocol.Message) {
	if err := protocol.Validate(m); err != nil {
		log.Printf("⚠️ Invalid %s from client %s: %v", m.Type, c.id, err)
		h.notify(c, protocol.Notice(err))
		return
	}

	switch m.Type {
	case protocol.TypeJoinRoom:
		h.Join(c, m.RoomID)
		return
	case protocol.TypeLeaveRoom:
		h.Leave(c, m.LeaveTarget())
		return
	}

	relay := *m
	relay.Room = ""
	relay.UserID = c.identity.UserID
	data := protocol.Encode(&relay)

	if m.Type == protocol.TypeChat {
		h.broadcast(m.RoomID, data, nil)
	} else {
		h.broadcast(m.RoomID, data, c)
	}

	if h.store != nil && c.identity.Durable() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := h.persist(ctx, c.identity.UserID, m); err != nil {
			log.Printf("⚠️ Failed to persist %s for room %s: %v", m.Type, m.RoomID, err)
		}
	}
}

func (h *Hub) persist(ctx context.Context, userID string, m *protocol.Message) error {
	roomID, err := m.RoomID.Numeric()
	if err != nil {
		return err
	}

	switch m.Type {
	case protocol.TypeDrawing:
		elementID, err := protocol.ElementID([]byte(m.Message))
		if err != nil {
			return err
		}
		return h.store.InsertDrawing(ctx, roomID, elementID, m.Message, userID)

	case protocol.TypeElementUpdated:
		elementID, err := protocol.ElementID(m.Element)
		if err != nil {
			return err
		}
		return h.store.UpsertDrawing(ctx, roomID, elementID, string(m.Element), userID)

	case protocol.TypeElementRemoved:
		return h.store.DeleteDrawing(ctx, roomID, m.ElementID)

	case protocol.TypeClearCanvas:
		return h.store.ClearDrawings(ctx, roomID)

	case protocol.TypeUndo, protocol.TypeRedo:
		items, err := protocol.SplitElements(m.Elements)
		if err != nil {
			return err
		}
		elements := make([]db.ElementData, len(items))
		for i, item := range items {
			id, _ := protocol.ElementID(item)
			elements[i] = db.ElementData{ElementID: id, Data: string(item)}
		}
		return h.store.ReplaceDrawings(ctx, roomID, userID, elements)

	case protocol.TypeChat:
		return h.store.SaveChat(ctx, roomID, userID, m.Message)
	}
	return nil
}

// RoomCount returns the presence count of a room.
func (h *Hub) RoomCount(roomID protocol.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[roomID]; ok {
		return r.Len()
	}
	return 0
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type RoomStat struct {
	RoomID  string `json:"roomId"`
	Clients int    `json:"clients"`
}

func (h *Hub) ActiveRooms() []RoomStat {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := make([]RoomStat, 0, len(h.rooms))
	for id, r := range h.rooms {
		stats = append(stats, RoomStat{RoomID: string(id), Clients: r.Len()})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].RoomID < stats[j].RoomID })
	return stats
}
