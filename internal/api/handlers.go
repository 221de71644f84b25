package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/manpreetbhatti/inkroom/internal/db"
	"github.com/manpreetbhatti/inkroom/internal/document"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
	"github.com/manpreetbhatti/inkroom/internal/render"
	"github.com/manpreetbhatti/inkroom/internal/ws"
)

const (
	chatHistoryLimit = 50
	requestTimeout   = 10 * time.Second
	maxBodyBytes     = 1 << 20
)

type API struct {
	hub   *ws.Hub
	store db.Store
}

func New(hub *ws.Hub, store db.Store) *API {
	return &API{
		hub:   hub,
		store: store,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"message": message})
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

// Register mounts every route on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.HealthHandler)
	mux.HandleFunc("/api/stats", a.StatsHandler)
	mux.HandleFunc("/api/rooms", a.RoomsRouter)
	mux.HandleFunc("/api/rooms/", a.RoomsRouter)
	mux.HandleFunc("/room/", a.RoomBySlugHandler)
	mux.HandleFunc("/drawings", a.DrawingsRouter)
	mux.HandleFunc("/drawings/", a.DrawingsRouter)
	mux.HandleFunc("/chats/", a.ChatsHandler)
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := a.store.Ping(ctx); err != nil {
		log.Printf("⚠️ Health check: store unreachable: %v", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}

	jsonResponse(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   len(a.hub.ActiveRooms()),
		"active_clients": a.hub.ClientCount(),
		"rooms":          a.hub.ActiveRooms(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if dbStats, err := a.store.GetStats(ctx); err == nil {
		stats["total_rooms"] = dbStats.RoomCount
		stats["total_drawings"] = dbStats.DrawingCount
		stats["total_chats"] = dbStats.ChatCount
	} else {
		log.Printf("⚠️ Stats: %v", err)
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	AdminID     string    `json:"adminId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ActiveUsers int       `json:"activeUsers"`
}

func (a *API) roomResponse(room *db.Room) RoomResponse {
	return RoomResponse{
		ID:          room.ID,
		Slug:        room.Slug,
		AdminID:     room.AdminID,
		CreatedAt:   room.CreatedAt,
		ActiveUsers: a.hub.RoomCount(protocol.RoomID(strconv.FormatInt(room.ID, 10))),
	}
}

// RoomBySlugHandler resolves a slug to its room, creating it on first access.
func (a *API) RoomBySlugHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	slug := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/room/"), "/")
	if slug == "" || strings.Contains(slug, "/") {
		errorResponse(w, http.StatusBadRequest, "Room slug is required")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	room, err := a.store.GetOrCreateRoom(ctx, slug, "")
	if err != nil {
		log.Printf("Failed to resolve room %q: %v", slug, err)
		jsonResponse(w, http.StatusInternalServerError, map[string]interface{}{
			"room":    nil,
			"message": "Failed to create room",
		})
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room": a.roomResponse(room),
	})
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	rooms, err := a.store.ListRooms(ctx, limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	response := make([]RoomResponse, len(rooms))
	for i := range rooms {
		response[i] = a.roomResponse(&rooms[i])
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	// Extract room ID from path: /api/rooms/{id}
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/rooms/"), "/")
	roomID, err := strconv.ParseInt(path, 10, 64)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid room ID")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	room, err := a.store.GetRoom(ctx, roomID)
	if errors.Is(err, db.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	jsonResponse(w, http.StatusOK, a.roomResponse(room))
}

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/rooms")
	if path == "" || path == "/" {
		a.ListRoomsHandler(w, r)
		return
	}
	a.GetRoomHandler(w, r)
}

// Drawing handlers

type SaveDrawingRequest struct {
	RoomID      protocol.RoomID `json:"roomId"`
	ElementID   string          `json:"elementId"`
	ElementData json.RawMessage `json:"elementData"`
	UserID      string          `json:"userId"`
}

type DeleteDrawingRequest struct {
	RoomID protocol.RoomID `json:"roomId"`
}

func parseRoomID(s string) (int64, bool) {
	id, err := protocol.RoomID(s).Numeric()
	return id, err == nil
}

func (a *API) loadElements(ctx context.Context, roomID int64) ([]json.RawMessage, error) {
	drawings, err := a.store.ListDrawings(ctx, roomID)
	if err != nil {
		return nil, err
	}

	elements := make([]json.RawMessage, 0, len(drawings))
	for _, d := range drawings {
		if !json.Valid([]byte(d.Data)) {
			log.Printf("⚠️ Skipping corrupt element %s in room %d", d.ElementID, roomID)
			continue
		}
		elements = append(elements, json.RawMessage(d.Data))
	}
	return elements, nil
}

// ListDrawingsHandler returns a room's elements in creation order.
func (a *API) ListDrawingsHandler(w http.ResponseWriter, r *http.Request, rawRoomID string) {
	roomID, ok := parseRoomID(rawRoomID)
	if !ok {
		jsonResponse(w, http.StatusBadRequest, map[string]interface{}{
			"message":  "Invalid room ID",
			"drawings": []json.RawMessage{},
		})
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	elements, err := a.loadElements(ctx, roomID)
	if err != nil {
		log.Printf("Failed to fetch drawings for room %d: %v", roomID, err)
		jsonResponse(w, http.StatusInternalServerError, map[string]interface{}{
			"message":  "Failed to fetch drawings",
			"drawings": []json.RawMessage{},
		})
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"drawings": elements,
	})
}

func (a *API) PreviewHandler(w http.ResponseWriter, r *http.Request, rawRoomID string) {
	roomID, ok := parseRoomID(rawRoomID)
	if !ok {
		errorResponse(w, http.StatusBadRequest, "Invalid room ID")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	raw, err := a.loadElements(ctx, roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to fetch drawings")
		return
	}

	elements := make([]document.Element, 0, len(raw))
	for _, data := range raw {
		var e document.Element
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		elements = append(elements, e)
	}

	dark := r.URL.Query().Get("dark") == "1"
	canvas := render.Preview(document.New(elements), dark)

	var buf bytes.Buffer
	if err := canvas.EncodePNG(&buf); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to render preview")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (a *API) SaveDrawingHandler(w http.ResponseWriter, r *http.Request) {
	var req SaveDrawingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	roomID, ok := parseRoomID(string(req.RoomID))
	if !ok || req.ElementID == "" || len(req.ElementData) == 0 || string(req.ElementData) == "null" {
		errorResponse(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = "guest"
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := a.store.InsertDrawing(ctx, roomID, req.ElementID, string(req.ElementData), userID); err != nil {
		log.Printf("Failed to save drawing: %v", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to save drawing")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Drawing saved successfully"})
}

func (a *API) DeleteDrawingHandler(w http.ResponseWriter, r *http.Request, elementID string) {
	var req DeleteDrawingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	roomID, ok := parseRoomID(string(req.RoomID))
	if !ok {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := a.store.DeleteDrawing(ctx, roomID, elementID); err != nil {
		log.Printf("Failed to delete drawing: %v", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to delete drawing")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Drawing deleted successfully"})
}

func (a *API) DrawingsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/drawings"), "/")

	// /drawings
	if path == "" {
		if r.Method != http.MethodPost {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.SaveDrawingHandler(w, r)
		return
	}

	// /drawings/{roomId}/preview.png
	if roomID, ok := strings.CutSuffix(path, "/preview.png"); ok {
		if r.Method != http.MethodGet {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.PreviewHandler(w, r, roomID)
		return
	}

	// /drawings/{roomId} or /drawings/{elementId}
	switch r.Method {
	case http.MethodGet:
		a.ListDrawingsHandler(w, r, path)
	case http.MethodDelete:
		a.DeleteDrawingHandler(w, r, path)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Chat handlers

// ChatsHandler returns the newest messages of a room, newest first.
func (a *API) ChatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	roomID, ok := parseRoomID(strings.Trim(strings.TrimPrefix(r.URL.Path, "/chats/"), "/"))
	if !ok {
		jsonResponse(w, http.StatusOK, map[string]interface{}{"messages": []db.Chat{}})
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	chats, err := a.store.ListChats(ctx, roomID, chatHistoryLimit)
	if err != nil {
		log.Printf("Failed to fetch chats for room %d: %v", roomID, err)
		chats = nil
	}
	if chats == nil {
		chats = []db.Chat{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{"messages": chats})
}
