package db

import (
	"context"
	"time"
)

type Room struct {
	ID        int64     `json:"id" bson:"_id"`
	Slug      string    `json:"slug" bson:"slug"`
	AdminID   string    `json:"adminId" bson:"adminId"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Drawing is one persisted element. Data is the element's JSON encoding,
// stored opaquely.
type Drawing struct {
	ID        int64
	RoomID    int64
	ElementID string
	Data      string
	UserID    string
	CreatedAt time.Time
}

// ElementData is an element to be bulk inserted.
type ElementData struct {
	ElementID string
	Data      string
}

type Chat struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"roomId"`
	Message   string    `json:"message"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Stats struct {
	RoomCount    int
	DrawingCount int
	ChatCount    int
}

// Store is the persistence gateway shared by the sqlite and MongoDB backends.
type Store interface {
	GetOrCreateRoom(ctx context.Context, slug, adminID string) (*Room, error)
	GetRoom(ctx context.Context, id int64) (*Room, error)
	ListRooms(ctx context.Context, limit, offset int) ([]Room, error)

	InsertDrawing(ctx context.Context, roomID int64, elementID, data, userID string) error
	UpsertDrawing(ctx context.Context, roomID int64, elementID, data, userID string) error
	DeleteDrawing(ctx context.Context, roomID int64, elementID string) error
	ClearDrawings(ctx context.Context, roomID int64) error
	ReplaceDrawings(ctx context.Context, roomID int64, userID string, elements []ElementData) error
	ListDrawings(ctx context.Context, roomID int64) ([]Drawing, error)

	SaveChat(ctx context.Context, roomID int64, userID, message string) error
	ListChats(ctx context.Context, roomID int64, limit int) ([]Chat, error)
	ChatRoomIDs(ctx context.Context) ([]int64, error)
	PruneChats(ctx context.Context, roomID int64, keep int) (int64, error)

	GetStats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
