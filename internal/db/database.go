package db

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Database struct {
	db *sql.DB
}

var _ Store = (*Database)(nil)

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Pragmas in the DSN apply to every pooled connection. Transactions take
	// the write lock up front so concurrent writers wait instead of failing.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		admin_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS drawings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL,
		element_id TEXT NOT NULL,
		element_data TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_drawings_room_element ON drawings(room_id, element_id);

	CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL,
		message TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chats_room_id ON chats(room_id, id DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

// GetOrCreateRoom resolves a slug to its room, creating it on first access.
func (d *Database) GetOrCreateRoom(ctx context.Context, slug, adminID string) (*Room, error) {
	if _, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (slug, admin_id) VALUES (?, ?)",
		slug, adminID,
	); err != nil {
		return nil, err
	}
	return d.scanRoom(d.db.QueryRowContext(ctx,
		"SELECT id, slug, admin_id, created_at FROM rooms WHERE slug = ?", slug))
}

func (d *Database) GetRoom(ctx context.Context, id int64) (*Room, error) {
	return d.scanRoom(d.db.QueryRowContext(ctx,
		"SELECT id, slug, admin_id, created_at FROM rooms WHERE id = ?", id))
}

func (d *Database) scanRoom(row *sql.Row) (*Room, error) {
	var room Room
	err := row.Scan(&room.ID, &room.Slug, &room.AdminID, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(ctx context.Context, limit, offset int) ([]Room, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, slug, admin_id, created_at FROM rooms ORDER BY id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Slug, &room.AdminID, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Drawing operations

func (d *Database) InsertDrawing(ctx context.Context, roomID int64, elementID, data, userID string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO drawings (room_id, element_id, element_data, user_id) VALUES (?, ?, ?, ?)",
		roomID, elementID, data, userID,
	)
	return err
}

// UpsertDrawing rewrites every stored copy of the element, inserting it when
// the room has none.
func (d *Database) UpsertDrawing(ctx context.Context, roomID int64, elementID, data, userID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE drawings SET element_data = ? WHERE room_id = ? AND element_id = ?",
		data, roomID, elementID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO drawings (room_id, element_id, element_data, user_id) VALUES (?, ?, ?, ?)",
			roomID, elementID, data, userID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *Database) DeleteDrawing(ctx context.Context, roomID int64, elementID string) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM drawings WHERE room_id = ? AND element_id = ?",
		roomID, elementID,
	)
	return err
}

func (d *Database) ClearDrawings(ctx context.Context, roomID int64) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM drawings WHERE room_id = ?", roomID)
	return err
}

// ReplaceDrawings swaps the room's whole element set in one transaction.
func (d *Database) ReplaceDrawings(ctx context.Context, roomID int64, userID string, elements []ElementData) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM drawings WHERE room_id = ?", roomID); err != nil {
		return err
	}

	if len(elements) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO drawings (room_id, element_id, element_data, user_id) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range elements {
			if _, err := stmt.ExecContext(ctx, roomID, e.ElementID, e.Data, userID); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ListDrawings returns the room's elements in creation order.
func (d *Database) ListDrawings(ctx context.Context, roomID int64) ([]Drawing, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, room_id, element_id, element_data, user_id, created_at
		FROM drawings WHERE room_id = ?
		ORDER BY id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drawings []Drawing
	for rows.Next() {
		var dr Drawing
		if err := rows.Scan(&dr.ID, &dr.RoomID, &dr.ElementID, &dr.Data, &dr.UserID, &dr.CreatedAt); err != nil {
			return nil, err
		}
		drawings = append(drawings, dr)
	}
	return drawings, rows.Err()
}

// Chat operations

func (d *Database) SaveChat(ctx context.Context, roomID int64, userID, message string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO chats (room_id, message, user_id) VALUES (?, ?, ?)",
		roomID, message, userID,
	)
	return err
}

// ListChats returns the newest messages first.
func (d *Database) ListChats(ctx context.Context, roomID int64, limit int) ([]Chat, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, room_id, message, user_id, created_at
		FROM chats WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.RoomID, &c.Message, &c.UserID, &c.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (d *Database) ChatRoomIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT DISTINCT room_id FROM chats ORDER BY room_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneChats deletes all but the newest keep messages of a room.
func (d *Database) PruneChats(ctx context.Context, roomID int64, keep int) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM chats
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM chats
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomID, roomID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats

func (d *Database) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	for _, q := range []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM rooms", &s.RoomCount},
		{"SELECT COUNT(*) FROM drawings", &s.DrawingCount},
		{"SELECT COUNT(*) FROM chats", &s.ChatCount},
	} {
		if err := d.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return Stats{}, err
		}
	}
	return s, nil
}

func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.db.PingContext(ctx)
}
