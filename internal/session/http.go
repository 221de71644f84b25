package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/manpreetbhatti/inkroom/internal/document"
	"github.com/manpreetbhatti/inkroom/internal/protocol"
)

func (s *Session) getJSON(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(s.cfg.HTTPBase, "/")+path, nil)
	if err != nil {
		return err
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// resolveRoom turns the human readable slug into the numeric room id,
// creating the room on first access.
func (s *Session) resolveRoom(ctx context.Context) (protocol.RoomID, error) {
	var body struct {
		Room *struct {
			ID int64 `json:"id"`
		} `json:"room"`
	}
	if err := s.getJSON(ctx, "/room/"+url.PathEscape(s.cfg.Slug), &body); err != nil {
		return "", err
	}
	if body.Room == nil || body.Room.ID == 0 {
		return "", fmt.Errorf("room %q not found", s.cfg.Slug)
	}
	return protocol.RoomID(strconv.FormatInt(body.Room.ID, 10)), nil
}

// fetchDrawings loads the persisted elements of a room. Entries that do not
// decode are skipped.
func (s *Session) fetchDrawings(ctx context.Context, roomID protocol.RoomID) ([]document.Element, error) {
	var body struct {
		Drawings []json.RawMessage `json:"drawings"`
	}
	if err := s.getJSON(ctx, "/drawings/"+url.PathEscape(string(roomID)), &body); err != nil {
		return nil, err
	}

	elements := make([]document.Element, 0, len(body.Drawings))
	for _, raw := range body.Drawings {
		var e document.Element
		if err := json.Unmarshal(raw, &e); err != nil {
			log.Printf("⚠️ Skipping stored element: %v", err)
			continue
		}
		elements = append(elements, e)
	}
	return elements, nil
}
