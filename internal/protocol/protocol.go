package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Discriminator carried in the "type" field of every room message
type MessageType string

const (
	// Membership, never persisted
	TypeJoinRoom  MessageType = "join_room"
	TypeLeaveRoom MessageType = "leave_room"

	// Presence count, server to client only
	TypeUserCount MessageType = "userCount"

	// Drawing family, relayed to everyone in the room except the sender
	TypeDrawing        MessageType = "drawing"
	TypeElementUpdated MessageType = "elementUpdated"
	TypeElementRemoved MessageType = "elementRemoved"
	TypeClearCanvas    MessageType = "clearCanvas"
	TypeUndo           MessageType = "undo"
	TypeRedo           MessageType = "redo"

	// Chat, relayed to everyone in the room including the sender
	TypeChat MessageType = "chat"

	// Notice sent only to the connection that caused it
	TypeError MessageType = "error"
)

var ErrMalformedEvent = errors.New("malformed event")

// RoomID accepts both "12" and 12 on the wire and always encodes as a string.
type RoomID string

func (r *RoomID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RoomID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("room id must be a string or number: %w", err)
	}
	*r = RoomID(n.String())
	return nil
}

// Numeric returns the storage key of the room.
func (r RoomID) Numeric() (int64, error) {
	return strconv.ParseInt(string(r), 10, 64)
}

type Message struct {
	Type   MessageType `json:"type,omitempty"`
	RoomID RoomID      `json:"roomId,omitempty"`

	// Legacy leave_room field
	Room RoomID `json:"room,omitempty"`

	// JSON-encoded element for drawing, text for chat and notices
	Message string `json:"message,omitempty"`

	Element   json.RawMessage `json:"element,omitempty"`
	ElementID string          `json:"elementId,omitempty"`
	Elements  json.RawMessage `json:"elements,omitempty"`

	Count  int    `json:"count,omitempty"`
	UserID string `json:"userId,omitempty"`

	hasMessage bool
}

// Decode parses one inbound frame. It only fails on unparsable JSON;
// per-type field checks live in Validate.
func Decode(data []byte) (*Message, error) {
	var probe struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: Invalid message format", ErrMalformedEvent)
	}

	var m Message
	if len(probe.Message) > 0 && probe.Message[0] != '"' {
		// A non-string message is kept out of the typed decode so that
		// chat validation can reject it instead of failing the whole frame.
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: Invalid message format", ErrMalformedEvent)
		}
		delete(raw, "message")
		stripped, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: Invalid message format", ErrMalformedEvent)
		}
		data = stripped
	} else if len(probe.Message) > 0 {
		m.hasMessage = true
	}

	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: Invalid message format", ErrMalformedEvent)
	}
	return &m, nil
}

func malformed(notice string) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, notice)
}

// Notice extracts the text that should be shown to the sender of a malformed event.
func Notice(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	prefix := ErrMalformedEvent.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

// Validate checks that the fields required by the message type are present and well typed.
func Validate(m *Message) error {
	switch m.Type {
	case TypeJoinRoom:
		if m.RoomID == "" {
			return malformed("Invalid join_room payload")
		}
	case TypeLeaveRoom:
		if m.LeaveTarget() == "" {
			return malformed("Invalid leave_room payload")
		}
	case TypeChat:
		if m.RoomID == "" || !m.hasMessage {
			return malformed("Invalid chat payload")
		}
	case TypeDrawing:
		if m.RoomID == "" {
			return malformed("Invalid drawing payload - missing roomId")
		}
		if !m.hasMessage {
			return malformed("Invalid drawing payload - missing message")
		}
	case TypeElementRemoved:
		if m.RoomID == "" || m.ElementID == "" {
			return malformed("Invalid elementRemoved payload")
		}
	case TypeElementUpdated:
		if m.RoomID == "" || !isObject(m.Element) {
			return malformed("Invalid elementUpdated payload")
		}
		if _, err := ElementID(m.Element); err != nil {
			return malformed("Invalid elementUpdated payload")
		}
	case TypeClearCanvas:
		if m.RoomID == "" {
			return malformed("Invalid clearCanvas payload")
		}
	case TypeUndo, TypeRedo:
		if m.RoomID == "" {
			return malformed(fmt.Sprintf("Invalid %s payload", m.Type))
		}
		if _, err := SplitElements(m.Elements); err != nil {
			return malformed(fmt.Sprintf("Invalid %s payload", m.Type))
		}
	case "":
		return malformed("Missing message type")
	default:
		return malformed("Unknown message type")
	}
	return nil
}

// LeaveTarget returns roomId, falling back to the legacy room field.
func (m *Message) LeaveTarget() RoomID {
	if m.RoomID != "" {
		return m.RoomID
	}
	return m.Room
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// ElementID reads the "id" field of an encoded element.
func ElementID(raw []byte) (string, error) {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", err
	}
	if head.ID == "" {
		return "", errors.New("element has no id")
	}
	return head.ID, nil
}

// SplitElements decodes a snapshot array into its encoded elements.
// Every entry must be an object with an id.
func SplitElements(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, errors.New("elements must be an array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	for _, item := range items {
		if !isObject(item) {
			return nil, errors.New("element must be an object")
		}
		if _, err := ElementID(item); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func Encode(m *Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// Message only holds strings, ints and pre-validated raw JSON
		panic(fmt.Sprintf("protocol: encode %s: %v", m.Type, err))
	}
	return data
}

func NewUserCount(roomID RoomID, count int) *Message {
	return &Message{Type: TypeUserCount, RoomID: roomID, Count: count}
}

func NewNotice(text string) *Message {
	return &Message{Type: TypeError, Message: text}
}

// NewSnapshot builds an undo or redo message. An empty snapshot still encodes as [].
func NewSnapshot(t MessageType, roomID RoomID, elements json.RawMessage) *Message {
	if len(bytes.TrimSpace(elements)) == 0 || bytes.Equal(bytes.TrimSpace(elements), []byte("null")) {
		elements = json.RawMessage("[]")
	}
	return &Message{Type: t, RoomID: roomID, Elements: elements}
}
