package types

import (
	"encoding/json"
	"time"
)

const (
	DrawingKindPath  = "path"
	DrawingKindErase = "erase"
	DrawingKindClear = "clear"
)

type Participant struct {
	Id        string `json:"id"`
	Username  string `json:"username"`
	Color     string `json:"color"`
	IsCreator bool   `json:"is_creator"`
}

// DrawingEvent is one attributed, server-timestamped mutation of the
// shared board. The payload is opaque vector-path data owned by the
// rendering client; the server never inspects it.
type DrawingEvent struct {
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	AuthorId   string          `json:"author_id"`
	AuthorName string          `json:"author_name"`
	Color      string          `json:"color,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Room is the public summary of a room, safe to return from the REST
// API. Password and creator token material never appear here.
type Room struct {
	RoomId      string    `json:"room_id"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}
