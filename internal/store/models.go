package store

import (
	"time"

	"github.com/npezzotti/go-whiteboard/internal/types"
)

// Room is the durable document for one whiteboard room. The password is
// kept as a bcrypt hash, never in the clear. Drawings is the append-only
// history; replaying it in order reconstructs the board.
type Room struct {
	RoomId          string               `json:"room_id"`
	PasswordHash    string               `json:"password_hash"`
	CreatorToken    string               `json:"creator_token"`
	CreatorUsername string               `json:"creator_username"`
	CreatedAt       time.Time            `json:"created_at"`
	LastActivity    time.Time            `json:"last_activity"`
	Drawings        []types.DrawingEvent `json:"drawings"`
}
