package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/go-whiteboard/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound tagged union: exactly one of the request
// pointers is set.
type ClientMessage struct {
	BaseMessage
	CreateRoom *CreateRoom `json:"create_room,omitempty"`
	Join       *Join       `json:"join,omitempty"`
	Drawing    *Drawing    `json:"drawing,omitempty"`
	Clear      *Clear      `json:"clear,omitempty"`
	Terminate  *Terminate  `json:"terminate,omitempty"`
	client     *Client     `json:"-"`
}

type CreateRoom struct {
	RoomId   string `json:"room_id"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type Join struct {
	RoomId       string `json:"room_id"`
	Password     string `json:"password"`
	Username     string `json:"username"`
	CreatorToken string `json:"creator_token,omitempty"`
}

type Drawing struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Color   string          `json:"color,omitempty"`
}

type Clear struct{}

type Terminate struct {
	CreatorToken string `json:"creator_token"`
}

// ServerMessage is the outbound tagged union. SkipClient is consulted by
// room broadcasts to exclude the originating connection.
type ServerMessage struct {
	BaseMessage
	Response     *Response           `json:"response,omitempty"`
	RoomCreated  *RoomCreated        `json:"room_created,omitempty"`
	RoomJoined   *RoomJoined         `json:"room_joined,omitempty"`
	Drawing      *types.DrawingEvent `json:"drawing,omitempty"`
	Notification *Notification       `json:"notification,omitempty"`
	SkipClient   *Client             `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

type RoomCreated struct {
	RoomId       string `json:"room_id"`
	CreatorToken string `json:"creator_token"`
	Message      string `json:"message"`
}

type RoomJoined struct {
	RoomId    string               `json:"room_id"`
	Users     []types.Participant  `json:"users"`
	Drawings  []types.DrawingEvent `json:"drawings"`
	UserColor string               `json:"user_color"`
	IsCreator bool                 `json:"is_creator"`
}

type Notification struct {
	UserJoined     *types.Participant  `json:"user_joined,omitempty"`
	UserLeft       *UserLeft           `json:"user_left,omitempty"`
	UsersUpdated   []types.Participant `json:"users_updated,omitempty"`
	BoardCleared   *BoardCleared       `json:"board_cleared,omitempty"`
	RoomTerminated *RoomTerminated     `json:"room_terminated,omitempty"`
}

type UserLeft struct {
	Id       string `json:"id"`
	Username string `json:"username"`
}

type BoardCleared struct {
	AuthorId   string `json:"author_id"`
	AuthorName string `json:"author_name"`
}

type RoomTerminated struct {
	RoomId  string `json:"room_id"`
	Message string `json:"message"`
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrRoomExists(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusConflict,
			Error:        "room already exists",
		},
	}
}

func ErrInvalidPassword(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusUnauthorized,
			Error:        "invalid password",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
