package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_responseHelpers(t *testing.T) {
	tt := []struct {
		name string
		msg  *ServerMessage
		code int
	}{
		{"room not found", ErrRoomNotFound(1), http.StatusNotFound},
		{"room exists", ErrRoomExists(2), http.StatusConflict},
		{"invalid password", ErrInvalidPassword(3), http.StatusUnauthorized},
		{"internal error", ErrInternalError(4), http.StatusInternalServerError},
		{"service unavailable", ErrServiceUnavailable(5), http.StatusServiceUnavailable},
		{"invalid message", ErrInvalidMessage(6), http.StatusBadRequest},
	}

	for i, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotNil(t, tc.msg.Response, "expected a response")
			assert.Equal(t, tc.code, tc.msg.Response.ResponseCode, "expected matching status code")
			assert.NotEmpty(t, tc.msg.Response.Error, "expected an error string")
			assert.Equal(t, i+1, tc.msg.Id, "expected request id to be echoed")
			assert.False(t, tc.msg.Timestamp.IsZero(), "expected a timestamp")
		})
	}
}

func Test_ErrInvalidMessage_unparseableRequest(t *testing.T) {
	// a request whose id could not be parsed carries no echoable id
	msg := ErrInvalidMessage(-1)
	assert.Zero(t, msg.Id, "expected no id on the reply")

	bytes, err := json.Marshal(msg)
	assert.NoError(t, err)
	assert.NotContains(t, string(bytes), `"id"`, "expected id to be omitted from the wire form")
}

func Test_clientMessageDecoding(t *testing.T) {
	raw := []byte(`{
		"id": 4,
		"join": {"room_id": "ABC1", "password": "secret", "username": "alice", "creator_token": "tok"}
	}`)

	var msg ClientMessage
	assert.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, 4, msg.Id)
	assert.NotNil(t, msg.Join, "expected join payload")
	assert.Equal(t, "ABC1", msg.Join.RoomId)
	assert.Equal(t, "secret", msg.Join.Password)
	assert.Equal(t, "alice", msg.Join.Username)
	assert.Equal(t, "tok", msg.Join.CreatorToken)
	assert.Nil(t, msg.Drawing, "expected no other payload to be set")
}

func TestNow(t *testing.T) {
	now := Now()
	_, offset := now.Zone()
	assert.Zero(t, offset, "expected UTC timestamps")
	assert.Zero(t, now.Nanosecond()%int(1e6), "expected millisecond precision")
}
