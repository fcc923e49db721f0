package store

import "errors"

var (
	// ErrRoomExists is returned by CreateRoom when a room with the same
	// id already exists. The create is atomic, so exactly one of two
	// racing creators receives this error.
	ErrRoomExists = errors.New("room already exists")

	// ErrRoomNotFound is returned when no room with the given id exists,
	// including rooms reclaimed by inactivity expiry.
	ErrRoomNotFound = errors.New("room not found")
)
