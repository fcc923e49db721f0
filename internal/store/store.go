package store

// RoomStore is the durable persistence contract for room documents.
// Implementations must enforce room id uniqueness on CreateRoom and
// reclaim documents whose LastActivity is older than the configured
// inactivity window. Callers must tolerate a document disappearing
// between calls.
type RoomStore interface {
	Ping() error
	FindRoom(roomId string) (Room, error)
	CreateRoom(room Room) error
	SaveRoom(room Room) error
	DeleteRoom(roomId string) error
	Close() error
}
