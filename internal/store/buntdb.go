package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/buntdb"
)

const roomKeyPrefix = "room:"

// BuntRoomStore is the default embedded store. Documents are stored as
// JSON under "room:<id>" with a buntdb TTL, so inactivity expiry is
// handled by the database itself: every SaveRoom rewrites the key and
// resets its expiry clock.
type BuntRoomStore struct {
	db  *buntdb.DB
	ttl time.Duration
}

// NewBuntRoomStore opens the database at path (":memory:" for an
// in-process, non-persistent store). A non-positive ttl disables expiry.
func NewBuntRoomStore(path string, ttl time.Duration) (*BuntRoomStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}

	return &BuntRoomStore{db: db, ttl: ttl}, nil
}

func (s *BuntRoomStore) setOptions() *buntdb.SetOptions {
	if s.ttl <= 0 {
		return nil
	}
	return &buntdb.SetOptions{Expires: true, TTL: s.ttl}
}

func (s *BuntRoomStore) Ping() error {
	return s.db.View(func(tx *buntdb.Tx) error { return nil })
}

func (s *BuntRoomStore) FindRoom(roomId string) (Room, error) {
	var room Room
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(roomKeyPrefix + roomId)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), &room)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return Room{}, ErrRoomNotFound
	}

	return room, err
}

// CreateRoom inserts the document only if the key does not exist. The
// existence check and the set happen inside one update transaction, so
// the uniqueness guarantee holds under concurrent creates.
func (s *BuntRoomStore) CreateRoom(room Room) error {
	doc, err := json.Marshal(room)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Get(roomKeyPrefix + room.RoomId)
		if err == nil {
			return ErrRoomExists
		}
		if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}

		_, _, err = tx.Set(roomKeyPrefix+room.RoomId, string(doc), s.setOptions())
		return err
	})
}

func (s *BuntRoomStore) SaveRoom(room Room) error {
	doc, err := json.Marshal(room)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(roomKeyPrefix + room.RoomId); err != nil {
			return err
		}

		_, _, err := tx.Set(roomKeyPrefix+room.RoomId, string(doc), s.setOptions())
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return ErrRoomNotFound
	}

	return err
}

func (s *BuntRoomStore) DeleteRoom(roomId string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(roomKeyPrefix + roomId)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return ErrRoomNotFound
	}

	return err
}

func (s *BuntRoomStore) Close() error {
	return s.db.Close()
}
