package store

import (
	"github.com/stretchr/testify/mock"
)

type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRoomStore) FindRoom(roomId string) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRoomStore) CreateRoom(room Room) error {
	args := m.Called(room)
	return args.Error(0)
}
func (m *MockRoomStore) SaveRoom(room Room) error {
	args := m.Called(room)
	return args.Error(0)
}
func (m *MockRoomStore) DeleteRoom(roomId string) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockRoomStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
