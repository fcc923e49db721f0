package server

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"github.com/npezzotti/go-whiteboard/internal/stats"
	"github.com/npezzotti/go-whiteboard/internal/store"
	"github.com/npezzotti/go-whiteboard/internal/testutil"
)

// newTestBoardServer creates a new BoardServer instance for testing purposes
func newTestBoardServer(t *testing.T, db store.RoomStore, su *stats.MockStatsUpdater) *BoardServer {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	bs, err := NewBoardServer(logger, db, su)
	if err != nil {
		t.Fatalf("failed to create test BoardServer: %v", err)
	}
	return bs
}

func newTestClient(t *testing.T, id string, bs *BoardServer) *Client {
	return &Client{
		id:          id,
		boardServer: bs,
		log:         testutil.TestLogger(t),
		send:        make(chan *ServerMessage, 256),
		stop:        make(chan struct{}),
	}
}

func TestNewBoardServer(t *testing.T) {
	db := &store.MockRoomStore{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	bs, err := NewBoardServer(logger, db, su)
	assert.NoError(t, err, "expected no error creating board server")
	assert.NotNil(t, bs, "expected board server to be non-nil")
	assert.NotNil(t, bs.rooms, "expected rooms map to be initialized")
	assert.NotNil(t, bs.clients, "expected clients map to be initialized")
}

func Test_createRoom(t *testing.T) {
	t.Run("successful create", func(t *testing.T) {
		db := &store.MockRoomStore{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", statRoomsCreated).Return(nil).Once()

		db.On("CreateRoom", mock.MatchedBy(func(r store.Room) bool {
			return r.RoomId == "ABC1" &&
				r.CreatorUsername == "alice" &&
				r.CreatorToken != "" &&
				bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte("secret")) == nil
		})).Return(nil).Once()

		bs := newTestBoardServer(t, db, su)
		c := newTestClient(t, "conn-1", bs)

		bs.createRoom(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			CreateRoom:  &CreateRoom{RoomId: "ABC1", Password: "secret", Username: "alice"},
			client:      c,
		})

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg.RoomCreated, "expected room created reply")
			assert.Equal(t, "ABC1", msg.RoomCreated.RoomId, "expected room id to match")
			assert.NotEmpty(t, msg.RoomCreated.CreatorToken, "expected creator token to be minted")
		default:
			t.Error("expected a reply to the creator, but none was sent")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		db := &store.MockRoomStore{}
		defer db.AssertExpectations(t)

		bs := newTestBoardServer(t, db, &stats.MockStatsUpdater{})
		c := newTestClient(t, "conn-1", bs)

		bs.createRoom(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			CreateRoom:  &CreateRoom{RoomId: "ABC1"},
			client:      c,
		})

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg.Response, "expected an error response")
			assert.Equal(t, http.StatusBadRequest, msg.Response.ResponseCode, "expected bad request")
		default:
			t.Error("expected an error reply, but none was sent")
		}

		db.AssertNotCalled(t, "CreateRoom", mock.Anything)
	})

	t.Run("room already exists", func(t *testing.T) {
		db := &store.MockRoomStore{}
		defer db.AssertExpectations(t)

		db.On("CreateRoom", mock.Anything).Return(store.ErrRoomExists).Once()

		bs := newTestBoardServer(t, db, &stats.MockStatsUpdater{})
		c := newTestClient(t, "conn-1", bs)

		bs.createRoom(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			CreateRoom:  &CreateRoom{RoomId: "ABC1", Password: "secret", Username: "alice"},
			client:      c,
		})

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg.Response, "expected an error response")
			assert.Equal(t, http.StatusConflict, msg.Response.ResponseCode, "expected conflict")
			assert.Equal(t, "room already exists", msg.Response.Error, "expected error message to match")
		default:
			t.Error("expected an error reply, but none was sent")
		}
	})

	t.Run("store failure", func(t *testing.T) {
		db := &store.MockRoomStore{}
		defer db.AssertExpectations(t)

		db.On("CreateRoom", mock.Anything).Return(assert.AnError).Once()

		bs := newTestBoardServer(t, db, &stats.MockStatsUpdater{})
		c := newTestClient(t, "conn-1", bs)

		bs.createRoom(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			CreateRoom:  &CreateRoom{RoomId: "ABC1", Password: "secret", Username: "alice"},
			client:      c,
		})

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg.Response, "expected an error response")
			assert.Equal(t, http.StatusInternalServerError, msg.Response.ResponseCode, "expected internal error")
		default:
			t.Error("expected an error reply, but none was sent")
		}
	})
}

func Test_createRoom_race(t *testing.T) {
	// the store's atomic create arbitrates: exactly one of two
	// concurrent creators wins
	db := &store.MockRoomStore{}
	defer db.AssertExpectations(t)

	db.On("CreateRoom", mock.Anything).Return(nil).Once()
	db.On("CreateRoom", mock.Anything).Return(store.ErrRoomExists).Once()

	su := &stats.MockStatsUpdater{}
	su.On("Incr", statRoomsCreated).Return(nil).Once()

	bs := newTestBoardServer(t, db, su)
	c1 := newTestClient(t, "conn-1", bs)
	c2 := newTestClient(t, "conn-2", bs)

	var wg sync.WaitGroup
	for _, c := range []*Client{c1, c2} {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			bs.createRoom(&ClientMessage{
				BaseMessage: BaseMessage{Id: 1},
				CreateRoom:  &CreateRoom{RoomId: "ABC1", Password: "secret", Username: c.id},
				client:      c,
			})
		}(c)
	}
	wg.Wait()

	var created, conflicts int
	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.send:
			switch {
			case msg.RoomCreated != nil:
				created++
			case msg.Response != nil && msg.Response.ResponseCode == http.StatusConflict:
				conflicts++
			default:
				t.Errorf("unexpected reply for %q: %+v", c.id, msg)
			}
		default:
			t.Errorf("expected a reply for %q, but none was sent", c.id)
		}
	}

	assert.Equal(t, 1, created, "expected exactly one creator to win")
	assert.Equal(t, 1, conflicts, "expected exactly one creator to receive a conflict")
}

func Test_handleJoinRequest(t *testing.T) {
	t.Run("starts room lazily and routes the join", func(t *testing.T) {
		db := &store.MockRoomStore{}
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", statActiveRooms).Return(nil).Once()

		// the actor resolves existence itself: a bad room id answers
		// "room not found"
		db.On("FindRoom", "ABC1").Return(store.Room{}, store.ErrRoomNotFound).Twice()

		bs := newTestBoardServer(t, db, su)
		c := newTestClient(t, "conn-1", bs)

		msg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Join:        &Join{RoomId: "ABC1", Password: "secret", Username: "bob"},
			client:      c,
		}
		bs.handleJoinRequest(msg)

		room, ok := bs.getRoom("ABC1")
		assert.True(t, ok, "expected room to be registered in the active table")

		select {
		case reply := <-c.send:
			assert.NotNil(t, reply.Response, "expected an error response")
			assert.Equal(t, http.StatusNotFound, reply.Response.ResponseCode, "expected room not found")
		case <-time.After(time.Second):
			t.Error("timeout: join was not answered")
		}

		// second join reuses the same actor
		bs.handleJoinRequest(msg)
		room2, _ := bs.getRoom("ABC1")
		assert.Same(t, room, room2, "expected the same room actor for the same id")

		select {
		case reply := <-c.send:
			assert.NotNil(t, reply.Response, "expected an error response")
		case <-time.After(time.Second):
			t.Error("timeout: second join was not answered")
		}

		close(room.exit)
		select {
		case <-room.done:
		case <-time.After(time.Second):
			t.Error("timeout: room actor did not exit")
		}
	})
}

func Test_addClient_removeClient(t *testing.T) {
	bs := newTestBoardServer(t, &store.MockRoomStore{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, "conn-1", bs)

	bs.addClient(c)
	assert.Contains(t, bs.clients, c, "expected clients map to contain client")

	bs.removeClient(c)
	assert.NotContains(t, bs.clients, c, "expected clients map to not contain client after removal")
}

func Test_unloadRoom(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Decr", statActiveRooms).Return(nil).Once()

	bs := newTestBoardServer(t, &store.MockRoomStore{}, su)

	room := newRoom(bs, "ABC1")
	bs.addRoom(room)
	go room.start()

	bs.unloadRoom("ABC1")

	_, ok := bs.getRoom("ABC1")
	assert.False(t, ok, "expected room to be removed from the active table")

	select {
	case <-room.done:
	case <-time.After(time.Second):
		t.Error("timeout: room actor did not exit")
	}

	// unloading an unknown room is a no-op
	bs.unloadRoom("nope")
}

func TestRoomMembers(t *testing.T) {
	bs := newTestBoardServer(t, &store.MockRoomStore{}, &stats.MockStatsUpdater{})

	_, ok := bs.RoomMembers("ABC1")
	assert.False(t, ok, "expected no live room")

	room := newRoom(bs, "ABC1")
	bs.addRoom(room)
	room.addMember(newTestClient(t, "conn-1", bs), nil)

	n, ok := bs.RoomMembers("ABC1")
	assert.True(t, ok, "expected live room")
	assert.Equal(t, 1, n, "expected one connected member")
}

func TestShutdown(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	bs := newTestBoardServer(t, &store.MockRoomStore{}, su)

	room := newRoom(bs, "ABC1")
	bs.addRoom(room)
	go room.start()

	go bs.Run()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := bs.Shutdown(ctx)
	assert.NoError(t, err, "expected successful shutdown without error")

	select {
	case <-bs.done:
	case <-time.After(time.Second):
		t.Error("timeout: run loop did not exit")
	}
}

func TestRun_registersClients(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", statConnectedClients).Return(nil).Once()
	su.On("Decr", statConnectedClients).Return(nil).Once()
	defer su.AssertExpectations(t)

	bs := newTestBoardServer(t, &store.MockRoomStore{}, su)
	go bs.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bs.Shutdown(ctx)
	}()

	c := newTestClient(t, "conn-1", bs)
	bs.RegisterClient(c)
	bs.DeregisterClient(c)

	assert.Eventually(t, func() bool {
		bs.clientsLock.Lock()
		defer bs.clientsLock.Unlock()
		_, ok := bs.clients[c]
		return !ok
	}, time.Second, 10*time.Millisecond, "expected client to be deregistered")
}
