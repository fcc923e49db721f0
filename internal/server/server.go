package server

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/npezzotti/go-whiteboard/internal/stats"
	"github.com/npezzotti/go-whiteboard/internal/store"
	"github.com/npezzotti/go-whiteboard/internal/types"
)

const (
	statActiveRooms      = "ActiveRooms"
	statConnectedClients = "ConnectedClients"
	statRoomsCreated     = "RoomsCreated"
	statDrawingEvents    = "DrawingEvents"
)

type unloadRoomRequest struct {
	roomId string
}

type stopRequest struct {
	done chan struct{}
}

// BoardServer owns the active room table. Its run loop is the only
// mutator of the table, so spinning up a room actor for a given id
// happens exactly once no matter how many joins race for it.
type BoardServer struct {
	log            *log.Logger
	store          store.RoomStore
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	registerChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan unloadRoomRequest
	rooms          map[string]*Room
	roomsLock      sync.RWMutex
	stop           chan stopRequest
	done           chan struct{}
}

func NewBoardServer(logger *log.Logger, st store.RoomStore, sp stats.StatsProvider) (*BoardServer, error) {
	bs := &BoardServer{
		log:            logger,
		store:          st,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		rooms:          make(map[string]*Room),
		stop:           make(chan stopRequest),
		done:           make(chan struct{}),
	}

	sp.RegisterMetric(statActiveRooms)
	sp.RegisterMetric(statConnectedClients)
	sp.RegisterMetric(statRoomsCreated)
	sp.RegisterMetric(statDrawingEvents)

	return bs, nil
}

func (bs *BoardServer) Run() {
	for {
		select {
		case msg := <-bs.joinChan:
			bs.handleJoinRequest(msg)
		case client := <-bs.registerChan:
			bs.addClient(client)
			bs.stats.Incr(statConnectedClients)
		case client := <-bs.deRegisterChan:
			bs.removeClient(client)
			bs.stats.Decr(statConnectedClients)
		case req := <-bs.unloadRoomChan:
			bs.unloadRoom(req.roomId)
		case req := <-bs.stop:
			bs.log.Println("shutting down rooms")
			bs.roomsLock.Lock()
			for _, r := range bs.rooms {
				r.exit <- struct{}{}
				<-r.done
			}
			bs.rooms = make(map[string]*Room)
			bs.roomsLock.Unlock()

			close(bs.done)
			close(req.done)
			return
		}
	}
}

// handleJoinRequest routes a join to the room's actor, lazily starting
// one when the room has no live members yet. The actor decides whether
// the room actually exists; a bad room id simply spins up an actor that
// answers "room not found" and times itself out.
func (bs *BoardServer) handleJoinRequest(msg *ClientMessage) {
	room, ok := bs.getRoom(msg.Join.RoomId)
	if !ok {
		room = newRoom(bs, msg.Join.RoomId)
		bs.addRoom(room)
		bs.stats.Incr(statActiveRooms)
		go room.start()
	}

	select {
	case room.joinChan <- msg:
	default:
		bs.log.Printf("join channel full on room %q", room.roomId)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// createRoom services a create-room request. It runs on the requesting
// connection's goroutine; the store's atomic create arbitrates races, so
// of two concurrent creators exactly one wins. The creator is not
// auto-joined: it presents the returned token on its own join.
func (bs *BoardServer) createRoom(msg *ClientMessage) {
	c := msg.client
	req := msg.CreateRoom

	if req.RoomId == "" || req.Password == "" || req.Username == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		bs.log.Println("hash password:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	now := Now()
	doc := store.Room{
		RoomId:          req.RoomId,
		PasswordHash:    string(hash),
		CreatorToken:    uuid.NewString(),
		CreatorUsername: req.Username,
		CreatedAt:       now,
		LastActivity:    now,
		Drawings:        []types.DrawingEvent{},
	}

	if err := bs.store.CreateRoom(doc); err != nil {
		if errors.Is(err, store.ErrRoomExists) {
			c.queueMessage(ErrRoomExists(msg.Id))
		} else {
			bs.log.Println("create room:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	bs.stats.Incr(statRoomsCreated)
	bs.log.Printf("room %q created by %q", doc.RoomId, req.Username)

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: Now(),
		},
		RoomCreated: &RoomCreated{
			RoomId:       doc.RoomId,
			CreatorToken: doc.CreatorToken,
			Message:      "room created successfully",
		},
	})
}

func (bs *BoardServer) RegisterClient(c *Client) {
	bs.registerChan <- c
}

func (bs *BoardServer) DeregisterClient(c *Client) {
	bs.deRegisterChan <- c
}

func (bs *BoardServer) addClient(c *Client) {
	bs.clientsLock.Lock()
	defer bs.clientsLock.Unlock()
	bs.clients[c] = struct{}{}
}

func (bs *BoardServer) removeClient(c *Client) {
	bs.clientsLock.Lock()
	defer bs.clientsLock.Unlock()
	delete(bs.clients, c)
}

func (bs *BoardServer) getRoom(roomId string) (*Room, bool) {
	bs.roomsLock.RLock()
	defer bs.roomsLock.RUnlock()

	r, ok := bs.rooms[roomId]
	return r, ok
}

func (bs *BoardServer) addRoom(r *Room) {
	bs.roomsLock.Lock()
	defer bs.roomsLock.Unlock()

	bs.rooms[r.roomId] = r
}

func (bs *BoardServer) unloadRoom(roomId string) {
	bs.roomsLock.Lock()
	r, ok := bs.rooms[roomId]
	if ok {
		delete(bs.rooms, roomId)
	}
	bs.roomsLock.Unlock()

	if !ok {
		return
	}

	bs.log.Printf("unloading room %q", roomId)
	bs.stats.Decr(statActiveRooms)
	r.exit <- struct{}{}
	<-r.done
}

// RoomMembers reports the number of currently connected members of a
// live room; ok is false when the room has no live actor.
func (bs *BoardServer) RoomMembers(roomId string) (int, bool) {
	r, ok := bs.getRoom(roomId)
	if !ok {
		return 0, false
	}

	return r.MemberCount(), true
}

func (bs *BoardServer) Shutdown(ctx context.Context) error {
	bs.clientsLock.Lock()
	for c := range bs.clients {
		c.stopClient()
	}
	bs.clientsLock.Unlock()

	req := stopRequest{done: make(chan struct{})}
	select {
	case bs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
