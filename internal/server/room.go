package server

import (
	"crypto/subtle"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/npezzotti/go-whiteboard/internal/store"
	"github.com/npezzotti/go-whiteboard/internal/types"
)

const idleRoomTimeout = time.Second * 30

// Room is the live counterpart of a durable room document: a goroutine
// actor owning the connected member set. All operations for one room id
// funnel through its channel loop, which serializes the read-modify-write
// cycles against the store; different rooms run independently.
type Room struct {
	roomId string
	// creatorToken caches the document's credential for cheap checks.
	// Destructive operations always re-verify against the durable copy.
	creatorToken  string
	bs            *BoardServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	members       map[*Client]*types.Participant
	memberLock    sync.RWMutex
	log           *log.Logger
	// killTimer unloads the room once it has sat empty for a while
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newRoom(bs *BoardServer, roomId string) *Room {
	return &Room{
		roomId:        roomId,
		bs:            bs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		members:       make(map[*Client]*types.Participant),
		log:           bs.log,
		// the room starts empty; expire it if the first join never lands
		killTimer: time.NewTimer(idleRoomTimeout),
		exit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.roomId)

	for {
		select {
		case msg := <-r.joinChan:
			r.handleJoin(msg)
		case msg := <-r.leaveChan:
			r.handleLeave(msg)
		case msg := <-r.clientMsgChan:
			switch {
			case msg.Drawing != nil:
				r.handleDrawing(msg)
			case msg.Clear != nil:
				r.handleClear(msg)
			case msg.Terminate != nil:
				r.handleTerminate(msg)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case <-r.exit:
			r.handleRoomExit()
			return
		}
	}
}

func (r *Room) handleJoin(msg *ClientMessage) {
	r.killTimer.Stop()

	c := msg.client
	join := msg.Join

	doc, err := r.bs.store.FindRoom(r.roomId)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			c.queueMessage(ErrRoomNotFound(msg.Id))
		} else {
			r.log.Println("find room:", err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		r.resetIfEmpty()
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(doc.PasswordHash), []byte(join.Password)) != nil {
		c.queueMessage(ErrInvalidPassword(msg.Id))
		r.resetIfEmpty()
		return
	}

	r.creatorToken = doc.CreatorToken

	doc.LastActivity = Now()
	if err := r.bs.store.SaveRoom(doc); err != nil {
		r.log.Println("save room:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		r.resetIfEmpty()
		return
	}

	isCreator := join.CreatorToken != "" &&
		subtle.ConstantTimeCompare([]byte(join.CreatorToken), []byte(doc.CreatorToken)) == 1

	p := &types.Participant{
		Id:        c.id,
		Username:  join.Username,
		Color:     assignColor(),
		IsCreator: isCreator,
	}

	// a rejoin overwrites the existing member entry
	_, rejoined := r.getMember(c)
	r.addMember(c, p)
	c.setSession(r, join.Username)

	drawings := doc.Drawings
	if drawings == nil {
		drawings = []types.DrawingEvent{}
	}

	// the joiner gets its confirmation with the full history before any
	// broadcast mentions it to the rest of the room
	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: Now(),
		},
		RoomJoined: &RoomJoined{
			RoomId:    r.roomId,
			Users:     r.memberList(),
			Drawings:  drawings,
			UserColor: p.Color,
			IsCreator: isCreator,
		},
	})

	if !rejoined {
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				UserJoined: p,
			},
			SkipClient: c,
		})
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			UsersUpdated: r.memberList(),
		},
	})

	r.log.Printf("user %q joined room %q", join.Username, r.roomId)
}

func (r *Room) handleLeave(msg *ClientMessage) {
	c := msg.client

	p, ok := r.removeMember(c)
	if !ok {
		return
	}

	c.clearSession()

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			UserLeft: &UserLeft{Id: p.Id, Username: p.Username},
		},
	})

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			UsersUpdated: r.memberList(),
		},
	})

	r.log.Printf("user %q left room %q", p.Username, r.roomId)
	r.resetIfEmpty()
}

func (r *Room) handleDrawing(msg *ClientMessage) {
	p, ok := r.getMember(msg.client)
	if !ok {
		return
	}

	doc, err := r.bs.store.FindRoom(r.roomId)
	if err != nil {
		// the room vanished underneath us; treat the event as stale
		if !errors.Is(err, store.ErrRoomNotFound) {
			r.log.Println("find room:", err)
		}
		return
	}

	ev := types.DrawingEvent{
		Kind:       msg.Drawing.Kind,
		Payload:    msg.Drawing.Payload,
		Color:      msg.Drawing.Color,
		AuthorId:   p.Id,
		AuthorName: p.Username,
		Timestamp:  Now(),
	}

	doc.Drawings = append(doc.Drawings, ev)
	doc.LastActivity = Now()
	if err := r.bs.store.SaveRoom(doc); err != nil {
		// expired between find and save: stale, same as a vanished find
		if errors.Is(err, store.ErrRoomNotFound) {
			return
		}
		r.log.Println("save drawing:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.bs.stats.Incr(statDrawingEvents)

	// the sender already applied the stroke optimistically
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: ev.Timestamp,
		},
		Drawing:    &ev,
		SkipClient: msg.client,
	})
}

func (r *Room) handleClear(msg *ClientMessage) {
	p, ok := r.getMember(msg.client)
	if !ok {
		return
	}

	doc, err := r.bs.store.FindRoom(r.roomId)
	if err != nil {
		if !errors.Is(err, store.ErrRoomNotFound) {
			r.log.Println("find room:", err)
		}
		return
	}

	doc.Drawings = []types.DrawingEvent{}
	doc.LastActivity = Now()
	if err := r.bs.store.SaveRoom(doc); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return
		}
		r.log.Println("save cleared board:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	// everyone resets off the same notice, the sender included
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			BoardCleared: &BoardCleared{AuthorId: p.Id, AuthorName: p.Username},
		},
	})

	r.log.Printf("board cleared in room %q by %q", r.roomId, p.Username)
}

func (r *Room) handleTerminate(msg *ClientMessage) {
	if _, ok := r.getMember(msg.client); !ok {
		return
	}

	// authorization runs against the durable document, never only the
	// cached token
	doc, err := r.bs.store.FindRoom(r.roomId)
	if err != nil {
		if !errors.Is(err, store.ErrRoomNotFound) {
			r.log.Println("find room:", err)
		}
		return
	}

	if subtle.ConstantTimeCompare([]byte(msg.Terminate.CreatorToken), []byte(doc.CreatorToken)) != 1 {
		return
	}

	if err := r.bs.store.DeleteRoom(r.roomId); err != nil && !errors.Is(err, store.ErrRoomNotFound) {
		r.log.Println("delete room:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			RoomTerminated: &RoomTerminated{
				RoomId:  r.roomId,
				Message: "room has been terminated by the creator",
			},
		},
	})

	r.clearMembers()
	r.log.Printf("room %q terminated", r.roomId)
	r.requestUnload()
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.roomId)
	r.requestUnload()
}

// requestUnload asks the board server to drop this room from the active
// table. The send must not block the actor loop; on backpressure the
// kill timer retries later.
func (r *Room) requestUnload() {
	select {
	case r.bs.unloadRoomChan <- unloadRoomRequest{roomId: r.roomId}:
	default:
		r.log.Printf("unload channel full for room %q", r.roomId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit() {
	r.log.Printf("room %q is exiting", r.roomId)
	r.killTimer.Stop()
	r.clearMembers()

	// a join may have been routed here after the unload decision; tell
	// the joiner to retry rather than dropping it on the floor
	for {
		select {
		case msg := <-r.joinChan:
			msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
		default:
			close(r.done)
			return
		}
	}
}

func (r *Room) resetIfEmpty() {
	if r.MemberCount() == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) addMember(c *Client, p *types.Participant) {
	r.memberLock.Lock()
	defer r.memberLock.Unlock()

	r.members[c] = p
}

func (r *Room) getMember(c *Client) (*types.Participant, bool) {
	r.memberLock.RLock()
	defer r.memberLock.RUnlock()

	p, ok := r.members[c]
	return p, ok
}

func (r *Room) removeMember(c *Client) (*types.Participant, bool) {
	r.memberLock.Lock()
	defer r.memberLock.Unlock()

	p, ok := r.members[c]
	if !ok {
		return nil, false
	}

	delete(r.members, c)
	return p, true
}

func (r *Room) clearMembers() {
	r.memberLock.Lock()
	defer r.memberLock.Unlock()

	for c := range r.members {
		c.clearSession()
	}
	r.members = make(map[*Client]*types.Participant)
}

func (r *Room) memberList() []types.Participant {
	r.memberLock.RLock()
	defer r.memberLock.RUnlock()

	users := make([]types.Participant, 0, len(r.members))
	for _, p := range r.members {
		users = append(users, *p)
	}
	return users
}

func (r *Room) MemberCount() int {
	r.memberLock.RLock()
	defer r.memberLock.RUnlock()

	return len(r.members)
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.memberLock.RLock()
	defer r.memberLock.RUnlock()

	for client := range r.members {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
