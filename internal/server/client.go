package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one websocket connection. Its session (current room and
// display name) is attached on a successful join and detached on leave,
// termination or disconnect.
type Client struct {
	id          string
	conn        *websocket.Conn
	boardServer *BoardServer
	log         *log.Logger
	send        chan *ServerMessage
	sessionLock sync.RWMutex
	room        *Room
	username    string
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewClient(id string, conn *websocket.Conn, bs *BoardServer, l *log.Logger) *Client {
	return &Client{
		id:          id,
		conn:        conn,
		boardServer: bs,
		log:         l,
		send:        make(chan *ServerMessage, 256),
		stop:        make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		c.route(&msg)
	}
}

// route dispatches one parsed client request. Create-room runs inline on
// this connection's goroutine (the store arbitrates create races); join
// goes through the board server so room actors are spun up exactly once;
// room-scoped requests go to the current room's actor. Room-scoped
// requests from a connection with no session are dropped without a
// reply.
func (c *Client) route(msg *ClientMessage) {
	switch {
	case msg.CreateRoom != nil:
		c.boardServer.createRoom(msg)
	case msg.Join != nil:
		if msg.Join.RoomId == "" {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}

		// switching rooms: leave the old one first. A rejoin of the
		// current room goes through as a single join, never a leave
		// racing it on the same actor.
		if r := c.currentRoom(); r != nil && r.roomId != msg.Join.RoomId {
			select {
			case r.leaveChan <- &ClientMessage{client: c}:
			default:
				c.log.Printf("leave channel full on room %q", r.roomId)
			}
		}

		select {
		case c.boardServer.joinChan <- msg:
		default:
			c.log.Println("join channel full")
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	case msg.Drawing != nil, msg.Clear != nil, msg.Terminate != nil:
		r := c.currentRoom()
		if r == nil {
			// no session yet, drop silently
			return
		}

		select {
		case r.clientMsgChan <- msg:
		default:
			c.log.Printf("message channel full on room %q", r.roomId)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("dropping message for connection %q, send buffer full", c.id)
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.boardServer.DeregisterClient(c)

	if r := c.currentRoom(); r != nil {
		r.leaveChan <- &ClientMessage{client: c}
	}

	c.stopClient()
}

func (c *Client) setSession(r *Room, username string) {
	c.sessionLock.Lock()
	defer c.sessionLock.Unlock()

	c.room = r
	c.username = username
}

func (c *Client) clearSession() {
	c.sessionLock.Lock()
	defer c.sessionLock.Unlock()

	c.room = nil
	c.username = ""
}

func (c *Client) currentRoom() *Room {
	c.sessionLock.RLock()
	defer c.sessionLock.RUnlock()

	return c.room
}
