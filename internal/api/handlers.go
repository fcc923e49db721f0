package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/npezzotti/go-whiteboard/internal/server"
	"github.com/npezzotti/go-whiteboard/internal/store"
	"github.com/npezzotti/go-whiteboard/internal/types"
)

type HealthResponse struct {
	Status string `json:"status"`
}

func (s *WhiteboardApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *WhiteboardApp) health(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.Ping(); err != nil {
		s.log.Println("store ping:", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// getRoom is an existence probe for the join form. It deliberately
// returns no password or token material.
func (s *WhiteboardApp) getRoom(w http.ResponseWriter, r *http.Request) {
	roomId := r.URL.Query().Get("id")
	if roomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	doc, err := s.store.FindRoom(roomId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, store.ErrRoomNotFound) {
			errResp = NewNotFoundError()
		} else {
			s.log.Println("find room:", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	members, _ := s.bs.RoomMembers(doc.RoomId)

	s.writeJson(w, http.StatusOK, types.Room{
		RoomId:      doc.RoomId,
		MemberCount: members,
		CreatedAt:   doc.CreatedAt,
	})
}

func (s *WhiteboardApp) serveWs(w http.ResponseWriter, r *http.Request) {
	connId, err := s.generateConnId()
	if err != nil {
		s.log.Println("generate connection id:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(connId, conn, s.bs, s.log)

	s.bs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
