package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/npezzotti/go-whiteboard/internal/config"
	"github.com/npezzotti/go-whiteboard/internal/server"
	"github.com/npezzotti/go-whiteboard/internal/stats"
	"github.com/npezzotti/go-whiteboard/internal/store"
)

type WhiteboardApp struct {
	log            *log.Logger
	store          store.RoomStore
	mux            *http.Server
	bs             *server.BoardServer
	stats          stats.StatsProvider
	allowedOrigins []string
	// generateConnId is swappable in tests
	generateConnId func() (string, error)
}

func NewWhiteboardApp(mux *http.ServeMux, logger *log.Logger, bs *server.BoardServer,
	st store.RoomStore, sp stats.StatsProvider, cfg *config.Config) *WhiteboardApp {
	s := &WhiteboardApp{
		log:            logger,
		store:          st,
		bs:             bs,
		stats:          sp,
		allowedOrigins: cfg.AllowedOrigins,
		generateConnId: shortid.Generate,
	}

	mux.HandleFunc("GET /api/health", s.health)
	mux.HandleFunc("GET /api/rooms", s.getRoom)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *WhiteboardApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *WhiteboardApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
