package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-whiteboard/internal/api"
	"github.com/npezzotti/go-whiteboard/internal/config"
	"github.com/npezzotti/go-whiteboard/internal/server"
	"github.com/npezzotti/go-whiteboard/internal/stats"
	"github.com/npezzotti/go-whiteboard/internal/store"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	storePath      string
	roomTTL        time.Duration
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "", "postgres connection string (uses the embedded store when empty)")
	flag.StringVar(&storePath, "store-path", "whiteboard.db", "path of the embedded room store (ignored when -dsn is set)")
	flag.DurationVar(&roomTTL, "room-ttl", config.DefaultRoomTTL, "inactivity window after which idle rooms are deleted")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-whiteboard] ", log.LstdFlags)

	if dsn != "" {
		storePath = ""
	}

	cfg, err := config.NewConfig(addr, dsn, storePath, allowedOrigins, roomTTL)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var roomStore store.RoomStore
	if cfg.DatabaseDSN != "" {
		roomStore, err = store.NewPgRoomStore(cfg.DatabaseDSN, cfg.RoomTTL, logger)
	} else {
		roomStore, err = store.NewBuntRoomStore(cfg.StorePath, cfg.RoomTTL)
	}
	if err != nil {
		logger.Fatal("store open:", err)
	}
	defer func() {
		if err := roomStore.Close(); err != nil {
			logger.Println("store close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	boardServer, err := server.NewBoardServer(logger, roomStore, statsUpdater)
	if err != nil {
		logger.Fatal("new board server:", err)
	}

	srv := api.NewWhiteboardApp(mux, logger, boardServer, roomStore, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go boardServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down board server...")
	if err := boardServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("board server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
