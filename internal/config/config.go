package config

import (
	"fmt"
	"time"
)

// DefaultRoomTTL is the inactivity window after which a room document is
// reclaimed by the store.
const DefaultRoomTTL = time.Hour

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	StorePath      string
	AllowedOrigins []string
	RoomTTL        time.Duration
}

func NewConfig(serverAddr, databaseDSN, storePath string, allowedOrigins []string, roomTTL time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" && storePath == "" {
		return nil, fmt.Errorf("either a database DSN or a store path is required")
	}
	if databaseDSN != "" && storePath != "" {
		return nil, fmt.Errorf("database DSN and store path are mutually exclusive")
	}
	if roomTTL < 0 {
		return nil, fmt.Errorf("room TTL cannot be negative")
	}
	if roomTTL == 0 {
		roomTTL = DefaultRoomTTL
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		StorePath:      storePath,
		AllowedOrigins: allowedOrigins,
		RoomTTL:        roomTTL,
	}, nil
}
