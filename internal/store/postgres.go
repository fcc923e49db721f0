package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/npezzotti/go-whiteboard/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = pq.ErrorCode("23505")

// PgRoomStore keeps room documents in Postgres with the drawing history
// as a JSONB column. Postgres has no native TTL, so a cron janitor
// deletes rows whose last_activity has fallen outside the inactivity
// window.
type PgRoomStore struct {
	conn    *sql.DB
	ttl     time.Duration
	janitor *cron.Cron
	log     *log.Logger
}

func NewPgRoomStore(dsn string, ttl time.Duration, logger *log.Logger) (*PgRoomStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &PgRoomStore{
		conn: db,
		ttl:  ttl,
		log:  logger,
	}

	if ttl > 0 {
		s.janitor = cron.New()
		_, err := s.janitor.AddFunc("@every 1m", s.sweepExpired)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("schedule janitor: %w", err)
		}
		s.janitor.Start()
	}

	return s, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// sweepExpired reclaims rooms idle longer than the inactivity window.
func (s *PgRoomStore) sweepExpired() {
	res, err := s.conn.Exec(
		"DELETE FROM rooms WHERE last_activity < $1",
		time.Now().UTC().Add(-s.ttl),
	)
	if err != nil {
		s.log.Println("sweep expired rooms:", err)
		return
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Printf("reclaimed %d expired room(s)", n)
	}
}

func (s *PgRoomStore) Ping() error {
	return s.conn.Ping()
}

func (s *PgRoomStore) FindRoom(roomId string) (Room, error) {
	row := s.conn.QueryRow(
		"SELECT room_id, password_hash, creator_token, creator_username, created_at, last_activity, drawings "+
			"FROM rooms WHERE room_id = $1 LIMIT 1",
		roomId,
	)

	var room Room
	var drawings []byte
	err := row.Scan(
		&room.RoomId,
		&room.PasswordHash,
		&room.CreatorToken,
		&room.CreatorUsername,
		&room.CreatedAt,
		&room.LastActivity,
		&drawings,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, err
	}

	if len(drawings) > 0 {
		if err := json.Unmarshal(drawings, &room.Drawings); err != nil {
			return Room{}, fmt.Errorf("decode drawings: %w", err)
		}
	}

	return room, nil
}

// CreateRoom relies on the primary key for uniqueness, so only one of
// two racing creators succeeds.
func (s *PgRoomStore) CreateRoom(room Room) error {
	drawings, err := marshalDrawings(room.Drawings)
	if err != nil {
		return err
	}

	_, err = s.conn.Exec(
		"INSERT INTO rooms (room_id, password_hash, creator_token, creator_username, created_at, last_activity, drawings) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		room.RoomId,
		room.PasswordHash,
		room.CreatorToken,
		room.CreatorUsername,
		room.CreatedAt,
		room.LastActivity,
		drawings,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrRoomExists
	}

	return err
}

func (s *PgRoomStore) SaveRoom(room Room) error {
	drawings, err := marshalDrawings(room.Drawings)
	if err != nil {
		return err
	}

	res, err := s.conn.Exec(
		"UPDATE rooms SET last_activity = $2, drawings = $3 WHERE room_id = $1",
		room.RoomId,
		room.LastActivity,
		drawings,
	)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRoomNotFound
	}

	return nil
}

func (s *PgRoomStore) DeleteRoom(roomId string) error {
	res, err := s.conn.Exec("DELETE FROM rooms WHERE room_id = $1", roomId)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRoomNotFound
	}

	return nil
}

func (s *PgRoomStore) Close() error {
	if s.janitor != nil {
		s.janitor.Stop()
	}

	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func marshalDrawings(drawings []types.DrawingEvent) ([]byte, error) {
	if drawings == nil {
		drawings = []types.DrawingEvent{}
	}
	return json.Marshal(drawings)
}
