package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Result is one finished tic-tac-toe round. The log is append-only
// history for stats; rooms are never rebuilt from it.
type Result struct {
	RoomID       string
	WinnerID     string
	LoserID      string
	WinnerSymbol string
}

type Service interface {
	// Health reports connectivity and pool stats for the health endpoint.
	Health(ctx context.Context) map[string]string

	// RecordResult appends one round result to the match log.
	RecordResult(ctx context.Context, res Result) error

	// DB exposes the underlying handle for migrations.
	DB() *sql.DB

	Close() error
}

type service struct {
	db *sql.DB
}

// New opens a Postgres pool via the pgx stdlib driver. The caller
// decides whether a database is configured at all; url is required.
func New(url string) (Service, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &service{db: db}, nil
}

func (s *service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = err.Error()
		return stats
	}

	dbStats := s.db.Stats()
	stats["status"] = "up"
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	return stats
}

func (s *service) RecordResult(ctx context.Context, res Result) error {
	query := `
		INSERT INTO match_results (room_id, winner_id, loser_id, winner_symbol)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := s.db.ExecContext(ctx, query, res.RoomID, res.WinnerID, res.LoserID, res.WinnerSymbol); err != nil {
		return fmt.Errorf("failed to record result for room %s: %w", res.RoomID, err)
	}
	return nil
}

func (s *service) DB() *sql.DB {
	return s.db
}

func (s *service) Close() error {
	return s.db.Close()
}
