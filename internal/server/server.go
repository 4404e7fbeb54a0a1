package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/pressly/goose/v3"

	"playroom-server/internal/database"
)

type Server struct {
	port int
	db   database.Service

	connectionManager *ConnectionManager
	roomManager       *RoomManager
	rateLimiter       *RateLimiter
}

// NewServer wires the managers together and returns both the Server
// (for shutdown) and the configured http.Server.
func NewServer() (*Server, *http.Server) {
	port, _ := strconv.Atoi(os.Getenv("PORT"))
	if port == 0 {
		port = 8080
	}

	srv := &Server{
		port:              port,
		connectionManager: NewConnectionManager(),
		roomManager:       NewRoomManager(roomConfigFromEnv()),
		rateLimiter:       NewRateLimiter(120, time.Second),
	}
	srv.roomManager.SetNotify(srv.broadcastRoom)

	// The match-results log is optional; rooms never depend on it and
	// are never rebuilt from it.
	if url := os.Getenv("DATABASE_URL"); url != "" {
		db, err := database.New(url)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := runMigrations(db.DB()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		srv.db = db
		srv.roomManager.SetResultRecorder(db)
	} else {
		log.Println("DATABASE_URL not set, match results log disabled")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.port),
		Handler:      srv.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return srv, httpServer
}

// roomConfigFromEnv starts from the defaults and lets the environment
// flip the arena's vertical-physics variant on.
func roomConfigFromEnv() RoomConfig {
	cfg := DefaultRoomConfig()
	if gravity, err := strconv.ParseFloat(os.Getenv("ARENA_GRAVITY"), 64); err == nil && gravity > 0 {
		cfg.Arena.Gravity = gravity
	}
	return cfg
}

// runMigrations applies the goose migrations for the results table.
func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "./db/migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")
	return nil
}

// Shutdown tears down all rooms (stopping tick loops and invalidating
// pending timers) and closes the database pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.roomManager.Shutdown()
	log.Println("All rooms shut down")

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
