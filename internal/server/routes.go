package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"playroom-server/internal/arena"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"service": "playroom-server",
		"rooms":   s.roomManager.Count(),
	}
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonResp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{"status": "up", "database": "disabled"}
	if s.db != nil {
		health = s.db.Health(r.Context())
		health["database"] = "enabled"
	}

	resp, err := json.Marshal(health)
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// websocketHandler owns one session from accept to transport close. The
// session id doubles as the player id inside whatever room the session
// ends up in. Closing the transport is the only way a session ends; no
// inbound message is fatal.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: make environment-specific
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	playerID := uuid.New().String()
	log.Printf("New connection: %s", playerID)
	s.connectionManager.AddConnection(playerID, socket)

	defer func() {
		roomID, seated := s.connectionManager.GetRoom(playerID)

		s.connectionManager.RemoveConnection(playerID)
		s.rateLimiter.Forget(playerID)
		log.Printf("Connection closed: %s", playerID)

		// Remove the seat and rebroadcast; the room is destroyed if this
		// was its last player.
		if seated {
			s.roomManager.Leave(roomID, playerID)
		}
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if !s.rateLimiter.Allow(playerID) {
			log.Printf("Rate limit exceeded by %s, dropping message", playerID)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Undecodable payloads are dropped with no reply.
			log.Printf("Undecodable message from %s: %v", playerID, err)
			continue
		}

		switch msg.Type {
		case "host":
			s.handleHost(socket, ctx, playerID, msg)

		case "join":
			s.handleJoin(socket, ctx, playerID, msg)

		case "input":
			s.handleInput(playerID, msg)

		case "move":
			s.handleMove(playerID, msg)

		default:
			// Unknown discriminants get the same treatment as undecodable
			// payloads: no reply.
			log.Printf("Unknown message type %q from %s", msg.Type, playerID)
		}
	}
}

func (s *Server) handleHost(socket *websocket.Conn, ctx context.Context, playerID string, msg ClientMessage) {
	room, err := s.roomManager.HostRoom(msg.RoomID, msg.Password, msg.Mode, playerID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	s.reseatSession(playerID, room.ID)

	if err := sendMessage(socket, ctx, HostedMessage{Type: "hosted", ID: playerID}); err != nil {
		log.Printf("Failed to send hosted to %s: %v", playerID, err)
		return
	}
	s.broadcastRoom(room)
}

func (s *Server) handleJoin(socket *websocket.Conn, ctx context.Context, playerID string, msg ClientMessage) {
	room, err := s.roomManager.JoinRoom(msg.RoomID, msg.Password, playerID)
	if err != nil {
		s.sendError(socket, ctx, err.Error())
		return
	}

	s.reseatSession(playerID, room.ID)

	if err := sendMessage(socket, ctx, JoinedMessage{Type: "joined", ID: playerID}); err != nil {
		log.Printf("Failed to send joined to %s: %v", playerID, err)
		return
	}
	s.broadcastRoom(room)
}

// reseatSession points the session at its new room. Hosting or joining
// a second room implicitly leaves the first; rejected attempts (room
// full, wrong password) never reach this point, so the original seat
// survives them.
func (s *Server) reseatSession(playerID, roomID string) {
	if prev, seated := s.connectionManager.GetRoom(playerID); seated && prev != roomID {
		s.roomManager.Leave(prev, playerID)
	}
	s.connectionManager.SetRoom(playerID, roomID)
}

func (s *Server) handleInput(playerID string, msg ClientMessage) {
	roomID, seated := s.connectionManager.GetRoom(playerID)
	if !seated {
		return
	}

	var keys arena.Keys
	for name, pressed := range msg.Keys {
		if !pressed {
			continue
		}
		if k, ok := arena.KeyForName(name); ok {
			keys |= k
		}
	}
	if msg.Dir != "" {
		if k, ok := arena.KeyForName(msg.Dir); ok {
			keys |= k
		}
	}

	s.roomManager.HandleInput(roomID, playerID, keys)
}

func (s *Server) handleMove(playerID string, msg ClientMessage) {
	roomID, seated := s.connectionManager.GetRoom(playerID)
	if !seated {
		return
	}
	s.roomManager.HandleMove(roomID, playerID, msg.Row, msg.Col)
}

func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, msg string) {
	if err := sendMessage(socket, ctx, newErrorMessage(msg)); err != nil {
		log.Printf("Failed to send error message: %v", err)
	}
}
