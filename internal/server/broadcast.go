package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/coder/websocket"

	"playroom-server/internal/tictactoe"
)

// broadcastRoom fans the room's current snapshot out to every seated
// session. The snapshot is built in one critical section and the socket
// writes happen outside it, so a slow client never blocks the room's
// transitions (only its other broadcasts). sendMu is held from snapshot
// to last write: two racing broadcasts cannot deliver out of order, so
// the newest snapshot a client holds is never stale. Every broadcast is
// a complete snapshot; a dropped message heals on the next one.
func (s *Server) broadcastRoom(room *Room) {
	room.sendMu.Lock()
	defer room.sendMu.Unlock()

	msg, targets := snapshotRoom(room)
	if msg == nil {
		return
	}

	for _, playerID := range targets {
		conn := s.connectionManager.GetConnection(playerID)
		if conn == nil {
			continue
		}
		if err := sendMessage(conn, context.Background(), msg); err != nil {
			log.Printf("Failed to broadcast to %s in room %s: %v", playerID, room.ID, err)
		}
	}
}

// snapshotRoom returns the outbound snapshot and the seated player ids,
// or nil for a destroyed room (a stale timer may still reference one).
func snapshotRoom(room *Room) (any, []string) {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.destroyed {
		return nil, nil
	}

	targets := make([]string, len(room.seats))
	for i, seat := range room.seats {
		targets[i] = seat.PlayerID
	}

	switch room.Mode {
	case ModeArena:
		return stateMessageLocked(room), targets
	case ModeTicTacToe:
		return gameStateMessageLocked(room), targets
	}
	return nil, nil
}

// stateMessageLocked assumes room.mu is held. All fields are copied out
// so the caller can marshal after releasing the lock.
func stateMessageLocked(room *Room) StateMessage {
	players := make(map[string]ArenaPlayerState, len(room.seats))
	for _, seat := range room.seats {
		body, ok := room.world.Body(seat.PlayerID)
		if !ok {
			continue
		}
		players[seat.PlayerID] = ArenaPlayerState{
			X:     body.X,
			Y:     body.Y,
			Color: seat.Color,
			Role:  seat.Role,
		}
	}
	return StateMessage{Type: "state", Players: players}
}

// gameStateMessageLocked assumes room.mu is held.
func gameStateMessageLocked(room *Room) GameStateMessage {
	game := room.game

	players := make(map[string]GamePlayerState, len(room.seats))
	for _, seat := range room.seats {
		players[seat.PlayerID] = GamePlayerState{
			Symbol: string(game.Symbols[seat.PlayerID]),
			Role:   seat.Role,
		}
	}

	scores := make(map[string]int, len(game.Scores))
	for id, wins := range game.Scores {
		scores[id] = wins
	}

	var line []tictactoe.Cell
	if game.WinningLine != nil {
		line = make([]tictactoe.Cell, len(game.WinningLine))
		copy(line, game.WinningLine)
	}

	return GameStateMessage{
		Type:        "gameState",
		Board:       game.Board,
		CurrentTurn: game.CurrentTurn,
		Winner:      game.Winner,
		WinningLine: line,
		Players:     players,
		Scores:      scores,
	}
}

func sendMessage(conn *websocket.Conn, ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
