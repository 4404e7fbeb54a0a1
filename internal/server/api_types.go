package server

import "playroom-server/internal/tictactoe"

// ============================================================================
// ERROR REPLIES (error)
// ============================================================================
type ErrorMessage struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

func newErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: "error", Msg: msg}
}

// ============================================================================
// ROOM CREATION / JOIN ACKS (hosted, joined)
// ============================================================================
// The id is the sender's assigned session/player id; every later
// snapshot keys the sender's own state by it.
type HostedMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type JoinedMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ============================================================================
// ARENA SNAPSHOT (state broadcast)
// ============================================================================
type StateMessage struct {
	Type    string                      `json:"type"`
	Players map[string]ArenaPlayerState `json:"players"`
}

type ArenaPlayerState struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color"`
	Role  string  `json:"role"`
}

// ============================================================================
// TURN GAME SNAPSHOT (gameState broadcast)
// ============================================================================
// Board cells hold "" (empty), a player id, or the transient
// tictactoe.Evicting sentinel during the oldest-move eviction reveal.
type GameStateMessage struct {
	Type        string                     `json:"type"`
	Board       [3][3]string               `json:"board"`
	CurrentTurn string                     `json:"currentTurn"`
	Winner      string                     `json:"winner,omitempty"`
	WinningLine []tictactoe.Cell           `json:"winningLine,omitempty"`
	Players     map[string]GamePlayerState `json:"players"`
	Scores      map[string]int             `json:"scores"`
}

type GamePlayerState struct {
	Symbol string `json:"symbol"`
	Role   string `json:"role"`
}
