package tictactoe

import (
	"errors"
	"math/rand"
)

type Symbol string

const (
	SymbolX Symbol = "X"
	SymbolO Symbol = "O"
)

// Evicting marks a cell whose oldest move is about to be cleared.
// Player ids are UUIDs, so the sentinel can never collide with an owner.
const Evicting = "evicting"

type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type Move struct {
	PlayerID string `json:"playerId"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
}

// Outcome classifies the result of an attempted placement.
type Outcome int

const (
	// OutcomeRejected: out of turn, occupied cell, round already won,
	// or the game has fewer than two seated players. No state changed.
	OutcomeRejected Outcome = iota
	// OutcomePlaced: the move landed and the turn advanced.
	OutcomePlaced
	// OutcomeWin: the move completed a line. Winner, winning line and
	// score are already updated; the caller schedules the round reset.
	OutcomeWin
	// OutcomeBoardFull: the move landed, no line was completed and no
	// empty cell remains. The oldest move has been marked Evicting; the
	// caller schedules ClearEvicting.
	OutcomeBoardFull
)

var ErrGameFull = errors.New("GAME_FULL: Both seats are taken")

// Game is the authoritative state of one tic-tac-toe room. It is not
// safe for concurrent use; the owning room serializes access.
type Game struct {
	Board       [3][3]string      `json:"board"`
	MoveHistory []Move            `json:"moveHistory"`
	CurrentTurn string            `json:"currentTurn"`
	Winner      string            `json:"winner"`
	WinningLine []Cell            `json:"winningLine"`
	Scores      map[string]int    `json:"scores"`
	Symbols     map[string]Symbol `json:"symbols"`

	seats    []string
	evicting *Cell
	rng      *rand.Rand
}

type Option func(*Game)

// WithRand injects the source used for the symbol coin flip. Tests use
// a seeded source to make seat assignment deterministic.
func WithRand(rng *rand.Rand) Option {
	return func(g *Game) { g.rng = rng }
}

func NewGame(opts ...Option) *Game {
	g := &Game{
		Scores:  make(map[string]int),
		Symbols: make(map[string]Symbol),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Seat adds a player to the game. Seating the second player flips a
// fair coin for X/O and opens the first round with X to move.
func (g *Game) Seat(playerID string) error {
	if len(g.seats) >= 2 {
		return ErrGameFull
	}
	g.seats = append(g.seats, playerID)
	if _, ok := g.Scores[playerID]; !ok {
		g.Scores[playerID] = 0
	}

	if len(g.seats) == 2 {
		g.assignSymbols()
		g.startRound()
	}
	return nil
}

// Unseat removes a player and abandons the current round. The remaining
// player keeps their seat, symbol and score; the board waits for a new
// guest before play resumes.
func (g *Game) Unseat(playerID string) {
	for i, id := range g.seats {
		if id == playerID {
			g.seats = append(g.seats[:i], g.seats[i+1:]...)
			break
		}
	}
	delete(g.Scores, playerID)
	delete(g.Symbols, playerID)
	g.clearBoard()
	g.CurrentTurn = ""
}

func (g *Game) Seats() []string {
	out := make([]string, len(g.seats))
	copy(out, g.seats)
	return out
}

// InProgress reports whether both seats are taken and moves are accepted.
func (g *Game) InProgress() bool {
	return len(g.seats) == 2
}

// ApplyMove attempts a placement for playerID at (row, col) and runs win
// detection. Rejected moves leave the game untouched.
func (g *Game) ApplyMove(playerID string, row, col int) Outcome {
	if !g.InProgress() || g.Winner != "" {
		return OutcomeRejected
	}
	if playerID != g.CurrentTurn {
		return OutcomeRejected
	}
	if row < 0 || row > 2 || col < 0 || col > 2 {
		return OutcomeRejected
	}
	if g.Board[row][col] != "" {
		return OutcomeRejected
	}

	g.Board[row][col] = playerID
	g.MoveHistory = append(g.MoveHistory, Move{PlayerID: playerID, Row: row, Col: col})
	g.CurrentTurn = g.opponentOf(playerID)

	if line, won := g.findWin(playerID); won {
		g.Winner = playerID
		g.WinningLine = line
		g.Scores[playerID]++
		return OutcomeWin
	}

	if g.boardFull() {
		g.evictOldest()
		return OutcomeBoardFull
	}

	return OutcomePlaced
}

// ClearEvicting empties the cell previously marked by evictOldest. Safe
// to call after a reset or leave; it is a no-op when nothing is marked.
func (g *Game) ClearEvicting() {
	if g.evicting == nil {
		return
	}
	if g.Board[g.evicting.Row][g.evicting.Col] == Evicting {
		g.Board[g.evicting.Row][g.evicting.Col] = ""
	}
	g.evicting = nil
}

// ResetRound clears the board for the next round. X always opens, so
// the turn goes back to whichever seated player holds X.
func (g *Game) ResetRound() {
	g.clearBoard()
	if g.InProgress() {
		g.CurrentTurn = g.holderOf(SymbolX)
	}
}

func (g *Game) assignSymbols() {
	first, second := SymbolX, SymbolO
	if g.coinFlip() {
		first, second = SymbolO, SymbolX
	}
	g.Symbols[g.seats[0]] = first
	g.Symbols[g.seats[1]] = second
}

func (g *Game) startRound() {
	g.clearBoard()
	g.CurrentTurn = g.holderOf(SymbolX)
}

func (g *Game) clearBoard() {
	g.Board = [3][3]string{}
	g.MoveHistory = nil
	g.Winner = ""
	g.WinningLine = nil
	g.evicting = nil
}

func (g *Game) coinFlip() bool {
	if g.rng != nil {
		return g.rng.Intn(2) == 1
	}
	return rand.Intn(2) == 1
}

func (g *Game) holderOf(sym Symbol) string {
	for id, s := range g.Symbols {
		if s == sym {
			return id
		}
	}
	return ""
}

func (g *Game) opponentOf(playerID string) string {
	for _, id := range g.seats {
		if id != playerID {
			return id
		}
	}
	return ""
}

// winLines enumerates the 8 canonical lines. Order matters: rows, then
// columns, then diagonals; the first complete line wins.
var winLines = [8][3]Cell{
	{{0, 0}, {0, 1}, {0, 2}},
	{{1, 0}, {1, 1}, {1, 2}},
	{{2, 0}, {2, 1}, {2, 2}},
	{{0, 0}, {1, 0}, {2, 0}},
	{{0, 1}, {1, 1}, {2, 1}},
	{{0, 2}, {1, 2}, {2, 2}},
	{{0, 0}, {1, 1}, {2, 2}},
	{{0, 2}, {1, 1}, {2, 0}},
}

func (g *Game) findWin(playerID string) ([]Cell, bool) {
	for _, line := range winLines {
		if g.Board[line[0].Row][line[0].Col] == playerID &&
			g.Board[line[1].Row][line[1].Col] == playerID &&
			g.Board[line[2].Row][line[2].Col] == playerID {
			return []Cell{line[0], line[1], line[2]}, true
		}
	}
	return nil, false
}

func (g *Game) boardFull() bool {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if g.Board[r][c] == "" {
				return false
			}
		}
	}
	return true
}

// evictOldest marks the oldest move for removal instead of declaring a
// draw, keeping the game perpetually playable. This is a deliberate
// departure from conventional tic-tac-toe rules.
func (g *Game) evictOldest() {
	oldest := g.MoveHistory[0]
	g.MoveHistory = g.MoveHistory[1:]
	cell := Cell{Row: oldest.Row, Col: oldest.Col}
	g.Board[cell.Row][cell.Col] = Evicting
	g.evicting = &cell
}
