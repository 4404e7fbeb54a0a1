package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"playroom-server/internal/arena"
	"playroom-server/internal/database"
	"playroom-server/internal/tictactoe"
)

var (
	ErrRoomExists    = errors.New("ROOM_EXISTS: Room already exists")
	ErrRoomNotFound  = errors.New("ROOM_NOT_FOUND: Room not found")
	ErrWrongPassword = errors.New("WRONG_PASSWORD: Wrong password")
	ErrRoomFull      = errors.New("ROOM_FULL: Room already has two players")
	ErrInvalidMode   = errors.New("INVALID_MODE: Unknown room mode")
)

type RoomMode string

const (
	ModeArena     RoomMode = "arena"
	ModeTicTacToe RoomMode = "tictactoe"
)

const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// Spawn points from the arena variant: host left of center, guest right.
var spawnPoints = map[string][2]float64{
	RoleHost:  {200, 200},
	RoleGuest: {350, 200},
}

type Seat struct {
	PlayerID string
	Role     string
	Color    string
	JoinedAt time.Time
}

// Room is one isolated authoritative session. All state behind mu; every
// transition (message, tick, timer) runs to completion under the lock, so
// mutations against one room never interleave. Rooms are independent and
// run in parallel.
type Room struct {
	ID        string
	Mode      RoomMode
	password  string
	createdAt time.Time

	mu    sync.Mutex
	seats []*Seat
	// generation advances on every seat change, round reset and destroy.
	// Delayed tasks capture it at scheduling time and no-op when it has
	// moved on, so a stale timer cannot corrupt a since-reset room.
	generation uint64
	destroyed  bool

	world *arena.World    // ModeArena
	game  *tictactoe.Game // ModeTicTacToe
	done  chan struct{}   // closed on destroy, stops the tick loop

	// sendMu serializes snapshot deliveries. It is never taken while mu
	// is held; the broadcaster takes sendMu first, then mu to build the
	// snapshot, so clients observe snapshots in a single room order.
	sendMu sync.Mutex
}

// seatPlayer assumes r.mu is held (or the room is not yet published).
func (r *Room) seatPlayer(playerID, role string) {
	r.seats = append(r.seats, &Seat{
		PlayerID: playerID,
		Role:     role,
		Color:    randomColor(),
		JoinedAt: time.Now(),
	})

	switch r.Mode {
	case ModeArena:
		spawn := spawnPoints[role]
		r.world.Spawn(playerID, spawn[0], spawn[1])
	case ModeTicTacToe:
		// Cannot fail: seat count is checked before this call.
		_ = r.game.Seat(playerID)
	}
}

func (r *Room) seatOf(playerID string) (*Seat, int) {
	for i, seat := range r.seats {
		if seat.PlayerID == playerID {
			return seat, i
		}
	}
	return nil, -1
}

// SeatedPlayers returns the seated player ids in join order.
func (r *Room) SeatedPlayers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.seats))
	for i, seat := range r.seats {
		ids[i] = seat.PlayerID
	}
	return ids
}

type resultRecorder interface {
	RecordResult(ctx context.Context, res database.Result) error
}

// RoomConfig bundles the per-room tunables.
type RoomConfig struct {
	Arena           arena.Config
	RoundResetDelay time.Duration
	EvictionDelay   time.Duration
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		Arena:           arena.DefaultConfig(),
		RoundResetDelay: 2000 * time.Millisecond,
		EvictionDelay:   500 * time.Millisecond,
	}
}

// RoomManager owns the registry of live rooms: creation with unique ids,
// password gating, seating, and teardown when the last player leaves.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	cfg     RoomConfig
	notify  func(*Room)
	results resultRecorder
}

func NewRoomManager(cfg RoomConfig) *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
		cfg:   cfg,
	}
}

// SetNotify installs the snapshot fan-out hook. The manager calls it
// after every mutating transition, never while holding a room lock.
func (rm *RoomManager) SetNotify(fn func(*Room)) {
	rm.notify = fn
}

// SetResultRecorder installs the optional match-results log.
func (rm *RoomManager) SetResultRecorder(r resultRecorder) {
	rm.results = r
}

func (rm *RoomManager) broadcast(room *Room) {
	if rm.notify != nil {
		rm.notify(room)
	}
}

// HostRoom creates a room, seats the creator as host and, for arena
// rooms, starts the tick loop.
func (rm *RoomManager) HostRoom(roomID, password, mode, playerID string) (*Room, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	var roomMode RoomMode
	switch mode {
	case "", string(ModeArena):
		roomMode = ModeArena
	case string(ModeTicTacToe):
		roomMode = ModeTicTacToe
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	room := &Room{
		ID:        roomID,
		Mode:      roomMode,
		password:  password,
		createdAt: time.Now(),
	}
	switch roomMode {
	case ModeArena:
		room.world = arena.NewWorld(rm.cfg.Arena)
		room.done = make(chan struct{})
	case ModeTicTacToe:
		room.game = tictactoe.NewGame()
	}
	room.seatPlayer(playerID, RoleHost)

	rm.mu.Lock()
	if _, exists := rm.rooms[roomID]; exists {
		rm.mu.Unlock()
		return nil, ErrRoomExists
	}
	rm.rooms[roomID] = room
	rm.mu.Unlock()

	if roomMode == ModeArena {
		go rm.runTicks(room)
	}

	log.Printf("Room %s created (mode %s) by %s", roomID, roomMode, playerID)
	return room, nil
}

// JoinRoom seats playerID as guest after password and capacity checks.
func (rm *RoomManager) JoinRoom(roomID, password, playerID string) (*Room, error) {
	room, ok := rm.Get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	if room.destroyed {
		room.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if room.password != password {
		room.mu.Unlock()
		return nil, ErrWrongPassword
	}
	if len(room.seats) >= 2 {
		room.mu.Unlock()
		return nil, ErrRoomFull
	}
	if seat, _ := room.seatOf(playerID); seat != nil {
		// Already seated; joining again must not take the second seat
		// under the same player id.
		room.mu.Unlock()
		return room, nil
	}
	room.seatPlayer(playerID, RoleGuest)
	room.generation++
	room.mu.Unlock()

	log.Printf("Player %s joined room %s", playerID, roomID)
	return room, nil
}

// Leave removes the player's seat and player entry. The last player
// leaving destroys the room and invalidates its pending delayed tasks;
// otherwise the remaining player gets a fresh snapshot.
func (rm *RoomManager) Leave(roomID, playerID string) {
	room, ok := rm.Get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	seat, idx := room.seatOf(playerID)
	if seat == nil {
		room.mu.Unlock()
		return
	}
	room.seats = append(room.seats[:idx], room.seats[idx+1:]...)
	room.generation++

	switch room.Mode {
	case ModeArena:
		room.world.Remove(playerID)
	case ModeTicTacToe:
		room.game.Unseat(playerID)
	}

	if len(room.seats) == 0 {
		room.destroyed = true
		if room.done != nil {
			close(room.done)
		}
		room.mu.Unlock()

		rm.mu.Lock()
		delete(rm.rooms, roomID)
		rm.mu.Unlock()

		log.Printf("Room %s destroyed (last player %s left)", roomID, playerID)
		return
	}
	room.mu.Unlock()

	log.Printf("Player %s left room %s", playerID, roomID)
	rm.broadcast(room)
}

func (rm *RoomManager) Get(roomID string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	room, ok := rm.rooms[roomID]
	return room, ok
}

// Count reports the number of live rooms.
func (rm *RoomManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// HandleInput replaces the player's pending key bitmask. Movement itself
// happens on the next tick; there is no immediate broadcast.
func (rm *RoomManager) HandleInput(roomID, playerID string, keys arena.Keys) {
	room, ok := rm.Get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.destroyed || room.Mode != ModeArena {
		return
	}
	if seat, _ := room.seatOf(playerID); seat == nil {
		return
	}
	room.world.SetKeys(playerID, keys)
}

// HandleMove attempts a turn placement. Rejected moves are silently
// ignored; the client infers rejection from the unchanged snapshot.
func (rm *RoomManager) HandleMove(roomID, playerID string, row, col int) {
	room, ok := rm.Get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	if room.destroyed || room.Mode != ModeTicTacToe {
		room.mu.Unlock()
		return
	}
	if seat, _ := room.seatOf(playerID); seat == nil {
		room.mu.Unlock()
		return
	}

	outcome := room.game.ApplyMove(playerID, row, col)
	gen := room.generation

	switch outcome {
	case tictactoe.OutcomeRejected:
		room.mu.Unlock()
		return

	case tictactoe.OutcomePlaced:
		room.mu.Unlock()
		rm.broadcast(room)

	case tictactoe.OutcomeWin:
		res := database.Result{
			RoomID:       room.ID,
			WinnerID:     room.game.Winner,
			WinnerSymbol: string(room.game.Symbols[room.game.Winner]),
		}
		for _, seat := range room.seats {
			if seat.PlayerID != res.WinnerID {
				res.LoserID = seat.PlayerID
			}
		}
		room.mu.Unlock()

		rm.broadcast(room)
		rm.recordResult(res)
		// X opens the next round after the reset delay.
		rm.afterTransition(room, rm.cfg.RoundResetDelay, gen, func(r *Room) {
			r.generation++
			r.game.ResetRound()
		})

	case tictactoe.OutcomeBoardFull:
		room.mu.Unlock()

		// The oldest move is already marked; reveal the sentinel now and
		// clear the cell after the delay.
		rm.broadcast(room)
		rm.afterTransition(room, rm.cfg.EvictionDelay, gen, func(r *Room) {
			r.game.ClearEvicting()
		})
	}
}

// afterTransition schedules a delayed transition tagged with the room
// generation it was scheduled against. When it fires it re-checks
// liveness: a destroyed room or an advanced generation makes it a no-op,
// so stale timers cannot resurrect dead rooms.
func (rm *RoomManager) afterTransition(room *Room, d time.Duration, gen uint64, apply func(*Room)) {
	time.AfterFunc(d, func() {
		room.mu.Lock()
		if room.destroyed || room.generation != gen {
			room.mu.Unlock()
			return
		}
		apply(room)
		room.mu.Unlock()
		rm.broadcast(room)
	})
}

// runTicks is the fixed-rate simulation loop for one arena room. Each
// tick integrates pending input and broadcasts a full snapshot,
// independent of message arrival.
func (rm *RoomManager) runTicks(room *Room) {
	interval := time.Second / time.Duration(rm.cfg.Arena.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-room.done:
			return
		case <-ticker.C:
			room.mu.Lock()
			if room.destroyed {
				room.mu.Unlock()
				return
			}
			room.world.Step()
			room.mu.Unlock()
			rm.broadcast(room)
		}
	}
}

func (rm *RoomManager) recordResult(res database.Result) {
	if rm.results == nil {
		return
	}
	// Best effort off the transition path; a slow database must not
	// stall the room.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rm.results.RecordResult(ctx, res); err != nil {
			log.Printf("Failed to record result for room %s: %v", res.RoomID, err)
		}
	}()
}

// Shutdown destroys every live room. Pending timers and tick loops see
// the destroyed flag and stop.
func (rm *RoomManager) Shutdown() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for id, room := range rm.rooms {
		room.mu.Lock()
		room.destroyed = true
		room.generation++
		if room.done != nil {
			close(room.done)
		}
		room.mu.Unlock()
		delete(rm.rooms, id)
	}
}

func randomColor() string {
	const hex = "0123456789ABCDEF"
	b := make([]byte, 7)
	b[0] = '#'
	for i := 1; i < 7; i++ {
		b[i] = hex[rand.Intn(len(hex))]
	}
	return string(b)
}
