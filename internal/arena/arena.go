package arena

// Keys is the pending input bitmask for one player. Input messages
// overwrite it wholesale; it is read once per tick, so the simulation
// advances at most one step per tick no matter how fast inputs arrive.
type Keys uint8

const (
	KeyUp Keys = 1 << iota
	KeyDown
	KeyLeft
	KeyRight
)

// KeyForName maps the wire names (wasd and arrow-style directions) to
// bitmask values.
func KeyForName(name string) (Keys, bool) {
	switch name {
	case "w", "up":
		return KeyUp, true
	case "s", "down":
		return KeyDown, true
	case "a", "left":
		return KeyLeft, true
	case "d", "right":
		return KeyRight, true
	default:
		return 0, false
	}
}

// Config fixes the world geometry and integration constants. Speed and
// Gravity are in pixels per tick; a zero Gravity disables vertical
// physics and lets the up/down keys steer directly.
type Config struct {
	Width      float64
	Height     float64
	PlayerSize float64
	Speed      float64
	TickRate   int
	Gravity    float64
}

func DefaultConfig() Config {
	return Config{
		Width:      600,
		Height:     400,
		PlayerSize: 20,
		Speed:      5,
		TickRate:   30,
	}
}

// Body is the authoritative position state for one player.
type Body struct {
	X    float64
	Y    float64
	VY   float64
	Keys Keys
}

// World simulates all bodies in one room. It is not safe for concurrent
// use; the owning room serializes access.
type World struct {
	cfg    Config
	bodies map[string]*Body
}

func NewWorld(cfg Config) *World {
	return &World{
		cfg:    cfg,
		bodies: make(map[string]*Body),
	}
}

func (w *World) Config() Config { return w.cfg }

func (w *World) Spawn(id string, x, y float64) *Body {
	b := &Body{X: x, Y: y}
	w.clamp(b)
	w.bodies[id] = b
	return b
}

func (w *World) Remove(id string) {
	delete(w.bodies, id)
}

// SetKeys replaces the pending input for id. Last write wins.
func (w *World) SetKeys(id string, keys Keys) {
	if b, ok := w.bodies[id]; ok {
		b.Keys = keys
	}
}

func (w *World) Body(id string) (*Body, bool) {
	b, ok := w.bodies[id]
	return b, ok
}

func (w *World) Bodies() map[string]*Body {
	return w.bodies
}

// Step advances the simulation by one tick: integrate pending input,
// apply gravity, then clamp to the world bounds.
func (w *World) Step() {
	for _, b := range w.bodies {
		if b.Keys&KeyLeft != 0 {
			b.X -= w.cfg.Speed
		}
		if b.Keys&KeyRight != 0 {
			b.X += w.cfg.Speed
		}

		if w.cfg.Gravity > 0 {
			b.VY += w.cfg.Gravity
			b.Y += b.VY
		} else {
			if b.Keys&KeyUp != 0 {
				b.Y -= w.cfg.Speed
			}
			if b.Keys&KeyDown != 0 {
				b.Y += w.cfg.Speed
			}
		}

		w.clamp(b)
	}
}

// clamp keeps a body inside [0, width-size] x [0, height-size]. The
// bottom edge doubles as the ground plane: contact zeroes the fall
// velocity so a grounded body does not accumulate speed.
func (w *World) clamp(b *Body) {
	maxX := w.cfg.Width - w.cfg.PlayerSize
	maxY := w.cfg.Height - w.cfg.PlayerSize

	if b.X < 0 {
		b.X = 0
	} else if b.X > maxX {
		b.X = maxX
	}

	if b.Y < 0 {
		b.Y = 0
	} else if b.Y >= maxY {
		b.Y = maxY
		if w.cfg.Gravity > 0 {
			b.VY = 0
		}
	}
}
