package server

// ClientMessage is the single inbound record shape. The type field is
// the discriminant; the remaining fields are populated per variant:
//
//	host:  roomId, password, mode ("arena" default, or "tictactoe")
//	join:  roomId, password
//	input: keys (name -> pressed) or dir ("up"/"down"/"left"/"right")
//	move:  row, col
//
// Payloads that do not decode into this shape are dropped silently.
type ClientMessage struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	Password string          `json:"password,omitempty"`
	Mode     string          `json:"mode,omitempty"`
	Keys     map[string]bool `json:"keys,omitempty"`
	Dir      string          `json:"dir,omitempty"`
	Row      int             `json:"row,omitempty"`
	Col      int             `json:"col,omitempty"`
}
