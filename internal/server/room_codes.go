package server

import "errors"

// Room ids are chosen by the creator (clients typically send short
// A-Z0-9 codes), so validation is loose: printable ASCII without
// spaces, bounded length. Uniqueness is enforced by the registry, not
// here.
func ValidateRoomID(id string) error {
	if id == "" {
		return errors.New("INVALID_ROOM_ID: Room id cannot be empty")
	}
	if len(id) > 32 {
		return errors.New("INVALID_ROOM_ID: Room id too long (max 32 characters)")
	}
	for _, ch := range id {
		if ch <= ' ' || ch > '~' {
			return errors.New("INVALID_ROOM_ID: Room id must be printable characters without spaces")
		}
	}
	return nil
}
