package membership

import "errors"

// Failure modes of Join, per spec.md §4.4.
var (
	ErrNotFound           = errors.New("membership: room not found")
	ErrInactive           = errors.New("membership: room is not active")
	ErrFull               = errors.New("membership: room is full")
	ErrAlreadyInOtherRoom = errors.New("membership: user already in a different room")
)
