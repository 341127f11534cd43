package tabletop

import "errors"

// ErrNotFound is returned for any unknown host, game, scene, token, or
// roll. Lookups deliberately share one sentinel so callers cannot tell
// which level of the hierarchy missed.
var ErrNotFound = errors.New("not found")

// ErrNameTaken is returned when a joining player's name is already in
// use in the room.
var ErrNameTaken = errors.New("name already in use")
