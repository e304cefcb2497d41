package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as an entity identifier.
// ULIDs sort lexicographically in creation order, which dispatch
// tie-breaking relies on.
func NewID() string {
	return ulid.Make().String()
}
