// Package types provides common types used across Guard.
package types

import "time"

// Entity carries creation and mutation timestamps.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates an Entity stamped with the current UTC time.
func NewEntity() Entity {
	now := Now()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch records a mutation.
func (e *Entity) Touch() {
	e.UpdatedAt = Now()
}

// LastModified returns how long ago the entity was last mutated.
func (e Entity) LastModified() time.Duration {
	return time.Since(e.UpdatedAt)
}

// Now returns the current time in UTC, truncated to microseconds so that
// values survive a round trip through every supported store unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
