// Package limit evaluates a usage counter against an optional quota.
//
// Everything in this package is pure: no I/O, no clocks, no shared state.
// A limit that is absent and a limit of zero are both unlimited.
package limit

import (
	"encoding/json"
	"strconv"
)

// UnlimitedRemaining is returned by Remaining when no quota applies.
const UnlimitedRemaining int64 = -1

// Limit is an optional non-negative quota.
// The zero value is an absent limit.
type Limit struct {
	n   int64
	set bool
}

// Unlimited is the absent limit.
var Unlimited = Limit{}

// Of returns an explicit limit. Of(0) is still reported as unlimited,
// but Value and Ptr keep the explicit zero.
func Of(n int64) Limit { return Limit{n: n, set: true} }

// FromPtr converts a nullable column value into a Limit.
func FromPtr(p *int64) Limit {
	if p == nil {
		return Unlimited
	}
	return Of(*p)
}

// Ptr returns the limit as a nullable value. Absent limits return nil.
func (l Limit) Ptr() *int64 {
	if !l.set {
		return nil
	}
	n := l.n
	return &n
}

// Value returns the configured number and whether one was configured.
func (l Limit) Value() (int64, bool) { return l.n, l.set }

// IsSet reports whether a value was configured, including zero.
func (l Limit) IsSet() bool { return l.set }

// IsUnlimited reports whether the limit is absent or zero.
func (l Limit) IsUnlimited() bool { return !l.set || l.n == 0 }

// Valid reports whether the limit satisfies the non-negative invariant.
func (l Limit) Valid() bool { return !l.set || l.n >= 0 }

func (l Limit) String() string {
	if !l.set {
		return "unlimited"
	}
	return strconv.FormatInt(l.n, 10)
}

// MarshalJSON encodes an absent limit as null.
func (l Limit) MarshalJSON() ([]byte, error) {
	if !l.set {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(l.n, 10)), nil
}

// UnmarshalJSON accepts null or an integer.
func (l *Limit) UnmarshalJSON(data []byte) error {
	var p *int64
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = FromPtr(p)
	return nil
}
