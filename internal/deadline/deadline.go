// Package deadline provides a resettable timeout budget over an
// injectable monotonic clock.
package deadline

import (
	"errors"
	"time"
)

// Budget tracks a fixed limit against a movable anchor. The zero value is
// not usable; construct with New.
type Budget struct {
	limit  time.Duration
	now    func() time.Time
	anchor time.Time
}

// New builds a budget anchored at the current clock reading. The clock must
// be monotonic for expiry math to survive wall-clock adjustments; time.Now
// satisfies that via Go's monotonic reading.
func New(limit time.Duration, now func() time.Time) (*Budget, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Budget{
		limit:  limit,
		now:    now,
		anchor: now(),
	}, nil
}

// Expired reports whether the elapsed time since the anchor has reached the limit.
func (b *Budget) Expired() bool {
	if b == nil {
		return false
	}
	return b.now().Sub(b.anchor) >= b.limit
}

// Reset moves the anchor to the current clock reading. This is the only
// mutation; callers use it for sliding-window inactivity semantics.
func (b *Budget) Reset() {
	if b == nil {
		return
	}
	b.anchor = b.now()
}

// Remaining returns the time left before expiry, never negative.
func (b *Budget) Remaining() time.Duration {
	if b == nil {
		return 0
	}
	left := b.limit - b.now().Sub(b.anchor)
	if left < 0 {
		return 0
	}
	return left
}

// Limit returns the fixed budget duration.
func (b *Budget) Limit() time.Duration {
	if b == nil {
		return 0
	}
	return b.limit
}
