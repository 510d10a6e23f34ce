package settings

import (
	"context"
	"sync"
)

// Range bounds a numeric setting.
type Range struct {
	min  *Limit
	max  *Limit
	inc  int
	live bool

	mu       sync.Mutex
	minValue int
	minSet   bool
	maxValue int
	maxSet   bool
}

// NewRange creates a range. An increment below 1 is replaced by 1.
// A live range re-resolves its limits on every query.
func NewRange(lower, upper *Limit, inc int, live bool) *Range {
	if inc < 1 {
		inc = 1
	}
	return &Range{min: lower, max: upper, inc: inc, live: live}
}

// Inc returns the increment step.
func (r *Range) Inc() int { return r.inc }

// Live reports whether the bounds are resolved on every query.
func (r *Range) Live() bool { return r.live }

// MinLimit returns the lower bound expression.
func (r *Range) MinLimit() *Limit { return r.min }

// MaxLimit returns the upper bound expression.
func (r *Range) MaxLimit() *Limit { return r.max }

func (r *Range) bind(s *Setting) {
	r.min.bind(s)
	r.max.bind(s)
}

// Min returns the lower bound, or def if it cannot be resolved.
func (r *Range) Min(ctx context.Context, def int) int {
	r.mu.Lock()
	if !r.live && r.minSet {
		v := r.minValue
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()

	v := r.min.Get(ctx, def)

	r.mu.Lock()
	r.minValue, r.minSet = v, true
	r.mu.Unlock()
	return v
}

// Max returns the upper bound, or def if it cannot be resolved.
func (r *Range) Max(ctx context.Context, def int) int {
	r.mu.Lock()
	if !r.live && r.maxSet {
		v := r.maxValue
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()

	v := r.max.Get(ctx, def)

	r.mu.Lock()
	r.maxValue, r.maxSet = v, true
	r.mu.Unlock()
	return v
}

// Reset discards cached bounds so the next query resolves them again.
func (r *Range) Reset() {
	r.mu.Lock()
	r.minSet, r.maxSet = false, false
	r.mu.Unlock()
}
