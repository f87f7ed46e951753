package core

import "sync/atomic"

// Clock hands out transaction window identifiers.
//
// Every Execute, Query, WriteKeyed and Transaction call takes a fresh id on
// entry. Ids are strictly increasing and never reused for the lifetime of
// one Core, which is what lets the change reporter track open windows as a
// set instead of a depth counter.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next identifier. The first call returns 1.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the most recently issued identifier without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
