// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srtcore

import (
	"sync"

	"github.com/go-logr/logr"
)

// LossHandler consumes loss declarations: gap is the number of sequence
// positions between the highest contiguous position and the arrival that
// exceeded the tolerance.
type LossHandler func(gap int)

// ToleranceTracker adapts the number of out-of-order sequence positions
// tolerated before a gap is declared a loss.
//
// The dynamic distance starts at 0 and grows by one on each observed
// reordering event (a sequence number that looked lost but then arrived),
// saturating at the configured ceiling. Lowering the ceiling clamps the
// distance immediately. Increases never decay on their own; decay, if
// ever wanted, must be an explicit policy call, so that the tracker keeps
// no timers of its own.
type ToleranceTracker struct {
	mu      sync.Mutex
	current int
	ceiling int
	onLoss  LossHandler
	log     logr.Logger
}

// NewToleranceTracker returns a tracker with the given ceiling and a
// distance of 0.
func NewToleranceTracker(ceiling int, log logr.Logger) *ToleranceTracker {
	if ceiling < 0 {
		ceiling = 0
	}
	return &ToleranceTracker{ceiling: ceiling, log: log}
}

// SetLossHandler registers the consumer of loss declarations, normally
// the retransmission requester.
func (t *ToleranceTracker) SetLossHandler(h LossHandler) {
	t.mu.Lock()
	t.onLoss = h
	t.mu.Unlock()
}

// Ceiling returns the configured maximum tolerance. This is the
// statistics-visible baseline: it equals the inherited lossmaxttl
// immediately after connection establishment, before any reordering has
// been observed.
func (t *ToleranceTracker) Ceiling() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ceiling
}

// Current returns the dynamic reorder distance. Read-only to callers;
// only reordering events and ceiling changes move it.
func (t *ToleranceTracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// SetCeiling replaces the ceiling. Lowering it below the current distance
// clamps the distance at once.
func (t *ToleranceTracker) SetCeiling(n int) {
	if n < 0 {
		n = 0
	}
	t.mu.Lock()
	t.ceiling = n
	if t.current > n {
		t.current = n
	}
	t.mu.Unlock()
}

// OnBelated records a reordering event: a sequence number that had fallen
// behind far enough to look lost arrived after all. The distance grows by
// one, saturating at the ceiling.
func (t *ToleranceTracker) OnBelated() {
	t.mu.Lock()
	if t.current < t.ceiling {
		t.current++
		t.log.V(1).Info("reorder tolerance raised", "distance", t.current, "ceiling", t.ceiling)
	}
	t.mu.Unlock()
}

// ObserveGap classifies a sequence gap. Gaps within the current distance
// are reordering-in-flight and return false; larger gaps are declared
// lost, invoke the loss handler, and return true.
func (t *ToleranceTracker) ObserveGap(gap int) bool {
	t.mu.Lock()
	lost := gap > t.current
	h := t.onLoss
	t.mu.Unlock()
	if lost && h != nil {
		h(gap)
	}
	return lost
}
