// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srtcore

import (
	"sync"
	"time"
)

const (
	// defaultInputRateFloor is the estimator floor used when no explicit
	// minimum input bandwidth is configured: 1 Mbps in bytes per second.
	defaultInputRateFloor = 125000

	// rateEstimatePeriod is the sampling window of the internal input
	// rate estimator.
	rateEstimatePeriod = time.Second
)

// Pacer derives the effective send pacing rate from the three bandwidth
// knobs: the hard cap (maxbw), the declared or measured input rate
// (inputbw), and the floor below which estimated input is not used for
// pacing (mininputbw). All rates are in bytes per second; 0 means
// "uncapped" or "auto" throughout.
//
// Recomputation is synchronous: every setter updates the effective rate
// before returning. An effective rate of 0 means pacing is disabled and
// sending is governed by congestion control alone.
type Pacer struct {
	mu sync.Mutex

	maxBW      int64
	inputBW    int64
	minInputBW int64
	// overhead percentage applied on top of input-derived rates
	overheadPct int32

	est rateEstimator

	effective int64
}

// NewPacer returns a Pacer with all knobs at their "auto" defaults and
// the given overhead percentage.
func NewPacer(overheadPct int32) *Pacer {
	p := &Pacer{overheadPct: overheadPct}
	p.est.reset(time.Now())
	return p
}

func (p *Pacer) SetMaxBW(v int64) {
	p.mu.Lock()
	p.maxBW = v
	p.recompute()
	p.mu.Unlock()
}

func (p *Pacer) SetInputBW(v int64) {
	p.mu.Lock()
	p.inputBW = v
	p.recompute()
	p.mu.Unlock()
}

func (p *Pacer) SetMinInputBW(v int64) {
	p.mu.Lock()
	p.minInputBW = v
	p.recompute()
	p.mu.Unlock()
}

func (p *Pacer) SetOverhead(pct int32) {
	p.mu.Lock()
	p.overheadPct = pct
	p.recompute()
	p.mu.Unlock()
}

// OnSent feeds the internal estimator with an observed send of n bytes.
// Only consulted while inputbw is 0 (auto).
func (p *Pacer) OnSent(n int) {
	p.onSentAt(n, time.Now())
}

func (p *Pacer) onSentAt(n int, now time.Time) {
	p.mu.Lock()
	p.est.add(n, now)
	p.recompute()
	p.mu.Unlock()
}

// EffectiveRate returns the derived pacing rate in bytes per second, or 0
// if pacing is disabled.
func (p *Pacer) EffectiveRate() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.effective
}

// recompute applies the derivation rules. Callers hold p.mu.
//
// derivedInput resolves the input side first: an explicit input rate is
// floored by mininputbw when that is set; an estimated rate below the
// floor is discarded entirely, leaving pacing to the hard cap alone.
// The overhead percentage then inflates the input-derived rate, and the
// hard cap wins whenever it is tighter.
func (p *Pacer) recompute() {
	var derived int64
	switch {
	case p.inputBW > 0:
		derived = p.inputBW
		if p.minInputBW > 0 && derived < p.minInputBW {
			derived = p.minInputBW
		}
	default:
		floor := p.minInputBW
		if floor == 0 {
			floor = defaultInputRateFloor
		}
		if est := p.est.rate(); est >= floor {
			derived = est
		}
	}
	if derived > 0 {
		derived = derived * int64(100+p.overheadPct) / 100
	}

	switch {
	case p.maxBW > 0 && (derived == 0 || p.maxBW < derived):
		p.effective = p.maxBW
	default:
		p.effective = derived
	}
}

// rateEstimator is a fixed-window byte counter: the rate reported for the
// current window is the bytes-per-second average of the last completed
// window. It carries no goroutine and no timer; time only advances when
// sends are observed.
type rateEstimator struct {
	windowStart time.Time
	windowBytes int64
	lastRate    int64
}

func (e *rateEstimator) reset(now time.Time) {
	e.windowStart = now
	e.windowBytes = 0
	e.lastRate = 0
}

func (e *rateEstimator) add(n int, now time.Time) {
	elapsed := now.Sub(e.windowStart)
	if elapsed >= rateEstimatePeriod {
		e.lastRate = e.windowBytes * int64(time.Second) / int64(elapsed)
		e.windowStart = now
		e.windowBytes = 0
	}
	e.windowBytes += int64(n)
}

func (e *rateEstimator) rate() int64 {
	return e.lastRate
}
