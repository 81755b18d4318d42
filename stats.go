// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srt

// Stats is a snapshot of a connection's adaptive-control state.
type Stats struct {
	// PktReorderTolerance is the tolerance ceiling in effect, inherited
	// from the lossmaxttl option at connection establishment.
	PktReorderTolerance int
	// PktReorderDistance is the dynamic reorder distance: the number of
	// out-of-order positions currently tolerated before a gap is declared
	// a loss. Starts at 0 and adapts upward on reordering events.
	PktReorderDistance int
	// PktRecvBelated counts packets that arrived after having looked
	// lost.
	PktRecvBelated uint64
	// PktLossDeclared counts sequence gaps declared as losses.
	PktLossDeclared uint64
	// EffectiveRateBps is the derived send pacing rate in bytes per
	// second; 0 means pacing is disabled.
	EffectiveRateBps int64
}
