// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srtcore

import (
	"testing"

	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testTracker(t *testing.T, ceiling int) *ToleranceTracker {
	return NewToleranceTracker(ceiling, zapr.NewLogger(zaptest.NewLogger(t)))
}

func TestToleranceStartsAtZero(t *testing.T) {
	tr := testTracker(t, 10)
	require.Equal(t, 10, tr.Ceiling())
	require.Equal(t, 0, tr.Current())
}

func TestToleranceGrowsAndSaturates(t *testing.T) {
	tr := testTracker(t, 3)
	for i := 1; i <= 3; i++ {
		tr.OnBelated()
		require.Equal(t, i, tr.Current())
	}
	tr.OnBelated()
	tr.OnBelated()
	require.Equal(t, 3, tr.Current())
}

func TestToleranceZeroCeiling(t *testing.T) {
	tr := testTracker(t, 0)
	tr.OnBelated()
	require.Equal(t, 0, tr.Current())

	// with no tolerance, every gap is an immediate loss
	require.True(t, tr.ObserveGap(1))
	require.False(t, tr.ObserveGap(0))
}

func TestToleranceCeilingClamp(t *testing.T) {
	tr := testTracker(t, 10)
	for i := 0; i < 7; i++ {
		tr.OnBelated()
	}
	require.Equal(t, 7, tr.Current())

	tr.SetCeiling(4)
	require.Equal(t, 4, tr.Ceiling())
	require.Equal(t, 4, tr.Current())

	// raising the ceiling back does not restore the old distance
	tr.SetCeiling(10)
	require.Equal(t, 4, tr.Current())

	tr.SetCeiling(-1)
	require.Equal(t, 0, tr.Ceiling())
	require.Equal(t, 0, tr.Current())
}

func TestToleranceObserveGap(t *testing.T) {
	tr := testTracker(t, 5)
	tr.OnBelated()
	tr.OnBelated()
	require.Equal(t, 2, tr.Current())

	require.False(t, tr.ObserveGap(1))
	require.False(t, tr.ObserveGap(2))
	require.True(t, tr.ObserveGap(3))

	// classification alone never moves the distance
	require.Equal(t, 2, tr.Current())
}

func TestToleranceLossHandler(t *testing.T) {
	tr := testTracker(t, 5)
	tr.OnBelated()

	var declared []int
	tr.SetLossHandler(func(gap int) { declared = append(declared, gap) })

	require.False(t, tr.ObserveGap(1))
	require.True(t, tr.ObserveGap(4))
	require.True(t, tr.ObserveGap(2))
	require.Equal(t, []int{4, 2}, declared)
}

func TestToleranceNoDecay(t *testing.T) {
	tr := testTracker(t, 5)
	tr.OnBelated()
	tr.OnBelated()
	tr.OnBelated()

	// a long run of clean classifications leaves the distance alone
	for i := 0; i < 1000; i++ {
		tr.ObserveGap(1)
		tr.ObserveGap(7)
	}
	require.Equal(t, 3, tr.Current())
}

func TestToleranceNegativeCeilingConstruction(t *testing.T) {
	tr := testTracker(t, -3)
	require.Equal(t, 0, tr.Ceiling())
}
