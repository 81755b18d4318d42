// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srtcore

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig(RoleCaller)
	require.Equal(t, RoleCaller, cfg.Role())
	require.Equal(t, PhasePreBind, cfg.Phase())

	require.Equal(t, int32(1500), cfg.Int32(OptMSS))
	require.Equal(t, int32(25), cfg.Int32(OptOverheadBW))
	require.Equal(t, int64(0), cfg.Int64(OptMaxBW))
	require.Equal(t, int64(0), cfg.Int64(OptMinInputBW))
	require.Equal(t, int32(0), cfg.Int32(OptLossMaxTTL))
	require.Equal(t, 120*time.Millisecond, cfg.Duration(OptLatency))
	require.Equal(t, true, cfg.Bool(OptNAKReport))
	require.Equal(t, "live", string(cfg.Bytes(OptCongestion)))
	require.Equal(t, int32(ProtocolVersion), cfg.Int32(OptVersion))

	// an option never set reports zero length
	require.Equal(t, 0, cfg.Value(OptStreamID).Len())
}

func TestConfigGetSizeContract(t *testing.T) {
	ClearLastError()
	cfg := NewConfig(RoleCaller)

	// fixed-size: a too-small capacity fails without touching the buffer
	buf := make([]byte, 16)
	length := 7
	err := cfg.Get(OptMinInputBW, buf, &length)
	require.Error(t, err)
	require.Equal(t, 7, length)
	require.Equal(t, EInvParam, GetLastError().Code)

	// bigger storage is allowed; the exact size is reported back
	length = 16
	require.NoError(t, cfg.Get(OptMinInputBW, buf, &length))
	require.Equal(t, 8, length)
	require.Equal(t, int64(0), int64(binary.LittleEndian.Uint64(buf[:8])))

	// exact capacity works too
	length = 8
	require.NoError(t, cfg.Get(OptMinInputBW, buf[:8], &length))
	require.Equal(t, 8, length)
}

func TestConfigSetSizeContract(t *testing.T) {
	cfg := NewConfig(RoleCaller)

	// fixed-size options take exactly their size, nothing else
	require.Error(t, cfg.Set(OptMinInputBW, make([]byte, 7)))
	require.Error(t, cfg.Set(OptMinInputBW, make([]byte, 9)))

	want := make([]byte, 8)
	binary.LittleEndian.PutUint64(want, 50_000_000)
	require.NoError(t, cfg.Set(OptMinInputBW, want))
	require.Equal(t, int64(50_000_000), cfg.Int64(OptMinInputBW))
}

func TestConfigRejectedSetLeavesValue(t *testing.T) {
	cfg := NewConfig(RoleCaller)
	require.NoError(t, cfg.SetInt64(OptMaxBW, 1_000_000))

	err := cfg.SetInt64(OptMaxBW, -1)
	require.Error(t, err)
	var srtErr *Error
	require.ErrorAs(t, err, &srtErr)
	require.Equal(t, EInvParam, srtErr.Code)
	require.Equal(t, int64(1_000_000), cfg.Int64(OptMaxBW))
}

func TestConfigUnknownOption(t *testing.T) {
	cfg := NewConfig(RoleCaller)
	require.Error(t, cfg.Set(SockOpt(999), make([]byte, 4)))
	length := 16
	require.Error(t, cfg.Get(SockOpt(999), make([]byte, 16), &length))
	require.Error(t, cfg.Set(SockOpt(-1), make([]byte, 4)))
}

func TestConfigWrongKind(t *testing.T) {
	cfg := NewConfig(RoleCaller)
	require.Error(t, cfg.SetValue(OptMaxBW, Int32Value(1)))
	require.Error(t, cfg.SetValue(OptMSS, Int64Value(1500)))
}

func TestConfigBoolStrictness(t *testing.T) {
	cfg := NewConfig(RoleCaller)
	require.NoError(t, cfg.Set(OptNAKReport, []byte{0}))
	require.False(t, cfg.Bool(OptNAKReport))
	require.NoError(t, cfg.Set(OptNAKReport, []byte{1}))
	require.True(t, cfg.Bool(OptNAKReport))
	require.Error(t, cfg.Set(OptNAKReport, []byte{2}))
	require.True(t, cfg.Bool(OptNAKReport))
}

func TestConfigPhaseRestrictions(t *testing.T) {
	cfg := NewConfig(RoleCaller)

	// pre-bind options freeze once the socket is bound
	require.NoError(t, cfg.SetInt32(OptMSS, 1400))
	cfg.EnterPhase(PhasePreConnect)
	err := cfg.SetInt32(OptMSS, 1300)
	require.Error(t, err)
	require.Equal(t, int32(1400), cfg.Int32(OptMSS))

	// pre options are still writable before the connection is up
	require.NoError(t, cfg.SetValue(OptStreamID, StringValue("abc")))
	cfg.EnterPhase(PhaseConnected)
	require.Error(t, cfg.SetBytes(OptStreamID, []byte("later")))
	require.Equal(t, "abc", string(cfg.Bytes(OptStreamID)))

	// post options remain writable on a live connection
	require.NoError(t, cfg.SetInt64(OptMaxBW, 2_000_000))
	require.NoError(t, cfg.SetInt32(OptLossMaxTTL, 10))

	// read-only options reject writes in every phase
	require.Error(t, cfg.SetInt32(OptVersion, 42))
	require.Equal(t, int32(ProtocolVersion), cfg.Int32(OptVersion))
}

func TestConfigPhaseNeverRegresses(t *testing.T) {
	cfg := NewConfig(RoleListener)
	cfg.EnterPhase(PhaseConnected)
	cfg.EnterPhase(PhasePreBind)
	require.Equal(t, PhaseConnected, cfg.Phase())
}

func TestConfigStreamIDBounds(t *testing.T) {
	cfg := NewConfig(RoleCaller)

	max := make([]byte, MaxStreamIDLength)
	for i := range max {
		max[i] = 'x'
	}
	require.NoError(t, cfg.SetBytes(OptStreamID, max))
	require.Equal(t, MaxStreamIDLength, cfg.Value(OptStreamID).Len())

	over := append(max, 'y')
	require.Error(t, cfg.SetBytes(OptStreamID, over))
	require.Equal(t, MaxStreamIDLength, cfg.Value(OptStreamID).Len())
}

func TestConfigCongestionValidation(t *testing.T) {
	cfg := NewConfig(RoleCaller)
	require.NoError(t, cfg.SetValue(OptCongestion, StringValue("file")))
	require.Error(t, cfg.SetValue(OptCongestion, StringValue("bogus")))
	require.Equal(t, "file", string(cfg.Bytes(OptCongestion)))
}

func TestConfigDurationRoundTrip(t *testing.T) {
	cfg := NewConfig(RoleCaller)
	require.NoError(t, cfg.SetDuration(OptLatency, 200*time.Millisecond))
	require.Equal(t, 200*time.Millisecond, cfg.Duration(OptLatency))

	// raw form is a little-endian millisecond count
	buf := make([]byte, 4)
	length := 4
	require.NoError(t, cfg.Get(OptLatency, buf, &length))
	require.Equal(t, uint32(200), binary.LittleEndian.Uint32(buf))

	binary.LittleEndian.PutUint32(buf, 80)
	require.NoError(t, cfg.Set(OptLatency, buf))
	require.Equal(t, 80*time.Millisecond, cfg.Duration(OptLatency))
}

func TestConfigClone(t *testing.T) {
	cfg := NewConfig(RoleListener)
	require.NoError(t, cfg.SetInt32(OptLossMaxTTL, 5))
	require.NoError(t, cfg.SetBytes(OptStreamID, []byte("origin")))
	cfg.EnterPhase(PhaseConnected)

	clone := cfg.Clone(RoleAccepted)
	require.Equal(t, RoleAccepted, clone.Role())
	require.Equal(t, PhasePreConnect, clone.Phase())
	require.Equal(t, int32(5), clone.Int32(OptLossMaxTTL))
	require.Equal(t, "origin", string(clone.Bytes(OptStreamID)))

	// deep copy: the clone never aliases the source's byte storage
	require.NoError(t, cfg.SetInt32(OptLossMaxTTL, 1))
	clone.EnterPhase(PhaseConnected)
	require.Equal(t, int32(5), clone.Int32(OptLossMaxTTL))
	require.Equal(t, int32(1), cfg.Int32(OptLossMaxTTL))
}

func TestRegistryLookups(t *testing.T) {
	require.Nil(t, Describe(SockOpt(-1)))
	require.Nil(t, Describe(numSockOpt))
	require.NotNil(t, Describe(OptStreamID))
	require.Equal(t, "streamid", Describe(OptStreamID).Name)

	require.Nil(t, DescribeName("nosuchoption"))
	require.Equal(t, OptMaxBW, DescribeName("maxbw").Opt)

	all := Options()
	require.Len(t, all, int(numSockOpt))
	for i, d := range all {
		require.Equal(t, SockOpt(i), d.Opt)
	}
}
