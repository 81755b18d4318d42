// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srt_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	srt "github.com/vidanio/srt-1.4.3"
	"github.com/vidanio/srt-1.4.3/srtcore"
)

const testProfiles = `
profiles:
  live-broadcast:
    streamid: "camera-1"
    maxbw: 12500000
    lossmaxttl: 5
    latency: 200ms
    nakreport: true
  bulk-transfer:
    congestion: "file"
    latency: 0
    oheadbw: 10
`

func TestProfileApply(t *testing.T) {
	startup(t)
	set, err := srt.LoadProfiles(strings.NewReader(testProfiles))
	require.NoError(t, err)
	require.Len(t, set.Profiles, 2)

	c := srt.NewConn()
	require.NoError(t, set.Profiles["live-broadcast"].Apply(c))
	require.Equal(t, "camera-1", c.GetSockOptString(srtcore.OptStreamID))
	require.Equal(t, int64(12_500_000), c.GetSockOptInt64(srtcore.OptMaxBW))
	require.Equal(t, int32(5), c.GetSockOptInt(srtcore.OptLossMaxTTL))
	require.Equal(t, 200*time.Millisecond, c.GetSockOptDuration(srtcore.OptLatency))
	require.True(t, c.GetSockOptBool(srtcore.OptNAKReport))

	// pacing picks the profile's cap up immediately
	require.Equal(t, int64(12_500_000), c.EffectiveSendRate())
}

func TestProfileBareIntegerDurations(t *testing.T) {
	startup(t)
	set, err := srt.LoadProfiles(strings.NewReader(testProfiles))
	require.NoError(t, err)

	c := srt.NewConn()
	require.NoError(t, set.Profiles["bulk-transfer"].Apply(c))
	require.Equal(t, "file", c.GetSockOptString(srtcore.OptCongestion))
	require.Equal(t, time.Duration(0), c.GetSockOptDuration(srtcore.OptLatency))
	require.Equal(t, int32(10), c.GetSockOptInt(srtcore.OptOverheadBW))
}

func TestProfileUnknownOption(t *testing.T) {
	startup(t)
	err := srt.Profile{"nosuchoption": 1}.Apply(srt.NewConn())
	require.Error(t, err)
	require.Contains(t, err.Error(), "nosuchoption")
}

func TestProfileWrongValueType(t *testing.T) {
	startup(t)
	c := srt.NewConn()
	require.Error(t, srt.Profile{"maxbw": "fast"}.Apply(c))
	require.Error(t, srt.Profile{"nakreport": 3}.Apply(c))
	require.Error(t, srt.Profile{"streamid": 7}.Apply(c))
}

func TestProfileValidationFailure(t *testing.T) {
	startup(t)
	c := srt.NewConn()
	require.NoError(t, srt.Profile{"maxbw": 1000}.Apply(c))
	require.Error(t, srt.Profile{"maxbw": -1}.Apply(c))
	require.Equal(t, int64(1000), c.GetSockOptInt64(srtcore.OptMaxBW))
}

func TestProfileFile(t *testing.T) {
	startup(t)
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testProfiles), 0o600))

	set, err := srt.LoadProfileFile(path)
	require.NoError(t, err)
	require.Contains(t, set.Profiles, "live-broadcast")
	require.Contains(t, set.Profiles, "bulk-transfer")

	_, err = srt.LoadProfileFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestProfileBadYAML(t *testing.T) {
	_, err := srt.LoadProfiles(strings.NewReader("profiles: [not, a, map]"))
	require.Error(t, err)
}

func TestProfileOnListener(t *testing.T) {
	startup(t)
	l := srt.NewListener()
	require.NoError(t, srt.Profile{"lossmaxttl": 7}.Apply(l))
	require.Equal(t, int32(7), l.GetSockOptInt(srtcore.OptLossMaxTTL))
}
