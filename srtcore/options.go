// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srtcore

import (
	"time"
)

// SockOpt identifies a socket option.
type SockOpt int

const (
	OptMSS SockOpt = iota
	OptFC
	OptSndBuf
	OptRcvBuf
	OptUDPSndBuf
	OptUDPRcvBuf
	OptRendezvous
	OptReuseAddr
	OptMaxBW
	OptInputBW
	OptMinInputBW
	OptOverheadBW
	OptLatency
	OptConnTimeo
	OptPeerIdleTimeo
	OptSndDropDelay
	OptMessageAPI
	OptPayloadSize
	OptNAKReport
	OptTLPktDrop
	OptLossMaxTTL
	OptStreamID
	OptCongestion
	OptVersion
	OptISN

	numSockOpt
)

// ValueKind is the wire-level type of an option value.
type ValueKind int

const (
	KindInt32 ValueKind = iota
	KindInt64
	KindBool
	// KindDuration is carried as an int32 count of milliseconds.
	KindDuration
	// KindBytes is a variable-length byte sequence with a per-option
	// maximum; the stored length may be anything up to that maximum.
	KindBytes
)

// fixedSize returns the exact buffer size required by fixed-size kinds,
// or 0 for KindBytes.
func (k ValueKind) fixedSize() int {
	switch k {
	case KindInt32, KindDuration:
		return 4
	case KindInt64:
		return 8
	case KindBool:
		return 1
	}
	return 0
}

// Restriction is the lifecycle class controlling when an option may be
// written.
type Restriction int

const (
	// RestrictPreBind options may only be set before the socket is bound.
	RestrictPreBind Restriction = iota
	// RestrictPre options may be set any time before the connection is
	// established.
	RestrictPre
	// RestrictPost options may be set at any time, including on a live
	// connection.
	RestrictPost
	// RestrictNone options are read-only; they receive their default at
	// construction and never change through the option interface.
	RestrictNone
)

// Value is a tagged union over the supported option value kinds. The
// zero Value of a kind is the natural zero (0, false, empty).
type Value struct {
	kind ValueKind
	num  int64
	buf  []byte
}

func Int32Value(v int32) Value    { return Value{kind: KindInt32, num: int64(v)} }
func Int64Value(v int64) Value    { return Value{kind: KindInt64, num: v} }
func BoolValue(v bool) Value      { return Value{kind: KindBool, num: boolToNum(v)} }
func BytesValue(b []byte) Value   { return Value{kind: KindBytes, buf: append([]byte(nil), b...)} }
func StringValue(s string) Value  { return Value{kind: KindBytes, buf: []byte(s)} }
func DurationValue(d time.Duration) Value {
	return Value{kind: KindDuration, num: int64(d / time.Millisecond)}
}

func boolToNum(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) Int32() int32    { return int32(v.num) }
func (v Value) Int64() int64    { return v.num }
func (v Value) Bool() bool      { return v.num != 0 }
func (v Value) Duration() time.Duration {
	return time.Duration(v.num) * time.Millisecond
}

// Bytes returns the stored byte sequence. The returned slice is a copy;
// stores never alias caller memory.
func (v Value) Bytes() []byte { return append([]byte(nil), v.buf...) }

func (v Value) String() string { return string(v.buf) }

// Len returns the current stored length in bytes.
func (v Value) Len() int {
	if v.kind == KindBytes {
		return len(v.buf)
	}
	return v.kind.fixedSize()
}

// OptionDesc describes one option in the registry: its name, value kind,
// size contract, lifecycle restriction, default, and semantic validation.
// Descriptors are immutable once registered; dispatch goes through them
// rather than a central per-option switch, so adding an option never
// touches unrelated code.
type OptionDesc struct {
	Opt      SockOpt
	Name     string
	Kind     ValueKind
	MaxSize  int // KindBytes only
	Restrict Restriction
	Default  Value

	// Negotiable options travel in handshake extension blocks and may be
	// overridden by peer-supplied data during accept.
	Negotiable bool
	Ext        ExtensionType

	// Validate checks semantic constraints beyond size. Nil means any
	// well-sized value is accepted.
	Validate func(v Value) error
}

// Protocol constants governing option bounds.
const (
	// MaxStreamIDLength is the maximum content length of the stream
	// identifier, a fixed protocol constant.
	MaxStreamIDLength = 512
	// MaxCongestionNameLength bounds the congestion controller name.
	MaxCongestionNameLength = 16
	// MinMSS is the smallest usable UDP payload size.
	MinMSS = 76
	// MaxPayloadSize is the largest application payload per packet with
	// default MSS.
	MaxPayloadSize = 1456
	// MinFlightFlagSize is the smallest allowed flow control window, in
	// packets.
	MinFlightFlagSize = 32

	// ProtocolVersion is 1.4.3 in the usual major<<16|minor<<8|patch form.
	ProtocolVersion = 0x010403
)

func nonNegative32(v Value) error {
	if v.Int32() < 0 {
		return errInvParam("value must be non-negative, got %d", v.Int32())
	}
	return nil
}

func nonNegative64(v Value) error {
	if v.Int64() < 0 {
		return errInvParam("value must be non-negative, got %d", v.Int64())
	}
	return nil
}

var optionTable = []OptionDesc{
	{Opt: OptMSS, Name: "mss", Kind: KindInt32, Restrict: RestrictPreBind,
		Default: Int32Value(1500),
		Validate: func(v Value) error {
			if v.Int32() < MinMSS {
				return errInvParam("mss must be at least %d, got %d", MinMSS, v.Int32())
			}
			return nil
		}},
	{Opt: OptFC, Name: "fc", Kind: KindInt32, Restrict: RestrictPre,
		Default: Int32Value(25600),
		Validate: func(v Value) error {
			if v.Int32() < MinFlightFlagSize {
				return errInvParam("fc must be at least %d, got %d", MinFlightFlagSize, v.Int32())
			}
			return nil
		}},
	{Opt: OptSndBuf, Name: "sndbuf", Kind: KindInt32, Restrict: RestrictPre,
		Default: Int32Value(8192 * 1500),
		Validate: func(v Value) error {
			if v.Int32() <= 0 {
				return errInvParam("sndbuf must be positive, got %d", v.Int32())
			}
			return nil
		}},
	{Opt: OptRcvBuf, Name: "rcvbuf", Kind: KindInt32, Restrict: RestrictPre,
		Default: Int32Value(8192 * 1500),
		Validate: func(v Value) error {
			if v.Int32() <= 0 {
				return errInvParam("rcvbuf must be positive, got %d", v.Int32())
			}
			return nil
		}},
	{Opt: OptUDPSndBuf, Name: "udp_sndbuf", Kind: KindInt32, Restrict: RestrictPreBind,
		Default: Int32Value(65536), Validate: nonNegative32},
	{Opt: OptUDPRcvBuf, Name: "udp_rcvbuf", Kind: KindInt32, Restrict: RestrictPreBind,
		Default: Int32Value(8192 * 1500), Validate: nonNegative32},
	{Opt: OptRendezvous, Name: "rendezvous", Kind: KindBool, Restrict: RestrictPre,
		Default: BoolValue(false)},
	{Opt: OptReuseAddr, Name: "reuseaddr", Kind: KindBool, Restrict: RestrictPreBind,
		Default: BoolValue(true)},
	{Opt: OptMaxBW, Name: "maxbw", Kind: KindInt64, Restrict: RestrictPost,
		Default: Int64Value(0), Validate: nonNegative64},
	{Opt: OptInputBW, Name: "inputbw", Kind: KindInt64, Restrict: RestrictPost,
		Default: Int64Value(0), Validate: nonNegative64},
	{Opt: OptMinInputBW, Name: "mininputbw", Kind: KindInt64, Restrict: RestrictPost,
		Default: Int64Value(0), Validate: nonNegative64},
	{Opt: OptOverheadBW, Name: "oheadbw", Kind: KindInt32, Restrict: RestrictPost,
		Default: Int32Value(25),
		Validate: func(v Value) error {
			if v.Int32() < 5 || v.Int32() > 100 {
				return errInvParam("oheadbw must be in [5, 100], got %d", v.Int32())
			}
			return nil
		}},
	{Opt: OptLatency, Name: "latency", Kind: KindDuration, Restrict: RestrictPre,
		Default: DurationValue(120 * time.Millisecond), Validate: nonNegative32},
	{Opt: OptConnTimeo, Name: "conntimeo", Kind: KindDuration, Restrict: RestrictPre,
		Default: DurationValue(3 * time.Second), Validate: nonNegative32},
	{Opt: OptPeerIdleTimeo, Name: "peeridletimeo", Kind: KindDuration, Restrict: RestrictPost,
		Default: DurationValue(5 * time.Second), Validate: nonNegative32},
	{Opt: OptSndDropDelay, Name: "snddropdelay", Kind: KindDuration, Restrict: RestrictPost,
		Default: DurationValue(0), Validate: nonNegative32},
	{Opt: OptMessageAPI, Name: "messageapi", Kind: KindBool, Restrict: RestrictPre,
		Default: BoolValue(true)},
	{Opt: OptPayloadSize, Name: "payloadsize", Kind: KindInt32, Restrict: RestrictPre,
		Default: Int32Value(1316),
		Validate: func(v Value) error {
			if v.Int32() <= 0 || v.Int32() > MaxPayloadSize {
				return errInvParam("payloadsize must be in (0, %d], got %d", MaxPayloadSize, v.Int32())
			}
			return nil
		}},
	{Opt: OptNAKReport, Name: "nakreport", Kind: KindBool, Restrict: RestrictPre,
		Default: BoolValue(true)},
	{Opt: OptTLPktDrop, Name: "tlpktdrop", Kind: KindBool, Restrict: RestrictPre,
		Default: BoolValue(true)},
	{Opt: OptLossMaxTTL, Name: "lossmaxttl", Kind: KindInt32, Restrict: RestrictPost,
		Default: Int32Value(0), Validate: nonNegative32},
	{Opt: OptStreamID, Name: "streamid", Kind: KindBytes, MaxSize: MaxStreamIDLength,
		Restrict: RestrictPre, Default: BytesValue(nil),
		Negotiable: true, Ext: ExtStreamID},
	{Opt: OptCongestion, Name: "congestion", Kind: KindBytes, MaxSize: MaxCongestionNameLength,
		Restrict: RestrictPre, Default: StringValue("live"),
		Negotiable: true, Ext: ExtCongestion,
		Validate: func(v Value) error {
			switch v.String() {
			case "live", "file":
				return nil
			}
			return errInvParam("congestion must be \"live\" or \"file\", got %q", v.String())
		}},
	{Opt: OptVersion, Name: "version", Kind: KindInt32, Restrict: RestrictNone,
		Default: Int32Value(ProtocolVersion)},
	{Opt: OptISN, Name: "isn", Kind: KindInt32, Restrict: RestrictNone,
		Default: Int32Value(0)},
}

var (
	registry      [numSockOpt]*OptionDesc
	registryNames = make(map[string]*OptionDesc, numSockOpt)
	registryExts  = make(map[ExtensionType]*OptionDesc)
)

func init() {
	for i := range optionTable {
		d := &optionTable[i]
		if registry[d.Opt] != nil {
			panic("duplicate option descriptor: " + d.Name)
		}
		if d.Default.kind != d.Kind {
			panic("descriptor default has wrong kind: " + d.Name)
		}
		registry[d.Opt] = d
		registryNames[d.Name] = d
		if d.Negotiable {
			registryExts[d.Ext] = d
		}
	}
	for opt := SockOpt(0); opt < numSockOpt; opt++ {
		if registry[opt] == nil {
			panic("option without descriptor")
		}
	}
}

// Describe returns the registry descriptor for opt, or nil if the id is
// unknown.
func Describe(opt SockOpt) *OptionDesc {
	if opt < 0 || opt >= numSockOpt {
		return nil
	}
	return registry[opt]
}

// DescribeName looks a descriptor up by its registry name, as used in
// option profiles.
func DescribeName(name string) *OptionDesc {
	return registryNames[name]
}

// describeExt maps a handshake extension type to the negotiable option it
// carries.
func describeExt(ext ExtensionType) *OptionDesc {
	return registryExts[ext]
}

// Options returns all registered descriptors in id order.
func Options() []OptionDesc {
	return append([]OptionDesc(nil), optionTable...)
}

func (d *OptionDesc) validate(v Value) error {
	if d.Kind == KindBytes && v.Len() > d.MaxSize {
		return errInvParam("%s: length %d exceeds maximum %d", d.Name, v.Len(), d.MaxSize)
	}
	if d.Validate != nil {
		return d.Validate(v)
	}
	return nil
}
