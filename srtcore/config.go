// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srtcore

import (
	"encoding/binary"
	"sync"
	"time"
)

// Role tags a Config with the kind of socket that owns it.
type Role int

const (
	RoleCaller Role = iota
	RoleListener
	RoleAccepted
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleListener:
		return "listener"
	case RoleAccepted:
		return "accepted"
	}
	return "unknown"
}

// Phase is the lifecycle position of the owning socket. It only ever
// advances.
type Phase int

const (
	PhasePreBind Phase = iota
	PhasePreConnect
	PhaseConnected
)

// Config is the per-socket option store. Every registered option has an
// entry, explicitly set or defaulted. A Config is exclusively owned by one
// socket; a single lock serializes get/set against each other and against
// the negotiator's clone-and-override sequence, so partial inheritance is
// never observable.
type Config struct {
	mu     sync.Mutex
	role   Role
	phase  Phase
	values [numSockOpt]Value
}

// NewConfig builds a Config with every option at its registry default.
func NewConfig(role Role) *Config {
	c := &Config{role: role, phase: PhasePreBind}
	for opt := SockOpt(0); opt < numSockOpt; opt++ {
		c.values[opt] = registry[opt].Default
	}
	return c
}

// Role returns the role tag.
func (c *Config) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Phase returns the current lifecycle phase.
func (c *Config) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// EnterPhase advances the lifecycle phase. Moving backward is ignored;
// the phase of a live socket never regresses.
func (c *Config) EnterPhase(p Phase) {
	c.mu.Lock()
	if p > c.phase {
		c.phase = p
	}
	c.mu.Unlock()
}

// writable reports whether an option with the given restriction may be
// written in the current phase. Callers hold c.mu.
func (c *Config) writable(r Restriction) bool {
	switch r {
	case RestrictPreBind:
		return c.phase == PhasePreBind
	case RestrictPre:
		return c.phase < PhaseConnected
	case RestrictPost:
		return true
	}
	return false
}

// Get copies the stored value for opt into buf. length is both the
// caller's capacity bound on input and the actual copied size on output.
// Fixed-size options require *length >= the option size; bigger storage
// is allowed and the exact size is reported back. Variable-length options
// require *length >= the stored value's current length and copy exactly
// that much.
func (c *Config) Get(opt SockOpt, buf []byte, length *int) error {
	d := Describe(opt)
	if d == nil {
		return errInvParam("unknown option id %d", opt)
	}
	if length == nil {
		return errInvParam("%s: nil length", d.Name)
	}
	c.mu.Lock()
	v := c.values[opt]
	c.mu.Unlock()

	need := v.Len()
	if *length < need || len(buf) < need {
		return errInvParam("%s: buffer of %d bytes too small, need %d", d.Name, *length, need)
	}
	encodeValue(buf[:need], v)
	*length = need
	return nil
}

// Set validates and stores a raw value for opt. Fixed-size options
// require len(buf) to match the option size exactly; variable-length
// options require len(buf) <= the option maximum. On any failure the
// store is left unchanged.
func (c *Config) Set(opt SockOpt, buf []byte) error {
	d := Describe(opt)
	if d == nil {
		return errInvParam("unknown option id %d", opt)
	}
	v, err := decodeValue(d, buf)
	if err != nil {
		return err
	}
	return c.SetValue(opt, v)
}

// SetValue stores a typed value for opt, applying the same validation and
// phase rules as Set.
func (c *Config) SetValue(opt SockOpt, v Value) error {
	d := Describe(opt)
	if d == nil {
		return errInvParam("unknown option id %d", opt)
	}
	if v.kind != d.Kind {
		return errInvParam("%s: wrong value kind", d.Name)
	}
	if err := d.validate(v); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.Restrict == RestrictNone || !c.writable(d.Restrict) {
		return errInvParam("%s: not writable in %s phase", d.Name, phaseName(c.phase))
	}
	c.values[opt] = v
	return nil
}

// Value returns the stored value for opt. Unknown ids return the zero
// Value.
func (c *Config) Value(opt SockOpt) Value {
	if Describe(opt) == nil {
		return Value{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[opt]
}

// Typed accessors. The getters are plain conveniences over Value; the
// setters go through the full validation path.

func (c *Config) Int32(opt SockOpt) int32       { return c.Value(opt).Int32() }
func (c *Config) Int64(opt SockOpt) int64       { return c.Value(opt).Int64() }
func (c *Config) Bool(opt SockOpt) bool         { return c.Value(opt).Bool() }
func (c *Config) Bytes(opt SockOpt) []byte      { return c.Value(opt).Bytes() }
func (c *Config) Duration(opt SockOpt) time.Duration { return c.Value(opt).Duration() }

func (c *Config) SetInt32(opt SockOpt, v int32) error  { return c.SetValue(opt, Int32Value(v)) }
func (c *Config) SetInt64(opt SockOpt, v int64) error  { return c.SetValue(opt, Int64Value(v)) }
func (c *Config) SetBool(opt SockOpt, v bool) error    { return c.SetValue(opt, BoolValue(v)) }
func (c *Config) SetBytes(opt SockOpt, b []byte) error { return c.SetValue(opt, BytesValue(b)) }
func (c *Config) SetDuration(opt SockOpt, d time.Duration) error {
	return c.SetValue(opt, DurationValue(d))
}

// Clone deep-copies every entry into a fresh Config with the given role,
// reset to the PreConnect phase. The source is read under its lock and
// never mutated; byte-sequence values are copied, not aliased.
func (c *Config) Clone(role Role) *Config {
	out := &Config{role: role, phase: PhasePreConnect}
	c.mu.Lock()
	for opt := SockOpt(0); opt < numSockOpt; opt++ {
		v := c.values[opt]
		if v.kind == KindBytes {
			v.buf = append([]byte(nil), v.buf...)
		}
		out.values[opt] = v
	}
	c.mu.Unlock()
	return out
}

// applyPeerLocked stores a peer-supplied value, bypassing the phase check
// but not validation. The negotiator holds no other locks here; the store
// is private to it until the accept completes.
func (c *Config) applyPeer(d *OptionDesc, v Value) error {
	if err := d.validate(v); err != nil {
		return err
	}
	c.mu.Lock()
	c.values[d.Opt] = v
	c.mu.Unlock()
	return nil
}

func phaseName(p Phase) string {
	switch p {
	case PhasePreBind:
		return "pre-bind"
	case PhasePreConnect:
		return "pre-connect"
	case PhaseConnected:
		return "connected"
	}
	return "unknown"
}

// encodeValue writes v's raw representation into buf, which must be
// exactly v.Len() bytes. Integers use little-endian, matching the
// host-order contract of the original setsockopt-style interface on the
// platforms this targets.
func encodeValue(buf []byte, v Value) {
	switch v.kind {
	case KindInt32, KindDuration:
		binary.LittleEndian.PutUint32(buf, uint32(int32(v.num)))
	case KindInt64:
		binary.LittleEndian.PutUint64(buf, uint64(v.num))
	case KindBool:
		buf[0] = byte(v.num)
	case KindBytes:
		copy(buf, v.buf)
	}
}

// decodeValue parses a raw buffer according to the descriptor's kind,
// enforcing the size contract: exact match for fixed-size kinds, maximum
// bound for byte sequences.
func decodeValue(d *OptionDesc, buf []byte) (Value, error) {
	if d.Kind == KindBytes {
		if len(buf) > d.MaxSize {
			return Value{}, errInvParam("%s: length %d exceeds maximum %d", d.Name, len(buf), d.MaxSize)
		}
		return BytesValue(buf), nil
	}
	size := d.Kind.fixedSize()
	if len(buf) != size {
		return Value{}, errInvParam("%s: value must be exactly %d bytes, got %d", d.Name, size, len(buf))
	}
	switch d.Kind {
	case KindInt32:
		return Int32Value(int32(binary.LittleEndian.Uint32(buf))), nil
	case KindDuration:
		ms := int32(binary.LittleEndian.Uint32(buf))
		return Value{kind: KindDuration, num: int64(ms)}, nil
	case KindInt64:
		return Int64Value(int64(binary.LittleEndian.Uint64(buf))), nil
	case KindBool:
		switch buf[0] {
		case 0:
			return BoolValue(false), nil
		case 1:
			return BoolValue(true), nil
		}
		return Value{}, errInvParam("%s: boolean must be 0 or 1, got %d", d.Name, buf[0])
	}
	return Value{}, errInvParam("%s: unsupported kind", d.Name)
}
