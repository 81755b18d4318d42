// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

// Package srt provides the configuration, negotiation, and adaptive
// control surface of a reliable UDP-based transport connection: a typed
// socket option interface, inheritance of listener options onto accepted
// connections, peer overrides carried in handshake extension blocks, a
// derived send pacing rate, and an adaptive reorder/loss tolerance.
//
// The heavy protocol machinery (retransmission scheduling, congestion
// windows, encryption) lives behind narrow interfaces and is not part of
// this package.
package srt

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/go-logr/logr"

	"github.com/vidanio/srt-1.4.3/srtcore"
)

// ErrNotStarted is returned when a socket is bound or connected without a
// preceding Startup call.
var ErrNotStarted = errors.New("srt: library not started")

var (
	startupLock  sync.Mutex
	startupCount int
)

// Startup initializes process-wide state and increments the startup
// reference count. Every Startup must be paired with a Cleanup. Multiple
// independent users of the library may each call Startup; the library
// does not assume it is the sole owner of the process lifecycle.
func Startup() int {
	startupLock.Lock()
	defer startupLock.Unlock()
	startupCount++
	return startupCount
}

// Cleanup decrements the startup reference count. Process-wide state is
// torn down when the count reaches zero. Sockets must not outlive the
// initialization they were created under.
func Cleanup() int {
	startupLock.Lock()
	defer startupLock.Unlock()
	if startupCount > 0 {
		startupCount--
	}
	if startupCount == 0 {
		srtcore.ClearLastError()
	}
	return startupCount
}

func started() bool {
	startupLock.Lock()
	defer startupLock.Unlock()
	return startupCount > 0
}

// Option customizes socket construction.
type Option func(*socketOptions)

type socketOptions struct {
	log     logr.Logger
	backlog int
}

func defaultSocketOptions() socketOptions {
	return socketOptions{
		log:     logr.Discard(),
		backlog: defaultAcceptBacklog,
	}
}

// WithLogger attaches a logger to the socket and everything it spawns.
func WithLogger(log logr.Logger) Option {
	return func(o *socketOptions) { o.log = log }
}

// WithBacklog sizes a listener's accept queue. Connections completing
// their handshake while the queue is full are discarded.
func WithBacklog(n int) Option {
	return func(o *socketOptions) {
		if n > 0 {
			o.backlog = n
		}
	}
}

// Dial creates a caller socket with default options and connects it to
// the given address. network must be one of "srt", "srt4", "srt6".
func Dial(network, address string, opts ...Option) (*Conn, error) {
	raddr, err := resolveAddr(network, address)
	if err != nil {
		return nil, err
	}
	c := NewConn(opts...)
	if err := c.Connect(network, nil, raddr); err != nil {
		return nil, err
	}
	return c, nil
}

// Listen creates a listener socket with default options, binds it, and
// starts accepting handshakes.
func Listen(network, address string, opts ...Option) (*Listener, error) {
	laddr, err := resolveAddr(network, address)
	if err != nil {
		return nil, err
	}
	l := NewListener(opts...)
	if err := l.Bind(network, laddr); err != nil {
		return nil, err
	}
	if err := l.Listen(); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

func resolveAddr(network, address string) (*net.UDPAddr, error) {
	udpNetwork, err := udpNetworkFor(network)
	if err != nil {
		return nil, err
	}
	return net.ResolveUDPAddr(udpNetwork, address)
}

func udpNetworkFor(network string) (string, error) {
	switch network {
	case "srt", "srt4", "srt6":
		return "udp" + network[3:], nil
	}
	return "", net.UnknownNetworkError(network)
}

func randomUint32() uint32 {
	var buf [4]byte
	_, err := io.ReadFull(rand.Reader, buf[:])
	if err != nil {
		panic("can't read from random source: " + err.Error())
	}
	return binary.LittleEndian.Uint32(buf[:])
}
