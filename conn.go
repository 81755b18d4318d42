// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srt

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/vidanio/srt-1.4.3/srtcore"
)

// ErrConnTimeout is returned by Connect when the handshake does not
// complete within the conntimeo option.
var ErrConnTimeout = errors.New("srt: connection attempt timed out")

// socket is shared functionality between Conn and Listener.
type socket struct {
	localAddr net.UDPAddr

	// manager is shared by all sockets using the same local address (for
	// outgoing connections, only the one connection; for incoming
	// connections, all connections received by the associated listening
	// socket). It is reference-counted and cleaned up entirely when the
	// last related socket is closed.
	manager *socketManager

	log logr.Logger

	stateLock sync.Mutex
	closed    bool
	// Once set, further operations fail with this error. The first error
	// wins if this is set multiple times.
	opError error
}

func (s *socket) setOpError(err error) {
	if err == nil {
		return
	}
	s.stateLock.Lock()
	if s.opError == nil {
		s.opError = err
	}
	s.stateLock.Unlock()
}

func (s *socket) Addr() net.Addr {
	localAddr := s.localAddr // copy
	return &localAddr
}

func (s *socket) closeSocket() error {
	s.stateLock.Lock()
	alreadyClosed := s.closed
	s.closed = true
	m := s.manager
	s.manager = nil
	s.stateLock.Unlock()
	if alreadyClosed {
		return errors.New("multiple calls to Close() not allowed")
	}
	if m == nil {
		return nil
	}
	return m.decrementReferences()
}

// optionsHost carries a socket's option store and routes successful
// writes to the owner's side effects (pacing recompute, tolerance ceiling
// update). Its methods are promoted onto Conn and Listener.
type optionsHost struct {
	cfg *srtcore.Config
	// onSet runs after a successful write, outside the config lock.
	onSet func(opt srtcore.SockOpt)
}

// SetSockOpt validates and stores a raw option value.
func (h *optionsHost) SetSockOpt(opt srtcore.SockOpt, buf []byte) error {
	if err := h.cfg.Set(opt, buf); err != nil {
		return err
	}
	h.applied(opt)
	return nil
}

// GetSockOpt copies the stored option value into buf; length carries the
// caller's capacity in and the copied size out.
func (h *optionsHost) GetSockOpt(opt srtcore.SockOpt, buf []byte, length *int) error {
	return h.cfg.Get(opt, buf, length)
}

// SetOptionValue stores a typed value, with the same validation and
// lifecycle rules as SetSockOpt.
func (h *optionsHost) SetOptionValue(opt srtcore.SockOpt, v srtcore.Value) error {
	if err := h.cfg.SetValue(opt, v); err != nil {
		return err
	}
	h.applied(opt)
	return nil
}

func (h *optionsHost) SetSockOptInt(opt srtcore.SockOpt, v int32) error {
	return h.SetOptionValue(opt, srtcore.Int32Value(v))
}

func (h *optionsHost) SetSockOptInt64(opt srtcore.SockOpt, v int64) error {
	return h.SetOptionValue(opt, srtcore.Int64Value(v))
}

func (h *optionsHost) SetSockOptBool(opt srtcore.SockOpt, v bool) error {
	return h.SetOptionValue(opt, srtcore.BoolValue(v))
}

func (h *optionsHost) SetSockOptString(opt srtcore.SockOpt, v string) error {
	return h.SetOptionValue(opt, srtcore.StringValue(v))
}

func (h *optionsHost) SetSockOptDuration(opt srtcore.SockOpt, v time.Duration) error {
	return h.SetOptionValue(opt, srtcore.DurationValue(v))
}

func (h *optionsHost) GetSockOptInt(opt srtcore.SockOpt) int32       { return h.cfg.Int32(opt) }
func (h *optionsHost) GetSockOptInt64(opt srtcore.SockOpt) int64     { return h.cfg.Int64(opt) }
func (h *optionsHost) GetSockOptBool(opt srtcore.SockOpt) bool       { return h.cfg.Bool(opt) }
func (h *optionsHost) GetSockOptString(opt srtcore.SockOpt) string   { return string(h.cfg.Bytes(opt)) }
func (h *optionsHost) GetSockOptBytes(opt srtcore.SockOpt) []byte    { return h.cfg.Bytes(opt) }
func (h *optionsHost) GetSockOptDuration(opt srtcore.SockOpt) time.Duration {
	return h.cfg.Duration(opt)
}

func (h *optionsHost) applied(opt srtcore.SockOpt) {
	if h.onSet != nil {
		h.onSet(opt)
	}
}

// Conn is one end of a connection: a caller socket built with NewConn, or
// an accepted socket produced by a Listener.
type Conn struct {
	socket
	optionsHost

	remoteAddr *net.UDPAddr
	socketID   uint32

	// extension blocks to carry in the outgoing conclusion; set while
	// finalizing the caller config
	hsBlocks []srtcore.ExtensionBlock

	pacer *srtcore.Pacer
	tol   *srtcore.ToleranceTracker

	statsLock   sync.Mutex
	recvBelated uint64
	lossEvents  uint64
}

// NewConn creates a detached caller socket in the pre-bind phase. Options
// restricted to pre-bind or pre-connect must be set before Connect.
func NewConn(opts ...Option) *Conn {
	o := defaultSocketOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Conn{socket: socket{log: o.log}}
	c.cfg = srtcore.NewConfig(srtcore.RoleCaller)
	c.initAdaptive()
	return c
}

// Connect binds the socket (to laddr, or an ephemeral port when laddr is
// nil) and runs the handshake against raddr. It blocks until the
// connection is established, the conntimeo option elapses, or the socket
// is closed.
func (c *Conn) Connect(network string, laddr, raddr *net.UDPAddr) error {
	if !started() {
		return ErrNotStarted
	}
	if raddr == nil {
		return &net.OpError{Op: "connect", Net: network, Err: errors.New("missing remote address")}
	}
	blocks, err := negotiator(c.log).FinalizeCaller(c.cfg)
	if err != nil {
		return err
	}
	manager, err := newSocketManager(network, laddr, c.log)
	if err != nil {
		return err
	}
	manager.caller = c

	c.stateLock.Lock()
	c.manager = manager
	c.localAddr = *manager.LocalAddr().(*net.UDPAddr)
	c.remoteAddr = raddr
	c.socketID = randomUint32()
	c.hsBlocks = blocks
	c.stateLock.Unlock()

	manager.start()
	if err := manager.sendInduction(c, raddr); err != nil {
		_ = c.Close()
		return err
	}

	timeout := c.cfg.Duration(srtcore.OptConnTimeo)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-manager.connected:
		return nil
	case <-timer.C:
		c.setOpError(ErrConnTimeout)
		_ = c.Close()
		return ErrConnTimeout
	case <-manager.closeChan:
		c.stateLock.Lock()
		err := c.opError
		c.stateLock.Unlock()
		if err == nil {
			err = net.ErrClosed
		}
		return err
	}
}

// initAdaptive builds the pacing and tolerance state from the current
// config values and routes option writes into them.
func (c *Conn) initAdaptive() {
	c.pacer = srtcore.NewPacer(c.cfg.Int32(srtcore.OptOverheadBW))
	c.tol = srtcore.NewToleranceTracker(int(c.cfg.Int32(srtcore.OptLossMaxTTL)), c.log)
	c.onSet = c.applyOption
}

// applyOption recomputes derived state after a successful option write.
// Recomputation is synchronous; by the time SetSockOpt returns, the
// effective rate and the tolerance ceiling reflect the new value.
func (c *Conn) applyOption(opt srtcore.SockOpt) {
	switch opt {
	case srtcore.OptMaxBW:
		c.pacer.SetMaxBW(c.cfg.Int64(opt))
	case srtcore.OptInputBW:
		c.pacer.SetInputBW(c.cfg.Int64(opt))
	case srtcore.OptMinInputBW:
		c.pacer.SetMinInputBW(c.cfg.Int64(opt))
	case srtcore.OptOverheadBW:
		c.pacer.SetOverhead(c.cfg.Int32(opt))
	case srtcore.OptLossMaxTTL:
		c.tol.SetCeiling(int(c.cfg.Int32(opt)))
	}
}

// refreshAdaptive reloads every derived value from the config; used after
// negotiation may have replaced inherited values wholesale.
func (c *Conn) refreshAdaptive() {
	c.pacer.SetOverhead(c.cfg.Int32(srtcore.OptOverheadBW))
	c.pacer.SetMaxBW(c.cfg.Int64(srtcore.OptMaxBW))
	c.pacer.SetInputBW(c.cfg.Int64(srtcore.OptInputBW))
	c.pacer.SetMinInputBW(c.cfg.Int64(srtcore.OptMinInputBW))
	c.tol.SetCeiling(int(c.cfg.Int32(srtcore.OptLossMaxTTL)))
}

// Close releases the connection. The underlying socket manager shuts down
// once its last user is closed.
func (c *Conn) Close() error {
	return c.closeSocket()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.Addr()
}

func (c *Conn) RemoteAddr() net.Addr {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	if c.remoteAddr == nil {
		return nil
	}
	remote := *c.remoteAddr
	return &remote
}

// Stats returns a snapshot of the connection's adaptive-control state.
func (c *Conn) Stats() Stats {
	c.statsLock.Lock()
	belated, losses := c.recvBelated, c.lossEvents
	c.statsLock.Unlock()
	return Stats{
		PktReorderTolerance: c.tol.Ceiling(),
		PktReorderDistance:  c.tol.Current(),
		PktRecvBelated:      belated,
		PktLossDeclared:     losses,
		EffectiveRateBps:    c.pacer.EffectiveRate(),
	}
}

// OnSent informs the pacing estimator of n bytes handed to the transport.
// Called by the send scheduler.
func (c *Conn) OnSent(n int) {
	c.pacer.OnSent(n)
}

// OnBelatedPacket records a reordering event observed by the protocol
// engine: a sequence number that looked lost arrived after all.
func (c *Conn) OnBelatedPacket() {
	c.tol.OnBelated()
	c.statsLock.Lock()
	c.recvBelated++
	c.statsLock.Unlock()
}

// ObserveGap classifies a receive-side sequence gap, returning true when
// it must be declared a loss (and forwarded to the retransmission
// requester via the registered handler).
func (c *Conn) ObserveGap(gap int) bool {
	lost := c.tol.ObserveGap(gap)
	if lost {
		c.statsLock.Lock()
		c.lossEvents++
		c.statsLock.Unlock()
	}
	return lost
}

// SetLossHandler registers the retransmission requester consuming loss
// declarations.
func (c *Conn) SetLossHandler(h srtcore.LossHandler) {
	c.tol.SetLossHandler(h)
}

// EffectiveSendRate returns the derived pacing rate in bytes per second;
// 0 means pacing is disabled.
func (c *Conn) EffectiveSendRate() int64 {
	return c.pacer.EffectiveRate()
}

// completeHandshake transitions the connection into the connected phase
// and refreshes adaptive state from the (possibly negotiated) config.
func (c *Conn) completeHandshake() {
	negotiator(c.log).Established(c.cfg)
	c.refreshAdaptive()
}

// Listener accepts incoming connections, each of which starts from a deep
// copy of the listener's option store.
type Listener struct {
	socket
	optionsHost

	backlog    int
	listening  bool
	acceptChan <-chan *Conn
}

// NewListener creates a detached listener socket in the pre-bind phase.
func NewListener(opts ...Option) *Listener {
	o := defaultSocketOptions()
	for _, opt := range opts {
		opt(&o)
	}
	l := &Listener{socket: socket{log: o.log}, backlog: o.backlog}
	l.cfg = srtcore.NewConfig(srtcore.RoleListener)
	return l
}

// Bind attaches the listener to a local UDP address. Pre-bind options are
// frozen afterward.
func (l *Listener) Bind(network string, laddr *net.UDPAddr) error {
	if !started() {
		return ErrNotStarted
	}
	l.stateLock.Lock()
	defer l.stateLock.Unlock()
	if l.manager != nil {
		return errors.New("srt: listener already bound")
	}
	manager, err := newSocketManager(network, laddr, l.log)
	if err != nil {
		return err
	}
	manager.listener = l
	l.manager = manager
	l.localAddr = *manager.LocalAddr().(*net.UDPAddr)
	l.cfg.EnterPhase(srtcore.PhasePreConnect)
	return nil
}

// Listen starts the accept machinery. The listener must be bound.
func (l *Listener) Listen() error {
	l.stateLock.Lock()
	defer l.stateLock.Unlock()
	if l.manager == nil {
		return errors.New("srt: listener is not bound")
	}
	if l.listening {
		return errors.New("srt: listener is already listening")
	}
	l.listening = true
	l.manager.acceptChan = make(chan *Conn, l.backlog)
	l.acceptChan = l.manager.acceptChan
	l.manager.start()
	return nil
}

// Accept blocks until a connection completes its handshake.
func (l *Listener) Accept() (*Conn, error) {
	newConn, ok := <-l.acceptChan
	if ok {
		return newConn, nil
	}
	l.stateLock.Lock()
	err := l.opError
	l.stateLock.Unlock()
	if err == nil {
		err = net.ErrClosed
	}
	return nil, err
}

// AcceptContext is Accept with cancellation.
func (l *Listener) AcceptContext(ctx context.Context) (*Conn, error) {
	select {
	case newConn, ok := <-l.acceptChan:
		if ok {
			return newConn, nil
		}
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the listener down. Accepted connections keep their shared
// manager alive until each of them is closed.
func (l *Listener) Close() error {
	return l.closeSocket()
}

const defaultAcceptBacklog = 5
