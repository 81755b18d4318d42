// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srt

import (
	"errors"
	"net"
	"sync"

	"github.com/go-logr/logr"

	"github.com/vidanio/srt-1.4.3/srtcore"
)

func negotiator(log logr.Logger) *srtcore.Negotiator {
	return srtcore.NewNegotiator(log)
}

type receivedMessage struct {
	fromAddr net.UDPAddr
	data     []byte
}

// socketManager owns one UDP socket and pumps its handshake datagrams
// into the negotiation machinery. It serves either a single caller
// connection or a listener plus all connections accepted through it, and
// is reference-counted so it shuts down when the last of those closes.
type socketManager struct {
	udpSocket *net.UDPConn
	log       logr.Logger
	neg       *srtcore.Negotiator

	refCountLock sync.Mutex
	refCount     int
	started      bool

	// closeChan is closed when the last reference is dropped; the
	// managing goroutine then cleans up and reports on closeErr.
	closeChan chan struct{}
	closeErr  chan error
	// set to true when closing down (set before closeChan is closed)
	closing bool

	// the udp reader goroutine writes to this channel when a new datagram
	// has been received; a send on incomingPacketDone acknowledges that
	// processing is finished so the read buffer can be reused.
	incomingPacket     chan receivedMessage
	incomingPacketDone chan struct{}

	// caller mode: the one outgoing connection, and a channel closed when
	// its handshake concludes.
	caller    *Conn
	connected chan struct{}

	// listener mode: the owning listener, its accept queue, and the SYN
	// cookies handed out to peers that have sent an induction.
	listener    *Listener
	acceptChan  chan *Conn
	pendingLock sync.Mutex
	pending     map[string]uint32

	// errors in sending or receiving on the UDP socket accumulate here
	socketErrors     []error
	socketErrorsLock sync.Mutex
}

func newSocketManager(network string, laddr *net.UDPAddr, log logr.Logger) (*socketManager, error) {
	udpNetwork, err := udpNetworkFor(network)
	if err != nil {
		return nil, &net.OpError{Op: "listen", Net: network, Source: laddr, Err: err}
	}
	udpSocket, err := net.ListenUDP(udpNetwork, laddr)
	if err != nil {
		return nil, err
	}
	sm := &socketManager{
		udpSocket:          udpSocket,
		log:                log,
		neg:                srtcore.NewNegotiator(log),
		refCount:           1,
		closeChan:          make(chan struct{}),
		closeErr:           make(chan error),
		incomingPacket:     make(chan receivedMessage),
		incomingPacketDone: make(chan struct{}),
		connected:          make(chan struct{}),
		pending:            make(map[string]uint32),
	}
	return sm, nil
}

func (sm *socketManager) start() {
	sm.refCountLock.Lock()
	sm.started = true
	sm.refCountLock.Unlock()
	go sm.socketManagement()
	go sm.udpMessageReceiver()
}

func (sm *socketManager) LocalAddr() net.Addr {
	return sm.udpSocket.LocalAddr()
}

func (sm *socketManager) socketManagement() {
	defer close(sm.incomingPacketDone)
	for {
		select {
		case <-sm.closeChan:
			sm.internalClose()
			return
		case packet := <-sm.incomingPacket:
			sm.processIncomingPacket(packet.data, &packet.fromAddr)
		}
	}
}

func (sm *socketManager) processIncomingPacket(data []byte, fromAddr *net.UDPAddr) {
	defer func() {
		sm.incomingPacketDone <- struct{}{}
	}()
	hs, err := srtcore.DecodeHandshake(data)
	if err != nil {
		sm.log.V(1).Info("dropping undecodable datagram", "from", fromAddr, "len", len(data), "err", err)
		return
	}
	if sm.listener != nil {
		sm.handleListenerPacket(hs, fromAddr)
	} else if sm.caller != nil {
		sm.handleCallerPacket(hs, fromAddr)
	}
}

// handleCallerPacket advances the caller side of the handshake: the
// listener's induction response carries the cookie we must echo in the
// conclusion; its conclusion/agreement response means we are connected.
func (sm *socketManager) handleCallerPacket(hs *srtcore.Handshake, from *net.UDPAddr) {
	c := sm.caller
	switch hs.HsType {
	case srtcore.HsInduction:
		conclusion := &srtcore.Handshake{
			Version:    srtcore.ProtocolVersion,
			InitialSeq: randomUint32() & 0x7fffffff,
			MTU:        uint32(c.cfg.Int32(srtcore.OptMSS)),
			FlowWindow: uint32(c.cfg.Int32(srtcore.OptFC)),
			HsType:     srtcore.HsConclusion,
			SocketID:   c.socketID,
			SynCookie:  hs.SynCookie,
			Extensions: c.hsBlocks,
		}
		sm.sendHandshake(conclusion, from)
	case srtcore.HsConclusion, srtcore.HsAgreement:
		c.completeHandshake()
		select {
		case <-sm.connected:
			// duplicate response; already connected
		default:
			close(sm.connected)
		}
	}
}

// handleListenerPacket runs the listener side: induction gets a cookie
// response, and a conclusion bearing the right cookie produces an
// accepted connection. A candidate whose peer data fails validation is
// discarded without disturbing the listener.
func (sm *socketManager) handleListenerPacket(hs *srtcore.Handshake, from *net.UDPAddr) {
	switch hs.HsType {
	case srtcore.HsInduction:
		cookie := randomUint32()
		sm.pendingLock.Lock()
		sm.pending[from.String()] = cookie
		sm.pendingLock.Unlock()
		response := &srtcore.Handshake{
			Version:    srtcore.ProtocolVersion,
			InitialSeq: hs.InitialSeq,
			MTU:        uint32(sm.listener.cfg.Int32(srtcore.OptMSS)),
			FlowWindow: uint32(sm.listener.cfg.Int32(srtcore.OptFC)),
			HsType:     srtcore.HsInduction,
			SocketID:   hs.SocketID,
			SynCookie:  cookie,
		}
		sm.sendHandshake(response, from)
	case srtcore.HsConclusion:
		sm.pendingLock.Lock()
		cookie, ok := sm.pending[from.String()]
		if ok {
			delete(sm.pending, from.String())
		}
		sm.pendingLock.Unlock()
		if !ok || cookie != hs.SynCookie {
			sm.log.V(1).Info("conclusion with missing or stale cookie", "from", from)
			return
		}
		cfg, err := sm.neg.Accept(sm.listener.cfg, hs.Extensions)
		if err != nil {
			sm.log.Info("rejecting connection candidate", "from", from, "err", err)
			return
		}
		newConn := sm.newAcceptedConn(cfg, from, hs.SocketID)
		agreement := &srtcore.Handshake{
			Version:    srtcore.ProtocolVersion,
			InitialSeq: hs.InitialSeq,
			HsType:     srtcore.HsAgreement,
			SocketID:   hs.SocketID,
			SynCookie:  cookie,
		}
		sm.sendHandshake(agreement, from)
		select {
		case sm.acceptChan <- newConn:
			// it's the application's problem now
		default:
			// accept backlog is full; drop this new connection (this
			// decrefs the socket manager as appropriate)
			sm.log.Info("accept backlog full, dropping connection", "from", from)
			_ = newConn.Close()
		}
	}
}

// newAcceptedConn wires a negotiated config into a live connection
// sharing this manager.
func (sm *socketManager) newAcceptedConn(cfg *srtcore.Config, from *net.UDPAddr, peerSocketID uint32) *Conn {
	sm.incrementReferences()
	remote := *from
	newConn := &Conn{
		socket: socket{
			localAddr: *sm.LocalAddr().(*net.UDPAddr),
			manager:   sm,
			log:       sm.log,
		},
		remoteAddr: &remote,
		socketID:   peerSocketID,
	}
	newConn.cfg = cfg
	newConn.initAdaptive()
	newConn.completeHandshake()
	return newConn
}

func (sm *socketManager) sendInduction(c *Conn, raddr *net.UDPAddr) error {
	induction := &srtcore.Handshake{
		Version:    srtcore.ProtocolVersion,
		InitialSeq: randomUint32() & 0x7fffffff,
		MTU:        uint32(c.cfg.Int32(srtcore.OptMSS)),
		FlowWindow: uint32(c.cfg.Int32(srtcore.OptFC)),
		HsType:     srtcore.HsInduction,
		SocketID:   c.socketID,
	}
	data, err := induction.Encode()
	if err != nil {
		return err
	}
	_, err = sm.udpSocket.WriteToUDP(data, raddr)
	return err
}

func (sm *socketManager) sendHandshake(hs *srtcore.Handshake, addr *net.UDPAddr) {
	data, err := hs.Encode()
	if err != nil {
		sm.registerSocketError(err)
		return
	}
	sm.log.V(1).Info("sending handshake", "type", hs.HsType, "to", addr, "len", len(data))
	_, err = sm.udpSocket.WriteToUDP(data, addr)
	if err != nil {
		sm.registerSocketError(err)
	}
}

func (sm *socketManager) internalClose() {
	err := sm.udpSocket.Close()
	sm.closeErr <- err
	close(sm.closeErr)
	if sm.acceptChan != nil {
		close(sm.acceptChan)
	}
}

func (sm *socketManager) incrementReferences() {
	sm.refCountLock.Lock()
	sm.refCount++
	sm.refCountLock.Unlock()
}

func (sm *socketManager) decrementReferences() error {
	sm.refCountLock.Lock()
	defer sm.refCountLock.Unlock()
	sm.refCount--
	if sm.refCount == 0 {
		sm.closing = true
		close(sm.closeChan)
		if !sm.started {
			// no management goroutine to do the teardown for us
			return sm.udpSocket.Close()
		}
		return <-sm.closeErr
	}
	if sm.refCount < 0 {
		return errors.New("socketManager closed too many times")
	}
	return nil
}

func (sm *socketManager) udpMessageReceiver() {
	defer close(sm.incomingPacket)

	b := make([]byte, maxDatagramSize)
	for {
		n, addr, err := sm.udpSocket.ReadFromUDP(b)
		if err != nil {
			if sm.closing {
				return
			}
			sm.registerSocketError(err)
			continue
		}
		sm.log.V(1).Info("received datagram", "from", addr, "len", n)
		msg := receivedMessage{
			fromAddr: *addr,
			data:     b[:n],
		}
		select {
		case sm.incomingPacket <- msg:
			// wait until processing of that packet is done, so we can (a)
			// keep backpressure on incoming data, and (b) reuse the b buffer
			select {
			case <-sm.incomingPacketDone:
			case <-sm.closeChan:
				return
			}
		case <-sm.closeChan:
			return
		}
	}
}

func (sm *socketManager) registerSocketError(err error) {
	sm.socketErrorsLock.Lock()
	defer sm.socketErrorsLock.Unlock()
	sm.log.Error(err, "socket error", "local", sm.udpSocket.LocalAddr())
	sm.socketErrors = append(sm.socketErrors, err)
}

// maxDatagramSize bounds handshake datagrams; the fixed head plus every
// negotiable option at maximum length fits comfortably.
const maxDatagramSize = 1500
