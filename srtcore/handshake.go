// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srtcore

import (
	"encoding/binary"
	"errors"
)

// HandshakeType distinguishes the stages of the connection handshake.
type HandshakeType int32

const (
	// HsInduction is the caller's first packet and the listener's cookie
	// response to it.
	HsInduction HandshakeType = 1
	// HsConclusion carries the negotiated extension blocks in both
	// directions.
	HsConclusion HandshakeType = -1
	// HsAgreement is the final confirmation from the listener.
	HsAgreement HandshakeType = -2
)

// Handshake is the fixed part of a handshake message plus its extension
// blocks. The cryptographic exchange is out of scope here; EncField is
// carried but always zero.
//
// Use big-endian when encoding to buffer or wire.
type Handshake struct {
	Version    uint32
	EncField   uint16
	ExtField   uint16
	InitialSeq uint32
	MTU        uint32
	FlowWindow uint32
	HsType     HandshakeType
	SocketID   uint32
	SynCookie  uint32
	Extensions []ExtensionBlock
}

const sizeofHandshake = 32

// extFieldHasBlocks is set in ExtField when extension blocks follow the
// fixed head.
const extFieldHasBlocks = 0x1

// EncodedSize returns the total wire size of the handshake message.
func (h *Handshake) EncodedSize() int {
	size := sizeofHandshake
	for i := range h.Extensions {
		size += h.Extensions[i].EncodedSize()
	}
	return size
}

// EncodeToBytes writes the handshake into b.
func (h *Handshake) EncodeToBytes(b []byte) error {
	if len(b) < h.EncodedSize() {
		return errors.New("buffer too small for object")
	}
	extField := h.ExtField
	if len(h.Extensions) > 0 {
		extField |= extFieldHasBlocks
	}
	// this is finicky, but binary.Write is just too slow for this fast-path code.
	binary.BigEndian.PutUint32(b[0:4], h.Version)
	binary.BigEndian.PutUint16(b[4:6], h.EncField)
	binary.BigEndian.PutUint16(b[6:8], extField)
	binary.BigEndian.PutUint32(b[8:12], h.InitialSeq)
	binary.BigEndian.PutUint32(b[12:16], h.MTU)
	binary.BigEndian.PutUint32(b[16:20], h.FlowWindow)
	binary.BigEndian.PutUint32(b[20:24], uint32(h.HsType))
	binary.BigEndian.PutUint32(b[24:28], h.SocketID)
	binary.BigEndian.PutUint32(b[28:32], h.SynCookie)
	off := sizeofHandshake
	for i := range h.Extensions {
		if err := h.Extensions[i].encodeToBytes(b[off:]); err != nil {
			return err
		}
		off += h.Extensions[i].EncodedSize()
	}
	return nil
}

// Encode allocates and returns the wire form of the handshake.
func (h *Handshake) Encode() ([]byte, error) {
	b := make([]byte, h.EncodedSize())
	if err := h.EncodeToBytes(b); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeHandshake parses a handshake message, including any trailing
// extension blocks.
func DecodeHandshake(b []byte) (*Handshake, error) {
	if len(b) < sizeofHandshake {
		return nil, errInvParam("handshake: %d bytes too short", len(b))
	}
	h := &Handshake{
		Version:    binary.BigEndian.Uint32(b[0:4]),
		EncField:   binary.BigEndian.Uint16(b[4:6]),
		ExtField:   binary.BigEndian.Uint16(b[6:8]),
		InitialSeq: binary.BigEndian.Uint32(b[8:12]),
		MTU:        binary.BigEndian.Uint32(b[12:16]),
		FlowWindow: binary.BigEndian.Uint32(b[16:20]),
		HsType:     HandshakeType(int32(binary.BigEndian.Uint32(b[20:24]))),
		SocketID:   binary.BigEndian.Uint32(b[24:28]),
		SynCookie:  binary.BigEndian.Uint32(b[28:32]),
	}
	rest := b[sizeofHandshake:]
	for len(rest) > 0 {
		block, n, err := decodeExtensionBlock(rest)
		if err != nil {
			return nil, err
		}
		h.Extensions = append(h.Extensions, block)
		rest = rest[n:]
	}
	if h.ExtField&extFieldHasBlocks != 0 && len(h.Extensions) == 0 {
		return nil, errInvParam("handshake: extension flag set but no blocks present")
	}
	return h, nil
}
