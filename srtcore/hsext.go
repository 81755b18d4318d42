// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srtcore

import "encoding/binary"

// ExtensionType identifies the option carried by a handshake extension
// block.
type ExtensionType uint16

const (
	ExtStreamID   ExtensionType = 5
	ExtCongestion ExtensionType = 6
)

// ExtensionBlock is one negotiated option on the wire: a typed,
// length-prefixed payload padded to a 4-byte boundary. Content holds the
// true value; padding never survives decoding.
type ExtensionBlock struct {
	Type    ExtensionType
	Content []byte
}

// Block header layout, big-endian:
//
//	0: uint16 extension type
//	2: uint16 padded content length in 4-byte units
//	4: uint32 true content length in bytes
//	8: content, zero-padded to the 4-byte boundary
//
// The true length is authoritative for the decoder; the padded length
// only sizes the block. A content length that is already a multiple of 4
// is therefore never confused with a shorter value padding to the same
// block size.
const extHeaderSize = 8

func padded4(n int) int {
	return (n + 3) &^ 3
}

// EncodedSize returns the on-wire size of the block including header and
// padding.
func (b *ExtensionBlock) EncodedSize() int {
	return extHeaderSize + padded4(len(b.Content))
}

// encodeToBytes writes the block into buf. buf must be at least
// EncodedSize() bytes; pad bytes are zeroed.
func (b *ExtensionBlock) encodeToBytes(buf []byte) error {
	size := b.EncodedSize()
	if len(buf) < size {
		return errInvParam("extension block: buffer of %d bytes too small, need %d", len(buf), size)
	}
	padded := padded4(len(b.Content))
	binary.BigEndian.PutUint16(buf[0:2], uint16(b.Type))
	binary.BigEndian.PutUint16(buf[2:4], uint16(padded/4))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(b.Content)))
	copy(buf[extHeaderSize:], b.Content)
	for i := extHeaderSize + len(b.Content); i < size; i++ {
		buf[i] = 0
	}
	return nil
}

// decodeExtensionBlock parses one block from the front of buf and returns
// it along with the number of bytes consumed. Oversized declared lengths
// for known option-bearing types are rejected before any allocation.
func decodeExtensionBlock(buf []byte) (ExtensionBlock, int, error) {
	if len(buf) < extHeaderSize {
		return ExtensionBlock{}, 0, errInvParam("extension block: %d bytes too short for header", len(buf))
	}
	extType := ExtensionType(binary.BigEndian.Uint16(buf[0:2]))
	padded := int(binary.BigEndian.Uint16(buf[2:4])) * 4
	declared := int(binary.BigEndian.Uint32(buf[4:8]))
	if declared > padded || padded-declared > 3 {
		return ExtensionBlock{}, 0, errInvParam("extension block: declared length %d does not fit padded length %d", declared, padded)
	}
	if d := describeExt(extType); d != nil && declared > d.MaxSize {
		return ExtensionBlock{}, 0, errInvParam("%s: declared length %d exceeds maximum %d", d.Name, declared, d.MaxSize)
	}
	if len(buf) < extHeaderSize+padded {
		return ExtensionBlock{}, 0, errInvParam("extension block: truncated, have %d of %d bytes", len(buf)-extHeaderSize, padded)
	}
	content := append([]byte(nil), buf[extHeaderSize:extHeaderSize+declared]...)
	return ExtensionBlock{Type: extType, Content: content}, extHeaderSize + padded, nil
}

// EncodeExtensionValue converts a variable-length option value into its
// wire block. The value's current length becomes the declared length;
// values exceeding the option maximum are rejected before transmission.
func EncodeExtensionValue(opt SockOpt, v Value) (ExtensionBlock, error) {
	d := Describe(opt)
	if d == nil {
		return ExtensionBlock{}, errInvParam("unknown option id %d", opt)
	}
	if !d.Negotiable || d.Kind != KindBytes {
		return ExtensionBlock{}, errInvParam("%s: not a negotiable option", d.Name)
	}
	if v.Len() > d.MaxSize {
		return ExtensionBlock{}, errInvParam("%s: length %d exceeds maximum %d", d.Name, v.Len(), d.MaxSize)
	}
	return ExtensionBlock{Type: d.Ext, Content: v.Bytes()}, nil
}

// DecodeExtensionValue converts a decoded wire block back into an option
// value, truncated to the declared length.
func DecodeExtensionValue(b ExtensionBlock) (SockOpt, Value, error) {
	d := describeExt(b.Type)
	if d == nil {
		return 0, Value{}, errInvParam("unknown extension type %d", b.Type)
	}
	if len(b.Content) > d.MaxSize {
		return 0, Value{}, errInvParam("%s: length %d exceeds maximum %d", d.Name, len(b.Content), d.MaxSize)
	}
	return d.Opt, BytesValue(b.Content), nil
}
