// Package relay implements the client side of the relay transport: the
// fixed 12-byte datagram header and a websocket-backed client that
// carries relayed datagrams over a reliable byte stream.
package relay

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed encoded size of a relay header.
const HeaderSize = 12

// Header flags.
const (
	FlagData      uint8 = 0x01
	FlagKeepalive uint8 = 0x02
)

var (
	ErrShortBuffer      = errors.New("relay: buffer shorter than header")
	ErrTruncatedPayload = errors.New("relay: buffer shorter than declared payload")
	ErrPayloadTooLarge  = errors.New("relay: payload exceeds 16-bit size field")
)

// Header is the relay datagram header. It is serialized little-endian
// in field order with no padding and followed by PayloadSize bytes of
// application data.
type Header struct {
	SessionToken uint32
	PayloadSize  uint16
	Flags        uint8
	Reserved     uint8
	Seq          uint32
}

// AppendHeader appends the 12-byte encoding of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, h.SessionToken)
	dst = binary.LittleEndian.AppendUint16(dst, h.PayloadSize)
	dst = append(dst, h.Flags, h.Reserved)
	dst = binary.LittleEndian.AppendUint32(dst, h.Seq)
	return dst
}

// EncodeFrame builds a full frame: header followed by payload. The
// header's PayloadSize is set from the payload length.
func EncodeFrame(h Header, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, ErrPayloadTooLarge
	}
	h.PayloadSize = uint16(len(payload))
	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = AppendHeader(buf, h)
	return append(buf, payload...), nil
}

// DecodeHeader decodes the first 12 bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(buf))
	}
	return Header{
		SessionToken: binary.LittleEndian.Uint32(buf[0:4]),
		PayloadSize:  binary.LittleEndian.Uint16(buf[4:6]),
		Flags:        buf[6],
		Reserved:     buf[7],
		Seq:          binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// DecodeFrame decodes a header and returns the payload it declares.
// Buffers shorter than header plus declared payload are rejected.
func DecodeFrame(buf []byte) (Header, []byte, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Header{}, nil, err
	}
	if len(buf) < HeaderSize+int(h.PayloadSize) {
		return Header{}, nil, fmt.Errorf("%w: declared %d, have %d",
			ErrTruncatedPayload, h.PayloadSize, len(buf)-HeaderSize)
	}
	return h, buf[HeaderSize : HeaderSize+int(h.PayloadSize)], nil
}
