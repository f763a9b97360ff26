// Package packet implements the minitcp wire header: a fixed-layout,
// network-byte-order header followed by a contiguous payload.
package packet

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/datawire/minitcp/internal/tcpip/seqnum"
)

// Identifier rejects traffic that isn't ours. Matches the original
// UTCS-TCP course assignment's course-specific magic number.
const Identifier = uint32(51085)

// Flag bits, matching spec.md §3.
const (
	FlagFIN = uint8(0x2)
	FlagACK = uint8(0x4)
	FlagSYN = uint8(0x8)
)

// HeaderLen is the fixed on-wire header size in bytes:
// identifier(4) + src(2) + dst(2) + seq(4) + ack(4) + hlen(2) + plen(2) + flags(1) + adv_window(2).
const HeaderLen = 23

// ErrShortHeader is returned by Parse when fewer than HeaderLen bytes are present.
var ErrShortHeader = errors.New("packet: buffer shorter than header")

// ErrBadIdentifier is returned by Parse when the identifier field doesn't match Identifier.
var ErrBadIdentifier = errors.New("packet: identifier mismatch")

// ErrBadLength is returned by Build when hlen/plen are inconsistent.
var ErrBadLength = errors.New("packet: hlen < header size or plen < hlen")

// Header is a decoded view over a raw on-wire segment. It never copies the
// underlying bytes; field accessors normalize byte order on every call.
type Header []byte

// Build constructs a new on-wire segment. hlen must be >= HeaderLen and plen
// must be >= hlen. Extra bytes between HeaderLen and hlen (used by nothing
// in this protocol today, but left as wire-compatible room) are zeroed.
func Build(src, dst uint16, seq, ack seqnum.Value, hlen, plen uint16, flags uint8, advWindow uint16, payload []byte) (Header, error) {
	if int(hlen) < HeaderLen || plen < hlen {
		return nil, ErrBadLength
	}
	buf := make([]byte, plen)
	h := Header(buf)
	binary.BigEndian.PutUint32(h[0:4], Identifier)
	binary.BigEndian.PutUint16(h[4:6], src)
	binary.BigEndian.PutUint16(h[6:8], dst)
	binary.BigEndian.PutUint32(h[8:12], uint32(seq))
	binary.BigEndian.PutUint32(h[12:16], uint32(ack))
	binary.BigEndian.PutUint16(h[16:18], hlen)
	binary.BigEndian.PutUint16(h[18:20], plen)
	h[20] = flags
	binary.BigEndian.PutUint16(h[21:23], advWindow)
	copy(buf[hlen:], payload)
	return h, nil
}

// Parse validates and wraps a raw received buffer. It does not copy buf.
func Parse(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return nil, ErrShortHeader
	}
	h := Header(buf)
	if h.identifierRaw() != Identifier {
		return nil, ErrBadIdentifier
	}
	return h, nil
}

func (h Header) identifierRaw() uint32 { return binary.BigEndian.Uint32(h[0:4]) }

// Source returns the source port.
func (h Header) Source() uint16 { return binary.BigEndian.Uint16(h[4:6]) }

// Destination returns the destination port.
func (h Header) Destination() uint16 { return binary.BigEndian.Uint16(h[6:8]) }

// Sequence returns the segment's sequence number.
func (h Header) Sequence() seqnum.Value { return seqnum.Value(binary.BigEndian.Uint32(h[8:12])) }

// Ack returns the segment's acknowledgement number.
func (h Header) Ack() seqnum.Value { return seqnum.Value(binary.BigEndian.Uint32(h[12:16])) }

// HeaderLength returns the declared header length.
func (h Header) HeaderLength() uint16 { return binary.BigEndian.Uint16(h[16:18]) }

// PacketLength returns the declared total packet length (header + payload).
func (h Header) PacketLength() uint16 { return binary.BigEndian.Uint16(h[18:20]) }

// Flags returns the raw flags byte.
func (h Header) Flags() uint8 { return h[20] }

// SYN reports whether the SYN flag is set.
func (h Header) SYN() bool { return h.Flags()&FlagSYN != 0 }

// ACK reports whether the ACK flag is set.
func (h Header) ACK() bool { return h.Flags()&FlagACK != 0 }

// FIN reports whether the FIN flag is set.
func (h Header) FIN() bool { return h.Flags()&FlagFIN != 0 }

// AdvertisedWindow returns the advertised receive window, in bytes.
func (h Header) AdvertisedWindow() uint16 { return binary.BigEndian.Uint16(h[21:23]) }

// PayloadLen returns the number of payload bytes (PacketLength - HeaderLength).
func (h Header) PayloadLen() int { return int(h.PacketLength()) - int(h.HeaderLength()) }

// Payload returns the payload slice, sized by PayloadLen. It aliases the
// underlying buffer.
func (h Header) Payload() []byte {
	hl := int(h.HeaderLength())
	pl := h.PayloadLen()
	if pl <= 0 || hl+pl > len(h) {
		return nil
	}
	return h[hl : hl+pl]
}

// String renders a short human-readable summary, in the spirit of the
// flag-string helpers in telepresence's vif/tcp package.
func (h Header) String() string {
	flags := ""
	if h.SYN() {
		flags += "S"
	}
	if h.ACK() {
		flags += "A"
	}
	if h.FIN() {
		flags += "F"
	}
	if flags == "" {
		flags = "-"
	}
	return flags
}
