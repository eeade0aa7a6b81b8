package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/xv6net/tcpcore/wire"
)

// sizeHeader is the fixed TCP header length in octets; this core never
// emits or parses options, so the header is always exactly 5 words.
const sizeHeader = 20

// maxSegment is the conventional Ethernet MTU. Table.transmit does not check
// frames against it: each frame is sized to sizeHeader plus its whole payload.
const maxSegment = 1500

var errShortFrame = errors.New("tcp: buffer shorter than TCP header")

// Frame is an accessor over a TCP segment buffer. Fields are stored in
// network (big-endian) order on the wire; Frame's getters/setters convert
// to and from host order so callers never touch byte order directly.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf, which must be at least sizeHeader bytes, as a Frame.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShortFrame
	}
	return Frame{buf: buf}, nil
}

// RawData returns the frame's underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

func (f Frame) SourcePort() uint16          { return binary.BigEndian.Uint16(f.buf[0:2]) }
func (f Frame) SetSourcePort(p uint16)      { binary.BigEndian.PutUint16(f.buf[0:2], p) }
func (f Frame) DestinationPort() uint16     { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) SetDestinationPort(p uint16) { binary.BigEndian.PutUint16(f.buf[2:4], p) }

// Seq returns the sequence number of the segment's first octet (the ISN if
// SYN is set, in which case the first data octet is ISN+1).
func (f Frame) Seq() Value     { return Value(binary.BigEndian.Uint32(f.buf[4:8])) }
func (f Frame) SetSeq(v Value) { binary.BigEndian.PutUint32(f.buf[4:8], uint32(v)) }

// Ack is the next sequence number the sender expects, meaningful when ACK
// is set.
func (f Frame) Ack() Value     { return Value(binary.BigEndian.Uint32(f.buf[8:12])) }
func (f Frame) SetAck(v Value) { binary.BigEndian.PutUint32(f.buf[8:12], uint32(v)) }

// SetOffsetFlags packs the data-offset (header words) into byte 12's high
// nibble, leaving byte 12's low nibble reserved zero, and the flags
// bitmask into byte 13.
func (f Frame) SetOffsetFlags(headerWords uint8, flags Flags) {
	f.buf[12] = headerWords << 4
	f.buf[13] = byte(flags.Mask())
}

// HeaderLen returns the header length in bytes from the data-offset field.
func (f Frame) HeaderLen() int { return int(f.buf[12]>>4) * 4 }

func (f Frame) Flags() Flags { return Flags(f.buf[13]).Mask() }

func (f Frame) Window() Size     { return Size(binary.BigEndian.Uint16(f.buf[14:16])) }
func (f Frame) SetWindow(w Size) { binary.BigEndian.PutUint16(f.buf[14:16], uint16(w)) }

func (f Frame) Checksum() uint16     { return binary.BigEndian.Uint16(f.buf[16:18]) }
func (f Frame) SetChecksum(c uint16) { binary.BigEndian.PutUint16(f.buf[16:18], c) }

func (f Frame) Urgent() uint16     { return binary.BigEndian.Uint16(f.buf[18:20]) }
func (f Frame) SetUrgent(u uint16) { binary.BigEndian.PutUint16(f.buf[18:20], u) }

// Payload returns the segment's data past the header length given by the
// data-offset field. Frames this core builds carry no options, so for them
// it equals buf[sizeHeader:]; options on a received frame are skipped, not
// parsed.
func (f Frame) Payload() []byte { return f.buf[f.HeaderLen():] }

// Segment returns the sequence-space view of the frame for a payload of
// payloadLen bytes.
func (f Frame) Segment(payloadLen int) Segment {
	return Segment{
		SEQ:     f.Seq(),
		ACK:     f.Ack(),
		WND:     f.Window(),
		DATALEN: Size(payloadLen),
		Flags:   f.Flags(),
	}
}

// SetSegment writes seg's sequence, ack, flags and window fields, fixing
// the data offset at 5 words (no options).
func (f Frame) SetSegment(seg Segment) {
	f.SetSeq(seg.SEQ)
	f.SetAck(seg.ACK)
	f.SetOffsetFlags(sizeHeader/4, seg.Flags)
	f.SetWindow(seg.WND)
}

// ClearHeader zeros the fixed header bytes.
func (f Frame) ClearHeader() {
	for i := range f.buf[:sizeHeader] {
		f.buf[i] = 0
	}
}

func (f Frame) String() string {
	seg := f.Segment(len(f.Payload()))
	return fmt.Sprintf("tcp :%d -> :%d seq=%d ack=%d %s", f.SourcePort(), f.DestinationPort(), seg.SEQ, seg.ACK, seg.Flags)
}

// protocolTCP is TCP's on-wire IP protocol number, per RFC 793/IANA
// assignment.
const protocolTCP = 6

// pseudoHeaderChecksum computes the pseudo-header {src, dst, zero,
// protocol=6, tcp length} checksum combined with segment.
func pseudoHeaderChecksum(src, dst netip.Addr, segment []byte) uint16 {
	var c wire.CRC791
	s4, d4 := src.As4(), dst.As4()
	c.WriteEven(s4[:])
	c.WriteEven(d4[:])
	c.AddUint16(uint16(protocolTCP))
	c.AddUint16(uint16(len(segment)))
	return wire.NeverZeroChecksum(c.PayloadSum16(segment))
}

// verifyChecksum reports whether segment's recorded checksum field matches
// the pseudo-header checksum recomputed with src/dst.
func verifyChecksum(src, dst netip.Addr, segment []byte) bool {
	var c wire.CRC791
	s4, d4 := src.As4(), dst.As4()
	c.WriteEven(s4[:])
	c.WriteEven(d4[:])
	c.AddUint16(uint16(protocolTCP))
	c.AddUint16(uint16(len(segment)))
	return c.PayloadSum16(segment) == 0
}
