package tcp

import "math/bits"

// Segment is a TCP segment described in sequence space, independent of its
// wire encoding.
type Segment struct {
	SEQ     Value // sequence number of the first octet; ISN if SYN is set.
	ACK     Value // acknowledgement number, meaningful if ACK flag set.
	DATALEN Size  // payload octets, excluding SYN/FIN.
	WND     Size  // advertised window.
	Flags   Flags
}

// LEN returns the segment length in octets, including SYN and FIN.
func (seg *Segment) LEN() Size {
	add := Size(seg.Flags & FlagFIN)
	add += Size(seg.Flags>>1) & 1
	return seg.DATALEN + add
}

// Last returns the sequence number of the segment's last octet.
func (seg *Segment) Last() Value {
	n := seg.LEN()
	if n == 0 {
		return seg.SEQ
	}
	return Add(seg.SEQ, n) - 1
}

// Flags is the TCP flags bitmask: FIN, SYN, RST, PSH, ACK, URG and the
// seldom-used ECN/NS bits, in the order RFC 9293 lays out the header byte.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
)

const flagMask = 0x01ff

const (
	synack = FlagSYN | FlagACK
	finack = FlagFIN | FlagACK
	pshack = FlagPSH | FlagACK
)

// HasAll reports whether every bit in mask is set in flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny reports whether any bit in mask is set in flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask clears non-flag bits.
func (flags Flags) Mask() Flags { return flags & flagMask }

func (flags Flags) String() string {
	switch flags {
	case 0:
		return "[]"
	case synack:
		return "[SYN,ACK]"
	case finack:
		return "[FIN,ACK]"
	case pshack:
		return "[PSH,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagFIN:
		return "[FIN]"
	case FlagRST:
		return "[RST]"
	}
	buf := make([]byte, 0, 2+3*bits.OnesCount16(uint16(flags)))
	buf = append(buf, '[')
	buf = flags.AppendFormat(buf)
	buf = append(buf, ']')
	return string(buf)
}

// AppendFormat appends a human-readable flag list to b, e.g. "SYN,ACK".
func (flags Flags) AppendFormat(b []byte) []byte {
	if flags == 0 {
		return b
	}
	const flaglen = 3
	const strflags = "FINSYNRSTPSHACKURGECECWRNS "
	addcommas := false
	for flags != 0 {
		i := bits.TrailingZeros16(uint16(flags))
		if addcommas {
			b = append(b, ',')
		} else {
			addcommas = true
		}
		b = append(b, strflags[i*flaglen:i*flaglen+flaglen]...)
		flags &= ^(1 << i)
	}
	return b
}

// State enumerates the eleven states a TCP connection passes through.
type State uint8

const (
	StateClosed State = iota
	StateListen
	StateSynRcvd
	StateSynSent
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
	StateCloseWait
	StateLastAck
)

var stateNames = [...]string{
	StateClosed:      "CLOSED",
	StateListen:      "LISTEN",
	StateSynRcvd:     "SYN-RECEIVED",
	StateSynSent:     "SYN-SENT",
	StateEstablished: "ESTABLISHED",
	StateFinWait1:    "FIN-WAIT-1",
	StateFinWait2:    "FIN-WAIT-2",
	StateClosing:     "CLOSING",
	StateTimeWait:    "TIME-WAIT",
	StateCloseWait:   "CLOSE-WAIT",
	StateLastAck:     "LAST-ACK",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// IsSynchronized reports whether both ends have exchanged ISNs: SYN_RCVD and
// every state reachable from ESTABLISHED.
func (s State) IsSynchronized() bool {
	return s == StateSynRcvd || s >= StateEstablished
}

// IsReceiveReady reports whether the connection may still deliver data to a
// reader: ESTABLISHED, FIN_WAIT_1, FIN_WAIT_2.
func (s State) IsReceiveReady() bool {
	return s == StateEstablished || s == StateFinWait1 || s == StateFinWait2
}

// CanSend reports whether send() is valid in this state.
func (s State) CanSend() bool {
	return s == StateEstablished || s == StateCloseWait
}
