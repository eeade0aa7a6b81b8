package tcp

import (
	"net/netip"
	"sync"

	"github.com/rs/xid"
	"github.com/xv6net/tcpcore/netif"
)

// sendSpace tracks the send sequence variables of RFC 9293 §3.3.
type sendSpace struct {
	una Value // oldest unacknowledged sequence
	nxt Value // next sequence to send
	wnd Size  // window advertised by the peer
	up  uint16
	wl1 Value
	wl2 Value
}

func (s *sendSpace) inFlight() Size { return Sizeof(s.una, s.nxt) }

// recvSpace tracks the receive sequence variables.
type recvSpace struct {
	nxt Value // next expected sequence
	wnd Size  // free bytes in the receive window
	up  uint16
}

const noCB = -1

// controlBlock is one slot of the Control Block Table: a complete record
// of one TCP association's state. It never outlives the
// Table's fixed array: there is no separate heap allocation per
// connection.
type controlBlock struct {
	used  bool
	state State

	iface *netif.Interface
	port  uint16 // local port, host order internally; wire order at Frame boundary

	peerAddr netip.Addr
	peerPort uint16

	snd sendSpace
	iss Value

	rcv recvSpace
	irs Value

	txq    rtq
	window recvWindow

	parent  int // table index of the listening CB that spawned this one, or noCB
	backlog []int

	id  xid.ID
	log logger

	cond *sync.Cond
}

// reset zeroes the CB back to its just-allocated state, matching cb_clear's
// final memset, but keeps the Cond (it is bound to the table mutex for the
// lifetime of the table, not recreated per connection).
func (cb *controlBlock) reset() {
	cond, log := cb.cond, cb.log
	*cb = controlBlock{cond: cond, log: log, parent: noCB}
}

// isFirstSYN reports whether seg is a bare connection-request segment: SYN
// set, no ACK, no payload — the shape that triggers promotion of a free
// slot into a LISTEN child when the incoming segment is SYN-only.
func isFirstSYN(seg Segment) bool {
	return seg.Flags == FlagSYN && seg.ACK == 0 && seg.DATALEN == 0
}
