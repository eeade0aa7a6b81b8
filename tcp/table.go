package tcp

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/xv6net/tcpcore/netif"
)

// tableSize is the CBT's fixed capacity: 16 slots.
const tableSize = 16

// Table is the Control Block Table plus the single global lock (tcplock)
// guarding it, every CB's fields, every retransmission queue and every
// backlog — one lock guarding the whole table. Sleep-on-address is
// realized as one sync.Cond per CB sharing this mutex, which is precisely
// the "sleep primitives atomically drop and reacquire the lock" contract
// sync.Cond.Wait provides.
type Table struct {
	mu  sync.Mutex
	cbs [tableSize]controlBlock

	iface *netif.Interface
	tx    netif.Transmitter
	isn   *isnGenerator
	log   logger
	ctr   counters

	ephemeralNext uint16
}

// NewTable constructs an empty Table. Attach must be called before any
// socket operation to bind it to an interface and transmit primitive.
func NewTable(log *slog.Logger) *Table {
	t := &Table{log: logger{log: log}}
	t.isn = newISNGenerator()
	for i := range t.cbs {
		t.cbs[i].cond = sync.NewCond(&t.mu)
		t.cbs[i].parent = noCB
	}
	return t
}

// Attach binds the table to iface/tx and registers the TCP receive
// callback with the IP collaborator's protocol dispatch table — the
// ip_add_protocol(6, tcp_rx) call.
func (t *Table) Attach(iface *netif.Interface, tx netif.Transmitter, protocols *netif.Protocols) error {
	t.iface = iface
	t.tx = tx
	return protocols.AddProtocol(protocolTCP, t.protocolRX)
}

// ephemeralBase/ephemeralTop bound the dynamic port range used for
// connect's local-port scan.
const (
	ephemeralBase = 49152
	ephemeralTop  = 65535
)

// allocate scans for the first unused slot, marks it used, and returns its
// index. Returns ErrNoSlot when the table is full, matching the 17th-open
// boundary behaviour when every slot is already in use.
func (t *Table) allocate() (int, error) {
	for i := range t.cbs {
		if !t.cbs[i].used {
			t.cbs[i].used = true
			t.cbs[i].state = StateClosed
			t.cbs[i].id = xid.New()
			t.cbs[i].log = t.log
			return i, nil
		}
	}
	return -1, ErrNoSlot
}

// lookupByTuple implements lookup_by_tuple: it returns the
// index of an exact (port, peerAddr, peerPort) match if one exists, the
// index of any LISTEN CB bound to localPort otherwise (or noCB), and the
// index of the first free slot (or noCB), in one linear scan.
func (t *Table) lookupByTuple(localPort uint16, peerAddr netip.Addr, peerPort uint16) (exact, listen, free int) {
	exact, listen, free = noCB, noCB, noCB
	for i := range t.cbs {
		cb := &t.cbs[i]
		if !cb.used {
			if free == noCB {
				free = i
			}
			continue
		}
		if cb.port == localPort && cb.peerAddr == peerAddr && cb.peerPort == peerPort {
			exact = i
			continue
		}
		if listen == noCB && cb.state == StateListen && cb.port == localPort {
			listen = i
		}
	}
	return exact, listen, free
}

// portInUse reports whether any used CB already holds localPort, the
// check bind and connect's ephemeral scan both need.
func (t *Table) portInUse(localPort uint16) bool {
	for i := range t.cbs {
		if t.cbs[i].used && t.cbs[i].port == localPort {
			return true
		}
	}
	return false
}

// cbClear implements cb_clear: frees the retransmission queue, recursively
// clears any still-pending backlog children, zeroes the record, and marks
// the slot free. Called with the lock held.
func (t *Table) cbClear(idx int) {
	cb := &t.cbs[idx]
	cb.txq.clear()
	for _, childIdx := range cb.backlog {
		t.cbClear(childIdx)
	}
	cb.window.reset()
	cb.reset()
}

// CBStat is the read-only view of one Control Block a collaborator outside
// this package (metrics, diagnostics) is allowed to see.
type CBStat struct {
	Used  bool
	State State
	Port  uint16
}

// Stats returns a snapshot of every CB slot, used or not, in table order.
// It takes the table lock for the duration of the copy.
func (t *Table) Stats() [tableSize]CBStat {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out [tableSize]CBStat
	for i := range t.cbs {
		out[i] = CBStat{Used: t.cbs[i].used, State: t.cbs[i].state, Port: t.cbs[i].port}
	}
	return out
}

// wake broadcasts on idx's condition variable, waking every task sleeping
// on that CB so each can re-check its own predicate (spurious wakes are
// expected and harmless).
func (t *Table) wake(idx int) {
	if idx >= 0 && idx < tableSize {
		t.cbs[idx].cond.Broadcast()
	}
}

// transmit builds and sends one segment from cb's fields, then appends a
// copy to cb's retransmission queue — tx(cb, seq, ack, flags,
// buf, len). It never blocks and never fails visibly to the caller; a
// transmit-primitive error is logged and otherwise swallowed, since the
// driver/IP transmit path never sleeps on TCP state and a failed transmit
// still has to leave the CB's own sequence state consistent.
func (t *Table) transmit(cb *controlBlock, seq, ack Value, flags Flags, payload []byte) Size {
	buf := make([]byte, sizeHeader+len(payload))
	frm, err := NewFrame(buf)
	if err != nil {
		cb.log.logerr("transmit: build frame", err)
		return 0
	}
	frm.SetSourcePort(cb.port)
	frm.SetDestinationPort(cb.peerPort)
	frm.SetSegment(Segment{SEQ: seq, ACK: ack, WND: cb.rcv.wnd, Flags: flags})
	copy(frm.Payload(), payload)
	frm.SetChecksum(0)
	if t.iface != nil {
		frm.SetChecksum(pseudoHeaderChecksum(t.iface.Addr, cb.peerAddr, buf))
	}
	if t.tx != nil {
		if err := t.tx.Tx(cb.iface, protocolTCP, buf, cb.peerAddr); err != nil {
			cb.log.logerr("transmit: ip tx", err)
		}
	}
	cb.txq.add(seq, buf, time.Now())
	cb.log.trace("segment sent", slog.Uint64("seq", uint64(seq)), slog.Uint64("ack", uint64(ack)), slog.String("flags", flags.String()))
	return Size(len(payload))
}

// txClosedResponse builds the CLOSED-state RST reply directly from the
// incoming segment's fields, with no CB involved
// (no slot is consumed responding to an unmatched segment).
func (t *Table) txClosedResponse(seg Segment, src netip.Addr, srcPort, dstPort uint16) {
	if seg.Flags.HasAny(FlagRST) {
		return
	}
	t.ctr.resets.Add(1)
	buf := make([]byte, sizeHeader)
	frm, _ := NewFrame(buf)
	frm.SetSourcePort(dstPort)
	frm.SetDestinationPort(srcPort)
	if seg.Flags.HasAny(FlagACK) {
		frm.SetSegment(Segment{SEQ: seg.ACK, ACK: 0, Flags: FlagRST})
	} else {
		ack := Add(seg.SEQ, seg.LEN())
		frm.SetSegment(Segment{SEQ: 0, ACK: ack, Flags: FlagRST | FlagACK})
	}
	if t.iface != nil {
		frm.SetChecksum(pseudoHeaderChecksum(t.iface.Addr, src, buf))
	}
	if t.tx != nil {
		_ = t.tx.Tx(t.iface, protocolTCP, buf, src)
	}
}

// protocolRX is registered as the TCP receive callback (tcp_rx). It
// validates the segment against the interface address and checksum,
// looks the 4-tuple up in the CBT, promotes a free slot into a LISTEN
// child on a bare SYN, and dispatches to the matched CB's state handler —
// all under the single global lock.
func (t *Table) protocolRX(segment []byte, src, dst netip.Addr, iface *netif.Interface) error {
	if t.iface != nil && dst != t.iface.Addr {
		return nil // destination mismatch: silent drop.
	}
	frm, err := NewFrame(segment)
	if err != nil {
		return nil // short segment: silent drop.
	}
	if !verifyChecksum(src, dst, segment) {
		t.ctr.checksumDrops.Add(1)
		if t.log.log != nil {
			t.log.log.LogAttrs(context.Background(), slog.LevelWarn, "tcp checksum error", slog.String("peer", src.String()))
		}
		return nil
	}
	plen := len(segment) - frm.HeaderLen()
	if plen < 0 {
		return nil
	}
	seg := frm.Segment(plen)
	payload := frm.Payload()
	srcPort := frm.SourcePort()
	dstPort := frm.DestinationPort()

	t.mu.Lock()
	defer t.mu.Unlock()

	exact, listen, free := t.lookupByTuple(dstPort, src, srcPort)
	switch {
	case exact != noCB:
		t.recv(exact, seg, payload)
	case listen != noCB && free != noCB && isFirstSYN(seg):
		child := &t.cbs[free]
		child.used = true
		child.iface = t.iface
		child.port = dstPort
		child.peerAddr = src
		child.peerPort = srcPort
		child.state = StateListen
		child.parent = listen
		child.id = xid.New()
		child.log = t.log
		t.recv(free, seg, payload)
	default:
		t.txClosedResponse(seg, src, srcPort, dstPort)
	}
	return nil
}
