// Package driver provides the NIC-level collaborators the transport core
// needs but never implements itself: something that turns a built segment
// into bytes on a wire, and something that turns bytes arriving off a wire
// into a netif.Protocols.Dispatch call. Ethernet/ARP framing, if a real
// link needs it, happens below this package; tcpcore only ever sees IP
// source/destination addresses and protocol numbers.
package driver

import (
	"net/netip"

	"github.com/xv6net/tcpcore/netif"
)

// Loopback is an in-process Transmitter that hands every segment straight
// to a paired Protocols registry, as if it had arrived over a real link. It
// has no hardware underneath it: useful for tests and for cmd/tcpctl's
// default mode when no Tap is requested.
type Loopback struct {
	peer *netif.Protocols
}

// NewLoopback returns a Loopback that delivers every transmitted segment to
// peerProtocols as if it arrived on the interface it was sent from.
func NewLoopback(peerProtocols *netif.Protocols) *Loopback {
	return &Loopback{peer: peerProtocols}
}

// Tx implements netif.Transmitter. Delivery happens on a separate goroutine,
// never inline on the caller's stack: a real NIC's receive path runs
// independently of whatever send call produced the packet, and the state
// machine's re-entrant-lock-ordering assumptions depend on that being true
// here too.
func (l *Loopback) Tx(iface *netif.Interface, proto uint8, segment []byte, dst netip.Addr) error {
	cp := make([]byte, len(segment))
	copy(cp, segment)
	go l.peer.Dispatch(proto, cp, iface.Addr, dst, iface)
	return nil
}
