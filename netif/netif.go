// Package netif is the minimal IP-collaborator surface the transport core
// assumes: an interface record, an IP transmit primitive, and a
// protocol-dispatch registry standing in for ip_add_protocol/ip_tx. It is
// deliberately thin — Ethernet/ARP/IP itself is someone else's job, not
// this transport core's.
package netif

import (
	"errors"
	"net/netip"
	"sync"
)

// Interface is a weak, comparable-by-pointer handle to a local network
// interface. The transport core never owns one; it only stores the
// pointer and dereferences it under its own lock, without re-validating
// it first.
type Interface struct {
	Name string
	Addr netip.Addr // unicast IPv4 address
	MTU  int
}

// Transmitter is the ip_tx primitive: hand a fully-built protocol segment
// to the IP layer for transmission to dst over iface.
type Transmitter interface {
	Tx(iface *Interface, proto uint8, segment []byte, dst netip.Addr) error
}

// ProtocolHandler is the ip_add_protocol callback signature: the IP layer
// invokes it for every received segment matching a registered protocol
// number, providing source/destination addresses and the interface the
// segment arrived on.
type ProtocolHandler func(segment []byte, src, dst netip.Addr, iface *Interface) error

var (
	// ErrProtocolInUse is returned by AddProtocol when a handler is
	// already registered for that protocol number.
	ErrProtocolInUse = errors.New("netif: protocol already registered")
	// ErrNoHandler is returned by Dispatch when nothing is registered
	// for the protocol number carried by an incoming segment.
	ErrNoHandler = errors.New("netif: no handler registered for protocol")
)

// Protocols is the ip_add_protocol dispatch table: a small registry
// mapping an IP protocol number to the handler that consumes it. TCP
// registers protocol 6 here exactly once, at Table.Attach.
type Protocols struct {
	mu       sync.Mutex
	handlers map[uint8]ProtocolHandler
}

// AddProtocol registers rx as the receive callback for proto.
func (p *Protocols) AddProtocol(proto uint8, rx ProtocolHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers == nil {
		p.handlers = make(map[uint8]ProtocolHandler)
	}
	if _, ok := p.handlers[proto]; ok {
		return ErrProtocolInUse
	}
	p.handlers[proto] = rx
	return nil
}

// Dispatch routes an incoming segment to the handler registered for
// proto, simulating the IP layer delivering a received protocol segment.
func (p *Protocols) Dispatch(proto uint8, segment []byte, src, dst netip.Addr, iface *Interface) error {
	p.mu.Lock()
	rx, ok := p.handlers[proto]
	p.mu.Unlock()
	if !ok {
		return ErrNoHandler
	}
	return rx(segment, src, dst, iface)
}
