//go:build !linux

package driver

import (
	"errors"
	"net/netip"

	"github.com/xv6net/tcpcore/netif"
)

// Tap is unavailable outside Linux: TUN/TAP device creation is a
// Linux-specific ioctl dance this driver doesn't attempt to emulate
// elsewhere. Use Loopback for local testing on other platforms.
type Tap struct{}

func NewTap(name string, addr netip.Prefix) (*Tap, error) {
	return nil, errors.ErrUnsupported
}

func (tap *Tap) Attach(iface *netif.Interface, protos *netif.Protocols) {}

func (tap *Tap) Tx(iface *netif.Interface, proto uint8, segment []byte, dst netip.Addr) error {
	return errors.ErrUnsupported
}

func (tap *Tap) ReadLoop() error { return errors.ErrUnsupported }

func (tap *Tap) Close() error { return errors.ErrUnsupported }
