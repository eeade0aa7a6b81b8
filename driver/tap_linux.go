//go:build linux

package driver

import (
	"fmt"
	"net/netip"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/xv6net/tcpcore/netif"
)

// Tap is a Linux TUN/TAP-backed link: it owns a /dev/net/tun file
// descriptor in TUN mode and moves whole IPv4 datagrams across it,
// encoding/decoding the fixed 20-byte header itself since the TCP core
// never sees anything below that layer.
type Tap struct {
	fd     int
	name   string
	ids    uint16
	iface  *netif.Interface
	protos *netif.Protocols
}

// NewTap creates (or attaches to) a TUN device named name, optionally
// bringing it up and assigning addr via the `ip` command, the same
// approach a quick local testbed takes when it doesn't want to shell out
// to netlink directly.
func NewTap(name string, addr netip.Prefix) (*Tap, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("driver: open /dev/net/tun: %w", err)
	}
	var ifr unix.Ifreq
	ifrName, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	ifr = *ifrName
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, &ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("driver: TUNSETIFF: %w", err)
	}
	if addr.IsValid() {
		if err := exec.Command("ip", "link", "set", "dev", name, "up").Run(); err != nil {
			return nil, fmt.Errorf("driver: ip link set up: %w", err)
		}
		if err := exec.Command("ip", "addr", "add", addr.String(), "dev", name).Run(); err != nil {
			return nil, fmt.Errorf("driver: ip addr add: %w", err)
		}
	}
	return &Tap{fd: fd, name: name}, nil
}

// Attach binds the tap to iface/protocols so ReadLoop can decode incoming
// datagrams and Tx can encode outgoing ones.
func (tap *Tap) Attach(iface *netif.Interface, protos *netif.Protocols) {
	tap.iface = iface
	tap.protos = protos
}

// Tx implements netif.Transmitter by wrapping segment in an IPv4 header and
// writing the resulting datagram to the tap file descriptor.
func (tap *Tap) Tx(iface *netif.Interface, proto uint8, segment []byte, dst netip.Addr) error {
	tap.ids++
	frame := encodeIPv4(iface.Addr, dst, proto, segment, tap.ids)
	_, err := unix.Write(tap.fd, frame)
	return err
}

// ReadLoop blocks reading datagrams off the tap and dispatching them
// through protos until Close is called or a non-recoverable read error
// occurs. Callers run it in its own goroutine.
func (tap *Tap) ReadLoop() error {
	buf := make([]byte, 65536)
	for {
		n, err := unix.Read(tap.fd, buf)
		if err != nil {
			return err
		}
		src, dst, protocol, payload, err := decodeIPv4(buf[:n])
		if err != nil {
			continue // malformed datagram: drop and keep reading.
		}
		if tap.protos != nil {
			_ = tap.protos.Dispatch(protocol, payload, src, dst, tap.iface)
		}
	}
}

// Close releases the tap file descriptor.
func (tap *Tap) Close() error {
	return unix.Close(tap.fd)
}
