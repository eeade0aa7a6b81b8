package driver

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"github.com/xv6net/tcpcore/wire"
)

// ipv4HeaderLen is the fixed header size this driver ever emits or expects:
// no IP options, matching tcpcore's own fixed-header TCP framing.
const ipv4HeaderLen = 20

var errShortIPv4Header = errors.New("driver: ipv4 segment shorter than header")

// encodeIPv4 wraps segment in a minimal, option-free IPv4 header addressed
// from src to dst, carrying protocol, the way a Tap device's peer expects to
// receive it over the wire.
func encodeIPv4(src, dst netip.Addr, protocol uint8, segment []byte, id uint16) []byte {
	buf := make([]byte, ipv4HeaderLen+len(segment))
	buf[0] = 0x45 // version 4, IHL 5 (no options)
	buf[1] = 0    // ToS
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	binary.BigEndian.PutUint16(buf[4:6], id)
	binary.BigEndian.PutUint16(buf[6:8], 0) // flags/fragment offset: no fragmentation
	buf[8] = 64                             // TTL
	buf[9] = protocol
	src4 := src.As4()
	dst4 := dst.As4()
	copy(buf[12:16], src4[:])
	copy(buf[16:20], dst4[:])
	var crc wire.CRC791
	crc.WriteEven(buf[:10])
	crc.WriteEven(buf[12:20])
	binary.BigEndian.PutUint16(buf[10:12], crc.Sum16())
	copy(buf[ipv4HeaderLen:], segment)
	return buf
}

// decodeIPv4 extracts the fields the netif dispatch path needs from a raw
// frame read off a Tap device: source/destination address, protocol number,
// and the payload beyond the header. IP options, if any, are skipped over
// (the IHL field accounts for them) but never interpreted.
func decodeIPv4(buf []byte) (src, dst netip.Addr, protocol uint8, payload []byte, err error) {
	if len(buf) < ipv4HeaderLen {
		return src, dst, 0, nil, errShortIPv4Header
	}
	ihl := int(buf[0]&0xf) * 4
	if ihl < ipv4HeaderLen || len(buf) < ihl {
		return src, dst, 0, nil, errShortIPv4Header
	}
	src = netip.AddrFrom4([4]byte(buf[12:16]))
	dst = netip.AddrFrom4([4]byte(buf[16:20]))
	protocol = buf[9]
	payload = buf[ihl:]
	return src, dst, protocol, payload, nil
}
