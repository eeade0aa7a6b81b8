package tcp

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"time"

	"golang.org/x/crypto/blake2b"
)

// isnGenerator produces initial sequence numbers the way modern stacks
// do: a per-boot secret keyed hash of the connection four-tuple mixed
// with a coarse clock, giving >=32 bits of entropy without a
// fresh CSPRNG draw on every SYN, and without exposing a raw incrementing
// counter a peer could observe.
type isnGenerator struct {
	secret [32]byte
}

func newISNGenerator() *isnGenerator {
	var g isnGenerator
	if _, err := rand.Read(g.secret[:]); err != nil {
		// crypto/rand failing is a fatal environment error; a zero
		// secret would make ISNs predictable across process restarts.
		panic("tcp: failed to seed ISN generator: " + err.Error())
	}
	return &g
}

// next returns the ISN for a connection identified by the local/remote
// four-tuple at the given time, truncated to a ~4 microsecond tick so the
// value slowly advances like a real ISN clock instead of jumping on every
// call within the same tick.
func (g *isnGenerator) next(localAddr netip.Addr, localPort uint16, remoteAddr netip.Addr, remotePort uint16, now time.Time) Value {
	h, err := blake2b.New(4, g.secret[:])
	if err != nil {
		panic("tcp: blake2b init: " + err.Error())
	}
	var buf [12]byte
	la4, ra4 := localAddr.As4(), remoteAddr.As4()
	copy(buf[0:4], la4[:])
	copy(buf[4:8], ra4[:])
	binary.BigEndian.PutUint16(buf[8:10], localPort)
	binary.BigEndian.PutUint16(buf[10:12], remotePort)
	h.Write(buf[:])
	sum := h.Sum(nil)
	base := binary.BigEndian.Uint32(sum)
	tick := uint32(now.UnixMicro() >> 2)
	return Value(base + tick)
}
