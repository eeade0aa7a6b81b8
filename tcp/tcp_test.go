package tcp

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xv6net/tcpcore/netif"
)

// fakeTransmitter captures every frame handed to ip_tx so tests can
// inspect or loop it back into the table under test.
type fakeTransmitter struct {
	sent []sentFrame
}

type sentFrame struct {
	proto uint8
	frame []byte
	dst   netip.Addr
}

func (f *fakeTransmitter) Tx(iface *netif.Interface, proto uint8, segment []byte, dst netip.Addr) error {
	cp := make([]byte, len(segment))
	copy(cp, segment)
	f.sent = append(f.sent, sentFrame{proto: proto, frame: cp, dst: dst})
	return nil
}

func (f *fakeTransmitter) last() Frame {
	frm, _ := NewFrame(f.sent[len(f.sent)-1].frame)
	return frm
}

func newTestTable(t *testing.T) (*Table, *fakeTransmitter, *netif.Interface) {
	t.Helper()
	iface := &netif.Interface{Name: "test0", Addr: netip.MustParseAddr("10.0.0.1"), MTU: 1500}
	tx := &fakeTransmitter{}
	tbl := NewTable(nil)
	protocols := &netif.Protocols{}
	require.NoError(t, tbl.Attach(iface, tx, protocols))
	return tbl, tx, iface
}

func TestOpenExhaustsTable(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	for i := 0; i < tableSize; i++ {
		s, err := tbl.Open()
		require.NoError(t, err)
		require.Equal(t, i, s)
	}
	_, err := tbl.Open()
	require.ErrorIs(t, err, ErrNoSlot)
}

func TestBindPortCollision(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	a, _ := tbl.Open()
	b, _ := tbl.Open()
	require.NoError(t, tbl.Bind(a, 0x0050))
	require.ErrorIs(t, tbl.Bind(b, 0x0050), ErrPortInUse)
}

func TestBindListenCloseReturnsToZeroState(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	s, _ := tbl.Open()
	require.NoError(t, tbl.Bind(s, 0x0050))
	require.NoError(t, tbl.Listen(s, 1))
	require.NoError(t, tbl.Close(context.Background(), s))
	for i := range tbl.cbs {
		require.False(t, tbl.cbs[i].used, "cb %d should be freed", i)
	}
}

// buildSegment constructs a raw wire frame as a peer would send it.
func buildSegment(t *testing.T, iface *netif.Interface, peer netip.Addr, srcPort, dstPort uint16, seg Segment, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, sizeHeader+len(payload))
	frm, err := NewFrame(buf)
	require.NoError(t, err)
	frm.SetSourcePort(srcPort)
	frm.SetDestinationPort(dstPort)
	frm.SetSegment(seg)
	copy(frm.Payload(), payload)
	frm.SetChecksum(pseudoHeaderChecksum(peer, iface.Addr, buf))
	return buf
}

func TestPassiveOpenSegmentAndGracefulClose(t *testing.T) {
	tbl, tx, iface := newTestTable(t)
	peer := netip.MustParseAddr("10.0.0.2")

	s, _ := tbl.Open()
	require.NoError(t, tbl.Bind(s, 0x0050))
	require.NoError(t, tbl.Listen(s, 1))

	synSeg := Segment{SEQ: 0x100, Flags: FlagSYN, WND: 0x1000}
	raw := buildSegment(t, iface, peer, 0xC000, 0x0050, synSeg, nil)
	require.NoError(t, tbl.protocolRX(raw, peer, iface.Addr, iface))

	synack := tx.last()
	require.True(t, synack.Flags().HasAll(FlagSYN|FlagACK))
	require.Equal(t, Value(0x101), synack.Ack())
	issA := synack.Seq()

	ackSeg := Segment{SEQ: 0x101, ACK: issA + 1, Flags: FlagACK}
	raw = buildSegment(t, iface, peer, 0xC000, 0x0050, ackSeg, nil)
	require.NoError(t, tbl.protocolRX(raw, peer, iface.Addr, iface))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	child, peerAddr, err := tbl.Accept(ctx, s)
	require.NoError(t, err)
	require.Equal(t, uint16(0xC000), peerAddr.Port())

	dataSeg := Segment{SEQ: 0x101, ACK: issA + 1, Flags: FlagACK | FlagPSH, DATALEN: 2}
	raw = buildSegment(t, iface, peer, 0xC000, 0x0050, dataSeg, []byte("hi"))
	require.NoError(t, tbl.protocolRX(raw, peer, iface.Addr, iface))

	buf := make([]byte, 16)
	n, err := tbl.Recv(ctx, child, buf)
	require.NoError(t, err)
	require.Equal(t, "hi", string(buf[:n]))

	finSeg := Segment{SEQ: 0x103, ACK: issA + 1, Flags: FlagFIN | FlagACK}
	raw = buildSegment(t, iface, peer, 0xC000, 0x0050, finSeg, nil)
	require.NoError(t, tbl.protocolRX(raw, peer, iface.Addr, iface))
	require.Equal(t, StateCloseWait, tbl.cbs[child].state)

	// Close blocks in LAST_ACK until the peer acks our FIN, so drive it
	// from a goroutine and deliver that ACK concurrently.
	closeErr := make(chan error, 1)
	go func() { closeErr <- tbl.Close(ctx, child) }()

	require.Eventually(t, func() bool {
		tbl.mu.Lock()
		defer tbl.mu.Unlock()
		return tbl.cbs[child].state == StateLastAck
	}, time.Second, time.Millisecond, "Close should send FIN and enter LAST_ACK")

	ackFin := Segment{SEQ: 0x104, ACK: issA + 2, Flags: FlagACK}
	raw = buildSegment(t, iface, peer, 0xC000, 0x0050, ackFin, nil)
	require.NoError(t, tbl.protocolRX(raw, peer, iface.Addr, iface))

	require.NoError(t, <-closeErr)
	require.False(t, tbl.cbs[child].used)
}

func TestConnectTimesOutWhenPeerSilent(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	s, _ := tbl.Open()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tbl.Connect(ctx, s, netip.MustParseAddrPort("1.2.3.4:80"))
	require.ErrorIs(t, err, ErrKilled)
}

func TestSequenceMismatchDropsSilently(t *testing.T) {
	tbl, tx, iface := newTestTable(t)
	peer := netip.MustParseAddr("10.0.0.2")
	s, _ := tbl.Open()
	_ = tbl.Bind(s, 0x0050)
	_ = tbl.Listen(s, 1)

	synSeg := Segment{SEQ: 0x100, Flags: FlagSYN, WND: 0x1000}
	raw := buildSegment(t, iface, peer, 0xC000, 0x0050, synSeg, nil)
	require.NoError(t, tbl.protocolRX(raw, peer, iface.Addr, iface))
	synack := tx.last()
	issA := synack.Seq()

	ackSeg := Segment{SEQ: 0x101, ACK: issA + 1, Flags: FlagACK}
	raw = buildSegment(t, iface, peer, 0xC000, 0x0050, ackSeg, nil)
	require.NoError(t, tbl.protocolRX(raw, peer, iface.Addr, iface))

	ctx := context.Background()
	child, _, err := tbl.Accept(ctx, s)
	require.NoError(t, err)

	sentBefore := len(tx.sent)
	rcvNxtBefore := tbl.cbs[child].rcv.nxt
	badSeg := Segment{SEQ: 0x600, ACK: issA + 1, Flags: FlagACK | FlagPSH, DATALEN: 4}
	raw = buildSegment(t, iface, peer, 0xC000, 0x0050, badSeg, []byte("boom"))
	require.NoError(t, tbl.protocolRX(raw, peer, iface.Addr, iface))

	require.Equal(t, rcvNxtBefore, tbl.cbs[child].rcv.nxt)
	require.Equal(t, sentBefore, len(tx.sent), "no reply should be transmitted")
}

func TestChecksumRejection(t *testing.T) {
	tbl, tx, iface := newTestTable(t)
	peer := netip.MustParseAddr("10.0.0.2")
	s, _ := tbl.Open()
	_ = tbl.Bind(s, 0x0050)
	_ = tbl.Listen(s, 1)

	synSeg := Segment{SEQ: 0x100, Flags: FlagSYN, WND: 0x1000}
	raw := buildSegment(t, iface, peer, 0xC000, 0x0050, synSeg, nil)
	raw[16] ^= 0xff // corrupt checksum high byte
	require.NoError(t, tbl.protocolRX(raw, peer, iface.Addr, iface))
	require.Empty(t, tx.sent)
	require.Equal(t, StateListen, tbl.cbs[s].state)
}

func TestSendZeroBytesDoesNotAdvanceSndNxt(t *testing.T) {
	tbl, tx, _ := newTestTable(t)
	s, _ := tbl.Open()
	tbl.cbs[s].state = StateEstablished
	tbl.cbs[s].iface = tbl.iface
	tbl.cbs[s].peerAddr = netip.MustParseAddr("10.0.0.2")
	before := tbl.cbs[s].snd.nxt
	n, err := tbl.Send(s, nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, before, tbl.cbs[s].snd.nxt)
	last := tx.last()
	require.True(t, last.Flags().HasAll(FlagACK|FlagPSH))
}

func TestRecvOnCloseWaitEmptyReturnsEOF(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	s, _ := tbl.Open()
	tbl.cbs[s].state = StateCloseWait
	n, err := tbl.Recv(context.Background(), s, make([]byte, 4))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestConnectPicksUnusedEphemeralPort(t *testing.T) {
	tbl, _, _ := newTestTable(t)
	a, _ := tbl.Open()
	b, _ := tbl.Open()
	ctxA, cancelA := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancelA()
	_ = tbl.Connect(ctxA, a, netip.MustParseAddrPort("1.2.3.4:80"))
	portA := tbl.cbs[a].port

	ctxB, cancelB := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancelB()
	_ = tbl.Connect(ctxB, b, netip.MustParseAddrPort("1.2.3.5:80"))
	portB := tbl.cbs[b].port

	require.NotEqual(t, portA, portB)
	require.GreaterOrEqual(t, portA, uint16(ephemeralBase))
	require.GreaterOrEqual(t, portB, uint16(ephemeralBase))
}
