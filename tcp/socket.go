// Package tcp implements the transport core: a fixed Control Block Table
// running the TCP state machine, its segment transmit/retransmit
// discipline, and a blocking socket API. See the netif and driver
// packages for the IP and NIC collaborators this core assumes.
package tcp

import (
	"context"
	"net/netip"
	"time"
)

// checkSocket validates s is in range and currently allocated, the check
// every API entry performs before touching a CB.
func (t *Table) checkSocket(s int) (*controlBlock, error) {
	if s < 0 || s >= tableSize {
		return nil, ErrInvalidSocket
	}
	cb := &t.cbs[s]
	if !cb.used {
		return nil, ErrInvalidSocket
	}
	return cb, nil
}

// sleep is the sleep-on-address primitive: it atomically releases t.mu and
// parks on cb's condition variable (sync.Cond.Wait provides exactly this
// atomicity), waking on an SM signal, a spurious wakeup, or ctx
// cancellation — the three ways a sleeping call can wake up. Callers
// always re-test their own predicate after sleep returns.
func (t *Table) sleep(ctx context.Context, cb *controlBlock) error {
	done := ctx.Done()
	if done != nil {
		stop := make(chan struct{})
		go func() {
			select {
			case <-done:
				t.mu.Lock()
				cb.cond.Broadcast()
				t.mu.Unlock()
			case <-stop:
			}
		}()
		cb.cond.Wait()
		close(stop)
	} else {
		cb.cond.Wait()
	}
	select {
	case <-done:
		return ErrKilled
	default:
		return nil
	}
}

// Open allocates a Control Block and returns its table index, the
// socket descriptor user code uses from here on. Returns -1/ErrNoSlot
// when the table is full.
func (t *Table) Open() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, err := t.allocate()
	if err != nil {
		return -1, err
	}
	return idx, nil
}

// Bind requires the socket be CLOSED and claims port for it, failing if
// another used CB already holds that port.
func (t *Table) Bind(s int, port uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, err := t.checkSocket(s)
	if err != nil {
		return err
	}
	if cb.state != StateClosed {
		return ErrWrongState
	}
	if port != 0 && t.portInUse(port) {
		return ErrPortInUse
	}
	cb.port = port
	return nil
}

// Listen requires CLOSED with a port already bound, and transitions the
// socket to LISTEN. backlog is accepted but unbounded.
func (t *Table) Listen(s int, backlog int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, err := t.checkSocket(s)
	if err != nil {
		return err
	}
	if cb.state != StateClosed {
		return ErrWrongState
	}
	if cb.port == 0 {
		return ErrPortRequired
	}
	cb.peerAddr = netip.Addr{}
	cb.peerPort = 0
	cb.state = StateListen
	_ = backlog
	return nil
}

// Accept requires LISTEN and blocks until a completed child connection is
// available or ctx is cancelled, returning the child's own socket index
// and its peer address. Children are dequeued FIFO.
func (t *Table) Accept(ctx context.Context, s int) (int, netip.AddrPort, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, err := t.checkSocket(s)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	if cb.state != StateListen {
		return -1, netip.AddrPort{}, ErrWrongState
	}
	for len(cb.backlog) == 0 {
		if err := t.sleep(ctx, cb); err != nil {
			return -1, netip.AddrPort{}, err
		}
	}
	child := cb.backlog[0]
	cb.backlog = cb.backlog[1:]
	childCB := &t.cbs[child]
	return child, netip.AddrPortFrom(childCB.peerAddr, childCB.peerPort), nil
}

const ephemeralScanMod = 1024

// pickEphemeralPort scans [49152, 65535] for an unused port, starting at
// an offset derived from the wall clock, mirroring the original's
// time(NULL)%1024 starting offset.
func (t *Table) pickEphemeralPort() (uint16, error) {
	const rangeSize = ephemeralTop - ephemeralBase + 1
	offset := int(time.Now().Unix() % ephemeralScanMod)
	for i := 0; i < rangeSize; i++ {
		port := uint16(ephemeralBase + (offset+i)%rangeSize)
		if !t.portInUse(port) {
			return port, nil
		}
	}
	return 0, ErrNoEphemeralPort
}

// Connect requires CLOSED, claims an ephemeral port if none is bound,
// sends the initial SYN, and blocks until the handshake resolves one way
// or the other, or ctx is cancelled.
func (t *Table) Connect(ctx context.Context, s int, peer netip.AddrPort) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, err := t.checkSocket(s)
	if err != nil {
		return err
	}
	if cb.state != StateClosed {
		return ErrWrongState
	}
	if !peer.Addr().Is4() {
		return ErrNotIPv4
	}
	if cb.port == 0 {
		port, err := t.pickEphemeralPort()
		if err != nil {
			return err
		}
		cb.port = port
	}
	cb.peerAddr = peer.Addr()
	cb.peerPort = peer.Port()
	cb.iface = t.iface
	cb.iss = t.isn.next(t.iface.Addr, cb.port, cb.peerAddr, cb.peerPort, time.Now())
	cb.snd.una = cb.iss
	cb.snd.nxt = Add(cb.iss, 1)
	cb.rcv.wnd = cb.window.free()
	cb.state = StateSynSent
	t.transmit(cb, cb.iss, 0, FlagSYN, nil)

	for cb.state == StateSynSent {
		if err := t.sleep(ctx, cb); err != nil {
			return err
		}
	}
	if cb.state != StateEstablished {
		return ErrConnReset
	}
	return nil
}

// Send requires ESTABLISHED or CLOSE_WAIT and transmits buf as a single
// PSH|ACK segment without waiting for it to be acknowledged; snd.nxt
// advances by len(buf) regardless of payload content, including zero.
func (t *Table) Send(s int, buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, err := t.checkSocket(s)
	if err != nil {
		return -1, err
	}
	if !cb.state.CanSend() {
		return -1, ErrWrongState
	}
	n := t.transmit(cb, cb.snd.nxt, cb.rcv.nxt, FlagACK|FlagPSH, buf)
	cb.snd.nxt = Add(cb.snd.nxt, n)
	return int(n), nil
}

// Recv copies buffered data into buf, blocking when none is available yet
// and the connection can still receive more. Returns 0 once the
// connection can no longer receive (EOF), -1 if ctx is cancelled first.
func (t *Table) Recv(ctx context.Context, s int, buf []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, err := t.checkSocket(s)
	if err != nil {
		return -1, err
	}
	for {
		if cb.window.buffered() > 0 {
			n := cb.window.read(buf)
			cb.rcv.wnd += Size(n)
			return n, nil
		}
		if !cb.state.IsReceiveReady() {
			return 0, nil
		}
		if err := t.sleep(ctx, cb); err != nil {
			return -1, err
		}
	}
}

// Close sends the appropriate FIN|ACK for the socket's current state,
// blocks for a single wake (the SM's next relevant signal, which may
// arrive with the connection already in TIME_WAIT since this core does
// not implement timed TIME_WAIT expiry), then runs cb_clear once woken,
// regardless of the CB's state. If ctx is cancelled first, Close returns
// ErrKilled without clearing. A socket in any state other than SYN_RCVD,
// ESTABLISHED or CLOSE_WAIT is cleared immediately with no segment sent.
func (t *Table) Close(ctx context.Context, s int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, err := t.checkSocket(s)
	if err != nil {
		return err
	}
	switch cb.state {
	case StateSynRcvd, StateEstablished:
		t.transmit(cb, cb.snd.nxt, cb.rcv.nxt, FlagFIN|FlagACK, nil)
		cb.snd.nxt++
		cb.state = StateFinWait1
	case StateCloseWait:
		t.transmit(cb, cb.snd.nxt, cb.rcv.nxt, FlagFIN|FlagACK, nil)
		cb.snd.nxt++
		cb.state = StateLastAck
	default:
		t.cbClear(s)
		return nil
	}
	if err := t.sleep(ctx, cb); err != nil {
		return err
	}
	t.cbClear(s)
	return nil
}
