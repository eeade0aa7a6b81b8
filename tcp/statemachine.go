package tcp

import "time"

// recv dispatches one validated segment to the state handler for the CB at
// idx: CLOSED is handled by the caller
// before a CB is ever touched (see txClosedResponse), so recv only ever
// sees LISTEN, SYN_SENT, or a synchronized state.
func (t *Table) recv(idx int, seg Segment, payload []byte) {
	cb := &t.cbs[idx]
	switch cb.state {
	case StateListen:
		t.recvListen(idx, seg)
	case StateSynSent:
		t.recvSynSent(idx, seg)
	case StateClosed:
		// Unreachable in practice: lookupByTuple never matches an
		// unused or not-yet-bound slot. Drop defensively.
	default:
		t.recvSynchronized(idx, seg, payload)
	}
}

// recvListen implements the LISTEN entry. It always runs on a freshly
// promoted child slot (see protocolRX), never on the listener itself, so
// every field it mutates belongs to the child alone; the listener stays
// untouched in LISTEN, ready to match the next SYN.
func (t *Table) recvListen(idx int, seg Segment) {
	cb := &t.cbs[idx]
	if seg.Flags.HasAny(FlagRST) {
		return
	}
	if seg.Flags.HasAny(FlagACK) {
		t.ctr.resets.Add(1)
		t.transmit(cb, seg.ACK, 0, FlagRST, nil)
		return
	}
	if !seg.Flags.HasAny(FlagSYN) {
		return
	}
	cb.rcv.nxt = Add(seg.SEQ, 1)
	cb.rcv.wnd = cb.window.free()
	cb.irs = seg.SEQ
	cb.iss = t.isn.next(t.iface.Addr, cb.port, cb.peerAddr, cb.peerPort, time.Now())
	cb.snd.una = cb.iss
	cb.snd.nxt = Add(cb.iss, 1)
	cb.state = StateSynRcvd
	t.transmit(cb, cb.iss, cb.rcv.nxt, FlagSYN|FlagACK, nil)
}

// recvSynSent implements the SYN_SENT entry, including the
// simultaneous-open path (SYN received with no ACK).
func (t *Table) recvSynSent(idx int, seg Segment) {
	cb := &t.cbs[idx]
	ackOK := false
	if seg.Flags.HasAny(FlagACK) {
		if seg.ACK.LessThanEq(cb.iss) || cb.snd.nxt.LessThan(seg.ACK) {
			if !seg.Flags.HasAny(FlagRST) {
				t.ctr.resets.Add(1)
				t.transmit(cb, seg.ACK, 0, FlagRST, nil)
			}
			return
		}
		ackOK = true
	}
	if seg.Flags.HasAny(FlagRST) {
		t.wake(idx)
		t.cbClear(idx)
		return
	}
	if !seg.Flags.HasAny(FlagSYN) {
		return
	}
	cb.rcv.nxt = Add(seg.SEQ, 1)
	cb.irs = seg.SEQ
	if ackOK {
		cb.snd.una = seg.ACK
		if cb.iss.LessThan(cb.snd.una) {
			cb.state = StateEstablished
			cb.rcv.wnd = cb.window.free()
			t.transmit(cb, cb.snd.nxt, cb.rcv.nxt, FlagACK, nil)
			t.wake(idx)
			return
		}
	}
	// SYN only (no ACK, or ACK not yet past iss): simultaneous-open
	// surrogate, ack the peer's SYN and remain in SYN_SENT.
	t.transmit(cb, cb.iss, cb.rcv.nxt, FlagACK, nil)
}

// recvSynchronized implements the shared precondition check and
// the per-state ACK/payload/FIN handling for every state from SYN_RCVD
// onward.
func (t *Table) recvSynchronized(idx int, seg Segment, payload []byte) {
	cb := &t.cbs[idx]
	switch {
	case seg.SEQ != cb.rcv.nxt:
		t.ctr.segmentDrops.Add(1)
		cb.log.traceSeg(idx, cb.state, seg, errSeqNotNext)
		return
	case seg.Flags.HasAny(FlagRST | FlagSYN):
		t.ctr.segmentDrops.Add(1)
		cb.log.traceSeg(idx, cb.state, seg, errUnexpectedRSTSYN)
		return
	case !seg.Flags.HasAny(FlagACK):
		t.ctr.segmentDrops.Add(1)
		cb.log.traceSeg(idx, cb.state, seg, errMissingACK)
		return
	}

	switch cb.state {
	case StateSynRcvd:
		if cb.snd.una.LessThanEq(seg.ACK) && seg.ACK.LessThanEq(cb.snd.nxt) {
			cb.snd.una = seg.ACK
			cb.state = StateEstablished
			if cb.parent != noCB {
				parent := &t.cbs[cb.parent]
				parent.backlog = append(parent.backlog, idx)
				t.wake(cb.parent)
			}
		} else {
			cb.log.traceSeg(idx, cb.state, seg, errAckOutOfWindow)
			t.ctr.resets.Add(1)
			t.transmit(cb, seg.ACK, 0, FlagRST, nil)
			return
		}

	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait, StateClosing:
		if cb.snd.una.LessThan(seg.ACK) && seg.ACK.LessThanEq(cb.snd.nxt) {
			cb.snd.una = seg.ACK
		}
		if cb.snd.nxt.LessThan(seg.ACK) {
			cb.log.traceSeg(idx, cb.state, seg, errAckOutOfWindow)
			t.transmit(cb, cb.snd.nxt, cb.rcv.nxt, FlagACK, nil)
			return
		}
		switch {
		case cb.state == StateFinWait1 && seg.ACK == cb.snd.nxt:
			cb.state = StateFinWait2
		case cb.state == StateClosing && seg.ACK == cb.snd.nxt:
			cb.state = StateTimeWait
			t.wake(idx)
			return
		}

	case StateLastAck:
		t.wake(idx)
		t.cbClear(idx)
		return
	}

	if seg.DATALEN > 0 && cb.state.IsReceiveReady() {
		n := int(seg.DATALEN)
		if n <= int(cb.rcv.wnd) {
			cb.window.append(payload[:n])
			cb.rcv.nxt = Add(cb.rcv.nxt, seg.DATALEN)
			cb.rcv.wnd -= seg.DATALEN
			t.transmit(cb, cb.snd.nxt, cb.rcv.nxt, FlagACK, nil)
			t.wake(idx)
		}
		// n > rcv.wnd is left undefined.
	}

	if seg.Flags.HasAny(FlagFIN) {
		cb.rcv.nxt++
		t.transmit(cb, cb.snd.nxt, cb.rcv.nxt, FlagACK, nil)
		switch cb.state {
		case StateSynRcvd, StateEstablished:
			cb.state = StateCloseWait
			t.wake(idx)
		case StateFinWait1:
			cb.state = StateFinWait2
		case StateFinWait2:
			cb.state = StateTimeWait
			t.wake(idx)
		}
	}
}
