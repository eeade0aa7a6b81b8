package tcp

import "time"

// defaultRetransmitAge is the default "age exceeds a threshold" window
// (three seconds) before an unacknowledged segment is resent.
const defaultRetransmitAge = 3 * time.Second

// SweepRetransmissions is the optional periodic-timer hook: it walks every
// CB's retransmission queue, drops entries already acknowledged, and
// re-sends entries still unacknowledged and older than maxAge. Nothing in
// this core calls it automatically — cmd/tcpctl wires it to a ticker.
func (t *Table) SweepRetransmissions(maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for i := range t.cbs {
		cb := &t.cbs[i]
		if !cb.used {
			continue
		}
		cb.txq.sweep(cb.snd.una, maxAge, now, func(frame []byte) {
			if t.tx != nil {
				_ = t.tx.Tx(cb.iface, protocolTCP, frame, cb.peerAddr)
			}
		})
	}
}
