package tcp

import "time"

// rtqEntry is one retained copy of a transmitted segment, intrusively
// linked to the next entry appended after it.
type rtqEntry struct {
	seq   Value
	frame []byte // owned copy of the full wire frame (header+payload)
	sent  time.Time
	next  *rtqEntry
}

// rtq is the per-CB retransmission queue: a singly-linked list rooted at
// head/tail, append-only in normal operation, drained wholesale by clear.
// This mirrors tcp_txq_add/tcp_cb_clear in the original source more
// directly than a ring buffer would, since unacked segments only need growth
// on send and bulk drainage on close — no random access, no reuse.
type rtq struct {
	head, tail *rtqEntry
	n          int
}

// add appends a copy of frame to the tail of the queue.
func (q *rtq) add(seq Value, frame []byte, now time.Time) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	e := &rtqEntry{seq: seq, frame: cp, sent: now}
	if q.tail == nil {
		q.head, q.tail = e, e
	} else {
		q.tail.next = e
		q.tail = e
	}
	q.n++
}

// len reports the number of entries currently queued.
func (q *rtq) len() int { return q.n }

// clear drains the queue, releasing every entry.
func (q *rtq) clear() {
	q.head, q.tail, q.n = nil, nil, 0
}

// sweep walks the queue calling resend for every entry whose sequence is
// still unacknowledged (>= una) and whose age exceeds maxAge, for the
// optional retransmission-timer hook Table.SweepRetransmissions. Entries
// already acknowledged (seq < una) are pruned from the head of the list,
// since the queue is sequence-ordered by construction (append-only,
// snd.nxt monotonic).
func (q *rtq) sweep(una Value, maxAge time.Duration, now time.Time, resend func(frame []byte)) {
	for q.head != nil && q.head.seq.LessThan(una) {
		q.head = q.head.next
		q.n--
		if q.head == nil {
			q.tail = nil
		}
	}
	for e := q.head; e != nil; e = e.next {
		if now.Sub(e.sent) > maxAge {
			resend(e.frame)
			e.sent = now
		}
	}
}
