package tcp

// windowCapacity is the fixed receive-buffer size every CB owns.
const windowCapacity = 4096

// recvWindow is the CB's fixed receive buffer. Bytes are appended at the
// tail (offset capacity-free) and read from offset 0; a read compacts the
// buffer by shifting remaining bytes down to offset 0, rather than using a
// wraparound ring.
type recvWindow struct {
	buf [windowCapacity]byte
	len int
}

func (w *recvWindow) free() Size { return Size(windowCapacity - w.len) }

func (w *recvWindow) buffered() int { return w.len }

// append copies p to the tail of the window. Caller must ensure
// len(p) <= free().
func (w *recvWindow) append(p []byte) {
	copy(w.buf[w.len:], p)
	w.len += len(p)
}

// read copies up to len(dst) bytes from the head of the window into dst,
// compacts the remainder to offset 0, and returns the number of bytes
// copied.
func (w *recvWindow) read(dst []byte) int {
	n := copy(dst, w.buf[:w.len])
	remaining := w.len - n
	copy(w.buf[:remaining], w.buf[n:w.len])
	w.len = remaining
	return n
}

func (w *recvWindow) reset() { w.len = 0 }
