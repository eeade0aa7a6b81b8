package tcp

// Value is a TCP sequence or acknowledgement number living in modulo-2^32
// space. Comparisons never compare Values as plain integers; "A <= B" means
// (B-A) mod 2^32 < 2^31, the half-window rule RFC 9293 §3.4 specifies.
type Value uint32

// Size is a window or payload-length quantity. Frame.SetWindow writes it to
// the 16-bit wire field by truncation, without a range check.
type Size uint32

// Add returns v+n in sequence space.
func Add(v Value, n Size) Value { return v + Value(n) }

// Sizeof returns the number of octets from a (inclusive) to b (exclusive)
// in sequence space, i.e. b-a taken modulo 2^32.
func Sizeof(a, b Value) Size { return Size(b - a) }

// LessThan reports whether v precedes w in sequence space (v < w, modular).
func (v Value) LessThan(w Value) bool {
	return int32(v-w) < 0 && v != w
}

// LessThanEq reports whether v precedes or equals w in sequence space.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InWindow reports whether v lies in [nxt, nxt+wnd) in sequence space.
func (v Value) InWindow(nxt Value, wnd Size) bool {
	if wnd == 0 {
		return false
	}
	return Sizeof(nxt, v) < wnd
}

// UpdateForward advances the receiver to w if w is strictly ahead of v in
// sequence space, returning the (possibly unchanged) result.
func (v Value) UpdateForward(w Value) Value {
	if v.LessThan(w) {
		return w
	}
	return v
}
