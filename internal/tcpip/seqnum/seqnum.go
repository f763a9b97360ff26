// Package seqnum implements wrap-safe comparisons over the 32-bit sequence
// number ring used by the minitcp wire protocol.
package seqnum

// Value is a point in the 32-bit sequence number space. Arithmetic on Value
// wraps exactly the way the wire field it represents wraps.
type Value uint32

// Size is a span of bytes within the sequence number space.
type Size uint32

// Add returns v+delta, wrapping as uint32 addition does.
func (v Value) Add(delta Size) Value {
	return v + Value(delta)
}

// Before reports whether a precedes b in the ring, i.e. a comes strictly
// earlier than b when both are considered relative to any common baseline
// that makes the signed difference meaningful (a and b must be within 2^31
// of each other for this to be well defined, which holds for any pair of
// sequence numbers that can legitimately appear on the same connection).
func Before(a, b Value) bool {
	return int32(a-b) < 0
}

// After reports whether a comes strictly later than b.
func After(a, b Value) bool {
	return Before(b, a)
}

// Between reports whether x lies in the inclusive-exclusive-on-neither
// range [lo, hi] under wrap-safe arithmetic: unsigned(hi-lo) >= unsigned(x-lo).
func Between(x, lo, hi Value) bool {
	return uint32(hi-lo) >= uint32(x-lo)
}
