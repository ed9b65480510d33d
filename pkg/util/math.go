package util

import "math/bits"

func Conditional[T any](cond bool, t, f T) T {
	if cond {
		return t
	}
	return f
}

// Rescale converts v from timescale from to timescale to without intermediate overflow.
// The result saturates at the uint64 maximum.
func Rescale(v uint64, from, to uint32) uint64 {
	if from == to || from == 0 {
		return v
	}
	hi, lo := bits.Mul64(v, uint64(to))
	if hi >= uint64(from) {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, uint64(from))
	return q
}

// AddOverflow returns a+b and whether the sum wrapped.
func AddOverflow(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry != 0
}
