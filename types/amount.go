package types

import (
	"fmt"
	"math"
)

// Amount represents a custodial value in raw asset units: base integer
// units for the native asset, smallest-denomination units for fungible
// assets. All arithmetic is unsigned integer-only and checked:
// no floating point, no silent wraparound.
type Amount uint64

// MaxAmount is the largest representable amount.
const MaxAmount = Amount(math.MaxUint64)

// CheckedAdd returns a + b, or ok=false on overflow.
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	if b > MaxAmount-a {
		return 0, false
	}

	return a + b, true
}

// CheckedSub returns a - b, or ok=false when b exceeds a.
func (a Amount) CheckedSub(b Amount) (Amount, bool) {
	if b > a {
		return 0, false
	}

	return a - b, true
}

// SaturatingAdd returns a + b, clamped to MaxAmount on overflow.
func (a Amount) SaturatingAdd(b Amount) Amount {
	sum, ok := a.CheckedAdd(b)
	if !ok {
		return MaxAmount
	}

	return sum
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// Uint64 returns the raw unit count.
func (a Amount) Uint64() uint64 { return uint64(a) }

// String formats the amount as a plain unit count.
func (a Amount) String() string {
	return fmt.Sprintf("%d", uint64(a))
}
