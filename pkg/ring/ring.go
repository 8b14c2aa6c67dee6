package ring

import (
	"fmt"
	"math/bits"
	"strconv"
)

const (
	// MaxBits is the widest identifier space a Key can address.
	MaxBits = 64
)

// Key is a position on the ring, an integer in [0, 2^L).
type Key uint64

// String returns the key in hex, the way node ids are printed in logs.
func (k Key) String() string {
	return strconv.FormatUint(uint64(k), 16)
}

// Space is the identifier space [0, 2^Bits) of a ring.
// All arithmetic on keys wraps around modulo 2^Bits.
type Space struct {
	bits int
	mask uint64
}

// NewSpace creates a Space of 2^bits keys.
func NewSpace(bits int) (Space, error) {
	if bits <= 0 || bits > MaxBits {
		return Space{}, fmt.Errorf("bits must be between 1 and %d, got %d", MaxBits, bits)
	}
	mask := ^uint64(0)
	if bits < MaxBits {
		mask = (uint64(1) << bits) - 1
	}
	return Space{bits: bits, mask: mask}, nil
}

// MustSpace is like NewSpace but panics on an invalid width.
func MustSpace(bits int) Space {
	s, err := NewSpace(bits)
	if err != nil {
		panic(err)
	}
	return s
}

// Bits returns L, the width of the space in bits.
func (s Space) Bits() int {
	return s.bits
}

// MaxKey returns the largest valid key (2^L - 1).
func (s Space) MaxKey() Key {
	return Key(s.mask)
}

// Contains checks if k lies within [0, 2^L).
func (s Space) Contains(k Key) bool {
	return uint64(k)&^s.mask == 0
}

// Mod reduces x into the space.
func (s Space) Mod(x uint64) Key {
	return Key(x & s.mask)
}

// Add computes (k + diff) mod 2^L.
func (s Space) Add(k Key, diff uint64) Key {
	return s.Mod(uint64(k) + diff)
}

// Sub computes (k - diff) mod 2^L.
func (s Space) Sub(k Key, diff uint64) Key {
	return s.Mod(uint64(k) - diff)
}

// Distance computes the clockwise distance from start to end.
// Returns (end - start) mod 2^L.
func (s Space) Distance(start, end Key) uint64 {
	return (uint64(end) - uint64(start)) & s.mask
}

// PowerOfTwo returns 2^exponent reduced into the space. Exponents outside
// [0, L) yield 0.
func (s Space) PowerOfTwo(exponent int) uint64 {
	if exponent < 0 || exponent >= s.bits {
		return 0
	}
	return uint64(1) << exponent
}

// AddPowerOfTwo computes (k + 2^exponent) mod 2^L.
func (s Space) AddPowerOfTwo(k Key, exponent int) Key {
	return s.Add(k, s.PowerOfTwo(exponent))
}

// SubPowerOfTwo computes (k - 2^exponent) mod 2^L.
func (s Space) SubPowerOfTwo(k Key, exponent int) Key {
	return s.Sub(k, s.PowerOfTwo(exponent))
}

// InRange checks if id is in the range (start, end] on the ring.
// The range wraps around if end <= start; start == end means the whole ring except start.
func (s Space) InRange(id, start, end Key) bool {
	if start == end {
		return id != start
	}
	d := s.Distance(start, id)
	return d > 0 && d <= s.Distance(start, end)
}

// Between checks if id is in the range (start, end), exclusive on both ends.
func (s Space) Between(id, start, end Key) bool {
	if start == end {
		return id != start
	}
	d := s.Distance(start, id)
	return d > 0 && d < s.Distance(start, end)
}

// CanHold reports whether n independently sampled keys collide with
// negligible probability, i.e. n < sqrt(2^L).
func (s Space) CanHold(n int) bool {
	if n < 0 {
		return false
	}
	hi, lo := bits.Mul64(uint64(n), uint64(n))
	if hi != 0 {
		return false
	}
	if s.bits == MaxBits {
		return true
	}
	return lo < uint64(1)<<s.bits
}
