package chord

import (
	"math/bits"

	"github.com/zde37/vdht/pkg/ring"
)

// IDsChain returns a deterministic walk of keys from src to dst where every
// two adjacent keys differ by an exact power of two. Both ends are included.
//
// Each step flips the most significant bit in which the current key and dst
// differ, so the walk is at most L+1 keys long and never leaves [0, 2^L).
func IDsChain(src, dst ring.Key) []ring.Key {
	chain := []ring.Key{src}
	for cur := src; cur != dst; {
		cur = advanceID(cur, dst)
		chain = append(chain, cur)
	}
	return chain
}

func advanceID(cur, dst ring.Key) ring.Key {
	msb := bits.Len64(uint64(cur^dst)) - 1
	step := ring.Key(1) << msb
	if (cur>>msb)&1 == 0 {
		return cur + step
	}
	return cur - step
}
