package chord

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

// Chain is anything that ends at a ring key after a number of hops and can
// be stored in a ChainSet.
type Chain[C any] interface {
	Final() ring.Key
	Hops() int
	// Checksum is a stable digest of the chain contents. It breaks ties
	// between chains with the same final key and hop count.
	Checksum() uint64
	Equal(other C) bool
	// Valid is false for chains that end nowhere, which a set rejects.
	Valid() bool
}

var hasherPool = &sync.Pool{
	New: func() any {
		return blake3.New()
	},
}

func checksumKeys(keys ...uint64) uint64 {
	h := hasherPool.Get().(*blake3.Hasher)
	defer func() {
		h.Reset()
		hasherPool.Put(h)
	}()

	var buf [8]byte
	for _, k := range keys {
		binary.BigEndian.PutUint64(buf[:], k)
		_, _ = h.Write(buf[:])
	}
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

// NodeChain is an explicit list of node keys. The first key is the one the
// chain ends at.
type NodeChain []ring.Key

func (c NodeChain) Final() ring.Key { return c[0] }

func (c NodeChain) Hops() int { return len(c) }

func (c NodeChain) Checksum() uint64 {
	keys := make([]uint64, len(c))
	for i, k := range c {
		keys[i] = uint64(k)
	}
	return checksumKeys(keys...)
}

func (c NodeChain) Equal(other NodeChain) bool {
	return slices.Equal(c, other)
}

func (c NodeChain) Valid() bool { return len(c) > 0 }

func (s SemiChain) Final() ring.Key { return s.FinalID }

func (s SemiChain) Hops() int { return s.Length }

func (s SemiChain) Checksum() uint64 {
	return checksumKeys(uint64(s.FinalID), uint64(s.Length))
}

func (s SemiChain) Equal(other SemiChain) bool {
	return s == other
}

func (s SemiChain) Valid() bool { return s.Length >= 0 }

// ChainSet collects chains until it is indexed. Duplicates are ignored.
type ChainSet[C Chain[C]] struct {
	raw     []C
	seen    map[uint64][]int
	indexed bool
}

// NewChainSet creates an empty set.
func NewChainSet[C Chain[C]]() *ChainSet[C] {
	return &ChainSet[C]{seen: make(map[uint64][]int)}
}

// Insert adds c unless an equal chain is already present.
func (s *ChainSet[C]) Insert(c C) error {
	if s.indexed {
		return pkg.ErrAlreadyIndexed
	}
	if !c.Valid() {
		return fmt.Errorf("%v: %w", c, pkg.ErrInvalidChain)
	}
	sum := c.Checksum()
	for _, i := range s.seen[sum] {
		if s.raw[i].Equal(c) {
			return nil
		}
	}
	s.seen[sum] = append(s.seen[sum], len(s.raw))
	s.raw = append(s.raw, c)
	return nil
}

// Len returns the number of distinct chains inserted.
func (s *ChainSet[C]) Len() int {
	return len(s.raw)
}

// Index sorts the chains for searching. The set cannot be changed afterwards.
func (s *ChainSet[C]) Index() (*ChainIndex[C], error) {
	if s.indexed {
		return nil, pkg.ErrAlreadyIndexed
	}
	if len(s.raw) == 0 {
		return nil, pkg.ErrEmptyChainSet
	}
	s.indexed = true

	entries := make([]entry[C], len(s.raw))
	for i, c := range s.raw {
		entries[i] = entry[C]{chain: c, final: c.Final(), hops: c.Hops(), sum: c.Checksum()}
	}
	s.seen = nil

	right := slices.Clone(entries)
	slices.SortFunc(right, func(a, b entry[C]) int {
		return cmp.Or(
			cmp.Compare(a.final, b.final),
			cmp.Compare(a.hops, b.hops),
			cmp.Compare(a.sum, b.sum),
		)
	})

	left := entries
	slices.SortFunc(left, func(a, b entry[C]) int {
		return cmp.Or(
			cmp.Compare(b.final, a.final),
			cmp.Compare(a.hops, b.hops),
			cmp.Compare(a.sum, b.sum),
		)
	})

	return &ChainIndex[C]{left: left, right: right}, nil
}

type entry[C any] struct {
	chain C
	final ring.Key
	hops  int
	sum   uint64
}

// ChainIndex answers nearest-chain queries over an indexed ChainSet.
type ChainIndex[C Chain[C]] struct {
	left  []entry[C] // final key descending
	right []entry[C] // final key ascending
}

// Len returns the number of indexed chains.
func (x *ChainIndex[C]) Len() int {
	return len(x.right)
}

// FindClosestRight returns the shortest chain ending at the first key at or
// after t, walking clockwise and wrapping past the top of the ring.
func (x *ChainIndex[C]) FindClosestRight(t ring.Key) C {
	i := sort.Search(len(x.right), func(i int) bool {
		return x.right[i].final >= t
	})
	return x.right[i%len(x.right)].chain
}

// FindClosestLeft returns the shortest chain ending at the first key at or
// before t, walking counter-clockwise and wrapping to the largest key.
func (x *ChainIndex[C]) FindClosestLeft(t ring.Key) C {
	i := sort.Search(len(x.left), func(i int) bool {
		return x.left[i].final <= t
	})
	return x.left[i%len(x.left)].chain
}

// Chains returns every indexed chain ordered by final key, then hops.
func (x *ChainIndex[C]) Chains() []C {
	out := make([]C, len(x.right))
	for i, e := range x.right {
		out[i] = e.chain
	}
	return out
}
