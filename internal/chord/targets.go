package chord

import (
	"math/rand"
	"slices"

	"github.com/seehuhn/mt19937"

	"github.com/zde37/vdht/pkg/ring"
)

// targetRand returns the generator behind one node's randomized targets.
// Seeding from (run seed, node key) keeps tables reproducible no matter in
// which order the nodes are built.
func targetRand(seed uint64, id ring.Key) *rand.Rand {
	mt := mt19937.New()
	mt.SeedFromSlice([]uint64{seed, uint64(id)})
	return rand.New(mt)
}

// Targets picks the finger targets of node id.
//
// The left side only tracks the predecessor. The right side covers id±2^i,
// the power-of-two walk towards every neighbour, and two randomized pools:
// id + 2^i + r with r in [0, 2^i), and L uniform keys.
func Targets(space ring.Space, id ring.Key, neighborKeys []ring.Key, rng *rand.Rand) (left, right []ring.Key) {
	left = []ring.Key{space.Sub(id, 1)}

	bits := space.Bits()
	right = make([]ring.Key, 0, 5*bits)
	for i := 0; i < bits; i++ {
		right = append(right, space.AddPowerOfTwo(id, i), space.SubPowerOfTwo(id, i))
	}

	nbrs := slices.Clone(neighborKeys)
	slices.Sort(nbrs)
	for _, nk := range nbrs {
		right = append(right, IDsChain(id, nk)...)
	}

	for i := 0; i < bits; i++ {
		offset := space.PowerOfTwo(i) + rng.Uint64()&(space.PowerOfTwo(i)-1)
		right = append(right, space.Add(id, offset))
	}
	for i := 0; i < bits; i++ {
		right = append(right, space.Mod(rng.Uint64()))
	}

	slices.Sort(right)
	return left, slices.Compact(right)
}

// NewRandomizedFingers builds the initial table of node i.
func NewRandomizedFingers(g Graph, i int, seed uint64) *NodeFingers {
	id := g.IndexToKey(i)
	nbrs := g.Neighbors(i)
	keys := make([]ring.Key, len(nbrs))
	for j, v := range nbrs {
		keys[j] = g.IndexToKey(v)
	}

	left, right := Targets(g.Space(), id, keys, targetRand(seed, id))
	return NewNodeFingers(g.Space(), id, left, right)
}
