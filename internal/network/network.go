// Package network holds the connectivity graph the overlay runs on: which
// nodes exist, which ring key each one owns and which pairs share a link.
package network

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/seehuhn/mt19937"

	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

// keyResampleFactor bounds how many draws RandomKeys makes per requested key.
const keyResampleFactor = 16

// Network is an undirected graph of nodes identified by dense indices 0..n-1.
type Network struct {
	space ring.Space
	keys  []ring.Key
	index map[ring.Key]int
	adj   [][]int
	edges int
}

// New creates a network with one node per key and no links.
func New(space ring.Space, keys []ring.Key) (*Network, error) {
	if len(keys) == 0 {
		return nil, pkg.ErrEmptyNetwork
	}
	if !space.CanHold(len(keys)) {
		return nil, fmt.Errorf("%d nodes in %d bits: %w", len(keys), space.Bits(), pkg.ErrKeySpaceTooSmall)
	}

	index := make(map[ring.Key]int, len(keys))
	for i, k := range keys {
		if !space.Contains(k) {
			return nil, fmt.Errorf("key %s outside %d-bit space", k, space.Bits())
		}
		if j, ok := index[k]; ok {
			return nil, fmt.Errorf("nodes %d and %d share key %s: %w", j, i, k, pkg.ErrKeyCollision)
		}
		index[k] = i
	}

	return &Network{
		space: space,
		keys:  slices.Clone(keys),
		index: index,
		adj:   make([][]int, len(keys)),
	}, nil
}

// Connect adds the undirected link i-j. Self links and duplicates are ignored.
func (n *Network) Connect(i, j int) error {
	if i < 0 || i >= len(n.keys) || j < 0 || j >= len(n.keys) {
		return fmt.Errorf("link %d-%d out of range [0, %d)", i, j, len(n.keys))
	}
	if i == j {
		return nil
	}
	if insertSorted(&n.adj[i], j) {
		insertSorted(&n.adj[j], i)
		n.edges++
	}
	return nil
}

func insertSorted(s *[]int, v int) bool {
	pos, found := slices.BinarySearch(*s, v)
	if found {
		return false
	}
	*s = slices.Insert(*s, pos, v)
	return true
}

// Space returns the identifier space the keys live in.
func (n *Network) Space() ring.Space {
	return n.space
}

// NodeCount returns the number of nodes.
func (n *Network) NodeCount() int {
	return len(n.keys)
}

// EdgeCount returns the number of undirected links.
func (n *Network) EdgeCount() int {
	return n.edges
}

// Neighbors returns the neighbours of node i in ascending index order.
// The returned slice is shared and must not be modified.
func (n *Network) Neighbors(i int) []int {
	return n.adj[i]
}

// IndexToKey returns the ring key owned by node i.
func (n *Network) IndexToKey(i int) ring.Key {
	return n.keys[i]
}

// KeyToIndex returns the node owning key k.
func (n *Network) KeyToIndex(k ring.Key) (int, bool) {
	i, ok := n.index[k]
	return i, ok
}

// Keys returns a copy of all node keys in index order.
func (n *Network) Keys() []ring.Key {
	return slices.Clone(n.keys)
}

// IsConnected reports whether every node can reach every other node.
func (n *Network) IsConnected() bool {
	seen := make([]bool, len(n.keys))
	seen[0] = true
	stack := []int{0}
	visited := 1
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, v := range n.adj[u] {
			if !seen[v] {
				seen[v] = true
				visited++
				stack = append(stack, v)
			}
		}
	}
	return visited == len(n.keys)
}

// NewRand returns a Mersenne-Twister backed generator seeded from the given words.
func NewRand(seed ...uint64) *rand.Rand {
	mt := mt19937.New()
	mt.SeedFromSlice(seed)
	return rand.New(mt)
}

// RandomKeys draws n distinct keys uniformly from the space.
func RandomKeys(space ring.Space, n int, rng *rand.Rand) ([]ring.Key, error) {
	if n <= 0 {
		return nil, pkg.ErrEmptyNetwork
	}
	if !space.CanHold(n) {
		return nil, fmt.Errorf("%d nodes in %d bits: %w", n, space.Bits(), pkg.ErrKeySpaceTooSmall)
	}

	keys := make([]ring.Key, 0, n)
	seen := make(map[ring.Key]struct{}, n)
	for draws := 0; len(keys) < n; draws++ {
		if draws >= keyResampleFactor*n {
			return nil, fmt.Errorf("gave up after %d draws: %w", draws, pkg.ErrKeyCollision)
		}
		k := space.Mod(rng.Uint64())
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

// Random generates a connected network of n nodes: a random spanning tree
// plus degree random extra links per node.
func Random(n, degree, bits int, seed uint64) (*Network, error) {
	space, err := ring.NewSpace(bits)
	if err != nil {
		return nil, err
	}
	rng := NewRand(seed)

	keys, err := RandomKeys(space, n, rng)
	if err != nil {
		return nil, err
	}
	net, err := New(space, keys)
	if err != nil {
		return nil, err
	}

	for i := 1; i < n; i++ {
		if err := net.Connect(i, rng.Intn(i)); err != nil {
			return nil, err
		}
	}
	for i := 0; i < n; i++ {
		for d := 0; d < degree; d++ {
			if err := net.Connect(i, rng.Intn(n)); err != nil {
				return nil, err
			}
		}
	}
	return net, nil
}

// Complete links every pair of nodes.
func Complete(space ring.Space, keys []ring.Key) (*Network, error) {
	net, err := New(space, keys)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if err := net.Connect(i, j); err != nil {
				return nil, err
			}
		}
	}
	return net, nil
}
