package chord

import (
	"cmp"
	"slices"

	"github.com/zde37/vdht/pkg/ring"
)

// NodeFingers is the routing table of one node. Left fingers approach their
// target counter-clockwise, right fingers clockwise. Both slices are sorted
// by target and their targets never change; only the chains improve.
type NodeFingers struct {
	id    ring.Key
	space ring.Space
	left  []Finger
	right []Finger
}

// NewNodeFingers creates a table for node id. Every finger starts out
// pointing at the node itself with a zero length chain.
func NewNodeFingers(space ring.Space, id ring.Key, leftTargets, rightTargets []ring.Key) *NodeFingers {
	return &NodeFingers{
		id:    id,
		space: space,
		left:  newFingers(id, leftTargets),
		right: newFingers(id, rightTargets),
	}
}

func newFingers(id ring.Key, targets []ring.Key) []Finger {
	sorted := slices.Clone(targets)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	fingers := make([]Finger, len(sorted))
	for i, t := range sorted {
		fingers[i] = Finger{TargetID: t, Chain: SemiChain{FinalID: id}}
	}
	return fingers
}

// ID returns the key of the owning node.
func (nf *NodeFingers) ID() ring.Key {
	return nf.id
}

// Fingers returns a copy of one side of the table, sorted by target.
func (nf *NodeFingers) Fingers(side Side) []Finger {
	if side == SideLeft {
		return slices.Clone(nf.left)
	}
	return slices.Clone(nf.right)
}

// Finger looks up the finger for an exact target.
func (nf *NodeFingers) Finger(side Side, target ring.Key) (Finger, bool) {
	fingers := nf.right
	if side == SideLeft {
		fingers = nf.left
	}
	i, found := slices.BinarySearchFunc(fingers, target, func(f Finger, t ring.Key) int {
		return cmp.Compare(f.TargetID, t)
	})
	if !found {
		return Finger{}, false
	}
	return fingers[i], true
}

// Update offers sc to both sides of the table and returns the chains it
// displaced, one per improved slot. An empty result means nothing changed.
func (nf *NodeFingers) Update(sc SemiChain) []SemiChain {
	evicted := nf.updateLeft(sc, nil)
	return nf.updateRight(sc, evicted)
}

// updateRight starts at the last finger whose target is at or before the
// chain's final key and walks counter-clockwise while sc keeps improving.
func (nf *NodeFingers) updateRight(sc SemiChain, evicted []SemiChain) []SemiChain {
	n := len(nf.right)
	if n == 0 {
		return evicted
	}
	i, found := nf.search(nf.right, sc.FinalID)
	if !found {
		i = (i + n - 1) % n
	}
	for nf.rightBetter(nf.right[i], sc) {
		evicted = append(evicted, nf.right[i].Chain)
		nf.right[i].Chain = sc
		i = (i + n - 1) % n
	}
	return evicted
}

// updateLeft starts at the first finger whose target is at or after the
// chain's final key and walks clockwise while sc keeps improving.
func (nf *NodeFingers) updateLeft(sc SemiChain, evicted []SemiChain) []SemiChain {
	n := len(nf.left)
	if n == 0 {
		return evicted
	}
	i, _ := nf.search(nf.left, sc.FinalID)
	i %= n
	for nf.leftBetter(nf.left[i], sc) {
		evicted = append(evicted, nf.left[i].Chain)
		nf.left[i].Chain = sc
		i = (i + 1) % n
	}
	return evicted
}

func (nf *NodeFingers) search(fingers []Finger, key ring.Key) (int, bool) {
	return slices.BinarySearchFunc(fingers, key, func(f Finger, k ring.Key) int {
		return cmp.Compare(f.TargetID, k)
	})
}

func (nf *NodeFingers) rightBetter(f Finger, sc SemiChain) bool {
	return lessScore(
		nf.space.Distance(f.TargetID, sc.FinalID), sc.Length,
		nf.space.Distance(f.TargetID, f.Chain.FinalID), f.Chain.Length,
	)
}

func (nf *NodeFingers) leftBetter(f Finger, sc SemiChain) bool {
	return lessScore(
		nf.space.Distance(sc.FinalID, f.TargetID), sc.Length,
		nf.space.Distance(f.Chain.FinalID, f.TargetID), f.Chain.Length,
	)
}

func lessScore(dist uint64, length int, curDist uint64, curLength int) bool {
	if dist != curDist {
		return dist < curDist
	}
	return length < curLength
}

// Score returns the (distance, length) pair a finger is ranked by.
func (nf *NodeFingers) Score(side Side, f Finger) (uint64, int) {
	if side == SideLeft {
		return nf.space.Distance(f.Chain.FinalID, f.TargetID), f.Chain.Length
	}
	return nf.space.Distance(f.TargetID, f.Chain.FinalID), f.Chain.Length
}

// Chains returns every distinct chain the table currently uses, sorted by
// final key and then length.
func (nf *NodeFingers) Chains() []SemiChain {
	chains := make([]SemiChain, 0, len(nf.left)+len(nf.right))
	for _, f := range nf.left {
		chains = append(chains, f.Chain)
	}
	for _, f := range nf.right {
		chains = append(chains, f.Chain)
	}
	slices.SortFunc(chains, compareSemiChains)
	return slices.Compact(chains)
}

func compareSemiChains(a, b SemiChain) int {
	return cmp.Or(cmp.Compare(a.FinalID, b.FinalID), cmp.Compare(a.Length, b.Length))
}

// Clone returns a deep copy of the table.
func (nf *NodeFingers) Clone() *NodeFingers {
	return &NodeFingers{
		id:    nf.id,
		space: nf.space,
		left:  slices.Clone(nf.left),
		right: slices.Clone(nf.right),
	}
}

// RestoreFingers rebuilds a table from previously exported fingers. The
// fingers are sorted by target; duplicates keep the first occurrence.
func RestoreFingers(space ring.Space, id ring.Key, left, right []Finger) *NodeFingers {
	restore := func(fs []Finger) []Finger {
		out := slices.Clone(fs)
		slices.SortStableFunc(out, func(a, b Finger) int { return cmp.Compare(a.TargetID, b.TargetID) })
		return slices.CompactFunc(out, func(a, b Finger) bool { return a.TargetID == b.TargetID })
	}
	return &NodeFingers{id: id, space: space, left: restore(left), right: restore(right)}
}
