package chord

import (
	"fmt"
	"slices"

	"github.com/zde37/vdht/pkg/ring"
)

// FingerMismatchError reports the first finger that does not end at the
// globally closest node key.
type FingerMismatchError struct {
	Node   ring.Key
	Side   Side
	Target ring.Key
	Got    ring.Key
	Want   ring.Key
}

func (e *FingerMismatchError) Error() string {
	return fmt.Sprintf("node %s: %s finger for %s ends at %s, closest key is %s",
		e.Node, e.Side, e.Target, e.Got, e.Want)
}

// CheckGlobalOptimality compares every finger against ground truth taken
// from the sorted list of all node keys. Right fingers must end at the
// closest key at or after their target, left fingers at the closest key at
// or before it.
func CheckGlobalOptimality(g Graph, tables []*NodeFingers) error {
	if len(tables) != g.NodeCount() {
		return fmt.Errorf("got %d tables for %d nodes", len(tables), g.NodeCount())
	}

	keys := make([]ring.Key, g.NodeCount())
	for i := range keys {
		keys[i] = g.IndexToKey(i)
	}
	slices.Sort(keys)

	for _, nf := range tables {
		for _, f := range nf.right {
			if want := closestAtOrAfter(keys, f.TargetID); f.Chain.FinalID != want {
				return &FingerMismatchError{Node: nf.id, Side: SideRight, Target: f.TargetID, Got: f.Chain.FinalID, Want: want}
			}
		}
		for _, f := range nf.left {
			if want := closestAtOrBefore(keys, f.TargetID); f.Chain.FinalID != want {
				return &FingerMismatchError{Node: nf.id, Side: SideLeft, Target: f.TargetID, Got: f.Chain.FinalID, Want: want}
			}
		}
	}
	return nil
}

// IsGloballyOptimal reports whether CheckGlobalOptimality passes.
func IsGloballyOptimal(g Graph, tables []*NodeFingers) bool {
	return CheckGlobalOptimality(g, tables) == nil
}

func closestAtOrAfter(sorted []ring.Key, t ring.Key) ring.Key {
	i, _ := slices.BinarySearch(sorted, t)
	return sorted[i%len(sorted)]
}

func closestAtOrBefore(sorted []ring.Key, t ring.Key) ring.Key {
	i, found := slices.BinarySearch(sorted, t)
	if found {
		return sorted[i]
	}
	return sorted[(i+len(sorted)-1)%len(sorted)]
}
