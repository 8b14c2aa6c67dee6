package chord

import (
	"fmt"

	"github.com/zde37/vdht/pkg/ring"
)

// SemiChain says "I can reach FinalID in Length hops".
type SemiChain struct {
	FinalID ring.Key
	Length  int
}

// Extend returns the chain as seen from a node extra hops further away.
func (s SemiChain) Extend(extra int) SemiChain {
	return SemiChain{FinalID: s.FinalID, Length: s.Length + extra}
}

func (s SemiChain) String() string {
	return fmt.Sprintf("%s/%d", s.FinalID, s.Length)
}

// Finger is a routing table slot: the best known chain towards TargetID.
type Finger struct {
	TargetID ring.Key
	Chain    SemiChain
}

// Side tells from which direction a finger approaches its target.
type Side int

const (
	// SideLeft fingers approach their target counter-clockwise: the best
	// chain ends at or before the target.
	SideLeft Side = iota
	// SideRight fingers approach their target clockwise: the best chain
	// ends at or after the target.
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "unknown"
	}
}

// Graph is the connectivity graph the protocol runs on. Nodes are dense
// indices 0..NodeCount()-1, each owning one ring key.
type Graph interface {
	NodeCount() int
	// Neighbors returns the neighbours of node i in ascending order.
	Neighbors(i int) []int
	IndexToKey(i int) ring.Key
	KeyToIndex(k ring.Key) (int, bool)
	Space() ring.Space
	IsConnected() bool
}
