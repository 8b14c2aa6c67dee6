package chord

import (
	"fmt"
	"slices"

	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

// Path is a greedy route between two keys. Waypoints are the chain
// endpoints visited, source first and destination last. Length is the sum
// of the chain lengths between them.
type Path struct {
	Length    int        `json:"length"`
	Waypoints []ring.Key `json:"waypoints"`
}

// BuildIndexedChains indexes, for every node, the chains of its fingers
// plus the empty chain to itself and one-hop chains to its neighbours.
func BuildIndexedChains(g Graph, tables []*NodeFingers) ([]*ChainIndex[SemiChain], error) {
	if len(tables) != g.NodeCount() {
		return nil, fmt.Errorf("got %d tables for %d nodes", len(tables), g.NodeCount())
	}

	indexes := make([]*ChainIndex[SemiChain], len(tables))
	for i, nf := range tables {
		set := NewChainSet[SemiChain]()
		for _, c := range nf.Chains() {
			if err := set.Insert(c); err != nil {
				return nil, err
			}
		}
		if err := set.Insert(SemiChain{FinalID: g.IndexToKey(i)}); err != nil {
			return nil, err
		}
		for _, v := range g.Neighbors(i) {
			if err := set.Insert(SemiChain{FinalID: g.IndexToKey(v), Length: 1}); err != nil {
				return nil, err
			}
		}

		idx, err := set.Index()
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", g.IndexToKey(i), err)
		}
		indexes[i] = idx
	}
	return indexes, nil
}

// FindPath walks from src towards dst, at every waypoint taking the known
// chain that ends closest to dst without passing it. Every waypoint is
// strictly closer to dst clockwise than the one before, so a sound walk
// visits at most every node once. It gives up when a node knows nothing
// closer than itself or the walk needs more waypoints than there are nodes.
// Length is the sum of the chain lengths and may exceed the node count on
// sparse graphs; ExpandHops gives the route as a simple path.
func FindPath(src, dst ring.Key, g Graph, indexes []*ChainIndex[SemiChain]) (Path, bool) {
	if _, ok := g.KeyToIndex(src); !ok {
		return Path{}, false
	}
	if _, ok := g.KeyToIndex(dst); !ok {
		return Path{}, false
	}

	path := Path{Waypoints: []ring.Key{src}}
	for cur := src; cur != dst; {
		i, ok := g.KeyToIndex(cur)
		if !ok {
			return Path{}, false
		}
		sc := indexes[i].FindClosestLeft(dst)
		if sc.FinalID == cur {
			return Path{}, false
		}
		if len(path.Waypoints) == g.NodeCount() {
			return Path{}, false
		}
		path.Length += sc.Length
		path.Waypoints = append(path.Waypoints, sc.FinalID)
		cur = sc.FinalID
	}
	return path, true
}

// ExpandHops turns the waypoints of a path into a hop-by-hop list of node
// keys where every two consecutive keys share a link. Each segment is a
// shortest path and loops where segments cross are cut, so the list never
// visits a node twice and is never longer than the path.
func ExpandHops(g Graph, path Path) ([]ring.Key, error) {
	if len(path.Waypoints) == 0 {
		return nil, nil
	}

	hops := []ring.Key{path.Waypoints[0]}
	for i := 1; i < len(path.Waypoints); i++ {
		segment, err := shortestPath(g, path.Waypoints[i-1], path.Waypoints[i])
		if err != nil {
			return nil, err
		}
		hops = append(hops, segment[1:]...)
	}
	return cutLoops(hops), nil
}

// cutLoops drops every detour that leaves a node and comes back to it.
func cutLoops(hops []ring.Key) []ring.Key {
	at := make(map[ring.Key]int, len(hops))
	out := hops[:0]
	for _, k := range hops {
		if i, ok := at[k]; ok {
			for _, dropped := range out[i+1:] {
				delete(at, dropped)
			}
			out = out[:i+1]
			continue
		}
		at[k] = len(out)
		out = append(out, k)
	}
	return out
}

func shortestPath(g Graph, from, to ring.Key) ([]ring.Key, error) {
	src, ok := g.KeyToIndex(from)
	if !ok {
		return nil, fmt.Errorf("%s: %w", from, pkg.ErrUnknownKey)
	}
	dst, ok := g.KeyToIndex(to)
	if !ok {
		return nil, fmt.Errorf("%s: %w", to, pkg.ErrUnknownKey)
	}

	parent := make([]int, g.NodeCount())
	for i := range parent {
		parent[i] = -1
	}
	parent[src] = src
	queue := []int{src}
	for len(queue) > 0 && parent[dst] < 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range g.Neighbors(u) {
			if parent[v] < 0 {
				parent[v] = u
				queue = append(queue, v)
			}
		}
	}
	if parent[dst] < 0 {
		return nil, fmt.Errorf("%s to %s: %w", from, to, pkg.ErrNotConnected)
	}

	var rev []ring.Key
	for v := dst; v != src; v = parent[v] {
		rev = append(rev, g.IndexToKey(v))
	}
	rev = append(rev, from)
	slices.Reverse(rev)
	return rev, nil
}
