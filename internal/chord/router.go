package chord

import (
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

// Route is a found path together with its concrete hops.
type Route struct {
	Path Path       `json:"path"`
	Hops []ring.Key `json:"hops"`
}

type routeKey struct {
	src, dst ring.Key
}

// Router answers route queries over converged tables.
type Router struct {
	g       Graph
	tables  []*NodeFingers
	indexes []*ChainIndex[SemiChain]
	sorted  []ring.Key
	cache   *lru.Cache[routeKey, Route]
	logger  *pkg.Logger
}

// NewRouter indexes the tables of every node. A cacheSize of zero disables
// route caching.
func NewRouter(g Graph, tables []*NodeFingers, cacheSize int, logger *pkg.Logger) (*Router, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	indexes, err := BuildIndexedChains(g, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to index chains: %w", err)
	}

	sorted := make([]ring.Key, g.NodeCount())
	for i := range sorted {
		sorted[i] = g.IndexToKey(i)
	}
	slices.Sort(sorted)

	r := &Router{
		g:       g,
		tables:  tables,
		indexes: indexes,
		sorted:  sorted,
		logger:  logger.WithComponent("router"),
	}
	if cacheSize > 0 {
		r.cache, err = lru.New[routeKey, Route](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create route cache: %w", err)
		}
	}
	return r, nil
}

// Route finds the path from src to dst. It returns ErrUnknownKey when
// either key has no node and ErrNoPath when greedy routing gets stuck.
func (r *Router) Route(src, dst ring.Key) (Route, error) {
	key := routeKey{src: src, dst: dst}
	if r.cache != nil {
		if route, ok := r.cache.Get(key); ok {
			routeCached.Inc()
			return route, nil
		}
	}

	for _, k := range []ring.Key{src, dst} {
		if _, ok := r.g.KeyToIndex(k); !ok {
			return Route{}, fmt.Errorf("%s: %w", k, pkg.ErrUnknownKey)
		}
	}

	path, ok := FindPath(src, dst, r.g, r.indexes)
	if !ok {
		routeMissing.Inc()
		r.logger.Debug().Stringer("src", src).Stringer("dst", dst).Msg("No path found")
		return Route{}, fmt.Errorf("%s to %s: %w", src, dst, pkg.ErrNoPath)
	}
	hops, err := ExpandHops(r.g, path)
	if err != nil {
		return Route{}, err
	}
	routeFound.Inc()

	route := Route{Path: path, Hops: hops}
	if r.cache != nil {
		r.cache.Add(key, route)
	}
	return route, nil
}

// Owner returns the node responsible for key: the first node key at or
// after it on the ring.
func (r *Router) Owner(key ring.Key) ring.Key {
	return closestAtOrAfter(r.sorted, key)
}

// Lookup routes from src to the owner of key.
func (r *Router) Lookup(src, key ring.Key) (ring.Key, Route, error) {
	owner := r.Owner(key)
	route, err := r.Route(src, owner)
	return owner, route, err
}

// Graph returns the graph the router works on.
func (r *Router) Graph() Graph {
	return r.g
}

// Table returns the fingers of the node owning key.
func (r *Router) Table(key ring.Key) (*NodeFingers, error) {
	i, ok := r.g.KeyToIndex(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, pkg.ErrUnknownKey)
	}
	return r.tables[i], nil
}
