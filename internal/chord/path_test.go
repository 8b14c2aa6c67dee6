package chord

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/vdht/internal/network"
	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

func hasEdge(g Graph, a, b ring.Key) bool {
	i, _ := g.KeyToIndex(a)
	j, _ := g.KeyToIndex(b)
	for _, v := range g.Neighbors(i) {
		if v == j {
			return true
		}
	}
	return false
}

func assertSoundPaths(t *testing.T, g Graph, tables []*NodeFingers) {
	t.Helper()
	indexes, err := BuildIndexedChains(g, tables)
	require.NoError(t, err)

	n := g.NodeCount()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			src, dst := g.IndexToKey(i), g.IndexToKey(j)
			path, ok := FindPath(src, dst, g, indexes)
			require.True(t, ok, "no path from %s to %s", src, dst)
			require.Equal(t, src, path.Waypoints[0])
			require.Equal(t, dst, path.Waypoints[len(path.Waypoints)-1])
			require.LessOrEqual(t, len(path.Waypoints), n)

			hops, err := ExpandHops(g, path)
			require.NoError(t, err)
			require.Equal(t, src, hops[0])
			require.Equal(t, dst, hops[len(hops)-1])
			require.LessOrEqual(t, len(hops)-1, path.Length)
			require.LessOrEqual(t, len(hops), n)
			seen := make(map[ring.Key]bool, len(hops))
			for k, h := range hops {
				require.False(t, seen[h], "%s visited twice", h)
				seen[h] = true
				if k > 0 {
					require.True(t, hasEdge(g, hops[k-1], h), "%s-%s is not a link", hops[k-1], h)
				}
			}
		}
	}
}

func TestFindPathRandomNetworks(t *testing.T) {
	for _, n := range []int{2, 8, 20, 32} {
		for _, degree := range []int{0, 1, 3} {
			t.Run(fmt.Sprintf("n=%d/degree=%d", n, degree), func(t *testing.T) {
				net := randomNetwork(t, n, degree, 32, uint64(n*10+degree))
				assertSoundPaths(t, net, convergedTables(t, net, 1))
			})
		}
	}
}

func TestFindPathSparseNetworks(t *testing.T) {
	// Greedy chains on trees often add up to more hops than there are nodes.
	for _, bits := range []int{8, 16} {
		for n := 2; n <= 14; n++ {
			for _, degree := range []int{0, 1} {
				for seed := uint64(0); seed < 15; seed++ {
					name := fmt.Sprintf("bits=%d/n=%d/degree=%d/seed=%d", bits, n, degree, seed)
					t.Run(name, func(t *testing.T) {
						net := randomNetwork(t, n, degree, bits, seed)
						assertSoundPaths(t, net, convergedTables(t, net, seed))
					})
				}
			}
		}
	}
}

func TestCutLoops(t *testing.T) {
	tests := []struct {
		name string
		hops []ring.Key
		want []ring.Key
	}{
		{name: "simple", hops: []ring.Key{1, 2, 3}, want: []ring.Key{1, 2, 3}},
		{name: "back and forth", hops: []ring.Key{1, 2, 3, 2, 4}, want: []ring.Key{1, 2, 4}},
		{name: "through source", hops: []ring.Key{1, 2, 1, 3}, want: []ring.Key{1, 3}},
		{name: "nested", hops: []ring.Key{1, 2, 3, 4, 3, 2, 5}, want: []ring.Key{1, 2, 5}},
		{name: "dropped key seen again", hops: []ring.Key{1, 2, 3, 1, 3}, want: []ring.Key{1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cutLoops(tt.hops))
		})
	}
}

func TestFindPathCompleteNetwork(t *testing.T) {
	space := ring.MustSpace(16)
	keys, err := network.RandomKeys(space, 24, network.NewRand(17))
	require.NoError(t, err)
	net, err := network.Complete(space, keys)
	require.NoError(t, err)

	tables := convergedTables(t, net, 17)
	indexes, err := BuildIndexedChains(net, tables)
	require.NoError(t, err)

	for _, src := range keys {
		for _, dst := range keys {
			path, ok := FindPath(src, dst, net, indexes)
			require.True(t, ok)
			// Every chain in a complete network is a single link.
			for k := 1; k < len(path.Waypoints); k++ {
				assert.True(t, hasEdge(net, path.Waypoints[k-1], path.Waypoints[k]))
			}
			assert.Equal(t, len(path.Waypoints)-1, path.Length)
		}
	}
	assertSoundPaths(t, net, tables)
}

func TestFindPathSameNode(t *testing.T) {
	net := randomNetwork(t, 5, 1, 16, 2)
	indexes, err := BuildIndexedChains(net, convergedTables(t, net, 2))
	require.NoError(t, err)

	k := net.IndexToKey(3)
	path, ok := FindPath(k, k, net, indexes)
	require.True(t, ok)
	assert.Equal(t, Path{Waypoints: []ring.Key{k}}, path)

	hops, err := ExpandHops(net, path)
	require.NoError(t, err)
	assert.Equal(t, []ring.Key{k}, hops)
}

func TestFindPathUnknownKey(t *testing.T) {
	net, err := network.New(ring.MustSpace(8), []ring.Key{10, 20})
	require.NoError(t, err)
	require.NoError(t, net.Connect(0, 1))
	indexes, err := BuildIndexedChains(net, convergedTables(t, net, 1))
	require.NoError(t, err)

	_, ok := FindPath(10, 30, net, indexes)
	assert.False(t, ok)
	_, ok = FindPath(30, 10, net, indexes)
	assert.False(t, ok)
}

func TestFindPathDeadEnd(t *testing.T) {
	// Unconverged tables only know themselves and their neighbours.
	net, err := network.New(ring.MustSpace(8), []ring.Key{10, 20, 30})
	require.NoError(t, err)
	require.NoError(t, net.Connect(0, 1))
	require.NoError(t, net.Connect(1, 2))

	indexes, err := BuildIndexedChains(net, InitialTables(net, 1))
	require.NoError(t, err)

	// Walking backwards from 10, node 30 meets itself before its only neighbour.
	_, ok := FindPath(10, 30, net, indexes)
	assert.True(t, ok)
	_, ok = FindPath(30, 10, net, indexes)
	assert.False(t, ok)
}

func TestBuildIndexedChains(t *testing.T) {
	net := randomNetwork(t, 6, 1, 16, 3)
	tables := convergedTables(t, net, 3)

	indexes, err := BuildIndexedChains(net, tables)
	require.NoError(t, err)
	require.Len(t, indexes, 6)

	for i, idx := range indexes {
		self := net.IndexToKey(i)
		assert.Equal(t, SemiChain{FinalID: self}, idx.FindClosestLeft(self))
		for _, v := range net.Neighbors(i) {
			assert.Equal(t, SemiChain{net.IndexToKey(v), 1}, idx.FindClosestRight(net.IndexToKey(v)))
		}
	}

	_, err = BuildIndexedChains(net, tables[:2])
	assert.Error(t, err)
}

func TestExpandHopsErrors(t *testing.T) {
	net, err := network.New(ring.MustSpace(8), []ring.Key{10, 20, 30})
	require.NoError(t, err)
	require.NoError(t, net.Connect(0, 1))

	_, err = ExpandHops(net, Path{Length: 1, Waypoints: []ring.Key{10, 99}})
	assert.ErrorIs(t, err, pkg.ErrUnknownKey)

	_, err = ExpandHops(net, Path{Length: 1, Waypoints: []ring.Key{10, 30}})
	assert.ErrorIs(t, err, pkg.ErrNotConnected)

	hops, err := ExpandHops(net, Path{})
	assert.NoError(t, err)
	assert.Empty(t, hops)
}
