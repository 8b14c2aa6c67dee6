package chord

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/vdht/internal/network"
	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

func newTestRouter(t *testing.T, cacheSize int) (*network.Network, *Router) {
	t.Helper()
	net := randomNetwork(t, 12, 1, 24, 9)
	router, err := NewRouter(net, convergedTables(t, net, 9), cacheSize, pkg.Nop())
	require.NoError(t, err)
	return net, router
}

func TestRouterRoute(t *testing.T) {
	net, router := newTestRouter(t, 0)
	src, dst := net.IndexToKey(0), net.IndexToKey(7)

	route, err := router.Route(src, dst)
	require.NoError(t, err)
	assert.Equal(t, src, route.Hops[0])
	assert.Equal(t, dst, route.Hops[len(route.Hops)-1])
	assert.LessOrEqual(t, len(route.Hops)-1, route.Path.Length)
	assert.Nil(t, router.cache)
}

func TestRouterCache(t *testing.T) {
	net, router := newTestRouter(t, 8)
	src, dst := net.IndexToKey(2), net.IndexToKey(5)

	first, err := router.Route(src, dst)
	require.NoError(t, err)

	before := testutil.ToFloat64(routeCached)
	second, err := router.Route(src, dst)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before+1, testutil.ToFloat64(routeCached))
	assert.Equal(t, 1, router.cache.Len())
}

func TestRouterErrors(t *testing.T) {
	net, router := newTestRouter(t, 4)
	missing := net.IndexToKey(0) + 1
	for _, k := range net.Keys() {
		require.NotEqual(t, missing, k)
	}

	tests := []struct {
		name     string
		src, dst ring.Key
	}{
		{name: "unknown source", src: missing, dst: net.IndexToKey(1)},
		{name: "unknown destination", src: net.IndexToKey(1), dst: missing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := router.Route(tt.src, tt.dst)
			assert.ErrorIs(t, err, pkg.ErrUnknownKey)
		})
	}

	_, err := NewRouter(net, nil, 0, pkg.Nop())
	assert.Error(t, err)
	_, err = NewRouter(net, InitialTables(net, 1), 0, nil)
	assert.Error(t, err)
}

func TestRouterNoPath(t *testing.T) {
	net, err := network.New(ring.MustSpace(8), []ring.Key{10, 20, 30})
	require.NoError(t, err)
	require.NoError(t, net.Connect(0, 1))
	require.NoError(t, net.Connect(1, 2))

	router, err := NewRouter(net, InitialTables(net, 1), 0, pkg.Nop())
	require.NoError(t, err)

	_, err = router.Route(30, 10)
	assert.ErrorIs(t, err, pkg.ErrNoPath)
}

func TestRouterTable(t *testing.T) {
	net, router := newTestRouter(t, 0)

	nf, err := router.Table(net.IndexToKey(4))
	require.NoError(t, err)
	assert.Equal(t, net.IndexToKey(4), nf.ID())

	_, err = router.Table(net.IndexToKey(4) + 1)
	assert.ErrorIs(t, err, pkg.ErrUnknownKey)
	assert.Same(t, Graph(net), router.Graph())
}

func TestRouterOwner(t *testing.T) {
	net, err := network.New(ring.MustSpace(8), []ring.Key{200, 10, 90})
	require.NoError(t, err)
	require.NoError(t, net.Connect(0, 1))
	require.NoError(t, net.Connect(1, 2))
	router, err := NewRouter(net, convergedTables(t, net, 1), 0, pkg.Nop())
	require.NoError(t, err)

	tests := []struct {
		key  ring.Key
		want ring.Key
	}{
		{key: 10, want: 10},
		{key: 11, want: 90},
		{key: 90, want: 90},
		{key: 150, want: 200},
		{key: 201, want: 10},
		{key: 0, want: 10},
	}
	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, router.Owner(tt.key))
		})
	}

	owner, route, err := router.Lookup(200, 50)
	require.NoError(t, err)
	assert.Equal(t, ring.Key(90), owner)
	assert.Equal(t, []ring.Key{200, 10, 90}, route.Hops)
}
