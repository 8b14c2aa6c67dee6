package chord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/vdht/pkg"
	"github.com/zde37/vdht/pkg/ring"
)

func finalsOf(tables []*NodeFingers) map[ring.Key][]ring.Key {
	out := make(map[ring.Key][]ring.Key, len(tables))
	for _, nf := range tables {
		var keys []ring.Key
		for _, side := range []Side{SideLeft, SideRight} {
			for _, f := range nf.Fingers(side) {
				keys = append(keys, f.Chain.FinalID)
			}
		}
		out[nf.ID()] = keys
	}
	return out
}

func TestRuntimeMatchesBatch(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		degree int
	}{
		{name: "single node", n: 1, degree: 0},
		{name: "tree", n: 16, degree: 0},
		{name: "sparse", n: 24, degree: 1},
		{name: "dense", n: 32, degree: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := randomNetwork(t, tt.n, tt.degree, 32, 21)
			batch := convergedTables(t, net, 21)

			tables := InitialTables(net, 21)
			rt, err := NewRuntime(net, tables, &Config{Seed: 21}, pkg.Nop())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			stats, err := rt.Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, stats, rt.Stats())

			require.NoError(t, CheckGlobalOptimality(net, tables))
			assert.Equal(t, finalsOf(batch), finalsOf(tables))
			assert.Equal(t, tableSnapshot(batch), tableSnapshot(tables))
		})
	}
}

func TestRuntimeBroadcasts(t *testing.T) {
	net := randomNetwork(t, 10, 1, 24, 2)
	rt, err := NewRuntime(net, InitialTables(net, 2), &Config{}, pkg.Nop())
	require.NoError(t, err)

	rec := &recordingBroadcaster{}
	rt.SetBroadcaster(rec)
	stats, err := rt.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, rec.events, int(stats.Improvements)+1)
	assert.Equal(t, ModeActor, rec.events[len(rec.events)-1].Mode)
}

func TestRuntimeCancelled(t *testing.T) {
	net := randomNetwork(t, 40, 2, 32, 3)
	rt, err := NewRuntime(net, InitialTables(net, 3), &Config{}, pkg.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = rt.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMailbox(t *testing.T) {
	mb := newMailbox()
	mb.put(message{to: 1})
	mb.put(message{to: 2})

	select {
	case <-mb.notify:
	default:
		t.Fatal("expected a notification")
	}
	items := mb.drain()
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].to)
	assert.Equal(t, 2, items[1].to)
	assert.Empty(t, mb.drain())
}
