package chord

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/vdht/pkg/ring"
)

var space7 = ring.MustSpace(7)

func rightFixture() *NodeFingers {
	return RestoreFingers(space7, 100, nil, []Finger{
		{TargetID: 11, Chain: SemiChain{14, 5}},
		{TargetID: 12, Chain: SemiChain{14, 5}},
		{TargetID: 15, Chain: SemiChain{17, 4}},
		{TargetID: 18, Chain: SemiChain{14, 5}},
	})
}

func leftFixture() *NodeFingers {
	return RestoreFingers(space7, 100, []Finger{
		{TargetID: 5, Chain: SemiChain{21, 5}},
		{TargetID: 11, Chain: SemiChain{9, 5}},
		{TargetID: 12, Chain: SemiChain{9, 5}},
		{TargetID: 15, Chain: SemiChain{13, 4}},
		{TargetID: 18, Chain: SemiChain{16, 3}},
	}, nil)
}

func chainOf(t *testing.T, nf *NodeFingers, side Side, target ring.Key) SemiChain {
	t.Helper()
	f, ok := nf.Finger(side, target)
	require.True(t, ok, "no %s finger for %s", side, target)
	return f.Chain
}

func TestRightFingersUpdate(t *testing.T) {
	tests := []struct {
		name    string
		chain   SemiChain
		changed bool
		targets []ring.Key
	}{
		{name: "one changed", chain: SemiChain{11, 4}, changed: true, targets: []ring.Key{11}},
		{name: "unchanged", chain: SemiChain{17, 4}, changed: false},
		{name: "change both", chain: SemiChain{13, 4}, changed: true, targets: []ring.Key{11, 12}},
		{name: "change cyclic", chain: SemiChain{2, 4}, changed: true, targets: []ring.Key{18}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nf := rightFixture()
			evicted := nf.Update(tt.chain)
			assert.Equal(t, tt.changed, len(evicted) > 0)
			for _, target := range tt.targets {
				assert.Equal(t, tt.chain, chainOf(t, nf, SideRight, target))
			}
			assert.Equal(t, SemiChain{17, 4}, chainOf(t, nf, SideRight, 15))
		})
	}
}

func TestLeftFingersUpdate(t *testing.T) {
	tests := []struct {
		name    string
		chain   SemiChain
		changed bool
		targets []ring.Key
	}{
		{name: "one changed", chain: SemiChain{12, 4}, changed: true, targets: []ring.Key{12}},
		{name: "unchanged", chain: SemiChain{8, 4}, changed: false},
		{name: "change both", chain: SemiChain{10, 4}, changed: true, targets: []ring.Key{11, 12}},
		{name: "change cyclic", chain: SemiChain{29, 4}, changed: true, targets: []ring.Key{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nf := leftFixture()
			evicted := nf.Update(tt.chain)
			assert.Equal(t, tt.changed, len(evicted) > 0)
			for _, target := range tt.targets {
				assert.Equal(t, tt.chain, chainOf(t, nf, SideLeft, target))
			}
			assert.Equal(t, SemiChain{13, 4}, chainOf(t, nf, SideLeft, 15))
		})
	}
}

func TestUpdateReturnsEvicted(t *testing.T) {
	nf := leftFixture()
	evicted := nf.Update(SemiChain{10, 4})
	assert.Equal(t, []SemiChain{{9, 5}, {9, 5}}, evicted)
}

func TestNodeFingersBasic(t *testing.T) {
	nf := NewNodeFingers(space7, 6, []ring.Key{1, 3, 7, 11, 54}, []ring.Key{5})

	assert.NotEmpty(t, nf.Update(SemiChain{3, 4}))
	assert.NotEmpty(t, nf.Update(SemiChain{5, 4}))
	assert.Empty(t, nf.Update(SemiChain{6, 4}))

	chains := nf.Chains()
	assert.Contains(t, chains, SemiChain{3, 4})
	assert.Contains(t, chains, SemiChain{5, 4})
	assert.Contains(t, chains, SemiChain{6, 0})
	assert.IsIncreasing(t, finals(chains))
}

func finals(chains []SemiChain) []ring.Key {
	out := make([]ring.Key, len(chains))
	for i, c := range chains {
		out[i] = c.FinalID
	}
	return out
}

func TestNewNodeFingersDedupes(t *testing.T) {
	nf := NewNodeFingers(space7, 6, []ring.Key{5}, []ring.Key{9, 1, 9, 4})

	right := nf.Fingers(SideRight)
	require.Len(t, right, 3)
	assert.Equal(t, ring.Key(1), right[0].TargetID)
	assert.Equal(t, ring.Key(9), right[2].TargetID)
	for _, f := range right {
		assert.Equal(t, SemiChain{FinalID: 6}, f.Chain)
	}

	_, ok := nf.Finger(SideLeft, 4)
	assert.False(t, ok)
}

func TestUpdateMonotonic(t *testing.T) {
	space := ring.MustSpace(16)
	rng := rand.New(rand.NewSource(3))

	for round := 0; round < 20; round++ {
		id := ring.Key(rng.Intn(1 << 16))
		var left, right []ring.Key
		for i := 0; i < 8; i++ {
			left = append(left, space.Mod(rng.Uint64()))
			right = append(right, space.Mod(rng.Uint64()))
		}
		nf := NewNodeFingers(space, id, left, right)

		for step := 0; step < 200; step++ {
			before := map[Side][]Finger{SideLeft: nf.Fingers(SideLeft), SideRight: nf.Fingers(SideRight)}
			sc := SemiChain{FinalID: space.Mod(rng.Uint64()), Length: rng.Intn(10)}
			evicted := nf.Update(sc)

			changed := 0
			for _, side := range []Side{SideLeft, SideRight} {
				after := nf.Fingers(side)
				for i, f := range after {
					d0, l0 := nf.Score(side, before[side][i])
					d1, l1 := nf.Score(side, f)
					require.False(t, lessScore(d0, l0, d1, l1), "finger %s regressed", f.TargetID)
					if f.Chain != before[side][i].Chain {
						changed++
						assert.Equal(t, sc, f.Chain)
					}
				}
			}
			assert.Equal(t, changed, len(evicted))
		}
	}
}

// A single update must leave every slot as good as a full scan would.
func TestUpdateMatchesFullScan(t *testing.T) {
	space := ring.MustSpace(12)
	rng := rand.New(rand.NewSource(11))

	var targets []ring.Key
	for i := 0; i < 30; i++ {
		targets = append(targets, space.Mod(rng.Uint64()))
	}
	nf := NewNodeFingers(space, 77, targets, targets)

	for step := 0; step < 500; step++ {
		sc := SemiChain{FinalID: space.Mod(rng.Uint64()), Length: 1 + rng.Intn(6)}

		want := nf.Clone()
		for _, side := range []Side{SideLeft, SideRight} {
			fingers := want.left
			better := want.leftBetter
			if side == SideRight {
				fingers = want.right
				better = want.rightBetter
			}
			for i := range fingers {
				if better(fingers[i], sc) {
					fingers[i].Chain = sc
				}
			}
		}

		nf.Update(sc)
		require.Equal(t, want.Fingers(SideLeft), nf.Fingers(SideLeft))
		require.Equal(t, want.Fingers(SideRight), nf.Fingers(SideRight))
	}
}
