package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

func layoutOf(version, groupSize uint32, targets ...uint32) *Layout {
	l := newLayout(version, groupSize, len(targets))
	for i, target := range targets {
		l.shards[i] = Shard{Index: uint32(i), Target: target}
	}
	return l
}

func TestLayoutAccessors(t *testing.T) {
	l := layoutOf(4, 2, 10, 11, 12, 13)
	l.shards[3].Remapped = true

	assert.Equal(t, 4, l.ShardCount())
	assert.Equal(t, uint32(2), l.GroupCount())
	assert.Equal(t, []Shard{{Index: 2, Target: 12}, {Index: 3, Target: 13, Remapped: true}}, l.Group(1))

	target, ok := l.TargetFor(1)
	assert.True(t, ok)
	assert.Equal(t, uint32(11), target)
	_, ok = l.TargetFor(4)
	assert.False(t, ok)

	assert.Equal(t, "v4 [10 11] [12 13*]", l.String())
}

func TestLayoutCloneIsIndependent(t *testing.T) {
	l := layoutOf(1, 3, 1, 2, 3)
	c := l.Clone()
	require.True(t, l.Equal(c))
	assert.Equal(t, l.Fingerprint(), c.Fingerprint())

	c.shards[0].Target = 9
	assert.False(t, l.Equal(c))
	assert.NotEqual(t, l.Fingerprint(), c.Fingerprint())
	assert.Equal(t, uint32(1), l.Shard(0).Target)

	shards := l.Shards()
	shards[1].Target = 7
	assert.Equal(t, uint32(2), l.Shard(1).Target)
}

func TestDiffAndApply(t *testing.T) {
	tests := []struct {
		name  string
		from  *Layout
		to    *Layout
		moves []Move
	}{
		{
			name:  "identical",
			from:  layoutOf(1, 2, 1, 2),
			to:    layoutOf(1, 2, 1, 2),
			moves: nil,
		},
		{
			name:  "one move",
			from:  layoutOf(1, 2, 1, 2, 3, 4),
			to:    layoutOf(2, 2, 1, 5, 3, 4),
			moves: []Move{{ShardIndex: 1, From: 2, To: 5}},
		},
		{
			name:  "grows",
			from:  layoutOf(1, 1, 1, 2),
			to:    layoutOf(2, 1, 1, 2, 3),
			moves: []Move{{ShardIndex: 2, From: NoTarget, To: 3}},
		},
		{
			name: "shrinks",
			from: layoutOf(1, 1, 1, 2, 3),
			to:   layoutOf(2, 1, 4, 2),
			moves: []Move{
				{ShardIndex: 0, From: 1, To: 4},
				{ShardIndex: 2, From: 3, To: NoTarget},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := diffLayouts(2, 0, tt.from, tt.to)
			assert.Equal(t, tt.moves, plan.Moves)

			out, err := plan.Apply(tt.from)
			require.NoError(t, err)
			assert.Equal(t, tt.to.Targets(), out.Targets())
			assert.Equal(t, uint32(2), out.PoolMapVersion())
		})
	}
}

func TestApplyRejectsStalePlans(t *testing.T) {
	l := layoutOf(1, 2, 1, 2)

	tests := []struct {
		name string
		move Move
	}{
		{"wrong source", Move{ShardIndex: 0, From: 7, To: 3}},
		{"out of range", Move{ShardIndex: 5, From: 1, To: 3}},
		{"gap", Move{ShardIndex: 3, From: NoTarget, To: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &MigrationPlan{Version: 2, Moves: []Move{tt.move}}
			_, err := plan.Apply(l)
			assert.ErrorIs(t, err, zerrors.ErrInvalidArgument)
		})
	}
}

func TestApplyClearsRemapFlags(t *testing.T) {
	l := layoutOf(2, 1, 8)
	l.shards[0].Remapped = true
	l.shards[0].FailSeq = 2

	out, err := (&MigrationPlan{Version: 3, Moves: []Move{{ShardIndex: 0, From: 8, To: 1}}}).Apply(l)
	require.NoError(t, err)
	assert.Equal(t, Shard{Index: 0, Target: 1}, out.Shard(0))
	assert.True(t, l.Shard(0).Remapped)
}
