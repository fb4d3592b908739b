package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepartitionByRange(t *testing.T) {
	groups := []FileGroup{{
		NewPartitionedFile("a.parquet", 100),
		NewPartitionedFile("b.parquet", 50),
	}}

	out, ok := RepartitionByRange(groups, 3, 10)
	require.True(t, ok)
	require.Len(t, out, 3)

	// every byte is covered exactly once
	covered := map[string]int64{}
	for _, g := range out {
		assert.Equal(t, int64(50), g.TotalSize())
		for _, f := range g {
			require.NotNil(t, f.Range)
			covered[f.Location] += f.Range.End - f.Range.Start
		}
	}
	assert.Equal(t, map[string]int64{"a.parquet": 100, "b.parquet": 50}, covered)

	assert.Equal(t, FileRange{Start: 0, End: 50}, *out[0][0].Range)
	assert.Equal(t, FileRange{Start: 50, End: 100}, *out[1][0].Range)
	assert.Equal(t, "b.parquet", out[2][0].Location)
}

func TestRepartitionByRangeNotApplicable(t *testing.T) {
	groups := []FileGroup{{NewPartitionedFile("a.parquet", 100)}}

	_, ok := RepartitionByRange(groups, 1, 0)
	assert.False(t, ok, "single target partition")

	_, ok = RepartitionByRange(groups, 4, 1000)
	assert.False(t, ok, "below minimum size")

	ranged := groups[0][0]
	ranged.Range = &FileRange{Start: 0, End: 10}
	_, ok = RepartitionByRange([]FileGroup{{ranged}}, 4, 0)
	assert.False(t, ok, "already ranged")
}

func TestRepartitionWholeFiles(t *testing.T) {
	groups := []FileGroup{{
		NewPartitionedFile("small.fgb", 10),
		NewPartitionedFile("large.fgb", 100),
		NewPartitionedFile("medium.fgb", 60),
		NewPartitionedFile("medium2.fgb", 50),
	}}

	out, ok := RepartitionWholeFiles(groups, 2)
	require.True(t, ok)
	require.Len(t, out, 2)

	for _, g := range out {
		for _, f := range g {
			assert.Nil(t, f.Range)
		}
	}
	assert.Equal(t, []string{"large.fgb", "small.fgb"}, locations(out[0]))
	assert.Equal(t, []string{"medium.fgb", "medium2.fgb"}, locations(out[1]))

	out, ok = RepartitionWholeFiles(groups, 16)
	require.True(t, ok)
	assert.Len(t, out, 4)

	_, ok = RepartitionWholeFiles([]FileGroup{{NewPartitionedFile("one.fgb", 1)}}, 4)
	assert.False(t, ok)
}

func locations(g FileGroup) []string {
	out := make([]string, len(g))
	for i, f := range g {
		out[i] = f.Location
	}
	return out
}
