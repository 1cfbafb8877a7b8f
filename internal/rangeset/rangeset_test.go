package rangeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeBlocksCollapsesAdjacentAndOverlapping(t *testing.T) {
	in := []Range{
		{From: 100, To: 120},
		{From: 121, To: 130}, // adjacent, must merge
		{From: 200, To: 210},
		{From: 205, To: 220}, // overlapping, must merge
	}
	out := MergeBlocks(in)
	require.Equal(t, []Range{{From: 100, To: 130}, {From: 200, To: 220}}, out)
}

func TestMergeDatesOnlyMergesTouching(t *testing.T) {
	in := []Range{
		{From: 0, To: 10},
		{From: 11, To: 20}, // not touching on the date axis (gap of 1)
		{From: 20, To: 30}, // touches the second range
	}
	out := MergeDates(in)
	require.Equal(t, []Range{{From: 0, To: 10}, {From: 11, To: 30}}, out)
}

func TestExcludeSatisfiesSetDifference(t *testing.T) {
	a := []Range{{From: 0, To: 100}}
	b := []Range{{From: 20, To: 30}, {From: 60, To: 70}}
	out := ExcludeBlocks(a, b)
	require.Equal(t, []Range{{From: 0, To: 19}, {From: 31, To: 59}, {From: 71, To: 100}}, out)

	for v := int64(0); v <= 100; v++ {
		wantInA := Contains(a, v)
		wantInB := Contains(b, v)
		gotInResult := Contains(out, v)
		assert.Equal(t, wantInA && !wantInB, gotInResult, "v=%d", v)
	}
}

func TestExcludeSelfIsEmpty(t *testing.T) {
	a := []Range{{From: 10, To: 20}, {From: 30, To: 40}}
	out := ExcludeBlocks(MergeBlocks(a), MergeBlocks(a))
	require.Empty(t, out)
}

func TestSplitToMaxLengthCoversInputWithinBound(t *testing.T) {
	in := []Range{{From: 900, To: 1000}}
	out := SplitBlocksToMaxLength(in, 40)
	for _, r := range out {
		require.LessOrEqual(t, r.Length(Numeric), int64(40))
	}
	// union equals input
	for v := int64(900); v <= 1000; v++ {
		assert.True(t, Contains(out, v))
	}
	for _, r := range out {
		for v := r.From; v <= r.To; v++ {
			assert.True(t, Contains(in, v))
		}
	}
}

func TestSplitToMaxLengthProducesContiguousChain(t *testing.T) {
	// Chunking anchors to the upper end: the chunk touching To is full-length
	// and the remainder falls at the From end (spec §8 scenario 2).
	out := SplitBlocksToMaxLength([]Range{{From: 1, To: 95}}, 40)
	require.Equal(t, []Range{{From: 1, To: 15}, {From: 16, To: 55}, {From: 56, To: 95}}, out)
}

func TestSplitToMaxLengthAnchorsChunkToUpperEnd(t *testing.T) {
	// spec §8 scenario 2: gap [951,995] split to 40 yields a full 40-block
	// chunk ending at 995 and a 5-block remainder at the bottom.
	out := SplitBlocksToMaxLength([]Range{{From: 951, To: 995}}, 40)
	require.Equal(t, []Range{{From: 951, To: 955}, {From: 956, To: 995}}, out)
}

func TestContains(t *testing.T) {
	rs := []Range{{From: 10, To: 20}, {From: 30, To: 40}}
	assert.True(t, Contains(rs, 10))
	assert.True(t, Contains(rs, 20))
	assert.True(t, Contains(rs, 35))
	assert.False(t, Contains(rs, 25))
	assert.False(t, Contains(rs, 9))
}

func TestSortByFromIsStable(t *testing.T) {
	in := []Range{{From: 5, To: 6}, {From: 1, To: 2}, {From: 1, To: 9}}
	out := SortByFrom(in)
	require.Equal(t, int64(1), out[0].From)
	require.Equal(t, int64(2), out[0].To) // original first among ties retained first
	require.Equal(t, int64(1), out[1].From)
	require.Equal(t, int64(9), out[1].To)
}
