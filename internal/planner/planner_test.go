package planner

import (
	"math/rand"
	"testing"

	"github.com/prevostc/beefy-bi/internal/rangeset"
	"github.com/stretchr/testify/require"
)

// spec §8 scenario 1.
func TestHistoricalBlockRangesEmptyStateSplitsNewestFirst(t *testing.T) {
	out := HistoricalBlockRanges(nil, nil, 900, 1000, 40, 0)

	require.Equal(t, []rangeset.Range{
		{From: 956, To: 995},
		{From: 916, To: 955},
		{From: 900, To: 915},
	}, out)
}

// spec §8 scenario 2.
func TestHistoricalBlockRangesCoveredPrefixLeavesGapSplitFromUpperEnd(t *testing.T) {
	covered := []rangeset.Range{{From: 900, To: 950}}
	out := HistoricalBlockRanges(covered, nil, 900, 1000, 40, 0)

	require.Equal(t, []rangeset.Range{
		{From: 956, To: 995},
		{From: 951, To: 955},
	}, out)
}

// spec §8 scenario 3.
func TestHistoricalBlockRangesRetryAppendedOldestFirstWhenPrimaryEmpty(t *testing.T) {
	// head=955 puts the upper bound (head-P) at 950, exactly the end of the
	// already-covered [900,950] prefix; [960,1000] lies beyond that bound
	// and so never enters the primary window at all.
	covered := []rangeset.Range{{From: 900, To: 950}, {From: 960, To: 1000}}
	toRetry := []rangeset.Range{{From: 910, To: 915}}
	out := HistoricalBlockRanges(covered, toRetry, 900, 955, 40, 0)

	require.Equal(t, []rangeset.Range{{From: 910, To: 915}}, out)
}

func TestHistoricalBlockRangesTruncatesToMaxRanges(t *testing.T) {
	out := HistoricalBlockRanges(nil, nil, 0, 10000, 40, 2)
	require.Len(t, out, 2)
}

// spec §8 invariant 4: planner output never includes a block > head-P.
func TestHistoricalBlockRangesNeverExceedsHeadMinusMargin(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		head := int64(r.Intn(100000) + 10)
		floor := int64(r.Intn(int(head)))
		maxLen := int64(r.Intn(500) + 1)
		out := HistoricalBlockRanges(nil, nil, floor, head, maxLen, 0)
		for _, rg := range out {
			require.LessOrEqual(t, rg.To, head-PropagationMargin)
		}
	}
}

// spec §8 invariant 5.
func TestHistoricalBlockRangesRespectsMaxRangesBound(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		head := int64(r.Intn(100000) + 10)
		maxLen := int64(r.Intn(50) + 1)
		maxRanges := r.Intn(10) + 1
		out := HistoricalBlockRanges(nil, nil, 0, head, maxLen, maxRanges)
		require.LessOrEqual(t, len(out), maxRanges)
	}
}

// spec §8 invariant 6: determinism given identical inputs.
func TestHistoricalBlockRangesIsDeterministic(t *testing.T) {
	covered := []rangeset.Range{{From: 10, To: 50}, {From: 80, To: 90}}
	toRetry := []rangeset.Range{{From: 60, To: 65}}
	a := HistoricalBlockRanges(covered, toRetry, 0, 1000, 30, 5)
	b := HistoricalBlockRanges(covered, toRetry, 0, 1000, 30, 5)
	require.Equal(t, a, b)
}

func TestLatestRangeCapsAtSmallestBound(t *testing.T) {
	r, ok := LatestRange(900, 1000, 40, 30, 0)
	require.True(t, ok)
	require.Equal(t, rangeset.Range{From: 965, To: 995}, r)
}

func TestLatestRangeClampsAtFloor(t *testing.T) {
	r, ok := LatestRange(0, 100, 1000, 1000, 50)
	require.True(t, ok)
	require.Equal(t, int64(50), r.From)
	require.Equal(t, int64(95), r.To)
}

func TestLatestRangeNoWorkWhenAlreadyCaughtUp(t *testing.T) {
	_, ok := LatestRange(1000, 1000, 40, 40, 0)
	require.False(t, ok)
}

func TestHistoricalDateRangesUsesDateGrainAdjacency(t *testing.T) {
	out := HistoricalDateRanges(nil, nil, 0, 100+PropagationMargin, 30, 0)
	require.Equal(t, []rangeset.Range{
		{From: 70, To: 100},
		{From: 40, To: 70},
		{From: 10, To: 40},
		{From: 0, To: 10},
	}, out)
}

func TestRegularIntervalRangesFiltersByParentCoveredAndExtrapolates(t *testing.T) {
	parentCovered := []rangeset.Range{{From: 0, To: 250}}
	samples := []TimestepSample{
		{Timestep: 0, Block: 0},
		{Timestep: 900000, Block: 100},
		{Timestep: 1800000, Block: 200},
		{Timestep: 2700000, Block: 300}, // outside parentCovered, dropped
	}

	out := RegularIntervalRanges(samples, 900000, parentCovered, nil, nil, 1000, 1000, 0)
	require.NotEmpty(t, out)
	for _, rg := range out {
		require.LessOrEqual(t, rg.To, int64(1000-PropagationMargin))
	}
}

func TestRegularIntervalRangesEmptyWhenNoSampleInParentCovered(t *testing.T) {
	parentCovered := []rangeset.Range{{From: 5000, To: 6000}}
	samples := []TimestepSample{{Timestep: 0, Block: 0}, {Timestep: 1, Block: 100}}
	out := RegularIntervalRanges(samples, 1, parentCovered, nil, nil, 1000, 1000, 0)
	require.Empty(t, out)
}
