// Package planner implements spec §4.5: a pure transformation from
// (importState, currentHead) to a prioritized list of ranges still needing
// an RPC query. It is built entirely on internal/rangeset's interval
// algebra and takes no I/O dependency of its own, which is what makes the
// byte-identical-output determinism property (spec §8 invariant 6) hold for
// free: same inputs in, same ranges out.
package planner

import (
	"sort"

	"github.com/prevostc/beefy-bi/internal/rangeset"
)

// PropagationMargin (P in spec §4.5) is the fixed safety margin kept
// between the planner's upper query bound and the chain head, to avoid
// querying blocks that might still be reorged away on the RPC node.
const PropagationMargin = 5

// LatestRange computes the recent-tail query window (spec §4.5
// "Latest-range"): the target size is capped by the chain's own query-size
// limit, by how many blocks arrive in an hour, and by how far behind
// lastImported actually is. floor clamps the lower bound at the contract's
// creation block, resolving the Open Question about latestBlockQuery
// underflowing past contractCreatedAtBlock.
//
// ok is false when head-lastImported-1 is negative (lastImported is at or
// past head) or when floor has overtaken the window. The window always
// ends at head-P and is not trimmed to start after lastImported, so it can
// overlap blocks that are already imported.
func LatestRange(lastImported, head, maxBlocksPerQuery, blocksIn1Hour, floor int64) (r rangeset.Range, ok bool) {
	target := min3(maxBlocksPerQuery, blocksIn1Hour, head-lastImported-1)
	if target < 0 {
		return rangeset.Range{}, false
	}

	to := head - PropagationMargin
	from := to - target
	if from < floor {
		from = floor
	}
	if from > to {
		return rangeset.Range{}, false
	}
	return rangeset.Range{From: from, To: to}, true
}

// HistoricalRanges implements spec §4.5's "Historical block ranges" /
// "Historical date ranges" algorithm, parameterized by grain so the same
// code serves both axes: start from [floor, head-P], subtract covered,
// split to maxLen, sort newest-first; append toRetry split and sorted
// oldest-first; truncate to maxRanges.
func HistoricalRanges(g rangeset.Grain, covered, toRetry []rangeset.Range, floor, head, maxLen int64, maxRanges int) []rangeset.Range {
	upper := head - PropagationMargin

	var primary []rangeset.Range
	if floor <= upper {
		primary = rangeset.Exclude(g, []rangeset.Range{{From: floor, To: upper}}, covered)
		primary = rangeset.SplitToMaxLength(g, primary, maxLen)
		primary = rangeset.SortByFromDesc(primary)
	}

	retry := rangeset.SplitToMaxLength(g, rangeset.Merge(g, toRetry), maxLen)
	retry = rangeset.SortByFrom(retry)

	return truncate(append(primary, retry...), maxRanges)
}

// HistoricalBlockRanges is HistoricalRanges fixed to the numeric (block)
// grain, for product investment and share-rate backfills.
func HistoricalBlockRanges(covered, toRetry []rangeset.Range, contractCreatedAtBlock, head, maxBlocksPerQuery int64, maxRanges int) []rangeset.Range {
	return HistoricalRanges(rangeset.Numeric, covered, toRetry, contractCreatedAtBlock, head, maxBlocksPerQuery, maxRanges)
}

// HistoricalDateRanges is HistoricalRanges fixed to the date grain, for
// oracle price backfills. head and firstDate are unix-ms timestamps;
// maxQueryRangeMs is BEEFY_PRICE_DATA_MAX_QUERY_RANGE_MS.
func HistoricalDateRanges(covered, toRetry []rangeset.Range, firstDate, head, maxQueryRangeMs int64, maxRanges int) []rangeset.Range {
	return HistoricalRanges(rangeset.Date, covered, toRetry, firstDate, head, maxQueryRangeMs, maxRanges)
}

func truncate(ranges []rangeset.Range, maxRanges int) []rangeset.Range {
	if maxRanges > 0 && len(ranges) > maxRanges {
		return ranges[:maxRanges]
	}
	return ranges
}

func min3(a, b, c int64) int64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// TimestepSample pairs a share-rate sampling timestep (unix ms) with the
// block number a precomputed block-list interpolated for it.
type TimestepSample struct {
	Timestep int64
	Block    int64
}

// trailingAverageWindow (N in spec §4.5) is how many of the most recent
// timestep->block deltas feed the extrapolation average.
const trailingAverageWindow = 40

// RegularIntervalRanges implements spec §4.5's "Regular-interval ranges"
// algorithm for share-rate (PPFS) sampling: restrict the precomputed
// timestep->block list to samples whose block already fell inside the
// parent product's covered ranges (no point sampling a share rate for
// blocks whose investment data hasn't landed yet), extrapolate further
// samples up to head using the trailing average block delta, turn the
// resulting block list into consecutive ranges, then run the same
// exclude/split/sort/truncate pipeline as HistoricalRanges with
// rangeMaxLength = min(avgBlocksPerTimestep, maxBlocksPerQuery).
func RegularIntervalRanges(
	samples []TimestepSample,
	timeStep int64,
	parentCovered []rangeset.Range,
	covered, toRetry []rangeset.Range,
	head, maxBlocksPerQuery int64,
	maxRanges int,
) []rangeset.Range {
	if len(samples) == 0 {
		return nil
	}

	sorted := make([]TimestepSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestep < sorted[j].Timestep })

	var kept []TimestepSample
	for _, s := range sorted {
		if rangeset.Contains(parentCovered, s.Block) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	upper := head - PropagationMargin
	avgDelta := averageBlockDelta(kept, trailingAverageWindow)
	kept = extrapolateToHead(kept, timeStep, avgDelta, upper)

	blockRanges := consecutiveRanges(kept, upper)

	rangeMaxLen := maxBlocksPerQuery
	if avgDelta > 0 && avgDelta < rangeMaxLen {
		rangeMaxLen = avgDelta
	}

	primary := rangeset.ExcludeBlocks(blockRanges, covered)
	primary = rangeset.SplitBlocksToMaxLength(primary, rangeMaxLen)
	primary = rangeset.SortByFromDesc(primary)

	retry := rangeset.SplitBlocksToMaxLength(rangeset.MergeBlocks(toRetry), rangeMaxLen)
	retry = rangeset.SortByFrom(retry)

	return truncate(append(primary, retry...), maxRanges)
}

// averageBlockDelta averages the block deltas between consecutive samples
// over at most the last n deltas.
func averageBlockDelta(samples []TimestepSample, n int) int64 {
	if len(samples) < 2 {
		return 0
	}
	start := len(samples) - n - 1
	if start < 0 {
		start = 0
	}
	var sum int64
	var count int64
	for i := start + 1; i < len(samples); i++ {
		sum += samples[i].Block - samples[i-1].Block
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

// extrapolateToHead appends synthetic samples, timeStep apart, advancing by
// avgDelta blocks each, until the next one would exceed upperBlock.
func extrapolateToHead(kept []TimestepSample, timeStep, avgDelta, upperBlock int64) []TimestepSample {
	if avgDelta <= 0 || len(kept) == 0 {
		return kept
	}
	out := kept
	last := kept[len(kept)-1]
	for {
		nextBlock := last.Block + avgDelta
		if nextBlock > upperBlock {
			break
		}
		last = TimestepSample{Timestep: last.Timestep + timeStep, Block: nextBlock}
		out = append(out, last)
	}
	return out
}

// consecutiveRanges turns an ascending block list into adjoining ranges:
// each sample owns the blocks up to (but not including) the next sample's
// block, and the last sample owns up to upperBlock.
func consecutiveRanges(kept []TimestepSample, upperBlock int64) []rangeset.Range {
	var out []rangeset.Range
	for i, s := range kept {
		to := upperBlock
		if i+1 < len(kept) {
			to = kept[i+1].Block - 1
		}
		if to < s.Block {
			continue
		}
		out = append(out, rangeset.Range{From: s.Block, To: to})
	}
	return out
}
