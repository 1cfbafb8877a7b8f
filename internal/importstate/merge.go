package importstate

import "github.com/prevostc/beefy-bi/internal/rangeset"

// Update is one unit of work applied to a State's ranges (spec §3.2):
// coveredRanges' = merge(coveredRanges ∪ C), toRetry' = merge((toRetry ∪ E) \ S).
type Update struct {
	Covered []rangeset.Range // C: ranges to add to coveredRanges regardless of outcome
	Success []rangeset.Range // S: ranges that succeeded, cleared from toRetry
	Error   []rangeset.Range // E: ranges that failed, added to toRetry
}

// ApplyUpdate produces the new Ranges for a single import key, preserving
// the invariants: coveredRanges is merged and sorted, and
// coveredRanges ∩ toRetry = ∅.
func ApplyUpdate(grain rangeset.Grain, current Ranges, u Update) Ranges {
	newCovered := rangeset.Merge(grain, append(append([]rangeset.Range{}, current.Covered...), u.Covered...))

	retryCandidates := append(append([]rangeset.Range{}, current.ToRetry...), u.Error...)
	retryCandidates = rangeset.Exclude(grain, retryCandidates, u.Success)
	// A retried range that is now covered leaves toRetry even if it wasn't
	// explicitly marked as a success (e.g. it was covered by a wider
	// concurrent update).
	retryCandidates = rangeset.Exclude(grain, retryCandidates, newCovered)
	newToRetry := rangeset.Merge(grain, retryCandidates)

	return Ranges{Covered: newCovered, ToRetry: newToRetry}
}
