package importstate

import (
	"math/rand"
	"testing"

	"github.com/prevostc/beefy-bi/internal/rangeset"
	"github.com/stretchr/testify/require"
)

func TestApplyUpdateMovesSuccessOutOfRetry(t *testing.T) {
	current := Ranges{
		Covered: []rangeset.Range{{From: 900, To: 950}, {From: 960, To: 1000}},
		ToRetry: []rangeset.Range{{From: 910, To: 915}},
	}
	next := ApplyUpdate(rangeset.Numeric, current, Update{
		Success: []rangeset.Range{{From: 910, To: 915}},
	})
	require.Empty(t, next.ToRetry)
	require.Equal(t, []rangeset.Range{{From: 900, To: 950}, {From: 960, To: 1000}}, next.Covered)
}

func TestApplyUpdateAddsErrorsToRetry(t *testing.T) {
	current := Ranges{}
	next := ApplyUpdate(rangeset.Numeric, current, Update{
		Error: []rangeset.Range{{From: 1, To: 5}},
	})
	require.Equal(t, []rangeset.Range{{From: 1, To: 5}}, next.ToRetry)
	require.Empty(t, next.Covered)
}

func TestApplyUpdateCoveredExcludesToRetry(t *testing.T) {
	current := Ranges{
		ToRetry: []rangeset.Range{{From: 1, To: 10}},
	}
	next := ApplyUpdate(rangeset.Numeric, current, Update{
		Covered: []rangeset.Range{{From: 1, To: 10}},
	})
	require.Equal(t, []rangeset.Range{{From: 1, To: 10}}, next.Covered)
	require.Empty(t, next.ToRetry, "a range that becomes covered must leave toRetry")
}

// TestApplyUpdatePropertyCoveredDisjointFromRetry is a property-based check
// (spec §8 invariant 1): for any sequence of random updates, coveredRanges
// stays merged, sorted, and disjoint from toRetry.
func TestApplyUpdatePropertyCoveredDisjointFromRetry(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	state := Ranges{}

	for i := 0; i < 500; i++ {
		from := int64(rng.Intn(1000))
		to := from + int64(rng.Intn(20))
		r := rangeset.Range{From: from, To: to}

		u := Update{}
		switch rng.Intn(3) {
		case 0:
			u.Covered = []rangeset.Range{r}
		case 1:
			u.Success = []rangeset.Range{r}
		case 2:
			u.Error = []rangeset.Range{r}
		}
		state = ApplyUpdate(rangeset.Numeric, state, u)

		require.Equal(t, rangeset.Merge(rangeset.Numeric, state.Covered), state.Covered, "covered must stay merged")
		require.Equal(t, rangeset.Merge(rangeset.Numeric, state.ToRetry), state.ToRetry, "toRetry must stay merged")

		for _, cr := range state.Covered {
			for v := cr.From; v <= cr.To; v++ {
				require.False(t, rangeset.Contains(state.ToRetry, v), "covered and toRetry must be disjoint at %d", v)
			}
		}
	}
}
