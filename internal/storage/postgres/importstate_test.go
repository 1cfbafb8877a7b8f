package postgres

import (
	"testing"

	"github.com/prevostc/beefy-bi/internal/importstate"
	"github.com/prevostc/beefy-bi/internal/rangeset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateJSONRoundTrip(t *testing.T) {
	state := importstate.State{
		ImportKey:              "product:investment:42",
		Type:                   importstate.TypeProductInvestment,
		ProductID:              42,
		Chain:                  "bsc",
		ContractCreatedAtBlock: 1000,
		ContractCreationDate:   1700000000000,
		Ranges: importstate.Ranges{
			Covered: []rangeset.Range{{From: 1000, To: 2000}},
			ToRetry: []rangeset.Range{{From: 2100, To: 2105}},
		},
		LastImportDate: 1700000001000,
	}

	j := toStateJSON(state)
	got := j.toState(state.ImportKey)
	assert.Equal(t, state, got)
}

func TestStateJSONRoundTripEmptyRanges(t *testing.T) {
	state := importstate.State{
		ImportKey: "oracle:price:7",
		Type:      importstate.TypeOraclePrice,
		FirstDate: 1690000000000,
	}

	j := toStateJSON(state)
	got := j.toState(state.ImportKey)
	require.Equal(t, state.ImportKey, got.ImportKey)
	assert.Nil(t, got.Ranges.Covered)
	assert.Nil(t, got.Ranges.ToRetry)
}
