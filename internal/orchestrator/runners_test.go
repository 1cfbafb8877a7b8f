package orchestrator

import (
	"context"
	"testing"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/prevostc/beefy-bi/internal/importstate"
	"github.com/prevostc/beefy-bi/internal/pipeline"
	"github.com/prevostc/beefy-bi/internal/rangeset"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type noopStore struct{}

func (noopStore) Fetch(context.Context, []string) (map[string]importstate.State, error) {
	return nil, nil
}
func (noopStore) Upsert(context.Context, importstate.State) error { return nil }
func (noopStore) Update(context.Context, []importstate.UpdateItem, importstate.MergeFunc) error {
	return nil
}

type fakeFacade struct {
	products   []chainmodel.Product
	priceFeeds []chainmodel.PriceFeed
}

func (f fakeFacade) UpsertPricePoints(context.Context, []chainmodel.PricePoint) error { return nil }
func (f fakeFacade) UpsertInvestments(context.Context, []chainmodel.Investment) error { return nil }
func (f fakeFacade) LastInvestmentBalance(context.Context, int64, string, int64) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}
func (f fakeFacade) UpsertProducts(context.Context, []chainmodel.Product) error     { return nil }
func (f fakeFacade) UpsertPriceFeeds(context.Context, []chainmodel.PriceFeed) error { return nil }
func (f fakeFacade) ListProducts(context.Context) ([]chainmodel.Product, error)     { return f.products, nil }
func (f fakeFacade) ListPriceFeeds(context.Context) ([]chainmodel.PriceFeed, error) { return f.priceFeeds, nil }

func vault(chain, key string) chainmodel.Product {
	return chainmodel.Product{ProductKey: key, Chain: chain, Data: chainmodel.ProductData{Type: chainmodel.ProductBeefyVault}}
}

func govVault(chain, key string) chainmodel.Product {
	return chainmodel.Product{ProductKey: key, Chain: chain, Data: chainmodel.ProductData{Type: chainmodel.ProductBeefyVault, IsGovVault: true}}
}

func boost(chain, key string) chainmodel.Product {
	return chainmodel.Product{ProductKey: key, Chain: chain, Data: chainmodel.ProductData{Type: chainmodel.ProductBeefyBoost}}
}

func TestPipelineSetInvestmentScopesToChain(t *testing.T) {
	facade := fakeFacade{products: []chainmodel.Product{
		vault("bsc", "bsc-a"),
		vault("eth", "eth-a"),
		boost("bsc", "bsc-boost"),
	}}
	pipelines := NewPipelineSet(facade,
		&pipeline.Runner[chainmodel.Product]{},
		&pipeline.Runner[chainmodel.Product]{},
		&pipeline.Runner[chainmodel.PriceFeed]{},
	)

	handle, ok := pipelines[KindInvestment]
	require.True(t, ok)

	// no product is on chain "eth-only-no-match", so Run returns before
	// touching the zero-value Runner at all.
	require.NoError(t, handle.Run(context.Background(), "eth-only-no-match", PhaseRecent, 1))
}

func TestPipelineSetInvestmentReachesMatchingTarget(t *testing.T) {
	facade := fakeFacade{products: []chainmodel.Product{
		vault("bsc", "bsc-a"),
		vault("eth", "eth-a"),
	}}

	var seen []chainmodel.Product
	runner := &pipeline.Runner[chainmodel.Product]{
		Store:        noopStore{},
		ImportKey:    func(p chainmodel.Product) string { return p.ProductKey },
		DefaultState: func(p chainmodel.Product) importstate.State { return importstate.State{ImportKey: p.ProductKey} },
		PlanRecent: func(p chainmodel.Product, _ importstate.State) (rangeset.Range, bool) {
			seen = append(seen, p)
			return rangeset.Range{}, false
		},
	}

	handle := NewPipelineSet(facade, runner, &pipeline.Runner[chainmodel.Product]{}, &pipeline.Runner[chainmodel.PriceFeed]{})[KindInvestment]
	require.NoError(t, handle.Run(context.Background(), "bsc", PhaseRecent, 1))
	require.Len(t, seen, 1)
	require.Equal(t, "bsc-a", seen[0].ProductKey)
}

func TestPipelineSetShareRateExcludesBoostAndGovVault(t *testing.T) {
	facade := fakeFacade{products: []chainmodel.Product{
		vault("bsc", "bsc-a"),
		govVault("bsc", "bsc-gov"),
		boost("bsc", "bsc-boost"),
	}}

	var seen []chainmodel.Product
	shareRateRunner := &pipeline.Runner[chainmodel.Product]{
		Store:        noopStore{},
		ImportKey:    func(p chainmodel.Product) string { return p.ProductKey },
		DefaultState: func(p chainmodel.Product) importstate.State { return importstate.State{ImportKey: p.ProductKey} },
		PlanRecent: func(p chainmodel.Product, _ importstate.State) (rangeset.Range, bool) {
			seen = append(seen, p)
			return rangeset.Range{}, false
		},
	}
	handle := NewPipelineSet(facade,
		&pipeline.Runner[chainmodel.Product]{},
		shareRateRunner,
		&pipeline.Runner[chainmodel.PriceFeed]{},
	)[KindShareRate]

	// only the plain vault supports PPFS; the gov vault and the boost must
	// never reach the share-rate runner.
	require.NoError(t, handle.Run(context.Background(), "bsc", PhaseRecent, 1))
	require.Len(t, seen, 1)
	require.Equal(t, "bsc-a", seen[0].ProductKey)
}

func TestPipelineSetOraclePriceFiltersInactiveAndIgnoresChain(t *testing.T) {
	facade := fakeFacade{priceFeeds: []chainmodel.PriceFeed{
		{FeedKey: "inactive", Data: chainmodel.PriceFeedData{Active: false}},
	}}
	handle := NewPipelineSet(facade,
		&pipeline.Runner[chainmodel.Product]{},
		&pipeline.Runner[chainmodel.Product]{},
		&pipeline.Runner[chainmodel.PriceFeed]{},
	)[KindOraclePrice]

	// No active feeds survive the filter, so Run short-circuits before
	// touching the zero-value Runner's nil Store and func fields.
	// The chain argument is an arbitrary, made-up value: oracle price
	// ticks carry no chain (PriceFeed has none), so it must have no
	// bearing on the result.
	require.NoError(t, handle.Run(context.Background(), "any-chain-at-all", PhaseHistorical, 1))
}
