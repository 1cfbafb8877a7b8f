package loaders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/prevostc/beefy-bi/internal/rpcgate"
	"github.com/shopspring/decimal"
)

// PriceFeedQuery identifies one off-chain price lookup at a given
// timestamp (spec §4.7: the only loader that isn't a JSON-RPC call).
type PriceFeedQuery struct {
	Feed      chainmodel.PriceFeed
	Timestamp int64 // unix ms
}

// PriceFeedHTTPClient fetches a single price point over HTTP. Swappable
// so the fetcher can be unit tested without a live API key.
type PriceFeedHTTPClient interface {
	FetchPrice(ctx context.Context, feed chainmodel.PriceFeed, timestamp int64) (decimal.Decimal, error)
}

// httpPriceFeedClient is the production PriceFeedHTTPClient, a plain GET
// against a price-history API keyed by from/to asset and timestamp,
// classifying the response the way HTTPTransport classifies JSON-RPC
// errors so it can share rpcgate's retry/circuit-breaker behavior.
type httpPriceFeedClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPPriceFeedClient builds the production PriceFeedHTTPClient. baseURL
// and apiKey come from config.PriceFeedAPIBaseURL/PriceFeedAPIKey, one
// setting shared by all chains.
func NewHTTPPriceFeedClient(baseURL, apiKey string, timeout time.Duration) PriceFeedHTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpPriceFeedClient{baseURL: baseURL, apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
}

type priceFeedResponse struct {
	Price string `json:"price"`
}

func (c *httpPriceFeedClient) FetchPrice(ctx context.Context, feed chainmodel.PriceFeed, timestamp int64) (decimal.Decimal, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return decimal.Zero, rpcadapter.Classify(rpcadapter.ClassFatal, err)
	}
	q := u.Query()
	q.Set("from", feed.FromAssetKey)
	q.Set("to", feed.ToAssetKey)
	q.Set("timestamp", hexQuantityBase10(timestamp))
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, rpcadapter.Classify(rpcadapter.ClassFatal, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, rpcadapter.Classify(rpcadapter.ClassTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, rpcadapter.Classify(rpcadapter.ClassTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return decimal.Zero, rpcadapter.Classify(rpcadapter.ClassRateLimited, fmt.Errorf("price feed %s: http 429", feed.FeedKey))
	case resp.StatusCode >= 500:
		return decimal.Zero, rpcadapter.Classify(rpcadapter.ClassTransient, fmt.Errorf("price feed %s: http %d", feed.FeedKey, resp.StatusCode))
	case resp.StatusCode >= 400:
		return decimal.Zero, rpcadapter.Classify(rpcadapter.ClassFatal, fmt.Errorf("price feed %s: http %d", feed.FeedKey, resp.StatusCode))
	}

	var parsed priceFeedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, rpcadapter.Classify(rpcadapter.ClassFatal, fmt.Errorf("decode price feed response: %w", err))
	}
	price, err := decimal.NewFromString(parsed.Price)
	if err != nil {
		return decimal.Zero, rpcadapter.Classify(rpcadapter.ClassFatal, fmt.Errorf("parse price feed value %q: %w", parsed.Price, err))
	}
	return price, nil
}

func hexQuantityBase10(n int64) string {
	return fmt.Sprintf("%d", n)
}

// PriceFeedFetcher wraps PriceFeedHTTPClient with the same gate (rate
// limit, backoff, circuit breaker) as on-chain endpoints get, keyed by the
// API's own base URL rather than a chain RPC URL (spec §4.4: the gate is
// "one per endpoint", and an off-chain API is its own endpoint).
type PriceFeedFetcher struct {
	client PriceFeedHTTPClient
	gate   *rpcgate.Gate
	maxRet int64
}

// NewPriceFeedFetcher builds a PriceFeedFetcher.
func NewPriceFeedFetcher(client PriceFeedHTTPClient, gate *rpcgate.Gate, maxTotalRetryMs int64) *PriceFeedFetcher {
	return &PriceFeedFetcher{client: client, gate: gate, maxRet: maxTotalRetryMs}
}

// FetchPrice returns feed's price at timestamp, retried and rate-limited
// under the fetcher's gate. Inactive feeds (Data.Active == false) are a
// domain invariant violation: the planner must never schedule work for a
// feed it has already excluded.
func (f *PriceFeedFetcher) FetchPrice(ctx context.Context, feed chainmodel.PriceFeed, timestamp int64) (decimal.Decimal, error) {
	if !feed.Data.Active {
		panic(fmt.Errorf("%w: price requested for inactive feed %s", ErrDomainInvariant, feed.FeedKey))
	}
	result, err := f.gate.Call(ctx, rpcgate.CallOpts{MaxTotalRetryMs: f.maxRet}, func(ctx context.Context) (any, error) {
		return f.client.FetchPrice(ctx, feed, timestamp)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return result.(decimal.Decimal), nil
}
