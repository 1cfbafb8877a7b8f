package chainmodel

// PriceFeed identifies and describes a time series of asset prices.
type PriceFeed struct {
	PriceFeedID  int64
	FeedKey      string
	FromAssetKey string
	ToAssetKey   string
	Data         PriceFeedData
}

type PriceFeedData struct {
	Active bool
}
