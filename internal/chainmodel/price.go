package chainmodel

import "github.com/shopspring/decimal"

// PricePoint is a single off-chain or on-chain price observation for a
// price feed at a given block and datetime.
type PricePoint struct {
	Datetime    int64 // unix ms
	PriceFeedID int64
	BlockNumber int64
	Price       decimal.Decimal
	Data        PricePointData
}

type PricePointData struct {
	Source string // e.g. "on-chain:ppfs" or "oracle:<provider>"
}
