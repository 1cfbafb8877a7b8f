package chainmodel

import "github.com/shopspring/decimal"

// Investment is a point-in-time investor balance snapshot for a product.
type Investment struct {
	Datetime   int64 // unix ms
	ProductID  int64
	InvestorID string // owner address; resolved to a stable investor_id at storage time
	Balance    decimal.Decimal
	Data       InvestmentData
}

type InvestmentData struct {
	BlockNumber     int64
	TransactionHash string
}
