package fetcher

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// PriceQuote is one fetched gold price snapshot.
type PriceQuote struct {
	PriceOunce  decimal.Decimal
	PriceGram24 decimal.Decimal
	Currency    string
	Metal       string
	Raw         json.RawMessage
}

// PriceFetcher retrieves the current gold price from an upstream source.
type PriceFetcher interface {
	FetchPrice(ctx context.Context) (PriceQuote, error)
}
