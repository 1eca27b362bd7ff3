package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// GoldReading represents one persisted price check.
type GoldReading struct {
	ID          int64
	PriceOunce  decimal.Decimal
	PriceGram24 decimal.Decimal
	Currency    string
	Metal       string
	Change      decimal.Decimal
	AlertSent   bool
	Source      json.RawMessage
	CreatedAt   time.Time
}

// Subscriber is one registered phone identifier.
type Subscriber struct {
	ID         int64     `json:"id"`
	Phone      string    `json:"phone"`
	IsActive   bool      `json:"isActive"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}
