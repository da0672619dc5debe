package broker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SharesPerLot converts share volume into board lots.
const SharesPerLot = 1000

// Side denotes order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PriceType denotes the price instruction sent with an order.
type PriceType string

const (
	PriceLimit       PriceType = "LMT"
	PriceMarket      PriceType = "MKT"
	PriceMarketRange PriceType = "MKP"
)

// OrderType captures time-in-force semantics.
type OrderType string

const (
	OrderROD OrderType = "ROD" // rest of day
	OrderIOC OrderType = "IOC"
	OrderFOK OrderType = "FOK"
)

// Metric selects the ranking a market scan is ordered by.
type Metric string

const (
	MetricChangePercent Metric = "change_percent"
	MetricVolume        Metric = "volume"
	MetricTurnover      Metric = "turnover"
)

// Valid reports whether m is a known ranking metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricChangePercent, MetricVolume, MetricTurnover:
		return true
	}
	return false
}

// RankEntry is one row of a market ranking snapshot.
type RankEntry struct {
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name,omitempty"`
	ChangePercent  float64         `json:"change_percent"`
	Volume         int64           `json:"volume"` // lots
	Turnover       decimal.Decimal `json:"turnover"`
	Close          decimal.Decimal `json:"close"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	YesterdayClose decimal.Decimal `json:"yesterday_close"`
}

// Quote is the latest trade snapshot for a subscribed symbol.
type Quote struct {
	Symbol           string          `json:"symbol"`
	Close            decimal.Decimal `json:"close"`
	CumulativeVolume int64           `json:"cumulative_volume"` // shares
	Timestamp        time.Time       `json:"timestamp"`
}

// OrderRequest captures an order intent to be sent to the broker.
type OrderRequest struct {
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Quantity  int64 // lots
	PriceType PriceType
	OrderType OrderType
	ClientID  string // correlation token; brokers may not echo it back
}

// SubmissionError is returned by SubmitOrder when the broker rejects a
// request synchronously.
type SubmissionError struct {
	Code   string
	Reason string
}

func (e *SubmissionError) Error() string {
	if e.Code == "" {
		return "submission rejected: " + e.Reason
	}
	return fmt.Sprintf("submission rejected [%s]: %s", e.Code, e.Reason)
}

// OrderReport is the loosely typed order-status payload pushed by a broker.
// Quantities arrive as strings and statuses use the broker's vocabulary.
type OrderReport struct {
	OrderID    string
	Status     string // PendingSubmit, PreSubmitted, Submitted, Filling, Filled, Cancelled, Failed
	DealQty    string // cumulative lots
	Timestamp  int64  // unix millis
	StatusCode string
	Message    string
}

// DealReport is the loosely typed fill payload pushed by a broker.
type DealReport struct {
	OrderID   string
	Seq       string
	Symbol    string
	Price     string
	Quantity  string // lots
	Timestamp int64 // unix millis
}

// Position is one holding as reported by the account service.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	LastPrice     decimal.Decimal `json:"last_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Balance is the cash view of the trading account.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Total     decimal.Decimal `json:"total"`
}
