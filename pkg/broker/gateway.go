package broker

import "context"

// Gateway abstracts the brokerage API consumed by the trading core.
type Gateway interface {
	GetMarketRanking(ctx context.Context, metric Metric, limit int) ([]RankEntry, error)
	// GetLatestQuote returns nil without error when the symbol is not subscribed.
	GetLatestQuote(ctx context.Context, symbol string) (*Quote, error)
	SubscribeQuote(symbol string) error
	UnsubscribeQuote(symbol string) error
	// SubmitOrder acknowledges receipt only and returns the broker order id.
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)

	// Handlers are invoked asynchronously, any number of times, in any order.
	RegisterOrderHandler(fn func(OrderReport))
	RegisterDealHandler(fn func(DealReport))
	RegisterQuoteHandler(fn func(Quote))
}

// Account exposes holdings and cash.
type Account interface {
	ListPositions(ctx context.Context) ([]Position, error)
	GetBalance(ctx context.Context) (Balance, error)
}
