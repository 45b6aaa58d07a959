package common

import "context"

// Gateway abstracts the exchange for the execution pipeline. Implementations
// own signing and the wire protocol; the core only sees this surface.
type Gateway interface {
	// AccountState fetches a fresh snapshot for the account.
	AccountState(ctx context.Context, accountIndex int) (*AccountState, error)

	// Markets lists all order books with their trading constraints.
	Markets(ctx context.Context) ([]MarketInfo, error)

	// BestPrice returns the mid of best bid/ask, or whichever side exists.
	BestPrice(ctx context.Context, marketID int) (float64, error)

	// SubmitMarketOrder places an immediate order bounded by max slippage.
	SubmitMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderAck, error)

	// SubmitStopOrder places a reduce-only protective stop order.
	SubmitStopOrder(ctx context.Context, req StopOrderRequest) (*OrderAck, error)

	// ActiveStopOrders lists open stop-type orders for an account/market.
	ActiveStopOrders(ctx context.Context, accountIndex, marketID int) ([]Order, error)

	// CancelOrder cancels one open order by venue order index.
	CancelOrder(ctx context.Context, accountIndex, marketID int, orderIndex int64) (*OrderAck, error)
}

// Pinger is implemented by gateways that expose a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}
