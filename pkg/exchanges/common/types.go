package common

// MarketStatus reflects whether a market accepts orders.
type MarketStatus string

const (
	MarketActive   MarketStatus = "active"
	MarketInactive MarketStatus = "inactive"
)

// MarketInfo describes one tradable instrument.
type MarketInfo struct {
	MarketID       int          `json:"market_id"`
	Symbol         string       `json:"symbol"`
	Status         MarketStatus `json:"status"`
	MinBaseAmount  float64      `json:"min_base_amount"`
	MinQuoteAmount float64      `json:"min_quote_amount"`
	PriceDecimals  int          `json:"supported_price_decimals"`
	SizeDecimals   int          `json:"supported_size_decimals"`
}

// Active reports whether the market currently accepts orders.
func (m MarketInfo) Active() bool {
	return m.Status == MarketActive
}

// Position is one open position inside an account snapshot.
// Sign is 1 for long, -1 for short.
type Position struct {
	MarketID              int     `json:"market_id"`
	Symbol                string  `json:"symbol"`
	Size                  float64 `json:"position"`
	Sign                  int     `json:"sign"`
	AvgEntryPrice         float64 `json:"avg_entry_price"`
	PositionValue         float64 `json:"position_value"`
	UnrealizedPnL         float64 `json:"unrealized_pnl"`
	RealizedPnL           float64 `json:"realized_pnl"`
	AllocatedMargin       float64 `json:"allocated_margin"`
	InitialMarginFraction float64 `json:"initial_margin_fraction"`
}

// IsLong reports the stored direction of the position.
func (p Position) IsLong() bool { return p.Sign >= 0 }

// AccountState is a fresh snapshot of one account. It is never cached;
// staleness is bounded by the gap between fetch and order submission.
type AccountState struct {
	AccountIndex     int        `json:"account_index"`
	AvailableBalance float64    `json:"available_balance"`
	TotalAssetValue  float64    `json:"total_asset_value"`
	Positions        []Position `json:"positions"`
}

// PositionFor returns the position for a market, or nil when flat.
func (s *AccountState) PositionFor(marketID int) *Position {
	for i := range s.Positions {
		if s.Positions[i].MarketID == marketID {
			return &s.Positions[i]
		}
	}
	return nil
}

// Order is an open order as reported by the venue.
type Order struct {
	OrderIndex int64  `json:"order_index"`
	MarketID   int    `json:"market_id"`
	Type       string `json:"type"`
	IsAsk      bool   `json:"is_ask"`
	BaseAmount int64  `json:"base_amount"`
	Price      int64  `json:"price"`
}

// IsStop reports whether the order is a stop-type protective order.
func (o Order) IsStop() bool {
	return o.Type == "stop-loss" || o.Type == "stop-loss-limit"
}

// MarketOrderRequest is an immediate-execution order intent.
// BaseAmount is in integer precision units (base * 10^size_decimals).
type MarketOrderRequest struct {
	AccountIndex int
	MarketID     int
	BaseAmount   int64
	IsAsk        bool
	MaxSlippage  float64
}

// StopOrderRequest is a protective reduce-only order intent.
// TriggerPrice is in integer precision units (price * 10^price_decimals).
type StopOrderRequest struct {
	AccountIndex int
	MarketID     int
	BaseAmount   int64
	TriggerPrice int64
	IsAsk        bool
	ReduceOnly   bool
}

// OrderAck is the venue acknowledgement for a submitted transaction.
type OrderAck struct {
	OrderIndex int64  `json:"order_index"`
	TxHash     string `json:"tx_hash"`
}
