package lighter

import "copytrade-core/pkg/exchanges/common"

// Transaction type codes accepted by the sendTx endpoint.
const (
	txTypeCreateOrder = 14
	txTypeCancelOrder = 15
)

// Order type codes inside a create-order transaction.
const (
	orderTypeMarket        = 1
	orderTypeStopLoss      = 4
	orderTypeStopLossLimit = 5
)

type statusResponse struct {
	Status int `json:"status"`
}

type accountResponse struct {
	Accounts []accountPayload `json:"accounts"`
}

type accountPayload struct {
	AccountIndex     int               `json:"account_index"`
	AvailableBalance string            `json:"available_balance"`
	TotalAssetValue  string            `json:"total_asset_value"`
	Positions        []positionPayload `json:"positions"`
}

type positionPayload struct {
	MarketID              int    `json:"market_id"`
	Symbol                string `json:"symbol"`
	Position              string `json:"position"`
	Sign                  int    `json:"sign"`
	AvgEntryPrice         string `json:"avg_entry_price"`
	PositionValue         string `json:"position_value"`
	UnrealizedPnL         string `json:"unrealized_pnl"`
	RealizedPnL           string `json:"realized_pnl"`
	AllocatedMargin       string `json:"allocated_margin"`
	InitialMarginFraction string `json:"initial_margin_fraction"`
}

type orderBooksResponse struct {
	OrderBooks []orderBookPayload `json:"order_books"`
}

type orderBookPayload struct {
	MarketID       int    `json:"market_id"`
	Symbol         string `json:"symbol"`
	Status         string `json:"status"`
	MinBaseAmount  string `json:"min_base_amount"`
	MinQuoteAmount string `json:"min_quote_amount"`
	PriceDecimals  int    `json:"supported_price_decimals"`
	SizeDecimals   int    `json:"supported_size_decimals"`
}

type orderBookOrdersResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

type bookLevel struct {
	Price  string `json:"price"`
	Amount string `json:"remaining_base_amount"`
}

type activeOrdersResponse struct {
	Orders []common.Order `json:"orders"`
}

type sendTxResponse struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	TxHash     string `json:"tx_hash"`
	OrderIndex int64  `json:"order_index"`
}
