package trade

import (
	"fmt"

	"copytrade-core/pkg/exchanges/common"
)

// Type is the requested trade direction.
type Type string

const (
	TypeLong  Type = "long"
	TypeShort Type = "short"
	TypeClose Type = "close"
)

// Valid reports whether t is a known trade type.
func (t Type) Valid() bool {
	switch t {
	case TypeLong, TypeShort, TypeClose:
		return true
	}
	return false
}

// Request is one admitted trade intent. It is immutable after admission;
// RequestID is attached by the queue at enqueue time.
type Request struct {
	RequestID    string   `json:"request_id"`
	AccountIndex int      `json:"account_index"`
	MarketID     *int     `json:"market_id,omitempty"`
	Symbol       string   `json:"symbol,omitempty"`
	Type         Type     `json:"trade_type"`
	// ReferenceRatio is the fraction of total asset value to commit.
	ReferenceRatio float64 `json:"reference_position_ratio"`
	// Override amounts bypass ratio sizing on the adjustment path.
	OverrideBaseAmount  *float64 `json:"override_base_amount,omitempty"`
	OverrideQuoteAmount *float64 `json:"override_quote_amount,omitempty"`
}

// Context returns structured fields for notifications and logs.
func (r Request) Context() map[string]any {
	ctx := map[string]any{
		"request_id":    r.RequestID,
		"account_index": r.AccountIndex,
		"trade_type":    string(r.Type),
	}
	if r.MarketID != nil {
		ctx["market_id"] = *r.MarketID
	}
	if r.Symbol != "" {
		ctx["symbol"] = r.Symbol
	}
	return ctx
}

// Outcome is the contract between the orchestrator and the retry policy.
type Outcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// NoRetry marks failures that recompute identically on retry
	// (below-minimum sizing, invalid overrides). The retry policy stops
	// immediately instead of burning attempts.
	NoRetry bool `json:"no_retry,omitempty"`

	RequestID   string  `json:"request_id,omitempty"`
	TxHash      string  `json:"tx_hash,omitempty"`
	MarketID    int     `json:"market_id,omitempty"`
	Symbol      string  `json:"symbol,omitempty"`
	BaseAmount  float64 `json:"base_amount,omitempty"`
	QuoteAmount float64 `json:"quote_amount,omitempty"`
	Price       float64 `json:"price,omitempty"`
}

func failure(format string, args ...any) Outcome {
	return Outcome{Error: fmt.Sprintf(format, args...)}
}

func fatal(format string, args ...any) Outcome {
	return Outcome{Error: fmt.Sprintf(format, args...), NoRetry: true}
}

// OrderNotice carries the fields of an order notification.
type OrderNotice struct {
	AccountIndex int
	MarketID     int
	Symbol       string
	TradeType    Type
	BaseAmount   float64
	QuoteAmount  float64
	Price        float64
	// State is the post-fill account snapshot; nil when the re-fetch failed.
	State *common.AccountState
}

// Notifier receives human-facing notifications from the pipeline. The
// pipeline has no synchronous caller once a request is admitted, so this
// channel is how failures become visible.
type Notifier interface {
	NotifyOrderOpened(n OrderNotice)
	NotifyOrderClosed(n OrderNotice)
	NotifyWarning(title, message string, context map[string]any)
	NotifyError(title, message string, context map[string]any)
}

// NopNotifier discards everything; used where notifications are optional.
type NopNotifier struct{}

func (NopNotifier) NotifyOrderOpened(OrderNotice)                {}
func (NopNotifier) NotifyOrderClosed(OrderNotice)                {}
func (NopNotifier) NotifyWarning(string, string, map[string]any) {}
func (NopNotifier) NotifyError(string, string, map[string]any)   {}
