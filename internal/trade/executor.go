package trade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"copytrade-core/internal/events"
	"copytrade-core/internal/market"
	"copytrade-core/internal/risk"
	"copytrade-core/pkg/config"
	"copytrade-core/pkg/exchanges/common"
)

// Executor runs the full pipeline for a single trade request: account and
// market resolution, fresh state fetch, sizing, order submission, settle,
// notification and the conditional stop-loss refresh. One Execute call is
// one attempt; retries are the Runner's job.
type Executor struct {
	cfg      *config.Config
	gateway  common.Gateway
	markets  *market.Cache
	notifier Notifier
	bus      *events.Bus

	// sleep is swapped out in tests so the settle delay costs nothing.
	sleep func(time.Duration)
}

// NewExecutor wires the pipeline. notifier and bus may be nil.
func NewExecutor(cfg *config.Config, gateway common.Gateway, markets *market.Cache,
	notifier Notifier, bus *events.Bus) *Executor {

	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Executor{
		cfg:      cfg,
		gateway:  gateway,
		markets:  markets,
		notifier: notifier,
		bus:      bus,
		sleep:    time.Sleep,
	}
}

// Execute performs one attempt and always returns a tagged Outcome; it
// never panics out. An unexpected panic becomes a failed outcome plus an
// error notification so the account worker survives.
func (e *Executor) Execute(ctx context.Context, req Request) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("trade: panic in request %s: %v", req.RequestID, r)
			e.notifier.NotifyError("Trade Execution Error",
				fmt.Sprintf("unexpected panic: %v", r), req.Context())
			out = failure("unexpected panic: %v", r)
			out.RequestID = req.RequestID
			e.publish(events.EventTradeFailed, out)
		}
	}()

	out = e.run(ctx, req)
	out.RequestID = req.RequestID
	if out.Success {
		e.publish(events.EventTradeExecuted, out)
	} else {
		e.publish(events.EventTradeFailed, out)
	}
	return out
}

func (e *Executor) run(ctx context.Context, req Request) Outcome {
	if !req.Type.Valid() {
		return e.fatalOut(req, "Invalid Trade", "unknown trade type %q", req.Type)
	}

	if e.cfg.Account(req.AccountIndex) == nil {
		return e.failOut(req, "Account Not Found",
			"account %d is not configured", req.AccountIndex)
	}

	info, err := e.markets.Resolve(ctx, req.MarketID, req.Symbol)
	if err != nil {
		return e.failOut(req, "Market Validation Failed", "%v", err)
	}

	state, err := e.gateway.AccountState(ctx, req.AccountIndex)
	if err != nil {
		return e.failOut(req, "Account Info Unavailable",
			"fetch account %d: %v", req.AccountIndex, err)
	}

	if req.Type == TypeClose {
		return e.runClose(ctx, req, info, state)
	}
	return e.runOpen(ctx, req, info, state)
}

// runClose flattens the existing position with a single market order in the
// opposite direction. A flat account submits nothing.
func (e *Executor) runClose(ctx context.Context, req Request,
	info common.MarketInfo, state *common.AccountState) Outcome {

	pos := state.PositionFor(info.MarketID)
	if pos == nil || pos.Size == 0 {
		return e.fatalOut(req, "Nothing To Close",
			"no open position on %s (market %d) for account %d",
			info.Symbol, info.MarketID, req.AccountIndex)
	}

	price, err := e.gateway.BestPrice(ctx, info.MarketID)
	if err != nil {
		return e.failOut(req, "Price Unavailable", "market %d: %v", info.MarketID, err)
	}

	base := math.Abs(pos.Size)
	baseInt := risk.BaseToInt(base, info.SizeDecimals)
	if baseInt <= 0 {
		return e.fatalOut(req, "Nothing To Close",
			"position size %v truncates to zero at %d decimals", pos.Size, info.SizeDecimals)
	}

	ack, err := e.gateway.SubmitMarketOrder(ctx, common.MarketOrderRequest{
		AccountIndex: req.AccountIndex,
		MarketID:     info.MarketID,
		BaseAmount:   baseInt,
		IsAsk:        pos.IsLong(),
		MaxSlippage:  e.cfg.MaxSlippage,
	})
	if err != nil {
		return e.failOut(req, "Close Order Failed", "%v", err)
	}
	log.Printf("trade: close order sent for account %d market %d (tx %s)",
		req.AccountIndex, info.MarketID, ack.TxHash)

	e.sleep(e.cfg.SettleDelay)
	updated, err := e.gateway.AccountState(ctx, req.AccountIndex)
	if err != nil {
		log.Printf("trade: post-close state fetch failed for account %d: %v",
			req.AccountIndex, err)
		updated = nil
	}

	e.notifier.NotifyOrderClosed(OrderNotice{
		AccountIndex: req.AccountIndex,
		MarketID:     info.MarketID,
		Symbol:       info.Symbol,
		TradeType:    req.Type,
		BaseAmount:   base,
		QuoteAmount:  base * price,
		Price:        price,
		State:        updated,
	})

	return Outcome{
		Success:     true,
		TxHash:      ack.TxHash,
		MarketID:    info.MarketID,
		Symbol:      info.Symbol,
		BaseAmount:  base,
		QuoteAmount: base * price,
		Price:       price,
	}
}

// runOpen sizes and submits a long or short market order, then refreshes
// the protective stop when the trade opened or extended a position.
func (e *Executor) runOpen(ctx context.Context, req Request,
	info common.MarketInfo, state *common.AccountState) Outcome {

	isLong := req.Type == TypeLong

	// Direction decisions below use the pre-trade snapshot, not the
	// post-fill one: a reducing trade must not touch the stop even if it
	// ends up flipping the position.
	var preTrade *common.Position
	if p := state.PositionFor(info.MarketID); p != nil && p.Size != 0 {
		cp := *p
		preTrade = &cp
	}

	price, err := e.gateway.BestPrice(ctx, info.MarketID)
	if err != nil {
		return e.failOut(req, "Price Unavailable", "market %d: %v", info.MarketID, err)
	}
	if price <= 0 {
		return e.failOut(req, "Price Unavailable", "market %d returned price %v", info.MarketID, price)
	}

	base, quote, insufficient, out := e.size(req, info, state, price)
	if out != nil {
		return *out
	}
	if insufficient {
		msg := fmt.Sprintf("order quote %.2f exceeds available balance %.2f; margin may still cover it",
			quote, state.AvailableBalance)
		e.notifier.NotifyWarning("Insufficient Balance", msg, req.Context())
		e.publish(events.EventRiskAlert, msg)
	}

	baseInt := risk.BaseToInt(base, info.SizeDecimals)
	if baseInt <= 0 {
		return e.fatalOut(req, "Size Too Small",
			"base amount %v truncates to zero at %d decimals", base, info.SizeDecimals)
	}

	ack, err := e.gateway.SubmitMarketOrder(ctx, common.MarketOrderRequest{
		AccountIndex: req.AccountIndex,
		MarketID:     info.MarketID,
		BaseAmount:   baseInt,
		IsAsk:        !isLong,
		MaxSlippage:  e.cfg.MaxSlippage,
	})
	if err != nil {
		return e.failOut(req, "Order Failed", "%v", err)
	}
	log.Printf("trade: %s order sent for account %d market %d base=%v quote=%.2f (tx %s)",
		req.Type, req.AccountIndex, info.MarketID, base, quote, ack.TxHash)

	e.sleep(e.cfg.SettleDelay)
	updated, err := e.gateway.AccountState(ctx, req.AccountIndex)
	if err != nil {
		log.Printf("trade: post-fill state fetch failed for account %d: %v",
			req.AccountIndex, err)
		updated = nil
	}

	e.notifier.NotifyOrderOpened(OrderNotice{
		AccountIndex: req.AccountIndex,
		MarketID:     info.MarketID,
		Symbol:       info.Symbol,
		TradeType:    req.Type,
		BaseAmount:   base,
		QuoteAmount:  quote,
		Price:        price,
		State:        updated,
	})

	switch {
	case preTrade != nil && preTrade.IsLong() != isLong:
		log.Printf("trade: stop refresh skipped for account %d market %d: reducing an existing position",
			req.AccountIndex, info.MarketID)
	case e.cfg.StopLossRatio <= 0:
		// Stop-loss disabled by configuration.
	case updated == nil:
		log.Printf("trade: stop refresh skipped for account %d market %d: no post-fill snapshot",
			req.AccountIndex, info.MarketID)
	default:
		e.refreshStop(ctx, req, info, updated)
	}

	return Outcome{
		Success:     true,
		TxHash:      ack.TxHash,
		MarketID:    info.MarketID,
		Symbol:      info.Symbol,
		BaseAmount:  base,
		QuoteAmount: quote,
		Price:       price,
	}
}

// size computes base/quote for the open path. Either both override fields
// are consulted or the ratio formula applies. A non-nil Outcome means the
// attempt is over.
func (e *Executor) size(req Request, info common.MarketInfo,
	state *common.AccountState, price float64) (base, quote float64, insufficient bool, out *Outcome) {

	if req.OverrideBaseAmount != nil || req.OverrideQuoteAmount != nil {
		if req.OverrideBaseAmount != nil {
			base = *req.OverrideBaseAmount
		} else {
			base = *req.OverrideQuoteAmount / price
		}
		base = risk.TruncateFloat(base, info.SizeDecimals)
		if base <= 0 {
			o := e.fatalOut(req, "Invalid Override Size",
				"override amount truncates to zero at %d decimals", info.SizeDecimals)
			return 0, 0, false, &o
		}
		quote = base * price
		return base, quote, quote > state.AvailableBalance, nil
	}

	sizing, err := risk.SizePosition(state.TotalAssetValue, state.AvailableBalance,
		req.ReferenceRatio, e.cfg.ScalingFactor,
		info.MinBaseAmount, info.MinQuoteAmount, info.SizeDecimals, price)
	if err != nil {
		var below *risk.BelowMinimumError
		if errors.As(err, &below) {
			o := e.fatalOut(req, "Position Size Below Minimum", "%v", err)
			return 0, 0, false, &o
		}
		o := e.failOut(req, "Sizing Failed", "%v", err)
		return 0, 0, false, &o
	}
	return sizing.BaseAmount, sizing.QuoteAmount, sizing.InsufficientBalance, nil
}

// refreshStop replaces the protective stop for the post-fill position:
// cancel every active stop on the market, then place one reduce-only stop
// sized to the whole position. Failures here never fail the parent trade.
func (e *Executor) refreshStop(ctx context.Context, req Request,
	info common.MarketInfo, state *common.AccountState) {

	pos := state.PositionFor(info.MarketID)
	if pos == nil || pos.Size == 0 || pos.AvgEntryPrice <= 0 {
		log.Printf("trade: stop refresh skipped for account %d market %d: no usable position",
			req.AccountIndex, info.MarketID)
		return
	}

	orders, err := e.gateway.ActiveStopOrders(ctx, req.AccountIndex, info.MarketID)
	if err != nil {
		// Without the current list, placing a new stop could stack a
		// duplicate next to an unseen existing one.
		log.Printf("trade: stop refresh aborted for account %d market %d: list orders: %v",
			req.AccountIndex, info.MarketID, err)
		e.notifier.NotifyWarning("Stop Loss Not Updated",
			fmt.Sprintf("could not list active stop orders: %v", err), req.Context())
		return
	}
	for _, o := range orders {
		if !o.IsStop() {
			continue
		}
		if _, err := e.gateway.CancelOrder(ctx, req.AccountIndex, info.MarketID, o.OrderIndex); err != nil {
			log.Printf("trade: cancel stop order %d failed for account %d market %d: %v",
				o.OrderIndex, req.AccountIndex, info.MarketID, err)
		}
	}

	stopPx := risk.StopPrice(pos.AvgEntryPrice, pos.InitialMarginFraction,
		e.cfg.StopLossRatio, pos.IsLong())
	stopPx = risk.TruncateFloat(stopPx, info.PriceDecimals)

	_, err = e.gateway.SubmitStopOrder(ctx, common.StopOrderRequest{
		AccountIndex: req.AccountIndex,
		MarketID:     info.MarketID,
		BaseAmount:   risk.BaseToInt(math.Abs(pos.Size), info.SizeDecimals),
		TriggerPrice: risk.PriceToInt(stopPx, info.PriceDecimals),
		IsAsk:        pos.IsLong(),
		ReduceOnly:   true,
	})
	if err != nil {
		e.notifier.NotifyError("Stop Loss Error",
			fmt.Sprintf("place stop at %v: %v", stopPx, err), req.Context())
		return
	}

	log.Printf("trade: stop refreshed for account %d market %d at %v",
		req.AccountIndex, info.MarketID, stopPx)
	e.publish(events.EventStopUpdated, map[string]any{
		"account_index": req.AccountIndex,
		"market_id":     info.MarketID,
		"trigger_price": stopPx,
	})
}

func (e *Executor) failOut(req Request, title, format string, args ...any) Outcome {
	msg := fmt.Sprintf(format, args...)
	log.Printf("trade: %s: %s (request %s)", title, msg, req.RequestID)
	e.notifier.NotifyError(title, msg, req.Context())
	return failure("%s", msg)
}

func (e *Executor) fatalOut(req Request, title, format string, args ...any) Outcome {
	msg := fmt.Sprintf(format, args...)
	log.Printf("trade: %s: %s (request %s, not retryable)", title, msg, req.RequestID)
	e.notifier.NotifyError(title, msg, req.Context())
	return fatal("%s", msg)
}

func (e *Executor) publish(event events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(event, payload)
	}
}
