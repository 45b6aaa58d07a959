package trade

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"copytrade-core/internal/market"
	"copytrade-core/pkg/config"
	"copytrade-core/pkg/exchanges/common"
)

type fakeGateway struct {
	mu sync.Mutex

	markets []common.MarketInfo
	price   float64

	// states is consumed one snapshot per AccountState call; the last
	// entry repeats once the queue is drained.
	states     []*common.AccountState
	stateIdx   int
	stateErr   error
	statePanic bool

	activeStops []common.Order
	listErr     error

	marketOrders []common.MarketOrderRequest
	stopOrders   []common.StopOrderRequest
	cancelled    []int64
	listCalls    int
	submitErr    error
}

func (f *fakeGateway) AccountState(ctx context.Context, accountIndex int) (*common.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statePanic {
		panic("gateway exploded")
	}
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	if len(f.states) == 0 {
		return &common.AccountState{AccountIndex: accountIndex}, nil
	}
	st := f.states[f.stateIdx]
	if f.stateIdx < len(f.states)-1 {
		f.stateIdx++
	}
	cp := *st
	return &cp, nil
}

func (f *fakeGateway) Markets(ctx context.Context) ([]common.MarketInfo, error) {
	return f.markets, nil
}

func (f *fakeGateway) BestPrice(ctx context.Context, marketID int) (float64, error) {
	return f.price, nil
}

func (f *fakeGateway) SubmitMarketOrder(ctx context.Context, req common.MarketOrderRequest) (*common.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.marketOrders = append(f.marketOrders, req)
	return &common.OrderAck{TxHash: "0xabc"}, nil
}

func (f *fakeGateway) SubmitStopOrder(ctx context.Context, req common.StopOrderRequest) (*common.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopOrders = append(f.stopOrders, req)
	return &common.OrderAck{TxHash: "0xstop"}, nil
}

func (f *fakeGateway) ActiveStopOrders(ctx context.Context, accountIndex, marketID int) ([]common.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.activeStops, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, accountIndex, marketID int, orderIndex int64) (*common.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderIndex)
	return &common.OrderAck{}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	opened   []OrderNotice
	closedN  []OrderNotice
	warnings []string
	errs     []string
}

func (r *recordingNotifier) NotifyOrderOpened(n OrderNotice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, n)
}

func (r *recordingNotifier) NotifyOrderClosed(n OrderNotice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closedN = append(r.closedN, n)
}

func (r *recordingNotifier) NotifyWarning(title, msg string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, title+": "+msg)
}

func (r *recordingNotifier) NotifyError(title, msg string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, title+": "+msg)
}

func testConfig() *config.Config {
	return &config.Config{
		Accounts:      []config.AccountConfig{{Index: 1}},
		MaxSlippage:   0.01,
		StopLossRatio: 0.05,
		ScalingFactor: 1.0,
	}
}

func ethMarket() common.MarketInfo {
	return common.MarketInfo{
		MarketID:       1,
		Symbol:         "ETH",
		Status:         common.MarketActive,
		MinBaseAmount:  0.001,
		MinQuoteAmount: 10,
		PriceDecimals:  2,
		SizeDecimals:   3,
	}
}

func newTestExecutor(t *testing.T, gw *fakeGateway, cfg *config.Config) (*Executor, *recordingNotifier) {
	t.Helper()
	if gw.markets == nil {
		gw.markets = []common.MarketInfo{ethMarket()}
	}
	rec := &recordingNotifier{}
	ex := NewExecutor(cfg, gw, market.NewCache(gw, time.Minute), rec, nil)
	ex.sleep = func(time.Duration) {}
	return ex, rec
}

func marketID(id int) *int { return &id }

func TestOpenLongPlacesOrderAndStop(t *testing.T) {
	flat := &common.AccountState{AccountIndex: 1, AvailableBalance: 10000, TotalAssetValue: 10000}
	filled := &common.AccountState{
		AccountIndex: 1, AvailableBalance: 9000, TotalAssetValue: 10000,
		Positions: []common.Position{{
			MarketID: 1, Symbol: "ETH", Size: 0.5, Sign: 1,
			AvgEntryPrice: 2000, InitialMarginFraction: 10,
		}},
	}
	gw := &fakeGateway{price: 2000, states: []*common.AccountState{flat, filled}}
	ex, rec := newTestExecutor(t, gw, testConfig())

	out := ex.Execute(context.Background(), Request{
		RequestID: "t1", AccountIndex: 1, MarketID: marketID(1),
		Type: TypeLong, ReferenceRatio: 0.1,
	})
	if !out.Success {
		t.Fatalf("Execute failed: %s", out.Error)
	}

	if len(gw.marketOrders) != 1 {
		t.Fatalf("market orders=%d, expected 1", len(gw.marketOrders))
	}
	mo := gw.marketOrders[0]
	if mo.IsAsk {
		t.Fatal("long trade must be a bid")
	}
	// quote = 10000 * 0.1 = 1000; base = 1000/2000 = 0.5; 3 size decimals.
	if mo.BaseAmount != 500 {
		t.Fatalf("BaseAmount=%d, expected 500", mo.BaseAmount)
	}
	if mo.MaxSlippage != 0.01 {
		t.Fatalf("MaxSlippage=%v, expected 0.01", mo.MaxSlippage)
	}

	if len(gw.stopOrders) != 1 {
		t.Fatalf("stop orders=%d, expected 1", len(gw.stopOrders))
	}
	so := gw.stopOrders[0]
	if !so.IsAsk || !so.ReduceOnly {
		t.Fatalf("stop must be a reduce-only ask for a long, got %+v", so)
	}
	// mf = 10% = 0.1; stop = 2000*(1 - 0.1*0.05) = 1990; 2 price decimals.
	if so.TriggerPrice != 199000 {
		t.Fatalf("TriggerPrice=%d, expected 199000", so.TriggerPrice)
	}
	if so.BaseAmount != 500 {
		t.Fatalf("stop BaseAmount=%d, expected full position 500", so.BaseAmount)
	}

	if len(rec.opened) != 1 {
		t.Fatalf("opened notifications=%d, expected 1", len(rec.opened))
	}
}

func TestCloseFlatPositionSubmitsNothing(t *testing.T) {
	gw := &fakeGateway{
		price:  2000,
		states: []*common.AccountState{{AccountIndex: 1, AvailableBalance: 100, TotalAssetValue: 100}},
	}
	ex, _ := newTestExecutor(t, gw, testConfig())

	out := ex.Execute(context.Background(), Request{
		RequestID: "t2", AccountIndex: 1, MarketID: marketID(1), Type: TypeClose,
	})
	if out.Success {
		t.Fatal("close of a flat position must fail")
	}
	if !out.NoRetry {
		t.Fatal("close of a flat position must not be retried")
	}
	if len(gw.marketOrders) != 0 {
		t.Fatalf("market orders=%d, expected none", len(gw.marketOrders))
	}
}

func TestClosePositionSellsFullSize(t *testing.T) {
	withPos := &common.AccountState{
		AccountIndex: 1, AvailableBalance: 5000, TotalAssetValue: 10000,
		Positions: []common.Position{{
			MarketID: 1, Symbol: "ETH", Size: 0.75, Sign: 1,
			AvgEntryPrice: 1900, RealizedPnL: 42,
		}},
	}
	flat := &common.AccountState{AccountIndex: 1, AvailableBalance: 10000, TotalAssetValue: 10000}
	gw := &fakeGateway{price: 2000, states: []*common.AccountState{withPos, flat}}
	ex, rec := newTestExecutor(t, gw, testConfig())

	out := ex.Execute(context.Background(), Request{
		RequestID: "t3", AccountIndex: 1, MarketID: marketID(1), Type: TypeClose,
	})
	if !out.Success {
		t.Fatalf("Execute failed: %s", out.Error)
	}

	if len(gw.marketOrders) != 1 {
		t.Fatalf("market orders=%d, expected 1", len(gw.marketOrders))
	}
	mo := gw.marketOrders[0]
	if !mo.IsAsk {
		t.Fatal("closing a long must be an ask")
	}
	if mo.BaseAmount != 750 {
		t.Fatalf("BaseAmount=%d, expected 750", mo.BaseAmount)
	}
	if len(gw.stopOrders) != 0 {
		t.Fatalf("close path placed %d stop orders, expected none", len(gw.stopOrders))
	}
	if len(rec.closedN) != 1 {
		t.Fatalf("closed notifications=%d, expected 1", len(rec.closedN))
	}
}

func TestStopRefreshSkippedWhenReducing(t *testing.T) {
	// Existing long; a short request reduces it and must leave the stop alone.
	longState := &common.AccountState{
		AccountIndex: 1, AvailableBalance: 10000, TotalAssetValue: 10000,
		Positions: []common.Position{{
			MarketID: 1, Symbol: "ETH", Size: 1.0, Sign: 1, AvgEntryPrice: 2000,
		}},
	}
	gw := &fakeGateway{price: 2000, states: []*common.AccountState{longState}}
	ex, _ := newTestExecutor(t, gw, testConfig())

	out := ex.Execute(context.Background(), Request{
		RequestID: "t4", AccountIndex: 1, MarketID: marketID(1),
		Type: TypeShort, ReferenceRatio: 0.1,
	})
	if !out.Success {
		t.Fatalf("Execute failed: %s", out.Error)
	}
	if gw.listCalls != 0 || len(gw.stopOrders) != 0 {
		t.Fatalf("reducing trade touched the stop: listCalls=%d stopOrders=%d",
			gw.listCalls, len(gw.stopOrders))
	}
}

func TestStopRefreshOnSameDirectionAdd(t *testing.T) {
	longState := &common.AccountState{
		AccountIndex: 1, AvailableBalance: 10000, TotalAssetValue: 10000,
		Positions: []common.Position{{
			MarketID: 1, Symbol: "ETH", Size: 1.0, Sign: 1,
			AvgEntryPrice: 2000, InitialMarginFraction: 10,
		}},
	}
	bigger := &common.AccountState{
		AccountIndex: 1, AvailableBalance: 9000, TotalAssetValue: 10000,
		Positions: []common.Position{{
			MarketID: 1, Symbol: "ETH", Size: 1.5, Sign: 1,
			AvgEntryPrice: 2000, InitialMarginFraction: 10,
		}},
	}
	gw := &fakeGateway{
		price:       2000,
		states:      []*common.AccountState{longState, bigger},
		activeStops: []common.Order{{OrderIndex: 99, MarketID: 1, Type: "stop-loss"}},
	}
	ex, _ := newTestExecutor(t, gw, testConfig())

	out := ex.Execute(context.Background(), Request{
		RequestID: "t5", AccountIndex: 1, MarketID: marketID(1),
		Type: TypeLong, ReferenceRatio: 0.1,
	})
	if !out.Success {
		t.Fatalf("Execute failed: %s", out.Error)
	}

	if gw.listCalls != 1 {
		t.Fatalf("listCalls=%d, expected 1", gw.listCalls)
	}
	if len(gw.cancelled) != 1 || gw.cancelled[0] != 99 {
		t.Fatalf("cancelled=%v, expected the existing stop 99", gw.cancelled)
	}
	if len(gw.stopOrders) != 1 {
		t.Fatalf("stop orders=%d, expected 1", len(gw.stopOrders))
	}
	// New stop covers the whole 1.5 position, not just the added 0.5.
	if gw.stopOrders[0].BaseAmount != 1500 {
		t.Fatalf("stop BaseAmount=%d, expected 1500", gw.stopOrders[0].BaseAmount)
	}
}

func TestBelowMinimumIsNoRetry(t *testing.T) {
	tiny := &common.AccountState{AccountIndex: 1, AvailableBalance: 50, TotalAssetValue: 50}
	gw := &fakeGateway{price: 2000, states: []*common.AccountState{tiny}}
	ex, rec := newTestExecutor(t, gw, testConfig())

	out := ex.Execute(context.Background(), Request{
		RequestID: "t6", AccountIndex: 1, MarketID: marketID(1),
		Type: TypeLong, ReferenceRatio: 0.1, // quote = 5, under min 10
	})
	if out.Success || !out.NoRetry {
		t.Fatalf("expected no-retry failure, got %+v", out)
	}
	if len(gw.marketOrders) != 0 {
		t.Fatal("below-minimum sizing must not submit an order")
	}
	if len(rec.errs) == 0 || !strings.Contains(rec.errs[0], "minimum") {
		t.Fatalf("expected below-minimum error notification, got %v", rec.errs)
	}
}

func TestInsufficientBalanceWarnsButProceeds(t *testing.T) {
	state := &common.AccountState{AccountIndex: 1, AvailableBalance: 100, TotalAssetValue: 10000}
	gw := &fakeGateway{price: 2000, states: []*common.AccountState{state}}
	ex, rec := newTestExecutor(t, gw, testConfig())

	out := ex.Execute(context.Background(), Request{
		RequestID: "t7", AccountIndex: 1, MarketID: marketID(1),
		Type: TypeLong, ReferenceRatio: 0.1, // quote 1000 > available 100
	})
	if !out.Success {
		t.Fatalf("Execute failed: %s", out.Error)
	}
	if len(gw.marketOrders) != 1 {
		t.Fatalf("market orders=%d, expected 1", len(gw.marketOrders))
	}
	if len(rec.warnings) != 1 {
		t.Fatalf("warnings=%d, expected 1", len(rec.warnings))
	}
}

func TestOverrideZeroAfterTruncationIsNoRetry(t *testing.T) {
	state := &common.AccountState{AccountIndex: 1, AvailableBalance: 10000, TotalAssetValue: 10000}
	gw := &fakeGateway{price: 2000, states: []*common.AccountState{state}}
	ex, _ := newTestExecutor(t, gw, testConfig())

	tiny := 0.0004 // truncates to 0 at 3 size decimals
	out := ex.Execute(context.Background(), Request{
		RequestID: "t8", AccountIndex: 1, MarketID: marketID(1),
		Type: TypeLong, OverrideBaseAmount: &tiny,
	})
	if out.Success || !out.NoRetry {
		t.Fatalf("expected no-retry failure, got %+v", out)
	}
	if len(gw.marketOrders) != 0 {
		t.Fatal("zero-size override must not submit an order")
	}
}

func TestUnknownAccountFails(t *testing.T) {
	gw := &fakeGateway{price: 2000}
	ex, _ := newTestExecutor(t, gw, testConfig())

	out := ex.Execute(context.Background(), Request{
		RequestID: "t9", AccountIndex: 42, MarketID: marketID(1),
		Type: TypeLong, ReferenceRatio: 0.1,
	})
	if out.Success {
		t.Fatal("unknown account must fail")
	}
	if len(gw.marketOrders) != 0 {
		t.Fatal("unknown account must not submit an order")
	}
}

func TestGatewayPanicBecomesFailedOutcome(t *testing.T) {
	gw := &fakeGateway{price: 2000, statePanic: true}
	ex, rec := newTestExecutor(t, gw, testConfig())

	out := ex.Execute(context.Background(), Request{
		RequestID: "t10", AccountIndex: 1, MarketID: marketID(1),
		Type: TypeLong, ReferenceRatio: 0.1,
	})
	if out.Success {
		t.Fatal("panic must surface as a failed outcome")
	}
	if len(rec.errs) == 0 {
		t.Fatal("panic must raise an error notification")
	}
}

func TestStopListFailureDoesNotFailTrade(t *testing.T) {
	flat := &common.AccountState{AccountIndex: 1, AvailableBalance: 10000, TotalAssetValue: 10000}
	filled := &common.AccountState{
		AccountIndex: 1, AvailableBalance: 9000, TotalAssetValue: 10000,
		Positions: []common.Position{{
			MarketID: 1, Symbol: "ETH", Size: 0.5, Sign: 1, AvgEntryPrice: 2000,
		}},
	}
	gw := &fakeGateway{
		price:   2000,
		states:  []*common.AccountState{flat, filled},
		listErr: errors.New("venue timeout"),
	}
	ex, rec := newTestExecutor(t, gw, testConfig())

	out := ex.Execute(context.Background(), Request{
		RequestID: "t11", AccountIndex: 1, MarketID: marketID(1),
		Type: TypeLong, ReferenceRatio: 0.1,
	})
	if !out.Success {
		t.Fatalf("stop refresh failure must not fail the trade: %s", out.Error)
	}
	if len(gw.stopOrders) != 0 {
		t.Fatal("no stop may be placed when the active list is unknown")
	}
	if len(rec.warnings) == 0 {
		t.Fatal("expected a warning that the stop was not updated")
	}
}
