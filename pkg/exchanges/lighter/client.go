package lighter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"copytrade-core/pkg/config"
	"copytrade-core/pkg/exchanges/common"
)

// Config holds connection settings for the Lighter REST API.
type Config struct {
	BaseURL  string
	Accounts []config.AccountConfig
	// RequestsPerSecond bounds outgoing API calls. Zero means 10 rps.
	RequestsPerSecond float64
}

// Client talks to the Lighter REST API and implements common.Gateway.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu     sync.Mutex
	nonces map[int]int64 // account index -> last client order index
}

func New(cfg Config) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)*2),
		nonces:     make(map[int]int64),
	}
}

// Ping probes the API root status endpoint.
func (c *Client) Ping(ctx context.Context) error {
	body, err := c.get(ctx, "/", nil)
	if err != nil {
		return err
	}
	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	if st.Status != 200 {
		return fmt.Errorf("lighter: status %d", st.Status)
	}
	return nil
}

func (c *Client) AccountState(ctx context.Context, accountIndex int) (*common.AccountState, error) {
	params := url.Values{}
	params.Set("by", "index")
	params.Set("value", strconv.Itoa(accountIndex))

	body, err := c.get(ctx, "/api/v1/account", params)
	if err != nil {
		return nil, err
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if len(resp.Accounts) == 0 {
		return nil, fmt.Errorf("lighter: account %d not found", accountIndex)
	}

	acct := resp.Accounts[0]
	state := &common.AccountState{
		AccountIndex:     acct.AccountIndex,
		AvailableBalance: parseFloat(acct.AvailableBalance),
		TotalAssetValue:  parseFloat(acct.TotalAssetValue),
	}
	for _, p := range acct.Positions {
		state.Positions = append(state.Positions, common.Position{
			MarketID:              p.MarketID,
			Symbol:                p.Symbol,
			Size:                  parseFloat(p.Position),
			Sign:                  p.Sign,
			AvgEntryPrice:         parseFloat(p.AvgEntryPrice),
			PositionValue:         parseFloat(p.PositionValue),
			UnrealizedPnL:         parseFloat(p.UnrealizedPnL),
			RealizedPnL:           parseFloat(p.RealizedPnL),
			AllocatedMargin:       parseFloat(p.AllocatedMargin),
			InitialMarginFraction: parseFloat(p.InitialMarginFraction),
		})
	}
	return state, nil
}

func (c *Client) Markets(ctx context.Context) ([]common.MarketInfo, error) {
	body, err := c.get(ctx, "/api/v1/orderBooks", nil)
	if err != nil {
		return nil, err
	}
	var resp orderBooksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order books: %w", err)
	}

	markets := make([]common.MarketInfo, 0, len(resp.OrderBooks))
	for _, ob := range resp.OrderBooks {
		markets = append(markets, common.MarketInfo{
			MarketID:       ob.MarketID,
			Symbol:         ob.Symbol,
			Status:         common.MarketStatus(ob.Status),
			MinBaseAmount:  parseFloat(ob.MinBaseAmount),
			MinQuoteAmount: parseFloat(ob.MinQuoteAmount),
			PriceDecimals:  ob.PriceDecimals,
			SizeDecimals:   ob.SizeDecimals,
		})
	}
	return markets, nil
}

func (c *Client) BestPrice(ctx context.Context, marketID int) (float64, error) {
	params := url.Values{}
	params.Set("market_id", strconv.Itoa(marketID))
	params.Set("limit", "1")

	body, err := c.get(ctx, "/api/v1/orderBookOrders", params)
	if err != nil {
		return 0, err
	}
	var book orderBookOrdersResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return 0, fmt.Errorf("decode order book orders: %w", err)
	}

	var bid, ask float64
	if len(book.Bids) > 0 {
		bid = parseFloat(book.Bids[0].Price)
	}
	if len(book.Asks) > 0 {
		ask = parseFloat(book.Asks[0].Price)
	}
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2, nil
	case bid > 0:
		return bid, nil
	case ask > 0:
		return ask, nil
	default:
		return 0, fmt.Errorf("lighter: empty order book for market %d", marketID)
	}
}

func (c *Client) SubmitMarketOrder(ctx context.Context, req common.MarketOrderRequest) (*common.OrderAck, error) {
	acct := c.account(req.AccountIndex)
	if acct == nil {
		return nil, fmt.Errorf("lighter: no credentials for account %d", req.AccountIndex)
	}

	tx := map[string]any{
		"account_index":      req.AccountIndex,
		"api_key_index":      acct.APIKeyIndex,
		"market_index":       req.MarketID,
		"client_order_index": c.nextNonce(req.AccountIndex),
		"order_type":         orderTypeMarket,
		"base_amount":        req.BaseAmount,
		"is_ask":             req.IsAsk,
		"max_slippage":       req.MaxSlippage,
		"reduce_only":        false,
	}
	return c.sendTx(ctx, txTypeCreateOrder, tx, acct.PrivateKey)
}

func (c *Client) SubmitStopOrder(ctx context.Context, req common.StopOrderRequest) (*common.OrderAck, error) {
	acct := c.account(req.AccountIndex)
	if acct == nil {
		return nil, fmt.Errorf("lighter: no credentials for account %d", req.AccountIndex)
	}

	tx := map[string]any{
		"account_index":      req.AccountIndex,
		"api_key_index":      acct.APIKeyIndex,
		"market_index":       req.MarketID,
		"client_order_index": c.nextNonce(req.AccountIndex),
		"order_type":         orderTypeStopLoss,
		"base_amount":        req.BaseAmount,
		"trigger_price":      req.TriggerPrice,
		"price":              req.TriggerPrice,
		"is_ask":             req.IsAsk,
		"reduce_only":        req.ReduceOnly,
	}
	return c.sendTx(ctx, txTypeCreateOrder, tx, acct.PrivateKey)
}

func (c *Client) ActiveStopOrders(ctx context.Context, accountIndex, marketID int) ([]common.Order, error) {
	acct := c.account(accountIndex)
	if acct == nil {
		return nil, fmt.Errorf("lighter: no credentials for account %d", accountIndex)
	}

	params := url.Values{}
	params.Set("account_index", strconv.Itoa(accountIndex))
	params.Set("market_id", strconv.Itoa(marketID))
	params.Set("auth", authToken(acct.PrivateKey, accountIndex))

	body, err := c.get(ctx, "/api/v1/accountActiveOrders", params)
	if err != nil {
		return nil, err
	}
	var resp activeOrdersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode active orders: %w", err)
	}

	stops := resp.Orders[:0]
	for _, o := range resp.Orders {
		if o.IsStop() {
			stops = append(stops, o)
		}
	}
	return stops, nil
}

func (c *Client) CancelOrder(ctx context.Context, accountIndex, marketID int, orderIndex int64) (*common.OrderAck, error) {
	acct := c.account(accountIndex)
	if acct == nil {
		return nil, fmt.Errorf("lighter: no credentials for account %d", accountIndex)
	}

	tx := map[string]any{
		"account_index": accountIndex,
		"api_key_index": acct.APIKeyIndex,
		"market_index":  marketID,
		"order_index":   orderIndex,
	}
	return c.sendTx(ctx, txTypeCancelOrder, tx, acct.PrivateKey)
}

// sendTx signs and posts one transaction to the sendTx endpoint.
func (c *Client) sendTx(ctx context.Context, txType int, tx map[string]any, privateKey string) (*common.OrderAck, error) {
	info, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}

	form := url.Values{}
	form.Set("tx_type", strconv.Itoa(txType))
	form.Set("tx_info", string(info))
	form.Set("signature", sign(info, privateKey))

	body, err := c.post(ctx, "/api/v1/sendTx", form)
	if err != nil {
		return nil, err
	}
	var resp sendTxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode sendTx response: %w", err)
	}
	if resp.Code != 200 {
		return nil, fmt.Errorf("lighter: sendTx rejected (code %d): %s", resp.Code, resp.Message)
	}
	return &common.OrderAck{OrderIndex: resp.OrderIndex, TxHash: resp.TxHash}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("lighter %s %s status %d: %s", req.Method, req.URL.Path, res.StatusCode, string(body))
	}
	return body, nil
}

// account returns credentials for the given account index, or nil.
func (c *Client) account(index int) *config.AccountConfig {
	for i := range c.cfg.Accounts {
		if c.cfg.Accounts[i].Index == index {
			return &c.cfg.Accounts[i]
		}
	}
	return nil
}

// nextNonce returns a monotonically increasing client order index per account.
func (c *Client) nextNonce(accountIndex int) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[accountIndex]++
	return c.nonces[accountIndex]
}

func sign(payload []byte, privateKey string) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// authToken builds a short-lived token for read endpoints that need auth.
func authToken(privateKey string, accountIndex int) string {
	expiry := time.Now().Add(10 * time.Minute).Unix()
	msg := fmt.Sprintf("%d:%d", accountIndex, expiry)
	return fmt.Sprintf("%s.%s", msg, sign([]byte(msg), privateKey))
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

var _ common.Gateway = (*Client)(nil)
var _ common.Pinger = (*Client)(nil)
