package api

import (
	"errors"
	"net/http"

	"copytrade-core/internal/queue"
	"copytrade-core/internal/trade"

	"github.com/gin-gonic/gin"
)

// tradePayload is the admission wire format. Identifier rules: at least
// one of market_id and symbol; open trades need a ratio or an override.
type tradePayload struct {
	AccountIndex        int      `json:"account_index"`
	MarketID            *int     `json:"market_id"`
	Symbol              string   `json:"symbol"`
	TradeType           string   `json:"trade_type"`
	ReferenceRatio      float64  `json:"reference_position_ratio"`
	OverrideBaseAmount  *float64 `json:"override_base_amount"`
	OverrideQuoteAmount *float64 `json:"override_quote_amount"`
}

// submitTrade validates the request synchronously, then hands it to the
// per-account queue and returns without waiting for execution.
func (s *Server) submitTrade(c *gin.Context) {
	var p tradePayload
	if err := c.BindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	tradeType := trade.Type(p.TradeType)
	if !tradeType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_TRADE_TYPE",
			"error": "trade_type must be long, short or close",
		})
		return
	}

	if s.Cfg.Account(p.AccountIndex) == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "UNKNOWN_ACCOUNT",
			"error": "account_index is not configured",
		})
		return
	}

	hasOverride := p.OverrideBaseAmount != nil || p.OverrideQuoteAmount != nil
	if tradeType != trade.TypeClose && !hasOverride {
		if p.ReferenceRatio <= 0 || p.ReferenceRatio > 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":  "INVALID_RATIO",
				"error": "reference_position_ratio must be in (0, 1]",
			})
			return
		}
	}
	if (p.OverrideBaseAmount != nil && *p.OverrideBaseAmount <= 0) ||
		(p.OverrideQuoteAmount != nil && *p.OverrideQuoteAmount <= 0) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_OVERRIDE",
			"error": "override amounts must be positive",
		})
		return
	}

	if s.Health != nil && !s.Health.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "EXCHANGE_UNAVAILABLE",
			"error": "exchange connection is unhealthy",
		})
		return
	}

	// Resolve before enqueueing so an unknown market fails the caller
	// instead of failing silently inside the pipeline.
	info, err := s.Resolver.Resolve(c.Request.Context(), p.MarketID, p.Symbol)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_MARKET",
			"error": err.Error(),
		})
		return
	}

	req := trade.Request{
		AccountIndex:        p.AccountIndex,
		MarketID:            &info.MarketID,
		Symbol:              info.Symbol,
		Type:                tradeType,
		ReferenceRatio:      p.ReferenceRatio,
		OverrideBaseAmount:  p.OverrideBaseAmount,
		OverrideQuoteAmount: p.OverrideQuoteAmount,
	}

	requestID, err := s.Admitter.Admit(req)
	if err != nil {
		if errors.Is(err, queue.ErrShuttingDown) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"code":  "SHUTTING_DOWN",
				"error": "service is shutting down",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "queued",
		"request_id":    requestID,
		"account_index": p.AccountIndex,
		"market_id":     info.MarketID,
		"symbol":        info.Symbol,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not enabled"})
		return
	}
	if s.Queue != nil {
		s.Metrics.SetQueueStats(s.Queue.Snapshot())
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getQueueMetrics(c *gin.Context) {
	if s.Queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue not ready"})
		return
	}
	c.JSON(http.StatusOK, s.Queue.Snapshot())
}
