package api

import (
	"context"
	"net/http"
	"time"

	"copytrade-core/internal/events"
	"copytrade-core/internal/monitor"
	"copytrade-core/internal/queue"
	"copytrade-core/internal/trade"
	"copytrade-core/pkg/config"
	"copytrade-core/pkg/exchanges/common"

	"github.com/gin-gonic/gin"
)

// Admitter accepts a validated trade request into the per-account queue
// and returns the generated request id. Satisfied by the wiring in main.
type Admitter interface {
	Admit(req trade.Request) (string, error)
}

// Resolver is the slice of the market cache the API needs to validate
// identifiers synchronously at admission time.
type Resolver interface {
	Resolve(ctx context.Context, marketID *int, symbol string) (common.MarketInfo, error)
}

// Server wires the HTTP surface around the execution core.
type Server struct {
	Router   *gin.Engine
	Cfg      *config.Config
	Bus      *events.Bus
	Queue    *queue.Manager
	Admitter Admitter
	Resolver Resolver
	Health   *monitor.Health
	Metrics  *monitor.SystemMetrics
}

func NewServer(cfg *config.Config, bus *events.Bus, q *queue.Manager,
	admitter Admitter, resolver Resolver, health *monitor.Health,
	metrics *monitor.SystemMetrics) *Server {

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Cfg:      cfg,
		Bus:      bus,
		Queue:    q,
		Admitter: admitter,
		Resolver: resolver,
		Health:   health,
		Metrics:  metrics,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.Cfg.APIKey, s.Cfg.JWTSecret))
		{
			protected.POST("/trade", s.submitTrade)
			protected.GET("/metrics", s.getMetrics)
			protected.GET("/queue/metrics", s.getQueueMetrics)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	status := monitor.HealthStatus{Healthy: true}
	if s.Health != nil {
		status = s.Health.Status()
	}
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     statusWord(status.Healthy),
		"last_check": status.LastCheck,
		"last_error": status.LastError,
	})
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
