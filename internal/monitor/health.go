package monitor

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"copytrade-core/internal/events"
	"copytrade-core/pkg/exchanges/common"
)

// DefaultHealthInterval is the poll period when none is configured.
const DefaultHealthInterval = 5 * time.Second

// HealthStatus is the exported view of the checker's state.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Health polls the exchange liveness probe on a fixed interval and tracks
// a single healthy/unhealthy flag. The API layer consults it to reject
// trade admissions while the venue is unreachable.
type Health struct {
	pinger   common.Pinger
	interval time.Duration
	bus      *events.Bus

	// Latency, when set, receives the round-trip time of each probe.
	Latency *LatencyHistogram

	healthy atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	lastErr   string
	checked   bool
}

// NewHealth builds a checker. interval <= 0 uses DefaultHealthInterval;
// bus may be nil.
func NewHealth(pinger common.Pinger, interval time.Duration, bus *events.Bus) *Health {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &Health{pinger: pinger, interval: interval, bus: bus}
}

// Healthy reports the result of the most recent probe.
func (h *Health) Healthy() bool {
	return h.healthy.Load()
}

// Status returns the full checker state for the health endpoint.
func (h *Health) Status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthStatus{
		Healthy:   h.healthy.Load(),
		LastCheck: h.lastCheck,
		LastError: h.lastErr,
	}
}

// Run polls until ctx is cancelled. The first probe fires immediately so
// startup does not report unhealthy for a full interval.
func (h *Health) Run(ctx context.Context) {
	h.check(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check(ctx)
		}
	}
}

func (h *Health) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, h.interval)
	start := time.Now()
	err := h.pinger.Ping(probeCtx)
	cancel()
	if h.Latency != nil {
		h.Latency.RecordDuration(time.Since(start))
	}

	ok := err == nil
	prev := h.healthy.Swap(ok)

	h.mu.Lock()
	h.lastCheck = time.Now()
	if err != nil {
		h.lastErr = err.Error()
	} else {
		h.lastErr = ""
	}
	first := !h.checked
	h.checked = true
	h.mu.Unlock()

	if first || prev != ok {
		if ok {
			log.Println("monitor: exchange connection healthy")
		} else {
			log.Printf("monitor: exchange connection unhealthy: %v", err)
		}
		if h.bus != nil {
			h.bus.Publish(events.EventHealthChanged, HealthStatus{
				Healthy:   ok,
				LastCheck: time.Now(),
				LastError: h.lastErrLocked(),
			})
		}
	}
}

func (h *Health) lastErrLocked() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}
