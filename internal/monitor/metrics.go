package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"copytrade-core/internal/queue"
)

// SystemMetrics tracks execution core performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	TradeLatency   *LatencyHistogram
	GatewayLatency *LatencyHistogram
	APILatency     *LatencyHistogram

	// Counters
	tradesEnqueued uint64
	tradesExecuted uint64
	tradesFailed   uint64
	stopsUpdated   uint64
	errorsCount    uint64
	apiRequests    uint64
	apiErrors      uint64

	// Queue stats, updated from the queue manager on each snapshot.
	queueStats queue.Stats

	lastUpdate time.Time
}

// LatencyHistogram tracks latency samples with a sliding window and
// lazily recomputed summary stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		TradeLatency:   NewLatencyHistogram(1000),
		GatewayLatency: NewLatencyHistogram(1000),
		APILatency:     NewLatencyHistogram(1000),
		lastUpdate:     time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when the
// sample window has changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementEnqueued increments the admitted trades counter.
func (m *SystemMetrics) IncrementEnqueued() {
	atomic.AddUint64(&m.tradesEnqueued, 1)
}

// IncrementExecuted increments the executed trades counter.
func (m *SystemMetrics) IncrementExecuted() {
	atomic.AddUint64(&m.tradesExecuted, 1)
}

// IncrementFailed increments the failed trades counter.
func (m *SystemMetrics) IncrementFailed() {
	atomic.AddUint64(&m.tradesFailed, 1)
}

// IncrementStopsUpdated increments the stop refresh counter.
func (m *SystemMetrics) IncrementStopsUpdated() {
	atomic.AddUint64(&m.stopsUpdated, 1)
}

// IncrementErrors increments the error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// IncrementAPI increments the handled API requests counter.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors increments the 4xx/5xx response counter.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// SetQueueStats updates the queue snapshot shown in metrics.
func (m *SystemMetrics) SetQueueStats(stats queue.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueStats = stats
}

// MetricsSnapshot is a point-in-time view for the metrics endpoint.
type MetricsSnapshot struct {
	TradeLatency   LatencyStats `json:"trade_latency"`
	GatewayLatency LatencyStats `json:"gateway_latency"`
	APILatency     LatencyStats `json:"api_latency"`
	TradesEnqueued uint64       `json:"trades_enqueued"`
	TradesExecuted uint64       `json:"trades_executed"`
	TradesFailed   uint64       `json:"trades_failed"`
	StopsUpdated   uint64       `json:"stops_updated"`
	ErrorsCount    uint64       `json:"errors_count"`
	APIRequests    uint64       `json:"api_requests"`
	APIErrors      uint64       `json:"api_errors"`
	Queue          queue.Stats  `json:"queue"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
	HeapSys        uint64       `json:"heap_sys_bytes"`
	Timestamp      time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	qs := m.queueStats
	m.mu.RUnlock()

	return MetricsSnapshot{
		TradeLatency:   m.TradeLatency.Stats(),
		GatewayLatency: m.GatewayLatency.Stats(),
		APILatency:     m.APILatency.Stats(),
		TradesEnqueued: atomic.LoadUint64(&m.tradesEnqueued),
		TradesExecuted: atomic.LoadUint64(&m.tradesExecuted),
		TradesFailed:   atomic.LoadUint64(&m.tradesFailed),
		StopsUpdated:   atomic.LoadUint64(&m.stopsUpdated),
		ErrorsCount:    atomic.LoadUint64(&m.errorsCount),
		APIRequests:    atomic.LoadUint64(&m.apiRequests),
		APIErrors:      atomic.LoadUint64(&m.apiErrors),
		Queue:          qs,
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		HeapSys:        memStats.HeapSys,
		Timestamp:      time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
