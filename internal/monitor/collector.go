package monitor

import (
	"context"
	"log"

	"copytrade-core/internal/events"
)

// Collector feeds trade lifecycle events into the metrics counters so the
// pipeline never has to know about metrics directly.
type Collector struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
}

// Start subscribes to the bus and counts events until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	if c.Bus == nil || c.Metrics == nil {
		log.Println("monitor: collector not fully configured; skipping")
		return
	}

	enqueued, unsubEnq := c.Bus.Subscribe(events.EventTradeEnqueued, 64)
	executed, unsubExec := c.Bus.Subscribe(events.EventTradeExecuted, 64)
	failed, unsubFail := c.Bus.Subscribe(events.EventTradeFailed, 64)
	stops, unsubStop := c.Bus.Subscribe(events.EventStopUpdated, 64)

	go func() {
		defer unsubEnq()
		defer unsubExec()
		defer unsubFail()
		defer unsubStop()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-enqueued:
				if !ok {
					return
				}
				c.Metrics.IncrementEnqueued()
			case _, ok := <-executed:
				if !ok {
					return
				}
				c.Metrics.IncrementExecuted()
			case _, ok := <-failed:
				if !ok {
					return
				}
				c.Metrics.IncrementFailed()
				c.Metrics.IncrementErrors()
			case _, ok := <-stops:
				if !ok {
					return
				}
				c.Metrics.IncrementStopsUpdated()
			}
		}
	}()
}
