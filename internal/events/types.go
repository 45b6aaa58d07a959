package events

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventTradeEnqueued Event = "trade.enqueued"
	EventTradeExecuted Event = "trade.executed"
	EventTradeFailed   Event = "trade.failed"
	EventStopUpdated   Event = "stop.updated"
	EventRiskAlert     Event = "risk_alert"
	EventHealthChanged Event = "health.changed"
)
