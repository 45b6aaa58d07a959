package trade

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Attempter is one attempt of a trade. Satisfied by *Executor.
type Attempter interface {
	Execute(ctx context.Context, req Request) Outcome
}

// Runner drives an Attempter with a bounded, fixed-interval retry loop:
// maxRetries+1 attempts at most, stopping early on success or on a
// no-retry outcome. Attempts never overlap; the account worker calling
// Run stays busy for the whole loop, which preserves per-account ordering.
type Runner struct {
	attempter  Attempter
	maxRetries int
	interval   time.Duration
	notifier   Notifier

	sleep func(time.Duration)
}

// NewRunner builds a retry runner. notifier may be nil.
func NewRunner(attempter Attempter, maxRetries int, interval time.Duration, notifier Notifier) *Runner {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Runner{
		attempter:  attempter,
		maxRetries: maxRetries,
		interval:   interval,
		notifier:   notifier,
		sleep:      time.Sleep,
	}
}

// Run executes the request until it succeeds, hits a no-retry failure, or
// exhausts every attempt. Exhaustion returns the last outcome and raises a
// notification; the caller has already detached, so nothing else would
// surface the failure.
func (r *Runner) Run(ctx context.Context, req Request) Outcome {
	attempts := r.maxRetries + 1
	var out Outcome

	for attempt := 1; attempt <= attempts; attempt++ {
		out = r.attempt(ctx, req)
		if out.Success {
			if attempt > 1 {
				log.Printf("trade: request %s succeeded on attempt %d/%d",
					req.RequestID, attempt, attempts)
			}
			return out
		}
		if out.NoRetry {
			log.Printf("trade: request %s failed without retry: %s", req.RequestID, out.Error)
			return out
		}
		if attempt < attempts {
			log.Printf("trade: attempt %d/%d failed for request %s: %s; retrying in %s",
				attempt, attempts, req.RequestID, out.Error, r.interval)
			r.sleep(r.interval)
		}
	}

	log.Printf("trade: request %s failed after %d attempts: %s",
		req.RequestID, attempts, out.Error)
	r.notifier.NotifyError("Trade Retry Exhausted",
		fmt.Sprintf("all %d attempts failed, last error: %s", attempts, out.Error),
		req.Context())
	return out
}

// attempt shields the loop from a panicking Attempter; a panic counts as
// one failed, retryable attempt.
func (r *Runner) attempt(ctx context.Context, req Request) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("trade: panic in attempt for request %s: %v", req.RequestID, rec)
			out = failure("unexpected panic: %v", rec)
			out.RequestID = req.RequestID
		}
	}()
	return r.attempter.Execute(ctx, req)
}
