package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrShuttingDown is returned by Enqueue once Shutdown has begun.
var ErrShuttingDown = errors.New("queue: shutting down")

// Handler processes one admitted request. A handler must not panic to
// signal failure, but if it does the worker survives it.
type Handler func(ctx context.Context, requestID string, payload any)

type item struct {
	requestID string
	payload   any
	handler   Handler
}

// slot is the per-account arena entry: a FIFO plus the worker flag.
// Slots are created on first use and never deleted; a finished worker
// marks its slot idle so the next enqueue can start a fresh one.
type slot struct {
	items   []item
	running bool
}

// Manager guarantees strict in-order, non-overlapping processing per
// account while independent accounts run fully concurrently. Admission
// is synchronous and fast; execution is asynchronous. Queue depth is
// unbounded: a hung handler stalls its account's queue indefinitely,
// and nothing limits backlog growth.
type Manager struct {
	mu     sync.Mutex
	slots  map[int]*slot
	wg     sync.WaitGroup
	closed bool

	// baseCtx is handed to handlers; shutdown never cancels it because
	// in-flight work must drain, not abort.
	baseCtx context.Context
}

// NewManager creates an empty queue manager.
func NewManager() *Manager {
	return &Manager{
		slots:   make(map[int]*slot),
		baseCtx: context.Background(),
	}
}

// Enqueue admits a request for the account and returns immediately with
// the generated request id. Exactly one worker runs per account: if the
// slot is idle a new worker is started, otherwise the running one will
// reach this item in FIFO order.
func (m *Manager) Enqueue(accountIndex int, payload any, handler Handler) (string, error) {
	requestID := newRequestID()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrShuttingDown
	}
	s := m.slots[accountIndex]
	if s == nil {
		s = &slot{}
		m.slots[accountIndex] = s
	}
	s.items = append(s.items, item{requestID: requestID, payload: payload, handler: handler})
	if !s.running {
		s.running = true
		m.wg.Add(1)
		go m.worker(accountIndex, s)
	}
	m.mu.Unlock()

	log.Printf("queue: enqueued request %s for account %d", requestID, accountIndex)
	return requestID, nil
}

// worker drains the account's FIFO one item at a time and exits when it
// finds the queue empty. The slot flips to idle under the same lock, so
// a concurrent enqueue either sees the worker still running or starts a
// new one; two workers can never be live for one account.
func (m *Manager) worker(accountIndex int, s *slot) {
	defer m.wg.Done()
	log.Printf("queue: worker started for account %d", accountIndex)

	for {
		m.mu.Lock()
		if len(s.items) == 0 {
			s.running = false
			m.mu.Unlock()
			log.Printf("queue: worker stopped for account %d", accountIndex)
			return
		}
		it := s.items[0]
		s.items = s.items[1:]
		m.mu.Unlock()

		m.process(accountIndex, it)
	}
}

// process runs one handler invocation. A panic is logged and swallowed;
// a failing request must never take down its account's worker.
func (m *Manager) process(accountIndex int, it item) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("queue: handler panic for request %s (account %d): %v",
				it.requestID, accountIndex, r)
		}
	}()

	log.Printf("queue: processing request %s for account %d", it.requestID, accountIndex)
	it.handler(m.baseCtx, it.requestID, it.payload)
}

// Shutdown stops admissions, then waits for every queued item to be
// processed and every worker to exit. Workers are never cancelled
// mid-request; ctx only bounds how long the caller is willing to wait.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	log.Println("queue: shutting down, draining account queues")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("queue: shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: drain interrupted: %w", ctx.Err())
	}
}

// Stats is a point-in-time snapshot for the metrics endpoint.
type Stats struct {
	Accounts      int         `json:"accounts"`
	QueuedItems   int         `json:"queued_items"`
	ActiveWorkers int         `json:"active_workers"`
	Depths        map[int]int `json:"depths"`
}

// Snapshot reports queue depth per account and active worker count.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{Accounts: len(m.slots), Depths: make(map[int]int, len(m.slots))}
	for idx, s := range m.slots {
		st.Depths[idx] = len(s.items)
		st.QueuedItems += len(s.items)
		if s.running {
			st.ActiveWorkers++
		}
	}
	return st
}

// newRequestID builds a time-prefixed id with a random suffix. The time
// prefix keeps ids sortable in logs; the suffix makes collisions
// negligible.
func newRequestID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}
