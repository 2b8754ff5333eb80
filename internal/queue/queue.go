// Package queue admits query work into per-priority worker pools. Each
// priority tier owns its own channel and workers, so a flood of low-priority
// work can never starve high-priority submissions.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeonAdeoye/query-service/internal/config"
	"github.com/LeonAdeoye/query-service/internal/errcode"
	"github.com/LeonAdeoye/query-service/internal/query"
)

// Task is the unit of admitted work. The executor runs once; its outcome is
// delivered to exactly one waiter.
type Task func(ctx context.Context) (*query.Result, error)

// Timing reports how long an admitted item sat waiting for a worker and how
// long it ran. Measured by the worker and delivered with the outcome, so a
// caller that abandoned the wait never shares memory with the worker.
type Timing struct {
	Wait time.Duration
	Run  time.Duration
}

type outcome struct {
	result *query.Result
	timing Timing
	err    error
}

type item struct {
	id       string
	priority query.Priority
	task     Task
	enqueued time.Time
	done     chan outcome
	once     sync.Once
}

func (it *item) complete(res *query.Result, timing Timing, err error) {
	it.once.Do(func() {
		it.done <- outcome{result: res, timing: timing, err: err}
	})
}

// Manager owns one buffered channel and worker pool per priority tier and a
// shared admission bound across all tiers.
type Manager struct {
	logger   *slog.Logger
	tiers    map[query.Priority]chan *item
	workers  map[query.Priority]int
	maxDepth int64
	depth    atomic.Int64
	wg       sync.WaitGroup
	intake   sync.RWMutex
	stopped  atomic.Bool
	onDepth  func(p query.Priority, depth int)
}

func NewManager(cfg config.QueueConfig, logger *slog.Logger) *Manager {
	workers := map[query.Priority]int{
		query.PriorityHigh:   cfg.HighPriorityWorkers,
		query.PriorityNormal: cfg.NormalWorkers,
		query.PriorityLow:    cfg.LowPriorityWorkers,
	}
	tiers := make(map[query.Priority]chan *item, len(workers))
	for _, p := range query.Priorities() {
		tiers[p] = make(chan *item, cfg.MaxQueueSize)
	}
	return &Manager{
		logger:   logger,
		tiers:    tiers,
		workers:  workers,
		maxDepth: int64(cfg.MaxQueueSize),
	}
}

// SetDepthObserver registers a callback invoked whenever a tier's pending
// count changes. Used to feed the queue depth gauge.
func (m *Manager) SetDepthObserver(fn func(p query.Priority, depth int)) {
	m.onDepth = fn
}

// Start launches the per-tier worker goroutines.
func (m *Manager) Start() {
	for _, p := range query.Priorities() {
		for i := 0; i < m.workers[p]; i++ {
			m.wg.Add(1)
			go m.worker(p)
		}
	}
	m.logger.Info("queue started",
		slog.Int("high_workers", m.workers[query.PriorityHigh]),
		slog.Int("normal_workers", m.workers[query.PriorityNormal]),
		slog.Int("low_workers", m.workers[query.PriorityLow]),
		slog.Int64("max_queue_size", m.maxDepth))
}

// Stop closes intake and waits for workers to drain admitted work. Items
// already admitted still execute to completion. The intake lock excludes
// in-flight Submits, so a tier channel is never closed mid-send.
func (m *Manager) Stop() {
	m.intake.Lock()
	if m.stopped.Swap(true) {
		m.intake.Unlock()
		return
	}
	for _, ch := range m.tiers {
		close(ch)
	}
	m.intake.Unlock()
	m.wg.Wait()
	m.logger.Info("queue stopped")
}

// Submit admits the task into its priority tier and blocks until the task
// completes or ctx is cancelled. Admission fails fast with a queue-full
// error when the shared bound is reached. Once admitted the task runs to
// completion even if the caller abandons the wait; the returned Timing is
// zero in that case.
func (m *Manager) Submit(ctx context.Context, id string, priority query.Priority, task Task) (*query.Result, Timing, error) {
	it := &item{id: id, priority: priority, task: task, enqueued: time.Now(), done: make(chan outcome, 1)}
	if err := m.admit(it); err != nil {
		return nil, Timing{}, err
	}

	select {
	case out := <-it.done:
		return out.result, out.timing, out.err
	case <-ctx.Done():
		// The item stays admitted; the worker will still run it.
		return nil, Timing{}, ctx.Err()
	}
}

// admit holds the intake read lock across the stopped check and the tier
// send, so it can never race a concurrent Stop closing the channel.
func (m *Manager) admit(it *item) error {
	m.intake.RLock()
	defer m.intake.RUnlock()

	if m.stopped.Load() {
		return errcode.New(errcode.QueueFull, "queue is shutting down")
	}
	for {
		current := m.depth.Load()
		if current >= m.maxDepth {
			return errcode.New(errcode.QueueFull, "queue is full: %d pending items", current)
		}
		if m.depth.CompareAndSwap(current, current+1) {
			break
		}
	}

	select {
	case m.tiers[it.priority] <- it:
		m.observeDepth(it.priority)
		return nil
	default:
		// Tier channel full even though the shared bound admitted us.
		m.depth.Add(-1)
		return errcode.New(errcode.QueueFull, "priority tier %s is full", it.priority)
	}
}

func (m *Manager) worker(priority query.Priority) {
	defer m.wg.Done()
	for it := range m.tiers[priority] {
		m.run(it)
	}
}

func (m *Manager) run(it *item) {
	defer func() {
		m.depth.Add(-1)
		m.observeDepth(it.priority)
	}()
	waited := time.Since(it.enqueued)
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("queued task panicked",
				slog.String("query_id", it.id),
				slog.Any("panic", r))
			it.complete(nil, Timing{Wait: waited, Run: time.Since(started)},
				errcode.New(errcode.Unknown, "query %s panicked during execution", it.id))
		}
	}()
	// Admitted work runs under a fresh context; a submitter abandoning the
	// wait must not cancel a statement mid-flight.
	res, err := it.task(context.Background())
	it.complete(res, Timing{Wait: waited, Run: time.Since(started)}, err)
}

func (m *Manager) observeDepth(p query.Priority) {
	if m.onDepth != nil {
		m.onDepth(p, len(m.tiers[p]))
	}
}

// Depth reports the total number of admitted, not-yet-finished items.
func (m *Manager) Depth() int {
	return int(m.depth.Load())
}
