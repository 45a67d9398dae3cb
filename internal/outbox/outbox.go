// Package outbox queues grid cell edits for delivery to the remote API.
// Edits are applied locally first; the outbox retries delivery in the
// background so a flaky network never blocks or rolls back a local change.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"expensegrid/internal/api"
	"expensegrid/internal/core"
)

// CellKey identifies one grid cell: a calendar day and a category within a
// month. Month is zero-based to match the grid model.
type CellKey struct {
	Year     int
	Month    int
	Day      int
	Category string
}

func (k CellKey) String() string {
	return fmt.Sprintf("%d-%d-%d/%s", k.Year, k.Month, k.Day, k.Category)
}

// Status is the delivery state of a cell's most recent edit.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// ErrFull is returned by Enqueue when the queue is at capacity and the cell
// has no pending item to supersede.
var ErrFull = errors.New("outbox is full")

// Sender delivers one cell edit to the remote API. *api.Client satisfies it.
type Sender interface {
	UpsertExpense(ctx context.Context, req api.UpsertRequest) (core.RemoteExpense, error)
}

// item is one queued cell edit. A newer Enqueue for the same cell replaces
// the item in place and resets its attempt count.
type item struct {
	key        CellKey
	amount     float64
	categoryID string
	attempts   int
	nextTry    time.Time
	enqueuedAt time.Time
}

// Config holds tunables for the outbox worker.
type Config struct {
	// Capacity is the max number of distinct pending cells.
	Capacity int

	// MaxRetries is the number of delivery attempts before a cell is
	// marked failed.
	MaxRetries int

	// PollInterval bounds how long the worker sleeps between due checks.
	PollInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:     256,
		MaxRetries:   3,
		PollInterval: time.Second,
	}
}

// Outbox is a bounded queue of cell edits with a background delivery worker.
type Outbox struct {
	sender Sender
	config Config

	mu      sync.Mutex
	pending map[CellKey]*item
	order   []CellKey
	status  map[CellKey]Status
	wake    chan struct{}

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates an outbox delivering through sender. sender may be nil when no
// remote is configured; Enqueue then marks cells failed immediately.
func New(sender Sender, config Config) *Outbox {
	if config.Capacity <= 0 {
		config.Capacity = DefaultConfig().Capacity
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	return &Outbox{
		sender:  sender,
		config:  config,
		pending: make(map[CellKey]*item),
		status:  make(map[CellKey]Status),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue queues a cell edit for delivery. A pending edit for the same cell
// is superseded: only the latest amount is ever delivered. Returns ErrFull
// when the queue is at capacity and the cell is not already pending.
func (o *Outbox) Enqueue(key CellKey, amount float64, categoryID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.pending[key]; ok {
		existing.amount = amount
		existing.categoryID = categoryID
		existing.attempts = 0
		existing.nextTry = time.Time{}
		existing.enqueuedAt = time.Now()
		o.status[key] = StatusPending
		o.signal()
		return nil
	}

	if len(o.pending) >= o.config.Capacity {
		return ErrFull
	}

	o.pending[key] = &item{
		key:        key,
		amount:     amount,
		categoryID: categoryID,
		enqueuedAt: time.Now(),
	}
	o.order = append(o.order, key)
	o.status[key] = StatusPending
	o.signal()
	return nil
}

// Status reports the delivery state of a cell. Cells never enqueued report
// StatusSynced: local values that were never edited have nothing to deliver.
func (o *Outbox) Status(key CellKey) Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.status[key]; ok {
		return s
	}
	return StatusSynced
}

// Len returns the number of pending cells.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Start begins the delivery loop. Returns an error if already running.
func (o *Outbox) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("outbox is already running")
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.mu.Unlock()

	go o.runLoop(ctx)

	slog.InfoContext(ctx, "Outbox started",
		"capacity", o.config.Capacity,
		"max_retries", o.config.MaxRetries)
	return nil
}

// Stop gracefully stops the worker and waits for completion.
func (o *Outbox) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	close(o.stopCh)

	select {
	case <-o.doneCh:
		slog.InfoContext(ctx, "Outbox stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Outbox stop timed out")
		return ctx.Err()
	}

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	return nil
}

// Flush blocks until the queue is empty or ctx is done. One-shot callers
// use it to drain pending edits before exiting.
func (o *Outbox) Flush(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if o.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Outbox) runLoop(ctx context.Context) {
	defer close(o.doneCh)

	timer := time.NewTimer(o.config.PollInterval)
	defer timer.Stop()

	for {
		o.drainDue(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(o.config.PollInterval)

		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-o.wake:
		case <-timer.C:
		}
	}
}

// drainDue attempts delivery of every item whose retry time has arrived.
func (o *Outbox) drainDue(ctx context.Context) {
	for {
		it, ok := o.nextDue()
		if !ok {
			return
		}
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		o.deliver(ctx, it)
	}
}

// nextDue pops the oldest item ready for an attempt, dropping keys of
// already-concluded cells as it scans. The item stays in the pending map so
// a concurrent Enqueue for the same cell supersedes it, but is moved to the
// back of the order so other cells get a turn.
func (o *Outbox) nextDue() (item, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	live := o.order[:0]
	var (
		found bool
		due   item
	)
	for _, key := range o.order {
		it, ok := o.pending[key]
		if !ok {
			continue
		}
		if !found && !it.nextTry.After(now) {
			found = true
			due = *it
			continue
		}
		live = append(live, key)
	}
	if found {
		live = append(live, due.key)
	}
	o.order = live
	return due, found
}

func (o *Outbox) deliver(ctx context.Context, it item) {
	if o.sender == nil {
		o.conclude(it, StatusFailed)
		slog.WarnContext(ctx, "No remote configured, marking cell failed",
			"cell", it.key.String())
		return
	}

	date := time.Date(it.key.Year, time.Month(it.key.Month+1), it.key.Day,
		0, 0, 0, 0, time.Local)
	_, err := o.sender.UpsertExpense(ctx, api.UpsertRequest{
		Amount:     it.amount,
		Date:       date.Format(time.RFC3339),
		CategoryID: it.categoryID,
	})
	if err == nil {
		o.conclude(it, StatusSynced)
		slog.DebugContext(ctx, "Cell synced", "cell", it.key.String())
		return
	}

	o.mu.Lock()
	current, ok := o.pending[it.key]
	if !ok || current.enqueuedAt.After(it.enqueuedAt) {
		// Superseded while in flight, let the newer edit drive the state.
		o.mu.Unlock()
		return
	}
	current.attempts++
	if current.attempts >= o.config.MaxRetries {
		delete(o.pending, it.key)
		o.status[it.key] = StatusFailed
		o.mu.Unlock()
		slog.ErrorContext(ctx, "Cell sync failed permanently",
			"cell", it.key.String(),
			"attempts", o.config.MaxRetries,
			"error", err)
		return
	}
	current.nextTry = time.Now().Add(exponentialBackoff(current.attempts - 1))
	attempts := current.attempts
	o.mu.Unlock()

	slog.WarnContext(ctx, "Cell sync attempt failed, will retry",
		"cell", it.key.String(),
		"attempt", attempts,
		"error", err)
}

// conclude removes the cell from the queue unless a newer edit superseded
// the delivered one, and records the terminal status.
func (o *Outbox) conclude(it item, status Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	current, ok := o.pending[it.key]
	if ok && current.enqueuedAt.After(it.enqueuedAt) {
		return
	}
	delete(o.pending, it.key)
	o.status[it.key] = status
}

// exponentialBackoff returns the wait before retry attempt n (zero-based):
// 1s, 2s, 4s, ... capped at 30 seconds.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := time.Second * time.Duration(1<<uint(attempt))
	if attempt > 4 || backoff > 30*time.Second {
		return 30 * time.Second
	}
	return backoff
}
