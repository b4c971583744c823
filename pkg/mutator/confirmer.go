package mutator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/mutator/internal/undo"
)

// ErrNothingPending is returned by Confirm and Undo when no undoable
// mutation is being presented.
var ErrNothingPending = errors.New("no undoable mutation pending")

var undoDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mutator_undo_decisions_total",
	Help: "Undoable mutations settled by the confirmer, by decision.",
}, []string{"decision"})

// ConfirmerConfig tunes a Confirmer.
type ConfirmerConfig struct {
	// UndoWindow is how long an entry is presented before it is confirmed.
	UndoWindow time.Duration

	// Rate limits confirmations per second. Zero means unlimited.
	Rate float64
}

// Confirmer consumes the undo queue one entry at a time, the way an undo
// notification does: the head entry is presented as Current until the user
// confirms or undoes it, or until UndoWindow elapses and it is confirmed.
type Confirmer struct {
	queue   *undo.Queue
	window  time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger

	advance chan struct{}

	mu      sync.Mutex
	current *undo.Entry
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConfirmer creates a confirmer for queue.
func NewConfirmer(queue *undo.Queue, cfg ConfirmerConfig, logger *slog.Logger) *Confirmer {
	if cfg.UndoWindow <= 0 {
		cfg.UndoWindow = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Confirmer{
		queue:   queue,
		window:  cfg.UndoWindow,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "confirmer"),
		advance: make(chan struct{}, 1),
	}
}

// Start presents queued entries in a background goroutine until Stop.
func (c *Confirmer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(runCtx, c.done)
	c.logger.Info("started", "undo_window", c.window)
	return nil
}

// Stop stops presenting entries and confirms every entry still pending,
// including the one being presented.
func (c *Confirmer) Stop() error {
	c.mu.Lock()
	if c.running {
		c.running = false
		cancel, done := c.cancel, c.done
		c.mu.Unlock()
		cancel()
		<-done
	} else {
		c.mu.Unlock()
	}

	confirmed := 0
	for {
		entry, ok := c.queue.Take()
		if !ok {
			break
		}
		c.settle(entry, false)
		confirmed++
	}
	if confirmed > 0 {
		c.logger.Info("confirmed pending mutations on shutdown", "count", confirmed)
	}
	return nil
}

// Current returns the entry being presented, or nil.
func (c *Confirmer) Current() *undo.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Confirm confirms the presented entry now.
func (c *Confirmer) Confirm() error {
	return c.decide(false)
}

// Undo cancels the presented entry. The cache is restored when Undo returns.
func (c *Confirmer) Undo() error {
	return c.decide(true)
}

func (c *Confirmer) decide(isUndo bool) error {
	entry := c.Current()
	if entry == nil {
		return ErrNothingPending
	}
	if err := c.settle(entry, isUndo); err != nil {
		return err
	}

	select {
	case c.advance <- struct{}{}:
	default:
	}
	return nil
}

func (c *Confirmer) settle(entry *undo.Entry, isUndo bool) error {
	decision := "confirmed"
	if isUndo {
		decision = "undone"
	}
	if err := entry.Invoke(isUndo); err != nil {
		return err
	}
	undoDecisions.WithLabelValues(decision).Inc()
	c.logger.Debug("entry settled", "id", entry.ID, "resource", entry.Resource,
		"action", entry.Action, "decision", decision)
	return nil
}

func (c *Confirmer) setCurrent(entry *undo.Entry) {
	c.mu.Lock()
	c.current = entry
	c.mu.Unlock()
}

func (c *Confirmer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		entry, ok := c.next(ctx)
		if !ok {
			return
		}
		if !c.present(ctx, entry) {
			return
		}
	}
}

// next blocks until an entry can be taken or ctx is done.
func (c *Confirmer) next(ctx context.Context) (*undo.Entry, bool) {
	for {
		if entry, ok := c.queue.Take(); ok {
			return entry, true
		}
		select {
		case <-c.queue.Wait():
		case <-ctx.Done():
			return nil, false
		}
	}
}

// present shows entry until it is settled. It returns false once ctx is done;
// the entry is confirmed in that case.
func (c *Confirmer) present(ctx context.Context, entry *undo.Entry) bool {
	c.setCurrent(entry)
	defer c.setCurrent(nil)

	timer := time.NewTimer(c.window)
	defer timer.Stop()

	for {
		select {
		case <-c.advance:
			if consumed, _ := entry.Consumed(); consumed {
				return true
			}
		case <-timer.C:
			if err := c.limiter.Wait(ctx); err != nil {
				c.settleQuietly(entry)
				return false
			}
			c.settleQuietly(entry)
			return true
		case <-ctx.Done():
			c.settleQuietly(entry)
			return false
		}
	}
}

// settleQuietly confirms entry unless the user already decided.
func (c *Confirmer) settleQuietly(entry *undo.Entry) {
	if err := c.settle(entry, false); err != nil && !errors.Is(err, undo.ErrEntryConsumed) {
		c.logger.Warn("failed to confirm entry", "id", entry.ID, "error", err)
	}
}
