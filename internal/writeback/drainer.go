package writeback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/mutator/internal/core"
)

var drainedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mutator_writeback_operations_total",
	Help: "Write-back operations applied by the drainer, by outcome.",
}, []string{"outcome"})

// OperationExecutor applies one queued write to the database.
type OperationExecutor interface {
	ExecuteWriteOperation(ctx context.Context, operation *core.WriteOperation) error
}

// DrainerConfig contains configuration for the drainer.
type DrainerConfig struct {
	// DrainRate is the maximum number of DB writes per second.
	DrainRate int

	// BatchSize is how many operations to dequeue at once.
	BatchSize int

	// PollInterval is how long to wait when the queue is empty.
	PollInterval time.Duration

	// MaxRetries is how many times a failed operation is retried before it
	// is dropped.
	MaxRetries int

	// RetryBackoff is the base of the exponential backoff between retries.
	RetryBackoff time.Duration

	// RetryBackoffMax caps the backoff.
	RetryBackoffMax time.Duration
}

// DefaultDrainerConfig returns sensible defaults for the drainer.
func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{
		DrainRate:       50,
		BatchSize:       1,
		PollInterval:    100 * time.Millisecond,
		MaxRetries:      3,
		RetryBackoff:    time.Second,
		RetryBackoffMax: 30 * time.Second,
	}
}

// DrainerStats counts what the drainer did since it was created.
type DrainerStats struct {
	Applied int64
	Retried int64
	Dropped int64
}

// Drainer moves operations from a write-back queue into the database at a
// bounded rate. Operations of one batch are applied in order; a failing
// operation is retried in place so later writes never overtake it.
type Drainer struct {
	queue    core.WriteBackQueue
	executor OperationExecutor
	config   DrainerConfig
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	stats   DrainerStats
}

// NewDrainer creates a drainer. Zero config fields take their defaults.
func NewDrainer(queue core.WriteBackQueue, executor OperationExecutor, config DrainerConfig, logger *slog.Logger) *Drainer {
	defaults := DefaultDrainerConfig()
	if config.DrainRate <= 0 {
		config.DrainRate = defaults.DrainRate
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if config.RetryBackoffMax < config.RetryBackoff {
		config.RetryBackoffMax = max(defaults.RetryBackoffMax, config.RetryBackoff)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Drainer{
		queue:    queue,
		executor: executor,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.DrainRate), 1),
		logger:   logger.With("component", "drainer"),
	}
}

// Start runs the drainer in a background goroutine until Stop is called or
// ctx is done. Starting a running drainer is a no-op.
func (d *Drainer) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.doneCh = make(chan struct{})

	go d.run(runCtx, d.doneCh)
	d.logger.Info("started", "drain_rate", d.config.DrainRate, "batch_size", d.config.BatchSize)
	return nil
}

// Stop stops the drainer and waits for the batch in progress to be applied.
func (d *Drainer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel, done := d.cancel, d.doneCh
	d.mu.Unlock()

	cancel()
	<-done
	d.logger.Info("stopped", "applied", d.Stats().Applied)
	return nil
}

// IsRunning returns whether the drainer is currently running.
func (d *Drainer) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// QueueSize returns the current size of the write-back queue.
func (d *Drainer) QueueSize() int {
	return d.queue.Size()
}

// Stats returns a copy of the drainer counters.
func (d *Drainer) Stats() DrainerStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Drainer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		n, err := d.DrainOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("dequeue failed", "error", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.config.PollInterval):
			}
		}
	}
}

// DrainOnce dequeues one batch and applies it, returning how many operations
// were taken from the queue. Once ctx is done the rest of the batch is still
// applied, without pacing or retry backoff.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	operations, err := d.queue.Dequeue(ctx, d.config.BatchSize)
	if err != nil && len(operations) == 0 {
		return 0, err
	}

	for _, op := range operations {
		if op == nil {
			continue
		}
		_ = d.limiter.Wait(ctx)
		d.apply(ctx, op)
	}
	return len(operations), nil
}

// apply executes op, retrying with exponential backoff up to MaxRetries.
func (d *Drainer) apply(ctx context.Context, op *core.WriteOperation) {
	execCtx := context.WithoutCancel(ctx)

	for {
		start := time.Now()
		err := d.executor.ExecuteWriteOperation(execCtx, op)
		if err == nil {
			d.count(func(s *DrainerStats) { s.Applied++ })
			drainedOperations.WithLabelValues("applied").Inc()
			d.logger.Debug("applied", "id", op.ID, "operation", op.Operation,
				"resource", op.Resource, "duration", time.Since(start))
			return
		}

		if op.RetryCount >= d.config.MaxRetries {
			d.count(func(s *DrainerStats) { s.Dropped++ })
			drainedOperations.WithLabelValues("dropped").Inc()
			d.logger.Error("dropping operation after retries", "id", op.ID,
				"operation", op.Operation, "resource", op.Resource,
				"retries", op.RetryCount, "error", err)
			return
		}

		op.RetryCount++
		d.count(func(s *DrainerStats) { s.Retried++ })
		drainedOperations.WithLabelValues("retried").Inc()
		backoff := d.backoff(op.RetryCount)
		d.logger.Warn("write failed, retrying", "id", op.ID, "attempt", op.RetryCount,
			"backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
}

func (d *Drainer) backoff(attempt int) time.Duration {
	wait := d.config.RetryBackoff
	for i := 1; i < attempt && wait < d.config.RetryBackoffMax; i++ {
		wait *= 2
	}
	return min(wait, d.config.RetryBackoffMax)
}

func (d *Drainer) count(fn func(*DrainerStats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}

// String describes the drainer for logs.
func (d *Drainer) String() string {
	return fmt.Sprintf("drainer(rate=%d/s, batch=%d)", d.config.DrainRate, d.config.BatchSize)
}
