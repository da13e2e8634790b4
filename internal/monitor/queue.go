package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geowatch/geowatch/internal/resilience"
)

// Task is one unit of work: check a zone at a scheduling epoch.
type Task struct {
	ZoneID string
	Epoch  time.Time
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	// Workers is the number of concurrent check workers.
	Workers int

	// QueueDepth bounds the task channel; Submit refuses when full.
	QueueDepth int

	// MaxAttempts is the total attempt budget per task, including the first.
	MaxAttempts int

	// RetryBackoff is the delay before the first retry; each subsequent
	// retry doubles it.
	RetryBackoff time.Duration

	// SoftTimeout cancels one check attempt via its context. A
	// soft-timed-out attempt counts as transient and is retried against
	// the budget.
	SoftTimeout time.Duration

	// HardTimeout is the per-attempt deadline after which the worker
	// abandons the attempt even if the checker ignores cancellation.
	// Abandonment is transient; the remaining budget still applies.
	HardTimeout time.Duration
}

// DefaultPoolConfig returns production defaults for the worker pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      4,
		QueueDepth:   256,
		MaxAttempts:  3,
		RetryBackoff: 60 * time.Second,
		SoftTimeout:  540 * time.Second,
		HardTimeout:  600 * time.Second,
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
	Completed int64 `json:"completed"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
	InFlight  int64 `json:"in_flight"`
}

// Pool is a fixed-size worker pool with per-zone leases. At most one task
// per zone is queued or running at any time; Submit refuses duplicates, so
// an overlapping dispatch round cannot double-check a slow zone.
type Pool struct {
	cfg     PoolConfig
	checker *Checker
	tasks   chan Task
	logger  *zap.Logger

	mu     sync.Mutex
	leases map[string]struct{}

	submitted atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// NewPool creates a worker pool that runs checks through the given Checker.
func NewPool(checker *Checker, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 60 * time.Second
	}
	if cfg.SoftTimeout <= 0 {
		cfg.SoftTimeout = 540 * time.Second
	}
	if cfg.HardTimeout <= cfg.SoftTimeout {
		cfg.HardTimeout = cfg.SoftTimeout + time.Minute
	}
	return &Pool{
		cfg:     cfg,
		checker: checker,
		tasks:   make(chan Task, cfg.QueueDepth),
		logger:  zap.L().With(zap.String("component", "pool")),
		leases:  make(map[string]struct{}),
	}
}

// Submit enqueues a check task. It returns false without blocking when the
// zone already holds a lease or the queue is full.
func (p *Pool) Submit(zoneID string, epoch time.Time) bool {
	p.mu.Lock()
	if _, held := p.leases[zoneID]; held {
		p.mu.Unlock()
		p.rejected.Add(1)
		return false
	}
	p.leases[zoneID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.tasks <- Task{ZoneID: zoneID, Epoch: epoch}:
		p.submitted.Add(1)
		return true
	default:
		p.release(zoneID)
		p.rejected.Add(1)
		p.logger.Warn("queue full, task refused", zap.String("zone_id", zoneID))
		return false
	}
}

// Run starts the workers and blocks until ctx is canceled and all in-flight
// tasks have drained.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case task := <-p.tasks:
					p.runTask(ctx, task)
				}
			}
		})
	}
	return g.Wait()
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: p.completed.Load(),
		Retried:   p.retried.Load(),
		Failed:    p.failed.Load(),
		InFlight:  p.inFlight.Load(),
	}
}

func (p *Pool) release(zoneID string) {
	p.mu.Lock()
	delete(p.leases, zoneID)
	p.mu.Unlock()
}

// runTask executes one task with bounded retries, holding the zone lease
// for the whole attempt sequence. Both timeouts are scoped per attempt:
// a timed-out attempt counts as transient and the remaining budget still
// applies.
func (p *Pool) runTask(ctx context.Context, task Task) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	defer p.release(task.ZoneID)

	log := p.logger.With(zap.String("zone_id", task.ZoneID), zap.Time("epoch", task.Epoch))

	backoffCfg := resilience.RetryConfig{
		MaxAttempts:    p.cfg.MaxAttempts,
		InitialBackoff: p.cfg.RetryBackoff,
		MaxBackoff:     4 * p.cfg.RetryBackoff,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		outcome, err := p.attempt(ctx, task)
		if err == nil {
			p.completed.Add(1)
			log.Debug("task complete", zap.String("outcome", string(outcome)), zap.Int("attempt", attempt+1))
			return
		}
		lastErr = err

		if outcome != OutcomeTransientError || ctx.Err() != nil {
			break
		}
		if attempt >= p.cfg.MaxAttempts-1 {
			break
		}

		delay := resilience.Backoff(attempt, backoffCfg)
		p.retried.Add(1)
		log.Warn("check attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = eris.Wrap(ctx.Err(), "pool: shutdown during backoff")
			attempt = p.cfg.MaxAttempts // force exit
		case <-timer.C:
		}
	}

	p.failed.Add(1)
	log.Error("task abandoned", zap.Error(lastErr))
}

type attemptResult struct {
	outcome Outcome
	err     error
}

// attempt runs one check in its own goroutine so the worker can abandon
// it at the hard deadline even if the checker ignores cancellation.
// Panics and deadline hits come back as transient errors.
func (p *Pool) attempt(ctx context.Context, task Task) (Outcome, error) {
	hardCtx, hardCancel := context.WithTimeout(ctx, p.cfg.HardTimeout)
	defer hardCancel()
	softCtx, softCancel := context.WithTimeout(hardCtx, p.cfg.SoftTimeout)
	defer softCancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{
					outcome: OutcomeTransientError,
					err:     resilience.NewTransientError(eris.Errorf("pool: check panicked: %v", r), 0),
				}
			}
		}()
		outcome, err := p.checker.Check(softCtx, task.ZoneID, task.Epoch)
		done <- attemptResult{outcome: outcome, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && softCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return OutcomeTransientError, resilience.NewTransientError(eris.Wrap(r.err, "pool: soft timeout"), 0)
		}
		return r.outcome, r.err
	case <-hardCtx.Done():
		if ctx.Err() != nil {
			return OutcomeTransientError, eris.Wrap(ctx.Err(), "pool: shutdown during attempt")
		}
		return OutcomeTransientError, resilience.NewTransientError(eris.New("pool: hard timeout, attempt abandoned"), 0)
	}
}
