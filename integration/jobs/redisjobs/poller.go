package redisjobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/relay/core/logger"
)

// HandlerFunc processes one claimed identifier.
type HandlerFunc func(ctx context.Context, id uuid.UUID) error

// Poller claims due identifiers from a Queue and runs a handler for each.
type Poller struct {
	queue        *Queue
	handle       HandlerFunc
	pollInterval time.Duration
	batchSize    int
	concurrency  int
	retryDelay   time.Duration
	lease        time.Duration
	logger       *slog.Logger

	running   atomic.Bool
	lastPoll  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	mu        sync.Mutex
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollInterval sets how often the queue is polled.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithBatchSize caps the identifiers claimed per poll.
func WithBatchSize(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithConcurrency caps concurrently running handler calls.
func WithConcurrency(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRetryDelay sets how long a failed identifier waits before it is due again.
func WithRetryDelay(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.retryDelay = d
		}
	}
}

// WithVisibilityTimeout sets how long a claimed identifier stays hidden from
// other pollers. It must exceed the longest handler run.
func WithVisibilityTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.lease = d
		}
	}
}

// WithPollerLogger sets the logger.
func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPoller creates a poller for q.
func NewPoller(q *Queue, handle HandlerFunc, opts ...PollerOption) (*Poller, error) {
	if q == nil || q.client == nil {
		return nil, ErrClientNil
	}
	if q.kind == "" {
		return nil, ErrEmptyKind
	}
	if handle == nil {
		return nil, ErrHandlerNil
	}

	p := &Poller{
		queue:        q,
		handle:       handle,
		pollInterval: time.Second,
		batchSize:    50,
		concurrency:  4,
		retryDelay:   30 * time.Second,
		lease:        5 * time.Minute,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start polls until ctx is cancelled, then waits for in-flight handlers.
func (p *Poller) Start(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)

	log := p.logger.With(logger.Component("redisjobs"), slog.String("kind", p.queue.kind))
	log.InfoContext(ctx, "poller started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		p.Poll(ctx)
		select {
		case <-ctx.Done():
			log.InfoContext(context.WithoutCancel(ctx), "poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Run adapts Start for errgroup.
func (p *Poller) Run(ctx context.Context) func() error {
	return func() error {
		return p.Start(ctx)
	}
}

// Poll claims one batch and processes it. It returns once every handler
// call of the batch finished.
func (p *Poller) Poll(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastPoll.Store(time.Now().UnixNano())
	if ctx.Err() != nil {
		return 0
	}

	jobs, err := p.queue.Claim(ctx, p.batchSize, p.lease)
	if err != nil {
		p.logger.ErrorContext(ctx, "claim jobs failed",
			slog.String("kind", p.queue.kind), logger.Error(err))
	}
	if len(jobs) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			p.process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs)
}

func (p *Poller) process(ctx context.Context, job Job) {
	err := p.handle(ctx, job.ID)

	// Settling the lease must survive a cancelled poll context.
	settleCtx := context.WithoutCancel(ctx)
	log := p.logger.With(slog.String("kind", p.queue.kind), slog.String("id", job.ID.String()))

	if err == nil {
		p.processed.Add(1)
		if _, err := p.queue.Ack(settleCtx, job); err != nil {
			log.ErrorContext(settleCtx, "ack job failed", logger.Error(err))
		}
		return
	}
	p.failed.Add(1)

	at := p.queue.now().Add(p.retryDelay)
	log.WarnContext(settleCtx, "job failed, rescheduled", slog.Time("retry_at", at), logger.Error(err))
	if err := p.queue.Nack(settleCtx, job, at); err != nil {
		log.ErrorContext(settleCtx, "reschedule job failed", logger.Error(err))
	}
}

// PollerStats is a snapshot of poller counters.
type PollerStats struct {
	Kind      string
	Running   bool
	Processed int64
	Failed    int64
	// Queued is filled by callers that read the queue length.
	Queued int64
}

// Stats returns current counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Kind:      p.queue.Kind(),
		Running:   p.running.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Queue returns the polled queue.
func (p *Poller) Queue() *Queue { return p.queue }

// Healthcheck fails when the poller is stopped or has not polled for ten
// poll intervals.
func (p *Poller) Healthcheck(context.Context) error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	last := time.Unix(0, p.lastPoll.Load())
	if time.Since(last) > 10*p.pollInterval {
		return ErrPollStalled
	}
	return nil
}
