package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/logger"
	"github.com/dmitrymomot/relay/core/sanitizer"
	"github.com/dmitrymomot/relay/pkg/async"
	"github.com/dmitrymomot/relay/pkg/backoff"
)

const (
	// MaxHandlerErrorLength caps the per-handler message in execution records.
	MaxHandlerErrorLength = 1000
	// MaxLastErrorLength caps the aggregated failure message of an envelope.
	MaxLastErrorLength = 4000
)

// Scope opens an isolated resource scope for one handler execution, such as
// a dedicated database connection. The returned release func is always called.
type Scope func(ctx context.Context) (context.Context, func(), error)

// Orchestrator runs every handler of a claimed envelope and advances its
// state machine.
type Orchestrator struct {
	store     EnvelopeStore
	registry  *Registry
	scheduler Scheduler
	logger    *slog.Logger

	maxConcurrency int
	maxAttempts    int
	handlerTimeout time.Duration
	leaseTimeout   time.Duration
	backoff        backoff.Policy
	scope          Scope
	middleware     []Middleware
	now            func() time.Time

	processed    atomic.Int64
	completed    atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
	active       atomic.Int32
}

// OrchestratorStats provides observability counters.
type OrchestratorStats struct {
	Processed    int64 // envelopes claimed and run to an outcome
	Completed    int64
	Failed       int64 // attempts that ended retryable
	DeadLettered int64
	Active       int32 // envelopes currently in flight
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*orchestratorOptions)

type orchestratorOptions struct {
	maxAttempts    int
	maxConcurrency int
	handlerTimeout time.Duration
	leaseTimeout   time.Duration
	backoff        backoff.Policy
	scope          Scope
	middleware     []Middleware
	logger         *slog.Logger
	now            func() time.Time
}

// WithMaxAttempts sets how many failed attempts dead-letter an envelope.
func WithMaxAttempts(n int) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithMaxConcurrency bounds how many handlers of one envelope run at once.
func WithMaxConcurrency(n int) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// WithHandlerTimeout bounds each handler execution.
func WithHandlerTimeout(d time.Duration) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if d > 0 {
			o.handlerTimeout = d
		}
	}
}

// WithLeaseTimeout sets how long a Processing claim is honoured before
// another run may take the envelope over.
func WithLeaseTimeout(d time.Duration) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if d > 0 {
			o.leaseTimeout = d
		}
	}
}

// WithBackoff overrides the retry delay policy.
func WithBackoff(p backoff.Policy) OrchestratorOption {
	return func(o *orchestratorOptions) { o.backoff = p }
}

// WithScope sets the per-handler resource scope.
func WithScope(s Scope) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if s != nil {
			o.scope = s
		}
	}
}

// WithMiddleware wraps every handler. The first middleware is outermost.
func WithMiddleware(mw ...Middleware) OrchestratorOption {
	return func(o *orchestratorOptions) { o.middleware = append(o.middleware, mw...) }
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOrchestratorClock overrides the time source.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store EnvelopeStore, registry *Registry, scheduler Scheduler, opts ...OrchestratorOption) (*Orchestrator, error) {
	switch {
	case store == nil:
		return nil, ErrStoreNil
	case registry == nil:
		return nil, ErrRegistryNil
	case scheduler == nil:
		return nil, ErrSchedulerNil
	}

	cfg := DefaultConfig()
	options := &orchestratorOptions{
		maxAttempts:    cfg.MaxAttempts,
		maxConcurrency: cfg.MaxConcurrency,
		handlerTimeout: cfg.HandlerTimeout,
		leaseTimeout:   cfg.LeaseTimeout,
		backoff:        backoff.Default(),
		scope:          noScope,
		logger:         logger.Discard(),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Orchestrator{
		store:          store,
		registry:       registry,
		scheduler:      scheduler,
		logger:         options.logger,
		maxConcurrency: options.maxConcurrency,
		maxAttempts:    options.maxAttempts,
		handlerTimeout: options.handlerTimeout,
		leaseTimeout:   options.leaseTimeout,
		backoff:        options.backoff,
		scope:          options.scope,
		middleware:     options.middleware,
		now:            options.now,
	}, nil
}

// NewOrchestratorFromConfig creates an orchestrator from configuration.
// Additional options override config values.
func NewOrchestratorFromConfig(cfg Config, store EnvelopeStore, registry *Registry, scheduler Scheduler, opts ...OrchestratorOption) (*Orchestrator, error) {
	allOpts := append([]OrchestratorOption{
		WithMaxAttempts(cfg.MaxAttempts),
		WithMaxConcurrency(cfg.MaxConcurrency),
		WithHandlerTimeout(cfg.HandlerTimeout),
		WithLeaseTimeout(cfg.LeaseTimeout),
	}, opts...)
	return NewOrchestrator(store, registry, scheduler, allOpts...)
}

// Process runs one attempt for the envelope identified by id.
//
// Handler failures are recorded on the envelope and do not produce an error.
// An error is returned only for infrastructure failures, so the job
// substrate can retry the notification. If ctx is cancelled while handlers
// run, nothing is persisted and the envelope keeps its claimed state until
// the lease expires.
func (o *Orchestrator) Process(ctx context.Context, id uuid.UUID) error {
	env, err := o.store.Get(ctx, id)
	if errors.Is(err, ErrEnvelopeNotFound) {
		o.logger.WarnContext(ctx, "envelope not found", logger.EnvelopeID(id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load envelope %s: %w", id, err)
	}
	if env.Status.Terminal() {
		o.logger.DebugContext(ctx, "envelope already terminal, skipping",
			logger.EnvelopeID(id), logger.Status(env.Status))
		return nil
	}

	// Microsecond precision keeps the claim token stable across database round trips.
	claimedAt := o.now().Truncate(time.Microsecond)
	env, err = o.store.Claim(ctx, id, claimedAt, claimedAt.Add(-o.leaseTimeout))
	if errors.Is(err, ErrNotClaimable) {
		o.logger.DebugContext(ctx, "envelope not claimable, skipping", logger.EnvelopeID(id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim envelope %s: %w", id, err)
	}

	o.active.Add(1)
	defer o.active.Add(-1)

	attempt := env.Attempts + 1
	ctx = WithEnvelopeID(ctx, env.ID)
	ctx = WithAttempt(ctx, attempt)
	ctx = WithCorrelationKey(ctx, env.CorrelationKey)

	cmd, err := o.registry.Decode(env.CommandType, env.Payload)
	if err != nil {
		return o.deadLetter(ctx, env, claimedAt, err)
	}

	executors := o.registry.Executors(cmd)
	if len(executors) == 0 {
		return o.complete(ctx, env, claimedAt)
	}

	records := o.fanOut(ctx, cmd, executors, attempt)
	if ctx.Err() != nil {
		o.logger.WarnContext(ctx, "orchestration cancelled, leaving envelope claimed",
			logger.EnvelopeID(env.ID), logger.Error(ctx.Err()))
		return ctx.Err()
	}

	env.ExecutionLog = append(env.ExecutionLog, records...)

	var failures []string
	for _, r := range records {
		if !r.Succeeded {
			failures = append(failures, r.Handler+": "+r.Error)
		}
	}
	if len(failures) == 0 {
		return o.complete(ctx, env, claimedAt)
	}
	return o.fail(ctx, env, claimedAt, strings.Join(failures, "; "))
}

// fanOut executes every handler concurrently behind a per-envelope gate. It
// never short-circuits; every handler yields exactly one record.
func (o *Orchestrator) fanOut(ctx context.Context, cmd Command, executors []Executor, attempt int) []ExecutionRecord {
	gate := async.NewGate(o.maxConcurrency)
	futures := make([]*async.Future[ExecutionRecord], len(executors))
	for i, ex := range executors {
		ex = chainMiddleware(WithTimeout(ex, o.handlerTimeout), o.middleware)
		futures[i] = async.Go(ctx, gate, func(ctx context.Context) (ExecutionRecord, error) {
			return o.execute(ctx, ex, cmd, attempt), nil
		})
	}

	results := async.AwaitAll(futures...)
	records := make([]ExecutionRecord, len(results))
	for i, r := range results {
		records[i] = r.Value
		if r.Err != nil {
			now := o.now()
			records[i] = failureRecord(executors[i].Name(), attempt, now, now, r.Err)
		}
	}
	return records
}

func (o *Orchestrator) execute(ctx context.Context, ex Executor, cmd Command, attempt int) ExecutionRecord {
	started := o.now()

	scoped, release, err := o.scope(ctx)
	if err != nil {
		return failureRecord(ex.Name(), attempt, started, o.now(), fmt.Errorf("open handler scope: %w", err))
	}
	defer release()

	if err := safeExecute(scoped, ex, cmd); err != nil {
		o.logger.WarnContext(ctx, "handler failed",
			logger.Handler(ex.Name()),
			logger.CommandType(cmd.CommandType()),
			logger.Attempt(attempt),
			logger.Error(err))
		return failureRecord(ex.Name(), attempt, started, o.now(), err)
	}

	return ExecutionRecord{
		Attempt:    attempt,
		Handler:    ex.Name(),
		Succeeded:  true,
		StartedAt:  started,
		FinishedAt: o.now(),
	}
}

func failureRecord(handler string, attempt int, started, finished time.Time, err error) ExecutionRecord {
	detail := fmt.Sprintf("%+v", err)
	var hp *HandlerPanic
	var ap *async.PanicError
	switch {
	case errors.As(err, &hp):
		detail += "\n" + string(hp.Stack)
	case errors.As(err, &ap):
		detail += "\n" + string(ap.Stack)
	}

	return ExecutionRecord{
		Attempt:    attempt,
		Handler:    handler,
		Succeeded:  false,
		Error:      sanitizer.ErrorMessage(err, MaxHandlerErrorLength),
		Detail:     detail,
		StartedAt:  started,
		FinishedAt: finished,
	}
}

func (o *Orchestrator) complete(ctx context.Context, env *Envelope, claimedAt time.Time) error {
	env.Status = StatusCompleted
	env.NextAttemptAt = nil
	env.LastError = ""
	env.UpdatedAt = o.now()

	if err := o.save(ctx, env, claimedAt); err != nil {
		return err
	}

	o.processed.Add(1)
	o.completed.Add(1)
	o.logger.InfoContext(ctx, "envelope completed",
		logger.EnvelopeID(env.ID),
		logger.CommandType(env.CommandType),
		logger.Attempt(env.Attempts+1))
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, env *Envelope, claimedAt time.Time, message string) error {
	now := o.now()
	env.Attempts++
	env.LastError = sanitizer.Message(message, MaxLastErrorLength)
	env.UpdatedAt = now

	if env.Attempts >= o.maxAttempts {
		env.Status = StatusDeadLettered
		env.NextAttemptAt = nil
		if err := o.save(ctx, env, claimedAt); err != nil {
			return err
		}
		o.processed.Add(1)
		o.deadLettered.Add(1)
		o.logger.ErrorContext(ctx, "envelope dead-lettered after max attempts",
			logger.EnvelopeID(env.ID),
			logger.CommandType(env.CommandType),
			logger.Attempt(env.Attempts),
			slog.String("last_error", env.LastError))
		return nil
	}

	next := o.backoff.Next(now, env.Attempts)
	env.Status = StatusFailed
	env.NextAttemptAt = &next
	if err := o.save(ctx, env, claimedAt); err != nil {
		return err
	}
	o.processed.Add(1)
	o.failed.Add(1)

	o.logger.WarnContext(ctx, "envelope attempt failed, retry scheduled",
		logger.EnvelopeID(env.ID),
		logger.CommandType(env.CommandType),
		logger.Attempt(env.Attempts),
		slog.Time("next_attempt_at", next))

	if err := o.scheduler.EnqueueAt(ctx, env.ID, next); err != nil {
		// The envelope is durable as Failed; the sweeper picks it up once due.
		o.logger.ErrorContext(ctx, "failed to schedule envelope retry",
			logger.EnvelopeID(env.ID), logger.Error(err))
	}
	return nil
}

func (o *Orchestrator) deadLetter(ctx context.Context, env *Envelope, claimedAt time.Time, cause error) error {
	env.Attempts++
	env.Status = StatusDeadLettered
	env.NextAttemptAt = nil
	env.LastError = sanitizer.ErrorMessage(cause, MaxLastErrorLength)
	env.UpdatedAt = o.now()

	if err := o.save(ctx, env, claimedAt); err != nil {
		return err
	}

	o.processed.Add(1)
	o.deadLettered.Add(1)
	o.logger.ErrorContext(ctx, "envelope dead-lettered, command cannot be resolved",
		logger.EnvelopeID(env.ID),
		logger.CommandType(env.CommandType),
		logger.Error(cause))
	return nil
}

func (o *Orchestrator) save(ctx context.Context, env *Envelope, claimedAt time.Time) error {
	err := o.store.Save(ctx, env, claimedAt)
	if errors.Is(err, ErrNotClaimable) {
		// Another run took over after the lease expired; its outcome wins.
		o.logger.WarnContext(ctx, "envelope claim lost before save", logger.EnvelopeID(env.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("save envelope %s: %w", env.ID, err)
	}
	return nil
}

// Stats returns current counters.
func (o *Orchestrator) Stats() OrchestratorStats {
	return OrchestratorStats{
		Processed:    o.processed.Load(),
		Completed:    o.completed.Load(),
		Failed:       o.failed.Load(),
		DeadLettered: o.deadLettered.Load(),
		Active:       o.active.Load(),
	}
}

// MaxConcurrency returns the per-envelope fan-out bound.
func (o *Orchestrator) MaxConcurrency() int {
	return o.maxConcurrency
}

func noScope(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}
