package command_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/core/command"
)

type harness struct {
	store    *command.MemoryStore
	sched    *MockScheduler
	clock    *fakeClock
	disp     *command.Dispatcher
	orch     *command.Orchestrator
	sweep    *command.Sweeper
	registry *command.Registry
}

func newHarness(t *testing.T, opts []command.OrchestratorOption, regs ...command.Registration) *harness {
	t.Helper()

	h := &harness{
		store:    command.NewMemoryStore(),
		sched:    new(MockScheduler),
		clock:    newFakeClock(),
		registry: command.MustRegistry(regs...),
	}
	h.sched.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Maybe()

	var err error
	h.disp, err = command.NewDispatcher(h.store, h.registry, h.sched, command.WithDispatcherClock(h.clock.Now))
	require.NoError(t, err)

	opts = append([]command.OrchestratorOption{command.WithOrchestratorClock(h.clock.Now)}, opts...)
	h.orch, err = command.NewOrchestrator(h.store, h.registry, h.sched, opts...)
	require.NoError(t, err)

	h.sweep, err = command.NewSweeper(command.DefaultConfig(), h.store, h.sched, command.WithSweeperClock(h.clock.Now))
	require.NoError(t, err)
	return h
}

func (h *harness) enqueue(t *testing.T, cmd command.Command) uuid.UUID {
	t.Helper()
	res, err := h.disp.EnqueueWithResult(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.EnvelopeID
}

func (h *harness) get(t *testing.T, id uuid.UUID) *command.Envelope {
	t.Helper()
	env, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return env
}

// insert stores an envelope directly, bypassing the dispatcher.
func (h *harness) insert(t *testing.T, discriminator, payload string) uuid.UUID {
	t.Helper()
	now := h.clock.Now()
	env, _, err := h.store.AddOrGet(context.Background(), &command.Envelope{
		ID:             uuid.New(),
		CorrelationKey: uuid.NewString(),
		CommandType:    discriminator,
		Payload:        []byte(payload),
		Status:         command.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
	return env.ID
}

func TestOrchestrator_AllHandlersSucceed(t *testing.T) {
	t.Parallel()

	var received atomic.Pointer[InvitationCreated]
	h := newHarness(t, nil, command.Register(
		command.HandlerFunc("send_email", func(ctx context.Context, cmd InvitationCreated) error {
			received.Store(&cmd)
			assert.Equal(t, 1, command.AttemptFromContext(ctx))
			assert.NotEmpty(t, command.CorrelationKeyFromContext(ctx))
			_, ok := command.EnvelopeIDFromContext(ctx)
			assert.True(t, ok)
			return nil
		}),
		okHandler[InvitationCreated]("audit"),
	))

	cmd := InvitationCreated{InvitationID: "inv-1", TrainerID: "tr-1", Email: "a@b.c", Name: "Ann"}
	id := h.enqueue(t, cmd)

	require.NoError(t, h.orch.Process(context.Background(), id))

	env := h.get(t, id)
	assert.Equal(t, command.StatusCompleted, env.Status)
	assert.Equal(t, 0, env.Attempts)
	assert.Empty(t, env.LastError)
	require.Len(t, env.ExecutionLog, 2)
	for _, r := range env.ExecutionLog {
		assert.True(t, r.Succeeded)
		assert.Equal(t, 1, r.Attempt)
	}
	require.NotNil(t, received.Load())
	assert.Equal(t, cmd, *received.Load(), "handler sees field-for-field equivalent command")

	assert.Equal(t, int64(1), h.orch.Stats().Completed)
}

func TestOrchestrator_PartialFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, command.Register(
		okHandler[InvitationCreated]("A"),
		command.HandlerFunc("B", func(context.Context, InvitationCreated) error {
			return errors.New("smtp:\n 421 try later")
		}),
	))
	defer h.sched.AssertExpectations(t)

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})
	wantNext := h.clock.Now().Add(30 * time.Second)
	h.sched.On("EnqueueAt", mock.Anything, id, wantNext).Return(nil).Once()

	require.NoError(t, h.orch.Process(context.Background(), id))

	env := h.get(t, id)
	assert.Equal(t, command.StatusFailed, env.Status)
	assert.Equal(t, 1, env.Attempts)
	require.NotNil(t, env.NextAttemptAt)
	assert.Equal(t, wantNext, *env.NextAttemptAt)
	assert.Equal(t, "B: smtp: 421 try later", env.LastError)

	log := env.AttemptLog(1)
	require.Len(t, log, 2)
	byName := map[string]command.ExecutionRecord{log[0].Handler: log[0], log[1].Handler: log[1]}
	assert.True(t, byName["A"].Succeeded)
	assert.False(t, byName["B"].Succeeded)
	assert.Equal(t, "smtp: 421 try later", byName["B"].Error)
	assert.Contains(t, byName["B"].Detail, "421 try later")
}

func TestOrchestrator_DeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := newHarness(t, nil, command.Register(
		command.HandlerFunc("always_fails", func(context.Context, InvitationCreated) error {
			calls.Add(1)
			return errors.New("nope")
		}),
	))
	h.sched.On("EnqueueAt", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})

	require.NoError(t, h.orch.Process(context.Background(), id))
	assert.Equal(t, command.StatusFailed, h.get(t, id).Status)

	// Not due yet: a duplicate notification must not start attempt 2.
	require.NoError(t, h.orch.Process(context.Background(), id))
	assert.Equal(t, int32(1), calls.Load())

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.orch.Process(context.Background(), id))
	env := h.get(t, id)
	assert.Equal(t, command.StatusFailed, env.Status)
	assert.Equal(t, 2, env.Attempts)
	assert.Equal(t, h.clock.Now().Add(time.Minute), *env.NextAttemptAt)

	h.clock.Advance(time.Minute)
	require.NoError(t, h.orch.Process(context.Background(), id))
	env = h.get(t, id)
	assert.Equal(t, command.StatusDeadLettered, env.Status)
	assert.Equal(t, 3, env.Attempts)
	assert.Nil(t, env.NextAttemptAt)
	assert.Len(t, env.ExecutionLog, 3)

	// Terminal: further notifications and sweeps do nothing.
	h.clock.Advance(24 * time.Hour)
	require.NoError(t, h.orch.Process(context.Background(), id))
	n, err := h.sweep.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int32(3), calls.Load())

	h.sched.AssertNumberOfCalls(t, "EnqueueAt", 2)
	assert.Equal(t, int64(1), h.orch.Stats().DeadLettered)
}

func TestOrchestrator_RecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := newHarness(t, nil, command.Register(
		command.HandlerFunc("flaky", func(context.Context, InvitationCreated) error {
			if calls.Add(1) == 1 {
				return errors.New("transient")
			}
			return nil
		}),
	))
	h.sched.On("EnqueueAt", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})
	require.NoError(t, h.orch.Process(context.Background(), id))
	h.clock.Advance(time.Minute)
	require.NoError(t, h.orch.Process(context.Background(), id))

	env := h.get(t, id)
	assert.Equal(t, command.StatusCompleted, env.Status)
	assert.Equal(t, 1, env.Attempts)
	assert.Len(t, env.AttemptLog(2), 1)
}

func TestOrchestrator_PermanentFailures(t *testing.T) {
	t.Parallel()

	t.Run("unknown discriminator dead-letters immediately", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, nil, command.Register(okHandler[InvitationCreated]("a")))
		id := h.insert(t, "removed.command", `{}`)

		require.NoError(t, h.orch.Process(context.Background(), id))

		env := h.get(t, id)
		assert.Equal(t, command.StatusDeadLettered, env.Status)
		assert.Contains(t, env.LastError, "unknown command type")
		h.sched.AssertNotCalled(t, "EnqueueAt", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("undecodable payload dead-letters immediately", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, nil, command.Register(okHandler[SessionCompleted]("a")))
		id := h.insert(t, "session.completed", `{"score":"not a number"}`)

		require.NoError(t, h.orch.Process(context.Background(), id))

		env := h.get(t, id)
		assert.Equal(t, command.StatusDeadLettered, env.Status)
		assert.Contains(t, env.LastError, "cannot be decoded")
	})
}

func TestOrchestrator_NoHandlersCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, command.Register[Orphan]())
	id := h.insert(t, "orphan", `{"id":"1"}`)

	require.NoError(t, h.orch.Process(context.Background(), id))
	assert.Equal(t, command.StatusCompleted, h.get(t, id).Status)
}

func TestOrchestrator_PanicIsIsolated(t *testing.T) {
	t.Parallel()

	var siblingRan atomic.Bool
	h := newHarness(t, nil, command.Register(
		command.HandlerFunc("panics", func(context.Context, InvitationCreated) error {
			panic("nil map write")
		}),
		command.HandlerFunc("sibling", func(context.Context, InvitationCreated) error {
			siblingRan.Store(true)
			return nil
		}),
	))
	h.sched.On("EnqueueAt", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})
	require.NoError(t, h.orch.Process(context.Background(), id))

	assert.True(t, siblingRan.Load())
	env := h.get(t, id)
	assert.Equal(t, command.StatusFailed, env.Status)
	for _, r := range env.ExecutionLog {
		if r.Handler == "panics" {
			assert.Contains(t, r.Error, "panicked: nil map write")
			assert.Contains(t, r.Detail, "goroutine")
		}
	}
}

func TestOrchestrator_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	slow := func(name string) command.Handler[InvitationCreated] {
		return command.HandlerFunc(name, func(context.Context, InvitationCreated) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}

	h := newHarness(t, []command.OrchestratorOption{command.WithMaxConcurrency(2)}, command.Register(
		slow("h1"), slow("h2"), slow("h3"), slow("h4"), slow("h5"), slow("h6"),
	))

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})
	require.NoError(t, h.orch.Process(context.Background(), id))

	assert.Equal(t, command.StatusCompleted, h.get(t, id).Status)
	assert.Len(t, h.get(t, id).ExecutionLog, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, h.orch.MaxConcurrency())
}

func TestOrchestrator_HandlerTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []command.OrchestratorOption{command.WithHandlerTimeout(10 * time.Millisecond)},
		command.Register(command.HandlerFunc("slow", func(ctx context.Context, _ InvitationCreated) error {
			<-ctx.Done()
			return ctx.Err()
		})),
	)
	h.sched.On("EnqueueAt", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})
	require.NoError(t, h.orch.Process(context.Background(), id))

	env := h.get(t, id)
	assert.Equal(t, command.StatusFailed, env.Status)
	assert.Contains(t, env.LastError, "handler timed out")
}

func TestOrchestrator_ScopePerHandler(t *testing.T) {
	t.Parallel()

	type scopeKey struct{}
	var opened, released atomic.Int32

	scope := func(ctx context.Context) (context.Context, func(), error) {
		n := opened.Add(1)
		return context.WithValue(ctx, scopeKey{}, n), func() { released.Add(1) }, nil
	}

	seen := make(chan int32, 3)
	record := func(name string) command.Handler[InvitationCreated] {
		return command.HandlerFunc(name, func(ctx context.Context, _ InvitationCreated) error {
			seen <- ctx.Value(scopeKey{}).(int32)
			return nil
		})
	}

	h := newHarness(t, []command.OrchestratorOption{command.WithScope(scope)},
		command.Register(record("a"), record("b"), record("c")))

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})
	require.NoError(t, h.orch.Process(context.Background(), id))
	close(seen)

	distinct := map[int32]bool{}
	for v := range seen {
		distinct[v] = true
	}
	assert.Len(t, distinct, 3, "every handler gets its own scope")
	assert.Equal(t, int32(3), released.Load())
}

func TestOrchestrator_ScopeFailureIsHandlerFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []command.OrchestratorOption{command.WithScope(func(ctx context.Context) (context.Context, func(), error) {
		return nil, nil, errors.New("pool exhausted")
	})}, command.Register(okHandler[InvitationCreated]("a")))
	h.sched.On("EnqueueAt", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})
	require.NoError(t, h.orch.Process(context.Background(), id))

	env := h.get(t, id)
	assert.Equal(t, command.StatusFailed, env.Status)
	assert.Contains(t, env.LastError, "pool exhausted")
}

func TestOrchestrator_CancellationLeavesClaim(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, nil, command.Register(
		command.HandlerFunc("cancels", func(ctx context.Context, _ InvitationCreated) error {
			cancel()
			return ctx.Err()
		}),
	))

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})
	err := h.orch.Process(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	env := h.get(t, id)
	assert.Equal(t, command.StatusProcessing, env.Status)
	assert.Equal(t, 0, env.Attempts)
	assert.Empty(t, env.ExecutionLog)

	// Lease still held: another run skips it.
	require.NoError(t, h.orch.Process(context.Background(), id))
	assert.Equal(t, command.StatusProcessing, h.get(t, id).Status)
}

func TestOrchestrator_StaleClaimIsTakenOver(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := newHarness(t, []command.OrchestratorOption{command.WithLeaseTimeout(time.Minute)}, command.Register(
		command.HandlerFunc("a", func(context.Context, InvitationCreated) error {
			calls.Add(1)
			return nil
		}),
	))

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})

	// Simulate a crashed run that claimed the envelope.
	_, err := h.store.Claim(context.Background(), id, h.clock.Now(), h.clock.Now().Add(-time.Minute))
	require.NoError(t, err)

	require.NoError(t, h.orch.Process(context.Background(), id))
	assert.Zero(t, calls.Load())

	h.clock.Advance(2 * time.Minute)
	require.NoError(t, h.orch.Process(context.Background(), id))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, command.StatusCompleted, h.get(t, id).Status)
}

func TestOrchestrator_UnknownEnvelope(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	assert.NoError(t, h.orch.Process(context.Background(), uuid.New()))
}

func TestOrchestrator_MiddlewareWrapsHandlers(t *testing.T) {
	t.Parallel()

	var wrapped atomic.Int32
	mw := func(next command.Executor) command.Executor {
		return countingExecutor{next: next, n: &wrapped}
	}

	h := newHarness(t, []command.OrchestratorOption{command.WithMiddleware(mw)},
		command.Register(okHandler[InvitationCreated]("a"), okHandler[InvitationCreated]("b")))

	id := h.enqueue(t, InvitationCreated{InvitationID: "inv-1"})
	require.NoError(t, h.orch.Process(context.Background(), id))
	assert.Equal(t, int32(2), wrapped.Load())
}

type countingExecutor struct {
	next command.Executor
	n    *atomic.Int32
}

func (c countingExecutor) Name() string { return c.next.Name() }

func (c countingExecutor) Execute(ctx context.Context, cmd command.Command) error {
	c.n.Add(1)
	return c.next.Execute(ctx, cmd)
}
