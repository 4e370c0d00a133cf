package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/core/queue"
	"github.com/dmitrymomot/relay/integration/database/redis"
	"github.com/dmitrymomot/relay/integration/jobs/redisjobs"
)

// Job kinds. Identifier jobs carry a record id; periodic jobs carry none.
const (
	OrchestrateTask  = "command.orchestrate"
	DeliverTask      = "outbox.deliver"
	SendTask         = notification.SendTaskName
	DispatchTask     = "outbox.dispatch"
	CommandSweepTask = "command.sweep"
	OutboxSweepTask  = "outbox.sweep"
	SendSweepTask    = "notification.sweep"
)

// SessionRelayHandler is the outbox handler name relaying session events to Kafka.
const SessionRelayHandler = "kafka.session_completed"

// scheduler hands record identifiers to a job kind.
type scheduler interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
	EnqueueAt(ctx context.Context, id uuid.UUID, at time.Time) error
}

type jobQueues struct {
	commands      scheduler
	deliveries    scheduler
	notifications scheduler
	redis         map[string]*redisjobs.Queue
}

func (a *App) jobQueues(ctx context.Context) (jobQueues, error) {
	switch strings.ToLower(a.config.JobsBackend) {
	case "", BackendPostgres:
		return jobQueues{
			commands:      a.queue.Bind(OrchestrateTask),
			deliveries:    a.queue.Bind(DeliverTask),
			notifications: a.queue.Bind(SendTask),
		}, nil

	case BackendRedis:
		if a.redis == nil {
			client, err := redis.Connect(ctx, a.config.Redis)
			if err != nil {
				return jobQueues{}, err
			}
			a.redis = client
			a.closers = append(a.closers, func() { _ = client.Close() })
		}
		queues := map[string]*redisjobs.Queue{}
		for _, kind := range []string{OrchestrateTask, DeliverTask, SendTask} {
			queues[kind] = redisjobs.NewQueue(a.redis, kind)
		}
		return jobQueues{
			commands:      queues[OrchestrateTask],
			deliveries:    queues[DeliverTask],
			notifications: queues[SendTask],
			redis:         queues,
		}, nil

	default:
		return jobQueues{}, fmt.Errorf("%w: %s", ErrUnknownJobsBackend, a.config.JobsBackend)
	}
}

// registerJobs binds identifier jobs to their runners on the chosen backend
// and schedules the periodic sweeps on the queue service.
func (a *App) registerJobs(jobs jobQueues) error {
	runners := map[string]func(context.Context, uuid.UUID) error{
		OrchestrateTask: a.orchestrator.Process,
		DeliverTask:     a.processor.Process,
		SendTask:        a.deliverer.Send,
	}

	if jobs.redis == nil {
		for kind, run := range runners {
			if err := a.queue.RegisterHandler(queue.NewUUIDHandler(kind, run)); err != nil {
				return err
			}
		}
	} else {
		for kind, run := range runners {
			p, err := redisjobs.NewPoller(jobs.redis[kind], redisjobs.HandlerFunc(run),
				redisjobs.WithPollInterval(a.config.Queue.PollInterval),
				redisjobs.WithConcurrency(a.config.Queue.MaxConcurrentTasks),
				redisjobs.WithVisibilityTimeout(a.config.Queue.LockTimeout),
				redisjobs.WithPollerLogger(a.logger))
			if err != nil {
				return fmt.Errorf("%s poller: %w", kind, err)
			}
			a.pollers = append(a.pollers, p)
		}
	}

	periodic := []struct {
		name  string
		every time.Duration
		run   func(context.Context) error
	}{
		{DispatchTask, a.config.Outbox.DispatchInterval, func(ctx context.Context) error {
			_, err := a.outboxDispatcher.DispatchDue(ctx)
			return err
		}},
		{CommandSweepTask, a.config.Command.SweepInterval, func(ctx context.Context) error {
			_, err := a.sweeper.Sweep(ctx)
			return err
		}},
		{OutboxSweepTask, a.config.Outbox.SweepInterval, func(ctx context.Context) error {
			_, err := a.processor.SweepDue(ctx)
			return err
		}},
		{SendSweepTask, a.config.Notification.SweepInterval, func(ctx context.Context) error {
			_, err := a.deliverer.SweepDue(ctx)
			return err
		}},
	}
	for _, p := range periodic {
		if err := a.queue.RegisterHandler(queue.NewPeriodicTaskHandler(p.name, p.run)); err != nil {
			return err
		}
		if err := a.queue.AddScheduledTask(p.name, queue.EveryInterval(p.every)); err != nil {
			return err
		}
	}
	return nil
}
