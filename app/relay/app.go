package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/relay/app/gym"
	"github.com/dmitrymomot/relay/core/command"
	"github.com/dmitrymomot/relay/core/config"
	"github.com/dmitrymomot/relay/core/logger"
	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/core/outbox"
	"github.com/dmitrymomot/relay/core/queue"
	"github.com/dmitrymomot/relay/core/server"
	"github.com/dmitrymomot/relay/integration/broker/kafka"
	"github.com/dmitrymomot/relay/integration/database/pg"
	"github.com/dmitrymomot/relay/integration/email/postmark"
	"github.com/dmitrymomot/relay/integration/email/smtp"
	"github.com/dmitrymomot/relay/integration/jobs/redisjobs"
	"github.com/dmitrymomot/relay/integration/pgstore"
)

// Stores are the durable stores the process runs on.
type Stores struct {
	Envelopes     command.EnvelopeStore
	Outbox        outbox.Store
	Notifications notification.Store
	Queue         queue.Storage
	Audit         gym.AuditStore
	// Tx makes a notification and its outbox event atomic.
	Tx notification.TxRunner
	// Scope isolates each command handler run, e.g. on its own connection.
	Scope command.Scope
}

// PostgresStores returns the PostgreSQL implementation of every store.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Envelopes:     pgstore.NewEnvelopeStore(pool),
		Outbox:        pgstore.NewOutboxStore(pool),
		Notifications: pgstore.NewNotificationStore(pool),
		Queue:         pgstore.NewQueueStorage(pool),
		Audit:         gym.NewPGAuditStore(pool),
		Tx:            pg.TxRunner{Pool: pool},
		Scope:         pg.ConnScope(pool),
	}
}

// App is the relay worker process: command orchestration, outbox dispatch
// and delivery, notification sending and the ops endpoint.
type App struct {
	config    Config
	hasConfig bool
	logger    *slog.Logger
	pool      *pgxpool.Pool
	redis     goredis.UniversalClient
	stores    *Stores
	senders   notification.Senders
	kafka     *kafka.Publisher
	server    *server.Server

	dispatcher       *command.Dispatcher
	orchestrator     *command.Orchestrator
	sweeper          *command.Sweeper
	outboxDispatcher *outbox.Dispatcher
	processor        *outbox.Processor
	deliverer        *notification.Deliverer
	queue            *queue.Service
	pollers          []*redisjobs.Poller

	closers []func()
}

type AppOption func(*App) error

// NewApp loads configuration, connects the database when no stores are
// given, applies migrations and wires every component.
func NewApp(ctx context.Context, opts ...AppOption) (*App, error) {
	app := &App{}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if !app.hasConfig {
		if err := config.Load(&app.config); err != nil {
			return nil, err
		}
	}
	if app.logger == nil {
		app.logger = newLogger(app.config)
	}

	if err := app.wire(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// WithConfig replaces configuration loaded from the environment.
func WithConfig(cfg Config) AppOption {
	return func(app *App) error {
		app.config = cfg
		app.hasConfig = true
		return nil
	}
}

func WithLogger(logger *slog.Logger) AppOption {
	return func(app *App) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		app.logger = logger
		return nil
	}
}

// WithPool uses an existing pool instead of connecting. The caller keeps
// ownership of it.
func WithPool(pool *pgxpool.Pool) AppOption {
	return func(app *App) error {
		if pool == nil {
			return errors.New("pool cannot be nil")
		}
		app.pool = pool
		return nil
	}
}

// WithStores runs the process on the given stores; no database is used.
func WithStores(stores Stores) AppOption {
	return func(app *App) error {
		if stores.Envelopes == nil || stores.Outbox == nil || stores.Notifications == nil ||
			stores.Queue == nil || stores.Audit == nil {
			return errors.New("stores must all be set")
		}
		app.stores = &stores
		return nil
	}
}

// WithRedis uses an existing client for the redis jobs backend.
func WithRedis(client goredis.UniversalClient) AppOption {
	return func(app *App) error {
		if client == nil {
			return errors.New("redis client cannot be nil")
		}
		app.redis = client
		return nil
	}
}

// WithSenders replaces the notification senders built from configuration.
func WithSenders(senders notification.Senders) AppOption {
	return func(app *App) error {
		if len(senders) == 0 {
			return errors.New("senders cannot be empty")
		}
		app.senders = senders
		return nil
	}
}

// WithKafkaPublisher relays session events through p.
func WithKafkaPublisher(p *kafka.Publisher) AppOption {
	return func(app *App) error {
		if p == nil {
			return errors.New("kafka publisher cannot be nil")
		}
		app.kafka = p
		return nil
	}
}

func newLogger(cfg Config) *slog.Logger {
	var opts []logger.Option
	switch cfg.Env {
	case "production":
		opts = append(opts, logger.WithProduction(cfg.AppName))
	case "staging":
		opts = append(opts, logger.WithStaging(cfg.AppName))
	default:
		opts = append(opts, logger.WithDevelopment(cfg.AppName))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
		opts = append(opts, logger.WithLevel(level))
	}
	return logger.New(opts...)
}

func (a *App) wire(ctx context.Context) error {
	if err := a.openStores(ctx); err != nil {
		return err
	}
	s := a.stores
	log := a.logger

	svc, err := queue.NewServiceFromConfig(a.config.Queue, s.Queue, queue.WithServiceLogger(log))
	if err != nil {
		return fmt.Errorf("queue service: %w", err)
	}
	a.queue = svc

	jobs, err := a.jobQueues(ctx)
	if err != nil {
		return err
	}

	publisher, err := outbox.NewPublisher(s.Outbox, outbox.WithPublisherLogger(log))
	if err != nil {
		return err
	}
	notifications, err := notification.NewScheduler(s.Notifications, publisher,
		notification.WithTxRunner(s.Tx), notification.WithSchedulerLogger(log))
	if err != nil {
		return err
	}
	handlers, err := gym.NewHandlers(notifications, publisher, s.Audit,
		gym.WithTxRunner(s.Tx), gym.WithLogger(log))
	if err != nil {
		return err
	}
	commands, err := command.NewRegistry(handlers.Registrations()...)
	if err != nil {
		return fmt.Errorf("command registry: %w", err)
	}

	if a.dispatcher, err = command.NewDispatcher(s.Envelopes, commands, jobs.commands,
		command.WithDispatcherLogger(log)); err != nil {
		return err
	}
	orchestratorOpts := []command.OrchestratorOption{
		command.WithOrchestratorLogger(log),
		command.WithMiddleware(command.LoggingMiddleware(log)),
	}
	if s.Scope != nil {
		orchestratorOpts = append(orchestratorOpts, command.WithScope(s.Scope))
	}
	if a.orchestrator, err = command.NewOrchestratorFromConfig(a.config.Command, s.Envelopes, commands,
		jobs.commands, orchestratorOpts...); err != nil {
		return err
	}
	if a.sweeper, err = command.NewSweeper(a.config.Command, s.Envelopes, jobs.commands,
		command.WithSweeperLogger(log)); err != nil {
		return err
	}

	deliveryHandlers, err := a.deliveryHandlers(jobs)
	if err != nil {
		return err
	}
	events, err := outbox.NewRegistry(deliveryHandlers...)
	if err != nil {
		return fmt.Errorf("outbox registry: %w", err)
	}
	if a.outboxDispatcher, err = outbox.NewDispatcherFromConfig(a.config.Outbox, s.Outbox, events,
		jobs.deliveries, outbox.WithDispatcherLogger(log)); err != nil {
		return err
	}
	if a.processor, err = outbox.NewProcessorFromConfig(a.config.Outbox, s.Outbox, events,
		jobs.deliveries, outbox.WithProcessorLogger(log)); err != nil {
		return err
	}

	senders, err := a.buildSenders()
	if err != nil {
		return err
	}
	if a.deliverer, err = notification.NewDelivererFromConfig(a.config.Notification, s.Notifications,
		senders, jobs.notifications, notification.WithDelivererLogger(log)); err != nil {
		return err
	}

	if err := a.registerJobs(jobs); err != nil {
		return err
	}

	a.server, err = server.NewFromConfig(a.config.Server, server.WithLogger(log))
	return err
}

func (a *App) openStores(ctx context.Context) error {
	if a.stores != nil {
		if a.stores.Tx == nil {
			a.stores.Tx = notification.NoTx
		}
		return nil
	}

	if a.pool == nil {
		pool, err := pg.Connect(ctx, a.config.DB)
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
	}
	if err := pgstore.Migrate(ctx, a.pool, a.config.DB.MigrationsTable, a.logger); err != nil {
		return err
	}
	if err := gym.Migrate(ctx, a.pool, a.logger); err != nil {
		return err
	}

	stores := PostgresStores(a.pool)
	a.stores = &stores
	return nil
}

func (a *App) buildSenders() (notification.Senders, error) {
	if a.senders != nil {
		return a.senders, nil
	}

	dev := notification.NewDevSender(a.config.Notification.DevDir)
	senders := notification.Senders{
		notification.ChannelEmail: dev,
		notification.ChannelPush:  dev,
		notification.ChannelSMS:   dev,
	}

	switch strings.ToLower(a.config.EmailProvider) {
	case "", EmailDev:
	case EmailPostmark:
		var cfg postmark.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		email, err := postmark.New(cfg, gym.EmailTemplates(a.config.InvitationURL))
		if err != nil {
			return nil, err
		}
		senders[notification.ChannelEmail] = email
	case EmailSMTP:
		var cfg smtp.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		email, err := smtp.New(cfg, gym.EmailTemplates(a.config.InvitationURL))
		if err != nil {
			return nil, err
		}
		senders[notification.ChannelEmail] = email
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEmailProvider, a.config.EmailProvider)
	}
	return senders, nil
}

func (a *App) deliveryHandlers(jobs jobQueues) ([]outbox.DeliveryHandler, error) {
	enqueueSend, err := notification.NewEnqueueSendHandler(jobs.notifications)
	if err != nil {
		return nil, err
	}
	handlers := []outbox.DeliveryHandler{enqueueSend}

	if a.kafka == nil && len(a.config.Kafka.Brokers) > 0 {
		p, err := kafka.NewPublisher(a.config.Kafka)
		if err != nil {
			return nil, err
		}
		a.kafka = p
		a.closers = append(a.closers, func() { _ = p.Close() })
	}
	if a.kafka != nil {
		relay, err := kafka.NewRelayHandler(SessionRelayHandler, gym.EventSessionCompleted, a.kafka)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, relay)
	}
	return handlers, nil
}

// Dispatcher is the entry point for enqueuing commands.
func (a *App) Dispatcher() *command.Dispatcher { return a.dispatcher }

// Server returns the ops server.
func (a *App) Server() *server.Server { return a.server }

// Close releases resources the app opened itself.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
