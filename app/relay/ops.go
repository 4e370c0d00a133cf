package relay

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/relay/core/command"
	"github.com/dmitrymomot/relay/core/health"
	"github.com/dmitrymomot/relay/core/logger"
	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/core/outbox"
	"github.com/dmitrymomot/relay/core/queue"
	"github.com/dmitrymomot/relay/integration/database/pg"
	"github.com/dmitrymomot/relay/integration/database/redis"
	"github.com/dmitrymomot/relay/integration/jobs/redisjobs"
)

// Stats is the /stats document.
type Stats struct {
	Envelopes         map[command.Status]int        `json:"envelopes"`
	OutboxMessages    map[outbox.MessageStatus]int  `json:"outbox_messages"`
	OutboxDeliveries  map[outbox.DeliveryStatus]int `json:"outbox_deliveries"`
	Notifications     map[notification.Status]int   `json:"notifications"`
	CommandDispatcher command.DispatcherStats       `json:"command_dispatcher"`
	Orchestrator      command.OrchestratorStats     `json:"orchestrator"`
	OutboxDispatcher  outbox.DispatcherStats        `json:"outbox_dispatcher"`
	OutboxProcessor   outbox.ProcessorStats         `json:"outbox_processor"`
	Deliverer         notification.DelivererStats   `json:"deliverer"`
	Worker            queue.WorkerStats             `json:"worker"`
	Pollers           []redisjobs.PollerStats       `json:"pollers,omitempty"`
}

// Router returns the ops HTTP handler.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness(a.logger, a.readinessChecks()...))
	r.Get("/stats", a.stats)
	return r
}

func (a *App) readinessChecks() []health.Check {
	var checks []health.Check
	if a.pool != nil {
		checks = append(checks, health.Check{Name: "postgres", Fn: pg.Healthcheck(a.pool)})
	}
	if len(a.pollers) > 0 {
		checks = append(checks, health.Check{Name: "redis", Fn: redis.Healthcheck(a.redis)})
		for _, p := range a.pollers {
			checks = append(checks, health.Check{Name: "poller " + p.Stats().Kind, Fn: p.Healthcheck})
		}
	}
	checks = append(checks, health.Check{Name: "queue", Fn: a.queue.Healthcheck})
	return checks
}

// Snapshot collects store counts and component counters.
func (a *App) Snapshot(ctx context.Context) (Stats, error) {
	var (
		st  Stats
		err error
	)
	if st.Envelopes, err = a.stores.Envelopes.CountByStatus(ctx); err != nil {
		return st, err
	}
	if st.OutboxMessages, err = a.stores.Outbox.CountMessagesByStatus(ctx); err != nil {
		return st, err
	}
	if st.OutboxDeliveries, err = a.stores.Outbox.CountDeliveriesByStatus(ctx); err != nil {
		return st, err
	}
	if st.Notifications, err = a.stores.Notifications.CountByStatus(ctx); err != nil {
		return st, err
	}
	st.CommandDispatcher = a.dispatcher.Stats()
	st.Orchestrator = a.orchestrator.Stats()
	st.OutboxDispatcher = a.outboxDispatcher.Stats()
	st.OutboxProcessor = a.processor.Stats()
	st.Deliverer = a.deliverer.Stats()
	st.Worker = a.queue.Worker().Stats()
	for _, p := range a.pollers {
		ps := p.Stats()
		if ps.Queued, err = p.Queue().Len(ctx); err != nil {
			return st, err
		}
		st.Pollers = append(st.Pollers, ps)
	}
	return st, nil
}

func (a *App) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.Snapshot(r.Context())
	if err != nil {
		a.logger.ErrorContext(r.Context(), "collect stats failed", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
