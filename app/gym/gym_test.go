package gym_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/app/gym"
	"github.com/dmitrymomot/relay/core/command"
	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/core/outbox"
)

type recordingScheduler struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (s *recordingScheduler) Enqueue(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return nil
}

func (s *recordingScheduler) EnqueueAt(ctx context.Context, id uuid.UUID, _ time.Time) error {
	return s.Enqueue(ctx, id)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock         *stepClock
	envelopes     *command.MemoryStore
	notifications *notification.MemoryStore
	outbox        *outbox.MemoryStore
	audit         *gym.MemoryAuditStore
	dispatcher    *command.Dispatcher
	orchestrator  *command.Orchestrator
	jobs          *recordingScheduler
}

func newHarness(t *testing.T, audit gym.AuditStore) *harness {
	t.Helper()

	h := &harness{
		envelopes:     command.NewMemoryStore(),
		notifications: notification.NewMemoryStore(),
		outbox:        outbox.NewMemoryStore(),
		audit:         gym.NewMemoryAuditStore(),
		jobs:          &recordingScheduler{},
		clock:         &stepClock{now: time.Now().UTC().Truncate(time.Microsecond)},
	}
	if audit == nil {
		audit = h.audit
	}

	publisher, err := outbox.NewPublisher(h.outbox)
	require.NoError(t, err)
	scheduler, err := notification.NewScheduler(h.notifications, publisher)
	require.NoError(t, err)
	handlers, err := gym.NewHandlers(scheduler, publisher, audit)
	require.NoError(t, err)

	registry, err := command.NewRegistry(handlers.Registrations()...)
	require.NoError(t, err)

	h.dispatcher, err = command.NewDispatcher(h.envelopes, registry, h.jobs)
	require.NoError(t, err)
	h.orchestrator, err = command.NewOrchestrator(h.envelopes, registry, h.jobs,
		command.WithOrchestratorClock(h.clock.Now))
	require.NoError(t, err)
	return h
}

func (h *harness) outboxEvents(t *testing.T, eventType string) []*outbox.Message {
	t.Helper()

	ids, err := h.outbox.ListDueMessages(context.Background(), outbox.DueQuery{Now: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	var out []*outbox.Message
	for _, id := range ids {
		msg, err := h.outbox.GetMessage(context.Background(), id)
		require.NoError(t, err)
		if msg.EventType == eventType {
			out = append(out, msg)
		}
	}
	return out
}

func invitation() gym.InvitationCreated {
	return gym.InvitationCreated{
		InvitationID: uuid.New(),
		TrainerID:    uuid.New(),
		TraineeEmail: "jane@example.com",
		TraineeName:  "Jane",
	}
}

func TestInvitationCreated_FansOutToBothHandlers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	cmd := invitation()

	res, err := h.dispatcher.EnqueueWithResult(ctx, cmd)
	require.NoError(t, err)
	require.True(t, res.Created)

	// Same command again resolves to the same envelope.
	again, err := h.dispatcher.EnqueueWithResult(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.EnvelopeID, again.EnvelopeID)

	require.NoError(t, h.orchestrator.Process(ctx, res.EnvelopeID))

	env, err := h.envelopes.Get(ctx, res.EnvelopeID)
	require.NoError(t, err)
	assert.Equal(t, command.StatusCompleted, env.Status)
	require.Len(t, env.ExecutionLog, 2)
	handlers := []string{env.ExecutionLog[0].Handler, env.ExecutionLog[1].Handler}
	assert.ElementsMatch(t, []string{gym.SendInvitationEmailHandler, gym.RecordInvitationAuditHandler}, handlers)

	records := h.audit.Records()
	require.Len(t, records, 1)
	assert.Equal(t, cmd.InvitationID, records[0].InvitationID)

	events := h.outboxEvents(t, notification.EventScheduled)
	require.Len(t, events, 1)

	var ev notification.ScheduledEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &ev))
	msg, err := h.notifications.Get(ctx, ev.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, notification.ChannelEmail, msg.Channel)
	assert.Equal(t, gym.InvitationNotification, msg.Type)
	assert.Equal(t, cmd.InvitationID.String(), msg.CorrelationID)
	assert.Equal(t, "jane@example.com", msg.Recipient)

	var payload gym.InvitationPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "Jane", payload.TraineeName)
}

type flakyAudit struct {
	*gym.MemoryAuditStore
	mu    sync.Mutex
	fails int
}

func (f *flakyAudit) RecordInvitation(ctx context.Context, rec gym.AuditRecord) (bool, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return false, errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.MemoryAuditStore.RecordInvitation(ctx, rec)
}

func TestInvitationCreated_RetryDoesNotDuplicateEmail(t *testing.T) {
	t.Parallel()

	audit := &flakyAudit{MemoryAuditStore: gym.NewMemoryAuditStore(), fails: 1}
	h := newHarness(t, audit)
	ctx := context.Background()

	res, err := h.dispatcher.EnqueueWithResult(ctx, invitation())
	require.NoError(t, err)

	require.NoError(t, h.orchestrator.Process(ctx, res.EnvelopeID))
	env, err := h.envelopes.Get(ctx, res.EnvelopeID)
	require.NoError(t, err)
	require.Equal(t, command.StatusFailed, env.Status)
	assert.Contains(t, env.LastError, "connection reset")

	// Not due yet: the claim is refused and nothing runs.
	require.NoError(t, h.orchestrator.Process(ctx, res.EnvelopeID))
	env, err = h.envelopes.Get(ctx, res.EnvelopeID)
	require.NoError(t, err)
	require.Equal(t, 1, env.Attempts)

	h.clock.Advance(time.Hour)
	require.NoError(t, h.orchestrator.Process(ctx, res.EnvelopeID))

	env, err = h.envelopes.Get(ctx, res.EnvelopeID)
	require.NoError(t, err)
	assert.Equal(t, command.StatusCompleted, env.Status)
	assert.Equal(t, 2, env.Attempts)

	assert.Len(t, audit.Records(), 1)
	assert.Len(t, h.outboxEvents(t, notification.EventScheduled), 1, "email scheduled once across attempts")
}

func TestSessionCompleted_NotifiesTrainerAndPublishesEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := context.Background()
	cmd := gym.SessionCompleted{
		SessionID:   uuid.New(),
		TraineeID:   uuid.New(),
		TrainerID:   uuid.New(),
		CompletedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}

	res, err := h.dispatcher.EnqueueWithResult(ctx, cmd)
	require.NoError(t, err)
	require.NoError(t, h.orchestrator.Process(ctx, res.EnvelopeID))

	env, err := h.envelopes.Get(ctx, res.EnvelopeID)
	require.NoError(t, err)
	assert.Equal(t, command.StatusCompleted, env.Status)

	events := h.outboxEvents(t, gym.EventSessionCompleted)
	require.Len(t, events, 1)
	assert.Equal(t, cmd.SessionID.String(), events[0].CorrelationID)

	var payload gym.SessionCompletedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, cmd.TrainerID, payload.TrainerID)
	assert.True(t, cmd.CompletedAt.Equal(payload.CompletedAt))

	counts, err := h.notifications.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[notification.StatusPending])
}

func TestHandlers_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	scheduler, err := notification.NewScheduler(h.notifications, mustPublisher(t, h.outbox))
	require.NoError(t, err)
	handlers, err := gym.NewHandlers(scheduler, mustPublisher(t, h.outbox), h.audit)
	require.NoError(t, err)

	bad := invitation()
	bad.TraineeEmail = "not an email"
	assert.ErrorIs(t, handlers.SendInvitationEmail(context.Background(), bad), gym.ErrInvalidCommand)
	assert.ErrorIs(t, handlers.RecordInvitationAudit(context.Background(), bad), gym.ErrInvalidCommand)
	assert.ErrorIs(t, handlers.NotifyTrainer(context.Background(), gym.SessionCompleted{}), gym.ErrInvalidCommand)
	assert.Empty(t, h.audit.Records())

	_, err = gym.NewHandlers(nil, mustPublisher(t, h.outbox), h.audit)
	assert.ErrorIs(t, err, gym.ErrNotificationsNil)
	_, err = gym.NewHandlers(scheduler, nil, h.audit)
	assert.ErrorIs(t, err, gym.ErrPublisherNil)
	_, err = gym.NewHandlers(scheduler, mustPublisher(t, h.outbox), nil)
	assert.ErrorIs(t, err, gym.ErrAuditStoreNil)
}

func mustPublisher(t *testing.T, store outbox.Store) *outbox.Publisher {
	t.Helper()
	p, err := outbox.NewPublisher(store)
	require.NoError(t, err)
	return p
}

func TestEmailTemplates_Invitation(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	payload, err := json.Marshal(gym.InvitationPayload{InvitationID: id, TraineeName: "<Jane>"})
	require.NoError(t, err)

	tmpl, ok := gym.EmailTemplates("https://gym.example.com/invitations/%s")[gym.InvitationNotification]
	require.True(t, ok)

	content, err := tmpl(&notification.Message{Type: gym.InvitationNotification, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, gym.InvitationNotification, content.Tag)
	assert.Contains(t, content.TextBody, "https://gym.example.com/invitations/"+id.String())
	assert.Contains(t, content.HTMLBody, "&lt;Jane&gt;")
	assert.NotContains(t, content.HTMLBody, "<Jane>")
}
