package relay_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/app/gym"
	"github.com/dmitrymomot/relay/app/relay"
	"github.com/dmitrymomot/relay/core/command"
	"github.com/dmitrymomot/relay/core/notification"
	"github.com/dmitrymomot/relay/core/outbox"
	"github.com/dmitrymomot/relay/core/queue"
	"github.com/dmitrymomot/relay/core/server"
	"github.com/dmitrymomot/relay/integration/broker/kafka"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*notification.Message
}

func (s *recordingSender) Send(_ context.Context, msg *notification.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg.Clone())
	return true, nil
}

func (s *recordingSender) Sent() []*notification.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*notification.Message(nil), s.sent...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) Messages() []kafkago.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafkago.Message(nil), w.msgs...)
}

func testConfig(t *testing.T, backend string) relay.Config {
	t.Helper()

	q := queue.DefaultConfig()
	q.PollInterval = 10 * time.Millisecond
	q.CheckInterval = 20 * time.Millisecond
	q.ShutdownTimeout = time.Second
	q.MaxConcurrentTasks = 4

	cmd := command.DefaultConfig()
	cmd.SweepInterval = time.Second

	ob := outbox.DefaultConfig()
	ob.DispatchInterval = time.Second
	ob.SweepInterval = time.Second

	nt := notification.DefaultConfig()
	nt.SweepInterval = time.Second
	nt.DevDir = t.TempDir()

	return relay.Config{
		AppName:      "relay-test",
		Env:          "test",
		LogLevel:     "error",
		JobsBackend:  backend,
		Queue:        q,
		Command:      cmd,
		Outbox:       ob,
		Notification: nt,
		Server:       server.Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
	}
}

func memoryStores() relay.Stores {
	return relay.Stores{
		Envelopes:     command.NewMemoryStore(),
		Outbox:        outbox.NewMemoryStore(),
		Notifications: notification.NewMemoryStore(),
		Queue:         queue.NewMemoryStorage(),
		Audit:         gym.NewMemoryAuditStore(),
	}
}

func startApp(t *testing.T, app *relay.App) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})

	require.Eventually(t, func() bool {
		return app.Server().Addr() != "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)
}

func get(t *testing.T, app *relay.App, path string) (int, []byte) {
	t.Helper()

	resp, err := http.Get("http://" + app.Server().Addr() + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestApp_InvitationEndToEnd(t *testing.T) {
	t.Parallel()

	email := &recordingSender{}
	app, err := relay.NewApp(context.Background(),
		relay.WithConfig(testConfig(t, relay.BackendPostgres)),
		relay.WithStores(memoryStores()),
		relay.WithSenders(notification.Senders{notification.ChannelEmail: email}),
	)
	require.NoError(t, err)
	startApp(t, app)

	cmd := gym.InvitationCreated{
		InvitationID: uuid.New(),
		TrainerID:    uuid.New(),
		TraineeEmail: "jane@example.com",
		TraineeName:  "Jane",
	}
	require.NoError(t, app.Dispatcher().Enqueue(context.Background(), cmd))
	require.NoError(t, app.Dispatcher().Enqueue(context.Background(), cmd), "duplicate is absorbed")

	require.Eventually(t, func() bool { return len(email.Sent()) == 1 }, 10*time.Second, 20*time.Millisecond)
	sent := email.Sent()[0]
	assert.Equal(t, gym.InvitationNotification, sent.Type)
	assert.Equal(t, "jane@example.com", sent.Recipient)

	require.Eventually(t, func() bool {
		st, err := app.Snapshot(context.Background())
		return err == nil && st.Notifications[notification.StatusSent] == 1
	}, 5*time.Second, 20*time.Millisecond)

	status, body := get(t, app, "/health/live")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ALIVE", string(body))

	status, body = get(t, app, "/health/ready")
	assert.Equal(t, http.StatusOK, status, string(body))

	status, body = get(t, app, "/stats")
	require.Equal(t, http.StatusOK, status)
	var st relay.Stats
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, 1, st.Envelopes[command.StatusCompleted])
	assert.Equal(t, int64(1), st.CommandDispatcher.Enqueued)
	assert.Equal(t, int64(1), st.CommandDispatcher.Deduplicated)
	assert.Equal(t, int64(1), st.Deliverer.Sent)
	assert.Empty(t, st.Pollers)

	// Still exactly one email once the pipeline is idle.
	assert.Len(t, email.Sent(), 1)
}

func TestApp_RedisBackendRelaysSessionEvents(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	writer := &fakeWriter{}
	publisher, err := kafka.NewPublisher(kafka.Config{TopicPrefix: "gym."}, kafka.WithWriter(writer))
	require.NoError(t, err)

	push := &recordingSender{}
	app, err := relay.NewApp(context.Background(),
		relay.WithConfig(testConfig(t, relay.BackendRedis)),
		relay.WithStores(memoryStores()),
		relay.WithRedis(client),
		relay.WithKafkaPublisher(publisher),
		relay.WithSenders(notification.Senders{notification.ChannelPush: push}),
	)
	require.NoError(t, err)
	startApp(t, app)

	cmd := gym.SessionCompleted{
		SessionID:   uuid.New(),
		TraineeID:   uuid.New(),
		TrainerID:   uuid.New(),
		CompletedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	require.NoError(t, app.Dispatcher().Enqueue(context.Background(), cmd))

	require.Eventually(t, func() bool {
		return len(push.Sent()) == 1 && len(writer.Messages()) == 1
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, cmd.TrainerID.String(), push.Sent()[0].Recipient)
	msg := writer.Messages()[0]
	assert.Equal(t, "gym."+gym.EventSessionCompleted, msg.Topic)
	assert.Equal(t, []byte(cmd.SessionID.String()), msg.Key)

	require.Eventually(t, func() bool {
		st, err := app.Snapshot(context.Background())
		if err != nil || len(st.Pollers) != 3 {
			return false
		}
		for _, p := range st.Pollers {
			if p.Queued != 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond, "acknowledged jobs leave the queues")

	status, body := get(t, app, "/health/ready")
	assert.Equal(t, http.StatusOK, status, string(body))
}

func TestNewApp_Validation(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "kafka")
	_, err := relay.NewApp(context.Background(), relay.WithConfig(cfg), relay.WithStores(memoryStores()))
	assert.ErrorIs(t, err, relay.ErrUnknownJobsBackend)

	cfg = testConfig(t, relay.BackendPostgres)
	cfg.EmailProvider = "carrier-pigeon"
	_, err = relay.NewApp(context.Background(), relay.WithConfig(cfg), relay.WithStores(memoryStores()))
	assert.ErrorIs(t, err, relay.ErrUnknownEmailProvider)

	_, err = relay.NewApp(context.Background(), relay.WithConfig(cfg), relay.WithStores(relay.Stores{}))
	assert.Error(t, err)

	_, err = relay.NewApp(context.Background(), relay.WithLogger(nil))
	assert.Error(t, err)
}
