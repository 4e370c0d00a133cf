package redisjobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the sorted sets.
const DefaultKeyPrefix = "jobs:"

// Queue is the sorted set of one job kind.
type Queue struct {
	client redis.UniversalClient
	kind   string
	key    string
	now    func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) QueueOption {
	return func(q *Queue) {
		q.key = prefix + q.kind
	}
}

// WithQueueClock overrides the time source.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewQueue returns the queue of jobs of the given kind.
func NewQueue(client redis.UniversalClient, kind string, opts ...QueueOption) *Queue {
	q := &Queue{
		client: client,
		kind:   kind,
		key:    DefaultKeyPrefix + kind,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Kind returns the job kind.
func (q *Queue) Kind() string { return q.kind }

// Enqueue makes id due now.
func (q *Queue) Enqueue(ctx context.Context, id uuid.UUID) error {
	return q.EnqueueAt(ctx, id, q.now())
}

// EnqueueAt makes id due at the given time. When id is already queued the
// earlier due time wins, so repeated scheduling never delays a job.
func (q *Queue) EnqueueAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	err := q.client.ZAddLT(ctx, q.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: id.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", q.kind, id, err)
	}
	return nil
}

// Job is an identifier claimed under a visibility lease.
type Job struct {
	ID         uuid.UUID
	LeaseUntil time.Time
}

func (j Job) score() string { return strconv.FormatInt(j.LeaseUntil.UnixMilli(), 10) }

// claimScript moves up to ARGV[3] members due at ARGV[1] to the lease
// deadline ARGV[2] and returns them. Running as one script makes the claim
// exclusive across pollers.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, m in ipairs(due) do
	redis.call('ZADD', KEYS[1], ARGV[2], m)
end
return due
`)

// ackScript removes ARGV[1] only while it still carries the lease score
// ARGV[2]. A member re-scheduled during processing keeps its new due time.
var ackScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
	return redis.call('ZREM', KEYS[1], ARGV[1])
end
return 0
`)

// nackScript re-schedules ARGV[1] at ARGV[3] while it still carries the
// lease score ARGV[2].
var nackScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) == tonumber(ARGV[2]) then
	return redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
end
return 0
`)

// Claim leases up to limit due identifiers until now+lease. A leased
// identifier stays in the set and becomes due again when the lease runs out
// without an Ack, so a crashed poller never loses a job.
func (q *Queue) Claim(ctx context.Context, limit int, lease time.Duration) ([]Job, error) {
	now := q.now()
	until := now.Add(lease)
	members, err := claimScript.Run(ctx, q.client, []string{q.key},
		now.UnixMilli(), until.UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim %s jobs: %w", q.kind, err)
	}

	jobs := make([]Job, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			// Foreign members are dropped; nothing can process them.
			_ = q.client.ZRem(ctx, q.key, m).Err()
			continue
		}
		jobs = append(jobs, Job{ID: id, LeaseUntil: until})
	}
	return jobs, nil
}

// Ack removes a finished job. It reports false when the lease was lost or
// the identifier was re-scheduled meanwhile.
func (q *Queue) Ack(ctx context.Context, job Job) (bool, error) {
	n, err := ackScript.Run(ctx, q.client, []string{q.key}, job.ID.String(), job.score()).Int()
	if err != nil {
		return false, fmt.Errorf("ack %s job %s: %w", q.kind, job.ID, err)
	}
	return n == 1, nil
}

// Nack makes a failed job due again at the given time, unless it was
// re-scheduled meanwhile.
func (q *Queue) Nack(ctx context.Context, job Job, at time.Time) error {
	err := nackScript.Run(ctx, q.client, []string{q.key},
		job.ID.String(), job.score(), at.UnixMilli()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reschedule %s job %s: %w", q.kind, job.ID, err)
	}
	return nil
}

// Len reports how many identifiers are queued, due or not.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
