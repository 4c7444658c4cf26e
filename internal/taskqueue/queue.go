// Package taskqueue carries submission tasks from the API and the watchdog to
// the render worker over a Redis list.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vidgen/internal/infra"
)

// ErrEmpty is returned by Pop when no task arrived before the timeout.
var ErrEmpty = errors.New("taskqueue: empty")

// Task asks a worker to submit one job to the render provider.
type Task struct {
	JobID      string    `json:"job_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Encode serializes a task for the list.
func Encode(t Task) (string, error) {
	if strings.TrimSpace(t.JobID) == "" {
		return "", errors.New("taskqueue: job id is required")
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Decode parses a list entry. Bare job ids pushed by older producers are accepted.
func Decode(raw string) (Task, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Task{}, errors.New("taskqueue: empty entry")
	}
	if !strings.HasPrefix(raw, "{") {
		return Task{JobID: raw}, nil
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Task{}, fmt.Errorf("taskqueue: decode entry: %w", err)
	}
	if t.JobID == "" {
		return Task{}, errors.New("taskqueue: entry has no job id")
	}
	return t, nil
}

// LockKey is the per-job key that guards against double submission.
func LockKey(queue, jobID string) string {
	return queue + ":lock:" + jobID
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisQueue is a FIFO of tasks: LPUSH on enqueue, BRPOP on consume.
type RedisQueue struct {
	rdb     *redis.Client
	name    string
	lockTTL time.Duration
	now     func() time.Time
	logger  infra.Logger
}

func NewRedisQueue(rdb *redis.Client, name string, lockTTL time.Duration, logger infra.Logger) *RedisQueue {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &RedisQueue{
		rdb:     rdb,
		name:    name,
		lockTTL: lockTTL,
		now:     time.Now,
		logger:  infra.Component(logger, "taskqueue"),
	}
}

// Enqueue pushes a submission task for jobID.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, attempt int) error {
	entry, err := Encode(Task{JobID: jobID, Attempt: attempt, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.name, entry).Err(); err != nil {
		return fmt.Errorf("taskqueue: push %s: %w", jobID, err)
	}
	q.logger.Debug().Str("job_id", jobID).Int("attempt", attempt).Msg("taskqueue: enqueued")
	return nil
}

// Pop blocks up to timeout for the next task.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (Task, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Task{}, ErrEmpty
		}
		return Task{}, err
	}
	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return Task{}, fmt.Errorf("taskqueue: unexpected reply %v", res)
	}
	return Decode(res[1])
}

// Depth reports the number of waiting tasks.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}

// Lock claims the submission of jobID for this worker. ok is false when
// another worker holds the claim. release is safe to call more than once.
func (q *RedisQueue) Lock(ctx context.Context, jobID string) (release func(), ok bool, err error) {
	key := LockKey(q.name, jobID)
	token := uuid.NewString()
	ok, err = q.rdb.SetNX(ctx, key, token, q.lockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("taskqueue: lock %s: %w", jobID, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		// The caller's context may already be cancelled on shutdown.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		deleted, err := releaseScript.Run(rctx, q.rdb, []string{key}, token).Int64()
		if err != nil {
			q.logger.Warn().Err(err).Str("job_id", jobID).Msg("taskqueue: release lock failed")
			return
		}
		if deleted == 0 {
			q.logger.Warn().Str("job_id", jobID).Msg("taskqueue: lock expired before release")
		}
	}, true, nil
}
