package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the production Queue backend. Jobs live in a hash per id;
// pending and active sets are sorted sets scored by due time and lease
// expiry respectively, which gives delayed delivery and lease-based
// redelivery with plain range queries. Failed jobs move to a retained
// failed set unless RemoveOnFail is set.
//
// The client is constructed by the caller and injected; the queue never
// owns a global connection.
type RedisQueue struct {
	client *redis.Client
	name   string
	logger *slog.Logger
}

// NewRedisQueue creates a queue named name on the given client.
func NewRedisQueue(client *redis.Client, name string, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{client: client, name: name, logger: logger}
}

func (q *RedisQueue) prefix() string     { return "searchhub:q:" + q.name }
func (q *RedisQueue) pendingKey() string { return q.prefix() + ":pending" }
func (q *RedisQueue) activeKey() string  { return q.prefix() + ":active" }
func (q *RedisQueue) failedKey() string  { return q.prefix() + ":failed" }
func (q *RedisQueue) jobKey(id string) string {
	return q.prefix() + ":job:" + id
}

// addScript enforces the duplicate-id policy atomically: active and failed
// ids no-op; pending ids have their payload and due time replaced; anything
// else is inserted fresh with a reset attempt counter.
var addScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[2], ARGV[1]) or redis.call('ZSCORE', KEYS[3], ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[4],
  'type', ARGV[2],
  'payload', ARGV[3],
  'max_attempts', ARGV[5],
  'backoff_type', ARGV[6],
  'backoff_ms', ARGV[7],
  'remove_on_complete', ARGV[8],
  'remove_on_fail', ARGV[9])
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  redis.call('HSET', KEYS[4], 'attempt', 0)
  redis.call('HDEL', KEYS[4], 'last_error')
end
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
return 1
`)

// reserveScript requeues expired leases, then claims the earliest due
// pending job: moves it to the active set with a lease and bumps its
// attempt counter. Returns the claimed id or false.
var reserveScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], ARGV[1], id)
end
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
local id = due[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HINCRBY', ARGV[3] .. id, 'attempt', 1)
return id
`)

// Add implements Queue.
func (q *RedisQueue) Add(ctx context.Context, jobType string, payload []byte, opts Options) (Handle, error) {
	if opts.JobID == "" {
		return Handle{}, fmt.Errorf("queue %s: job id is required", q.name)
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	runAt := time.Now().Add(opts.Delay).UnixMilli()

	err := addScript.Run(ctx, q.client,
		[]string{q.pendingKey(), q.activeKey(), q.failedKey(), q.jobKey(opts.JobID)},
		opts.JobID,
		jobType,
		payload,
		runAt,
		attempts,
		string(opts.Backoff.Type),
		opts.Backoff.Delay.Milliseconds(),
		boolArg(opts.RemoveOnComplete),
		boolArg(opts.RemoveOnFail),
	).Err()
	if err != nil {
		return Handle{}, fmt.Errorf("queue %s: add %s: %w", q.name, opts.JobID, err)
	}
	return Handle{ID: opts.JobID}, nil
}

// Reserve implements Queue.
func (q *RedisQueue) Reserve(ctx context.Context, lease time.Duration) (*Job, error) {
	now := time.Now()
	res, err := reserveScript.Run(ctx, q.client,
		[]string{q.pendingKey(), q.activeKey()},
		now.UnixMilli(),
		now.Add(lease).UnixMilli(),
		q.prefix()+":job:",
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue %s: reserve: %w", q.name, err)
	}

	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("queue %s: reserve: unexpected reply %T", q.name, res)
	}

	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue %s: load job %s: %w", q.name, id, err)
	}
	if len(fields) == 0 {
		// Hash vanished under the lease (manual cleanup); drop the claim.
		q.client.ZRem(ctx, q.activeKey(), id)
		return nil, nil
	}
	return q.jobFromFields(id, fields), nil
}

// Complete implements Queue.
func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.activeKey(), job.ID)
	if job.Opts.RemoveOnComplete {
		pipe.Del(ctx, q.jobKey(job.ID))
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue %s: complete %s: %w", q.name, job.ID, err)
	}
	return nil
}

// Fail implements Queue.
func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.activeKey(), job.ID)
	if cause != nil {
		pipe.HSet(ctx, q.jobKey(job.ID), "last_error", cause.Error())
	}
	switch {
	case job.Attempt < job.MaxAttempts:
		retryAt := time.Now().Add(RetryDelay(job.Opts.Backoff, job.Attempt))
		pipe.ZAdd(ctx, q.pendingKey(), redis.Z{Score: float64(retryAt.UnixMilli()), Member: job.ID})
	case job.Opts.RemoveOnFail:
		pipe.Del(ctx, q.jobKey(job.ID))
	default:
		pipe.ZAdd(ctx, q.failedKey(), redis.Z{Score: float64(time.Now().UnixMilli()), Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue %s: fail %s: %w", q.name, job.ID, err)
	}
	return nil
}

// Depth implements Queue.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	pending := pipe.ZCard(ctx, q.pendingKey())
	active := pipe.ZCard(ctx, q.activeKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queue %s: depth: %w", q.name, err)
	}
	return pending.Val() + active.Val(), nil
}

// Name implements Queue.
func (q *RedisQueue) Name() string { return q.name }

// Close implements Queue. The injected client is shared and owned by the
// caller, so Close is a no-op here.
func (q *RedisQueue) Close() error { return nil }

func (q *RedisQueue) jobFromFields(id string, fields map[string]string) *Job {
	attempt, _ := strconv.Atoi(fields["attempt"])
	maxAttempts, _ := strconv.Atoi(fields["max_attempts"])
	backoffMs, _ := strconv.ParseInt(fields["backoff_ms"], 10, 64)
	return &Job{
		ID:          id,
		Type:        fields["type"],
		Payload:     []byte(fields["payload"]),
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Opts: Options{
			JobID:            id,
			Attempts:         maxAttempts,
			Backoff:          Backoff{Type: BackoffType(fields["backoff_type"]), Delay: time.Duration(backoffMs) * time.Millisecond},
			RemoveOnComplete: fields["remove_on_complete"] == "1",
			RemoveOnFail:     fields["remove_on_fail"] == "1",
		},
	}
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
