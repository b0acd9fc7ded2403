package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the production queue backend. State per task lives in a
// hash; membership moves between a pending list, a leased set scored by
// lease deadline, a delayed set scored by retry time, and a dead-letter
// list. All transitions run as Lua scripts so a crash between two Redis
// commands can never strand a task in a half-moved state.
type RedisQueue struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
	lease       time.Duration
	retryDelay  time.Duration
	retention   time.Duration
}

type RedisQueueOptions struct {
	URL         string
	Prefix      string
	MaxAttempts int
	// LeaseTimeout is the visibility window. A leased task whose worker
	// neither acks nor nacks within it goes back to pending.
	LeaseTimeout time.Duration
	// RetryDelay is the base delay before the first retry; it doubles per
	// attempt.
	RetryDelay time.Duration
	// Retention is how long finished task records stay readable.
	Retention time.Duration
}

func NewRedisQueue(ctx context.Context, opts RedisQueueOptions) (*RedisQueue, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Prefix == "" {
		opts.Prefix = "recall:ingest"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	return &RedisQueue{
		client:      client,
		prefix:      opts.Prefix,
		maxAttempts: opts.MaxAttempts,
		lease:       opts.LeaseTimeout,
		retryDelay:  opts.RetryDelay,
		retention:   opts.Retention,
	}, nil
}

func (q *RedisQueue) taskKey(key string) string { return q.prefix + ":task:" + key }
func (q *RedisQueue) pendingKey() string        { return q.prefix + ":pending" }
func (q *RedisQueue) leasedKey() string         { return q.prefix + ":leased" }
func (q *RedisQueue) delayedKey() string        { return q.prefix + ":delayed" }
func (q *RedisQueue) deadKey() string           { return q.prefix + ":dead" }

// enqueueScript: first write of a key wins, replays are dropped.
// KEYS[1]=task hash, KEYS[2]=pending list; ARGV[1]=key, ARGV[2]=task json.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'status', 'pending', 'attempts', 0)
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// leaseScript promotes due delayed tasks and reclaims expired leases before
// handing out the oldest pending task. The attempt counter increments on
// delivery, so a worker crash still consumes an attempt when the task comes
// back.
// KEYS[1]=pending, KEYS[2]=leased, KEYS[3]=delayed;
// ARGV[1]=now ms, ARGV[2]=lease deadline ms, ARGV[3]=task key prefix,
// ARGV[4]=worker id.
var leaseScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, key in ipairs(due) do
  redis.call('ZREM', KEYS[3], key)
  redis.call('LPUSH', KEYS[1], key)
  redis.call('HSET', ARGV[3] .. key, 'status', 'pending')
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, key in ipairs(expired) do
  redis.call('ZREM', KEYS[2], key)
  redis.call('LPUSH', KEYS[1], key)
  redis.call('HSET', ARGV[3] .. key, 'status', 'pending')
end
local key = redis.call('RPOP', KEYS[1])
if not key then
  return false
end
local hash = ARGV[3] .. key
local attempts = redis.call('HINCRBY', hash, 'attempts', 1)
redis.call('HSET', hash, 'status', 'in_flight', 'worker', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[2], key)
return {key, redis.call('HGET', hash, 'data'), attempts}
`)

// ackScript: KEYS[1]=leased, KEYS[2]=task hash;
// ARGV[1]=key, ARGV[2]=retention ms.
var ackScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'status', 'done')
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return 1
`)

// nackScript schedules a delayed retry with exponential backoff, or
// dead-letters the task once attempts reach the limit.
// KEYS[1]=leased, KEYS[2]=delayed, KEYS[3]=dead, KEYS[4]=task hash;
// ARGV[1]=key, ARGV[2]=reason, ARGV[3]=now ms, ARGV[4]=base retry delay ms,
// ARGV[5]=max attempts.
var nackScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[4]) == 0 then
  return -1
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[4], 'last_error', ARGV[2])
local attempts = tonumber(redis.call('HGET', KEYS[4], 'attempts'))
if attempts >= tonumber(ARGV[5]) then
  redis.call('HSET', KEYS[4], 'status', 'dead_lettered', 'dead_at', ARGV[3])
  redis.call('LPUSH', KEYS[3], ARGV[1])
  return 0
end
local delay = tonumber(ARGV[4]) * 2 ^ (attempts - 1)
redis.call('HSET', KEYS[4], 'status', 'pending')
redis.call('ZADD', KEYS[2], tonumber(ARGV[3]) + delay, ARGV[1])
return attempts
`)

// requeueScript: KEYS[1]=dead, KEYS[2]=pending, KEYS[3]=task hash;
// ARGV[1]=key.
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 0, ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[3], 'status', 'pending', 'attempts', 0, 'last_error', '')
redis.call('HDEL', KEYS[3], 'dead_at')
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) (bool, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task: %w", err)
	}
	n, err := enqueueScript.Run(ctx, q.client,
		[]string{q.taskKey(task.Key), q.pendingKey()},
		task.Key, string(data),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: enqueue failed: %w", ErrQueueUnavailable, err)
	}
	return n == 1, nil
}

func (q *RedisQueue) Lease(ctx context.Context, workerID string) (*Task, error) {
	now := time.Now()
	res, err := leaseScript.Run(ctx, q.client,
		[]string{q.pendingKey(), q.leasedKey(), q.delayedKey()},
		now.UnixMilli(),
		now.Add(q.lease).UnixMilli(),
		q.prefix+":task:",
		workerID,
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lease failed: %w", ErrQueueUnavailable, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) != 3 {
		return nil, fmt.Errorf("unexpected lease script result: %v", res)
	}
	var task Task
	if err := json.Unmarshal([]byte(parts[1].(string)), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %v: %w", parts[0], err)
	}
	task.Status = StatusInFlight
	task.Attempts = int(toInt64(parts[2]))
	return &task, nil
}

func (q *RedisQueue) Ack(ctx context.Context, key string) error {
	n, err := ackScript.Run(ctx, q.client,
		[]string{q.leasedKey(), q.taskKey(key)},
		key, q.retention.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: ack failed: %w", ErrQueueUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", key, ErrTaskNotFound)
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, key string, reason string) error {
	n, err := nackScript.Run(ctx, q.client,
		[]string{q.leasedKey(), q.delayedKey(), q.deadKey(), q.taskKey(key)},
		key, reason, time.Now().UnixMilli(), q.retryDelay.Milliseconds(), q.maxAttempts,
	).Int()
	if err != nil {
		return fmt.Errorf("%w: nack failed: %w", ErrQueueUnavailable, err)
	}
	if n < 0 {
		return fmt.Errorf("task %s: %w", key, ErrTaskNotFound)
	}
	return nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	keys, err := q.client.LRange(ctx, q.deadKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: dead letter listing failed: %w", ErrQueueUnavailable, err)
	}

	letters := make([]DeadLetter, 0, len(keys))
	for _, key := range keys {
		fields, err := q.client.HGetAll(ctx, q.taskKey(key)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(fields["data"]), &task); err != nil {
			continue
		}
		task.Status = StatusDeadLettered
		task.Attempts, _ = strconv.Atoi(fields["attempts"])
		task.LastError = fields["last_error"]

		dl := DeadLetter{Task: task, FailureCount: task.Attempts}
		if ms, err := strconv.ParseInt(fields["dead_at"], 10, 64); err == nil {
			dl.DeadAt = time.UnixMilli(ms).UTC()
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, key string) error {
	n, err := requeueScript.Run(ctx, q.client,
		[]string{q.deadKey(), q.pendingKey(), q.taskKey(key)},
		key,
	).Int()
	if err != nil {
		return fmt.Errorf("%w: requeue failed: %w", ErrQueueUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", key, ErrTaskNotFound)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
