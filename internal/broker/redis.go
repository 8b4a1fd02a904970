package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBroker keeps four structures per lane: a hash of job bodies, a
// ready sorted-set scored by priority band + sequence, a delayed
// sorted-set scored by ready-at, and a leased sorted-set scored by
// lease deadline. Every transition runs as a Lua script so concurrent
// workers across processes never double-lease a job.
type redisBroker struct {
	client *redis.Client

	enqueueScript *redis.Script
	leaseScript   *redis.Script
	ackScript     *redis.Script
	nackScript    *redis.Script
}

const enqueueLua = `
local jobsKey = KEYS[1]
local readyKey = KEYS[2]
local delayedKey = KEYS[3]
local seqKey = KEYS[4]
local id = ARGV[1]
local body = ARGV[2]
local priority = tonumber(ARGV[3])
local readyAt = tonumber(ARGV[4])
local nowMs = tonumber(ARGV[5])

redis.call("HSET", jobsKey, id, body)
if readyAt > nowMs then
    redis.call("ZADD", delayedKey, readyAt, id)
else
    local seq = redis.call("INCR", seqKey)
    redis.call("ZADD", readyKey, (10 - priority) * 1e12 + seq, id)
end
return 1
`

const leaseLua = `
local jobsKey = KEYS[1]
local readyKey = KEYS[2]
local delayedKey = KEYS[3]
local leasedKey = KEYS[4]
local seqKey = KEYS[5]
local nowMs = tonumber(ARGV[1])
local deadline = tonumber(ARGV[2])

-- promote due delayed jobs
local due = redis.call("ZRANGEBYSCORE", delayedKey, "-inf", nowMs, "LIMIT", 0, 100)
for _, id in ipairs(due) do
    local body = redis.call("HGET", jobsKey, id)
    if body then
        local job = cjson.decode(body)
        local seq = redis.call("INCR", seqKey)
        local prio = tonumber(job["priority"]) or 5
        redis.call("ZADD", readyKey, (10 - prio) * 1e12 + seq, id)
    end
    redis.call("ZREM", delayedKey, id)
end

-- reap expired leases back into the ready set
local expired = redis.call("ZRANGEBYSCORE", leasedKey, "-inf", nowMs, "LIMIT", 0, 100)
for _, id in ipairs(expired) do
    local body = redis.call("HGET", jobsKey, id)
    if body then
        local job = cjson.decode(body)
        local seq = redis.call("INCR", seqKey)
        local prio = tonumber(job["priority"]) or 5
        redis.call("ZADD", readyKey, (10 - prio) * 1e12 + seq, id)
    end
    redis.call("ZREM", leasedKey, id)
end

-- pop the highest-priority ready job
local popped = redis.call("ZPOPMIN", readyKey)
if #popped == 0 then
    return false
end
local id = popped[1]
local body = redis.call("HGET", jobsKey, id)
if not body then
    return false
end

local job = cjson.decode(body)
job["attempts"] = (tonumber(job["attempts"]) or 0) + 1
body = cjson.encode(job)
redis.call("HSET", jobsKey, id, body)
redis.call("ZADD", leasedKey, deadline, id)
return {id, body}
`

const ackLua = `
local jobsKey = KEYS[1]
local leasedKey = KEYS[2]
local id = ARGV[1]

redis.call("ZREM", leasedKey, id)
redis.call("HDEL", jobsKey, id)
return 1
`

const nackLua = `
local leasedKey = KEYS[1]
local delayedKey = KEYS[2]
local id = ARGV[1]
local readyAt = tonumber(ARGV[2])

redis.call("ZREM", leasedKey, id)
redis.call("ZADD", delayedKey, readyAt, id)
return 1
`

// NewRedisBroker wraps an existing Redis client.
func NewRedisBroker(client *redis.Client) Broker {
	return &redisBroker{
		client:        client,
		enqueueScript: redis.NewScript(enqueueLua),
		leaseScript:   redis.NewScript(leaseLua),
		ackScript:     redis.NewScript(ackLua),
		nackScript:    redis.NewScript(nackLua),
	}
}

// NewRedisBrokerFromURL connects to Redis and verifies the connection.
func NewRedisBrokerFromURL(redisURL string) (Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisBroker(client), nil
}

func laneKeys(lane string) (jobs, ready, delayed, leased, seq string) {
	prefix := "queue:" + lane
	return prefix + ":jobs", prefix + ":ready", prefix + ":delayed", prefix + ":leased", prefix + ":seq"
}

func (b *redisBroker) Enqueue(ctx context.Context, lane string, job *Job, delay time.Duration) error {
	if job.Priority < 1 || job.Priority > 10 {
		job.Priority = 5
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	now := time.Now()
	readyAt := now.Add(delay)

	jobs, ready, delayed, _, seq := laneKeys(lane)
	err = b.enqueueScript.Run(ctx, b.client,
		[]string{jobs, ready, delayed, seq},
		job.ID,
		string(body),
		job.Priority,
		readyAt.UnixMilli(),
		now.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (b *redisBroker) Lease(ctx context.Context, lane string, visibility time.Duration) (*LeasedJob, error) {
	now := time.Now()
	jobs, ready, delayed, leased, seq := laneKeys(lane)

	raw, err := b.leaseScript.Run(ctx, b.client,
		[]string{jobs, ready, delayed, leased, seq},
		now.UnixMilli(),
		now.Add(visibility).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}

	slice, ok := raw.([]interface{})
	if !ok || len(slice) < 2 {
		return nil, nil
	}
	body, ok := slice[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected lease reply type %T", slice[1])
	}

	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal leased job: %w", err)
	}

	return &LeasedJob{
		Job:     job,
		Lane:    lane,
		LeaseID: job.ID,
	}, nil
}

func (b *redisBroker) Ack(ctx context.Context, job *LeasedJob) error {
	jobs, _, _, leased, _ := laneKeys(job.Lane)
	if err := b.ackScript.Run(ctx, b.client, []string{jobs, leased}, job.LeaseID).Err(); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

func (b *redisBroker) Nack(ctx context.Context, job *LeasedJob, delay time.Duration) error {
	_, _, delayed, leased, _ := laneKeys(job.Lane)
	readyAt := time.Now().Add(delay).UnixMilli()
	if err := b.nackScript.Run(ctx, b.client, []string{leased, delayed}, job.LeaseID, readyAt).Err(); err != nil {
		return fmt.Errorf("failed to nack job: %w", err)
	}
	return nil
}

func (b *redisBroker) Close() error {
	return b.client.Close()
}
