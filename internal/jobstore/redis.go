package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goyais/streamgate/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "streamgate:job:"
	redisCreatedIdx  = "streamgate:jobs:created"
	maxWatchAttempts = 8
)

// RedisConfig holds Redis connection details.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis stores each job as a JSON string with a TTL, plus a sorted set of ids
// scored by creation time for sweeps.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis wraps an existing client. ttl <= 0 disables key expiry.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl < 0 {
		ttl = 0
	}
	return &Redis{client: client, ttl: ttl}
}

// DialRedis opens a client and verifies the connection.
func DialRedis(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewRedis(client, ttl), nil
}

func (r *Redis) key(id string) string { return redisKeyPrefix + id }

func (r *Redis) Create(ctx context.Context, job *model.Job) error {
	stored := prepareCreate(job)
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(stored.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("create job %s: %w", stored.ID, err)
	}
	if !ok {
		return model.ErrJobExists
	}
	if err := r.client.ZAdd(ctx, redisCreatedIdx, redis.Z{
		Score:  float64(stored.CreatedAt.UnixMilli()),
		Member: stored.ID,
	}).Err(); err != nil {
		// An unindexed key would never be swept.
		if derr := r.client.Del(context.WithoutCancel(ctx), r.key(stored.ID)).Err(); derr != nil {
			return fmt.Errorf("index job %s: %w (rollback: %v)", stored.ID, err, derr)
		}
		return fmt.Errorf("index job %s: %w", stored.ID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*model.Job, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return decodeJob(raw)
}

// Update uses WATCH/MULTI so a concurrent writer forces a retry instead of a
// lost update.
func (r *Redis) Update(ctx context.Context, id string, fn Mutator) (*model.Job, error) {
	key := r.key(id)
	var out *model.Job
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		cur, err := decodeJob(raw)
		if err != nil {
			return err
		}
		next, err := applyUpdate(cur, fn)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		}); err != nil {
			return err
		}
		out = next
		return nil
	}

	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out.Clone(), nil
	}
	return nil, fmt.Errorf("update job %s: gave up after %d contended attempts", id, maxWatchAttempts)
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	_ = r.client.ZRem(ctx, redisCreatedIdx, id).Err()
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (r *Redis) createdBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, redisCreatedIdx, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan job index: %w", err)
	}
	return ids, nil
}

func (r *Redis) Stale(ctx context.Context, createdBefore time.Time) ([]string, error) {
	ids, err := r.createdBefore(ctx, createdBefore)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, id := range ids {
		job, err := r.Get(ctx, id)
		if model.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !job.Status.Terminal() {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

// Sweep also prunes index entries whose keys already expired via TTL.
func (r *Redis) Sweep(ctx context.Context, createdBefore time.Time) (int, error) {
	ids, err := r.createdBefore(ctx, createdBefore)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	dels := make([]*redis.IntCmd, 0, len(ids))
	members := make([]any, 0, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			dels = append(dels, pipe.Del(ctx, r.key(id)))
			members = append(members, id)
		}
		pipe.ZRem(ctx, redisCreatedIdx, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep jobs: %w", err)
	}
	removed := 0
	for _, cmd := range dels {
		removed += int(cmd.Val())
	}
	return removed, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func decodeJob(raw []byte) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
