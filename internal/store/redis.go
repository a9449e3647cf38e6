package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"wabridge/internal/constants"
	apperrors "wabridge/internal/errors"
	"wabridge/internal/models"
	"wabridge/internal/retry"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// URL is a redis:// URL or a bare host:port address.
	URL       string
	KeyPrefix string
	Now       func() time.Time
}

// RedisStore keeps each message as JSON under <prefix>msg:<id> and the two
// indices as lists of ids, newest first. Every index change happens in a
// MULTI block guarded by WATCH on the message key, so concurrent writers for
// the same id retry instead of leaving the id in both lists.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	now     func() time.Time
	txRetry retry.BackoffConfig
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		redisOpts = &redis.Options{Addr: opts.URL}
	}
	return NewRedisStoreWithClient(ctx, redis.NewClient(redisOpts), opts)
}

// NewRedisStoreWithClient wraps an existing client and verifies connectivity.
func NewRedisStoreWithClient(ctx context.Context, client *redis.Client, opts RedisOptions) (*RedisStore, error) {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = constants.DefaultKeyPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &RedisStore{
		client: client,
		prefix: prefix,
		now:    now,
		txRetry: retry.BackoffConfig{
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2,
			MaxAttempts:  10,
			Jitter:       true,
		},
	}
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) Backend() string { return constants.StoreBackendRedis }

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperrors.NewStoreError("ping", err)
	}
	return nil
}

func (s *RedisStore) messageKey(id string) string { return s.prefix + "msg:" + id }

func (s *RedisStore) indexKey(status models.Status) string {
	return s.prefix + string(status) + "_ids"
}

func (s *RedisStore) stateKey() string { return s.prefix + "state" }

func (s *RedisStore) settingKey(key string) string { return s.prefix + key }

// watch runs fn under WATCH key, retrying when another client changed key
// between the read and the EXEC.
func (s *RedisStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	return retry.NewBackoff(s.txRetry).RetryWithPredicate(ctx, func() error {
		return s.client.Watch(ctx, fn, key)
	}, func(err error) bool {
		return errors.Is(err, redis.TxFailedErr)
	})
}

func loadMessage(ctx context.Context, c redis.Cmdable, key string) (*models.Message, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &msg, nil
}

func (s *RedisStore) PutMessage(ctx context.Context, msg *models.Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInvalidParams, "invalid message")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false, apperrors.NewStoreError("encode", err)
	}

	key := s.messageKey(msg.ID)
	var created bool
	err = s.watch(ctx, key, func(tx *redis.Tx) error {
		current, err := loadMessage(ctx, tx, key)
		if err != nil {
			return err
		}
		created = current == nil

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if current != nil && current.Status == msg.Status {
				return nil
			}
			if current != nil {
				pipe.LRem(ctx, s.indexKey(current.Status), 0, msg.ID)
			}
			pipe.LRem(ctx, s.indexKey(msg.Status), 0, msg.ID)
			pipe.LPush(ctx, s.indexKey(msg.Status), msg.ID)
			return nil
		})
		return err
	})
	if err != nil {
		return false, apperrors.NewStoreError("put", err)
	}
	return created, nil
}

func (s *RedisStore) GetMessage(ctx context.Context, id string) (*models.Message, bool, error) {
	msg, err := loadMessage(ctx, s.client, s.messageKey(id))
	if err != nil {
		return nil, false, apperrors.NewStoreError("get", err)
	}
	return msg, msg != nil, nil
}

func (s *RedisStore) ListMessages(ctx context.Context, status models.Status, limit int) ([]*models.Message, error) {
	ids, err := s.client.LRange(ctx, s.indexKey(status), 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list", err)
	}
	if len(ids) == 0 {
		return []*models.Message{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.messageKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.NewStoreError("list", err)
	}

	out := make([]*models.Message, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(str), &msg); err != nil {
			continue
		}
		// the message may have moved between LRANGE and MGET
		if msg.Status != status {
			continue
		}
		out = append(out, &msg)
	}

	// lists are newest-inserted first, so a stable sort keeps that tie-break
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, id string) (bool, error) {
	key := s.messageKey(id)
	var moved bool
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		moved = false
		current, err := loadMessage(ctx, tx, key)
		if err != nil || current == nil || current.Status != models.StatusPending {
			return err
		}

		current.Status = models.StatusProcessed
		current.Timestamp = s.now().UnixMilli()
		data, err := json.Marshal(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.LRem(ctx, s.indexKey(models.StatusPending), 0, id)
			pipe.LRem(ctx, s.indexKey(models.StatusProcessed), 0, id)
			pipe.LPush(ctx, s.indexKey(models.StatusProcessed), id)
			return nil
		})
		moved = err == nil
		return err
	})
	if err != nil {
		return false, apperrors.NewStoreError("mark_processed", err)
	}
	return moved, nil
}

func (s *RedisStore) PruneProcessed(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.client.LRange(ctx, s.indexKey(models.StatusProcessed), 0, -1).Result()
	if err != nil {
		return 0, apperrors.NewStoreError("prune", err)
	}

	cutoff := before.UnixMilli()
	pruned := 0
	for _, id := range ids {
		key := s.messageKey(id)
		var removed bool
		err := s.watch(ctx, key, func(tx *redis.Tx) error {
			removed = false
			current, err := loadMessage(ctx, tx, key)
			if err != nil {
				return err
			}
			if current != nil && (current.Status != models.StatusProcessed || current.Timestamp >= cutoff) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.LRem(ctx, s.indexKey(models.StatusProcessed), 0, id)
				return nil
			})
			removed = err == nil && current != nil
			return err
		})
		if err != nil {
			return pruned, apperrors.NewStoreError("prune", err)
		}
		if removed {
			pruned++
		}
	}
	return pruned, nil
}

func (s *RedisStore) Counts(ctx context.Context) (map[models.Status]int, error) {
	counts := map[models.Status]int{}
	for _, status := range []models.Status{models.StatusPending, models.StatusProcessed} {
		n, err := s.client.LLen(ctx, s.indexKey(status)).Result()
		if err != nil {
			return nil, apperrors.NewStoreError("count", err)
		}
		counts[status] = int(n)
	}
	return counts, nil
}

func (s *RedisStore) GetState(ctx context.Context) (models.State, error) {
	closed, err := s.client.HGet(ctx, s.stateKey(), "closed").Bool()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.State{}, apperrors.NewStoreError("get_state", err)
	}
	return models.State{Closed: closed}, nil
}

// SetState writes only the fields present in patch; HSET gives merge semantics.
func (s *RedisStore) SetState(ctx context.Context, patch models.StatePatch) (models.State, error) {
	if patch.Closed != nil {
		if err := s.client.HSet(ctx, s.stateKey(), "closed", *patch.Closed).Err(); err != nil {
			return models.State{}, apperrors.NewStoreError("set_state", err)
		}
	}
	return s.GetState(ctx)
}

func (s *RedisStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.settingKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewStoreError("get_setting", err)
	}
	return value, true, nil
}

func (s *RedisStore) SetSetting(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.settingKey(key), value, 0).Err(); err != nil {
		return apperrors.NewStoreError("set_setting", err)
	}
	return nil
}
