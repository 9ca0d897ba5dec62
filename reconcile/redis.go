package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	x402 "github.com/ticketchain/x402-tickets"
)

// DefaultKeyPrefix namespaces the reconciliation keys
const DefaultKeyPrefix = "tickets:orphaned"

// RedisStore keeps each entry as a JSON string and indexes open entries in a sorted set
// scored by creation time.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Store backed by client
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entryKey(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

// Record implements x402.ReconciliationRecorder
func (s *RedisStore) Record(ctx context.Context, entry x402.OrphanedSettlement) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal orphaned settlement failed: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(entry.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(entry.CreatedAt), Member: entry.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record failed: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]x402.OrphanedSettlement, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return []x402.OrphanedSettlement{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	list := make([]x402.OrphanedSettlement, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// indexed but the entry key is gone
			continue
		}
		var entry x402.OrphanedSettlement
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal orphaned settlement %s failed: %w", ids[i], err)
		}
		list = append(list, entry)
	}
	return list, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*x402.OrphanedSettlement, error) {
	data, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry x402.OrphanedSettlement
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal orphaned settlement failed: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) Resolve(ctx context.Context, id string) (*x402.OrphanedSettlement, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.indexKey(), id)
		pipe.Del(ctx, s.entryKey(id))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis resolve failed: %w", err)
	}
	return entry, nil
}
