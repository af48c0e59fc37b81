package redisx

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers which order a create request key produced. Keys arrive
// already scoped to the requester as {user_id}:{key}.
type IdempotencyStore struct {
	RDB redis.Cmdable
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key, orderID string) (string, bool, error) {
	k := IdemOrderCreateKey(key)
	ok, err := s.RDB.SetNX(ctx, k, orderID, TTLIdempotency).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return orderID, true, nil
	}
	existing, err := s.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		ok, err = s.RDB.SetNX(ctx, k, orderID, TTLIdempotency).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return orderID, true, nil
		}
		existing, err = s.RDB.Get(ctx, k).Result()
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.RDB.Del(ctx, IdemOrderCreateKey(key)).Err()
}
