package entrypack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"entrypack/pkg/domain"
	"entrypack/pkg/platform/sentinel"
)

const (
	// Key prefixes. The pack namespace is the cache side of the dual-store
	// pair; the traveler index keeps ListByTraveler off KEYS/SCAN.
	packKeyPrefix     = "ep:pack:"
	travelerSetPrefix = "ep:traveler:"
	allPacksSet       = "ep:packs"
)

// RedisStore is the cache side of the dual-store pair. It is a follower:
// writes always land (no revision guard) because the durable store is the
// authority and the conflict resolver overwrites divergent cache entries
// durable-wins.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, pack Pack) error {
	payload, err := json.Marshal(pack)
	if err != nil {
		return fmt.Errorf("marshal pack for cache: %w", err)
	}
	key := pack.Key.String()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, packKeyPrefix+key, payload, 0)
	pipe.SAdd(ctx, travelerSetPrefix+pack.Key.Traveler.String(), key)
	pipe.SAdd(ctx, allPacksSet, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache pack: %w", err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, key domain.PackKey) (Pack, error) {
	payload, err := s.client.Get(ctx, packKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Pack{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Pack{}, fmt.Errorf("read cached pack: %w", err)
	}
	var pack Pack
	if err := json.Unmarshal(payload, &pack); err != nil {
		return Pack{}, fmt.Errorf("unmarshal cached pack: %w", err)
	}
	return pack, nil
}

func (s *RedisStore) ListByTraveler(ctx context.Context, traveler domain.TravelerID) ([]Pack, error) {
	keys, err := s.client.SMembers(ctx, travelerSetPrefix+traveler.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("list cached packs by traveler: %w", err)
	}
	return s.collect(ctx, keys)
}

func (s *RedisStore) ListAll(ctx context.Context) ([]Pack, error) {
	keys, err := s.client.SMembers(ctx, allPacksSet).Result()
	if err != nil {
		return nil, fmt.Errorf("list cached packs: %w", err)
	}
	return s.collect(ctx, keys)
}

func (s *RedisStore) collect(ctx context.Context, keys []string) ([]Pack, error) {
	var out []Pack
	for _, key := range keys {
		parsed, err := domain.ParsePackKey(key)
		if err != nil {
			continue
		}
		pack, err := s.Find(ctx, parsed)
		if errors.Is(err, sentinel.ErrNotFound) {
			// Index entry outlived the value; a crash mid-write can leave
			// this. The conflict resolver heals it on the next reconcile.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, pack)
	}
	return out, nil
}

// Drop removes one cache entry. Used by tests to simulate a cold cache.
func (s *RedisStore) Drop(ctx context.Context, key domain.PackKey) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, packKeyPrefix+key.String())
	pipe.SRem(ctx, travelerSetPrefix+key.Traveler.String(), key.String())
	pipe.SRem(ctx, allPacksSet, key.String())
	_, err := pipe.Exec(ctx)
	return err
}
