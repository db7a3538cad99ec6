package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stagehall/stagehall/internal/domain"
)

const keyPrefix = "livestream:"

// RedisStore shares livestream status across instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func key(eventID domain.EventID) string {
	return keyPrefix + string(eventID)
}

func (s *RedisStore) SetLive(ctx context.Context, eventID domain.EventID, broadcaster domain.UserID) error {
	data, err := json.Marshal(Livestream{Live: true, Broadcaster: broadcaster})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key(eventID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist live status: %w", err)
	}
	return nil
}

func (s *RedisStore) SetEnded(ctx context.Context, eventID domain.EventID) error {
	if err := s.client.Del(ctx, key(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to clear live status: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, eventID domain.EventID) (Livestream, error) {
	data, err := s.client.Get(ctx, key(eventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Livestream{}, nil
		}
		return Livestream{}, fmt.Errorf("failed to read live status: %w", err)
	}
	var ls Livestream
	if err := json.Unmarshal(data, &ls); err != nil {
		return Livestream{}, fmt.Errorf("failed to decode live status: %w", err)
	}
	return ls, nil
}
