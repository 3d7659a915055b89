package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fitness-payments-bot/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.LinkStateRepository = (*LinkStateRepo)(nil)

// LinkStateRepo keeps account-link conversations in Redis so any bot worker
// (or replica) can continue a chat.
type LinkStateRepo struct {
	client RedisClient
	ttl    time.Duration
}

func NewLinkStateRepo(client RedisClient, ttl time.Duration) *LinkStateRepo {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &LinkStateRepo{client: client, ttl: ttl}
}

func linkStateKey(chatID int64) string {
	return fmt.Sprintf("link_state:%d", chatID)
}

func (s *LinkStateRepo) Set(ctx context.Context, chatID int64, state *repository.LinkState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, linkStateKey(chatID), data, s.ttl)
}

func (s *LinkStateRepo) Get(ctx context.Context, chatID int64) (*repository.LinkState, error) {
	data, err := s.client.Get(ctx, linkStateKey(chatID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var state repository.LinkState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *LinkStateRepo) Clear(ctx context.Context, chatID int64) error {
	return s.client.Del(ctx, linkStateKey(chatID))
}
