package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"fitness-payments-bot/internal/domain/model"
	"fitness-payments-bot/internal/domain/ports/repository"
	"fitness-payments-bot/internal/infra/metrics"
	red "fitness-payments-bot/internal/infra/redis"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

// userRepoCacheDecorator serves user lookups from Redis. The cached value keeps
// the encrypted backend token exactly as stored in Postgres. Reads inside a
// transaction always go to the database.
type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.UserRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &userRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: logger}
}

func userIDKey(id string) string  { return fmt.Sprintf("user:id:%s", id) }
func userTgKey(tgID int64) string { return fmt.Sprintf("user:tgid:%d", tgID) }

// Save writes through and drops both cache keys.
func (d *userRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if err := d.inner.Save(ctx, tx, u); err != nil {
		return err
	}
	if err := d.cache.Del(ctx, userIDKey(u.ID), userTgKey(u.TelegramID)); err != nil {
		d.log.Warn().Err(err).Str("user_id", u.ID).Msg("user cache invalidation failed")
	}
	return nil
}

func (d *userRepoCacheDecorator) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	if tx != nil {
		return d.inner.FindByTelegramID(ctx, tx, tgID)
	}
	if u := d.get(ctx, userTgKey(tgID)); u != nil {
		return u, nil
	}
	u, err := d.inner.FindByTelegramID(ctx, tx, tgID)
	if err != nil {
		return nil, err
	}
	d.put(ctx, u)
	return u, nil
}

func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	if u := d.get(ctx, userIDKey(id)); u != nil {
		return u, nil
	}
	u, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.put(ctx, u)
	return u, nil
}

func (d *userRepoCacheDecorator) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	return d.inner.CountUsers(ctx, tx)
}

func (d *userRepoCacheDecorator) CountActiveSince(ctx context.Context, tx repository.Tx, since time.Time) (int, error) {
	return d.inner.CountActiveSince(ctx, tx, since)
}

func (d *userRepoCacheDecorator) get(ctx context.Context, key string) *model.User {
	val, err := d.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.log.Warn().Err(err).Str("key", key).Msg("user cache read failed")
		}
		metrics.IncCacheRequest("user", "miss")
		return nil
	}
	var u model.User
	if err := json.Unmarshal([]byte(val), &u); err != nil {
		metrics.IncCacheRequest("user", "miss")
		return nil
	}
	metrics.IncCacheRequest("user", "hit")
	return &u
}

// put warms both keys so either lookup path hits next time.
func (d *userRepoCacheDecorator) put(ctx context.Context, u *model.User) {
	if u == nil {
		return
	}
	b, err := json.Marshal(u)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, userIDKey(u.ID), b, d.ttl)
	_ = d.cache.Set(ctx, userTgKey(u.TelegramID), b, d.ttl)
}
