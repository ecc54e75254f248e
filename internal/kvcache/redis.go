package kvcache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "liverank:"

// Redis stores JSON values in Redis with native expiry.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, data, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Layered reads the shared tier first and falls back to the local one.
// Writes go to both; a failing shared tier never fails the caller.
type Layered struct {
	remote Store
	local  Store
	onErr  func(op string, err error)
}

func NewLayered(remote, local Store, onErr func(op string, err error)) *Layered {
	if onErr == nil {
		onErr = func(string, error) {}
	}
	return &Layered{remote: remote, local: local, onErr: onErr}
}

func (l *Layered) Get(ctx context.Context, key string, dest any) (bool, error) {
	if l.remote != nil {
		found, err := l.remote.Get(ctx, key, dest)
		if err != nil {
			l.onErr("get", err)
		} else if found {
			return true, nil
		}
	}
	return l.local.Get(ctx, key, dest)
}

func (l *Layered) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if l.remote != nil {
		if err := l.remote.Set(ctx, key, value, ttl); err != nil {
			l.onErr("set", err)
		}
	}
	return l.local.Set(ctx, key, value, ttl)
}

func (l *Layered) Delete(ctx context.Context, key string) error {
	if l.remote != nil {
		if err := l.remote.Delete(ctx, key); err != nil {
			l.onErr("delete", err)
		}
	}
	return l.local.Delete(ctx, key)
}
