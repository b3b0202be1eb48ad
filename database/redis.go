// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package database

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisBackend implements KVBackend over two *redis.Client connections: a
// general-purpose one for Get/Set/Del/Scan and a dedicated one reserved for
// Subscribe, since a connection with an active subscription can no longer
// issue ordinary commands.
type RedisBackend struct {
	cmd redis.Cmdable
	sub redis.Cmdable
}

// NewRedisBackend wires both connections against addr. The caller picks
// hostnames (config.ResolveRedisHost applies the USE_DOCKER convention).
func NewRedisBackend(addr, password string, db int) *RedisBackend {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	return &RedisBackend{
		cmd: redis.NewClient(opts),
		sub: redis.NewClient(opts),
	}
}

// NewRedisBackendFromClients wraps already-constructed clients; used by
// tests against miniredis and by callers that need custom TLS/pool options.
func NewRedisBackendFromClients(cmd, sub redis.Cmdable) *RedisBackend {
	return &RedisBackend{cmd: cmd, sub: sub}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDataKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis GET %s", key)
	}
	return val, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.cmd.Set(ctx, key, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis SET %s", key)
	}
	return nil
}

func (b *RedisBackend) Del(ctx context.Context, key string) error {
	if err := b.cmd.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "redis DEL %s", key)
	}
	return nil
}

func (b *RedisBackend) Scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := b.cmd.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "redis SCAN %s", prefix)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (b *RedisBackend) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.cmd.Publish(ctx, channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "redis PUBLISH %s", channel)
	}
	return nil
}

func (b *RedisBackend) Subscribe(ctx context.Context, channel string, handler func(Message)) error {
	client, ok := b.sub.(*redis.Client)
	if !ok {
		return errors.Wrap(ErrDatabaseMisconfiguration, "subscriber connection does not support PubSub")
	}
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, open := <-ch:
			if !open {
				return errors.Wrap(ErrBackendUnavailable, "subscription channel closed")
			}
			handler(Message{Channel: msg.Channel, Payload: []byte(msg.Payload)})
		}
	}
}

func (b *RedisBackend) Close() error {
	var firstErr error
	if closer, ok := b.cmd.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			firstErr = err
		}
	}
	if closer, ok := b.sub.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
