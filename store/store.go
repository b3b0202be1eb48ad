// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/database"
)

// KeyAction mirrors the generic "key" change-notification payload:
// "{key, action: 'set'|'del'}".
type KeyAction string

const (
	ActionSet KeyAction = "set"
	ActionDel KeyAction = "del"
)

type keyNotification struct {
	Key    string    `json:"key"`
	Action KeyAction `json:"action"`
}

// Store is the typed facade the rest of the relayer talks to. It owns no
// connections itself; those live in the database.KVBackend it wraps, which
// is what actually holds the "general" vs "subscriber-only" connection
// split.
type Store struct {
	backend database.KVBackend
	logger  *zap.Logger
}

func New(backend database.KVBackend, logger *zap.Logger) *Store {
	return &Store{backend: backend, logger: logger}
}

// set writes value at key and publishes a "key" change notification. The
// set-then-publish pair is not transactional: a subscriber racing the
// publish may still observe the pre-update value and must tolerate it.
func (s *Store) set(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "store: marshal value for %s", key)
	}
	if err := s.backend.Set(ctx, key, payload); err != nil {
		return errors.Wrapf(err, "store: set %s", key)
	}
	s.publishKeyNotification(ctx, key, ActionSet)
	return nil
}

func (s *Store) del(ctx context.Context, key string) error {
	if err := s.backend.Del(ctx, key); err != nil {
		return errors.Wrapf(err, "store: del %s", key)
	}
	s.publishKeyNotification(ctx, key, ActionDel)
	return nil
}

func (s *Store) get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.backend.Get(ctx, key)
	if database.IsKeyNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "store: get %s", key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.Wrapf(err, "store: unmarshal %s", key)
	}
	return true, nil
}

func (s *Store) publishKeyNotification(ctx context.Context, key string, action KeyAction) {
	payload, err := json.Marshal(keyNotification{Key: key, Action: action})
	if err != nil {
		s.logger.Error("failed to marshal key notification", zap.Error(err))
		return
	}
	if err := s.backend.Publish(ctx, channelName(channelKey), payload); err != nil {
		s.logger.Warn("failed to publish key notification", zap.String("key", key), zap.Error(err))
	}
}

// SubscribeKey subscribes to the generic "key" change-notification channel.
func (s *Store) SubscribeKey(ctx context.Context, handler func(key string, action KeyAction)) error {
	return s.backend.Subscribe(ctx, channelName(channelKey), func(msg database.Message) {
		var note keyNotification
		if err := json.Unmarshal(msg.Payload, &note); err != nil {
			s.logger.Error("malformed key notification", zap.Error(err))
			return
		}
		handler(note.Key, note.Action)
	})
}

// Close releases the underlying backend connections.
func (s *Store) Close() error {
	return s.backend.Close()
}
