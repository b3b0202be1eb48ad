// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

//go:generate mockgen -source=$GOFILE -destination=./mocks/mock_database.go -package=mocks

// Package database is the low-level key/value + pub-sub backend the
// relayer's shared state sits on. It deliberately knows nothing about
// bounties, AMBs, or messages — that typed vocabulary lives one layer up,
// in package store, which keeps a bare Get/Set interface separate from the
// higher-level package that builds meaning on top of it.
package database

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrDataKeyNotFound          = errors.New("data key not found")
	ErrBackendUnavailable       = errors.New("backend unavailable")
	ErrDatabaseMisconfiguration = errors.New("database misconfiguration")
)

// IsKeyNotFoundError reports whether err (or one it wraps) indicates that
// the requested key was never written.
func IsKeyNotFoundError(err error) bool {
	return errors.Is(err, ErrDataKeyNotFound)
}

// Message is a single pub-sub delivery: the channel it arrived on and its
// raw JSON payload.
type Message struct {
	Channel string
	Payload []byte
}

// KVBackend is the shared key/value + pub-sub facade the rest of the
// relayer is built on. A Redis-backed implementation is the only one
// shipped, but nothing above this package assumes Redis specifically.
type KVBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]string, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe blocks, delivering messages to handler until ctx is
	// cancelled. It must be called on the backend's dedicated subscriber
	// connection: Redis forbids general commands on a connection that has
	// an active subscription.
	Subscribe(ctx context.Context, channel string, handler func(Message)) error

	Close() error
}
