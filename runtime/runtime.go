// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package runtime runs every chain's worker tuple (Monitor, Getter,
// Collectors, Submitter) under one shared errgroup, so a fatal error on any
// one of them cancels the workers of every chain rather than leaving the
// process in a half-running state.
package runtime

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bountyrelay/relayer/collectors"
	"github.com/bountyrelay/relayer/getter"
	"github.com/bountyrelay/relayer/monitor"
	"github.com/bountyrelay/relayer/submitter"
)

// ChainWorkers is everything Run supervises for a single chain.
type ChainWorkers struct {
	ChainID    uint64
	Monitor    *monitor.Monitor
	Getter     *getter.Getter
	Collectors []collectors.Collector
	Submitter  *submitter.Submitter
	Logger     *zap.Logger
}

// Run launches every worker under ctx and blocks until all of them have
// returned. The first worker to return a non-nil error cancels the shared
// context, which tears the rest down; a worker returning nil stops no one.
func Run(ctx context.Context, workers []ChainWorkers) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, w := range workers {
		w := w
		group.Go(func() error {
			return w.Monitor.Run(ctx)
		})
		group.Go(func() error {
			return w.Getter.Run(ctx)
		})
		for _, c := range w.Collectors {
			c := c
			group.Go(func() error {
				return c.Run(ctx)
			})
		}
		group.Go(func() error {
			w.Submitter.Run(ctx)
			return ctx.Err()
		})
	}

	return group.Wait()
}
