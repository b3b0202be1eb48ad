// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics registers the Prometheus collectors the relayer exposes,
// grouped the way a single process monitoring several chains needs them:
// everything is labeled by chainId so one /metrics endpoint covers the
// whole fleet.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the runtime updates.
type Metrics struct {
	QueueDepth       *prometheus.GaugeVec
	WalletBacklog    *prometheus.GaugeVec
	WalletLowBalance *prometheus.GaugeVec
	OrdersProcessed  *prometheus.CounterVec
	OrdersDropped    *prometheus.CounterVec
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relayer",
			Name:      "queue_depth",
			Help:      "Number of orders currently queued, by chain and queue stage.",
		}, []string{"chainId", "stage"}),
		WalletBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relayer",
			Name:      "wallet_backlog",
			Help:      "Number of submitted transactions awaiting confirmation, by chain.",
		}, []string{"chainId"}),
		WalletLowBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relayer",
			Name:      "wallet_low_balance",
			Help:      "1 if the wallet's balance is below its configured warning threshold, else 0.",
		}, []string{"chainId"}),
		OrdersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "orders_processed_total",
			Help:      "Orders that reached a terminal successful outcome, by chain and AMB.",
		}, []string{"chainId", "amb"}),
		OrdersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "orders_dropped_total",
			Help:      "Orders that reached a terminal failed outcome, by chain and AMB.",
		}, []string{"chainId", "amb"}),
	}

	reg.MustRegister(m.QueueDepth, m.WalletBacklog, m.WalletLowBalance, m.OrdersProcessed, m.OrdersDropped)
	return m
}
