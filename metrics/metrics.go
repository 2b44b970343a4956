// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics registers the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlocksBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mevm",
		Name:      "blocks_built_total",
		Help:      "Number of blocks sealed by the block builder.",
	})
	TxsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mevm",
		Name:      "txs_executed_total",
		Help:      "Number of transactions executed and included.",
	})
	TxsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mevm",
		Name:      "txs_skipped_total",
		Help:      "Number of invalid transactions skipped during block building.",
	})
	blockBuildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mevm",
		Name:      "block_build_seconds",
		Help:      "Wall-clock time spent building one block.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mevm",
		Name:      "commands_processed_total",
		Help:      "Commands drained by the application actor, by kind.",
	}, []string{"kind"})
)

// BlockBuildDuration times block builds:
//
//	defer metrics.BlockBuildDuration.Start()()
var BlockBuildDuration = durationMetric{}

type durationMetric struct{}

func (durationMetric) Start() func() {
	begin := time.Now()
	return func() {
		blockBuildSeconds.Observe(time.Since(begin).Seconds())
	}
}
