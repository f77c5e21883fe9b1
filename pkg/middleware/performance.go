package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/matching"
)

// Performance measures how long partitions spend in the wrapped handler.
type Performance struct {
	logger   *zap.Logger
	duration prometheus.Histogram

	mu                sync.Mutex
	calls             int64
	totalHandlerDur   time.Duration
	longestHandlerDur time.Duration
	longestKey        common.PartitionKey
}

// NewPerformance registers its histogram on the telemetry registry when one is given.
func NewPerformance(logger *zap.Logger, telemetry *Telemetry) *Performance {
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "partition_duration_seconds",
		Help:      "Time spent matching one partition",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	if telemetry != nil {
		telemetry.registry.MustRegister(duration)
	}

	return &Performance{
		logger:   logger,
		duration: duration,
	}
}

func (p *Performance) WithPartition(handler PartitionHandler) PartitionHandler {
	return func(ctx context.Context, key common.PartitionKey, fills []common.Fill) (matching.Outcome, error) {
		startTime := time.Now()
		outcome, err := handler(ctx, key, fills)
		elapsed := time.Since(startTime)

		p.duration.Observe(elapsed.Seconds())

		p.mu.Lock()
		p.calls++
		p.totalHandlerDur += elapsed
		if elapsed > p.longestHandlerDur {
			p.longestHandlerDur = elapsed
			p.longestKey = key
		}
		p.mu.Unlock()

		return outcome, err
	}
}

// Stats returns the number of handled partitions and the accumulated handler time.
func (p *Performance) Stats() (int64, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, p.totalHandlerDur
}

func (p *Performance) PrintStatistics() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.calls == 0 {
		p.logger.Warn("no partitions handled; nothing to report")
		return
	}

	p.logger.Info("matching performance",
		zap.Int64("partitions", p.calls),
		zap.Duration("partition_avg_duration", p.totalHandlerDur/time.Duration(p.calls)),
		zap.Duration("partition_total_duration", p.totalHandlerDur),
		zap.Duration("partition_max_duration", p.longestHandlerDur),
		zap.Stringer("slowest_partition", p.longestKey))
}
