package middleware

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/matching"
)

const namespace = "roundtrip"

// Telemetry counts partitions, fills and trades. Counters are kept on a private
// registry so that several pipelines can run in one process.
type Telemetry struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	partitions    *prometheus.CounterVec
	fills         prometheus.Counter
	trades        *prometheus.CounterVec
	openPositions prometheus.Counter

	partitionCounter    atomic.Int64
	failureCounter      atomic.Int64
	fillCounter         atomic.Int64
	tradeCounter        atomic.Int64
	openPositionCounter atomic.Int64
}

func NewTelemetry(logger *zap.Logger) *Telemetry {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Telemetry{
		logger:   logger,
		registry: registry,
		partitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_total",
			Help:      "Partitions handed to the matching engine, by outcome",
		}, []string{"status"}),
		fills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fills replayed through the matching engine",
		}),
		trades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_trips_total",
			Help:      "Round trip trades emitted, by direction and result",
		}, []string{"direction", "result"}),
		openPositions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "open_positions_total",
			Help:      "Partitions that ended with inventory still open",
		}),
	}
}

func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// WriteToTextfile dumps the counters in the node exporter textfile format.
func (t *Telemetry) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, t.registry)
}

func (t *Telemetry) WithPartition(handler PartitionHandler) PartitionHandler {
	return func(ctx context.Context, key common.PartitionKey, fills []common.Fill) (matching.Outcome, error) {
		t.partitionCounter.Add(1)
		t.fillCounter.Add(int64(len(fills)))
		t.fills.Add(float64(len(fills)))

		outcome, err := handler(ctx, key, fills)
		if err != nil {
			t.failureCounter.Add(1)
			t.partitions.WithLabelValues(failureStatus(err)).Inc()
			return outcome, err
		}

		t.partitions.WithLabelValues("matched").Inc()
		for _, trade := range outcome.Trades {
			t.tradeCounter.Add(1)
			t.trades.WithLabelValues(trade.Direction.String(), trade.Result.String()).Inc()
		}
		if outcome.OpenPosition != nil {
			t.openPositionCounter.Add(1)
			t.openPositions.Inc()
		}

		return outcome, nil
	}
}

func (t *Telemetry) PrintStatistics() {
	t.logger.Info("matching statistics",
		zap.Int64("partitions", t.partitionCounter.Load()),
		zap.Int64("failed_partitions", t.failureCounter.Load()),
		zap.Int64("fills", t.fillCounter.Load()),
		zap.Int64("round_trips", t.tradeCounter.Load()),
		zap.Int64("open_positions", t.openPositionCounter.Load()))
}

func failureStatus(err error) string {
	switch {
	case errors.Is(err, matching.ErrInvariant):
		return "invariant"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}
