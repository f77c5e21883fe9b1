package middleware

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/matching"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

var (
	base = time.Date(2025, 11, 4, 14, 30, 0, 0, time.UTC)
	key  = common.PartitionKey{Account: "50001", Contract: "CON.F.US.MNQ.Z25"}
)

func roundTrip() []common.Fill {
	return []common.Fill{
		{Account: key.Account, Contract: key.Contract, TradeID: 1, Side: common.SideBuy, Size: 2, Price: fixed.FromInt(100, 0), Fee: fixed.Zero, TimeStamp: base},
		{Account: key.Account, Contract: key.Contract, TradeID: 2, Side: common.SideSell, Size: 1, Price: fixed.FromInt(101, 0), Fee: fixed.Zero, TimeStamp: base.Add(time.Second)},
	}
}

func TestMiddleware_ChainOrder(t *testing.T) {
	type handler func([]string) []string

	appendTo := func(s string) func(handler) handler {
		return func(h handler) handler {
			return func(in []string) []string {
				return append(h(in), s)
			}
		}
	}

	chained := Chain(appendTo("A"), appendTo("B"), appendTo("C"))(func(in []string) []string {
		return append(in, "base")
	})

	assert.Equal(t, []string{"base", "C", "B", "A"}, chained(nil))
	assert.Equal(t, []string{"base"}, Chain[handler]()(func(in []string) []string { return append(in, "base") })(nil))
}

func TestMiddleware_EngineHandler(t *testing.T) {
	handler := EngineHandler(matching.NewEngine(zap.NewNop()))

	outcome, err := handler(context.Background(), key, roundTrip())
	require.NoError(t, err)
	assert.Len(t, outcome.Trades, 1)
	require.NotNil(t, outcome.OpenPosition)
	assert.Equal(t, int64(1), outcome.OpenPosition.Size)
}

func TestMiddlewareMonitor_WithPartition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	monitor := NewMonitor(zap.New(core), MonitorTrades|MonitorOpenPositions)

	handler := monitor.WithPartition(EngineHandler(matching.NewEngine(zap.NewNop())))
	_, err := handler(context.Background(), key, roundTrip())
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("round trip").Len())
	assert.Equal(t, 1, logs.FilterMessage("open position").Len())
	assert.Zero(t, logs.FilterMessage("fill").Len())
	assert.Zero(t, logs.FilterMessage("partition").Len())
}

func TestMiddlewareMonitor_All(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	monitor := NewMonitor(zap.New(core), MonitorAll)

	failing := func(context.Context, common.PartitionKey, []common.Fill) (matching.Outcome, error) {
		return matching.Outcome{}, errors.New("boom")
	}

	_, err := monitor.WithPartition(failing)(context.Background(), key, roundTrip())
	require.Error(t, err)

	assert.Equal(t, 1, logs.FilterMessage("partition").Len())
	assert.Equal(t, 2, logs.FilterMessage("fill").Len())
	assert.Equal(t, 1, logs.FilterMessage("partition failed").Len())
}

func TestMiddlewareTelemetry_Counts(t *testing.T) {
	telemetry := NewTelemetry(zap.NewNop())
	engine := EngineHandler(matching.NewEngine(zap.NewNop()))
	handler := telemetry.WithPartition(engine)

	_, err := handler(context.Background(), key, roundTrip())
	require.NoError(t, err)

	broken := roundTrip()
	broken[1].TimeStamp = base.Add(-time.Second)
	_, err = handler(context.Background(), key, broken)
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.partitions.WithLabelValues("matched")))
	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.partitions.WithLabelValues("invariant")))
	assert.Equal(t, float64(4), testutil.ToFloat64(telemetry.fills))
	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.trades.WithLabelValues("LONG", "WIN")))
	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.openPositions))

	telemetry.PrintStatistics()
}

func TestMiddlewareTelemetry_WriteToTextfile(t *testing.T) {
	telemetry := NewTelemetry(zap.NewNop())
	performance := NewPerformance(zap.NewNop(), telemetry)

	handler := Chain(telemetry.WithPartition, performance.WithPartition)(NoopPartitionHdl)
	_, err := handler(context.Background(), key, roundTrip())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "roundtrip.prom")
	require.NoError(t, telemetry.WriteToTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "roundtrip_fills_total 2")
	assert.Contains(t, string(raw), "roundtrip_partition_duration_seconds_count 1")
}

func TestMiddlewarePerformance_WithPartition(t *testing.T) {
	performance := NewPerformance(zap.NewNop(), nil)

	slow := func(_ context.Context, key common.PartitionKey, _ []common.Fill) (matching.Outcome, error) {
		time.Sleep(5 * time.Millisecond)
		return matching.Outcome{Key: key}, nil
	}

	handler := performance.WithPartition(slow)
	for range 3 {
		_, err := handler(context.Background(), key, nil)
		require.NoError(t, err)
	}

	calls, total := performance.Stats()
	assert.Equal(t, int64(3), calls)
	assert.GreaterOrEqual(t, total, 15*time.Millisecond)

	performance.PrintStatistics()
}
