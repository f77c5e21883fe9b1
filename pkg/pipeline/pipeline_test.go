package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/matching"
	"github.com/peter-kozarec/roundtrip/pkg/middleware"
	"github.com/peter-kozarec/roundtrip/pkg/normalize"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

var base = time.Date(2025, 11, 4, 14, 30, 0, 0, time.UTC)

func createFill(account, contract string, id int64, side common.Side, size int64, price string, offset time.Duration) common.Fill {
	return common.Fill{
		Account:   account,
		Contract:  contract,
		TradeID:   id,
		Side:      side,
		Size:      size,
		Price:     fixed.MustParse(price),
		Fee:       fixed.MustParse("0.37"),
		TimeStamp: base.Add(offset),
	}
}

func sample() []common.Fill {
	return []common.Fill{
		createFill("A", "CON.F.US.MES.Z25", 5, common.SideSell, 1, "6000", 3*time.Minute),
		createFill("A", "CON.F.US.MNQ.Z25", 1, common.SideBuy, 1, "20000", 0),
		createFill("A", "CON.F.US.MNQ.Z25", 2, common.SideSell, 1, "20010", 5*time.Minute),
		createFill("B", "CON.F.US.MNQ.Z25", 3, common.SideSell, 2, "20000", time.Minute),
		createFill("B", "CON.F.US.MNQ.Z25", 4, common.SideBuy, 2, "20005", 2*time.Minute),
		createFill("A", "CON.F.US.MES.Z25", 6, common.SideBuy, 2, "5990", 4*time.Minute),
	}
}

type sliceSource []common.Fill

func (s sliceSource) LoadFills(context.Context) ([]common.Fill, error) {
	return s, nil
}

type memorySink struct {
	keys map[string]struct{}
}

func (m *memorySink) StoreRoundTrips(_ context.Context, trades []common.RoundTripTrade) (int, error) {
	if m.keys == nil {
		m.keys = make(map[string]struct{})
	}
	stored := 0
	for _, trade := range trades {
		if _, ok := m.keys[trade.UniqueKey()]; ok {
			continue
		}
		m.keys[trade.UniqueKey()] = struct{}{}
		stored++
	}
	return stored, nil
}

type resultSink struct {
	result Result
}

func (r *resultSink) StoreRoundTrips(context.Context, []common.RoundTripTrade) (int, error) {
	return 0, errors.New("unexpected call")
}

func (r *resultSink) StoreResult(_ context.Context, result Result) error {
	r.result = result
	return nil
}

func TestPipeline_Run(t *testing.T) {
	p := NewPipeline(zap.NewNop(), matching.NewEngine(zap.NewNop()), WithWorkers(4))

	result, err := p.Run(context.Background(), sample())
	require.NoError(t, err)
	require.NoError(t, result.Err())

	assert.NotEqual(t, [16]byte{}, [16]byte(result.ExecutionID))
	require.Len(t, result.Trades, 3)

	// ordered by exit time across partitions
	assert.Equal(t, "B", result.Trades[0].Account)
	assert.Equal(t, "CON.F.US.MES.Z25", result.Trades[1].Contract)
	assert.Equal(t, []int64{1}, result.Trades[2].EntryTradeIDs)

	require.Len(t, result.OpenPositions, 1)
	assert.Equal(t, common.PositionSideLong, result.OpenPositions[0].Side)
	assert.Equal(t, int64(1), result.OpenPositions[0].Size)

	assert.Equal(t, 3, result.Summary.TotalTrades)
	assert.Equal(t, 2, result.Summary.Wins)
	assert.Equal(t, 1, result.Summary.Losses)
}

func TestPipeline_SameResultForAnyWorkerCount(t *testing.T) {
	var fills []common.Fill
	for i := range 20 {
		account := fmt.Sprintf("acct-%02d", i)
		fills = append(fills,
			createFill(account, "CON.F.US.MNQ.Z25", int64(2*i), common.SideBuy, 2, "100", time.Duration(i)*time.Second),
			createFill(account, "CON.F.US.MNQ.Z25", int64(2*i+1), common.SideSell, 3, "101", time.Hour),
		)
	}

	engine := matching.NewEngine(zap.NewNop())
	serial, err := NewPipeline(zap.NewNop(), engine).Run(context.Background(), fills)
	require.NoError(t, err)
	parallel, err := NewPipeline(zap.NewNop(), engine, WithWorkers(8)).Run(context.Background(), fills)
	require.NoError(t, err)

	require.Len(t, parallel.Trades, 20)
	require.Len(t, parallel.OpenPositions, 20)
	for i := range serial.Trades {
		assert.Equal(t, serial.Trades[i].UniqueKey(), parallel.Trades[i].UniqueKey())
		assert.Equal(t, serial.Trades[i].Account, parallel.Trades[i].Account)
	}
	assert.True(t, serial.Summary.TotalNetPnL.Eq(parallel.Summary.TotalNetPnL))
}

func TestPipeline_RejectedPartitionIsIsolated(t *testing.T) {
	fills := append(sample(), createFill("C", "CON.F.US.MNQ.Z25", 9, common.SideBuy, 0, "100", 0))

	result, err := NewPipeline(zap.NewNop(), matching.NewEngine(zap.NewNop())).Run(context.Background(), fills)
	require.NoError(t, err)
	assert.Len(t, result.Trades, 3)

	bad := common.PartitionKey{Account: "C", Contract: "CON.F.US.MNQ.Z25"}
	require.Contains(t, result.Rejected, bad)
	assert.ErrorIs(t, result.Err(), normalize.ErrValidation)

	_, err = NewPipeline(zap.NewNop(), matching.NewEngine(zap.NewNop()), WithStrict(true)).Run(context.Background(), fills)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, normalize.ErrValidation)
}

func TestPipeline_FailedPartitionIsIsolated(t *testing.T) {
	failing := func(next middleware.PartitionHandler) middleware.PartitionHandler {
		return func(ctx context.Context, key common.PartitionKey, fills []common.Fill) (matching.Outcome, error) {
			if key.Account == "B" {
				return matching.Outcome{}, &matching.MatchingError{Key: key, TradeID: fills[0].TradeID, Reason: "forced"}
			}
			return next(ctx, key, fills)
		}
	}

	p := NewPipeline(zap.NewNop(), matching.NewEngine(zap.NewNop()), WithMiddleware(failing))
	result, err := p.Run(context.Background(), sample())
	require.NoError(t, err)

	assert.Len(t, result.Trades, 2)
	require.Len(t, result.Failed, 1)
	assert.ErrorIs(t, result.Err(), matching.ErrInvariant)
}

func TestPipeline_PanickingPartitionIsIsolated(t *testing.T) {
	panicking := func(next middleware.PartitionHandler) middleware.PartitionHandler {
		return func(ctx context.Context, key common.PartitionKey, fills []common.Fill) (matching.Outcome, error) {
			if key.Account == "B" {
				panic("boom")
			}
			return next(ctx, key, fills)
		}
	}

	p := NewPipeline(zap.NewNop(), matching.NewEngine(zap.NewNop()), WithWorkers(2), WithMiddleware(panicking))
	var result Result
	var err error
	require.NotPanics(t, func() {
		result, err = p.Run(context.Background(), sample())
	})
	require.NoError(t, err)

	assert.Len(t, result.Trades, 2)
	bad := common.PartitionKey{Account: "B", Contract: "CON.F.US.MNQ.Z25"}
	require.Contains(t, result.Failed, bad)
	assert.ErrorIs(t, result.Failed[bad], matching.ErrInvariant)
}

func TestPipeline_OverflowingPartitionIsIsolated(t *testing.T) {
	fills := append(sample(),
		createFill("C", "CON.F.US.MNQ.Z25", 7, common.SideBuy, 1000, "999999999999999999", 0),
		createFill("C", "CON.F.US.MNQ.Z25", 8, common.SideSell, 1000, "999999999999999999", time.Minute),
	)

	result, err := NewPipeline(zap.NewNop(), matching.NewEngine(zap.NewNop())).Run(context.Background(), fills)
	require.NoError(t, err)

	assert.Len(t, result.Trades, 3)
	bad := common.PartitionKey{Account: "C", Contract: "CON.F.US.MNQ.Z25"}
	require.Contains(t, result.Failed, bad)
	assert.ErrorIs(t, result.Failed[bad], matching.ErrInvariant)
}

func TestPipeline_AccountFilter(t *testing.T) {
	p := NewPipeline(zap.NewNop(), matching.NewEngine(zap.NewNop()), WithAccounts("B"))

	result, err := p.Run(context.Background(), sample())
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, "B", result.Trades[0].Account)
	assert.Empty(t, result.OpenPositions)
}

func TestPipeline_CanceledContext(t *testing.T) {
	var calls atomic.Int64
	counting := func(next middleware.PartitionHandler) middleware.PartitionHandler {
		return func(ctx context.Context, key common.PartitionKey, fills []common.Fill) (matching.Outcome, error) {
			calls.Add(1)
			return next(ctx, key, fills)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(zap.NewNop(), matching.NewEngine(zap.NewNop()), WithMiddleware(counting))
	_, err := p.Run(ctx, sample())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestPipeline_Execute(t *testing.T) {
	p := NewPipeline(zap.NewNop(), matching.NewEngine(zap.NewNop()))
	sink := &memorySink{}
	report := &resultSink{}

	result, err := p.Execute(context.Background(), sliceSource(sample()), sink, report)
	require.NoError(t, err)
	assert.Len(t, sink.keys, 3)
	assert.Equal(t, result.ExecutionID, report.result.ExecutionID)

	_, err = p.Execute(context.Background(), sliceSource(sample()), sink)
	require.NoError(t, err)
	assert.Len(t, sink.keys, 3)
}
