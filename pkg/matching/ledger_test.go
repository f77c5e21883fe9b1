package matching

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

var (
	base = time.Date(2025, 11, 4, 14, 30, 0, 0, time.UTC)
	key  = common.PartitionKey{Account: "50001", Contract: "CON.F.US.MNQ.Z25"}
)

func createFill(id int64, side common.Side, size int64, price, fee string, offset time.Duration) common.Fill {
	return common.Fill{
		Account:   key.Account,
		Contract:  key.Contract,
		TradeID:   id,
		Side:      side,
		Size:      size,
		Price:     fixed.MustParse(price),
		Fee:       fixed.MustParse(fee),
		TimeStamp: base.Add(offset),
	}
}

func assertPoint(t *testing.T, expected string, actual fixed.Point, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, fixed.MustParse(expected).Eq(actual), "expected %s, got %s %v", expected, actual, msgAndArgs)
}

func applyAll(t *testing.T, ledger *Ledger, fills ...common.Fill) []common.RoundTripTrade {
	t.Helper()
	var trades []common.RoundTripTrade
	for _, fill := range fills {
		emitted, err := ledger.Apply(fill)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(emitted), 1)
		trades = append(trades, emitted...)
	}
	return trades
}

func TestLedger_States(t *testing.T) {
	ledger := NewLedger(key, ClosePolicyPerFill)
	assert.Equal(t, StateFlat, ledger.State())

	applyAll(t, ledger, createFill(1, common.SideSell, 2, "100", "0", 0))
	assert.Equal(t, StateShort, ledger.State())

	applyAll(t, ledger, createFill(2, common.SideBuy, 5, "99", "0", time.Second))
	assert.Equal(t, StateLong, ledger.State())

	applyAll(t, ledger, createFill(3, common.SideSell, 3, "101", "0", 2*time.Second))
	assert.Equal(t, StateFlat, ledger.State())

	_, ok := ledger.OpenPosition()
	assert.False(t, ok)
}

func TestLedger_FIFOConsumesOldestTranchesFirst(t *testing.T) {
	ledger := NewLedger(key, ClosePolicyPerFill)

	trades := applyAll(t, ledger,
		createFill(1, common.SideBuy, 2, "100", "1.00", 0),
		createFill(2, common.SideBuy, 3, "110", "1.50", time.Minute),
		createFill(3, common.SideSell, 4, "120", "2.00", 2*time.Minute),
	)

	require.Len(t, trades, 1)
	trade := trades[0]
	assert.Equal(t, common.PositionSideLong, trade.Direction)
	assert.Equal(t, int64(4), trade.Size)
	assertPoint(t, "105", trade.EntryPrice)
	assertPoint(t, "120", trade.ExitPrice)
	assert.Equal(t, []int64{1, 2}, trade.EntryTradeIDs)
	assert.Equal(t, []int64{3}, trade.ExitTradeIDs)
	assert.Equal(t, base, trade.EntryTime)
	assert.Equal(t, base.Add(2*time.Minute), trade.ExitTime)
	assertPoint(t, "2.00", trade.EntryFees)
	assertPoint(t, "2.00", trade.ExitFees)
	assertPoint(t, "4.00", trade.TotalFees)

	position, ok := ledger.OpenPosition()
	require.True(t, ok)
	assert.Equal(t, common.PositionSideLong, position.Side)
	assert.Equal(t, int64(1), position.Size)
	assertPoint(t, "110", position.WeightedPrice)
	assertPoint(t, "0.50", position.AccumulatedEntryFee)
	assert.Equal(t, []int64{2}, position.OriginTradeIDs)
	assert.Equal(t, base, position.OpenedAt)
}

func TestLedger_AddKeepsWeightedAverage(t *testing.T) {
	ledger := NewLedger(key, ClosePolicyPerFill)

	applyAll(t, ledger,
		createFill(1, common.SideSell, 1, "20000", "0.37", 0),
		createFill(2, common.SideSell, 3, "20004", "1.11", time.Second),
	)

	position, ok := ledger.OpenPosition()
	require.True(t, ok)
	assert.Equal(t, common.PositionSideShort, position.Side)
	assert.Equal(t, int64(4), position.Size)
	assertPoint(t, "20003", position.WeightedPrice)
	assertPoint(t, "1.48", position.AccumulatedEntryFee)
	assert.Equal(t, []int64{1, 2}, position.OriginTradeIDs)
}

func TestLedger_Reversal(t *testing.T) {
	ledger := NewLedger(key, ClosePolicyPerFill)

	trades := applyAll(t, ledger,
		createFill(10, common.SideBuy, 5, "100", "0.50", 0),
		createFill(11, common.SideSell, 8, "110", "0.80", time.Minute),
	)

	require.Len(t, trades, 1)
	trade := trades[0]
	assert.Equal(t, common.PositionSideLong, trade.Direction)
	assert.Equal(t, int64(5), trade.Size)
	assertPoint(t, "100", trade.EntryPrice)
	assertPoint(t, "110", trade.ExitPrice)
	assertPoint(t, "0.50", trade.EntryFees)
	assertPoint(t, "0.50", trade.ExitFees)

	assert.Equal(t, StateShort, ledger.State())
	position, ok := ledger.OpenPosition()
	require.True(t, ok)
	assert.Equal(t, common.PositionSideShort, position.Side)
	assert.Equal(t, int64(3), position.Size)
	assertPoint(t, "110", position.WeightedPrice)
	assertPoint(t, "0.30", position.AccumulatedEntryFee)
	assert.Equal(t, []int64{11}, position.OriginTradeIDs)
	assert.Equal(t, base.Add(time.Minute), position.OpenedAt)
}

func TestLedger_ConservesSizeAndFees(t *testing.T) {
	fills := []common.Fill{
		createFill(1, common.SideBuy, 3, "100", "1.00", 0),
		createFill(2, common.SideSell, 1, "101", "0.10", time.Second),
		createFill(3, common.SideBuy, 2, "102", "0.70", 2*time.Second),
		createFill(4, common.SideSell, 7, "103", "1.00", 3*time.Second),
		createFill(5, common.SideBuy, 1, "99", "0.25", 4*time.Second),
	}

	ledger := NewLedger(key, ClosePolicyPerFill)
	trades := applyAll(t, ledger, fills...)

	var (
		closed  int64
		feesOut = fixed.Zero
		feesIn  = fixed.Zero
		buys    int64
		sells   int64
	)
	for _, fill := range fills {
		feesIn = feesIn.Add(fill.Fee)
		if fill.Side == common.SideBuy {
			buys += fill.Size
		} else {
			sells += fill.Size
		}
	}
	for _, trade := range trades {
		closed += trade.Size
		feesOut = feesOut.Add(trade.TotalFees)
	}

	position, ok := ledger.OpenPosition()
	require.True(t, ok)
	feesOut = feesOut.Add(position.AccumulatedEntryFee)

	// buys 6, sells 8: net short 2 left after 6 closed units
	assert.Equal(t, int64(6), closed)
	assert.Equal(t, common.PositionSideShort, position.Side)
	assert.Equal(t, int64(2), position.Size)
	assert.Equal(t, buys+sells, 2*closed+position.Size)
	assertPoint(t, feesIn.String(), feesOut)
}

func TestLedger_IndivisibleFeeIsConservedExactly(t *testing.T) {
	ledger := NewLedger(key, ClosePolicyPerFill)

	trades := applyAll(t, ledger,
		createFill(1, common.SideBuy, 3, "100", "1.00", 0),
		createFill(2, common.SideSell, 1, "100", "0", time.Second),
		createFill(3, common.SideSell, 1, "100", "0", 2*time.Second),
		createFill(4, common.SideSell, 1, "100", "0", 3*time.Second),
	)

	require.Len(t, trades, 3)
	total := fixed.Zero
	for _, trade := range trades {
		total = total.Add(trade.EntryFees)
	}
	assertPoint(t, "1", total)
}

func TestLedger_OnFlatAggregatesExits(t *testing.T) {
	fills := []common.Fill{
		createFill(1, common.SideBuy, 4, "100", "0.40", 0),
		createFill(2, common.SideSell, 1, "110", "0.10", time.Minute),
		createFill(3, common.SideSell, 3, "120", "0.30", 2*time.Minute),
	}

	perFill := applyAll(t, NewLedger(key, ClosePolicyPerFill), fills...)
	require.Len(t, perFill, 2)
	assert.Equal(t, int64(1), perFill[0].Size)
	assert.Equal(t, int64(3), perFill[1].Size)

	onFlat := applyAll(t, NewLedger(key, ClosePolicyOnFlat), fills...)
	require.Len(t, onFlat, 1)
	trade := onFlat[0]
	assert.Equal(t, int64(4), trade.Size)
	assertPoint(t, "100", trade.EntryPrice)
	assertPoint(t, "117.5", trade.ExitPrice)
	assert.Equal(t, []int64{1}, trade.EntryTradeIDs)
	assert.Equal(t, []int64{2, 3}, trade.ExitTradeIDs)
	assert.Equal(t, base, trade.EntryTime)
	assert.Equal(t, base.Add(2*time.Minute), trade.ExitTime)
	assertPoint(t, "0.40", trade.EntryFees)
	assertPoint(t, "0.40", trade.ExitFees)
}

func TestLedger_OnFlatFlushesPendingExits(t *testing.T) {
	ledger := NewLedger(key, ClosePolicyOnFlat)

	trades := applyAll(t, ledger,
		createFill(1, common.SideBuy, 4, "100", "0", 0),
		createFill(2, common.SideSell, 1, "110", "0", time.Minute),
	)
	assert.Empty(t, trades)

	flushed := ledger.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, int64(1), flushed[0].Size)
	assert.Empty(t, ledger.Flush())

	position, ok := ledger.OpenPosition()
	require.True(t, ok)
	assert.Equal(t, int64(3), position.Size)
}

func TestLedger_OnFlatReversalEmitsOnFlat(t *testing.T) {
	ledger := NewLedger(key, ClosePolicyOnFlat)

	trades := applyAll(t, ledger,
		createFill(1, common.SideBuy, 2, "100", "0", 0),
		createFill(2, common.SideSell, 3, "90", "0", time.Minute),
	)

	require.Len(t, trades, 1)
	assert.Equal(t, int64(2), trades[0].Size)
	assert.Equal(t, StateShort, ledger.State())
	assert.Empty(t, ledger.Flush())
}

func TestLedger_InvariantViolations(t *testing.T) {
	tests := []struct {
		name  string
		fills []common.Fill
		trade int64
	}{
		{
			name: "out of order",
			fills: []common.Fill{
				createFill(1, common.SideBuy, 1, "100", "0", time.Minute),
				createFill(2, common.SideSell, 1, "100", "0", 0),
			},
			trade: 2,
		},
		{
			name: "repeated trade",
			fills: []common.Fill{
				createFill(1, common.SideBuy, 1, "100", "0", 0),
				createFill(1, common.SideBuy, 1, "100", "0", 0),
			},
			trade: 1,
		},
		{
			name: "zero size",
			fills: []common.Fill{
				createFill(1, common.SideBuy, 0, "100", "0", 0),
			},
			trade: 1,
		},
		{
			name: "foreign partition",
			fills: []common.Fill{
				{Account: "other", Contract: key.Contract, TradeID: 9, Side: common.SideBuy, Size: 1, TimeStamp: base},
			},
			trade: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewLedger(key, ClosePolicyPerFill)

			var err error
			for _, fill := range tt.fills {
				if _, err = ledger.Apply(fill); err != nil {
					break
				}
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvariant))

			var mErr *MatchingError
			require.True(t, errors.As(err, &mErr))
			assert.Equal(t, key, mErr.Key)
			assert.Equal(t, tt.trade, mErr.TradeID)
		})
	}
}
