// Package matching replays the fills of one partition through a FIFO position
// ledger and reconstructs the round trip trades they imply.
package matching

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/tools/metrics"
)

// Calculator completes a trade emitted by the ledger with its derived figures.
type Calculator interface {
	Evaluate(trade common.RoundTripTrade) common.RoundTripTrade
}

// Outcome is everything one partition produced.
type Outcome struct {
	Key          common.PartitionKey
	Trades       []common.RoundTripTrade
	OpenPosition *common.OpenPosition
}

type Engine struct {
	logger     *zap.Logger
	calculator Calculator
	policy     ClosePolicy
}

func NewEngine(logger *zap.Logger, options ...Option) *Engine {
	e := &Engine{
		logger:     logger,
		calculator: metrics.NewCalculator(nil),
		policy:     ClosePolicyPerFill,
	}

	for _, option := range options {
		option(e)
	}

	return e
}

func (e *Engine) Policy() ClosePolicy {
	return e.policy
}

// Match runs a normalized partition through a fresh ledger. The Engine keeps no
// state between calls, so it is safe to call Match for different partitions from
// different goroutines. On error nothing of the partition is returned.
func (e *Engine) Match(key common.PartitionKey, fills []common.Fill) (outcome Outcome, err error) {
	var current int64
	defer func() {
		// Decimal overflow panics; it abandons this partition like any other failure.
		if r := recover(); r != nil {
			outcome = Outcome{}
			err = &MatchingError{Key: key, TradeID: current, Reason: fmt.Sprintf("arithmetic failure: %v", r)}
			e.logger.Warn("partition abandoned", zap.Stringer("key", key), zap.Error(err))
		}
	}()

	ledger := NewLedger(key, e.policy)

	var trades []common.RoundTripTrade
	for _, fill := range fills {
		current = fill.TradeID
		emitted, applyErr := ledger.Apply(fill)
		if applyErr != nil {
			e.logger.Warn("partition abandoned", zap.Stringer("key", key), zap.Error(applyErr))
			return Outcome{}, applyErr
		}
		trades = e.complete(trades, emitted)
	}
	current = 0
	trades = e.complete(trades, ledger.Flush())

	outcome = Outcome{
		Key:    key,
		Trades: trades,
	}
	if position, ok := ledger.OpenPosition(); ok {
		outcome.OpenPosition = &position
	}

	e.logger.Debug("partition matched",
		zap.Stringer("key", key),
		zap.Int("fills", len(fills)),
		zap.Int("trades", len(trades)),
		zap.Stringer("state", ledger.State()))

	return outcome, nil
}

func (e *Engine) complete(trades, emitted []common.RoundTripTrade) []common.RoundTripTrade {
	for _, trade := range emitted {
		trade = e.calculator.Evaluate(trade)
		e.logger.Debug("round trip completed", trade.Fields()...)
		trades = append(trades, trade)
	}
	return trades
}
