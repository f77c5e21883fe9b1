// Package pipeline wires normalization, matching and aggregation into one batch run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/matching"
	"github.com/peter-kozarec/roundtrip/pkg/middleware"
	"github.com/peter-kozarec/roundtrip/pkg/normalize"
	"github.com/peter-kozarec/roundtrip/pkg/tools/metrics"
	"github.com/peter-kozarec/roundtrip/pkg/utility"
)

var (
	ErrRejected = errors.New("partitions were rejected")
)

type FillSource interface {
	LoadFills(ctx context.Context) ([]common.Fill, error)
}

// TradeSink stores round trips and reports how many of them were new to it.
type TradeSink interface {
	StoreRoundTrips(ctx context.Context, trades []common.RoundTripTrade) (int, error)
}

// ResultSink is implemented by sinks that want the whole run, not only its trades.
type ResultSink interface {
	StoreResult(ctx context.Context, result Result) error
}

type Result struct {
	ExecutionID   utility.ExecutionID
	GeneratedAt   time.Time
	Trades        []common.RoundTripTrade
	OpenPositions []common.OpenPosition
	Summary       metrics.Summary
	Rejected      map[common.PartitionKey]*normalize.ValidationError
	Failed        map[common.PartitionKey]error
}

// Err joins rejections and matching failures in key order.
func (r Result) Err() error {
	var errs []error
	for _, key := range sortedKeys(r.Rejected) {
		errs = append(errs, r.Rejected[key])
	}
	for _, key := range sortedKeys(r.Failed) {
		errs = append(errs, r.Failed[key])
	}
	return errors.Join(errs...)
}

func (r Result) Fields() []zap.Field {
	return []zap.Field{
		zap.Stringer("execution_id", r.ExecutionID),
		zap.Int("round_trips", len(r.Trades)),
		zap.Int("open_positions", len(r.OpenPositions)),
		zap.Int("rejected_partitions", len(r.Rejected)),
		zap.Int("failed_partitions", len(r.Failed)),
	}
}

type Pipeline struct {
	logger     *zap.Logger
	handler    middleware.PartitionHandler
	workers    int
	strict     bool
	accounts   []string
	middleware []func(middleware.PartitionHandler) middleware.PartitionHandler
}

func NewPipeline(logger *zap.Logger, engine *matching.Engine, options ...Option) *Pipeline {
	p := &Pipeline{
		logger:  logger,
		workers: 1,
	}

	for _, option := range options {
		option(p)
	}

	p.handler = middleware.Chain(p.middleware...)(middleware.EngineHandler(engine))
	return p
}

// Run reconstructs the round trips of fills. Partitions are matched in parallel
// and a failing partition never affects another one. Cancelling ctx stops the
// scheduling of further partitions; partitions already running are finished
// and Run then returns the context error.
func (p *Pipeline) Run(ctx context.Context, fills []common.Fill) (Result, error) {
	fills = p.filter(fills)
	batch := normalize.Partition(fills)

	if p.strict {
		if err := batch.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}
	for key, rejection := range batch.Rejected {
		p.logger.Warn("partition rejected",
			zap.Stringer("key", key),
			zap.Int64("trade_id", rejection.TradeID),
			zap.String("reason", rejection.Reason))
	}

	type slot struct {
		outcome matching.Outcome
		err     error
	}

	keys := batch.Keys()
	slots := make([]slot, len(keys))

	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					err := &matching.MatchingError{Key: key, Reason: fmt.Sprintf("partition handler panicked: %v", r)}
					p.logger.Error("partition handler panicked", zap.Stringer("key", key), zap.Error(err))
					slots[i] = slot{err: err}
				}
			}()
			outcome, err := p.handler(ctx, key, batch.Partitions[key])
			slots[i] = slot{outcome: outcome, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("reconstruction interrupted: %w", err)
	}

	result := Result{
		ExecutionID: utility.NewExecutionID(),
		GeneratedAt: time.Now().UTC(),
		Rejected:    batch.Rejected,
		Failed:      make(map[common.PartitionKey]error),
	}

	for i, s := range slots {
		if s.err != nil {
			result.Failed[keys[i]] = s.err
			continue
		}
		result.Trades = append(result.Trades, s.outcome.Trades...)
		if s.outcome.OpenPosition != nil {
			result.OpenPositions = append(result.OpenPositions, *s.outcome.OpenPosition)
		}
	}

	slices.SortStableFunc(result.Trades, metrics.CompareTrades)
	result.Summary = metrics.Reduce(result.Trades)

	p.logger.Info("reconstruction finished", result.Fields()...)
	return result, nil
}

// Execute loads fills from source, runs them and hands the result to every sink.
func (p *Pipeline) Execute(ctx context.Context, source FillSource, sinks ...TradeSink) (Result, error) {
	fills, err := source.LoadFills(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("unable to load fills: %w", err)
	}
	p.logger.Info("fills loaded", zap.Int("fills", len(fills)))

	result, err := p.Run(ctx, fills)
	if err != nil {
		return Result{}, err
	}

	for _, sink := range sinks {
		if rs, ok := sink.(ResultSink); ok {
			if err := rs.StoreResult(ctx, result); err != nil {
				return result, fmt.Errorf("unable to store result: %w", err)
			}
			continue
		}

		stored, err := sink.StoreRoundTrips(ctx, result.Trades)
		if err != nil {
			return result, fmt.Errorf("unable to store round trips: %w", err)
		}
		p.logger.Info("round trips stored",
			zap.Int("new", stored),
			zap.Int("skipped", len(result.Trades)-stored))
	}

	return result, nil
}

func (p *Pipeline) filter(fills []common.Fill) []common.Fill {
	if len(p.accounts) == 0 {
		return fills
	}
	filtered := make([]common.Fill, 0, len(fills))
	for _, fill := range fills {
		if slices.Contains(p.accounts, fill.Account) {
			filtered = append(filtered, fill)
		}
	}
	return filtered
}

func sortedKeys[V any](m map[common.PartitionKey]V) []common.PartitionKey {
	keys := make([]common.PartitionKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, common.PartitionKey.Compare)
	return keys
}
