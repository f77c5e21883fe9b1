package middleware

import (
	"context"

	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/matching"
)

type MonitorFlags uint16

//goland:noinspection GoUnusedConst
const (
	MonitorNone MonitorFlags = 1 << iota
	MonitorAll
	MonitorPartitions
	MonitorFills
	MonitorTrades
	MonitorOpenPositions
	MonitorFailures
)

// Monitor logs what flows through a partition handler, selected by flags.
type Monitor struct {
	logger *zap.Logger
	flags  MonitorFlags
}

func NewMonitor(logger *zap.Logger, flags MonitorFlags) *Monitor {
	return &Monitor{
		logger: logger,
		flags:  flags,
	}
}

func (m *Monitor) enabled(flag MonitorFlags) bool {
	return m.flags&flag != 0 || m.flags&MonitorAll != 0
}

func (m *Monitor) WithPartition(handler PartitionHandler) PartitionHandler {
	return func(ctx context.Context, key common.PartitionKey, fills []common.Fill) (matching.Outcome, error) {
		if m.enabled(MonitorPartitions) {
			m.logger.Info("partition", zap.Stringer("key", key), zap.Int("fills", len(fills)))
		}
		if m.enabled(MonitorFills) {
			for _, fill := range fills {
				m.logger.Info("fill", fill.Fields()...)
			}
		}

		outcome, err := handler(ctx, key, fills)
		if err != nil {
			if m.enabled(MonitorFailures) {
				m.logger.Warn("partition failed", zap.Stringer("key", key), zap.Error(err))
			}
			return outcome, err
		}

		if m.enabled(MonitorTrades) {
			for _, trade := range outcome.Trades {
				m.logger.Info("round trip", trade.Fields()...)
			}
		}
		if m.enabled(MonitorOpenPositions) && outcome.OpenPosition != nil {
			m.logger.Info("open position", outcome.OpenPosition.Fields()...)
		}

		return outcome, nil
	}
}
