package middleware

import (
	"context"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/matching"
)

// PartitionHandler matches the normalized fills of one partition.
type PartitionHandler func(ctx context.Context, key common.PartitionKey, fills []common.Fill) (matching.Outcome, error)

// Chain wraps a handler so that the first wrapper is the outermost one.
func Chain[T any](wrappers ...func(T) T) func(T) T {
	return func(handler T) T {
		for i := len(wrappers) - 1; i >= 0; i-- {
			handler = wrappers[i](handler)
		}
		return handler
	}
}

// EngineHandler adapts a matching engine to a PartitionHandler.
func EngineHandler(engine *matching.Engine) PartitionHandler {
	return func(_ context.Context, key common.PartitionKey, fills []common.Fill) (matching.Outcome, error) {
		return engine.Match(key, fills)
	}
}

//goland:noinspection ALL
var (
	NoopPartitionHdl = func(_ context.Context, key common.PartitionKey, _ []common.Fill) (matching.Outcome, error) {
		return matching.Outcome{Key: key}, nil
	}
)
