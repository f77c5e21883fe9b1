// Package normalize validates raw broker fills and splits them into time ordered
// per (account, contract) sequences ready for matching.
package normalize

import (
	"errors"
	"slices"

	"github.com/peter-kozarec/roundtrip/pkg/common"
)

// Batch is the lenient outcome of Partition. A key is present in exactly one of the two maps.
type Batch struct {
	Partitions map[common.PartitionKey][]common.Fill
	Rejected   map[common.PartitionKey]*ValidationError
}

// Keys returns the accepted partition keys in a stable order.
func (b Batch) Keys() []common.PartitionKey {
	keys := make([]common.PartitionKey, 0, len(b.Partitions))
	for key := range b.Partitions {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, common.PartitionKey.Compare)
	return keys
}

// Err joins every rejection in key order, or returns nil when nothing was rejected.
func (b Batch) Err() error {
	if len(b.Rejected) == 0 {
		return nil
	}
	keys := make([]common.PartitionKey, 0, len(b.Rejected))
	for key := range b.Rejected {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, common.PartitionKey.Compare)

	errs := make([]error, 0, len(keys))
	for _, key := range keys {
		errs = append(errs, b.Rejected[key])
	}
	return errors.Join(errs...)
}

// Normalize is the strict form of Partition: any rejected partition fails the whole call.
func Normalize(fills []common.Fill) (map[common.PartitionKey][]common.Fill, error) {
	batch := Partition(fills)
	if err := batch.Err(); err != nil {
		return nil, err
	}
	return batch.Partitions, nil
}

// Partition groups fills by (account, contract), validates every group and sorts
// the accepted ones by (timestamp, trade id). The input slice is not modified.
func Partition(fills []common.Fill) Batch {
	grouped := make(map[common.PartitionKey][]common.Fill)
	for _, fill := range fills {
		key := fill.Key()
		grouped[key] = append(grouped[key], fill)
	}

	batch := Batch{
		Partitions: make(map[common.PartitionKey][]common.Fill, len(grouped)),
		Rejected:   make(map[common.PartitionKey]*ValidationError),
	}

	for key, sequence := range grouped {
		if err := validate(key, sequence); err != nil {
			batch.Rejected[key] = err
			continue
		}
		slices.SortStableFunc(sequence, compareFills)
		batch.Partitions[key] = sequence
	}

	return batch
}

func validate(key common.PartitionKey, sequence []common.Fill) *ValidationError {
	seen := make(map[int64]struct{}, len(sequence))

	for _, fill := range sequence {
		switch {
		case !fill.Side.Valid():
			return &ValidationError{Key: key, TradeID: fill.TradeID, Reason: "unknown side " + fill.Side.String()}
		case fill.Size <= 0:
			return &ValidationError{Key: key, TradeID: fill.TradeID, Reason: "size must be positive"}
		case fill.Fee.IsNeg():
			return &ValidationError{Key: key, TradeID: fill.TradeID, Reason: "fee must not be negative"}
		}

		if _, ok := seen[fill.TradeID]; ok {
			return &ValidationError{Key: key, TradeID: fill.TradeID, Reason: "duplicate trade id"}
		}
		seen[fill.TradeID] = struct{}{}
	}

	return nil
}

func compareFills(a, b common.Fill) int {
	if c := a.TimeStamp.Compare(b.TimeStamp); c != 0 {
		return c
	}
	switch {
	case a.TradeID < b.TradeID:
		return -1
	case a.TradeID > b.TradeID:
		return 1
	}
	return 0
}
