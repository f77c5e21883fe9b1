package matching

import (
	"errors"
	"fmt"

	"github.com/peter-kozarec/roundtrip/pkg/common"
)

var (
	ErrInvariant = errors.New("matching invariant violated")
)

// MatchingError means the ledger was driven into a state valid input can never produce.
// It is fatal for the partition it was raised in and for nothing else.
type MatchingError struct {
	Key     common.PartitionKey
	TradeID int64
	Reason  string
}

func (e *MatchingError) Error() string {
	return fmt.Sprintf("%s: partition %s, trade %d: %s", ErrInvariant, e.Key, e.TradeID, e.Reason)
}

func (e *MatchingError) Unwrap() error {
	return ErrInvariant
}
