package normalize

import (
	"errors"
	"fmt"

	"github.com/peter-kozarec/roundtrip/pkg/common"
)

var (
	ErrValidation = errors.New("fill validation failed")
)

// ValidationError rejects a whole partition because of one malformed or duplicate fill.
type ValidationError struct {
	Key     common.PartitionKey
	TradeID int64
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: partition %s, trade %d: %s", ErrValidation, e.Key, e.TradeID, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
