package utility

import (
	"fmt"

	"github.com/google/uuid"
)

// ExecutionID identifies one reconstruction run. Every trade, open position and
// report produced by the same run carries the same id.
type ExecutionID = uuid.UUID

func NewExecutionID() ExecutionID {
	return uuid.Must(uuid.NewV7())
}

func ParseExecutionID(value string) (ExecutionID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid execution id %q: %w", value, err)
	}
	return id, nil
}
