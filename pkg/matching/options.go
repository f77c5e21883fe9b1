package matching

import (
	"fmt"
	"strings"

	"github.com/peter-kozarec/roundtrip/pkg/tools/metrics"
)

// ClosePolicy decides when a partially closed lot turns into a RoundTripTrade.
type ClosePolicy int

const (
	// ClosePolicyPerFill emits one trade for every closing fill.
	ClosePolicyPerFill ClosePolicy = iota
	// ClosePolicyOnFlat collects the exits of a lot and emits a single trade once it is flat.
	ClosePolicyOnFlat
)

func (p ClosePolicy) String() string {
	switch p {
	case ClosePolicyPerFill:
		return "per_fill"
	case ClosePolicyOnFlat:
		return "on_flat"
	default:
		return fmt.Sprintf("close_policy(%d)", int(p))
	}
}

func (p ClosePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *ClosePolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "per_fill":
		*p = ClosePolicyPerFill
	case "on_flat":
		*p = ClosePolicyOnFlat
	default:
		return fmt.Errorf("unknown close policy %q", string(text))
	}
	return nil
}

type Option func(*Engine)

func WithClosePolicy(policy ClosePolicy) Option {
	return func(e *Engine) {
		e.policy = policy
	}
}

func WithCalculator(calculator Calculator) Option {
	return func(e *Engine) {
		e.calculator = calculator
	}
}

// WithPointValues prices trades with the default calculator over the given contract metadata.
func WithPointValues(points metrics.PointValueProvider) Option {
	return func(e *Engine) {
		e.calculator = metrics.NewCalculator(points)
	}
}
