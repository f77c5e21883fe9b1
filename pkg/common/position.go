package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
	"go.uber.org/zap"
)

type PositionSide int

const (
	PositionSideLong PositionSide = iota
	PositionSideShort
)

// Sign is +1 for long and -1 for short.
func (s PositionSide) Sign() int64 {
	if s == PositionSideShort {
		return -1
	}
	return 1
}

func (s PositionSide) Opposite() PositionSide {
	if s == PositionSideShort {
		return PositionSideLong
	}
	return PositionSideShort
}

// Closes reports whether a fill on the given side reduces a position on this side.
func (s PositionSide) Closes(side Side) bool {
	return side.PositionSide() != s
}

func (s PositionSide) String() string {
	switch s {
	case PositionSideLong:
		return "LONG"
	case PositionSideShort:
		return "SHORT"
	default:
		return fmt.Sprintf("POSITION_SIDE(%d)", int(s))
	}
}

func (s PositionSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PositionSide) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "LONG":
		*s = PositionSideLong
	case "SHORT":
		*s = PositionSideShort
	default:
		return fmt.Errorf("unknown position side %q", string(text))
	}
	return nil
}

// OpenPosition is the inventory still held for a partition once its fills are exhausted.
type OpenPosition struct {
	Account             string       `json:"account"`
	Contract            string       `json:"contract"`
	Side                PositionSide `json:"side"`
	Size                int64        `json:"size"`
	WeightedPrice       fixed.Point  `json:"weighted_price"`
	AccumulatedEntryFee fixed.Point  `json:"accumulated_entry_fee"`
	OpenedAt            time.Time    `json:"opened_at"`
	OriginTradeIDs      []int64      `json:"origin_trade_ids"`
}

func (p OpenPosition) Key() PartitionKey {
	return PartitionKey{Account: p.Account, Contract: p.Contract}
}

func (p OpenPosition) Fields() []zap.Field {
	return []zap.Field{
		zap.String("account", p.Account),
		zap.String("contract", p.Contract),
		zap.Stringer("side", p.Side),
		zap.Int64("size", p.Size),
		zap.String("weighted_price", p.WeightedPrice.String()),
		zap.String("accumulated_entry_fee", p.AccumulatedEntryFee.String()),
		zap.Time("opened_at", p.OpenedAt),
		zap.Int64s("origin_trade_ids", p.OriginTradeIDs),
	}
}
