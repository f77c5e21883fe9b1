package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
	"go.uber.org/zap"
)

type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PositionSide is the side of the position a fill would open from flat.
func (s Side) PositionSide() PositionSide {
	if s == SideSell {
		return PositionSideShort
	}
	return PositionSideLong
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return fmt.Sprintf("SIDE(%d)", int(s))
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "BUY", "0":
		*s = SideBuy
	case "SELL", "1":
		*s = SideSell
	default:
		return fmt.Errorf("unknown side %q", string(text))
	}
	return nil
}

// Fill is one executed one-way trade as reported by the broker.
type Fill struct {
	Account   string      `json:"account"`
	Contract  string      `json:"contract"`
	TradeID   int64       `json:"trade_id"`
	OrderID   int64       `json:"order_id,omitempty"`
	Side      Side        `json:"side"`
	Size      int64       `json:"size"`
	Price     fixed.Point `json:"price"`
	Fee       fixed.Point `json:"fee"`
	TimeStamp time.Time   `json:"ts"`
}

func (f Fill) Key() PartitionKey {
	return PartitionKey{Account: f.Account, Contract: f.Contract}
}

// Before reports whether f is processed ahead of o within a partition.
func (f Fill) Before(o Fill) bool {
	if !f.TimeStamp.Equal(o.TimeStamp) {
		return f.TimeStamp.Before(o.TimeStamp)
	}
	return f.TradeID < o.TradeID
}

func (f Fill) Fields() []zap.Field {
	return []zap.Field{
		zap.String("account", f.Account),
		zap.String("contract", f.Contract),
		zap.Int64("trade_id", f.TradeID),
		zap.Stringer("side", f.Side),
		zap.Int64("size", f.Size),
		zap.String("price", f.Price.String()),
		zap.String("fee", f.Fee.String()),
		zap.Time("ts", f.TimeStamp),
	}
}
