package metrics

import (
	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

// PointValueProvider resolves the currency value of one full point move of a contract.
type PointValueProvider interface {
	PointValue(contract string) (fixed.Point, bool)
}

type Calculator struct {
	points PointValueProvider
}

// NewCalculator returns a calculator priced by points. A nil provider values every contract at 1.
func NewCalculator(points PointValueProvider) *Calculator {
	return &Calculator{
		points: points,
	}
}

func (c *Calculator) PointValue(contract string) fixed.Point {
	if c.points == nil {
		return fixed.One
	}
	if value, ok := c.points.PointValue(contract); ok {
		return value
	}
	return fixed.One
}

// Evaluate fills in symbol, points, P&L, duration and result. Prices, fees and
// ids set by the ledger are left untouched. Gross P&L comes from the exact cost
// basis; trades without one fall back to price times size.
func (c *Calculator) Evaluate(trade common.RoundTripTrade) common.RoundTripTrade {
	entryCost, exitCost := trade.EntryCost, trade.ExitCost
	if entryCost.IsZero() && exitCost.IsZero() {
		entryCost = trade.EntryPrice.MulInt64(trade.Size)
		exitCost = trade.ExitPrice.MulInt64(trade.Size)
	}
	move := exitCost.Sub(entryCost).MulInt64(trade.Direction.Sign())

	trade.Symbol = common.ExtractSymbol(trade.Contract)
	trade.Points = fixed.Zero
	if trade.Size > 0 {
		trade.Points = move.DivInt64(trade.Size)
	}
	trade.GrossPnL = move.Mul(c.PointValue(trade.Contract))
	trade.TotalFees = trade.EntryFees.Add(trade.ExitFees)
	trade.NetPnL = trade.GrossPnL.Sub(trade.TotalFees)
	trade.Duration = trade.ExitTime.Sub(trade.EntryTime)
	trade.Result = Classify(trade.NetPnL)
	return trade
}

func Classify(net fixed.Point) common.Result {
	switch net.Sign() {
	case 1:
		return common.ResultWin
	case -1:
		return common.ResultLoss
	default:
		return common.ResultBreakeven
	}
}
