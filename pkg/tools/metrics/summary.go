package metrics

import (
	"slices"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

// Ratio is a quotient that may be undefined, such as a profit factor without losses.
type Ratio struct {
	value   fixed.Point
	defined bool
}

func NewRatio(num, den fixed.Point) Ratio {
	if den.IsZero() {
		return Ratio{}
	}
	return Ratio{value: num.Div(den), defined: true}
}

// Value returns the quotient and whether it is defined.
func (r Ratio) Value() (fixed.Point, bool) {
	return r.value, r.defined
}

func (r Ratio) Defined() bool {
	return r.defined
}

func (r Ratio) String() string {
	if !r.defined {
		return "n/a"
	}
	return r.value.Rescale(2).String()
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.defined {
		return []byte("null"), nil
	}
	return r.value.MarshalJSON()
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ratio{}
		return nil
	}
	if err := r.value.UnmarshalJSON(data); err != nil {
		return err
	}
	r.defined = true
	return nil
}

// Breakdown is the slice of a Summary that belongs to one contract symbol or one direction.
type Breakdown struct {
	Trades int         `json:"trades"`
	Wins   int         `json:"wins"`
	Losses int         `json:"losses"`
	NetPnL fixed.Point `json:"net_pnl"`
}

type Summary struct {
	TotalTrades     int                  `json:"total_trades"`
	Wins            int                  `json:"winning_trades"`
	Losses          int                  `json:"losing_trades"`
	Breakevens      int                  `json:"breakeven_trades"`
	WinRate         fixed.Point          `json:"win_rate"`
	GrossProfit     fixed.Point          `json:"gross_profit"`
	GrossLoss       fixed.Point          `json:"gross_loss"`
	ProfitFactor    Ratio                `json:"profit_factor"`
	TotalGrossPnL   fixed.Point          `json:"total_gross_pnl"`
	TotalFees       fixed.Point          `json:"total_fees"`
	TotalNetPnL     fixed.Point          `json:"total_net_pnl"`
	AverageWin      fixed.Point          `json:"avg_win"`
	AverageLoss     fixed.Point          `json:"avg_loss"`
	LargestWin      fixed.Point          `json:"max_win"`
	LargestLoss     fixed.Point          `json:"max_loss"`
	Expectancy      fixed.Point          `json:"expectancy"`
	SharpeRatio     fixed.Point          `json:"sharpe_ratio"`
	MaxDrawdown     fixed.Point          `json:"max_drawdown"`
	RecoveryFactor  Ratio                `json:"recovery_factor"`
	AverageDuration time.Duration        `json:"-"`
	ByContract      map[string]Breakdown `json:"by_contract"`
	ByDirection     map[string]Breakdown `json:"by_direction"`
}

func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	return json.Marshal(struct {
		plain
		AverageDurationSeconds   int64  `json:"avg_duration_seconds"`
		AverageDurationFormatted string `json:"avg_duration_formatted"`
	}{
		plain:                    plain(s),
		AverageDurationSeconds:   int64(s.AverageDuration / time.Second),
		AverageDurationFormatted: common.FormatDuration(s.AverageDuration),
	})
}

// Reduce folds trades into a Summary. The result does not depend on the order of trades.
// Win rate is a fraction in [0, 1] and is zero when there are no trades.
func Reduce(trades []common.RoundTripTrade) Summary {
	s := Summary{
		WinRate:       fixed.Zero,
		GrossProfit:   fixed.Zero,
		GrossLoss:     fixed.Zero,
		TotalGrossPnL: fixed.Zero,
		TotalFees:     fixed.Zero,
		TotalNetPnL:   fixed.Zero,
		AverageWin:    fixed.Zero,
		AverageLoss:   fixed.Zero,
		LargestWin:    fixed.Zero,
		LargestLoss:   fixed.Zero,
		Expectancy:    fixed.Zero,
		SharpeRatio:   fixed.Zero,
		MaxDrawdown:   fixed.Zero,
		ByContract:    make(map[string]Breakdown),
		ByDirection:   make(map[string]Breakdown),
	}

	var (
		lossSum       = fixed.Zero
		totalDuration time.Duration
		nets          = make([]fixed.Point, 0, len(trades))
	)

	// Decimal sums and the deviation round, so fold in one canonical order.
	ordered := slices.Clone(trades)
	slices.SortFunc(ordered, CompareTrades)

	for _, trade := range ordered {
		s.TotalTrades++
		s.TotalGrossPnL = s.TotalGrossPnL.Add(trade.GrossPnL)
		s.TotalFees = s.TotalFees.Add(trade.TotalFees)
		s.TotalNetPnL = s.TotalNetPnL.Add(trade.NetPnL)
		totalDuration += trade.Duration
		nets = append(nets, trade.NetPnL)

		switch trade.Result {
		case common.ResultWin:
			s.Wins++
			s.GrossProfit = s.GrossProfit.Add(trade.NetPnL)
			s.LargestWin = fixed.Max(s.LargestWin, trade.NetPnL)
		case common.ResultLoss:
			s.Losses++
			lossSum = lossSum.Add(trade.NetPnL)
			s.LargestLoss = fixed.Min(s.LargestLoss, trade.NetPnL)
		default:
			s.Breakevens++
		}

		symbol := trade.Symbol
		if symbol == "" {
			symbol = common.ExtractSymbol(trade.Contract)
		}
		s.ByContract[symbol] = s.ByContract[symbol].add(trade)
		s.ByDirection[trade.Direction.String()] = s.ByDirection[trade.Direction.String()].add(trade)
	}

	s.GrossLoss = lossSum.Abs()
	s.ProfitFactor = NewRatio(s.GrossProfit, s.GrossLoss)
	s.MaxDrawdown = MaxDrawdown(ordered)
	s.RecoveryFactor = NewRatio(s.TotalNetPnL, s.MaxDrawdown)

	if s.Wins > 0 {
		s.AverageWin = s.GrossProfit.DivInt(s.Wins)
	}
	if s.Losses > 0 {
		s.AverageLoss = lossSum.DivInt(s.Losses)
	}
	if s.TotalTrades > 0 {
		s.WinRate = fixed.FromInt(s.Wins, 0).DivInt(s.TotalTrades)
		s.Expectancy = s.TotalNetPnL.DivInt(s.TotalTrades)
		s.AverageDuration = totalDuration / time.Duration(s.TotalTrades)
		s.SharpeRatio = fixed.SharpeRatio(nets, fixed.Zero)
	}

	return s
}

// MaxDrawdown is the largest peak to trough fall of cumulative net P&L, replaying
// trades by exit time. The equity curve starts at zero.
func MaxDrawdown(trades []common.RoundTripTrade) fixed.Point {
	ordered := slices.Clone(trades)
	slices.SortFunc(ordered, CompareTrades)

	var (
		equity   = fixed.Zero
		peak     = fixed.Zero
		drawdown = fixed.Zero
	)
	for _, trade := range ordered {
		equity = equity.Add(trade.NetPnL)
		peak = fixed.Max(peak, equity)
		drawdown = fixed.Max(drawdown, peak.Sub(equity))
	}
	return drawdown
}

// CompareTrades is the canonical trade order: exit time, partition key, then the
// fills a trade was built from. Net P&L breaks any remaining tie.
func CompareTrades(a, b common.RoundTripTrade) int {
	if c := a.ExitTime.Compare(b.ExitTime); c != 0 {
		return c
	}
	if c := a.Key().Compare(b.Key()); c != 0 {
		return c
	}
	if c := slices.Compare(a.EntryTradeIDs, b.EntryTradeIDs); c != 0 {
		return c
	}
	if c := slices.Compare(a.ExitTradeIDs, b.ExitTradeIDs); c != 0 {
		return c
	}
	switch {
	case a.NetPnL.Lt(b.NetPnL):
		return -1
	case a.NetPnL.Gt(b.NetPnL):
		return 1
	}
	return 0
}

func (b Breakdown) add(trade common.RoundTripTrade) Breakdown {
	if b.Trades == 0 {
		b.NetPnL = fixed.Zero
	}
	b.Trades++
	b.NetPnL = b.NetPnL.Add(trade.NetPnL)
	switch trade.Result {
	case common.ResultWin:
		b.Wins++
	case common.ResultLoss:
		b.Losses++
	}
	return b
}

func (s Summary) Print(logger *zap.Logger) {
	logger.Info("round trip statistics",
		zap.Int("total_trades", s.TotalTrades),
		zap.Int("winning_trades", s.Wins),
		zap.Int("losing_trades", s.Losses),
		zap.Int("breakeven_trades", s.Breakevens),
		zap.String("win_rate", s.WinRate.MulInt64(100).Rescale(1).String()+"%"),
		zap.Stringer("profit_factor", s.ProfitFactor),
		zap.String("expectancy", s.Expectancy.Rescale(2).String()),
		zap.String("sharpe_ratio", s.SharpeRatio.Rescale(4).String()),
		zap.String("max_drawdown", s.MaxDrawdown.Rescale(2).String()),
		zap.Stringer("recovery_factor", s.RecoveryFactor),
		zap.String("average_duration", common.FormatDuration(s.AverageDuration)))

	logger.Info("round trip p&l",
		zap.String("gross_profit", s.GrossProfit.Rescale(2).String()),
		zap.String("gross_loss", s.GrossLoss.Rescale(2).String()),
		zap.String("total_gross_pnl", s.TotalGrossPnL.Rescale(2).String()),
		zap.String("total_fees", s.TotalFees.Rescale(2).String()),
		zap.String("total_net_pnl", s.TotalNetPnL.Rescale(2).String()),
		zap.String("average_win", s.AverageWin.Rescale(2).String()),
		zap.String("average_loss", s.AverageLoss.Rescale(2).String()),
		zap.String("largest_win", s.LargestWin.Rescale(2).String()),
		zap.String("largest_loss", s.LargestLoss.Rescale(2).String()))

	for _, symbol := range sortedKeys(s.ByContract) {
		b := s.ByContract[symbol]
		logger.Info("contract breakdown",
			zap.String("contract", symbol),
			zap.Int("trades", b.Trades),
			zap.Int("wins", b.Wins),
			zap.Int("losses", b.Losses),
			zap.String("net_pnl", b.NetPnL.Rescale(2).String()))
	}
	for _, direction := range sortedKeys(s.ByDirection) {
		b := s.ByDirection[direction]
		logger.Info("direction breakdown",
			zap.String("direction", direction),
			zap.Int("trades", b.Trades),
			zap.Int("wins", b.Wins),
			zap.Int("losses", b.Losses),
			zap.String("net_pnl", b.NetPnL.Rescale(2).String()))
	}
}

func sortedKeys(m map[string]Breakdown) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
