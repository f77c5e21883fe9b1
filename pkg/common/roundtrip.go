package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
	"go.uber.org/zap"
)

type Result int

const (
	ResultBreakeven Result = iota
	ResultWin
	ResultLoss
)

func (r Result) String() string {
	switch r {
	case ResultWin:
		return "WIN"
	case ResultLoss:
		return "LOSS"
	case ResultBreakeven:
		return "BREAKEVEN"
	default:
		return fmt.Sprintf("RESULT(%d)", int(r))
	}
}

// Abbrev is the short label used in trade titles.
func (r Result) Abbrev() string {
	if r == ResultBreakeven {
		return "BE"
	}
	return r.String()
}

func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Result) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "WIN":
		*r = ResultWin
	case "LOSS":
		*r = ResultLoss
	case "BREAKEVEN", "BE":
		*r = ResultBreakeven
	default:
		return fmt.Errorf("unknown result %q", string(text))
	}
	return nil
}

// RoundTripTrade is a realized entry/exit pair. It is never modified once emitted.
// EntryCost and ExitCost are the exact price times size sums behind the averaged
// prices; P&L is computed from them, the prices are for display.
type RoundTripTrade struct {
	Account       string        `json:"account"`
	Contract      string        `json:"contract_id"`
	Symbol        string        `json:"contract"`
	Direction     PositionSide  `json:"direction"`
	Size          int64         `json:"size"`
	EntryPrice    fixed.Point   `json:"entry_price"`
	ExitPrice     fixed.Point   `json:"exit_price"`
	EntryCost     fixed.Point   `json:"-"`
	ExitCost      fixed.Point   `json:"-"`
	EntryTime     time.Time     `json:"entry_time"`
	ExitTime      time.Time     `json:"exit_time"`
	Points        fixed.Point   `json:"points"`
	GrossPnL      fixed.Point   `json:"gross_pnl"`
	EntryFees     fixed.Point   `json:"entry_fees"`
	ExitFees      fixed.Point   `json:"exit_fees"`
	TotalFees     fixed.Point   `json:"total_fees"`
	NetPnL        fixed.Point   `json:"net_pnl"`
	Duration      time.Duration `json:"-"`
	Result        Result        `json:"result"`
	EntryTradeIDs []int64       `json:"entry_trade_ids"`
	ExitTradeIDs  []int64       `json:"exit_trade_ids"`
}

func (t RoundTripTrade) Key() PartitionKey {
	return PartitionKey{Account: t.Account, Contract: t.Contract}
}

// UniqueKey identifies the trade by the fills it was built from, e.g. "101+102-115".
// Sinks use it to skip trades they already hold.
func (t RoundTripTrade) UniqueKey() string {
	return joinIDs(t.EntryTradeIDs) + "-" + joinIDs(t.ExitTradeIDs)
}

// Title renders MMDD_SYMBOL_DIRECTION_RESULT, keyed on the exit date.
func (t RoundTripTrade) Title() string {
	date := "0000"
	if !t.ExitTime.IsZero() {
		date = t.ExitTime.UTC().Format("0102")
	}
	return fmt.Sprintf("%s_%s_%s_%s", date, t.Symbol, t.Direction, t.Result.Abbrev())
}

func (t RoundTripTrade) MarshalJSON() ([]byte, error) {
	type plain RoundTripTrade
	return json.Marshal(struct {
		plain
		Key               string `json:"key"`
		DurationSeconds   int64  `json:"duration_seconds"`
		DurationFormatted string `json:"duration_formatted"`
	}{
		plain:             plain(t),
		Key:               t.UniqueKey(),
		DurationSeconds:   int64(t.Duration / time.Second),
		DurationFormatted: FormatDuration(t.Duration),
	})
}

func (t *RoundTripTrade) UnmarshalJSON(data []byte) error {
	type plain RoundTripTrade
	var aux struct {
		plain
		DurationSeconds int64 `json:"duration_seconds"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = RoundTripTrade(aux.plain)
	t.Duration = time.Duration(aux.DurationSeconds) * time.Second
	return nil
}

func (t RoundTripTrade) Fields() []zap.Field {
	return []zap.Field{
		zap.String("account", t.Account),
		zap.String("contract", t.Contract),
		zap.Stringer("direction", t.Direction),
		zap.Int64("size", t.Size),
		zap.String("entry_price", t.EntryPrice.String()),
		zap.String("exit_price", t.ExitPrice.String()),
		zap.String("points", t.Points.String()),
		zap.String("gross_pnl", t.GrossPnL.String()),
		zap.String("total_fees", t.TotalFees.String()),
		zap.String("net_pnl", t.NetPnL.String()),
		zap.Duration("duration", t.Duration),
		zap.Stringer("result", t.Result),
		zap.String("key", t.UniqueKey()),
	}
}

// FormatDuration renders holding times the way traders read them: 45s, 3m12s, 1h05m.
func FormatDuration(d time.Duration) string {
	seconds := int64(d / time.Second)
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh%02dm", seconds/3600, (seconds%3600)/60)
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, "+")
}
