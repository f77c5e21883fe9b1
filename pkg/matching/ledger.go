package matching

import (
	"fmt"
	"time"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

type State int

const (
	StateFlat State = iota
	StateLong
	StateShort
)

func (s State) String() string {
	switch s {
	case StateFlat:
		return "FLAT"
	case StateLong:
		return "LONG"
	case StateShort:
		return "SHORT"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// feeScale bounds the digits of a pro rata fee share so that sums of shares stay exact.
const feeScale = 10

// tranche is the part of the lot contributed by one fill.
type tranche struct {
	tradeID int64
	size    int64
	price   fixed.Point
	fee     fixed.Point
	ts      time.Time
}

// lot is the single open inventory record of a partition. Tranches are kept
// oldest first so closes always consume the earliest quantity.
type lot struct {
	side      common.PositionSide
	remaining int64
	openedAt  time.Time
	tranches  []tranche
}

func (l *lot) weightedPrice() fixed.Point {
	cost := fixed.Zero
	for _, tr := range l.tranches {
		cost = cost.Add(tr.price.MulInt64(tr.size))
	}
	return cost.DivInt64(l.remaining)
}

func (l *lot) accumulatedFee() fixed.Point {
	fee := fixed.Zero
	for _, tr := range l.tranches {
		fee = fee.Add(tr.fee)
	}
	return fee
}

func (l *lot) originTradeIDs() []int64 {
	ids := make([]int64, len(l.tranches))
	for i, tr := range l.tranches {
		ids[i] = tr.tradeID
	}
	return ids
}

// leg is the realized part of one or more closing fills against the lot.
type leg struct {
	side      common.PositionSide
	size      int64
	entryCost fixed.Point
	exitCost  fixed.Point
	entryFee  fixed.Point
	exitFee   fixed.Point
	entryTime time.Time
	exitTime  time.Time
	entryIDs  []int64
	exitIDs   []int64
}

func (g *leg) merge(o leg) {
	if g.size == 0 {
		*g = o
		return
	}
	g.size += o.size
	g.entryCost = g.entryCost.Add(o.entryCost)
	g.exitCost = g.exitCost.Add(o.exitCost)
	g.entryFee = g.entryFee.Add(o.entryFee)
	g.exitFee = g.exitFee.Add(o.exitFee)
	g.exitTime = o.exitTime
	g.entryIDs = appendUnique(g.entryIDs, o.entryIDs...)
	g.exitIDs = appendUnique(g.exitIDs, o.exitIDs...)
}

func appendUnique(ids []int64, more ...int64) []int64 {
	for _, id := range more {
		if len(ids) > 0 && ids[len(ids)-1] == id {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Ledger tracks the position of exactly one (account, contract) partition.
// It is a three state machine (flat, long, short) plus the open lot and is
// owned by a single goroutine; it does no locking.
type Ledger struct {
	key    common.PartitionKey
	policy ClosePolicy

	lot     lot
	pending leg

	last    common.Fill
	hasLast bool
}

func NewLedger(key common.PartitionKey, policy ClosePolicy) *Ledger {
	return &Ledger{
		key:    key,
		policy: policy,
	}
}

func (l *Ledger) State() State {
	if l.lot.remaining == 0 {
		return StateFlat
	}
	if l.lot.side == common.PositionSideShort {
		return StateShort
	}
	return StateLong
}

// Apply feeds the next fill of the partition into the ledger and returns the trades it completed.
// At most one trade is returned per fill.
func (l *Ledger) Apply(fill common.Fill) ([]common.RoundTripTrade, error) {
	if err := l.check(fill); err != nil {
		return nil, err
	}
	l.last, l.hasLast = fill, true

	if l.State() == StateFlat {
		l.open(fill, fill.Size, fill.Fee)
		return nil, nil
	}

	if !l.lot.side.Closes(fill.Side) {
		l.add(fill)
		return nil, nil
	}

	closed, err := l.close(fill)
	if err != nil {
		return nil, err
	}

	var trades []common.RoundTripTrade
	switch l.policy {
	case ClosePolicyOnFlat:
		l.pending.merge(closed)
		if l.State() == StateFlat {
			trades = append(trades, l.build(l.pending))
			l.pending = leg{}
		}
	default:
		trades = append(trades, l.build(closed))
	}

	if residual := fill.Size - closed.size; residual > 0 {
		l.open(fill, residual, fill.Fee.Sub(closed.exitFee))
	}

	return trades, nil
}

// Flush emits exits that were held back by ClosePolicyOnFlat while the lot never went flat.
func (l *Ledger) Flush() []common.RoundTripTrade {
	if l.pending.size == 0 {
		return nil
	}
	trade := l.build(l.pending)
	l.pending = leg{}
	return []common.RoundTripTrade{trade}
}

// OpenPosition returns the remaining inventory, if any.
func (l *Ledger) OpenPosition() (common.OpenPosition, bool) {
	if l.State() == StateFlat {
		return common.OpenPosition{}, false
	}
	return common.OpenPosition{
		Account:             l.key.Account,
		Contract:            l.key.Contract,
		Side:                l.lot.side,
		Size:                l.lot.remaining,
		WeightedPrice:       l.lot.weightedPrice(),
		AccumulatedEntryFee: l.lot.accumulatedFee(),
		OpenedAt:            l.lot.openedAt,
		OriginTradeIDs:      l.lot.originTradeIDs(),
	}, true
}

func (l *Ledger) check(fill common.Fill) error {
	switch {
	case fill.Key() != l.key:
		return l.fail(fill, fmt.Sprintf("fill belongs to partition %s", fill.Key()))
	case fill.Size <= 0:
		return l.fail(fill, "non-positive fill size reached the ledger")
	case !fill.Side.Valid():
		return l.fail(fill, "unknown side reached the ledger")
	case l.hasLast && !l.last.Before(fill):
		return l.fail(fill, fmt.Sprintf("fill is not ordered after trade %d", l.last.TradeID))
	}
	return nil
}

func (l *Ledger) fail(fill common.Fill, reason string) error {
	return &MatchingError{Key: l.key, TradeID: fill.TradeID, Reason: reason}
}

func (l *Ledger) open(fill common.Fill, size int64, fee fixed.Point) {
	l.lot = lot{
		side:      fill.Side.PositionSide(),
		remaining: size,
		openedAt:  fill.TimeStamp,
		tranches: []tranche{{
			tradeID: fill.TradeID,
			size:    size,
			price:   fill.Price,
			fee:     fee,
			ts:      fill.TimeStamp,
		}},
	}
}

func (l *Ledger) add(fill common.Fill) {
	l.lot.remaining += fill.Size
	l.lot.tranches = append(l.lot.tranches, tranche{
		tradeID: fill.TradeID,
		size:    fill.Size,
		price:   fill.Price,
		fee:     fill.Fee,
		ts:      fill.TimeStamp,
	})
}

// close consumes min(remaining, fill size) units oldest tranche first. Fees are
// allocated pro rata and subtracted from their source, so the last allocation
// always takes the exact remainder.
func (l *Ledger) close(fill common.Fill) (leg, error) {
	size := min(l.lot.remaining, fill.Size)

	closed := leg{
		side:      l.lot.side,
		size:      size,
		entryCost: fixed.Zero,
		exitCost:  fill.Price.MulInt64(size),
		entryFee:  fixed.Zero,
		exitFee:   allocate(fill.Fee, size, fill.Size),
		exitTime:  fill.TimeStamp,
		exitIDs:   []int64{fill.TradeID},
	}

	for taken := int64(0); taken < size; {
		if len(l.lot.tranches) == 0 {
			return leg{}, l.fail(fill, "lot ran out of tranches before the close was covered")
		}

		tr := &l.lot.tranches[0]
		take := min(tr.size, size-taken)

		allocated := allocate(tr.fee, take, tr.size)

		if closed.entryIDs == nil {
			closed.entryTime = tr.ts
		}
		closed.entryIDs = append(closed.entryIDs, tr.tradeID)
		closed.entryCost = closed.entryCost.Add(tr.price.MulInt64(take))
		closed.entryFee = closed.entryFee.Add(allocated)

		tr.size -= take
		tr.fee = tr.fee.Sub(allocated)
		taken += take

		if tr.size == 0 {
			l.lot.tranches = l.lot.tranches[1:]
		}
	}

	l.lot.remaining -= size
	if l.lot.remaining < 0 {
		return leg{}, l.fail(fill, fmt.Sprintf("negative remaining size %d", l.lot.remaining))
	}
	if l.lot.remaining == 0 && len(l.lot.tranches) != 0 {
		return leg{}, l.fail(fill, "flat lot still holds tranches")
	}
	if l.lot.remaining == 0 {
		l.lot = lot{}
	}

	return closed, nil
}

func allocate(fee fixed.Point, part, whole int64) fixed.Point {
	if part == whole {
		return fee
	}
	return fee.MulRatio(part, whole).Round(feeScale)
}

func (l *Ledger) build(g leg) common.RoundTripTrade {
	return common.RoundTripTrade{
		Account:       l.key.Account,
		Contract:      l.key.Contract,
		Direction:     g.side,
		Size:          g.size,
		EntryPrice:    g.entryCost.DivInt64(g.size),
		ExitPrice:     g.exitCost.DivInt64(g.size),
		EntryCost:     g.entryCost,
		ExitCost:      g.exitCost,
		EntryTime:     g.entryTime,
		ExitTime:      g.exitTime,
		EntryFees:     g.entryFee,
		ExitFees:      g.exitFee,
		TotalFees:     g.entryFee.Add(g.exitFee),
		EntryTradeIDs: g.entryIDs,
		ExitTradeIDs:  g.exitIDs,
	}
}
