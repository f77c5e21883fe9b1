package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

// decimalScale is the number of fractional digits every DECIMAL column keeps.
const decimalScale = 10

var (
	ErrPrecision = errors.New("value exceeds stored decimal precision")
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS fills (
	account   VARCHAR         NOT NULL,
	contract  VARCHAR         NOT NULL,
	trade_id  BIGINT          NOT NULL,
	order_id  BIGINT          NOT NULL DEFAULT 0,
	side      VARCHAR         NOT NULL,
	size      BIGINT          NOT NULL,
	price     DECIMAL(38, 10) NOT NULL,
	fee       DECIMAL(38, 10) NOT NULL,
	ts        TIMESTAMP       NOT NULL,
	PRIMARY KEY (account, contract, trade_id)
)`, `
CREATE TABLE IF NOT EXISTS round_trips (
	trade_key        VARCHAR        NOT NULL,
	account          VARCHAR        NOT NULL,
	contract         VARCHAR        NOT NULL,
	symbol           VARCHAR        NOT NULL,
	direction        VARCHAR        NOT NULL,
	size             BIGINT         NOT NULL,
	entry_price      DECIMAL(38, 10) NOT NULL,
	exit_price       DECIMAL(38, 10) NOT NULL,
	entry_time       TIMESTAMP      NOT NULL,
	exit_time        TIMESTAMP      NOT NULL,
	points           DECIMAL(38, 10) NOT NULL,
	gross_pnl        DECIMAL(38, 10) NOT NULL,
	entry_fees       DECIMAL(38, 10) NOT NULL,
	exit_fees        DECIMAL(38, 10) NOT NULL,
	total_fees       DECIMAL(38, 10) NOT NULL,
	net_pnl          DECIMAL(38, 10) NOT NULL,
	duration_seconds BIGINT         NOT NULL,
	result           VARCHAR        NOT NULL,
	entry_trade_ids  VARCHAR        NOT NULL,
	exit_trade_ids   VARCHAR        NOT NULL,
	PRIMARY KEY (account, contract, trade_key)
)`,
}

// Store keeps fills and round trips in a DuckDB database. It is both a fill
// source and an idempotent trade sink.
type Store struct {
	logger         *zap.Logger
	dataSourceName string
	db             *sql.DB
}

func NewStore(logger *zap.Logger, dataSourceName string) *Store {
	return &Store{
		logger:         logger,
		dataSourceName: dataSourceName,
	}
}

func (s *Store) Connect(ctx context.Context) error {
	db, err := sql.Open("duckdb", s.dataSourceName)
	if err != nil {
		return fmt.Errorf("unable to open duckdb %q: %w", s.dataSourceName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("unable to reach duckdb %q: %w", s.dataSourceName, err)
	}
	s.db = db
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, statement := range schema {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("unable to create schema: %w", err)
		}
	}
	return nil
}

// InsertFills stores fills and returns how many were not present yet.
func (s *Store) InsertFills(ctx context.Context, fills []common.Fill) (int, error) {
	return s.insert(ctx, func(tx *sql.Tx) (int, error) {
		inserted := 0
		for _, fill := range fills {
			var exists bool
			err := tx.QueryRowContext(ctx,
				`SELECT count(*) > 0 FROM fills WHERE account = ? AND contract = ? AND trade_id = ?`,
				fill.Account, fill.Contract, fill.TradeID).Scan(&exists)
			if err != nil {
				return 0, fmt.Errorf("error looking up fill %d: %w", fill.TradeID, err)
			}
			if exists {
				continue
			}
			if err := fitsColumn(fill.Price); err != nil {
				return 0, fmt.Errorf("fill %d price: %w", fill.TradeID, err)
			}
			if err := fitsColumn(fill.Fee); err != nil {
				return 0, fmt.Errorf("fill %d fee: %w", fill.TradeID, err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO fills (account, contract, trade_id, order_id, side, size, price, fee, ts)
				VALUES (?, ?, ?, ?, ?, ?, CAST(? AS DECIMAL(38, 10)), CAST(? AS DECIMAL(38, 10)), ?)
				ON CONFLICT DO NOTHING`,
				fill.Account,
				fill.Contract,
				fill.TradeID,
				fill.OrderID,
				fill.Side.String(),
				fill.Size,
				fill.Price.String(),
				fill.Fee.String(),
				fill.TimeStamp.UTC(),
			)
			if err != nil {
				return 0, fmt.Errorf("error inserting fill %d: %w", fill.TradeID, err)
			}
			inserted++
		}
		return inserted, nil
	})
}

// fitsColumn rejects values the DECIMAL columns would silently round.
func fitsColumn(value fixed.Point) error {
	if !value.Round(decimalScale).Eq(value) {
		return fmt.Errorf("%w: %s has more than %d decimals", ErrPrecision, value, decimalScale)
	}
	return nil
}

func (s *Store) LoadFills(ctx context.Context) ([]common.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, contract, trade_id, order_id, side, size,
		       CAST(price AS VARCHAR), CAST(fee AS VARCHAR), ts
		FROM fills
		ORDER BY account, contract, ts, trade_id`)
	if err != nil {
		return nil, fmt.Errorf("error querying fills: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var fills []common.Fill
	for rows.Next() {
		var (
			fill       common.Fill
			side       string
			price, fee string
			timeStamp  time.Time
		)
		if err := rows.Scan(&fill.Account, &fill.Contract, &fill.TradeID, &fill.OrderID, &side, &fill.Size, &price, &fee, &timeStamp); err != nil {
			return nil, fmt.Errorf("error scanning fill: %w", err)
		}
		if err := fill.Side.UnmarshalText([]byte(side)); err != nil {
			return nil, fmt.Errorf("fill %d: %w", fill.TradeID, err)
		}
		if fill.Price, err = fixed.Parse(price); err != nil {
			return nil, fmt.Errorf("fill %d price: %w", fill.TradeID, err)
		}
		if fill.Fee, err = fixed.Parse(fee); err != nil {
			return nil, fmt.Errorf("fill %d fee: %w", fill.TradeID, err)
		}
		fill.TimeStamp = timeStamp.UTC()
		fills = append(fills, fill)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error scanning fills: %w", err)
	}

	s.logger.Debug("fills loaded from duckdb", zap.Int("fills", len(fills)))
	return fills, nil
}

// StoreRoundTrips inserts trades that are not stored yet, keyed by account, contract and unique key.
func (s *Store) StoreRoundTrips(ctx context.Context, trades []common.RoundTripTrade) (int, error) {
	return s.insert(ctx, func(tx *sql.Tx) (int, error) {
		inserted := 0
		for _, trade := range trades {
			key := trade.UniqueKey()

			var exists bool
			err := tx.QueryRowContext(ctx,
				`SELECT count(*) > 0 FROM round_trips WHERE account = ? AND contract = ? AND trade_key = ?`,
				trade.Account, trade.Contract, key).Scan(&exists)
			if err != nil {
				return 0, fmt.Errorf("error looking up round trip %s: %w", key, err)
			}
			if exists {
				continue
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO round_trips (
					trade_key, account, contract, symbol, direction, size,
					entry_price, exit_price, entry_time, exit_time,
					points, gross_pnl, entry_fees, exit_fees, total_fees, net_pnl,
					duration_seconds, result, entry_trade_ids, exit_trade_ids
				) VALUES (
					?, ?, ?, ?, ?, ?,
					CAST(? AS DECIMAL(38, 10)), CAST(? AS DECIMAL(38, 10)), ?, ?,
					CAST(? AS DECIMAL(38, 10)), CAST(? AS DECIMAL(38, 10)), CAST(? AS DECIMAL(38, 10)),
					CAST(? AS DECIMAL(38, 10)), CAST(? AS DECIMAL(38, 10)), CAST(? AS DECIMAL(38, 10)),
					?, ?, ?, ?
				)
				ON CONFLICT DO NOTHING`,
				key,
				trade.Account,
				trade.Contract,
				trade.Symbol,
				trade.Direction.String(),
				trade.Size,
				trade.EntryPrice.String(),
				trade.ExitPrice.String(),
				trade.EntryTime.UTC(),
				trade.ExitTime.UTC(),
				trade.Points.String(),
				trade.GrossPnL.String(),
				trade.EntryFees.String(),
				trade.ExitFees.String(),
				trade.TotalFees.String(),
				trade.NetPnL.String(),
				int64(trade.Duration/time.Second),
				trade.Result.String(),
				formatIDs(trade.EntryTradeIDs),
				formatIDs(trade.ExitTradeIDs),
			)
			if err != nil {
				return 0, fmt.Errorf("error inserting round trip %s: %w", key, err)
			}
			inserted++
		}
		return inserted, nil
	})
}

func (s *Store) LoadRoundTrips(ctx context.Context) ([]common.RoundTripTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, contract, symbol, direction, size,
		       CAST(entry_price AS VARCHAR), CAST(exit_price AS VARCHAR), entry_time, exit_time,
		       CAST(points AS VARCHAR), CAST(gross_pnl AS VARCHAR), CAST(entry_fees AS VARCHAR),
		       CAST(exit_fees AS VARCHAR), CAST(total_fees AS VARCHAR), CAST(net_pnl AS VARCHAR),
		       duration_seconds, result, entry_trade_ids, exit_trade_ids
		FROM round_trips
		ORDER BY exit_time, account, contract, trade_key`)
	if err != nil {
		return nil, fmt.Errorf("error querying round trips: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var trades []common.RoundTripTrade
	for rows.Next() {
		var (
			trade             common.RoundTripTrade
			direction, result string
			entryIDs, exitIDs string
			seconds           int64
			decimals          [8]string
		)
		err := rows.Scan(
			&trade.Account, &trade.Contract, &trade.Symbol, &direction, &trade.Size,
			&decimals[0], &decimals[1], &trade.EntryTime, &trade.ExitTime,
			&decimals[2], &decimals[3], &decimals[4], &decimals[5], &decimals[6], &decimals[7],
			&seconds, &result, &entryIDs, &exitIDs,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning round trip: %w", err)
		}

		if err := trade.Direction.UnmarshalText([]byte(direction)); err != nil {
			return nil, err
		}
		if err := trade.Result.UnmarshalText([]byte(result)); err != nil {
			return nil, err
		}

		targets := []*fixed.Point{
			&trade.EntryPrice, &trade.ExitPrice, &trade.Points, &trade.GrossPnL,
			&trade.EntryFees, &trade.ExitFees, &trade.TotalFees, &trade.NetPnL,
		}
		for i, target := range targets {
			if *target, err = fixed.Parse(decimals[i]); err != nil {
				return nil, fmt.Errorf("round trip %s-%s: %w", entryIDs, exitIDs, err)
			}
			*target = target.Trim()
		}

		if trade.EntryTradeIDs, err = parseIDs(entryIDs); err != nil {
			return nil, err
		}
		if trade.ExitTradeIDs, err = parseIDs(exitIDs); err != nil {
			return nil, err
		}

		trade.EntryTime = trade.EntryTime.UTC()
		trade.ExitTime = trade.ExitTime.UTC()
		trade.Duration = time.Duration(seconds) * time.Second
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error scanning round trips: %w", err)
	}
	return trades, nil
}

func (s *Store) insert(ctx context.Context, fn func(tx *sql.Tx) (int, error)) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("unable to begin transaction: %w", err)
	}

	inserted, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("unable to commit transaction: %w", err)
	}
	return inserted, nil
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func parseIDs(value string) ([]int64, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ids := make([]int64, len(parts))
	for i, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid trade id list %q: %w", value, err)
		}
		ids[i] = id
	}
	return ids, nil
}
