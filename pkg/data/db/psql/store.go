package psql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/pkg/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS futures_round_trips (
	trade_key        TEXT        NOT NULL,
	account          TEXT        NOT NULL,
	contract         TEXT        NOT NULL,
	symbol           TEXT        NOT NULL,
	title            TEXT        NOT NULL,
	direction        TEXT        NOT NULL,
	size             BIGINT      NOT NULL,
	entry_price      NUMERIC     NOT NULL,
	exit_price       NUMERIC     NOT NULL,
	entry_time       TIMESTAMPTZ NOT NULL,
	exit_time        TIMESTAMPTZ NOT NULL,
	gross_pnl        NUMERIC     NOT NULL,
	total_fees       NUMERIC     NOT NULL,
	net_pnl          NUMERIC     NOT NULL,
	duration_seconds BIGINT      NOT NULL,
	result           TEXT        NOT NULL,
	entry_trade_ids  BIGINT[]    NOT NULL,
	exit_trade_ids   BIGINT[]    NOT NULL,
	PRIMARY KEY (account, contract, trade_key)
)`

type Credentials struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DataSourceName renders the credentials as a postgres:// URL. SSL is disabled unless set.
func (c Credentials) DataSourceName() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	host := c.Host
	if c.Port != "" {
		host += ":" + c.Port
	}

	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     host,
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return dsn.String()
}

// Store is an idempotent trade sink over a PostgreSQL table.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

func Connect(ctx context.Context, logger *zap.Logger, credentials Credentials) (*Store, error) {
	db, err := sql.Open("postgres", credentials.DataSourceName())
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to reach postgres at %s: %w", credentials.Host, err)
	}

	return &Store{logger: logger, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("unable to create schema: %w", err)
	}
	return nil
}

// StoreRoundTrips inserts trades and returns how many were new. Trades already
// stored under the same unique key are left untouched.
func (s *Store) StoreRoundTrips(ctx context.Context, trades []common.RoundTripTrade) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO futures_round_trips (
		trade_key, account, contract, symbol, title, direction, size,
		entry_price, exit_price, entry_time, exit_time,
		gross_pnl, total_fees, net_pnl, duration_seconds, result,
		entry_trade_ids, exit_trade_ids
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (account, contract, trade_key) DO NOTHING;
	`)
	if err != nil {
		return 0, err
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmt)

	inserted := 0
	for _, trade := range trades {
		res, err := stmt.ExecContext(ctx,
			trade.UniqueKey(),
			trade.Account,
			trade.Contract,
			trade.Symbol,
			trade.Title(),
			trade.Direction.String(),
			trade.Size,
			trade.EntryPrice.String(),
			trade.ExitPrice.String(),
			trade.EntryTime.UTC(),
			trade.ExitTime.UTC(),
			trade.GrossPnL.String(),
			trade.TotalFees.String(),
			trade.NetPnL.String(),
			int64(trade.Duration/time.Second),
			trade.Result.String(),
			pq.Array(trade.EntryTradeIDs),
			pq.Array(trade.ExitTradeIDs),
		)
		if err != nil {
			return 0, fmt.Errorf("error inserting round trip %s: %w", trade.UniqueKey(), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.logger.Debug("round trips stored in postgres", zap.Int("new", inserted), zap.Int("total", len(trades)))
	return inserted, nil
}
