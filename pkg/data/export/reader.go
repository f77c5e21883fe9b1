// Package export reads TopstepX trade exports and writes round trip reports as JSON files.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/utility/fixed"
)

var (
	ErrMalformedExport = errors.New("malformed trade export")
)

// timeLayouts are tried in order; layouts without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

type Account struct {
	ID   json.Number `json:"id,omitempty"`
	Name string      `json:"name"`
}

type exportFile struct {
	Timestamp string        `json:"timestamp"`
	Account   Account       `json:"account"`
	Trades    []exportTrade `json:"trades"`
}

type exportTrade struct {
	ID                int64        `json:"id"`
	AccountID         int64        `json:"accountId"`
	ContractID        string       `json:"contractId"`
	CreationTimestamp string       `json:"creationTimestamp"`
	Price             fixed.Point  `json:"price"`
	ProfitAndLoss     *fixed.Point `json:"profitAndLoss"`
	Fees              fixed.Point  `json:"fees"`
	Side              int          `json:"side"`
	Size              int64        `json:"size"`
	Voided            bool         `json:"voided"`
	OrderID           int64        `json:"orderId"`
}

// Reader is a fill source over a TopstepX trade export file.
type Reader struct {
	logger  *zap.Logger
	path    string
	account Account
}

func NewReader(logger *zap.Logger, path string) *Reader {
	return &Reader{
		logger: logger,
		path:   path,
	}
}

// Account returns the account header of the last loaded file.
func (r *Reader) Account() Account {
	return r.account
}

func (r *Reader) LoadFills(ctx context.Context) ([]common.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("unable to open trade export %s: %w", r.path, err)
	}
	defer f.Close()

	fills, account, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read trade export %s: %w", r.path, err)
	}
	r.account = account

	r.logger.Debug("trade export loaded",
		zap.String("path", r.path),
		zap.String("account", account.Name),
		zap.Int("fills", len(fills)))

	return fills, nil
}

// Decode parses an export document. Voided trades are dropped.
func Decode(in io.Reader) ([]common.Fill, Account, error) {
	var doc exportFile
	if err := json.NewDecoder(in).Decode(&doc); err != nil {
		return nil, Account{}, fmt.Errorf("%w: %w", ErrMalformedExport, err)
	}

	fills := make([]common.Fill, 0, len(doc.Trades))
	for _, trade := range doc.Trades {
		if trade.Voided {
			continue
		}

		ts, err := ParseTimestamp(trade.CreationTimestamp)
		if err != nil {
			return nil, Account{}, fmt.Errorf("%w: trade %d: %w", ErrMalformedExport, trade.ID, err)
		}

		fills = append(fills, common.Fill{
			Account:   strconv.FormatInt(trade.AccountID, 10),
			Contract:  trade.ContractID,
			TradeID:   trade.ID,
			OrderID:   trade.OrderID,
			Side:      common.Side(trade.Side),
			Size:      trade.Size,
			Price:     trade.Price,
			Fee:       trade.Fees,
			TimeStamp: ts,
		})
	}

	return fills, doc.Account, nil
}

// ParseTimestamp reads the ISO 8601 variants the broker emits and returns UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
}
