package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/goccy/go-json"

	"github.com/peter-kozarec/roundtrip/pkg/common"
	"github.com/peter-kozarec/roundtrip/pkg/matching"
	"github.com/peter-kozarec/roundtrip/pkg/pipeline"
	"github.com/peter-kozarec/roundtrip/pkg/tools/metrics"
	"github.com/peter-kozarec/roundtrip/pkg/utility"
)

type Issue struct {
	Account  string `json:"account"`
	Contract string `json:"contract"`
	TradeID  int64  `json:"trade_id,omitempty"`
	Reason   string `json:"reason"`
}

// Report is the document written by Writer.
type Report struct {
	ExecutionID   string                  `json:"execution_id,omitempty"`
	GeneratedAt   time.Time               `json:"generated_at"`
	Account       Account                 `json:"account"`
	Statistics    metrics.Summary         `json:"statistics"`
	RoundTrips    []common.RoundTripTrade `json:"roundtrips"`
	OpenPositions []common.OpenPosition   `json:"open_positions"`
	Rejected      []Issue                 `json:"rejected"`
	Failed        []Issue                 `json:"failed"`
}

type WriterOption func(*Writer)

func WithAccount(account Account) WriterOption {
	return func(w *Writer) {
		w.account = func() Account { return account }
	}
}

// WithAccountOf takes the account header from reader when the report is written,
// so the writer can be built before the export is loaded.
func WithAccountOf(reader *Reader) WriterOption {
	return func(w *Writer) {
		w.account = reader.Account
	}
}

func WithIndent(indent string) WriterOption {
	return func(w *Writer) {
		w.indent = indent
	}
}

// Writer is a trade sink that keeps a JSON report file.
type Writer struct {
	path    string
	account func() Account
	indent  string
}

func NewWriter(path string, options ...WriterOption) *Writer {
	w := &Writer{
		path:    path,
		account: func() Account { return Account{} },
		indent:  "  ",
	}

	for _, option := range options {
		option(w)
	}

	return w
}

// StoreRoundTrips merges trades into the report already on disk. Trades whose
// unique key is present are skipped; statistics are recomputed over the merged set.
func (w *Writer) StoreRoundTrips(ctx context.Context, trades []common.RoundTripTrade) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	report, err := ReadReport(w.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}

	known := make(map[string]struct{}, len(report.RoundTrips))
	for _, trade := range report.RoundTrips {
		known[trade.UniqueKey()] = struct{}{}
	}

	stored := 0
	for _, trade := range trades {
		if _, ok := known[trade.UniqueKey()]; ok {
			continue
		}
		known[trade.UniqueKey()] = struct{}{}
		report.RoundTrips = append(report.RoundTrips, trade)
		stored++
	}

	slices.SortStableFunc(report.RoundTrips, func(a, b common.RoundTripTrade) int {
		return a.ExitTime.Compare(b.ExitTime)
	})
	report.GeneratedAt = time.Now().UTC()
	report.Account = w.account()
	report.Statistics = metrics.Reduce(report.RoundTrips)

	return stored, w.write(report)
}

// StoreResult replaces the report with the outcome of one run.
func (w *Writer) StoreResult(ctx context.Context, result pipeline.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.write(NewReport(result, w.account()))
}

func NewReport(result pipeline.Result, account Account) Report {
	report := Report{
		ExecutionID:   result.ExecutionID.String(),
		GeneratedAt:   result.GeneratedAt,
		Account:       account,
		Statistics:    result.Summary,
		RoundTrips:    result.Trades,
		OpenPositions: result.OpenPositions,
		Rejected:      make([]Issue, 0, len(result.Rejected)),
		Failed:        make([]Issue, 0, len(result.Failed)),
	}

	for key, rejection := range result.Rejected {
		report.Rejected = append(report.Rejected, Issue{
			Account:  key.Account,
			Contract: key.Contract,
			TradeID:  rejection.TradeID,
			Reason:   rejection.Reason,
		})
	}
	for key, err := range result.Failed {
		issue := Issue{Account: key.Account, Contract: key.Contract, Reason: err.Error()}
		var mErr *matching.MatchingError
		if errors.As(err, &mErr) {
			issue.TradeID = mErr.TradeID
			issue.Reason = mErr.Reason
		}
		report.Failed = append(report.Failed, issue)
	}

	slices.SortFunc(report.Rejected, compareIssues)
	slices.SortFunc(report.Failed, compareIssues)
	return report
}

func ReadReport(path string) (Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("unable to read report %s: %w", path, err)
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return Report{}, fmt.Errorf("unable to decode report %s: %w", path, err)
	}
	if report.ExecutionID != "" {
		if _, err := utility.ParseExecutionID(report.ExecutionID); err != nil {
			return Report{}, fmt.Errorf("unable to decode report %s: %w", path, err)
		}
	}
	return report, nil
}

func (w *Writer) write(report Report) error {
	if report.RoundTrips == nil {
		report.RoundTrips = []common.RoundTripTrade{}
	}
	if report.OpenPositions == nil {
		report.OpenPositions = []common.OpenPosition{}
	}

	raw, err := json.MarshalIndent(report, "", w.indent)
	if err != nil {
		return fmt.Errorf("unable to encode report: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("unable to create report directory: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("unable to write report %s: %w", w.path, err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("unable to replace report %s: %w", w.path, err)
	}
	return nil
}

func compareIssues(a, b Issue) int {
	return common.PartitionKey{Account: a.Account, Contract: a.Contract}.
		Compare(common.PartitionKey{Account: b.Account, Contract: b.Contract})
}
