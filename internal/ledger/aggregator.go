package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// ContributionReader reads confirmed contributions. Pending and failed rows are never
// returned.
type ContributionReader interface {
	ConfirmedAmounts(ctx context.Context, memberID int64) ([]decimal.Decimal, error)
	ConfirmedInPeriod(ctx context.Context, start, end time.Time) ([]MemberAmount, error)
}

// Aggregator sums confirmed contributions. It has no side effects.
type Aggregator struct {
	reader ContributionReader
}

// NewAggregator wraps a reader, which may be bound to a transaction.
func NewAggregator(reader ContributionReader) Aggregator {
	return Aggregator{reader: reader}
}

// TotalConfirmedContributions sums a member's confirmed contributions. No rows yield zero;
// read failures are returned, never defaulted.
func (a Aggregator) TotalConfirmedContributions(ctx context.Context, memberID int64) (decimal.Decimal, error) {
	amounts, err := a.reader.ConfirmedAmounts(ctx, memberID)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

// TotalConfirmedByPeriod sums confirmed contributions per member for contributions dated
// within [start, end], both days inclusive.
func (a Aggregator) TotalConfirmedByPeriod(ctx context.Context, start, end time.Time) (map[int64]decimal.Decimal, error) {
	period, err := shared.NewPeriod(start, end)
	if err != nil {
		return nil, err
	}
	rows, err := a.reader.ConfirmedInPeriod(ctx, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	totals := make(map[int64]decimal.Decimal)
	for _, row := range rows {
		totals[row.MemberID] = totals[row.MemberID].Add(row.Amount)
	}
	for id, total := range totals {
		if !total.IsPositive() {
			delete(totals, id)
		}
	}
	return totals, nil
}

// SortedTotals orders totals by member id ascending.
func SortedTotals(totals map[int64]decimal.Decimal) []MemberTotal {
	out := make([]MemberTotal, 0, len(totals))
	for id, total := range totals {
		out = append(out, MemberTotal{MemberID: id, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}
