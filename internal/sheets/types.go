package sheets

import (
	"sort"
	"time"

	"github.com/adambossy/tally/internal/model"
)

// DateRange is the period covered by an export.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// CategoryMonthRow is one category's monthly totals within the export window.
// MonthlyCents is indexed by calendar month of the first window year; amounts
// are absolute cents.
type CategoryMonthRow struct {
	CategoryKey  string
	CategoryName string
	MonthlyCents [12]int64
	TotalCents   int64
	Count        int
}

// Summary aggregates the ledger rows included in an export.
type Summary struct {
	DateRange         DateRange
	Categories        []CategoryMonthRow
	TotalInflowCents  int64
	TotalOutflowCents int64
	Transactions      int
	Verified          int
	Unclassified      int
}

// BuildSummary computes per-category monthly totals over the given rows.
// Rows without a category are grouped under "(unclassified)". Categories are
// sorted by absolute total, largest first.
func BuildSummary(txns []model.LedgerTransaction, categories []model.Category) *Summary {
	names := make(map[int64]model.Category, len(categories))
	for _, c := range categories {
		names[c.ID] = c
	}

	summary := &Summary{Transactions: len(txns)}
	rows := make(map[string]*CategoryMonthRow)

	for i := range txns {
		t := &txns[i]
		if summary.DateRange.Start.IsZero() || t.PostedAt.Before(summary.DateRange.Start) {
			summary.DateRange.Start = t.PostedAt
		}
		if t.PostedAt.After(summary.DateRange.End) {
			summary.DateRange.End = t.PostedAt
		}
		if t.AmountCents < 0 {
			summary.TotalOutflowCents += -t.AmountCents
		} else {
			summary.TotalInflowCents += t.AmountCents
		}
		if t.IsVerified {
			summary.Verified++
		}

		key, name := "(unclassified)", "(unclassified)"
		if t.CategoryID != nil {
			if c, ok := names[*t.CategoryID]; ok {
				key, name = c.Key, c.Name
			}
		} else {
			summary.Unclassified++
		}

		row, ok := rows[key]
		if !ok {
			row = &CategoryMonthRow{CategoryKey: key, CategoryName: name}
			rows[key] = row
		}
		row.MonthlyCents[t.PostedAt.Month()-1] += t.AbsAmountCents()
		row.TotalCents += t.AbsAmountCents()
		row.Count++
	}

	summary.Categories = make([]CategoryMonthRow, 0, len(rows))
	for _, row := range rows {
		summary.Categories = append(summary.Categories, *row)
	}
	sort.Slice(summary.Categories, func(i, j int) bool {
		a, b := summary.Categories[i], summary.Categories[j]
		if a.TotalCents != b.TotalCents {
			return a.TotalCents > b.TotalCents
		}
		return a.CategoryKey < b.CategoryKey
	})

	return summary
}
