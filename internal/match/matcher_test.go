package match

import (
	"testing"
	"time"

	"github.com/adambossy/tally/internal/model"
)

func makeOrder(id string, totalCents int64, date string) model.OrderRecord {
	d, _ := time.Parse("2006-01-02", date)
	return model.OrderRecord{
		OrderID:    id,
		TotalCents: totalCents,
		OrderDate:  d,
	}
}

func makeRow(id int64, amountCents int64, posted string) model.LedgerTransaction {
	d, _ := time.Parse("2006-01-02", posted)
	return model.LedgerTransaction{
		ID:          id,
		AmountCents: amountCents,
		PostedAt:    d,
	}
}

func TestMatch_ExactAmountAndDate(t *testing.T) {
	orders := []model.OrderRecord{makeOrder("o1", 1000, "2025-01-01")}
	rows := []model.LedgerTransaction{makeRow(1, -1000, "2025-01-01")}

	results := Match(orders, rows, DefaultConfig())

	r := results["o1"]
	if r == nil {
		t.Fatal("expected a match")
	}
	if r.TransactionID != 1 {
		t.Errorf("TransactionID = %d, want 1", r.TransactionID)
	}
	if r.DateLagDays != 0 || r.AmountDiffCents != 0 {
		t.Errorf("lag=%d diff=%d, want 0/0", r.DateLagDays, r.AmountDiffCents)
	}
}

func TestMatch_AmountTolerance(t *testing.T) {
	tests := []struct {
		name      string
		rowAmount int64
		wantMatch bool
	}{
		{name: "within tolerance", rowAmount: -1049, wantMatch: true},
		{name: "at tolerance boundary", rowAmount: -1050, wantMatch: true},
		{name: "beyond tolerance", rowAmount: -1051, wantMatch: false},
		{name: "positive row amount compares by magnitude", rowAmount: 1000, wantMatch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := []model.OrderRecord{makeOrder("o1", 1000, "2025-01-01")}
			rows := []model.LedgerTransaction{makeRow(1, tt.rowAmount, "2025-01-02")}

			r := Match(orders, rows, DefaultConfig())["o1"]
			if (r != nil) != tt.wantMatch {
				t.Errorf("match = %v, wantMatch %v", r, tt.wantMatch)
			}
		})
	}
}

func TestMatch_DateWindow(t *testing.T) {
	tests := []struct {
		name      string
		posted    string
		wantMatch bool
	}{
		{name: "same day", posted: "2025-01-01", wantMatch: true},
		{name: "within lag", posted: "2025-01-15", wantMatch: true},
		{name: "at lag boundary", posted: "2025-01-31", wantMatch: true},
		{name: "beyond lag", posted: "2025-02-01", wantMatch: false},
		{name: "row predates order", posted: "2024-12-31", wantMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := []model.OrderRecord{makeOrder("o1", 1000, "2025-01-01")}
			rows := []model.LedgerTransaction{makeRow(1, -1000, tt.posted)}

			r := Match(orders, rows, DefaultConfig())["o1"]
			if (r != nil) != tt.wantMatch {
				t.Errorf("match = %v, wantMatch %v", r, tt.wantMatch)
			}
		})
	}
}

func TestMatch_SmallestLagWins(t *testing.T) {
	orders := []model.OrderRecord{makeOrder("o1", 1000, "2025-01-01")}
	rows := []model.LedgerTransaction{
		makeRow(1, -1000, "2025-01-10"),
		makeRow(2, -1000, "2025-01-03"),
		makeRow(3, -1000, "2025-01-20"),
	}

	r := Match(orders, rows, DefaultConfig())["o1"]
	if r == nil || r.TransactionID != 2 {
		t.Fatalf("match = %+v, want row 2 (smallest lag)", r)
	}
	if r.DateLagDays != 2 {
		t.Errorf("DateLagDays = %d, want 2", r.DateLagDays)
	}
}

func TestMatch_TieBrokenByInputOrder(t *testing.T) {
	orders := []model.OrderRecord{makeOrder("o1", 1000, "2025-01-01")}
	rows := []model.LedgerTransaction{
		makeRow(7, -1000, "2025-01-05"),
		makeRow(8, -1000, "2025-01-05"),
	}

	r := Match(orders, rows, DefaultConfig())["o1"]
	if r == nil || r.TransactionID != 7 {
		t.Fatalf("match = %+v, want first row on tie", r)
	}
}

func TestMatch_RowConsumedOnce(t *testing.T) {
	// Two identical orders compete for one row: the first (by input
	// order) wins, the second maps to nil.
	orders := []model.OrderRecord{
		makeOrder("o1", 1000, "2025-01-01"),
		makeOrder("o2", 1000, "2025-01-03"),
	}
	rows := []model.LedgerTransaction{makeRow(1, -1000, "2025-01-02")}

	results := Match(orders, rows, DefaultConfig())

	if r := results["o1"]; r == nil || r.TransactionID != 1 {
		t.Fatalf("o1 match = %+v, want row 1", r)
	}
	if r := results["o2"]; r != nil {
		t.Errorf("o2 match = %+v, want nil", r)
	}
}

func TestMatch_Exclusivity(t *testing.T) {
	orders := []model.OrderRecord{
		makeOrder("o1", 1000, "2025-01-01"),
		makeOrder("o2", 2000, "2025-01-01"),
		makeOrder("o3", 1000, "2025-01-02"),
	}
	rows := []model.LedgerTransaction{
		makeRow(1, -1000, "2025-01-02"),
		makeRow(2, -2000, "2025-01-03"),
		makeRow(3, -1000, "2025-01-04"),
	}

	results := Match(orders, rows, DefaultConfig())

	seen := make(map[int64]string)
	for orderID, r := range results {
		if r == nil {
			continue
		}
		if prev, dup := seen[r.TransactionID]; dup {
			t.Errorf("row %d matched to both %s and %s", r.TransactionID, prev, orderID)
		}
		seen[r.TransactionID] = orderID
	}
}

func TestToOrderMatches(t *testing.T) {
	orders := []model.OrderRecord{
		makeOrder("o1", 1000, "2025-01-01"),
		makeOrder("o2", 5000, "2025-01-01"),
	}
	rows := []model.LedgerTransaction{makeRow(1, -1000, "2025-01-02")}

	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	matches := ToOrderMatches(orders, Match(orders, rows, DefaultConfig()), now)

	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].OrderID != "o1" || matches[0].TransactionID == nil || *matches[0].TransactionID != 1 {
		t.Errorf("matches[0] = %+v, want o1 -> row 1", matches[0])
	}
	if matches[1].OrderID != "o2" || matches[1].TransactionID != nil {
		t.Errorf("matches[1] = %+v, want o2 unmatched", matches[1])
	}
	if !matches[0].MatchedAt.Equal(now) {
		t.Errorf("MatchedAt = %v, want %v", matches[0].MatchedAt, now)
	}
}
