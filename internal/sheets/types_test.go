package sheets

import (
	"testing"
	"time"

	"github.com/adambossy/tally/internal/model"
)

func ledgerRow(id int64, day int, cents int64, categoryID *int64, verified bool) model.LedgerTransaction {
	return model.LedgerTransaction{
		ID:                 id,
		ExternalID:         "ext-" + string(rune('a'+id)),
		Source:             model.SourcePlaid,
		PostedAt:           time.Date(2024, time.Month(1+day/28), 1+day%28, 0, 0, 0, 0, time.UTC),
		AmountCents:        cents,
		MerchantDescriptor: "merchant",
		CategoryID:         categoryID,
		IsVerified:         verified,
	}
}

func TestBuildSummary(t *testing.T) {
	groceries := int64(1)
	travel := int64(2)
	categories := []model.Category{
		{ID: groceries, Key: "food.groceries", Name: "Groceries"},
		{ID: travel, Key: "travel", Name: "Travel"},
	}
	txns := []model.LedgerTransaction{
		ledgerRow(1, 0, -1500, &groceries, true),
		ledgerRow(2, 1, -2500, &groceries, false),
		ledgerRow(3, 30, -40000, &travel, false),
		ledgerRow(4, 2, 10000, nil, false),
	}

	s := BuildSummary(txns, categories)

	if s.Transactions != 4 {
		t.Errorf("Transactions = %d, want 4", s.Transactions)
	}
	if s.TotalInflowCents != 10000 {
		t.Errorf("TotalInflowCents = %d, want 10000", s.TotalInflowCents)
	}
	if s.TotalOutflowCents != 44000 {
		t.Errorf("TotalOutflowCents = %d, want 44000", s.TotalOutflowCents)
	}
	if s.Verified != 1 {
		t.Errorf("Verified = %d, want 1", s.Verified)
	}
	if s.Unclassified != 1 {
		t.Errorf("Unclassified = %d, want 1", s.Unclassified)
	}

	if len(s.Categories) != 3 {
		t.Fatalf("len(Categories) = %d, want 3", len(s.Categories))
	}
	// Sorted by absolute total, largest first.
	if s.Categories[0].CategoryKey != "travel" {
		t.Errorf("largest category = %q, want travel", s.Categories[0].CategoryKey)
	}
	if s.Categories[0].MonthlyCents[time.February-1] != 40000 {
		t.Errorf("travel February total = %d, want 40000", s.Categories[0].MonthlyCents[time.February-1])
	}

	var grocery *CategoryMonthRow
	for i := range s.Categories {
		if s.Categories[i].CategoryKey == "food.groceries" {
			grocery = &s.Categories[i]
		}
	}
	if grocery == nil {
		t.Fatal("expected a food.groceries row")
	}
	if grocery.TotalCents != 4000 || grocery.Count != 2 {
		t.Errorf("groceries total = %d count = %d, want 4000 and 2", grocery.TotalCents, grocery.Count)
	}
}

func TestBuildSummaryEmpty(t *testing.T) {
	s := BuildSummary(nil, nil)
	if s.Transactions != 0 || len(s.Categories) != 0 {
		t.Errorf("empty summary should have no rows, got %+v", s)
	}
}
