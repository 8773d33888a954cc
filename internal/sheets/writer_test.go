package sheets

import (
	"log/slog"
	"testing"
	"time"

	"github.com/adambossy/tally/internal/model"
)

func TestPrepareExportData(t *testing.T) {
	groceries := int64(1)
	conf := 0.92
	categories := []model.Category{
		{ID: groceries, Key: "food.groceries", Name: "Groceries"},
	}
	txns := []model.LedgerTransaction{
		{
			ExternalID:         "older",
			Source:             model.SourceOFX,
			PostedAt:           time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			AmountCents:        -1250,
			MerchantDescriptor: "Corner Store",
			CategoryID:         &groceries,
			Confidence:         &conf,
			IsVerified:         true,
		},
		{
			ExternalID:         "newer",
			Source:             model.SourcePlaid,
			PostedAt:           time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
			AmountCents:        -3000,
			MerchantDescriptor: "Big Grocer",
			CategoryID:         &groceries,
		},
	}

	w := &Writer{config: DefaultConfig(), logger: slog.Default()}
	values := w.prepareExportData(txns, categories, BuildSummary(txns, categories))

	if len(values) == 0 {
		t.Fatal("no rows prepared")
	}
	if values[0][0] != "Tally Ledger" {
		t.Errorf("title cell = %v", values[0][0])
	}

	// Transaction detail rows come last, newest first.
	last := values[len(values)-1]
	secondLast := values[len(values)-2]
	if secondLast[1] != "Big Grocer" || last[1] != "Corner Store" {
		t.Errorf("detail rows out of order: %v then %v", secondLast[1], last[1])
	}
	if last[2] != -12.5 {
		t.Errorf("amount cell = %v, want -12.5", last[2])
	}
	if last[3] != "Groceries" {
		t.Errorf("category cell = %v", last[3])
	}
	if last[5] != "yes" {
		t.Errorf("verified cell = %v, want yes", last[5])
	}
	if last[6] != "0.92" {
		t.Errorf("confidence cell = %v, want 0.92", last[6])
	}
	if secondLast[5] != "" || secondLast[6] != "" {
		t.Errorf("unverified row should have blank verified/confidence cells, got %v %v", secondLast[5], secondLast[6])
	}
}

func TestDollars(t *testing.T) {
	if got := dollars(-1234); got != -12.34 {
		t.Errorf("dollars(-1234) = %v", got)
	}
	if got := dollars(0); got != 0 {
		t.Errorf("dollars(0) = %v", got)
	}
}
