package model

import "time"

// OrderRecord is an itemized order from an external marketplace export.
// Orders are immutable reference data used only for reconciliation against
// ledger transactions.
type OrderRecord struct {
	OrderDate     time.Time
	OrderID       string
	Source        string
	Items         []OrderLineItem
	TotalCents    int64
	TaxCents      int64
	ShippingCents int64
}

// OrderLineItem is a single line of an order.
type OrderLineItem struct {
	OrderID        string
	SKU            string
	Description    string
	ID             int64
	UnitPriceCents int64
	Quantity       int
}

// OrderMatch records the reconciliation outcome for one order. A nil
// TransactionID means no ledger row matched within tolerance.
type OrderMatch struct {
	MatchedAt       time.Time
	TransactionID   *int64
	OrderID         string
	DateLagDays     int
	AmountDiffCents int64
}
