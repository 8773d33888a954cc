package model

import (
	"fmt"
	"time"
)

// Transaction sources. Source is part of the natural key, so each ingestion
// path must use a stable identifier.
const (
	SourcePlaid     = "plaid"
	SourceOFX       = "ofx"
	SourceSimpleFIN = "simplefin"
	SourceManual    = "manual"
)

// LedgerTransaction is a single transaction observed from a feed. Rows are
// unique on (ExternalID, Source). AmountCents is signed: negative for money
// leaving the account, positive for money coming in.
type LedgerTransaction struct {
	PostedAt           time.Time
	ExternalID         string
	Source             string
	AccountID          string
	Currency           string
	MerchantDescriptor string
	MerchantID         string
	CategoryID         *int64
	Confidence         *float64
	ID                 int64
	AmountCents        int64
	IsVerified         bool
}

// NaturalKey returns the (source, external id) identity used for upserts
// and log correlation.
func (t *LedgerTransaction) NaturalKey() string {
	return t.Source + ":" + t.ExternalID
}

// AbsAmountCents returns the magnitude of the transaction amount.
func (t *LedgerTransaction) AbsAmountCents() int64 {
	if t.AmountCents < 0 {
		return -t.AmountCents
	}
	return t.AmountCents
}

// FormatCents renders a cent amount as a dollar string, e.g. -1234 -> "-$12.34".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
