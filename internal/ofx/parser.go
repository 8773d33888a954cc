// Package ofx parses OFX/QFX statement files into ledger transactions.
// OFX import is a one-shot feed: it bypasses cursor sync entirely and
// relies on the (external_id, source) upsert for idempotent re-imports.
package ofx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/adambossy/tally/internal/model"
)

// Parser reads OFX/QFX statements.
type Parser struct{}

// NewParser creates an OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// preprocess fixes formatting quirks common in bank-exported OFX: leading
// blank lines, mixed-case SEVERITY values, and SGML tags missing their
// closing bracket.
func (p *Parser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// ParseFile parses one OFX/QFX statement into ledger transactions with
// Source set to "ofx". Statements that fail to convert are skipped with a
// warning rather than failing the whole file.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]model.LedgerTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var txns []model.LedgerTransaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		bankStmts++
		accountID := string(stmt.BankAcctFrom.AcctID)
		currency := stmt.CurDef.String()
		for _, ofxTx := range stmt.BankTranList.Transactions {
			txns = append(txns, p.convert(ofxTx, accountID, currency))
		}
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		ccStmts++
		accountID := string(stmt.CCAcctFrom.AcctID)
		currency := stmt.CurDef.String()
		for _, ofxTx := range stmt.BankTranList.Transactions {
			txns = append(txns, p.convert(ofxTx, accountID, currency))
		}
	}

	slog.Info("parsed OFX file",
		"transactions", len(txns),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)
	return txns, nil
}

// convert maps one OFX transaction onto the ledger model. OFX already uses
// negative amounts for debits, matching the ledger convention.
func (p *Parser) convert(ofxTx ofxgo.Transaction, accountID, currency string) model.LedgerTransaction {
	txn := model.LedgerTransaction{
		ExternalID:         string(ofxTx.FiTID),
		Source:             model.SourceOFX,
		AccountID:          accountID,
		PostedAt:           ofxTx.DtPosted.Time,
		AmountCents:        ratToCents(&ofxTx.TrnAmt.Rat),
		Currency:           currency,
		MerchantDescriptor: extractMerchantName(ofxTx),
	}
	if txn.Currency == "" {
		txn.Currency = "USD"
	}
	// Some institutions omit FITID; fall back to a digest of the fields
	// that identify the row so re-imports stay idempotent.
	if txn.ExternalID == "" {
		txn.ExternalID = syntheticID(&txn)
	}
	return txn
}

// ratToCents converts an exact OFX decimal amount to signed cents,
// rounding half away from zero.
func ratToCents(amount *big.Rat) int64 {
	cents := new(big.Rat).Mul(amount, big.NewRat(100, 1))
	f, _ := cents.Float64()
	if f < 0 {
		return int64(f - 0.5)
	}
	return int64(f + 0.5)
}

func syntheticID(txn *model.LedgerTransaction) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s",
		txn.AccountID,
		txn.PostedAt.UTC().Format("2006-01-02"),
		txn.AmountCents,
		txn.MerchantDescriptor)
	return "ofx-" + hex.EncodeToString(h.Sum(nil))[:16]
}

// extractMerchantName picks the cleanest descriptor the statement offers:
// PAYEE when present, otherwise NAME, with MEMO replacing a generic NAME.
func extractMerchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	prefixes := []string{
		"POS PURCHASE ",
		"PURCHASE AUTHORIZED ON ",
		"DEBIT CARD PURCHASE ",
		"ACH DEBIT ",
		"CHECK CARD ",
		"VISA PURCHASE ",
		"MC PURCHASE ",
		"DEBIT PURCHASE ",
	}
	upper := strings.ToUpper(name)
	for _, prefix := range prefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Strip a leading "MM/DD " date stamp.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}

func isGenericDescription(name string) bool {
	generic := []string{"DEBIT", "CREDIT", "PAYMENT", "PURCHASE", "POS", "ACH", "WITHDRAWAL", "DEPOSIT"}
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, g := range generic {
		if upper == g {
			return true
		}
	}
	return false
}
