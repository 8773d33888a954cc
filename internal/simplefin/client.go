// Package simplefin fetches transactions from a SimpleFIN bridge. Like
// OFX import it is a one-shot feed without cursor pagination; idempotency
// comes from the (external_id, source) upsert downstream.
package simplefin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adambossy/tally/internal/model"
)

// Client talks to a SimpleFIN access URL.
type Client struct {
	httpClient *http.Client
	accessURL  string
}

type accountSet struct {
	Accounts []account `json:"accounts"`
}

type account struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Currency     string        `json:"currency"`
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Payee       string `json:"payee"`
	Posted      int64  `json:"posted"`
	Pending     bool   `json:"pending"`
}

// NewClient creates a SimpleFIN client from a claim token, reusing a
// previously claimed access URL when one is saved.
func NewClient(token string) (*Client, error) {
	auth, err := LoadOrClaimAuth(token)
	if err != nil {
		return nil, err
	}
	return &Client{
		accessURL:  auth.AccessURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// claimToken exchanges a base64-encoded claim URL for an access URL.
func claimToken(token string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(token)
		if err != nil {
			return "", fmt.Errorf("failed to decode SimpleFIN token: %w", err)
		}
	}

	claimURL := string(decoded)
	if !strings.HasPrefix(claimURL, "http://") && !strings.HasPrefix(claimURL, "https://") {
		return "", fmt.Errorf("decoded token is not a URL: %s", claimURL)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Post(claimURL, "", nil)
	if err != nil {
		return "", fmt.Errorf("failed to claim access URL: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read claim response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("SimpleFIN claim failed: %d - %s", resp.StatusCode, string(body))
	}

	accessURL := strings.TrimSpace(string(body))
	if !strings.HasPrefix(accessURL, "http://") && !strings.HasPrefix(accessURL, "https://") {
		return "", fmt.Errorf("invalid access URL received: %s", accessURL)
	}
	return accessURL, nil
}

// GetTransactions fetches posted transactions in [start, end] across all
// linked accounts, mapped to ledger rows with Source "simplefin". Pending
// transactions are skipped; they change ids once they post.
func (c *Client) GetTransactions(ctx context.Context, start, end time.Time) ([]model.LedgerTransaction, error) {
	set, err := c.fetchAccounts(ctx, &start, &end)
	if err != nil {
		return nil, err
	}

	var txns []model.LedgerTransaction
	for _, acct := range set.Accounts {
		currency := acct.Currency
		if currency == "" {
			currency = "USD"
		}
		for _, tx := range acct.Transactions {
			if tx.Pending {
				continue
			}
			posted := time.Unix(tx.Posted, 0).UTC()
			if posted.Before(start) || posted.After(end) {
				continue
			}

			cents, err := parseAmountCents(tx.Amount)
			if err != nil {
				return nil, fmt.Errorf("failed to parse amount %q for %s: %w", tx.Amount, tx.ID, err)
			}

			merchant := tx.Payee
			if merchant == "" {
				merchant = tx.Description
			}

			txns = append(txns, model.LedgerTransaction{
				ExternalID:         acct.ID + "_" + tx.ID,
				Source:             model.SourceSimpleFIN,
				AccountID:          acct.ID,
				PostedAt:           posted,
				AmountCents:        cents,
				Currency:           currency,
				MerchantDescriptor: merchant,
			})
		}
	}
	return txns, nil
}

// GetAccounts returns the linked account ids.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	set, err := c.fetchAccounts(ctx, nil, nil)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(set.Accounts))
	for _, acct := range set.Accounts {
		ids = append(ids, acct.ID)
	}
	return ids, nil
}

func (c *Client) fetchAccounts(ctx context.Context, start, end *time.Time) (*accountSet, error) {
	u, err := url.Parse(c.accessURL + "/accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to parse access URL: %w", err)
	}

	q := u.Query()
	if start != nil {
		q.Set("start-date", strconv.FormatInt(start.Unix(), 10))
	}
	if end != nil {
		// SimpleFIN's end-date is exclusive.
		q.Set("end-date", strconv.FormatInt(end.AddDate(0, 0, 1).Unix(), 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("SimpleFIN API error: %d - %s", resp.StatusCode, string(body))
	}

	var set accountSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &set, nil
}

// parseAmountCents converts a SimpleFIN decimal dollar string to signed
// cents. Negative amounts are debits, matching the ledger convention.
func parseAmountCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}

	var centsPart int64
	switch {
	case len(frac) == 0:
	case len(frac) == 1:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, err
		}
		centsPart = d * 10
	default:
		d, err := strconv.ParseInt(frac[:2], 10, 64)
		if err != nil {
			return 0, err
		}
		centsPart = d
	}

	cents := dollars*100 + centsPart
	if neg {
		cents = -cents
	}
	return cents, nil
}
