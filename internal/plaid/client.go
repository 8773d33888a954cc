// Package plaid provides a client for the Plaid transactions sync API.
package plaid

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"

	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
)

// maxPageSize is Plaid's documented ceiling for transactions/sync count.
const maxPageSize = 500

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
	PageSize    int
}

// Validate ensures all fields needed for syncing are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("plaid client ID is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("plaid secret is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("plaid access token is required")
	}
	if c.Environment == "" {
		return fmt.Errorf("plaid environment is required")
	}
	if c.Environment != "sandbox" && c.Environment != "production" {
		return fmt.Errorf("invalid Plaid environment: must be sandbox or production")
	}
	return nil
}

// Client fetches ledger pages from Plaid's transactions/sync endpoint.
type Client struct {
	client      *plaid.APIClient
	logger      *slog.Logger
	accessToken string
	environment string
	retryOpts   service.RetryOptions
	pageSize    int32
}

// NewClient creates a new Plaid client. The access token is not required
// here so the Link flow can bootstrap one.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("plaid client ID is required")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("plaid secret is required")
	}
	if cfg.Environment == "" {
		return nil, fmt.Errorf("plaid environment is required")
	}
	if cfg.Environment != "sandbox" && cfg.Environment != "production" {
		return nil, fmt.Errorf("invalid Plaid environment: must be sandbox or production")
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &Client{
		client:      plaid.NewAPIClient(configuration),
		accessToken: cfg.AccessToken,
		environment: cfg.Environment,
		pageSize:    int32(pageSize),
		logger:      slog.Default().With("component", "plaid"),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// SyncTransactions fetches one page of ledger changes after cursor. It does
// not paginate on its own; callers loop while HasMore is set so they control
// what happens between pages. A mutation-during-pagination response surfaces
// as common.ErrMutationDuringPagination without retrying.
func (c *Client) SyncTransactions(ctx context.Context, cursor string) (*model.SyncPage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if c.accessToken == "" {
		return nil, fmt.Errorf("plaid access token is required")
	}

	var page *model.SyncPage
	retryErr := common.WithRetry(ctx, func() error {
		request := plaid.NewTransactionsSyncRequest(c.accessToken)
		if cursor != "" {
			request.SetCursor(cursor)
		}
		request.SetCount(c.pageSize)

		resp, _, err := c.client.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*request).Execute()
		if err != nil {
			if plaidErr := extractPlaidError(err); plaidErr != nil {
				return c.classifySyncError(plaidErr, err)
			}
			return fmt.Errorf("transactions sync failed: %w", err)
		}

		page = &model.SyncPage{
			NextCursor: resp.GetNextCursor(),
			HasMore:    resp.GetHasMore(),
		}
		for _, removed := range resp.GetRemoved() {
			page.RemovedIDs = append(page.RemovedIDs, removed.GetTransactionId())
		}
		for _, pt := range resp.GetAdded() {
			page.Added = append(page.Added, c.mapTransaction(pt))
		}
		for _, pt := range resp.GetModified() {
			page.Modified = append(page.Modified, c.mapTransaction(pt))
		}

		c.logger.Debug("fetched sync page",
			"added", len(page.Added),
			"modified", len(page.Modified),
			"removed", len(page.RemovedIDs),
			"has_more", page.HasMore)
		return nil
	}, c.retryOpts)
	if retryErr != nil {
		return nil, retryErr
	}

	return page, nil
}

// classifySyncError maps Plaid error codes onto the retry contract: rate
// limits retry, pagination mutations abort immediately for the caller to
// restart, everything else keeps the default retry behavior.
func (c *Client) classifySyncError(plaidErr *plaid.PlaidError, err error) error {
	switch plaidErr.ErrorCode {
	case "RATE_LIMIT_EXCEEDED":
		c.logger.Warn("rate limit hit, will retry", "error", plaidErr.ErrorMessage)
		return &common.RetryableError{Err: err, Retryable: true}
	case "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION":
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: %s", common.ErrMutationDuringPagination, plaidErr.ErrorMessage),
			Retryable: false,
		}
	default:
		return fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage)
	}
}

// GetAccounts fetches account IDs for the linked item.
func (c *Client) GetAccounts(ctx context.Context) ([]string, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}

	var accounts []plaid.AccountBase
	retryErr := common.WithRetry(ctx, func() error {
		request := plaid.NewAccountsGetRequest(c.accessToken)
		resp, _, err := c.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		if err != nil {
			if plaidErr := extractPlaidError(err); plaidErr != nil {
				if plaidErr.ErrorCode == "RATE_LIMIT_EXCEEDED" {
					c.logger.Warn("rate limit hit, will retry", "error", plaidErr.ErrorMessage)
					return &common.RetryableError{Err: err, Retryable: true}
				}
				return fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage)
			}
			return fmt.Errorf("failed to fetch accounts: %w", err)
		}
		accounts = resp.GetAccounts()
		return nil
	}, c.retryOpts)
	if retryErr != nil {
		return nil, retryErr
	}

	ids := make([]string, 0, len(accounts))
	for _, account := range accounts {
		ids = append(ids, account.GetAccountId())
	}
	return ids, nil
}

// mapTransaction converts a Plaid transaction to a ledger row. Plaid
// reports dollar amounts with positive meaning money out; the ledger keeps
// signed cents with negative meaning money out.
func (c *Client) mapTransaction(pt plaid.Transaction) model.LedgerTransaction {
	postedAt, err := time.Parse("2006-01-02", pt.GetDate())
	if err != nil {
		c.logger.Error("failed to parse transaction date", "date", pt.GetDate(), "error", err)
		postedAt = time.Now().UTC()
	}

	merchant := pt.GetMerchantName()
	if merchant == "" {
		merchant = pt.GetName()
	}

	return model.LedgerTransaction{
		ExternalID:         pt.GetTransactionId(),
		Source:             model.SourcePlaid,
		AccountID:          pt.GetAccountId(),
		PostedAt:           postedAt,
		AmountCents:        -dollarsToCents(pt.GetAmount()),
		Currency:           currencyOrDefault(pt.GetIsoCurrencyCode(), pt.GetUnofficialCurrencyCode()),
		MerchantDescriptor: cleanMerchantName(merchant),
		MerchantID:         pt.GetMerchantEntityId(),
	}
}

// dollarsToCents converts a float dollar amount to integer cents, rounding
// half away from zero to absorb float representation error.
func dollarsToCents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}

func currencyOrDefault(iso, unofficial string) string {
	if iso != "" {
		return iso
	}
	if unofficial != "" {
		return unofficial
	}
	return "USD"
}

// cleanMerchantName normalizes a raw descriptor: title case, trailing
// reference numbers stripped, corporate suffixes removed.
func cleanMerchantName(name string) string {
	words := strings.Fields(strings.ToLower(name))
	for i, word := range words {
		runes := []rune(word)
		for j := range runes {
			if j == 0 || !isLetter(runes[j-1]) {
				runes[j] = toUpper(runes[j])
			}
		}
		words[i] = string(runes)
	}

	// A trailing run of six or more digits is a reference number, not part
	// of the merchant name.
	if n := len(words); n > 1 {
		last := words[n-1]
		if len(last) > 5 && isAllDigits(last) {
			words = words[:n-1]
		}
	}
	name = strings.Join(words, " ")

	suffixes := []string{" Llc", " Inc", " Corp", " Corporation", " Company", " Co", " Ltd", " Limited"}
	for changed := true; changed; {
		changed = false
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSuffix(name, suffix)
				changed = true
			}
		}
	}

	return strings.TrimSpace(name)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 32
	}
	return r
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

// CreateLinkToken creates a Link token for the Plaid Link flow.
func (c *Client) CreateLinkToken(ctx context.Context) (string, error) {
	user := plaid.LinkTokenCreateRequestUser{
		ClientUserId: "tally-user-" + time.Now().Format("20060102150405"),
	}

	request := plaid.NewLinkTokenCreateRequest(
		"Tally",
		"en",
		[]plaid.CountryCode{plaid.COUNTRYCODE_US},
		user,
	)
	request.SetProducts([]plaid.Products{plaid.PRODUCTS_TRANSACTIONS})

	// OAuth banks require the redirect URI registered in the Plaid
	// dashboard; sandbox links without one.
	if c.environment == "production" {
		request.SetRedirectUri("https://localhost:8080/")
	}

	resp, _, err := c.client.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		if plaidErr := extractPlaidError(err); plaidErr != nil {
			return "", fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage)
		}
		return "", fmt.Errorf("failed to create link token: %w", err)
	}

	return resp.GetLinkToken(), nil
}

// ExchangePublicToken exchanges a public token from Link for an access
// token and the item ID it belongs to.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	request := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, _, err := c.client.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*request).Execute()
	if err != nil {
		if plaidErr := extractPlaidError(err); plaidErr != nil {
			return "", "", fmt.Errorf("plaid API error: %s - %s", plaidErr.ErrorCode, plaidErr.ErrorMessage)
		}
		return "", "", fmt.Errorf("failed to exchange public token: %w", err)
	}

	return resp.GetAccessToken(), resp.GetItemId(), nil
}

// Ensure Client implements TransactionSyncer interface.
var _ TransactionSyncer = (*Client)(nil)
