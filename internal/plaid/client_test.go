package plaid

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adambossy/tally/internal/common"
	"github.com/adambossy/tally/internal/model"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		config  Config
		name    string
		errMsg  string
		wantErr bool
	}{
		{
			name: "valid config",
			config: Config{
				ClientID:    "test-client-id",
				Secret:      "test-secret",
				Environment: "sandbox",
				AccessToken: "test-token",
			},
			wantErr: false,
		},
		{
			name: "missing client ID",
			config: Config{
				Secret:      "test-secret",
				Environment: "sandbox",
				AccessToken: "test-token",
			},
			wantErr: true,
			errMsg:  "plaid client ID is required",
		},
		{
			name: "missing secret",
			config: Config{
				ClientID:    "test-client-id",
				Environment: "sandbox",
				AccessToken: "test-token",
			},
			wantErr: true,
			errMsg:  "plaid secret is required",
		},
		{
			name: "missing access token",
			config: Config{
				ClientID:    "test-client-id",
				Secret:      "test-secret",
				Environment: "sandbox",
			},
			wantErr: true,
			errMsg:  "plaid access token is required",
		},
		{
			name: "missing environment",
			config: Config{
				ClientID:    "test-client-id",
				Secret:      "test-secret",
				AccessToken: "test-token",
			},
			wantErr: true,
			errMsg:  "plaid environment is required",
		},
		{
			name: "invalid environment",
			config: Config{
				ClientID:    "test-client-id",
				Secret:      "test-secret",
				Environment: "development",
				AccessToken: "test-token",
			},
			wantErr: true,
			errMsg:  "invalid Plaid environment",
		},
		{
			name: "valid production environment",
			config: Config{
				ClientID:    "test-client-id",
				Secret:      "test-secret",
				Environment: "production",
				AccessToken: "test-token",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	t.Run("valid config creates client", func(t *testing.T) {
		client, err := NewClient(Config{
			ClientID:    "test-client-id",
			Secret:      "test-secret",
			Environment: "sandbox",
			AccessToken: "test-token",
		})
		require.NoError(t, err)
		assert.NotNil(t, client.client)
		assert.Equal(t, "test-token", client.accessToken)
		assert.Equal(t, int32(maxPageSize), client.pageSize)
		assert.NotNil(t, client.logger)
	})

	t.Run("access token is optional for the link flow", func(t *testing.T) {
		client, err := NewClient(Config{
			ClientID:    "test-client-id",
			Secret:      "test-secret",
			Environment: "sandbox",
		})
		require.NoError(t, err)
		assert.Empty(t, client.accessToken)
	})

	t.Run("missing secret returns error", func(t *testing.T) {
		client, err := NewClient(Config{ClientID: "test-client-id", Environment: "sandbox"})
		require.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("page size is clamped", func(t *testing.T) {
		client, err := NewClient(Config{
			ClientID:    "test-client-id",
			Secret:      "test-secret",
			Environment: "sandbox",
			PageSize:    100,
		})
		require.NoError(t, err)
		assert.Equal(t, int32(100), client.pageSize)

		client, err = NewClient(Config{
			ClientID:    "test-client-id",
			Secret:      "test-secret",
			Environment: "sandbox",
			PageSize:    9999,
		})
		require.NoError(t, err)
		assert.Equal(t, int32(maxPageSize), client.pageSize)
	})
}

func TestSyncTransactions_Validation(t *testing.T) {
	client := &Client{logger: slog.Default().With("component", "plaid-test")}

	var nilCtx context.Context
	_, err := client.SyncTransactions(nilCtx, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cannot be nil")

	_, err = client.SyncTransactions(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token is required")
}

func TestClassifySyncError(t *testing.T) {
	client := &Client{logger: slog.Default().With("component", "plaid-test")}
	apiErr := errors.New("http 400")

	t.Run("rate limit is retryable", func(t *testing.T) {
		err := client.classifySyncError(&plaid.PlaidError{
			ErrorCode:    "RATE_LIMIT_EXCEEDED",
			ErrorMessage: "slow down",
		}, apiErr)

		var retryable *common.RetryableError
		require.True(t, errors.As(err, &retryable))
		assert.True(t, retryable.Retryable)
	})

	t.Run("pagination mutation aborts without retry", func(t *testing.T) {
		err := client.classifySyncError(&plaid.PlaidError{
			ErrorCode:    "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION",
			ErrorMessage: "underlying data changed",
		}, apiErr)

		assert.True(t, errors.Is(err, common.ErrMutationDuringPagination))
		var retryable *common.RetryableError
		require.True(t, errors.As(err, &retryable))
		assert.False(t, retryable.Retryable)
	})

	t.Run("other codes pass through", func(t *testing.T) {
		err := client.classifySyncError(&plaid.PlaidError{
			ErrorCode:    "INVALID_ACCESS_TOKEN",
			ErrorMessage: "bad token",
		}, apiErr)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "plaid API error: INVALID_ACCESS_TOKEN")
		assert.False(t, errors.Is(err, common.ErrMutationDuringPagination))
	})
}

func TestMapTransaction(t *testing.T) {
	client := &Client{logger: slog.Default().With("component", "plaid-test")}

	var pt plaid.Transaction
	pt.SetTransactionId("txn-1")
	pt.SetAccountId("acc-1")
	pt.SetDate("2025-03-10")
	pt.SetName("STARBUCKS STORE 123456789")
	pt.SetAmount(12.34)

	row := client.mapTransaction(pt)
	assert.Equal(t, "txn-1", row.ExternalID)
	assert.Equal(t, model.SourcePlaid, row.Source)
	assert.Equal(t, "acc-1", row.AccountID)
	assert.Equal(t, "2025-03-10", row.PostedAt.Format("2006-01-02"))
	// Plaid positive amounts are debits; the ledger stores them negative.
	assert.Equal(t, int64(-1234), row.AmountCents)
	assert.Equal(t, "USD", row.Currency)
	assert.Equal(t, "Starbucks Store", row.MerchantDescriptor)

	t.Run("merchant name preferred over raw descriptor", func(t *testing.T) {
		pt.SetMerchantName("Starbucks")
		pt.SetIsoCurrencyCode("EUR")
		pt.SetAmount(-50.00)

		row := client.mapTransaction(pt)
		assert.Equal(t, "Starbucks", row.MerchantDescriptor)
		assert.Equal(t, "EUR", row.Currency)
		assert.Equal(t, int64(5000), row.AmountCents)
	})
}

func TestDollarsToCents(t *testing.T) {
	tests := []struct {
		dollars  float64
		expected int64
	}{
		{0, 0},
		{12.34, 1234},
		{-5.5, -550},
		{19.99, 1999},
		{0.1 + 0.2, 30},
		{-0.005, -1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, dollarsToCents(tt.dollars), "dollars=%v", tt.dollars)
	}
}

func TestCleanMerchantName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "basic name",
			input:    "Starbucks",
			expected: "Starbucks",
		},
		{
			name:     "lowercase to title case",
			input:    "starbucks coffee",
			expected: "Starbucks Coffee",
		},
		{
			name:     "remove LLC suffix",
			input:    "Amazon LLC",
			expected: "Amazon",
		},
		{
			name:     "remove Inc suffix",
			input:    "Apple Inc",
			expected: "Apple",
		},
		{
			name:     "remove transaction ID",
			input:    "PAYPAL 123456789",
			expected: "Paypal",
		},
		{
			name:     "preserve short numbers",
			input:    "7-ELEVEN 2345",
			expected: "7-Eleven 2345",
		},
		{
			name:     "multiple cleanups",
			input:    "amazon.com llc 987654321",
			expected: "Amazon.Com",
		},
		{
			name:     "extra spaces",
			input:    "  Google   Cloud   ",
			expected: "Google Cloud",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cleanMerchantName(tt.input))
		})
	}
}

func TestIsAllDigits(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"123456", true},
		{"000000", true},
		{"12a456", false},
		{"", true},
		{"12.34", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, isAllDigits(tt.input), "input=%q", tt.input)
	}
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()

	page, err := mock.SyncTransactions(context.Background(), "cur-1")
	require.NoError(t, err)
	assert.Equal(t, "cur-1", page.NextCursor)
	assert.False(t, page.HasMore)

	expected := &model.SyncPage{
		NextCursor: "cur-2",
		HasMore:    true,
		Added:      []model.LedgerTransaction{{ExternalID: "txn-1", Source: model.SourcePlaid}},
	}
	mock.SyncTransactionsFn = func(_ context.Context, _ string) (*model.SyncPage, error) {
		return expected, nil
	}

	page, err = mock.SyncTransactions(context.Background(), "cur-1")
	require.NoError(t, err)
	assert.Equal(t, expected, page)
	assert.Equal(t, []string{"cur-1", "cur-1"}, mock.SyncCursors)

	mock.Reset()
	assert.Empty(t, mock.SyncCursors)
}
