package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
)

// transactionDigest pins the transaction fields that influence
// classification. Mutable bookkeeping (row id, category, verification) is
// excluded so re-syncing identical feed data hits the cache.
type transactionDigest struct {
	ExternalID  string `json:"external_id"`
	Source      string `json:"source"`
	PostedAt    string `json:"posted_at"`
	Currency    string `json:"currency"`
	Merchant    string `json:"merchant"`
	MerchantID  string `json:"merchant_id"`
	AmountCents int64  `json:"amount_cents"`
}

type vocabularyDigest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// contentHash derives the deterministic cache key for one batch from the
// transactions, the taxonomy fingerprint, the vocabulary presented to the
// model, and the model identifier. Any change to any component yields a
// different key.
func contentHash(batch []model.LedgerTransaction, taxonomyFingerprint string, vocabulary []service.VocabularyEntry, modelID string) string {
	payload := struct {
		Taxonomy     string              `json:"taxonomy"`
		ModelID      string              `json:"model_id"`
		Transactions []transactionDigest `json:"transactions"`
		Vocabulary   []vocabularyDigest  `json:"vocabulary"`
	}{
		Taxonomy:     taxonomyFingerprint,
		ModelID:      modelID,
		Transactions: make([]transactionDigest, len(batch)),
		Vocabulary:   make([]vocabularyDigest, len(vocabulary)),
	}

	for i, txn := range batch {
		payload.Transactions[i] = transactionDigest{
			ExternalID:  txn.ExternalID,
			Source:      txn.Source,
			PostedAt:    txn.PostedAt.UTC().Format(time.RFC3339),
			Currency:    txn.Currency,
			Merchant:    txn.MerchantDescriptor,
			MerchantID:  txn.MerchantID,
			AmountCents: txn.AmountCents,
		}
	}
	for i, entry := range vocabulary {
		payload.Vocabulary[i] = vocabularyDigest{
			Key:         entry.Key,
			Name:        entry.Name,
			Description: entry.Description,
		}
	}

	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
