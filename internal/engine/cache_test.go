package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adambossy/tally/internal/model"
)

func TestResultCache(t *testing.T) {
	results := []model.ClassificationResult{
		{TransactionIndex: 0, CategoryKey: "food.groceries", Confidence: 0.9},
		{TransactionIndex: 1, CategoryKey: "transport", Confidence: 0.8},
	}

	t.Run("round trips entries", func(t *testing.T) {
		cache := newResultCache(time.Minute)
		defer cache.Close()

		_, ok := cache.get("k")
		assert.False(t, ok)

		cache.set("k", results)
		got, ok := cache.get("k")
		require.True(t, ok)
		assert.Equal(t, results, got)
		assert.Equal(t, 1, cache.size())
	})

	t.Run("returns independent copies", func(t *testing.T) {
		cache := newResultCache(time.Minute)
		defer cache.Close()
		cache.set("k", results)

		first, ok := cache.get("k")
		require.True(t, ok)
		first[0].TransactionIndex = 500
		first[0].CategoryKey = "mutated"

		second, ok := cache.get("k")
		require.True(t, ok)
		assert.Equal(t, 0, second[0].TransactionIndex)
		assert.Equal(t, "food.groceries", second[0].CategoryKey)
	})

	t.Run("does not alias the stored slice", func(t *testing.T) {
		cache := newResultCache(time.Minute)
		defer cache.Close()

		input := append([]model.ClassificationResult(nil), results...)
		cache.set("k", input)
		input[1].CategoryKey = "mutated"

		got, ok := cache.get("k")
		require.True(t, ok)
		assert.Equal(t, "transport", got[1].CategoryKey)
	})

	t.Run("expires entries after the TTL", func(t *testing.T) {
		cache := newResultCache(10 * time.Millisecond)
		defer cache.Close()

		cache.set("k", results)
		_, ok := cache.get("k")
		require.True(t, ok)

		time.Sleep(25 * time.Millisecond)
		_, ok = cache.get("k")
		assert.False(t, ok)
	})
}
