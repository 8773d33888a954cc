package taxonomy

import (
	"errors"
	"testing"
)

func TestParseSeed(t *testing.T) {
	data := []byte(`
categories:
  - key: food
    name: Food
    description: Meals and groceries
    children:
      - key: groceries
        name: Groceries
      - key: food.restaurants
        name: Restaurants
  - key: transport
    name: Transport
`)

	tax, err := ParseSeed(data)
	if err != nil {
		t.Fatalf("ParseSeed() failed: %v", err)
	}

	if tax.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", tax.Len())
	}

	// Bare child suffixes are normalized under the root.
	groceries, ok := tax.Get("food.groceries")
	if !ok {
		t.Fatal("food.groceries missing after normalization")
	}
	if groceries.ParentKey != "food" {
		t.Errorf("groceries parent = %q, want food", groceries.ParentKey)
	}

	// Already-dotted child keys pass through.
	if !tax.Has("food.restaurants") {
		t.Error("food.restaurants missing")
	}

	food, _ := tax.Get("food")
	if food.Description != "Meals and groceries" {
		t.Errorf("food description = %q", food.Description)
	}
}

func TestParseSeed_RejectsDeepNesting(t *testing.T) {
	data := []byte(`
categories:
  - key: food
    name: Food
    children:
      - key: groceries
        name: Groceries
        children:
          - key: produce
            name: Produce
`)

	if _, err := ParseSeed(data); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ParseSeed() error = %v, want ErrInvalidKey", err)
	}
}

func TestParseSeed_InvalidYAML(t *testing.T) {
	if _, err := ParseSeed([]byte("categories: [")); err == nil {
		t.Error("ParseSeed() should fail on malformed YAML")
	}
}
