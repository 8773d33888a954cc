package storage

import (
	"context"
	"testing"
)

func TestCursorLifecycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cur, err := store.GetCursor(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetCursor failed: %v", err)
	}
	if cur != nil {
		t.Errorf("Expected no cursor before first save, got %+v", cur)
	}

	if err := store.SaveCursor(ctx, "item-1", "c1"); err != nil {
		t.Fatalf("SaveCursor failed: %v", err)
	}
	if err := store.SaveCursor(ctx, "item-1", "c2"); err != nil {
		t.Fatalf("SaveCursor overwrite failed: %v", err)
	}

	cur, err = store.GetCursor(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetCursor failed: %v", err)
	}
	if cur == nil || cur.Cursor != "c2" {
		t.Errorf("Expected cursor c2, got %+v", cur)
	}

	if err := store.DeleteCursor(ctx, "item-1"); err != nil {
		t.Fatalf("DeleteCursor failed: %v", err)
	}
	cur, err = store.GetCursor(ctx, "item-1")
	if err != nil {
		t.Fatalf("GetCursor after delete failed: %v", err)
	}
	if cur != nil {
		t.Errorf("Expected cursor cleared, got %+v", cur)
	}

	// Deleting an absent cursor is a no-op.
	if err := store.DeleteCursor(ctx, "item-1"); err != nil {
		t.Errorf("DeleteCursor on missing cursor failed: %v", err)
	}
}
