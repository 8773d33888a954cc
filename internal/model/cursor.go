package model

import "time"

// SyncCursor is the opaque pagination token persisted per upstream item.
// It advances only after every classification batch covering the pages up
// to that point has been persisted.
type SyncCursor struct {
	UpdatedAt time.Time
	ItemID    string
	Cursor    string
}

// SyncPage is one page of a cursor-based feed. Added and Modified rows are
// both upserted by the consumer; RemovedIDs name transactions the upstream
// deleted since the previous cursor.
type SyncPage struct {
	NextCursor string
	Added      []LedgerTransaction
	Modified   []LedgerTransaction
	RemovedIDs []string
	HasMore    bool
}
