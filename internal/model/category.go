// Package model defines the core domain types shared across the application.
package model

import (
	"strings"
	"time"
)

// KeySeparator joins a root key and a child suffix into a dotted child key.
const KeySeparator = "."

// Category represents a single node in the two-level category taxonomy.
// Root categories have an empty ParentKey; child categories carry a dotted
// key of the form "<root>.<child>" and reference their root via ParentKey.
type Category struct {
	CreatedAt   time.Time
	Key         string
	Name        string
	Description string
	ParentKey   string
	ID          int64
}

// IsRoot reports whether the category is a root node.
func (c *Category) IsRoot() bool {
	return c.ParentKey == ""
}

// RootOf returns the root portion of a dotted category key. For a root key
// it returns the key itself.
func RootOf(key string) string {
	if i := strings.Index(key, KeySeparator); i >= 0 {
		return key[:i]
	}
	return key
}

// ChildKey builds the dotted key for a child of the given root.
func ChildKey(rootKey, suffix string) string {
	return rootKey + KeySeparator + suffix
}

// IsChildKey reports whether the key is in dotted child form.
func IsChildKey(key string) bool {
	return strings.Contains(key, KeySeparator)
}
