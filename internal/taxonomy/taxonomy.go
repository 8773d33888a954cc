// Package taxonomy implements the immutable two-level category snapshot and
// the validated structural operations that produce new snapshots.
package taxonomy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/adambossy/tally/internal/model"
)

// Validation errors returned by taxonomy operations.
var (
	ErrDuplicateKey  = errors.New("duplicate category key")
	ErrUnknownKey    = errors.New("unknown category key")
	ErrHasChildren   = errors.New("category has children")
	ErrUnknownParent = errors.New("unknown parent category")
	ErrNonRootParent = errors.New("parent is not a root category")
	ErrInvalidKey    = errors.New("malformed category key")
)

// Taxonomy is an immutable snapshot of the category hierarchy: a map of
// key to category plus a parent-to-children index. Every operation returns
// a freshly built snapshot and never mutates the receiver, so snapshots
// are safe for concurrent reads while a migration builds the next one.
type Taxonomy struct {
	byKey    map[string]model.Category
	children map[string][]string
	keys     []string
}

// SplitTarget describes one replacement category for a Split operation.
type SplitTarget struct {
	Key         string
	Name        string
	Description string
}

// New builds a snapshot from a flat category list, validating the complete
// invariant set: unique keys, well-formed keys, depth at most one, and
// child keys dotted under their root parent.
func New(categories []model.Category) (*Taxonomy, error) {
	byKey := make(map[string]model.Category, len(categories))
	for _, c := range categories {
		if c.Key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
		}
		if _, exists := byKey[c.Key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, c.Key)
		}
		byKey[c.Key] = c
	}

	children := make(map[string][]string)
	keys := make([]string, 0, len(byKey))
	for _, c := range byKey {
		keys = append(keys, c.Key)
		if c.IsRoot() {
			if model.IsChildKey(c.Key) {
				return nil, fmt.Errorf("%w: root key %q contains separator", ErrInvalidKey, c.Key)
			}
			continue
		}
		parent, ok := byKey[c.ParentKey]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParent, c.ParentKey)
		}
		if !parent.IsRoot() {
			return nil, fmt.Errorf("%w: %s", ErrNonRootParent, c.ParentKey)
		}
		if !strings.HasPrefix(c.Key, c.ParentKey+model.KeySeparator) {
			return nil, fmt.Errorf("%w: child key %q not dotted under parent %q", ErrInvalidKey, c.Key, c.ParentKey)
		}
		children[c.ParentKey] = append(children[c.ParentKey], c.Key)
	}

	sort.Strings(keys)
	for _, kids := range children {
		sort.Strings(kids)
	}

	return &Taxonomy{byKey: byKey, children: children, keys: keys}, nil
}

// Empty returns a snapshot with no categories.
func Empty() *Taxonomy {
	t, _ := New(nil)
	return t
}

// Len returns the number of categories in the snapshot.
func (t *Taxonomy) Len() int {
	return len(t.keys)
}

// Has reports whether a category key exists.
func (t *Taxonomy) Has(key string) bool {
	_, ok := t.byKey[key]
	return ok
}

// Get returns the category for a key.
func (t *Taxonomy) Get(key string) (model.Category, bool) {
	c, ok := t.byKey[key]
	return c, ok
}

// Keys returns all category keys in sorted order.
func (t *Taxonomy) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Categories returns all categories sorted by key.
func (t *Taxonomy) Categories() []model.Category {
	out := make([]model.Category, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, t.byKey[k])
	}
	return out
}

// Roots returns the root categories sorted by key.
func (t *Taxonomy) Roots() []model.Category {
	out := make([]model.Category, 0)
	for _, k := range t.keys {
		if c := t.byKey[k]; c.IsRoot() {
			out = append(out, c)
		}
	}
	return out
}

// Children returns the child categories of a root, sorted by key.
func (t *Taxonomy) Children(parentKey string) []model.Category {
	kids := t.children[parentKey]
	out := make([]model.Category, 0, len(kids))
	for _, k := range kids {
		out = append(out, t.byKey[k])
	}
	return out
}

// HasChildren reports whether any category has the given key as parent.
func (t *Taxonomy) HasChildren(key string) bool {
	return len(t.children[key]) > 0
}

// Fingerprint returns a deterministic serialization of the snapshot's
// structure, used as the taxonomy component of classification cache keys.
func (t *Taxonomy) Fingerprint() string {
	var b strings.Builder
	for _, k := range t.keys {
		c := t.byKey[k]
		b.WriteString(c.Key)
		b.WriteByte('|')
		b.WriteString(c.Name)
		b.WriteByte('|')
		b.WriteString(c.ParentKey)
		b.WriteByte('\n')
	}
	return b.String()
}

// Add returns a snapshot with a new category. A non-empty parentKey must
// reference an existing root.
func (t *Taxonomy) Add(key, name, parentKey, description string) (*Taxonomy, error) {
	if _, exists := t.byKey[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	if parentKey != "" {
		parent, ok := t.byKey[parentKey]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParent, parentKey)
		}
		if !parent.IsRoot() {
			return nil, fmt.Errorf("%w: %s", ErrNonRootParent, parentKey)
		}
	}

	cats := t.Categories()
	cats = append(cats, model.Category{
		Key:         key,
		Name:        name,
		Description: description,
		ParentKey:   parentKey,
	})
	return New(cats)
}

// Remove returns a snapshot without the given category. Categories with
// children cannot be removed; callers reassign dependent ledger rows
// before removing a node.
func (t *Taxonomy) Remove(key string) (*Taxonomy, error) {
	if _, ok := t.byKey[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if t.HasChildren(key) {
		return nil, fmt.Errorf("%w: %s", ErrHasChildren, key)
	}

	cats := make([]model.Category, 0, len(t.keys)-1)
	for _, c := range t.Categories() {
		if c.Key != key {
			cats = append(cats, c)
		}
	}
	return New(cats)
}

// Rename returns a snapshot with oldKey renamed to newKey. Renaming a root
// cascades: children are reparented to newKey and their dotted keys are
// rewritten under the new root prefix.
func (t *Taxonomy) Rename(oldKey, newKey string) (*Taxonomy, error) {
	if _, ok := t.byKey[oldKey]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, oldKey)
	}
	if _, exists := t.byKey[newKey]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, newKey)
	}

	oldPrefix := oldKey + model.KeySeparator
	cats := make([]model.Category, 0, len(t.keys))
	for _, c := range t.Categories() {
		switch {
		case c.Key == oldKey:
			c.Key = newKey
		case c.ParentKey == oldKey:
			c.ParentKey = newKey
			if strings.HasPrefix(c.Key, oldPrefix) {
				c.Key = newKey + model.KeySeparator + strings.TrimPrefix(c.Key, oldPrefix)
			}
		}
		cats = append(cats, c)
	}
	return New(cats)
}

// Merge returns a snapshot with the source categories removed. The target
// must already exist; sources must be leaves. Moving ledger rows off the
// sources is the caller's responsibility.
func (t *Taxonomy) Merge(sourceKeys []string, targetKey string) (*Taxonomy, error) {
	if _, ok := t.byKey[targetKey]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, targetKey)
	}

	drop := make(map[string]bool, len(sourceKeys))
	for _, key := range sourceKeys {
		if key == targetKey {
			return nil, fmt.Errorf("merge: source %q equals target", key)
		}
		if _, ok := t.byKey[key]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		if t.HasChildren(key) {
			return nil, fmt.Errorf("%w: %s", ErrHasChildren, key)
		}
		drop[key] = true
	}

	cats := make([]model.Category, 0, len(t.keys)-len(drop))
	for _, c := range t.Categories() {
		if !drop[c.Key] {
			cats = append(cats, c)
		}
	}
	return New(cats)
}

// Split returns a snapshot with the source category replaced by the given
// targets, each parented under the source's former parent.
func (t *Taxonomy) Split(sourceKey string, targets []SplitTarget) (*Taxonomy, error) {
	source, ok := t.byKey[sourceKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, sourceKey)
	}
	if t.HasChildren(sourceKey) {
		return nil, fmt.Errorf("%w: %s", ErrHasChildren, sourceKey)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("split: no targets for %s", sourceKey)
	}
	for _, target := range targets {
		if _, exists := t.byKey[target.Key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, target.Key)
		}
	}

	cats := make([]model.Category, 0, len(t.keys)-1+len(targets))
	for _, c := range t.Categories() {
		if c.Key != sourceKey {
			cats = append(cats, c)
		}
	}
	for _, target := range targets {
		cats = append(cats, model.Category{
			Key:         target.Key,
			Name:        target.Name,
			Description: target.Description,
			ParentKey:   source.ParentKey,
		})
	}
	return New(cats)
}
