package catalog

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/cases"
)

// foldString case-folds for caseless comparisons. Casers carry state, so
// each call gets its own.
func foldString(s string) string {
	return cases.Fold().String(s)
}

// Resolver maps free-form channel identifiers to catalog channels.
// Lookup order: static catalog by id, then guide-sourced catalog by number.
// The Resolver performs no I/O beyond reading the catalog store.
type Resolver struct {
	store *Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the channel for an id or number. Returns ErrNotFound when
// neither lookup matches.
func (r *Resolver) Resolve(ctx context.Context, idOrNumber string) (*Channel, error) {
	key := strings.TrimSpace(idOrNumber)
	if key == "" {
		return nil, ErrNotFound
	}

	if ch, err := r.store.GetByID(ctx, key); err == nil {
		return ch, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if isNumeric(key) {
		return r.store.GetByNumber(ctx, key)
	}
	return nil, ErrNotFound
}

// List returns every channel in the catalog.
func (r *Resolver) List(ctx context.Context) ([]Channel, error) {
	return r.store.List(ctx)
}

// FoldEqual reports whether two strings are equal under case folding.
func FoldEqual(a, b string) bool {
	return foldString(a) == foldString(b)
}

// FoldString returns s case-folded.
func FoldString(s string) string {
	return foldString(s)
}

// FoldContains reports whether s contains substr under case folding.
func FoldContains(s, substr string) bool {
	return strings.Contains(foldString(s), foldString(substr))
}

// isNumeric accepts guide-style channel numbers, including dotted
// subchannels like "5.1".
func isNumeric(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
		default:
			return false
		}
	}
	return digits > 0
}
