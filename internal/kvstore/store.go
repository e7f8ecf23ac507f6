// Package kvstore provides the single keyed table the core persists
// into: composite key (PK, SK), one secondary ordering index (LSI1),
// atomic multi-item transactions, and forward/reverse paged queries.
// It is the concrete stand-in for the "key-value store" external
// collaborator the rest of the system persists through.
package kvstore

import (
	"context"
)

// Item is a single record. Every item must carry "pk" and "sk" string
// values; "lsi1" is optional and, when present, is the sort value for
// the LSI1 index.
type Item map[string]interface{}

// PK returns the item's partition key, or "" if absent/wrong type.
func (i Item) PK() string { return stringField(i, "pk") }

// SK returns the item's sort key, or "" if absent/wrong type.
func (i Item) SK() string { return stringField(i, "sk") }

func stringField(i Item, key string) string {
	v, ok := i[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// QueryInput selects a range of items sharing a partition key.
type QueryInput struct {
	PK string

	// Index selects the ordering index. "" queries by (PK,SK) order.
	// "LSI1" queries by the lsi1 sort value.
	Index string

	// Limit caps the number of items returned. Limit == 0 means
	// "return everything," paging internally until exhausted (the
	// paged-scan-when-limit-is-zero behavior session listing relies on).
	Limit int

	// ScanForward selects ascending (true) or descending (false) order
	// on the chosen sort value. Session listing scans
	// LSI1 in reverse-chronological order, i.e. ScanForward=false.
	ScanForward bool

	// RangeMin/RangeMax optionally bound the sort value (inclusive),
	// used for time-range session listing.
	RangeMin string
	RangeMax string
}

// Store is the keyed table contract consumed by the core.
type Store interface {
	// Get fetches a single item. ok is false if no such item exists.
	Get(ctx context.Context, pk, sk string) (item Item, ok bool, err error)

	// Put inserts or replaces an item wholesale.
	Put(ctx context.Context, item Item) error

	// Update applies a partial field set to an existing item, leaving
	// every other field untouched. It is an upsert: if the item does
	// not exist, the partial set becomes the whole item.
	Update(ctx context.Context, pk, sk string, partial Item) error

	// TransactWrite persists every item in puts atomically: a reader
	// observes either all of them or none of them. Used for the
	// Message Store's appendPair so a toolUse item
	// never exists without its toolResult.
	TransactWrite(ctx context.Context, puts []Item) error

	// Query returns items for one partition, ordered per QueryInput.
	Query(ctx context.Context, q QueryInput) ([]Item, error)

	// Close releases underlying resources.
	Close() error
}
