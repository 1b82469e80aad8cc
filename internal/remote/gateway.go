// Package remote abstracts the durable document backend behind a
// generic store interface: list with field filters and one-field
// ordering, get/create/delete by id, and partial update. The sync
// engine is its only caller; which backend serves it is decided by the
// configured DSN scheme.
package remote

import (
	"context"
	"encoding/json"

	"github.com/loamdev/loam/internal/errors"
)

// Document is the wire representation of one entity: a flat JSON object.
type Document map[string]any

// Op is a filter operator.
type Op string

const (
	// OpEq matches documents whose field equals the filter value.
	OpEq Op = "eq"

	// OpNotNull matches documents whose field is present and non-null.
	OpNotNull Op = "not_null"
)

// Filter constrains a List call.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// NotNull builds a presence filter.
func NotNull(field string) Filter {
	return Filter{Field: field, Op: OpNotNull}
}

// Query describes a List call. Pagination is offset+limit; callers must
// tolerate item drift if the collection mutates between pages.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int // 0 means no limit
	Offset  int
}

// Gateway is the document-store interface the cache consumes. Every
// method is a suspension point: implementations own their own timeout
// policy, the cache layer adds none.
type Gateway interface {
	// List returns documents matching q, in q's ordering.
	List(ctx context.Context, collection string, q Query) ([]Document, error)

	// Get returns one document or a NOT_FOUND error.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Create stores a new document under id.
	Create(ctx context.Context, collection, id string, fields Document) (Document, error)

	// Update applies a partial update: only the given fields change,
	// concurrent writes to unrelated fields are not clobbered.
	Update(ctx context.Context, collection, id string, fields Document) (Document, error)

	// Delete removes one document. Deleting a missing document returns
	// a NOT_FOUND error.
	Delete(ctx context.Context, collection, id string) error

	// Close releases backend resources.
	Close() error
}

// Encode converts an entity to its wire document via JSON.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewInternal(err)
	}
	return doc, nil
}

// Decode converts a wire document back to a typed entity.
func Decode[T any](doc Document) (T, error) {
	var out T
	data, err := json.Marshal(doc)
	if err != nil {
		return out, errors.NewInternal(err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, errors.NewInternal(err)
	}
	return out, nil
}

// DecodeAll converts a document list to typed entities, preserving order.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := Decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
