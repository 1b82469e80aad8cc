package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/loamdev/loam/internal/errors"
)

// MemoryGateway is an in-process Gateway used for tests and offline
// runs (memory:// DSN). It applies the same filter, ordering, and
// pagination semantics the network backends promise.
type MemoryGateway struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		collections: make(map[string]map[string]Document),
	}
}

// List implements Gateway.
func (g *MemoryGateway) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	matched := make([]Document, 0)
	for _, doc := range g.collections[collection] {
		if matchesFilters(doc, q.Filters) {
			matched = append(matched, cloneDocument(doc))
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			c := compareValues(matched[i][q.OrderBy], matched[j][q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []Document{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Get implements Gateway.
func (g *MemoryGateway) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	doc, ok := g.collections[collection][id]
	if !ok {
		return nil, errors.NewNotFound(collection, id)
	}
	return cloneDocument(doc), nil
}

// Create implements Gateway.
func (g *MemoryGateway) Create(ctx context.Context, collection, id string, fields Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.collections[collection] == nil {
		g.collections[collection] = make(map[string]Document)
	}
	doc := cloneDocument(fields)
	doc["id"] = id
	g.collections[collection][id] = doc
	return cloneDocument(doc), nil
}

// Update implements Gateway. Only the given fields change.
func (g *MemoryGateway) Update(ctx context.Context, collection, id string, fields Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	doc, ok := g.collections[collection][id]
	if !ok {
		return nil, errors.NewNotFound(collection, id)
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	return cloneDocument(doc), nil
}

// Delete implements Gateway.
func (g *MemoryGateway) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return errors.NewNetworkFailure(err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.collections[collection][id]; !ok {
		return errors.NewNotFound(collection, id)
	}
	delete(g.collections[collection], id)
	return nil
}

// Close implements Gateway.
func (g *MemoryGateway) Close() error {
	return nil
}

// matchesFilters reports whether doc satisfies all filters.
func matchesFilters(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, present := doc[f.Field]
		switch f.Op {
		case OpEq:
			if !present || compareValues(v, f.Value) != 0 {
				return false
			}
		case OpNotNull:
			if !present || v == nil {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compareValues orders two document field values. JSON decoding yields
// float64 for numbers, so numeric comparison goes through float64;
// everything else compares as strings. nil sorts first.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, bs := toString(a), toString(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.(bool); ok {
		if b {
			return "true"
		}
		return "false"
	}
	return ""
}

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
