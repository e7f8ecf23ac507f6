package kvstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process fake of Store, used by tests so the
// end-to-end turn scenarios run without a real database.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]map[string]Item
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]map[string]Item)}
}

func cloneItem(item Item) Item {
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (m *MemoryStore) Get(ctx context.Context, pk, sk string) (Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.items[pk]
	if !ok {
		return nil, false, nil
	}
	item, ok := bucket[sk]
	if !ok {
		return nil, false, nil
	}
	return cloneItem(item), true, nil
}

func (m *MemoryStore) Put(ctx context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(item)
}

func (m *MemoryStore) putLocked(item Item) error {
	pk, sk := item.PK(), item.SK()
	bucket, ok := m.items[pk]
	if !ok {
		bucket = make(map[string]Item)
		m.items[pk] = bucket
	}
	bucket[sk] = cloneItem(item)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, pk, sk string, partial Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.items[pk]
	var existing Item
	if ok {
		existing = cloneItem(bucket[sk])
	}
	if existing == nil {
		existing = Item{}
	}
	for k, v := range partial {
		existing[k] = v
	}
	existing["pk"] = pk
	existing["sk"] = sk
	return m.putLocked(existing)
}

func (m *MemoryStore) TransactWrite(ctx context.Context, puts []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range puts {
		if err := m.putLocked(item); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, q QueryInput) ([]Item, error) {
	m.mu.Lock()
	bucket := m.items[q.PK]
	items := make([]Item, 0, len(bucket))
	for _, item := range bucket {
		items = append(items, cloneItem(item))
	}
	m.mu.Unlock()

	key := func(item Item) string {
		if q.Index == "LSI1" {
			return stringField(item, "lsi1")
		}
		return item.SK()
	}

	sort.Slice(items, func(i, j int) bool {
		if q.ScanForward {
			return key(items[i]) < key(items[j])
		}
		return key(items[i]) > key(items[j])
	})

	if q.RangeMin != "" || q.RangeMax != "" {
		filtered := items[:0:0]
		for _, item := range items {
			k := key(item)
			if q.RangeMin != "" && k < q.RangeMin {
				continue
			}
			if q.RangeMax != "" && k > q.RangeMax {
				continue
			}
			filtered = append(filtered, item)
		}
		items = filtered
	}

	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

func (m *MemoryStore) Close() error { return nil }
