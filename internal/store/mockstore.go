package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockStore is the in-memory stand-in for the relational backend, selected
// when no database DSN is configured. It mirrors the relational contract
// exactly: updated_at-descending ordering, NotFound on update of a missing
// id, forgiving delete, "Untitled" name default. State lives only for the
// life of the process.
//
// Unlike its ancestor this is a constructed object handed to callers, not a
// package-level map.
type MockStore struct {
	mu    sync.RWMutex
	items map[string]map[string]Item // collection → id → item
}

func NewMockStore() *MockStore {
	return &MockStore{items: map[string]map[string]Item{}}
}

func (s *MockStore) GetAll(ctx context.Context, collection string) ([]Item, error) {
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.items[collection]
	items := make([]Item, 0, len(byID))
	for _, it := range byID {
		items = append(items, cloneItem(it))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt == items[j].UpdatedAt {
			return items[i].ID < items[j].ID
		}
		return items[i].UpdatedAt > items[j].UpdatedAt
	})
	return items, nil
}

func (s *MockStore) GetOne(ctx context.Context, collection, id string) (Item, error) {
	if err := validateCollectionName(collection); err != nil {
		return Item{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if it, ok := s.items[collection][id]; ok {
		return cloneItem(it), nil
	}
	return Item{}, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
}

func (s *MockStore) Create(ctx context.Context, collection string, fields map[string]any) (Item, error) {
	if err := validateCollectionName(collection); err != nil {
		return Item{}, err
	}
	item := itemFromMap(fields)
	if item.ID == "" {
		item.ID = NewItemID()
	}
	applyDefaultName(&item)
	now := NowTimestamp()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[collection] == nil {
		s.items[collection] = map[string]Item{}
	}
	s.items[collection][item.ID] = cloneItem(item)
	return item, nil
}

func (s *MockStore) Update(ctx context.Context, collection, id string, patch map[string]any) (Item, error) {
	if err := validateCollectionName(collection); err != nil {
		return Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[collection][id]
	if !ok {
		return Item{}, fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	merged := mergePatch(existing, patch)
	merged.ID = id
	merged.UpdatedAt = NowTimestamp()
	s.items[collection][id] = cloneItem(merged)
	return merged, nil
}

func (s *MockStore) Delete(ctx context.Context, collection, id string) (DeleteResult, error) {
	if err := validateCollectionName(collection); err != nil {
		return DeleteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[collection], id)
	return DeleteResult{OK: true, ID: id}, nil
}

func (s *MockStore) Close() error {
	return nil
}

func cloneItem(it Item) Item {
	clone := it
	clone.Fields = make(map[string]any, len(it.Fields))
	for k, v := range it.Fields {
		clone.Fields[k] = v
	}
	return clone
}
