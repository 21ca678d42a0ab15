package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// uniqueFields lists the secondary unique keys each backend enforces.
var uniqueFields = map[string]string{
	"twins": "name",
}

// MemoryStore is an in-process Store. Documents are held as raw JSON so
// callers never share mutable state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
	closed      bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) collection(name string) map[string][]byte {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string][]byte)
		s.collections[name] = c
	}
	return c
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, collection, id string, out any) error {
	s.mu.RLock()
	raw, ok := s.collections[collection][id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, collection string, filter Filter, out any) error {
	if err := validateFilter(filter); err != nil {
		return err
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.collections[collection]))
	for id := range s.collections[collection] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	raws := make([][]byte, 0, len(ids))
	for _, id := range ids {
		raw := s.collections[collection][id]
		doc, err := parseDocument(raw)
		if err != nil {
			s.mu.RUnlock()
			return err
		}
		ok, err := matches(doc, filter)
		if err != nil {
			s.mu.RUnlock()
			return err
		}
		if ok {
			raws = append(raws, raw)
		}
	}
	s.mu.RUnlock()

	return decodeList(raws, out)
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, collection, id string, doc any) error {
	d, err := toDocument(doc)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	if _, exists := c[id]; exists {
		return ErrConflict
	}
	if err := s.checkUnique(collection, id, d); err != nil {
		return err
	}
	c[id] = raw
	return nil
}

// checkUnique must be called with the write lock held.
func (s *MemoryStore) checkUnique(collection, id string, doc Document) error {
	field, ok := uniqueFields[collection]
	if !ok {
		return nil
	}
	want, ok := lookup(doc, field)
	if !ok {
		return nil
	}
	for otherID, raw := range s.collections[collection] {
		if otherID == id {
			continue
		}
		other, err := parseDocument(raw)
		if err != nil {
			return err
		}
		if got, ok := lookup(other, field); ok && jsonEqual(got, want) {
			return ErrConflict
		}
	}
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, collection, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	merged, err := applyMergePatch(raw, patch)
	if err != nil {
		return err
	}
	doc, err := parseDocument(merged)
	if err != nil {
		return err
	}
	if err := s.checkUnique(collection, id, doc); err != nil {
		return err
	}
	s.collections[collection][id] = merged
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

// mutate runs fn against a decoded document under the write lock and
// stores the result if fn reports a change.
func (s *MemoryStore) mutate(collection, id string, fn func(Document) (bool, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.collections[collection][id]
	if !ok {
		return false, ErrNotFound
	}
	doc, err := parseDocument(raw)
	if err != nil {
		return false, err
	}
	changed, err := fn(doc)
	if err != nil || !changed {
		return false, err
	}
	updated, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encoding document: %w", err)
	}
	s.collections[collection][id] = updated
	return true, nil
}

// PushCapped implements Store.
func (s *MemoryStore) PushCapped(_ context.Context, collection, id, field string, value any, limit int) error {
	_, err := s.mutate(collection, id, func(doc Document) (bool, error) {
		return true, pushCapped(doc, field, value, limit)
	})
	return err
}

// AddToSet implements Store.
func (s *MemoryStore) AddToSet(_ context.Context, collection, id, field string, value any) (bool, error) {
	return s.mutate(collection, id, func(doc Document) (bool, error) {
		return addToSet(doc, field, value)
	})
}

// Pull implements Store.
func (s *MemoryStore) Pull(_ context.Context, collection, id, field string, match any) (bool, error) {
	return s.mutate(collection, id, func(doc Document) (bool, error) {
		return pull(doc, field, match)
	})
}

// HealthCheck implements Store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("docstore: memory store closed")
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
