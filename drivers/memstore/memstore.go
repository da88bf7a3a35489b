// Package memstore is an in-memory store.Versioned used by the example
// server and the test suites.
package memstore

import (
	"sort"
	"sync"

	"github.com/4dn-dcic/snovault-sub000/store"
)

// Store keeps property sheets in a map guarded by a mutex. Sids come from a
// single counter, so each object's sid doubles as a global ordering.
type Store struct {
	mu      sync.Mutex
	objects map[string]*store.Object
	counter int64
}

func New() *Store {
	return &Store{objects: make(map[string]*store.Object)}
}

func (s *Store) GetByUUID(uuid string) (*store.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[uuid]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *obj
	cp.Source = store.StoreDatabase
	return &cp, nil
}

func (s *Store) GetSidsByUUIDs(uuids []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for _, u := range uuids {
		if obj, ok := s.objects[u]; ok {
			out[u] = obj.Sid
		}
	}
	return out, nil
}

func (s *Store) MaxSid() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter, nil
}

func (s *Store) Update(uuid, itemType string, properties map[string]interface{},
	links map[string][]string, uniqueKeys map[string]string) (*store.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	obj := &store.Object{
		UUID:       uuid,
		ItemType:   itemType,
		Properties: properties,
		Links:      links,
		UniqueKeys: uniqueKeys,
		Sid:        s.counter,
		MaxSid:     s.counter,
	}
	s.objects[uuid] = obj
	cp := *obj
	cp.Source = store.StoreDatabase
	return &cp, nil
}

func (s *Store) Purge(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[uuid]; !ok {
		return store.ErrNotFound
	}
	delete(s.objects, uuid)
	return nil
}

func (s *Store) Iterate(itemTypes ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(itemTypes))
	for _, t := range itemTypes {
		want[t] = true
	}
	var uuids []string
	for u, obj := range s.objects {
		if len(want) == 0 || want[obj.ItemType] {
			uuids = append(uuids, u)
		}
	}
	sort.Strings(uuids)
	return uuids, nil
}
