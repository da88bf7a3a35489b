// Package memsearch is an in-memory store.Replica used by the example
// server and the test suites. It enforces the same write-if-not-older rule
// as the Elasticsearch driver.
package memsearch

import (
	"sort"
	"sync"

	"github.com/4dn-dcic/snovault-sub000/store"
)

type Search struct {
	mu      sync.Mutex
	docs    map[string]*store.Document
	records map[string]interface{}
}

func New() *Search {
	return &Search{
		docs:    make(map[string]*store.Document),
		records: make(map[string]interface{}),
	}
}

func (s *Search) GetByUUID(uuid string) (*store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uuid]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

// Update applies the write-if-not-older rule: a document carrying a sid
// lower than the stored one loses with ErrConflict, equal or newer wins.
func (s *Search) Update(doc *store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.docs[doc.UUID]; ok && cur.Sid > doc.Sid {
		return store.ErrConflict
	}
	cp := *doc
	s.docs[doc.UUID] = &cp
	return nil
}

func (s *Search) Purge(uuid, itemType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, uuid)
	return true, nil
}

func (s *Search) RevLinks(uuid, rel string, itemTypes ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(itemTypes))
	for _, t := range itemTypes {
		want[t] = true
	}
	var out []string
	for _, doc := range s.docs {
		if len(want) > 0 && !want[doc.ItemType] {
			continue
		}
		for _, target := range doc.Links[rel] {
			if target == uuid {
				out = append(out, doc.UUID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Search) FindLinking(uuids []string) ([]store.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		want[u] = true
	}
	var out []store.Ref
	for _, doc := range s.docs {
		for _, linked := range doc.LinkedUUIDs {
			if want[linked] {
				out = append(out, store.Ref{UUID: doc.UUID, ItemType: doc.ItemType})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (s *Search) Iterate(itemTypes ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(itemTypes))
	for _, t := range itemTypes {
		want[t] = true
	}
	var uuids []string
	for u, doc := range s.docs {
		if len(want) == 0 || want[doc.ItemType] {
			uuids = append(uuids, u)
		}
	}
	sort.Strings(uuids)
	return uuids, nil
}

func (s *Search) PutRecord(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = value
	return nil
}

// Record returns a stored operational record, for status reads and tests.
func (s *Search) Record(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[key]
	return v, ok
}
