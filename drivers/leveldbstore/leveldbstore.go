// Package leveldbstore implements store.Versioned on a local LevelDB
// database. Property sheets are stored as JSON under an object prefix, and
// the global sid counter lives under a meta key. Writes serialize through a
// mutex, which keeps sid assignment transactional.
package leveldbstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/4dn-dcic/snovault-sub000/store"
	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("leveldbstore")

const (
	objectPrefix = "o:"
	counterKey   = "!max_sid"
)

type Store struct {
	db *leveldb.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		Filter: filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, fmt.Errorf("leveldbstore: open %s: %w", path, err)
	}
	log.WithField("path", path).Info("Database opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func objectKey(uuid string) []byte { return []byte(objectPrefix + uuid) }

func (s *Store) get(uuid string) (*store.Object, error) {
	val, err := s.db.Get(objectKey(uuid), nil)
	if err == leveldb.ErrNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldbstore: get %s: %w", uuid, err)
	}
	var obj store.Object
	if err := json.Unmarshal(val, &obj); err != nil {
		return nil, fmt.Errorf("leveldbstore: decode %s: %w", uuid, err)
	}
	obj.Source = store.StoreDatabase
	return &obj, nil
}

func (s *Store) GetByUUID(uuid string) (*store.Object, error) {
	return s.get(uuid)
}

func (s *Store) GetSidsByUUIDs(uuids []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, u := range uuids {
		obj, err := s.get(u)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[u] = obj.Sid
	}
	return out, nil
}

func (s *Store) maxSidLocked() (int64, error) {
	val, err := s.db.Get([]byte(counterKey), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("leveldbstore: counter: %w", err)
	}
	return strconv.ParseInt(string(val), 10, 64)
}

func (s *Store) MaxSid() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSidLocked()
}

func (s *Store) Update(uuid, itemType string, properties map[string]interface{},
	links map[string][]string, uniqueKeys map[string]string) (*store.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	max, err := s.maxSidLocked()
	if err != nil {
		return nil, err
	}
	max++
	obj := &store.Object{
		UUID:       uuid,
		ItemType:   itemType,
		Properties: properties,
		Links:      links,
		UniqueKeys: uniqueKeys,
		Sid:        max,
		MaxSid:     max,
	}
	val, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("leveldbstore: encode %s: %w", uuid, err)
	}

	batch := new(leveldb.Batch)
	batch.Put(objectKey(uuid), val)
	batch.Put([]byte(counterKey), []byte(strconv.FormatInt(max, 10)))
	if err := s.db.Write(batch, nil); err != nil {
		return nil, fmt.Errorf("leveldbstore: write %s: %w", uuid, err)
	}
	obj.Source = store.StoreDatabase
	return obj, nil
}

func (s *Store) Purge(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.get(uuid); err != nil {
		return err
	}
	if err := s.db.Delete(objectKey(uuid), nil); err != nil {
		return fmt.Errorf("leveldbstore: delete %s: %w", uuid, err)
	}
	return nil
}

func (s *Store) Iterate(itemTypes ...string) ([]string, error) {
	want := make(map[string]bool, len(itemTypes))
	for _, t := range itemTypes {
		want[t] = true
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(objectPrefix)), nil)
	defer iter.Release()

	var uuids []string
	for iter.Next() {
		var obj store.Object
		if err := json.Unmarshal(iter.Value(), &obj); err != nil {
			x.LogErr(log, err).WithField("key", string(iter.Key())).
				Error("Skipping undecodable sheet")
			continue
		}
		if len(want) == 0 || want[obj.ItemType] {
			uuids = append(uuids, obj.UUID)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldbstore: iterate: %w", err)
	}
	sort.Strings(uuids)
	return uuids, nil
}
