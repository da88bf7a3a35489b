// Package badgerstore implements store.Versioned on Badger. It mirrors
// leveldbstore's layout (JSON sheets under an object prefix, the sid
// counter under a meta key) but leans on Badger's transactions instead of a
// mutex for counter assignment.
package badgerstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/4dn-dcic/snovault-sub000/store"
	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("badgerstore")

const (
	objectPrefix = "o:"
	counterKey   = "!max_sid"
)

type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at path. An empty path opens an
// in-memory database, which is handy for tests.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", path, err)
	}
	log.WithField("path", path).Info("Database opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func objectKey(uuid string) []byte { return []byte(objectPrefix + uuid) }

func getObject(txn *badger.Txn, uuid string) (*store.Object, error) {
	item, err := txn.Get(objectKey(uuid))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badgerstore: get %s: %w", uuid, err)
	}
	var obj store.Object
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &obj)
	}); err != nil {
		return nil, fmt.Errorf("badgerstore: decode %s: %w", uuid, err)
	}
	obj.Source = store.StoreDatabase
	return &obj, nil
}

func getCounter(txn *badger.Txn) (int64, error) {
	item, err := txn.Get([]byte(counterKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("badgerstore: counter: %w", err)
	}
	var max int64
	if err := item.Value(func(val []byte) error {
		max, err = strconv.ParseInt(string(val), 10, 64)
		return err
	}); err != nil {
		return 0, err
	}
	return max, nil
}

func (s *Store) GetByUUID(uuid string) (*store.Object, error) {
	var obj *store.Object
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		obj, err = getObject(txn, uuid)
		return err
	})
	return obj, err
}

func (s *Store) GetSidsByUUIDs(uuids []string) (map[string]int64, error) {
	out := make(map[string]int64)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, u := range uuids {
			obj, err := getObject(txn, u)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out[u] = obj.Sid
		}
		return nil
	})
	return out, err
}

func (s *Store) MaxSid() (int64, error) {
	var max int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		max, err = getCounter(txn)
		return err
	})
	return max, err
}

func (s *Store) Update(uuid, itemType string, properties map[string]interface{},
	links map[string][]string, uniqueKeys map[string]string) (*store.Object, error) {
	var obj *store.Object
	err := s.db.Update(func(txn *badger.Txn) error {
		max, err := getCounter(txn)
		if err != nil {
			return err
		}
		max++
		obj = &store.Object{
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
			return fmt.Errorf("badgerstore: encode %s: %w", uuid, err)
		}
		if err := txn.Set(objectKey(uuid), val); err != nil {
			return err
		}
		return txn.Set([]byte(counterKey), []byte(strconv.FormatInt(max, 10)))
	})
	if err != nil {
		return nil, err
	}
	obj.Source = store.StoreDatabase
	return obj, nil
}

func (s *Store) Purge(uuid string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getObject(txn, uuid); err != nil {
			return err
		}
		return txn.Delete(objectKey(uuid))
	})
}

func (s *Store) Iterate(itemTypes ...string) ([]string, error) {
	want := make(map[string]bool, len(itemTypes))
	for _, t := range itemTypes {
		want[t] = true
	}
	var uuids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(objectPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var obj store.Object
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &obj)
			}); err != nil {
				x.LogErr(log, err).WithField("key", string(it.Item().Key())).
					Error("Skipping undecodable sheet")
				continue
			}
			if len(want) == 0 || want[obj.ItemType] {
				uuids = append(uuids, obj.UUID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(uuids)
	return uuids, nil
}
