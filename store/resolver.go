package store

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store names used with Resolver.Get's force argument.
const (
	StoreDatabase = "database"
	StoreReplica  = "replica"
)

const handleCacheSize = 4096

// Resolver routes reads to whichever store is authoritative for a given
// operation. The indexing path forces the database, since it must read
// ground truth; read-serving paths prefer the replica and fall back to the
// database on a miss. Handles are cached per uuid; a cached handle that was
// materialized from a different store than the caller now prefers is
// invalidated and re-fetched, since serving from the wrong store is a
// correctness bug.
type Resolver struct {
	write Versioned
	read  Replica

	// preferred is the default read store when no force is given.
	preferred string

	cache *lru.Cache[string, *Object]
}

// NewResolver builds a resolver over the two stores. read may be nil when no
// replica is configured, in which case all reads go to the database.
func NewResolver(write Versioned, read Replica) *Resolver {
	preferred := StoreDatabase
	if read != nil {
		preferred = StoreReplica
	}
	cache, err := lru.New[string, *Object](handleCacheSize)
	if err != nil {
		// only reachable with a non-positive size constant
		panic(err)
	}
	return &Resolver{
		write:     write,
		read:      read,
		preferred: preferred,
		cache:     cache,
	}
}

// Write exposes the underlying transactional store.
func (r *Resolver) Write() Versioned { return r.write }

// Read exposes the underlying replica store, or nil.
func (r *Resolver) Read() Replica { return r.read }

func (r *Resolver) pick(force string) (string, error) {
	switch force {
	case "":
		return r.preferred, nil
	case StoreDatabase:
		return StoreDatabase, nil
	case StoreReplica:
		if r.read == nil {
			return "", fmt.Errorf("forced store %q is not configured: %w", force, ErrUnavailable)
		}
		return StoreReplica, nil
	default:
		return "", fmt.Errorf("invalid forced store %q, must be %q or %q",
			force, StoreDatabase, StoreReplica)
	}
}

// Get returns the object by uuid. force may be empty (use the preferred
// store), StoreDatabase or StoreReplica. A replica miss falls back to the
// database unless the replica was forced. ErrUnavailable always propagates;
// it is never treated as absence.
func (r *Resolver) Get(uuid string, force string) (*Object, error) {
	target, err := r.pick(force)
	if err != nil {
		return nil, err
	}

	// Only replica reads are served from the cache. Database reads are
	// ground truth for the indexing path and always hit the store; a cached
	// handle materialized from the wrong store is dropped, not served.
	if target == StoreReplica {
		if cached, ok := r.cache.Get(uuid); ok {
			if cached.Source == StoreReplica {
				return cached, nil
			}
			r.cache.Remove(uuid)
		}
	}

	var obj *Object
	switch target {
	case StoreReplica:
		doc, rerr := r.read.GetByUUID(uuid)
		if rerr == nil {
			obj = doc.Object()
			break
		}
		if !errors.Is(rerr, ErrNotFound) {
			return nil, rerr
		}
		// miss in the replica: fall back to ground truth
		obj, err = r.write.GetByUUID(uuid)
		if err != nil {
			return nil, err
		}
		obj.Source = StoreDatabase
	case StoreDatabase:
		obj, err = r.write.GetByUUID(uuid)
		if err != nil {
			return nil, err
		}
		obj.Source = StoreDatabase
	}

	if obj.Source == StoreReplica {
		r.cache.Add(uuid, obj)
	}
	return obj, nil
}

// Update writes new properties, links and unique keys for the object to the
// transactional store, which assigns the next sid. Any cached handle for the
// uuid is dropped.
func (r *Resolver) Update(uuid, itemType string, properties map[string]interface{},
	links map[string][]string, uniqueKeys map[string]string) (*Object, error) {
	obj, err := r.write.Update(uuid, itemType, properties, links, uniqueKeys)
	if err != nil {
		return nil, err
	}
	r.cache.Remove(uuid)
	return obj, nil
}

// Purge deletes the object from both stores. It refuses (ErrLinksExist) when
// other replica documents still link to the victim, and aborts before
// touching the database when the replica deletion fails. Returns true when
// the object is gone from every configured store.
func (r *Resolver) Purge(uuid, itemType string) (bool, error) {
	if r.read != nil {
		linking, err := r.read.FindLinking([]string{uuid})
		if err != nil {
			return false, err
		}
		for _, ref := range linking {
			if ref.UUID != uuid {
				log.WithField("uuid", uuid).WithField("linked_by", ref.UUID).
					Warn("Refusing purge, object is still linked to")
				return false, ErrLinksExist
			}
		}
		ok, err := r.read.Purge(uuid, itemType)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("replica deletion of %s unsuccessful, aborting purge", uuid)
		}
	}
	if err := r.write.Purge(uuid); err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	r.cache.Remove(uuid)
	return true, nil
}

// Iterate returns object uuids of the given item types from the preferred
// store.
func (r *Resolver) Iterate(itemTypes ...string) ([]string, error) {
	if r.preferred == StoreReplica {
		return r.read.Iterate(itemTypes...)
	}
	return r.write.Iterate(itemTypes...)
}
