// Package store provides the interfaces for the two storage systems this
// module keeps in sync: the transactional versioned store (the source of
// truth) and the search replica (the denormalized read store), plus the
// resolver that routes reads between them.
package store

import (
	"errors"

	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("store")

var (
	// ErrNotFound means the object does not exist in the consulted store.
	ErrNotFound = errors.New("store: object not found")

	// ErrUnavailable means the store itself could not be reached. It must
	// never be collapsed into ErrNotFound; callers rely on the distinction.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrConflict means a replica write lost against an equal-or-newer
	// document version. Not a failure; callers treat it as idempotent
	// success.
	ErrConflict = errors.New("store: version conflict")

	// ErrLinksExist means a purge was refused because other objects still
	// link to the victim.
	ErrLinksExist = errors.New("store: object is still linked to")
)

// Object is a versioned property sheet held by the transactional store.
type Object struct {
	UUID       string                 `json:"uuid"`
	ItemType   string                 `json:"item_type"`
	Properties map[string]interface{} `json:"properties"`

	// Links maps a forward link field name to the uuids it targets.
	Links map[string][]string `json:"links"`

	UniqueKeys map[string]string `json:"unique_keys"`

	// Sid is the per-object write sequence number; MaxSid is the global
	// high-water mark captured when this sheet was written.
	Sid    int64 `json:"sid"`
	MaxSid int64 `json:"max_sid"`

	// Source names the store this handle was materialized from, either
	// StoreDatabase or StoreReplica. Not serialized; set by the resolver
	// and drivers.
	Source string `json:"-"`
}

// Document is the denormalized view of one object held by the search
// replica, valid only while its Sid matches the object's current sid.
type Document struct {
	UUID       string                 `json:"uuid"`
	ItemType   string                 `json:"item_type"`
	Properties map[string]interface{} `json:"properties"`

	// Embedded is the denormalized view with resolved link targets.
	Embedded map[string]interface{} `json:"embedded"`

	// Links holds forward links; LinkedUUIDs flattens every uuid reachable
	// through them and is what candidate discovery queries against.
	Links       map[string][]string `json:"links"`
	LinkedUUIDs []string            `json:"linked_uuids"`

	// RevLinkedToMe lists uuids that declare a forward link to this object,
	// keyed by reverse relation name.
	RevLinkedToMe map[string][]string `json:"rev_linked_to_me"`

	PrincipalsAllowed map[string][]string `json:"principals_allowed"`

	UniqueKeys map[string]string `json:"unique_keys"`

	Sid    int64 `json:"sid"`
	MaxSid int64 `json:"max_sid"`

	IndexedAt string `json:"indexed_at,omitempty"`
}

// Ref identifies an object together with its type, as returned by candidate
// discovery over the replica.
type Ref struct {
	UUID     string
	ItemType string
}

// Object converts a replica document into an object handle, so the resolver
// can hand back a uniform shape regardless of which store answered.
func (d *Document) Object() *Object {
	return &Object{
		UUID:       d.UUID,
		ItemType:   d.ItemType,
		Properties: d.Properties,
		Links:      d.Links,
		UniqueKeys: d.UniqueKeys,
		Sid:        d.Sid,
		MaxSid:     d.MaxSid,
		Source:     StoreReplica,
	}
}

// Versioned is the transactional store of record. Every write assigns a
// strictly increasing per-object sid and advances the global max_sid.
type Versioned interface {
	// GetByUUID returns the current property sheet, or ErrNotFound.
	GetByUUID(uuid string) (*Object, error)

	// GetSidsByUUIDs returns current sids keyed by uuid. Missing uuids are
	// simply absent from the result.
	GetSidsByUUIDs(uuids []string) (map[string]int64, error)

	// MaxSid returns the global high-water mark sequence number.
	MaxSid() (int64, error)

	// Update writes a new property sheet, assigning the next sid, and
	// returns the stored object.
	Update(uuid, itemType string, properties map[string]interface{},
		links map[string][]string, uniqueKeys map[string]string) (*Object, error)

	// Purge removes the object entirely.
	Purge(uuid string) error

	// Iterate returns the uuids of all objects of the given item types, or
	// of every object when no types are given.
	Iterate(itemTypes ...string) ([]string, error)
}

// Replica is the search-optimized document store. All of its contents are
// derived and can be rebuilt from the Versioned store at any time.
type Replica interface {
	// GetByUUID returns the stored document, or ErrNotFound.
	GetByUUID(uuid string) (*Document, error)

	// Update writes a document if it is not older than the stored one
	// (incoming sid >= stored sid). Returns ErrConflict when the stored
	// document is newer.
	Update(doc *Document) error

	// Purge removes the document. The boolean reports whether the document
	// is gone (true also when it never existed).
	Purge(uuid, itemType string) (bool, error)

	// RevLinks returns the uuids that declare a forward link named rel to
	// the given object, optionally restricted by item type.
	RevLinks(uuid, rel string, itemTypes ...string) ([]string, error)

	// FindLinking returns refs of every document whose linked_uuids
	// contain any of the given uuids.
	FindLinking(uuids []string) ([]Ref, error)

	// Iterate returns uuids of documents of the given item types, or all.
	Iterate(itemTypes ...string) ([]string, error)

	// PutRecord persists an operational record (such as an indexing run
	// result) under the given key, outside versioning.
	PutRecord(key string, value interface{}) error
}
