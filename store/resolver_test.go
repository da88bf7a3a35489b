package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/snovault-sub000/drivers/memsearch"
	"github.com/4dn-dcic/snovault-sub000/drivers/memstore"
	"github.com/4dn-dcic/snovault-sub000/store"
)

func seed(t *testing.T) (*memstore.Store, *memsearch.Search, *store.Resolver) {
	t.Helper()
	db := memstore.New()
	search := memsearch.New()
	r := store.NewResolver(db, search)

	obj, err := db.Update("a", "Foo", map[string]interface{}{"name": "db"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, search.Update(&store.Document{
		UUID:       "a",
		ItemType:   "Foo",
		Properties: map[string]interface{}{"name": "replica"},
		Sid:        obj.Sid,
	}))
	return db, search, r
}

func TestGetPrefersReplica(t *testing.T) {
	_, _, r := seed(t)
	obj, err := r.Get("a", "")
	require.NoError(t, err)
	require.Equal(t, store.StoreReplica, obj.Source)
	require.Equal(t, "replica", obj.Properties["name"])
}

func TestGetForceDatabase(t *testing.T) {
	_, _, r := seed(t)
	obj, err := r.Get("a", store.StoreDatabase)
	require.NoError(t, err)
	require.Equal(t, store.StoreDatabase, obj.Source)
	require.Equal(t, "db", obj.Properties["name"])
}

func TestStaleStoreHandleInvalidated(t *testing.T) {
	_, _, r := seed(t)
	// materialize from the replica, then demand the database: the cached
	// replica handle must not leak through
	_, err := r.Get("a", "")
	require.NoError(t, err)
	obj, err := r.Get("a", store.StoreDatabase)
	require.NoError(t, err)
	require.Equal(t, store.StoreDatabase, obj.Source)
}

func TestReplicaMissFallsBack(t *testing.T) {
	db := memstore.New()
	r := store.NewResolver(db, memsearch.New())
	_, err := db.Update("only-db", "Foo", map[string]interface{}{"name": "x"}, nil, nil)
	require.NoError(t, err)

	obj, err := r.Get("only-db", "")
	require.NoError(t, err)
	require.Equal(t, store.StoreDatabase, obj.Source)

	_, err = r.Get("nowhere", "")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestForceReplicaWithoutReplica(t *testing.T) {
	r := store.NewResolver(memstore.New(), nil)
	_, err := r.Get("a", store.StoreReplica)
	require.ErrorIs(t, err, store.ErrUnavailable)

	_, err = r.Get("a", "bogus")
	require.Error(t, err)
}

// unavailableReplica fails every read the way a down cluster would.
type unavailableReplica struct {
	*memsearch.Search
}

func (u unavailableReplica) GetByUUID(uuid string) (*store.Document, error) {
	return nil, store.ErrUnavailable
}

func TestUnavailableIsNotAbsence(t *testing.T) {
	db := memstore.New()
	_, err := db.Update("a", "Foo", nil, nil, nil)
	require.NoError(t, err)
	r := store.NewResolver(db, unavailableReplica{memsearch.New()})

	// no fallback: unavailability must propagate, never read as a miss
	_, err = r.Get("a", "")
	require.ErrorIs(t, err, store.ErrUnavailable)
}

func TestUpdateEvictsCachedHandle(t *testing.T) {
	db, _, r := seed(t)
	_, err := r.Get("a", store.StoreDatabase)
	require.NoError(t, err)

	updated, err := r.Update("a", "Foo", map[string]interface{}{"name": "v2"}, nil, nil)
	require.NoError(t, err)
	require.Greater(t, updated.Sid, int64(1))

	obj, err := r.Get("a", store.StoreDatabase)
	require.NoError(t, err)
	require.Equal(t, "v2", obj.Properties["name"])

	cur, err := db.GetByUUID("a")
	require.NoError(t, err)
	require.Equal(t, cur.Sid, obj.Sid)
}

func TestPurgeRefusedWhileLinked(t *testing.T) {
	db, search, r := seed(t)
	require.NoError(t, search.Update(&store.Document{
		UUID:        "b",
		ItemType:    "Bar",
		LinkedUUIDs: []string{"a"},
		Sid:         1,
	}))

	ok, err := r.Purge("a", "Foo")
	require.ErrorIs(t, err, store.ErrLinksExist)
	require.False(t, ok)

	// still present in both stores
	_, err = db.GetByUUID("a")
	require.NoError(t, err)
	_, err = search.GetByUUID("a")
	require.NoError(t, err)
}

func TestPurgeRemovesEverywhere(t *testing.T) {
	db, search, r := seed(t)
	ok, err := r.Purge("a", "Foo")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = db.GetByUUID("a")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = search.GetByUUID("a")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = r.Get("a", "")
	require.ErrorIs(t, err, store.ErrNotFound)
}
