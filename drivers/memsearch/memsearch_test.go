package memsearch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/snovault-sub000/store"
)

func doc(uuid, itemType string, sid int64) *store.Document {
	return &store.Document{UUID: uuid, ItemType: itemType, Sid: sid}
}

func TestWriteIfNotOlder(t *testing.T) {
	s := New()
	require.NoError(t, s.Update(doc("a", "Foo", 5)))

	// older write loses
	require.ErrorIs(t, s.Update(doc("a", "Foo", 3)), store.ErrConflict)

	// equal sid wins (idempotent replay)
	require.NoError(t, s.Update(doc("a", "Foo", 5)))

	// newer wins
	require.NoError(t, s.Update(doc("a", "Foo", 9)))
	got, err := s.GetByUUID("a")
	require.NoError(t, err)
	require.EqualValues(t, 9, got.Sid)
}

func TestOutOfOrderArrivalConverges(t *testing.T) {
	s := New()
	newer := doc("a", "Foo", 7)
	newer.Properties = map[string]interface{}{"name": "new"}
	older := doc("a", "Foo", 6)
	older.Properties = map[string]interface{}{"name": "old"}

	require.NoError(t, s.Update(newer))
	require.ErrorIs(t, s.Update(older), store.ErrConflict)

	got, err := s.GetByUUID("a")
	require.NoError(t, err)
	require.Equal(t, "new", got.Properties["name"])
}

// Racing writers carrying distinct sids for one document may interleave in
// any order; the stored sid must only move forward and losers must see
// ErrConflict and nothing else.
func TestConcurrentWritersConvergeOnNewest(t *testing.T) {
	const writers = 8
	const perWriter = 25

	s := New()
	errs := make(chan error, writers*perWriter)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				sid := int64(w*perWriter + i + 1)
				if err := s.Update(doc("a", "Foo", sid)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.ErrorIs(t, err, store.ErrConflict)
	}
	got, err := s.GetByUUID("a")
	require.NoError(t, err)
	require.EqualValues(t, writers*perWriter, got.Sid)
}

func TestPurgeIsIdempotent(t *testing.T) {
	s := New()
	require.NoError(t, s.Update(doc("a", "Foo", 1)))
	ok, err := s.Purge("a", "Foo")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Purge("a", "Foo")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.GetByUUID("a")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevLinksAndFindLinking(t *testing.T) {
	s := New()
	bar := doc("bar1", "Bar", 1)
	bar.Links = map[string][]string{"foo": {"foo1"}}
	bar.LinkedUUIDs = []string{"foo1"}
	require.NoError(t, s.Update(bar))

	baz := doc("baz1", "Baz", 2)
	baz.Links = map[string][]string{"foo": {"foo1"}}
	baz.LinkedUUIDs = []string{"foo1"}
	require.NoError(t, s.Update(baz))

	rev, err := s.RevLinks("foo1", "foo")
	require.NoError(t, err)
	require.Equal(t, []string{"bar1", "baz1"}, rev)

	rev, err = s.RevLinks("foo1", "foo", "Bar")
	require.NoError(t, err)
	require.Equal(t, []string{"bar1"}, rev)

	refs, err := s.FindLinking([]string{"foo1"})
	require.NoError(t, err)
	require.Equal(t, []store.Ref{
		{UUID: "bar1", ItemType: "Bar"},
		{UUID: "baz1", ItemType: "Baz"},
	}, refs)

	refs, err = s.FindLinking([]string{"unlinked"})
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestRecords(t *testing.T) {
	s := New()
	require.NoError(t, s.PutRecord("latest_indexing", map[string]interface{}{"count": 3}))
	v, ok := s.Record("latest_indexing")
	require.True(t, ok)
	require.Equal(t, map[string]interface{}{"count": 3}, v)
}
