package memstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/snovault-sub000/store"
)

func TestSidsAdvance(t *testing.T) {
	s := New()
	a, err := s.Update("a", "Foo", map[string]interface{}{"name": "one"}, nil, nil)
	require.NoError(t, err)
	b, err := s.Update("b", "Foo", map[string]interface{}{"name": "two"}, nil, nil)
	require.NoError(t, err)
	a2, err := s.Update("a", "Foo", map[string]interface{}{"name": "three"}, nil, nil)
	require.NoError(t, err)

	require.Greater(t, b.Sid, a.Sid)
	require.Greater(t, a2.Sid, b.Sid)

	max, err := s.MaxSid()
	require.NoError(t, err)
	require.Equal(t, a2.Sid, max)

	sids, err := s.GetSidsByUUIDs([]string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"a": a2.Sid, "b": b.Sid}, sids)
}

func TestGetAndPurge(t *testing.T) {
	s := New()
	_, err := s.GetByUUID("nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Update("a", "Foo", map[string]interface{}{"name": "one"}, nil, nil)
	require.NoError(t, err)
	obj, err := s.GetByUUID("a")
	require.NoError(t, err)
	require.Equal(t, store.StoreDatabase, obj.Source)

	require.NoError(t, s.Purge("a"))
	require.ErrorIs(t, s.Purge("a"), store.ErrNotFound)
}

func TestIterateByType(t *testing.T) {
	s := New()
	for _, v := range []struct{ uuid, typ string }{
		{"a", "Foo"}, {"b", "Bar"}, {"c", "Foo"},
	} {
		_, err := s.Update(v.uuid, v.typ, nil, nil, nil)
		require.NoError(t, err)
	}
	uuids, err := s.Iterate("Foo")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, uuids)

	all, err := s.Iterate()
	require.NoError(t, err)
	require.Len(t, all, 3)
}
