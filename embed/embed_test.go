package embed_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/snovault-sub000/store"
	"github.com/4dn-dcic/snovault-sub000/testx"
)

func TestBuildPlainObject(t *testing.T) {
	e := testx.NewEnv()
	foo := e.AddFoo("foo1", "one")

	doc, err := e.Builder.Build("foo1")
	require.NoError(t, err)
	require.Equal(t, "foo1", doc.UUID)
	require.Equal(t, "Foo", doc.ItemType)
	require.Equal(t, foo.Sid, doc.Sid)
	require.Equal(t, "one", doc.Embedded["name"])
	require.Empty(t, doc.LinkedUUIDs)
	require.Equal(t, map[string][]string{"view": {"system.Everyone"}}, doc.PrincipalsAllowed)
	require.NotEmpty(t, doc.IndexedAt)
}

func TestBuildResolvesEmbeds(t *testing.T) {
	e := testx.NewEnv()
	e.AddFoo("foo1", "one")
	e.AddLinked("bar1", "Bar", "foo1")

	doc, err := e.Builder.Build("bar1")
	require.NoError(t, err)
	require.Equal(t, []string{"foo1"}, doc.LinkedUUIDs)

	stubs, ok := doc.Embedded["foo"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, stubs, 1)
	require.Equal(t, "foo1", stubs[0]["uuid"])
	require.Equal(t, "one", stubs[0]["name"])
	// Bar embeds foo.name only
	require.NotContains(t, stubs[0], "description")
}

func TestBuildMissingLinkTarget(t *testing.T) {
	e := testx.NewEnv()
	e.AddLinked("bar1", "Bar", "ghost")

	_, err := e.Builder.Build("bar1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBuildCollectsRevLinks(t *testing.T) {
	e := testx.NewEnv()
	e.AddFoo("foo1", "one")
	e.AddLinked("bar1", "Bar", "foo1")
	e.AddLinked("baz1", "Baz", "foo1")

	// rev links come from the replica, so the linking documents must be
	// indexed first
	for _, uuid := range []string{"bar1", "baz1"} {
		doc, err := e.Builder.Build(uuid)
		require.NoError(t, err)
		require.NoError(t, e.Search.Update(doc))
	}

	doc, err := e.Builder.Build("foo1")
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"Bar.foo": {"bar1"},
		"Baz.foo": {"baz1"},
	}, doc.RevLinkedToMe)
}
