package scope

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/snovault-sub000/schema"
	"github.com/4dn-dcic/snovault-sub000/store"
)

// catalog: Bar embeds foo.name, Baz embeds foo.description, Qux embeds the
// whole of foo. Sub is a subtype of Foo.
func catalog(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		&schema.TypeInfo{
			Name:     "Item",
			Abstract: true,
			Fields:   []schema.Field{{Name: "status", Kind: schema.KindString}},
		},
		&schema.TypeInfo{
			Name: "Foo",
			Base: []string{"Item"},
			Fields: []schema.Field{
				{Name: "name", Kind: schema.KindString},
				{Name: "description", Kind: schema.KindString},
				{Name: "nested", Kind: schema.KindObject, Properties: []schema.Field{
					{Name: "inner", Kind: schema.KindString},
				}},
			},
		},
		&schema.TypeInfo{
			Name:   "Sub",
			Base:   []string{"Foo"},
			Fields: []schema.Field{{Name: "extra", Kind: schema.KindString}},
		},
		&schema.TypeInfo{
			Name: "Bar",
			Fields: []schema.Field{
				{Name: "description", Kind: schema.KindString},
				{Name: "foo", Kind: schema.KindLink, LinkTo: []string{"Foo"}},
			},
			EmbedPaths: []string{"foo.name"},
		},
		&schema.TypeInfo{
			Name: "Baz",
			Fields: []schema.Field{
				{Name: "title", Kind: schema.KindString},
				{Name: "foo", Kind: schema.KindLink, LinkTo: []string{"Foo"}},
			},
			EmbedPaths: []string{"foo.description"},
		},
		&schema.TypeInfo{
			Name: "Qux",
			Fields: []schema.Field{
				{Name: "foo", Kind: schema.KindLink, LinkTo: []string{"Foo"}},
			},
			EmbedPaths: []string{"foo.*"},
		},
		&schema.TypeInfo{
			Name:   "Widget",
			Fields: []schema.Field{{Name: "name", Kind: schema.KindString}},
		},
	)
	require.NoError(t, err)
	return reg
}

func refs(pairs ...string) []store.Ref {
	out := make([]store.Ref, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, store.Ref{UUID: pairs[i], ItemType: pairs[i+1]})
	}
	return out
}

func uuidsOf(rs []store.Ref) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.UUID
	}
	return out
}

func TestNarrowingClearsUnaffectedType(t *testing.T) {
	cat := catalog(t)
	secondary := map[string]struct{}{"bar1": {}, "baz1": {}}
	kept := FilterInvalidationScope(cat, []string{"Foo.name"},
		refs("bar1", "Bar", "baz1", "Baz"), secondary)

	// Bar embeds foo.name, Baz only foo.description
	require.Equal(t, []string{"bar1"}, uuidsOf(kept))
	require.Contains(t, secondary, "bar1")
	require.NotContains(t, secondary, "baz1")
}

func TestDefaultEmbedInvalidatesEverything(t *testing.T) {
	cat := catalog(t)
	for _, diff := range [][]string{
		{"Foo.display_title"},
		{"Foo.uuid"},
		{"Foo.principals_allowed.view"},
	} {
		kept := FilterInvalidationScope(cat, diff,
			refs("bar1", "Bar", "baz1", "Baz"), nil)
		require.Len(t, kept, 2, "diff %v", diff)
	}
}

func TestEmptyDiffKeepsEverything(t *testing.T) {
	cat := catalog(t)
	kept := FilterInvalidationScope(cat, nil, refs("bar1", "Bar", "baz1", "Baz"), nil)
	require.Len(t, kept, 2)
}

func TestWildcardEmbed(t *testing.T) {
	cat := catalog(t)
	kept := FilterInvalidationScope(cat, []string{"Foo.nested.inner"},
		refs("qux1", "Qux", "bar1", "Bar"), nil)
	// Qux embeds all of foo, Bar only foo.name
	require.Equal(t, []string{"qux1"}, uuidsOf(kept))
}

func TestSubtypeDiffSeenThroughSupertypeLink(t *testing.T) {
	cat := catalog(t)
	// Bar.foo targets Foo; an edit to a Sub (subtype of Foo) name still
	// invalidates Bar
	kept := FilterInvalidationScope(cat, []string{"Sub.name"},
		refs("bar1", "Bar", "baz1", "Baz"), nil)
	require.Equal(t, []string{"bar1"}, uuidsOf(kept))
}

// A batched diff can span unrelated types. Widget.name names the same
// terminal field Bar embeds from Foo, but Bar's link cannot reach a Widget,
// so the Widget half of the diff must not keep Bar in scope.
func TestUnrelatedTypeFieldDoesNotInvalidate(t *testing.T) {
	cat := catalog(t)
	kept := FilterInvalidationScope(cat, []string{"Foo.description", "Widget.name"},
		refs("bar1", "Bar", "baz1", "Baz"), nil)
	require.Equal(t, []string{"baz1"}, uuidsOf(kept))
}

func TestVerdictMemoizedAcrossCandidates(t *testing.T) {
	cat := catalog(t)
	kept := FilterInvalidationScope(cat, []string{"Foo.name"},
		refs("b1", "Bar", "b2", "Bar", "z1", "Baz", "z2", "Baz"), nil)
	require.Equal(t, []string{"b1", "b2"}, uuidsOf(kept))
}

func TestComputeInvalidationScope(t *testing.T) {
	cat := catalog(t)
	res, err := ComputeInvalidationScope(cat, "Foo", "Bar")
	require.NoError(t, err)
	require.Contains(t, res.Invalidated, "name")
	require.Contains(t, res.Cleared, "description")
	require.Contains(t, res.Cleared, "nested.inner")

	res, err = ComputeInvalidationScope(cat, "Foo", "Qux")
	require.NoError(t, err)
	require.Empty(t, res.Cleared)
}

func TestComputeInvalidationScopeRejectsBadTypes(t *testing.T) {
	cat := catalog(t)
	_, err := ComputeInvalidationScope(cat, "Nope", "Bar")
	require.Error(t, err)
	_, err = ComputeInvalidationScope(cat, "Foo", "Item")
	require.Error(t, err)
}
