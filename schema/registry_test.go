package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testInfos() []*TypeInfo {
	return []*TypeInfo{
		{Name: "Item", Abstract: true},
		{Name: "Foo", Base: []string{"Item"}, Fields: []Field{
			{Name: "name", Kind: KindString},
			{Name: "nested", Kind: KindObject, Properties: []Field{
				{Name: "inner", Kind: KindString},
			}},
		}},
		{Name: "Sub", Base: []string{"Foo"}},
		{Name: "Bar", Base: []string{"Item"}, Fields: []Field{
			{Name: "foo", Kind: KindLink, LinkTo: []string{"Foo"}},
		}, EmbedPaths: []string{"foo.name"}},
	}
}

func TestRegistryClosures(t *testing.T) {
	reg, err := NewRegistry(testInfos()...)
	require.NoError(t, err)

	require.Equal(t, []string{"Foo", "Item"}, reg.BaseTypes("Sub"))
	require.Equal(t, []string{"Bar", "Foo", "Sub"}, reg.ChildTypes("Item"))
	require.Equal(t, []string{"Sub"}, reg.ChildTypes("Foo"))
	require.Empty(t, reg.BaseTypes("Item"))
	require.Equal(t, []string{"Bar", "Foo", "Item", "Sub"}, reg.TypeNames())

	require.Equal(t, []string{"foo.name"}, reg.EmbedPaths("Bar"))
	_, ok := reg.Lookup("Nope")
	require.False(t, ok)
}

func TestRegistryValidation(t *testing.T) {
	_, err := NewRegistry(&TypeInfo{Name: "A"}, &TypeInfo{Name: "A"})
	require.Error(t, err)

	_, err = NewRegistry(&TypeInfo{Name: "A", Base: []string{"Ghost"}})
	require.Error(t, err)

	_, err = NewRegistry(&TypeInfo{Name: "A", Fields: []Field{
		{Name: "x", Kind: KindLink, LinkTo: []string{"Ghost"}},
	}})
	require.Error(t, err)

	_, err = NewRegistry(&TypeInfo{Name: ""})
	require.Error(t, err)
}

func TestFieldPaths(t *testing.T) {
	reg, err := NewRegistry(testInfos()...)
	require.NoError(t, err)

	fields, ok := reg.Schema("Foo")
	require.True(t, ok)
	require.Equal(t, []string{"name", "nested.inner"}, FieldPaths(fields))

	// link fields are leaves
	fields, _ = reg.Schema("Bar")
	require.Equal(t, []string{"foo"}, FieldPaths(fields))
}

func TestFieldByName(t *testing.T) {
	fields := []Field{{Name: "foo", Kind: KindLink}}
	require.NotNil(t, FieldByName(fields, "foo"))
	require.NotNil(t, FieldByName(fields, "foo*"))
	require.Nil(t, FieldByName(fields, "bar"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
types:
  - name: Author
    fields:
      - name: name
        kind: string
  - name: Book
    embeds: [author.name]
    fields:
      - name: title
        kind: string
      - name: author
        kind: link
        link_to: [Author]
`), 0644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"Author", "Book"}, reg.TypeNames())
	require.Equal(t, []string{"author.name"}, reg.EmbedPaths("Book"))

	f, ok := reg.Schema("Book")
	require.True(t, ok)
	require.Equal(t, []string{"Author"}, FieldByName(f, "author").LinkTo)
}

func TestLoadFileRejectsBadKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
types:
  - name: A
    fields:
      - name: x
        kind: blob
`), 0644))
	_, err := LoadFile(path)
	require.Error(t, err)
}
