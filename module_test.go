package kiss

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/kiss/classfile"
)

func TestModuleScan(t *testing.T) {
	cat, _, _ := testCatalog(t)
	c := newTestContainer(t, cat)
	ctx := context.Background()

	dir := writeModule(t,
		english(),
		classfile.Decl{Name: "test.Abstract", Interfaces: []string{greeterName}, Flags: []string{"abstract"}},
		classfile.Decl{Name: "test.Old", Interfaces: []string{greeterName}, Flags: []string{"deprecated"}},
		classfile.Decl{Name: "test.Choice", Interfaces: []string{greeterName}, Flags: []string{"enum"}},
		classfile.Decl{Name: "test.Hidden", Interfaces: []string{greeterName}, Flags: []string{"private"}},
		classfile.Decl{Name: "test.Misplaced", Interfaces: []string{greeterName}, Path: "other/Wrong.class"},
		classfile.Decl{Name: "test.Plain"},
		classfile.Decl{Name: "test.Broken", Interfaces: []string{"test.Missing"}},
		classfile.Decl{Name: "test.Unbound", Interfaces: []string{greeterName}},
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test", "Garbage.class"), []byte("not a class"), 0o644))

	l, err := c.LoadModule(ctx, dir)
	require.NoError(t, err)
	require.NotNil(t, l)

	m := c.modules.module(l.Name())
	require.NotNil(t, m)
	assert.ElementsMatch(t, []string{
		englishName, "test.Abstract", "test.Old", "test.Choice", "test.Hidden",
		"test.Plain", "test.Broken", "test.Unbound",
	}, m.Names())

	providers := m.find(nil, false)
	require.Len(t, providers, 1, "rejected, stealth and malformed classes are not providers")
	assert.Equal(t, englishName, providers[0].Name())
	assert.Same(t, l, providers[0].Loader())

	greeter := classOf(t, c, greeterName)
	assert.Equal(t, providers, m.find(greeter, true))
	assert.Empty(t, m.find(classOf(t, c, ClassListenerName), false))

	// Stealth classes stay dropped.
	assert.Len(t, m.find(nil, false), 1)
}

func TestModuleArchives(t *testing.T) {
	cat, _, _ := testCatalog(t)
	ctx := context.Background()

	t.Run("zip", func(t *testing.T) {
		c := newTestContainer(t, cat)
		path := writeArchive(t, "greeters.jar", zipBytes(t, nil, english()))
		_, err := c.LoadModule(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []string{"hello"}, greeters(t, c))
	})

	t.Run("nested", func(t *testing.T) {
		c := newTestContainer(t, cat)
		inner := zipBytes(t, nil, french())
		outer := writeArchive(t, "bundle.zip", zipBytes(t, map[string][]byte{"lib/french.jar": inner}, english()))

		l, err := c.LoadModule(ctx, outer+"!/lib/french.jar")
		require.NoError(t, err)
		require.NotNil(t, l)
		assert.Equal(t, []string{"bonjour"}, greeters(t, c), "only the inner archive is scanned")

		_, err = c.LoadModule(ctx, outer)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"hello", "bonjour"}, greeters(t, c), "archives inside a module are not scanned")
	})

	t.Run("missing inner archive", func(t *testing.T) {
		c := newTestContainer(t, cat)
		outer := writeArchive(t, "bundle.zip", zipBytes(t, nil, english()))
		l, err := c.LoadModule(ctx, outer+"!/lib/none.jar")
		require.NoError(t, err)
		assert.Nil(t, l)
	})

	t.Run("corrupt archive", func(t *testing.T) {
		c := newTestContainer(t, cat)
		path := writeArchive(t, "broken.jar", []byte("PK not really"))
		_, err := c.LoadModule(ctx, path)
		assert.ErrorIs(t, err, ErrModuleMount)
	})
}

func TestLoadMissingPath(t *testing.T) {
	cat, _, _ := testCatalog(t)
	c := newTestContainer(t, cat)

	l, err := c.LoadModule(context.Background(), filepath.Join(t.TempDir(), "nothing"))
	require.NoError(t, err)
	assert.Nil(t, l)

	l, err = c.LoadModule(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.Len(t, c.Modules(), 1, "only the root module is active")
}

func TestModuleDefineIsIdempotent(t *testing.T) {
	cat, _, _ := testCatalog(t)
	c := newTestContainer(t, cat)
	person := classOf(t, c, "test.Person")

	first, err := c.modules.define(person, ModeBean)
	require.NoError(t, err)
	second, err := c.modules.define(person, ModeBean)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "test.Person+", first.Name())
	assert.Same(t, person, first.Model())
	assert.True(t, first.IsSynthetic())
	assert.True(t, first.Is(SerializableName))

	trace, err := c.modules.define(person, ModeTrace)
	require.NoError(t, err)
	assert.NotSame(t, first, trace)
	assert.Equal(t, "test.Person-", trace.Name())
}

func TestStandardLibrarySupertypesAreSystem(t *testing.T) {
	closer := GoName(reflect.TypeFor[io.Closer]())
	assert.Equal(t, "go.io.Closer", closer)
	assert.Equal(t, "go.context.Context", GoName(reflect.TypeFor[context.Context]()))
	assert.Equal(t, "go.int", GoName(reflect.TypeFor[int]()))
	assert.Equal(t, "github.com.GoCodeAlone.kiss.Person", GoName(reflect.TypeFor[*Person]()))
	assert.True(t, isSystem(closer))
	assert.False(t, isSystem(greeterName))

	cat, _, _ := testCatalog(t)
	c := newTestContainer(t, cat)
	l, err := c.LoadModule(context.Background(), writeModule(t, english()))
	require.NoError(t, err)
	m := c.modules.module(l.Name())
	require.NotNil(t, m)

	stdOnly := classfile.Decl{Name: "test.Closer", Interfaces: []string{closer, GoName(reflect.TypeFor[context.Context]())}}
	data, err := stdOnly.Bytes()
	require.NoError(t, err)
	assert.False(t, m.addRoot(stdOnly.Name, data), "standard library interfaces do not make a candidate")

	mixed := classfile.Decl{Name: "test.GreetingCloser", Interfaces: []string{closer, greeterName}}
	data, err = mixed.Bytes()
	require.NoError(t, err)
	assert.True(t, m.addRoot(mixed.Name, data))
}
