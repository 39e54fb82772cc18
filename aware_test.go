package kiss

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwareMapForgetsUnloadedClasses(t *testing.T) {
	cat, _, _ := testCatalog(t)
	c := newTestContainer(t, cat)
	ctx := context.Background()
	dir := writeModule(t, english())
	_, err := c.LoadModule(ctx, dir)
	require.NoError(t, err)

	m := NewAwareMap[string](c)
	eng := classOf(t, c, englishName)
	person := classOf(t, c, "test.Person")
	greeter := classOf(t, c, greeterName)

	m.Store(eng, "module key")
	m.Store(person, "root key")
	m.loadOrStoreFrom(greeter, "module source", eng.Loader())

	v, loaded := m.LoadOrStore(person, "other")
	assert.True(t, loaded)
	assert.Equal(t, "root key", v)
	assert.Equal(t, 3, m.Len())

	require.NoError(t, c.UnloadModule(ctx, dir))

	assert.Equal(t, 1, m.Len())
	_, ok := m.Load(eng)
	assert.False(t, ok)
	_, ok = m.Load(greeter)
	assert.False(t, ok, "entries depending on the module go too")
	v, ok = m.Load(person)
	assert.True(t, ok)
	assert.Equal(t, "root key", v)
}
