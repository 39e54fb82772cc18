package kiss

import (
	"context"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/kiss/classfile"
)

func TestWatcherReloadsDirectoryModule(t *testing.T) {
	cat, _, _ := testCatalog(t)
	c := newTestContainer(t, cat)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := writeModule(t, english())
	_, err := c.LoadModule(ctx, dir)
	require.NoError(t, err)

	w, err := c.Watch(dir, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, dir, w.Path())
	reloads := make(chan error, 16)
	w.reloaded = func(err error) { reloads <- err }

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	m := &classfile.Manifest{Classes: []classfile.Decl{french()}}
	require.NoError(t, m.WriteDir(dir))

	select {
	case err := <-reloads:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after adding a class")
	}
	assert.Eventually(t, func() bool {
		gs, err := Extensions[Greeter](context.Background(), c)
		return err == nil && len(gs) == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.RemoveAll(dir))
	assert.Eventually(t, func() bool {
		return !slices.ContainsFunc(c.Modules(), func(m *Module) bool { return m.Path() == dir })
	}, 5*time.Second, 20*time.Millisecond, "removing the directory unloads the module")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Error(t, w.Run(context.Background()), "Run only runs once")
}

func TestWatchClosedContainer(t *testing.T) {
	cat, _, _ := testCatalog(t)
	c := newTestContainer(t, cat)
	require.NoError(t, c.Close())
	_, err := c.Watch(t.TempDir(), 0)
	assert.ErrorIs(t, err, ErrContainerClosed)
}
