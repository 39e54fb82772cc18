package kiss

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/kiss/classfile"
)

type (
	Counter struct{ n int }
	Clock   struct{ ticks int }

	Ticker struct {
		clock Supplier[*Clock]
	}

	Labeled struct{ class *Class }

	Self struct{ self *Self }

	Ping struct{ pong *Pong }
	Pong struct{ ping *Ping }

	Depth1 struct{ next *Depth2 }
	Depth2 struct{ next *Depth3 }
	Depth3 struct{ next *Depth4 }
	Depth4 struct{}

	Settings struct {
		Theme string `yaml:"theme"`
		Size  int    `yaml:"size"`
	}

	Sealed struct{ Value string }

	Local struct{}

	Meta struct {
		ctx       context.Context
		container *Container
	}
)

func resolveCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, _, _ := testCatalog(t)
	require.NoError(t, DefineIn[Counter](cat, Named("test.Counter")))
	require.NoError(t, DefineIn[Clock](cat, Named("test.Clock"), Managed(SingletonName)))
	require.NoError(t, DefineIn[Ticker](cat, Named("test.Ticker"),
		Constructor(func(s Supplier[*Clock]) *Ticker { return &Ticker{clock: s} })))
	require.NoError(t, DefineIn[Labeled](cat, Named("test.Labeled"),
		Constructor(func(class *Class) *Labeled { return &Labeled{class: class} })))
	require.NoError(t, DefineIn[Self](cat, Named("test.Self"),
		Constructor(func(s *Self) *Self { return &Self{self: s} })))
	require.NoError(t, DefineIn[Ping](cat, Named("test.Ping"),
		Constructor(func(p *Pong) *Ping { return &Ping{pong: p} })))
	require.NoError(t, DefineIn[Pong](cat, Named("test.Pong"),
		Constructor(func(p *Ping) *Pong { return &Pong{ping: p} })))
	require.NoError(t, DefineIn[Depth1](cat, Named("test.Depth1"),
		Constructor(func(n *Depth2) *Depth1 { return &Depth1{next: n} })))
	require.NoError(t, DefineIn[Depth2](cat, Named("test.Depth2"),
		Constructor(func(n *Depth3) *Depth2 { return &Depth2{next: n} })))
	require.NoError(t, DefineIn[Depth3](cat, Named("test.Depth3"),
		Constructor(func(n *Depth4) *Depth3 { return &Depth3{next: n} })))
	require.NoError(t, DefineIn[Depth4](cat, Named("test.Depth4")))
	require.NoError(t, DefineIn[Settings](cat, Named("test.Settings"), Managed(PreferenceName)))
	require.NoError(t, DefineIn[Sealed](cat, Named("test.Sealed"), Final()))
	require.NoError(t, DefineIn[Local](cat, Named("test.Local"), WithFlags("local")))
	require.NoError(t, DefineIn[Meta](cat, Named("test.Meta"),
		Constructor(func(ctx context.Context, c *Container) *Meta { return &Meta{ctx: ctx, container: c} })))
	return cat
}

func TestPrototypeAndSingleton(t *testing.T) {
	c := newTestContainer(t, resolveCatalog(t))
	ctx := context.Background()

	a, err := Make[*Counter](ctx, c)
	require.NoError(t, err)
	b, err := Make[*Counter](ctx, c)
	require.NoError(t, err)
	assert.NotSame(t, a, b, "prototype builds a new instance each time")

	x, err := Make[*Clock](ctx, c)
	require.NoError(t, err)
	y, err := Make[*Clock](ctx, c)
	require.NoError(t, err)
	assert.Same(t, x, y)

	ls, err := c.ResolveLifestyle(ctx, classOf(t, c, "test.Clock"))
	require.NoError(t, err)
	assert.IsType(t, &Singleton{}, ls)
	again, err := c.ResolveLifestyle(ctx, classOf(t, c, "test.Clock"))
	require.NoError(t, err)
	assert.Same(t, ls, again, "lifestyles are cached")
}

func TestScoped(t *testing.T) {
	cat := resolveCatalog(t)
	require.NoError(t, DefineIn[Depth4](cat, Named("test.Depth4"), Managed(ScopedName)))
	c := newTestContainer(t, cat)

	s1 := WithScope(context.Background())
	s2 := WithScope(context.Background())

	a, err := Make[*Depth4](s1, c)
	require.NoError(t, err)
	b, err := Make[*Depth4](s1, c)
	require.NoError(t, err)
	other, err := Make[*Depth4](s2, c)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)

	root1, err := Make[*Depth4](context.Background(), c)
	require.NoError(t, err)
	root2, err := Make[*Depth4](context.Background(), c)
	require.NoError(t, err)
	assert.Same(t, root1, root2, "without a scope the container scope applies")
	assert.NotSame(t, a, root1)
	assert.NotSame(t, other, root1)
}

func TestPreference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preferences", "test.Settings.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("theme: dark\nsize: 12\n"), 0o644))

	c, err := New(WithCatalog(resolveCatalog(t)), WithConfig(&Config{WorkingDir: dir}))
	require.NoError(t, err)
	ctx := context.Background()

	s, err := Make[*Settings](ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "dark", s.Theme)
	assert.Equal(t, 12, s.Size)

	same, err := Make[*Settings](ctx, c)
	require.NoError(t, err)
	assert.Same(t, s, same)

	ls, err := c.ResolveLifestyle(ctx, classOf(t, c, "test.Settings"))
	require.NoError(t, err)
	require.IsType(t, &Preference{}, ls)
	assert.Equal(t, path, ls.(*Preference).Path())

	s.Theme = "light"
	require.NoError(t, c.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "theme: light")
	assert.Contains(t, string(data), "size: 12")
}

func TestPreferenceSavesCurrentInstance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preferences", "test.Settings.yaml")
	c, err := New(WithCatalog(resolveCatalog(t)), WithConfig(&Config{WorkingDir: dir}))
	require.NoError(t, err)
	ctx := context.Background()

	old, err := Make[*Settings](ctx, c)
	require.NoError(t, err)
	old.Theme = "old"

	// Rebinding a lifestyle key drops the cached Preference.
	c.invalidate("test.Settings")
	current, err := Make[*Settings](ctx, c)
	require.NoError(t, err)
	require.NotSame(t, old, current)
	current.Theme = "current"

	require.NoError(t, c.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "theme: current")
}

func TestPreferenceCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preferences", "test.Settings.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("size: [nope"), 0o644))

	c := newTestContainer(t, resolveCatalog(t), WithConfig(&Config{WorkingDir: dir}))
	_, err := Make[*Settings](context.Background(), c)
	assert.ErrorIs(t, err, ErrPreferenceIO)
}

func TestSupplierInjection(t *testing.T) {
	c := newTestContainer(t, resolveCatalog(t))
	ctx := context.Background()

	ticker, err := Make[*Ticker](ctx, c)
	require.NoError(t, err)
	require.IsType(t, &Singleton{}, ticker.clock.Lifestyle())

	a, err := ticker.clock.Get(ctx)
	require.NoError(t, err)
	b, err := Make[*Clock](ctx, c)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = Supplier[*Clock]{}.Get(ctx)
	assert.ErrorIs(t, err, ErrIllegalArgument)
}

func TestMetaParameters(t *testing.T) {
	c := newTestContainer(t, resolveCatalog(t))
	ctx := context.Background()

	n, err := Make[*Labeled](ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "test.Labeled", n.class.Name())

	m, err := Make[*Meta](ctx, c)
	require.NoError(t, err)
	assert.Same(t, c, m.container)
	assert.NotNil(t, m.ctx)
}

func TestCircularity(t *testing.T) {
	c := newTestContainer(t, resolveCatalog(t))
	ctx := context.Background()

	_, err := Make[*Self](ctx, c)
	var cycle *ClassCircularityError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"test.Self"}, cycle.Trace)
	assert.ErrorIs(t, err, ErrClassCircularity)

	_, err = Make[*Ping](ctx, c)
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"test.Ping", "test.Pong"}, cycle.Trace)

	// Failures are not cached.
	_, ok := c.lifestyles.Load(classOf(t, c, "test.Ping"))
	assert.False(t, ok)
}

func TestMaxDepth(t *testing.T) {
	ctx := context.Background()
	cat := resolveCatalog(t)

	ok := newTestContainer(t, cat, WithConfig(&Config{WorkingDir: t.TempDir(), MaxDepth: 4}))
	d, err := Make[*Depth1](ctx, ok)
	require.NoError(t, err)
	require.NotNil(t, d.next.next.next)

	shallow := newTestContainer(t, cat, WithConfig(&Config{WorkingDir: t.TempDir(), MaxDepth: 3}))
	_, err = Make[*Depth1](ctx, shallow)
	var cycle *ClassCircularityError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"test.Depth1", "test.Depth2", "test.Depth3", "test.Depth4"}, cycle.Trace)

	assert.Equal(t, DefaultMaxDepth, newTestContainer(t, cat).Config().MaxDepth)
}

func TestResolutionErrors(t *testing.T) {
	c := newTestContainer(t, resolveCatalog(t))
	ctx := context.Background()

	_, err := Make[*Local](ctx, c)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)

	_, err = Make[*Sealed](ctx, c)
	assert.ErrorIs(t, err, ErrIllegalArgument, "models with properties must be enhanceable")

	_, err = Make[Greeter](ctx, c)
	var missing *TypeNotPresentError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, greeterName, missing.Name)
	assert.ErrorIs(t, err, ErrTypeNotPresent)

	_, err = Make[*os.File](ctx, c)
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestLifestyleCacheFollowsModules(t *testing.T) {
	c := newTestContainer(t, resolveCatalog(t))
	ctx := context.Background()
	dir := writeModule(t, english())

	_, err := c.LoadModule(ctx, dir)
	require.NoError(t, err)
	g, err := Make[Greeter](ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "hello", g.Greet())
	_, cached := c.lifestyles.Load(classOf(t, c, greeterName))
	assert.True(t, cached)

	require.NoError(t, c.UnloadModule(ctx, dir))
	_, cached = c.lifestyles.Load(classOf(t, c, greeterName))
	assert.False(t, cached, "lifestyles sourced from an unloaded module are dropped")

	_, err = Make[Greeter](ctx, c)
	assert.ErrorIs(t, err, ErrTypeNotPresent)
}

func TestLifestyleExtension(t *testing.T) {
	cat := resolveCatalog(t)
	require.NoError(t, ProvideIn[Singleton](cat, "test.CounterSingleton", Constructor(newSingleton)))
	c := newTestContainer(t, cat)
	ctx := context.Background()

	a, err := Make[*Counter](ctx, c)
	require.NoError(t, err)
	b, err := Make[*Counter](ctx, c)
	require.NoError(t, err)
	require.NotSame(t, a, b)

	dir := writeModule(t, classfile.Decl{
		Name:          "test.CounterSingleton",
		Super:         SingletonName,
		TypeArguments: []classfile.TypeArgument{{Owner: LifestyleName, Arg: "test.Counter"}},
	})
	_, err = c.LoadModule(ctx, dir)
	require.NoError(t, err)

	a, err = Make[*Counter](ctx, c)
	require.NoError(t, err)
	b, err = Make[*Counter](ctx, c)
	require.NoError(t, err)
	assert.Same(t, a, b, "a keyed Lifestyle extension replaces the cached prototype")

	require.NoError(t, c.UnloadModule(ctx, dir))
	a, err = Make[*Counter](ctx, c)
	require.NoError(t, err)
	b, err = Make[*Counter](ctx, c)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestClosedContainer(t *testing.T) {
	c, err := New(WithCatalog(resolveCatalog(t)), WithConfig(&Config{WorkingDir: t.TempDir()}))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = Make[*Counter](context.Background(), c)
	assert.ErrorIs(t, err, ErrContainerClosed)
	_, err = c.LoadModule(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrContainerClosed)
}
