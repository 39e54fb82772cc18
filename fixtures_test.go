package kiss

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/kiss/classfile"
)

// Class names used by the fixtures.
const (
	greeterName   = "test.Greeter"
	englishName   = "test.English"
	frenchName    = "test.French"
	recorderName  = "test.Recorder"
	checkNullName = "test.CheckNull"
)

var errNull = errors.New("value must not be empty")

// Greeter is an extension point implemented by module classes.
type Greeter interface {
	Greet() string
}

type English struct{}

func (English) Greet() string { return "hello" }

type French struct{}

func (French) Greet() string { return "bonjour" }

// Recorder is a class listener shipped by a module. All instances built by
// one catalog share one recorder.
type Recorder struct {
	mu       sync.Mutex
	loaded   []*Class
	unloaded []*Class
}

func (r *Recorder) Load(class *Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = append(r.loaded, class)
}

func (r *Recorder) Unload(class *Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unloaded = append(r.unloaded, class)
}

func (r *Recorder) names() (loaded, unloaded []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.loaded {
		loaded = append(loaded, c.Name())
	}
	for _, c := range r.unloaded {
		unloaded = append(unloaded, c.Name())
	}
	return loaded, unloaded
}

// NullCheck rejects empty strings and counts the writes it lets through.
type NullCheck struct {
	calls *atomic.Int32
}

func (n *NullCheck) Intercept(inv *Invocation) error {
	if s, ok := inv.Value.(string); !ok || s == "" {
		return errNull
	}
	n.calls.Add(1)
	return inv.Proceed(inv.Value)
}

// Person is an enhanced model with one intercepted property.
type Person struct {
	Bean
	Name string `kiss:"test.CheckNull"`
	Age  int
}

// testCatalog declares the fixture classes shared by most tests.
func testCatalog(t *testing.T) (*Catalog, *Recorder, *atomic.Int32) {
	t.Helper()
	cat := NewCatalog()
	rec := &Recorder{}
	calls := &atomic.Int32{}
	require.NoError(t, DefineIn[Greeter](cat, Named(greeterName), Implements(ExtensibleName)))
	require.NoError(t, ProvideIn[English](cat, englishName))
	require.NoError(t, ProvideIn[French](cat, frenchName))
	require.NoError(t, ProvideIn[Recorder](cat, recorderName, Constructor(func() *Recorder { return rec })))
	require.NoError(t, cat.Declare(classfile.Decl{Name: checkNullName, Flags: []string{"annotation"}}))
	require.NoError(t, DefineIn[NullCheck](cat, Named("test.NullCheck"),
		Implements(InterceptorName), Keyed(InterceptorName, checkNullName),
		Constructor(func() *NullCheck { return &NullCheck{calls: calls} })))
	require.NoError(t, DefineIn[Person](cat, Named("test.Person")))
	return cat, rec, calls
}

func newTestContainer(t *testing.T, cat *Catalog, opts ...Option) *Container {
	t.Helper()
	opts = append([]Option{WithCatalog(cat), WithConfig(&Config{WorkingDir: t.TempDir()})}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func english() classfile.Decl {
	return classfile.Decl{Name: englishName, Interfaces: []string{greeterName}}
}

func french() classfile.Decl {
	return classfile.Decl{Name: frenchName, Interfaces: []string{greeterName}}
}

func recorder(filter string) classfile.Decl {
	return classfile.Decl{
		Name:          recorderName,
		Interfaces:    []string{ClassListenerName},
		TypeArguments: []classfile.TypeArgument{{Owner: ClassListenerName, Arg: filter}},
	}
}

// writeModule writes decls as a directory module below a new temporary
// directory and returns its path.
func writeModule(t *testing.T, decls ...classfile.Decl) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "module")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	m := &classfile.Manifest{Classes: decls}
	require.NoError(t, m.WriteDir(dir))
	return dir
}

// zipBytes encodes decls as an archive. Entries named in extra are added
// verbatim.
func zipBytes(t *testing.T, extra map[string][]byte, decls ...classfile.Decl) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, d := range decls {
		data, err := d.Bytes()
		require.NoError(t, err)
		f, err := w.Create(d.FileName())
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	for name, data := range extra {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeArchive(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func classOf(t *testing.T, c *Container, name string) *Class {
	t.Helper()
	class, err := c.ForName(name)
	require.NoError(t, err)
	return class
}

func greeters(t *testing.T, c *Container) []string {
	t.Helper()
	gs, err := Extensions[Greeter](context.Background(), c)
	require.NoError(t, err)
	var out []string
	for _, g := range gs {
		out = append(out, g.Greet())
	}
	return out
}
