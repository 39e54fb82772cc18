package kiss

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"reflect"
	"sync"

	"github.com/GoCodeAlone/kiss/classfile"
)

// Loader defines classes from one byte source and caches them by name. The
// root loader reads the catalog's declarations; a module loader reads its
// module's file system, delegating first to the root loader and then to the
// module that owns a name.
type Loader struct {
	name    string
	parent  *Loader
	fsys    fs.FS
	sources map[string][]byte
	catalog *Catalog
	owner   func(name string) *Loader
	closer  io.Closer

	mu      sync.Mutex
	classes map[string]*Class
	closed  bool
}

func newRootLoader(cat *Catalog) (*Loader, error) {
	l := &Loader{name: "root", catalog: cat, sources: make(map[string][]byte), classes: make(map[string]*Class)}
	for _, d := range cat.Roots() {
		if err := l.addSource(d); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func newModuleLoader(name string, parent *Loader, fsys fs.FS, closer io.Closer, owner func(string) *Loader) *Loader {
	return &Loader{
		name:    name,
		parent:  parent,
		fsys:    fsys,
		catalog: parent.catalog,
		owner:   owner,
		closer:  closer,
		classes: make(map[string]*Class),
	}
}

func (l *Loader) addSource(d classfile.Decl) error {
	data, err := d.Bytes()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDeclaration, d.Name, err)
	}
	l.mu.Lock()
	l.sources[d.Name] = data
	l.mu.Unlock()
	return nil
}

// Name identifies the loader in logs: "root" or the module path.
func (l *Loader) Name() string { return l.name }

func (l *Loader) String() string { return "loader(" + l.name + ")" }

// Closed reports whether the loader's module was unloaded.
func (l *Loader) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// FindLoadedClass returns the class this loader already defined, or nil.
func (l *Loader) FindLoadedClass(name string) *Class {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classes[name]
}

// LoadClass returns the named class: from the root loader, from this
// loader's cache, from the module owning the name, or defined from this
// loader's own source.
func (l *Loader) LoadClass(name string) (*Class, error) {
	return l.loadClass(name, 0)
}

// maxHierarchy bounds supertype nesting so a cyclic hierarchy in corrupt
// class files fails instead of recursing forever.
const maxHierarchy = 64

func (l *Loader) loadClass(name string, depth int) (*Class, error) {
	if depth > maxHierarchy {
		return nil, fmt.Errorf("%w: supertypes of %s nest too deep", ErrClassCircularity, name)
	}
	if l.parent != nil {
		c, err := l.parent.loadClass(name, depth)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, err
		}
	}
	if c := l.FindLoadedClass(name); c != nil {
		return c, nil
	}
	if l.owner != nil {
		if o := l.owner(name); o != nil && o != l {
			return o.loadClass(name, depth)
		}
	}
	data, err := l.read(name)
	if err != nil {
		return nil, err
	}
	return l.defineClass(data, depth)
}

func (l *Loader) read(name string) ([]byte, error) {
	l.mu.Lock()
	closed := l.closed
	data, ok := l.sources[name]
	l.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %s", ErrLoaderClosed, l.name)
	}
	if ok {
		return data, nil
	}
	if l.fsys == nil {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	data, err := fs.ReadFile(l.fsys, classfile.FileName(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrClassNotFound, name, err)
	}
	return data, nil
}

// DefineClass decodes a class file and links it against its supertypes. A
// name this loader already defined returns the existing class.
func (l *Loader) DefineClass(data []byte) (*Class, error) {
	return l.defineClass(data, 0)
}

func (l *Loader) defineClass(data []byte, depth int) (*Class, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, err
	}
	if c := l.FindLoadedClass(cf.Name); c != nil {
		return c, nil
	}
	c, err := l.link(cf, depth)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("%w: %s", ErrLoaderClosed, l.name)
	}
	if prior, ok := l.classes[c.name]; ok {
		return prior, nil
	}
	l.classes[c.name] = c
	return c, nil
}

func (l *Loader) link(cf *classfile.ClassFile, depth int) (*Class, error) {
	c := &Class{
		name:        cf.Name,
		access:      cf.Access,
		annotations: cf.Annotations,
		typeArgs:    cf.TypeArguments,
		fields:      cf.Fields,
		methods:     cf.Methods,
		loader:      l,
	}
	if cf.Super != "" {
		super, err := l.loadClass(cf.Super, depth+1)
		if err != nil {
			return nil, fmt.Errorf("linking %s: superclass: %w", cf.Name, err)
		}
		c.super = super
	}
	for _, name := range cf.Interfaces {
		i, err := l.loadClass(name, depth+1)
		if err != nil {
			return nil, fmt.Errorf("linking %s: interface: %w", cf.Name, err)
		}
		c.interfaces = append(c.interfaces, i)
	}
	if cf.Is(classfile.AccSynthetic) && c.super != nil && cf.Method(initName) != nil {
		c.mode = modeOf(cf.Name)
	}
	if !c.Generated() {
		c.binding = l.catalog.Binding(cf.Name)
	}
	if c.binding != nil && (c.binding.Type.Kind() == reflect.Interface) != c.IsInterface() {
		return nil, fmt.Errorf("%w: %s is bound to %s", ErrClassMismatch, cf.Name, c.binding.Type)
	}
	return c, nil
}

// Close releases the loader's source. Classes it defined stay usable but no
// new class can be defined.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
