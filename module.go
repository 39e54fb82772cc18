package kiss

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"strings"
	"sync"

	"github.com/GoCodeAlone/kiss/classfile"
)

// classExt is the extension of class files inside a module.
const classExt = ".class"

// provider is a candidate found by the header scan. Its class and signature
// are computed on the first query.
type provider struct {
	name string

	mu        sync.Mutex
	class     *Class
	signature []uint64
	stealth   bool
}

// Module is one loaded directory or archive with its own loader.
type Module struct {
	path   string
	loader *Loader
	logger Logger

	mu        sync.RWMutex
	names     []string
	providers []*provider

	defineMu sync.Mutex
}

// Path returns the canonical module path. The root module's path is empty.
func (m *Module) Path() string { return m.path }

// Loader returns the module's loader.
func (m *Module) Loader() *Loader { return m.loader }

func (m *Module) String() string {
	if m.path == "" {
		return "module(root)"
	}
	return "module(" + m.path + ")"
}

// Names returns every class name the module carries, in scan order.
func (m *Module) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.names)
}

// Candidates returns the names the header scan accepted as providers.
func (m *Module) Candidates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p.name)
	}
	return out
}

// Providers returns the module's provider classes, linking candidates on
// first use. Candidates that fail to link are left out.
func (m *Module) Providers() []*Class { return m.find(nil, false) }

// scan walks the module's class files and records provider candidates.
func (m *Module) scan(fsys fs.FS) error {
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, classExt) {
			return nil
		}
		f, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		m.classify(f, classfile.NameOf(path), path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrModuleScan, m.path, err)
	}
	return nil
}

// classify reads the class header from r and records the class when it is a
// provider candidate. Malformed class files are skipped.
func (m *Module) classify(r io.Reader, expected, path string) {
	v := &classifier{expected: expected}
	if err := classfile.Accept(r, v, classfile.SkipCode|classfile.SkipDebug|classfile.SkipFrames); err != nil {
		m.logger.Debug("skipping class file", "module", m.path, "path", path, "error", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.named {
		m.names = append(m.names, expected)
	}
	if v.candidate {
		m.providers = append(m.providers, &provider{name: expected})
	}
}

// addRoot classifies a root class declared after the container started.
func (m *Module) addRoot(name string, data []byte) bool {
	before := m.count()
	m.classify(bytes.NewReader(data), name, name)
	return m.count() > before
}

func (m *Module) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.providers)
}

// classifier stops reading as soon as a class is rejected or known to be a
// candidate.
type classifier struct {
	classfile.BaseVisitor
	expected  string
	named     bool
	candidate bool
}

const rejected = classfile.AccAbstract | classfile.AccInterface | classfile.AccEnum |
	classfile.AccDeprecated | classfile.AccAnnotation | classfile.AccLocal

func (v *classifier) Visit(h classfile.Header) error {
	if h.Name != v.expected {
		return classfile.ErrStop
	}
	v.named = true
	if !h.Is(classfile.AccPublic|classfile.AccSuper) || h.Access&rejected != 0 {
		return classfile.ErrStop
	}
	if !isSystem(h.Super) {
		return v.accept()
	}
	for _, i := range h.Interfaces {
		if !isSystem(i) {
			return v.accept()
		}
	}
	return nil
}

func (v *classifier) VisitAnnotation(a classfile.Annotation) error {
	if !a.Invisible && !isSystem(a.Type) {
		return v.accept()
	}
	return nil
}

func (v *classifier) VisitField(classfile.Field) error { return classfile.ErrStop }

func (v *classifier) VisitMethod(*classfile.Method) error { return classfile.ErrStop }

func (v *classifier) accept() error {
	v.candidate = true
	return classfile.ErrStop
}

// find returns the providers of spi defined by this module's loader, in scan
// order. A nil spi matches every provider.
func (m *Module) find(spi *Class, single bool) []*Class {
	m.mu.RLock()
	providers := m.providers
	m.mu.RUnlock()

	var out []*Class
	for _, p := range providers {
		c := m.resolve(p)
		if c == nil || c.loader != m.loader {
			continue
		}
		if spi != nil && !p.matches(spi) {
			continue
		}
		out = append(out, c)
		if single {
			break
		}
	}
	return out
}

// resolve loads the provider's class on first use. Classes that fail to
// link or cannot be constructed are stealth classes and dropped for good. A
// class borrowed from a module that has since unloaded is loaded again, so
// ownership moves to the next module carrying the name.
func (m *Module) resolve(p *provider) *Class {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stealth {
		return nil
	}
	if p.class != nil && !(p.class.loader != m.loader && p.class.loader.Closed()) {
		return p.class
	}
	c, err := m.loader.LoadClass(p.name)
	if err == nil && !c.hasConstructor() {
		err = ErrNoConstructor
	}
	if err != nil {
		if errors.Is(err, ErrLoaderClosed) {
			return nil
		}
		m.logger.Debug("dropping stealth class", "module", m.path, "class", p.name, "error", err)
		p.stealth = true
		p.class = nil
		return nil
	}
	p.class = c
	p.signature = c.signature()
	return c
}

func (p *provider) matches(spi *Class) bool {
	p.mu.Lock()
	sig, c := p.signature, p.class
	p.mu.Unlock()
	if c == nil {
		return false
	}
	if _, found := slices.BinarySearch(sig, hashName(spi.Name())); !found {
		return false
	}
	return c.Is(spi.Name())
}

// define returns the generated class of model for mode, building and
// defining it in this module's loader on first use.
func (m *Module) define(model *Class, mode Mode, enhancers []Enhancer) (*Class, bool, error) {
	m.defineMu.Lock()
	defer m.defineMu.Unlock()

	name := model.Name() + mode.suffix()
	if c := m.loader.FindLoadedClass(name); c != nil {
		return c, false, nil
	}
	w := classfile.NewWriter(classfile.ComputeMaxs)
	var cv classfile.ClassVisitor = w
	for i := len(enhancers) - 1; i >= 0; i-- {
		cv = enhancers[i].Enhance(cv, model)
	}
	if err := enhance(cv, model, name, mode); err != nil {
		return nil, false, err
	}
	data, err := w.Bytes()
	if err != nil {
		return nil, false, fmt.Errorf("generating %s: %w", name, err)
	}
	c, err := m.loader.DefineClass(data)
	if err != nil {
		return nil, false, fmt.Errorf("defining %s: %w", name, err)
	}
	return c, true, nil
}

func (m *Module) close() error {
	return m.loader.Close()
}
