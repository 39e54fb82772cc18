package kiss

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// ClassListener is notified when provider classes of its filter become
// available or go away. The filter is the type argument bound to
// kiss.ClassListener; without one the listener sees every provider.
type ClassListener interface {
	Load(class *Class)
	Unload(class *Class)
}

type listenerEntry struct {
	listener ClassListener
	filter   *Class
	source   *Class
}

// Modules is the registry of active modules, newest first with the root
// module last.
type Modules struct {
	container *Container
	root      *Module
	logger    Logger

	loadMu sync.Mutex

	mu        sync.RWMutex
	modules   []*Module
	listeners []*listenerEntry
	owners    map[string][]*Module
	sweepers  []sweeper
}

func newModules(c *Container) *Modules {
	r := &Modules{container: c, logger: c.logger, owners: make(map[string][]*Module)}
	r.root = &Module{loader: c.root, logger: c.logger}
	for _, d := range c.catalog.Roots() {
		data, err := d.Bytes()
		if err != nil {
			continue
		}
		r.root.addRoot(d.Name, data)
	}
	r.modules = []*Module{r.root}
	return r
}

// start registers the built-in listeners, which backfill the root module.
func (r *Modules) start(ctx context.Context) error {
	listenerClass, err := r.root.loader.LoadClass(ClassListenerName)
	if err != nil {
		return err
	}
	extensible, err := r.root.loader.LoadClass(ExtensibleName)
	if err != nil {
		return err
	}
	r.addListener(ctx, &listenerEntry{listener: &registryListener{ctx: ctx, modules: r}, filter: listenerClass})
	r.addListener(ctx, &listenerEntry{listener: r.container.extensions, filter: extensible})
	return nil
}

// List returns the active modules, newest first, root module last.
func (r *Modules) List() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules
}

func (r *Modules) snapshotListeners() []*listenerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listeners
}

// owner returns the loader of the first-loaded module carrying name.
func (r *Modules) owner(name string) *Loader {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ms := r.owners[name]; len(ms) > 0 {
		return ms[0].loader
	}
	return nil
}

func (r *Modules) module(path string) *Module {
	for _, m := range r.List() {
		if m.path == path && m != r.root {
			return m
		}
	}
	return nil
}

// Load mounts and scans the module at path and notifies listeners of its
// providers. A module already loaded from the same path is unloaded first.
// It returns nil when the path does not exist.
func (r *Modules) Load(ctx context.Context, path string) (*Module, error) {
	if path == "" {
		return nil, nil
	}
	canonical, err := canonicalPath(path)
	if err != nil {
		return nil, err
	}
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	r.unload(ctx, canonical)
	fsys, closer, err := mount(canonical)
	if err != nil || fsys == nil {
		return nil, err
	}
	m := &Module{path: canonical, logger: r.logger}
	m.loader = newModuleLoader(canonical, r.root.loader, fsys, closer, r.owner)
	if err := m.scan(fsys); err != nil {
		_ = m.close()
		return nil, err
	}

	r.mu.Lock()
	r.modules = append([]*Module{m}, r.modules...)
	for _, name := range m.names {
		r.owners[name] = append(r.owners[name], m)
	}
	r.mu.Unlock()

	for _, l := range r.snapshotListeners() {
		for _, c := range m.find(l.filter, false) {
			l.listener.Load(c)
		}
	}
	r.logger.Info("module loaded", "path", canonical, "classes", len(m.names))
	r.container.emit(ctx, EventTypeModuleLoaded, map[string]any{"path": canonical, "classes": len(m.names)})
	return m, nil
}

// Unload removes the module loaded from path. It reports whether one was
// found.
func (r *Modules) Unload(ctx context.Context, path string) (bool, error) {
	canonical, err := canonicalPath(path)
	if err != nil {
		return false, err
	}
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	return r.unload(ctx, canonical), nil
}

func (r *Modules) unload(ctx context.Context, path string) bool {
	m := r.module(path)
	if m == nil {
		return false
	}
	for _, l := range r.snapshotListeners() {
		for _, c := range m.find(l.filter, false) {
			l.listener.Unload(c)
		}
	}
	r.sweep(m.loader)

	var promoted []string
	r.mu.Lock()
	r.modules = slices.DeleteFunc(slices.Clone(r.modules), func(x *Module) bool { return x == m })
	for _, name := range m.names {
		owners := r.owners[name]
		if len(owners) > 1 && owners[0] == m {
			promoted = append(promoted, name)
		}
		owners = slices.DeleteFunc(slices.Clone(owners), func(x *Module) bool { return x == m })
		if len(owners) == 0 {
			delete(r.owners, name)
		} else {
			r.owners[name] = owners
		}
	}
	r.mu.Unlock()

	if err := m.close(); err != nil {
		r.logger.Warn("closing module", "path", path, "error", err)
	}
	r.promote(promoted)
	r.logger.Info("module unloaded", "path", path)
	r.container.emit(ctx, EventTypeModuleUnloaded, map[string]any{"path": path})
	return true
}

// promote announces providers whose identity moved to the next module
// carrying their name.
func (r *Modules) promote(names []string) {
	if len(names) == 0 {
		return
	}
	for _, l := range r.snapshotListeners() {
		for _, m := range r.List() {
			for _, c := range m.find(l.filter, false) {
				if slices.Contains(names, c.Name()) {
					l.listener.Load(c)
				}
			}
		}
	}
}

func (r *Modules) register(s sweeper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepers = append(r.sweepers, s)
}

// sweep purges module-aware maps of l, dropping sweepers whose map is gone.
func (r *Modules) sweep(l *Loader) {
	r.mu.RLock()
	sweepers := r.sweepers
	r.mu.RUnlock()
	var dead int
	for _, s := range sweepers {
		if !s(l) {
			dead++
		}
	}
	if dead == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	live := make([]sweeper, 0, len(r.sweepers))
	for _, s := range r.sweepers {
		// No class has a nil loader, so this only probes liveness.
		if s(nil) {
			live = append(live, s)
		}
	}
	r.sweepers = live
}

// addListener registers l and backfills it with the providers of every
// active module.
func (r *Modules) addListener(_ context.Context, l *listenerEntry) {
	r.mu.Lock()
	r.listeners = append(slices.Clone(r.listeners), l)
	r.mu.Unlock()
	for _, m := range r.List() {
		for _, c := range m.find(l.filter, false) {
			l.listener.Load(c)
		}
	}
}

func (r *Modules) removeListeners(source *Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = slices.DeleteFunc(slices.Clone(r.listeners), func(l *listenerEntry) bool {
		return l.source == source
	})
}

// addRoot makes a root class declared after startup visible to listeners.
// It holds loadMu so a listener added by a concurrent Load sees the class
// either in its backfill or here, never in both.
func (r *Modules) addRoot(class *Class, data []byte) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if !r.root.addRoot(class.Name(), data) {
		return
	}
	for _, l := range r.snapshotListeners() {
		for _, c := range r.root.find(l.filter, false) {
			if c == class {
				l.listener.Load(c)
			}
		}
	}
}

// findProvider returns the first concrete provider of spi, searching the
// newest module first and the root module last.
func (r *Modules) findProvider(spi *Class) (*Class, error) {
	for _, m := range r.List() {
		if cs := m.find(spi, true); len(cs) > 0 {
			return cs[0], nil
		}
	}
	return nil, &TypeNotPresentError{Name: spi.Name()}
}

// findAll returns every provider of spi, newest module first.
func (r *Modules) findAll(spi *Class) []*Class {
	var out []*Class
	for _, m := range r.List() {
		out = append(out, m.find(spi, false)...)
	}
	return out
}

// forName loads a class from the module that owns the name, or the newest
// module that can define it.
func (r *Modules) forName(name string) (*Class, error) {
	if l := r.owner(name); l != nil {
		return l.LoadClass(name)
	}
	for _, m := range r.List() {
		if m == r.root {
			continue
		}
		if c, err := m.loader.LoadClass(name); err == nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}

// define returns the generated class of model for mode from the module that
// defined model.
func (r *Modules) define(model *Class, mode Mode) (*Class, error) {
	m := r.root
	for _, x := range r.List() {
		if x.loader == model.loader {
			m = x
			break
		}
	}
	if m.loader != model.loader {
		return nil, fmt.Errorf("%w: %s belongs to an unloaded module", ErrLoaderClosed, model)
	}
	var enhancers []Enhancer
	if !model.Is(EnhancerName) {
		enhancers = r.container.enhancers()
	}
	c, created, err := m.define(model, mode, enhancers)
	if err != nil {
		return nil, err
	}
	if created {
		r.logger.Debug("class enhanced", "class", c.Name(), "mode", mode.String(), "module", m.String())
		r.container.emit(context.Background(), EventTypeClassEnhanced, map[string]any{"class": c.Name(), "mode": mode.String()})
	}
	return c, nil
}

// registryListener registers ClassListener providers as listeners.
type registryListener struct {
	ctx     context.Context
	modules *Modules
}

func (l *registryListener) Load(class *Class) {
	c := l.modules.container
	v, err := c.make(l.ctx, class)
	if err != nil {
		l.modules.logger.Error("cannot create class listener", "class", class.Name(), "error", err)
		return
	}
	listener, ok := v.(ClassListener)
	if !ok {
		l.modules.logger.Error("class listener does not implement ClassListener", "class", class.Name())
		return
	}
	entry := &listenerEntry{listener: listener, source: class}
	if name := class.TypeArgument(ClassListenerName); name != "" && name != "any" {
		filter, err := c.ForName(name)
		if err != nil {
			l.modules.logger.Error("unknown class listener filter", "class", class.Name(), "filter", name, "error", err)
			return
		}
		entry.filter = filter
	}
	l.modules.addListener(l.ctx, entry)
}

func (l *registryListener) Unload(class *Class) {
	l.modules.removeListeners(class)
}
