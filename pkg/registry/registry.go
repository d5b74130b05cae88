// Package registry implements the keyed, reference-counted cache of live
// controllers. Each controller kind (singles, lists, forms, characters,
// profiles) gets its own Registry; consumers hold refs through a Scope
// tied to their lifecycle, and an entry is reaped as soon as its last ref
// is released, unless it was created persistent.
//
// There is deliberately no process-wide registry: construct one Registry
// (or a Set of them) per application or test run.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNoScope is returned when Use or Listen is invoked without an
	// active scope, i.e. with no lifecycle to tie the ref's teardown to.
	ErrNoScope = errors.New("registry: no active scope")
	// ErrNotFound is returned by Listen, and by Use without a builder,
	// when no entry exists under the requested name.
	ErrNotFound = errors.New("registry: controller not found")
)

// Controller is the minimal surface the registry needs from a live
// controller instance.
type Controller interface {
	// Name returns the controller's current registry name.
	Name() string
	// Rename updates the controller's notion of its own name. Called by
	// Registry.Rename only.
	Rename(newName string)
	// Persistent reports whether the entry survives its ref count
	// reaching zero.
	Persistent() bool
	// Purge releases the controller's resources: pending timers are
	// stopped and any in-flight network resolution becomes a no-op.
	// Must be idempotent.
	Purge()
}

// Registry is the cache for one controller kind.
type Registry struct {
	kind string

	mu          sync.Mutex
	controllers map[string]Controller
	refs        map[string]map[uuid.UUID]struct{}
}

// New creates an empty registry for the named kind. The kind is only used
// in error messages and scope bookkeeping keys.
func New(kind string) *Registry {
	return &Registry{
		kind:        kind,
		controllers: make(map[string]Controller),
		refs:        make(map[string]map[uuid.UUID]struct{}),
	}
}

// Kind returns the controller kind this registry caches.
func (r *Registry) Kind() string { return r.kind }

// Use returns the controller registered under name, creating it with
// build on first request. The calling scope gains a ref that is released
// when the scope closes. With a nil build, Use only retrieves: a missing
// entry is ErrNotFound. On an existing entry the builder is ignored
// (first writer wins).
func (r *Registry) Use(sc *Scope, name string, build func() Controller) (Controller, error) {
	if !sc.active() {
		return nil, ErrNoScope
	}
	r.mu.Lock()
	ctrl, ok := r.controllers[name]
	if !ok {
		if build == nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: no %s named %q and no schema given", ErrNotFound, r.kind, name)
		}
		r.mu.Unlock()
		// Construct outside the lock; builders may themselves hit the
		// registry (composite controllers spawn their submodules).
		ctrl = build()
		r.mu.Lock()
		if existing, raced := r.controllers[name]; raced {
			// Lost a race with another consumer. Keep the first
			// registration and discard ours.
			r.mu.Unlock()
			ctrl.Purge()
			ctrl = existing
			r.mu.Lock()
		} else {
			r.controllers[name] = ctrl
		}
	}
	r.addRefLocked(sc.id, name)
	r.mu.Unlock()
	sc.attach(r.scopeKey(name), func() { r.unhook(sc.id, ctrl) })
	return ctrl, nil
}

// Listen attaches an additional ref for the scope to an entry that must
// already exist. It never creates an entry; a missing name is ErrNotFound.
func (r *Registry) Listen(sc *Scope, name string) error {
	if !sc.active() {
		return ErrNoScope
	}
	r.mu.Lock()
	ctrl, ok := r.controllers[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: no %s named %q to listen for", ErrNotFound, r.kind, name)
	}
	r.addRefLocked(sc.id, name)
	r.mu.Unlock()
	sc.attach(r.scopeKey(name), func() { r.unhook(sc.id, ctrl) })
	return nil
}

// Ignore releases the scope's ref on name ahead of the scope closing.
func (r *Registry) Ignore(sc *Scope, name string) {
	if sc == nil {
		return
	}
	r.mu.Lock()
	ctrl, ok := r.controllers[name]
	r.mu.Unlock()
	sc.detach(r.scopeKey(name))
	if ok {
		r.unhook(sc.id, ctrl)
	}
}

// Controller returns the live controller under name without taking a ref.
// Intended for inspection (tests) and intra-library plumbing that must not
// affect reaping, such as a form reaching its own fields. Returns nil
// when the name is absent.
func (r *Registry) Controller(name string) Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controllers[name]
}

// ScopeKey returns the key under which a ref on name is tracked in a
// Scope, for targeted Scope.Release calls.
func (r *Registry) ScopeKey(name string) string {
	return r.scopeKey(name)
}

// Rename moves an entry and its refs to a new name, notifying the
// controller. No-op when the old name is absent.
func (r *Registry) Rename(oldName, newName string) {
	r.mu.Lock()
	ctrl, ok := r.controllers[oldName]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.controllers[newName] = ctrl
	delete(r.controllers, oldName)
	if refs, ok := r.refs[oldName]; ok {
		r.refs[newName] = refs
		delete(r.refs, oldName)
	}
	r.mu.Unlock()
	ctrl.Rename(newName)
}

// Delete removes the entry and its refs without purging the controller.
// Useful when the deletion originates outside the reaping rule.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, name)
	delete(r.refs, name)
}

// Reset purges and drops every entry unconditionally. A deliberate escape
// hatch for test isolation; production flows rely on reaping.
func (r *Registry) Reset() {
	r.mu.Lock()
	controllers := make([]Controller, 0, len(r.controllers))
	for _, ctrl := range r.controllers {
		controllers = append(controllers, ctrl)
	}
	r.controllers = make(map[string]Controller)
	r.refs = make(map[string]map[uuid.UUID]struct{})
	r.mu.Unlock()
	for _, ctrl := range controllers {
		ctrl.Purge()
	}
}

// Refs reports the number of outstanding refs on name.
func (r *Registry) Refs(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs[name])
}

func (r *Registry) scopeKey(name string) string {
	return r.kind + "\x00" + name
}

func (r *Registry) addRefLocked(id uuid.UUID, name string) {
	refs, ok := r.refs[name]
	if !ok {
		refs = make(map[uuid.UUID]struct{})
		r.refs[name] = refs
	}
	refs[id] = struct{}{}
}

// unhook removes one scope's ref and reaps the entry when the last ref on
// a non-persistent controller disappears. Reaping purges the controller
// synchronously.
func (r *Registry) unhook(id uuid.UUID, ctrl Controller) {
	name := ctrl.Name()
	r.mu.Lock()
	refs, ok := r.refs[name]
	if !ok {
		// Entry was deleted outside the teardown hook. Nothing to do.
		r.mu.Unlock()
		return
	}
	delete(refs, id)
	if len(refs) > 0 || ctrl.Persistent() {
		r.mu.Unlock()
		return
	}
	delete(r.controllers, name)
	delete(r.refs, name)
	r.mu.Unlock()
	ctrl.Purge()
}
