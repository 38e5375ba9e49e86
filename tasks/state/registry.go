package state

import "sync"

// observerFunc is the store-internal notification shape every OnChange
// variant ultimately registers; typed observers wrap a down-cast around
// one of these (spec.md §4.I: "typed observers wrap a generic callback
// with a safe down-cast").
type observerFunc func(TaskState)

// registry is one observer dimension (global, or one key within a
// by-extension/by-type/by-type-and-extension dimension). snapshot
// copies the live observer set out under the read lock so notification
// never holds the registry's lock across a user callback (the task
// entry's lock is held; see Store.mutateAndNotify) (spec.md §5: "copy-on-
// iterate to avoid 'handler mutates list' hazards").
type registry struct {
	mu        sync.RWMutex
	observers map[string]observerFunc
}

func newRegistry() *registry {
	return &registry{observers: make(map[string]observerFunc)}
}

func (r *registry) add(id string, fn observerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[id] = fn
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, id)
}

func (r *registry) snapshot() []observerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]observerFunc, 0, len(r.observers))
	for _, fn := range r.observers {
		out = append(out, fn)
	}
	return out
}

// registrySet lazily creates one registry per key (extension id, task
// type, or task-type+extension composite) the first time something
// subscribes under that key.
type registrySet struct {
	mu sync.Mutex
	m  map[string]*registry
}

func newRegistrySet() *registrySet {
	return &registrySet{m: make(map[string]*registry)}
}

func (rs *registrySet) getOrCreate(key string) *registry {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.m[key]
	if !ok {
		r = newRegistry()
		rs.m[key] = r
	}
	return r
}

// get looks up an existing registry without creating one, so
// notification never allocates an empty registry for a key nobody
// subscribed to.
func (rs *registrySet) get(key string) (*registry, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.m[key]
	return r, ok
}

// safeNotify runs fn with s, discarding any panic: "observer callbacks
// must not throw — exceptions inside them are caught and discarded by
// the store" (spec.md §4.I).
func safeNotify(fn observerFunc, s TaskState) {
	defer func() { _ = recover() }()
	fn(s)
}
