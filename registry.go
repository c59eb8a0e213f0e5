package wfs

import (
	"container/list"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	MaxEntries int              // Oldest entries are evicted beyond this size (0: unbounded)
	TTL        time.Duration    // Entries older than this are dropped by Expire (0: never)
	Now        func() time.Time // Clock, defaults to time.Now
}

// DefaultRegistryOptions returns the options used by the provider.
func DefaultRegistryOptions() RegistryOptions {
	return RegistryOptions{
		MaxEntries: 10000,
	}
}

// Registry remembers which features have already been emitted so repeated
// polls of the same area do not produce duplicates. Every method that drops
// entries returns the dropped ids; the caller owns whatever it rendered for
// them and must release it.
type Registry struct {
	opts    RegistryOptions
	mu      sync.Mutex
	entries map[string]*registryEntry
	order   *list.List // Oldest at front
	rtree   *rtreego.Rtree
}

type registryEntry struct {
	id      string
	bound   orb.Bound
	added   time.Time
	element *list.Element
}

// Bounds implements rtreego.Spatial.
func (e *registryEntry) Bounds() rtreego.Rect {
	return boundToRect(e.bound)
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:    opts,
		entries: make(map[string]*registryEntry),
		order:   list.New(),
		rtree:   rtreego.NewTree(2, 25, 50),
	}
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of registered ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Add registers id with the extent of its geometry and returns the ids
// evicted to stay within MaxEntries. Re-adding an id refreshes it.
func (r *Registry) Add(id string, bound orb.Bound) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		r.removeLocked(e)
	}

	e := &registryEntry{id: id, bound: bound, added: r.opts.Now()}
	e.element = r.order.PushBack(e)
	r.entries[id] = e
	r.rtree.Insert(e)

	var evicted []string
	for r.opts.MaxEntries > 0 && len(r.entries) > r.opts.MaxEntries {
		oldest := r.order.Front().Value.(*registryEntry)
		r.removeLocked(oldest)
		evicted = append(evicted, oldest.id)
	}
	return evicted
}

// Remove drops id from the registry.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		r.removeLocked(e)
	}
	return ok
}

// Expire drops entries older than the configured TTL.
func (r *Registry) Expire() []string {
	if r.opts.TTL <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.opts.Now().Add(-r.opts.TTL)
	var expired []string
	for el := r.order.Front(); el != nil; {
		e := el.Value.(*registryEntry)
		if e.added.After(cutoff) {
			break
		}
		el = el.Next()
		r.removeLocked(e)
		expired = append(expired, e.id)
	}
	return expired
}

// EvictOutside drops every entry whose extent does not intersect viewport.
// A viewport with Min longitude greater than Max longitude crosses the
// antimeridian and is searched as two rectangles.
func (r *Registry) EvictOutside(viewport orb.Bound) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rects := []rtreego.Rect{boundToRect(viewport)}
	if viewport.Min[0] > viewport.Max[0] {
		// viewport crosses the antimeridian
		rects = []rtreego.Rect{
			boundToRect(orb.Bound{Min: viewport.Min, Max: orb.Point{180, viewport.Max[1]}}),
			boundToRect(orb.Bound{Min: orb.Point{-180, viewport.Min[1]}, Max: viewport.Max}),
		}
	}

	keep := make(map[string]struct{})
	for _, rect := range rects {
		for _, s := range r.rtree.SearchIntersect(rect) {
			keep[s.(*registryEntry).id] = struct{}{}
		}
	}

	var evicted []string
	for el := r.order.Front(); el != nil; {
		e := el.Value.(*registryEntry)
		el = el.Next()
		if _, ok := keep[e.id]; ok {
			continue
		}
		r.removeLocked(e)
		evicted = append(evicted, e.id)
	}
	return evicted
}

// Clear drops every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*registryEntry)
	r.order.Init()
	r.rtree = rtreego.NewTree(2, 25, 50)
}

func (r *Registry) removeLocked(e *registryEntry) {
	delete(r.entries, e.id)
	r.order.Remove(e.element)
	r.rtree.Delete(e)
}

// minExtent keeps degenerate bounds (points, axis-aligned lines) valid as
// R-tree rectangles.
const minExtent = 1e-9

func boundToRect(b orb.Bound) rtreego.Rect {
	point := rtreego.Point{b.Min[0], b.Min[1]}
	lengths := []float64{
		max(b.Max[0]-b.Min[0], minExtent),
		max(b.Max[1]-b.Min[1], minExtent),
	}
	rect, _ := rtreego.NewRect(point, lengths)
	return rect
}
