package render

import (
	"sort"
	"sync"
)

// Collection is an in-memory Renderer. Handles are sequence numbers.
type Collection struct {
	mu         sync.Mutex
	next       uint64
	primitives map[uint64]Primitive
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{primitives: make(map[uint64]Primitive)}
}

// Add stores p and returns its handle.
func (c *Collection) Add(p Primitive) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.primitives[c.next] = p
	return c.next, nil
}

// Remove drops the primitive behind h.
func (c *Collection) Remove(h Handle) error {
	id, ok := h.(uint64)
	if !ok {
		return ErrUnknownHandle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.primitives[id]; !ok {
		return ErrUnknownHandle
	}
	delete(c.primitives, id)
	return nil
}

// Len returns the number of primitives held.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.primitives)
}

// Primitives returns the held primitives in insertion order.
func (c *Collection) Primitives() []Primitive {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.primitives))
	for id := range c.primitives {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Primitive, len(ids))
	for i, id := range ids {
		out[i] = c.primitives[id]
	}
	return out
}
