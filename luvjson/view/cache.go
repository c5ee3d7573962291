package view

import (
	"runtime"
	"sync"
	"weak"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"reactivecrdt/luvjson/core/lvlog"
	"reactivecrdt/luvjson/crdt"
)

// DefaultCache is the process-wide cache used by the package-level functions.
var DefaultCache = NewWrapCache()

// WrapCache maps nodes to their views. Both sides are held weakly: a view
// lives as long as application code references it, and its entry is removed
// once it has been collected.
type WrapCache struct {
	mutex   sync.Mutex
	arrays  map[weak.Pointer[crdt.RGAArrayNode]]weak.Pointer[ArrayView]
	objects map[weak.Pointer[crdt.LWWObjectNode]]weak.Pointer[ObjectView]
}

// NewWrapCache creates an empty cache.
func NewWrapCache() *WrapCache {
	return &WrapCache{
		arrays:  make(map[weak.Pointer[crdt.RGAArrayNode]]weak.Pointer[ArrayView]),
		objects: make(map[weak.Pointer[crdt.LWWObjectNode]]weak.Pointer[ObjectView]),
	}
}

// Get returns the live view of n.
func (c *WrapCache) Get(n crdt.Node) (View, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch node := n.(type) {
	case *crdt.RGAArrayNode:
		if v := lookup(c.arrays, node); v != nil {
			return v, true
		}
	case *crdt.LWWObjectNode:
		if v := lookup(c.objects, node); v != nil {
			return v, true
		}
	}
	return nil, false
}

// Put registers v as the view of its node, replacing a collected entry.
// It fails with ErrAlreadyWrapped if another live view exists.
func (c *WrapCache) Put(v View) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch view := v.(type) {
	case *ArrayView:
		return store(c, c.arrays, view.node, view)
	case *ObjectView:
		return store(c, c.objects, view.node, view)
	}
	return errors.Errorf("unsupported view type %T", v)
}

// Len returns the number of entries, including ones whose view was collected
// but not yet cleaned up.
func (c *WrapCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.arrays) + len(c.objects)
}

// NewArrayView creates the view of node and registers it. It fails with
// ErrAlreadyWrapped if node already has a live view.
func (c *WrapCache) NewArrayView(node *crdt.RGAArrayNode) (*ArrayView, error) {
	if node == nil {
		return nil, errors.New("array node cannot be nil")
	}
	v := &ArrayView{node: node, cache: c}
	if err := c.Put(v); err != nil {
		return nil, err
	}
	return v, nil
}

// NewObjectView creates the view of node and registers it. It fails with
// ErrAlreadyWrapped if node already has a live view.
func (c *WrapCache) NewObjectView(node *crdt.LWWObjectNode) (*ObjectView, error) {
	if node == nil {
		return nil, errors.New("object node cannot be nil")
	}
	v := &ObjectView{node: node, cache: c}
	if err := c.Put(v); err != nil {
		return nil, err
	}
	return v, nil
}

// arrayView returns the cached view of node or creates one.
func (c *WrapCache) arrayView(node *crdt.RGAArrayNode) *ArrayView {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if v := lookup(c.arrays, node); v != nil {
		return v
	}
	v := &ArrayView{node: node, cache: c}
	_ = store(c, c.arrays, node, v)
	lvlog.Debug("view created", zap.Stringer("kind", KindArray), zap.Stringer("node", node.ID()))
	return v
}

// objectView returns the cached view of node or creates one.
func (c *WrapCache) objectView(node *crdt.LWWObjectNode) *ObjectView {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if v := lookup(c.objects, node); v != nil {
		return v
	}
	v := &ObjectView{node: node, cache: c}
	_ = store(c, c.objects, node, v)
	lvlog.Debug("view created", zap.Stringer("kind", KindObject), zap.Stringer("node", node.ID()))
	return v
}

func lookup[N, V any](entries map[weak.Pointer[N]]weak.Pointer[V], node *N) *V {
	if wp, ok := entries[weak.Make(node)]; ok {
		return wp.Value()
	}
	return nil
}

// store must be called with c.mutex held.
func store[N, V any](c *WrapCache, entries map[weak.Pointer[N]]weak.Pointer[V], node *N, v *V) error {
	key := weak.Make(node)
	if existing, ok := entries[key]; ok {
		if live := existing.Value(); live != nil && live != v {
			return errors.WithStack(ErrAlreadyWrapped)
		}
	}
	entries[key] = weak.Make(v)
	runtime.AddCleanup(v, func(key weak.Pointer[N]) {
		c.mutex.Lock()
		defer c.mutex.Unlock()
		if current, ok := entries[key]; ok && current.Value() == nil {
			delete(entries, key)
		}
	}, key)
	return nil
}
