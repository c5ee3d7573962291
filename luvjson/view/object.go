package view

import (
	"encoding/json"
	"iter"

	"github.com/pkg/errors"

	"reactivecrdt/luvjson/crdt"
)

// ObjectView is the live view of an LWW object node.
type ObjectView struct {
	node  *crdt.LWWObjectNode
	cache *WrapCache
}

// Node returns the underlying object node.
func (o *ObjectView) Node() crdt.Node {
	return o.node
}

// Object returns the underlying object node.
func (o *ObjectView) Object() *crdt.LWWObjectNode {
	return o.node
}

// Field returns the value stored under key, or nil.
func (o *ObjectView) Field(key string) any {
	child := tracked(o.node, func() crdt.Node {
		return o.node.Get(key)
	})
	return o.cache.Dispatch(child)
}

// Array returns the array view stored under key.
func (o *ObjectView) Array(key string) (*ArrayView, bool) {
	v, ok := o.Field(key).(*ArrayView)
	return v, ok
}

// Child returns the object view stored under key.
func (o *ObjectView) Child(key string) (*ObjectView, bool) {
	v, ok := o.Field(key).(*ObjectView)
	return v, ok
}

// Text returns the text node stored under key.
func (o *ObjectView) Text(key string) (*crdt.RGAStringNode, bool) {
	v, ok := o.Field(key).(*crdt.RGAStringNode)
	return v, ok
}

// Get returns the value stored under a string key, or nil if the key is
// absent. SymbolToStringTag and SymbolInternal are also accepted.
func (o *ObjectView) Get(key any) (any, error) {
	switch k := key.(type) {
	case string:
		return o.Field(k), nil
	case Symbol:
		switch k {
		case SymbolToStringTag:
			return "Object", nil
		case SymbolInternal:
			return o.node, nil
		}
	}
	return nil, errors.Wrapf(ErrInvalidKey, "object has no property %v", key)
}

// Set stores value under a string key.
func (o *ObjectView) Set(key, value any) error {
	k, ok := key.(string)
	if !ok {
		return errors.Wrapf(ErrInvalidKey, "cannot set %v on object", key)
	}
	item, err := o.cache.normalize(value)
	if err != nil {
		return err
	}
	return o.node.Set(k, item)
}

// Delete removes a string key. It returns false if the key was absent.
func (o *ObjectView) Delete(key any) (bool, error) {
	k, ok := key.(string)
	if !ok {
		return false, errors.Wrapf(ErrInvalidKey, "cannot delete %v from object", key)
	}
	return o.node.Delete(k)
}

// Has reports whether a string key is present.
func (o *ObjectView) Has(key any) bool {
	k, ok := key.(string)
	if !ok {
		return false
	}
	return tracked(o.node, func() bool {
		return o.node.Has(k)
	})
}

// Keys returns the keys in ascending order.
func (o *ObjectView) Keys() []string {
	return tracked(o.node, o.node.Keys)
}

// Len returns the number of keys.
func (o *ObjectView) Len() int {
	return tracked(o.node, o.node.Size)
}

// All iterates over a snapshot of the fields in key order.
func (o *ObjectView) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, key := range o.Keys() {
			if !yield(key, o.Field(key)) {
				return
			}
		}
	}
}

// ToJSON returns the fields as plain values, recursively.
func (o *ObjectView) ToJSON() any {
	return plain(o.node)
}

// MarshalJSON implements the json.Marshaler interface.
func (o *ObjectView) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.ToJSON())
}
