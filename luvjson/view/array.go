package view

import (
	"encoding/json"
	"iter"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"reactivecrdt/luvjson/crdt"
)

// ArrayView is the live view of an RGA array node. Integer keys address
// elements; string keys address the named properties listed in Get.
type ArrayView struct {
	node  *crdt.RGAArrayNode
	cache *WrapCache
}

// Node returns the underlying array node.
func (a *ArrayView) Node() crdt.Node {
	return a.node
}

// Array returns the underlying array node.
func (a *ArrayView) Array() *crdt.RGAArrayNode {
	return a.node
}

// Len returns the number of elements.
func (a *ArrayView) Len() int {
	return tracked(a.node, a.node.Length)
}

// At returns the element at i, or nil if i is out of range.
func (a *ArrayView) At(i int) any {
	child := tracked(a.node, func() crdt.Node {
		n, err := a.node.Get(i)
		if err != nil {
			return nil
		}
		return n
	})
	return a.cache.Dispatch(child)
}

// Get returns the element at an index key or the named property. Properties
// are length, push, unshift, insert, slice, forEach, filter, find, map,
// toJSON and the symbols SymbolIterator, SymbolToStringTag and
// SymbolInternal.
func (a *ArrayView) Get(key any) (any, error) {
	if i, ok := toIndex(key); ok {
		return a.At(i), nil
	}
	if p, ok := a.property(key); ok {
		return p, nil
	}
	return nil, errors.Wrapf(ErrInvalidKey, "array has no property %v", key)
}

// Set stores value at an index key. An index equal to Len appends.
func (a *ArrayView) Set(key, value any) error {
	i, ok := toIndex(key)
	if !ok {
		return errors.Wrapf(ErrInvalidKey, "cannot set %v on array", key)
	}
	item, err := a.cache.normalize(value)
	if err != nil {
		return err
	}

	length := a.node.Length()
	switch {
	case i < 0 || i > length:
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, length)
	case i == length:
		return a.node.Push(item)
	}
	// the new element goes in first; a rejected value leaves the old one
	return transact(a.node, func() error {
		if err := a.node.Insert(i, item); err != nil {
			return err
		}
		return a.node.Delete(i+1, 1)
	})
}

// Delete removes the element at an index key. It returns false and leaves
// the array unchanged if the index is out of range.
func (a *ArrayView) Delete(key any) (bool, error) {
	i, ok := toIndex(key)
	if !ok {
		return false, errors.Wrapf(ErrInvalidKey, "cannot delete %v from array", key)
	}
	if i < 0 || i >= a.node.Length() {
		return false, nil
	}
	if err := a.node.Delete(i, 1); err != nil {
		return false, err
	}
	return true, nil
}

// Has reports whether an index key is in range or a named property exists.
func (a *ArrayView) Has(key any) bool {
	if i, ok := toIndex(key); ok {
		return i >= 0 && i < a.Len()
	}
	_, ok := a.property(key)
	return ok
}

// Keys returns the indices as strings, in ascending order.
func (a *ArrayView) Keys() []string {
	n := a.Len()
	keys := make([]string, n)
	for i := range keys {
		keys[i] = strconv.Itoa(i)
	}
	return keys
}

// Push appends items and returns the new length.
func (a *ArrayView) Push(items ...any) (int, error) {
	return a.Insert(a.node.Length(), items...)
}

// Unshift prepends items and returns the new length.
func (a *ArrayView) Unshift(items ...any) (int, error) {
	return a.Insert(0, items...)
}

// Insert inserts items before index and returns the new length. Views are
// stored as their nodes; slices and maps become new nodes.
func (a *ArrayView) Insert(index int, items ...any) (int, error) {
	values := make([]any, len(items))
	for i, item := range items {
		v, err := a.cache.normalize(item)
		if err != nil {
			return a.node.Length(), errors.Wrapf(err, "item %d", i)
		}
		values[i] = v
	}
	if err := a.node.Insert(index, values...); err != nil {
		return a.node.Length(), err
	}
	return a.node.Length(), nil
}

// Slice returns the elements in [start, end) as a plain slice. With no bounds
// it returns every element; a single bound is the start. Negative bounds count
// from the end. Only the array read is attributed here; a child is attributed
// when it is read through its own view.
func (a *ArrayView) Slice(bounds ...int) []any {
	start, end := 0, math.MaxInt
	if len(bounds) > 0 {
		start = bounds[0]
	}
	if len(bounds) > 1 {
		end = bounds[1]
	}

	children := tracked(a.node, func() []crdt.Node {
		return a.node.Slice(start, end)
	})
	values := make([]any, len(children))
	for i, child := range children {
		values[i] = a.cache.Dispatch(child)
	}
	return values
}

// ForEach calls fn for every element.
func (a *ArrayView) ForEach(fn func(value any, index int)) {
	for i, v := range a.Slice() {
		fn(v, i)
	}
}

// Filter returns the elements for which keep returns true.
func (a *ArrayView) Filter(keep func(value any, index int) bool) []any {
	var result []any
	for i, v := range a.Slice() {
		if keep(v, i) {
			result = append(result, v)
		}
	}
	return result
}

// Find returns the first element matching match.
func (a *ArrayView) Find(match func(value any, index int) bool) (any, bool) {
	for i, v := range a.Slice() {
		if match(v, i) {
			return v, true
		}
	}
	return nil, false
}

// Map returns fn applied to every element.
func (a *ArrayView) Map(fn func(value any, index int) any) []any {
	values := a.Slice()
	result := make([]any, len(values))
	for i, v := range values {
		result[i] = fn(v, i)
	}
	return result
}

// Values iterates over a snapshot of the elements.
func (a *ArrayView) Values() iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, v := range a.Slice() {
			if !yield(v) {
				return
			}
		}
	}
}

// All iterates over a snapshot of the elements with their indices.
func (a *ArrayView) All() iter.Seq2[int, any] {
	return func(yield func(int, any) bool) {
		for i, v := range a.Slice() {
			if !yield(i, v) {
				return
			}
		}
	}
}

// ToJSON returns the elements as plain values, recursively.
func (a *ArrayView) ToJSON() any {
	return plain(a.node)
}

// MarshalJSON implements the json.Marshaler interface.
func (a *ArrayView) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.ToJSON())
}

func (a *ArrayView) property(key any) (any, bool) {
	switch k := key.(type) {
	case Symbol:
		switch k {
		case SymbolIterator:
			return a.Values(), true
		case SymbolToStringTag:
			return "Array", true
		case SymbolInternal:
			return a.node, true
		}
	case string:
		switch k {
		case "length":
			return a.Len(), true
		case "push":
			return a.Push, true
		case "unshift":
			return a.Unshift, true
		case "insert":
			return a.Insert, true
		case "slice":
			return a.Slice, true
		case "forEach":
			return a.ForEach, true
		case "filter":
			return a.Filter, true
		case "find":
			return a.Find, true
		case "map":
			return a.Map, true
		case "toJSON":
			return a.ToJSON, true
		}
	}
	return nil, false
}
