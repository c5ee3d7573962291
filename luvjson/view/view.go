// Package view exposes replicated document nodes as live, identity-stable
// views. Reading through a view records a dependency in the active reactive
// scope; writing through a view mutates the underlying node, which notifies
// every scope that read it.
package view

import (
	"encoding/json"

	"github.com/pkg/errors"

	"reactivecrdt/luvjson/crdt"
)

var (
	// ErrInvalidKey is returned for keys a view cannot interpret.
	ErrInvalidKey = errors.New("invalid key")

	// ErrIndexOutOfRange is returned when an index write lies past the end.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrAlreadyWrapped is returned when a node that already has a live view
	// is wrapped again.
	ErrAlreadyWrapped = errors.New("node is already wrapped")
)

// View is a live view bound to one node for its lifetime.
type View interface {
	// Node returns the underlying node.
	Node() crdt.Node

	// ToJSON returns the plain value of the node, recursively.
	ToJSON() any

	json.Marshaler
}

// Indexable is the keyed access surface shared by array and object views.
type Indexable interface {
	Get(key any) (any, error)
	Set(key, value any) error
	Delete(key any) (bool, error)
	Has(key any) bool
	Keys() []string
	Len() int
}

var (
	_ View      = (*ArrayView)(nil)
	_ View      = (*ObjectView)(nil)
	_ Indexable = (*ArrayView)(nil)
	_ Indexable = (*ObjectView)(nil)
)

// Text marks a string that is stored as a collaborative text node instead of
// a constant.
type Text string

// Box returns v marked to be stored as one opaque constant.
func Box(v any) crdt.Box {
	return crdt.Box{Value: v}
}

// Dispatch returns the application-facing value of n: the scalar of a leaf,
// the text node itself, or the cached view of an array or object.
func (c *WrapCache) Dispatch(n crdt.Node) any {
	if n == nil {
		return nil
	}
	switch KindOf(n) {
	case KindLeaf:
		leaf := n.(*crdt.ConstantNode)
		if leaf.Boxed() {
			return crdt.Box{Value: leaf.Value()}
		}
		return leaf.Value()
	case KindText:
		return n
	case KindArray:
		return c.arrayView(n.(*crdt.RGAArrayNode))
	case KindObject:
		return c.objectView(n.(*crdt.LWWObjectNode))
	}
	panic("unreachable")
}

// Wrap turns a plain value into its application-facing form. Slices and maps
// become views over new detached nodes, which join a document when inserted.
func (c *WrapCache) Wrap(value any) (any, error) {
	switch v := value.(type) {
	case View:
		return v, nil
	case crdt.Node:
		return c.Dispatch(v), nil
	case crdt.Box:
		return v, nil
	case *crdt.Box:
		return *v, nil
	case []any, map[string]any, Text:
		n, err := c.toNode(v)
		if err != nil {
			return nil, err
		}
		return c.Dispatch(n), nil
	}
	scalar, ok := crdt.NormalizeScalar(value)
	if !ok {
		return nil, errors.Errorf("unsupported value type %T", value)
	}
	return scalar, nil
}

// normalize converts a value into something a node accepts: a node, a box or
// a scalar. Views are replaced by their nodes.
func (c *WrapCache) normalize(value any) (any, error) {
	switch v := value.(type) {
	case View:
		return v.Node(), nil
	case crdt.Node, crdt.Box, *crdt.Box:
		return v, nil
	case []any, map[string]any, Text:
		return c.toNode(v)
	}
	scalar, ok := crdt.NormalizeScalar(value)
	if !ok {
		return nil, errors.Errorf("unsupported value type %T", value)
	}
	return scalar, nil
}

// toNode builds a detached node for a slice, map or text marker.
func (c *WrapCache) toNode(value any) (crdt.Node, error) {
	switch v := value.(type) {
	case Text:
		return crdt.NewText(string(v)), nil
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			normalized, err := c.normalize(item)
			if err != nil {
				return nil, errors.Wrapf(err, "item %d", i)
			}
			items[i] = normalized
		}
		return crdt.NewArray(items...)
	case map[string]any:
		fields := make(map[string]any, len(v))
		for key, item := range v {
			normalized, err := c.normalize(item)
			if err != nil {
				return nil, errors.Wrapf(err, "field %s", key)
			}
			fields[key] = normalized
		}
		return crdt.NewObject(fields)
	}
	return nil, errors.Errorf("unsupported value type %T", value)
}

// Dispatch calls DefaultCache.Dispatch.
func Dispatch(n crdt.Node) any {
	return DefaultCache.Dispatch(n)
}

// Wrap calls DefaultCache.Wrap.
func Wrap(value any) (any, error) {
	return DefaultCache.Wrap(value)
}

// NewArrayView calls DefaultCache.NewArrayView.
func NewArrayView(node *crdt.RGAArrayNode) (*ArrayView, error) {
	return DefaultCache.NewArrayView(node)
}

// NewObjectView calls DefaultCache.NewObjectView.
func NewObjectView(node *crdt.LWWObjectNode) (*ObjectView, error) {
	return DefaultCache.NewObjectView(node)
}

// Unwrap returns the node behind a view. Other values are returned unchanged.
func Unwrap(value any) any {
	if v, ok := value.(View); ok {
		return v.Node()
	}
	return value
}

// New declares the named roots of doc from a template and returns the view
// of the document root. Template values must be empty: []any{} declares an
// array, map[string]any{} an object and Text("") a text.
func New(doc *crdt.Document, template map[string]any) (*ObjectView, error) {
	return DefaultCache.New(doc, template)
}

// New is the cache-bound form of the package-level New.
func (c *WrapCache) New(doc *crdt.Document, template map[string]any) (*ObjectView, error) {
	if doc == nil {
		return nil, errors.New("document cannot be nil")
	}
	err := doc.Transact(func() error {
		for name, value := range template {
			if err := declare(doc, name, value); err != nil {
				return errors.Wrapf(err, "root %s", name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.objectView(doc.Root()), nil
}

func declare(doc *crdt.Document, name string, value any) error {
	switch v := value.(type) {
	case []any:
		if len(v) > 0 {
			return errors.New("template array must be empty")
		}
		_, err := doc.GetArray(name)
		return err
	case map[string]any:
		if len(v) > 0 {
			return errors.New("template object must be empty")
		}
		_, err := doc.GetObject(name)
		return err
	case Text:
		if v != "" {
			return errors.New("template text must be empty")
		}
		_, err := doc.GetText(name)
		return err
	}
	return errors.Errorf("unsupported template value %T", value)
}

// plain returns the plain value of n, recording every node it reads in the
// active scope.
func plain(n crdt.Node) any {
	switch KindOf(n) {
	case KindLeaf:
		return n.Value()
	case KindText:
		return TextValue(n.(*crdt.RGAStringNode))
	case KindArray:
		arr := n.(*crdt.RGAArrayNode)
		children := tracked(arr, func() []crdt.Node {
			return arr.Slice(0, arr.Length())
		})
		result := make([]any, len(children))
		for i, child := range children {
			result[i] = plain(child)
		}
		return result
	case KindObject:
		obj := n.(*crdt.LWWObjectNode)
		children := tracked(obj, func() map[string]crdt.Node {
			fields := make(map[string]crdt.Node)
			for _, key := range obj.Keys() {
				fields[key] = obj.Get(key)
			}
			return fields
		})
		result := make(map[string]any, len(children))
		for key, child := range children {
			result[key] = plain(child)
		}
		return result
	}
	panic("unreachable")
}
