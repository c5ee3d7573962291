package crdt

import (
	"github.com/pkg/errors"

	"reactivecrdt/luvjson/common"
)

// Box marks a value that is stored as one opaque constant instead of being
// converted into nested CRDT nodes.
type Box struct {
	Value any
}

// NewArray creates a detached array node holding values. It becomes part of
// a document once it is inserted into an integrated node.
func NewArray(values ...any) (*RGAArrayNode, error) {
	arr := NewRGAArrayNode(common.NilID)
	if err := arr.Insert(0, values...); err != nil {
		return nil, errors.Wrap(err, "failed to fill array")
	}
	return arr, nil
}

// NewObject creates a detached object node holding fields.
func NewObject(fields map[string]any) (*LWWObjectNode, error) {
	obj := NewLWWObjectNode(common.NilID)
	for key, value := range fields {
		if err := obj.Set(key, value); err != nil {
			return nil, errors.Wrapf(err, "failed to set field %s", key)
		}
	}
	return obj, nil
}

// NewText creates a detached text node.
func NewText(text string) *RGAStringNode {
	str := NewRGAStringNode(common.NilID)
	_ = str.Insert(0, text)
	return str
}

// NormalizeScalar converts Go scalars into the JSON value space used by
// constant nodes. Integers become float64.
func NormalizeScalar(value any) (any, bool) {
	switch v := value.(type) {
	case nil, bool, string, float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return nil, false
	}
}

// detachedNode converts a value into a node that is not yet part of a document.
func detachedNode(value any) (Node, error) {
	switch v := value.(type) {
	case Node:
		if err := checkInsertable(v, nil); err != nil {
			return nil, err
		}
		return v, nil
	case Box:
		c := NewConstantNode(common.NilID, v.Value)
		c.boxed = true
		return c, nil
	case *Box:
		c := NewConstantNode(common.NilID, v.Value)
		c.boxed = true
		return c, nil
	case []any:
		return NewArray(v...)
	case map[string]any:
		return NewObject(v)
	}

	scalar, ok := NormalizeScalar(value)
	if !ok {
		return nil, errors.Errorf("unsupported value type: %T", value)
	}
	return NewConstantNode(common.NilID, scalar), nil
}

// prepareValues converts values into nodes that can be inserted into doc, or
// into a detached node when doc is nil. All values are checked before any of
// them is used, so a failing value leaves the target untouched.
func prepareValues(doc *Document, values []any) ([]Node, error) {
	nodes := make([]Node, len(values))
	seen := make(map[Node]bool, len(values))
	for i, value := range values {
		n, ok := value.(Node)
		if !ok {
			node, err := detachedNode(value)
			if err != nil {
				return nil, errors.Wrapf(err, "value %d", i)
			}
			nodes[i] = node
			continue
		}
		if err := checkInsertable(n, doc); err != nil {
			return nil, errors.Wrapf(err, "value %d", i)
		}
		if doc != nil && n.Document() == doc {
			return nil, errors.Wrapf(common.ErrInvalidOperation{Message: "node is already integrated"}, "value %d", i)
		}
		if seen[n] {
			return nil, errors.Wrapf(common.ErrInvalidOperation{Message: "node is inserted twice"}, "value %d", i)
		}
		seen[n] = true
		nodes[i] = n
	}
	return nodes, nil
}

// checkInsertable rejects nodes that already have a parent or belong to a
// different document.
func checkInsertable(n Node, doc *Document) error {
	b := n.base()
	if b.parent != nil {
		return common.ErrInvalidOperation{Message: "node is already part of another node"}
	}
	if b.doc != nil && b.doc != doc {
		return common.ErrInvalidOperation{Message: "node belongs to another document"}
	}
	return nil
}
