package view

import (
	"fmt"

	"reactivecrdt/luvjson/crdt"
)

// Kind classifies a node for dispatch.
type Kind int

const (
	// KindLeaf is a constant scalar or boxed value.
	KindLeaf Kind = iota
	// KindArray is an RGA array.
	KindArray
	// KindObject is an LWW object.
	KindObject
	// KindText is an RGA string.
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindText:
		return "text"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// KindOf returns the kind of n. It panics on a node type the view layer does
// not know.
func KindOf(n crdt.Node) Kind {
	switch n.(type) {
	case *crdt.ConstantNode:
		return KindLeaf
	case *crdt.RGAArrayNode:
		return KindArray
	case *crdt.LWWObjectNode:
		return KindObject
	case *crdt.RGAStringNode:
		return KindText
	}
	panic(fmt.Sprintf("view: unknown node type %T", n))
}
