package crdt

import (
	"encoding/json"

	"reactivecrdt/luvjson/common"
)

// ConstantNode represents a constant (leaf) value node.
type ConstantNode struct {
	nodeBase
	value any
	boxed bool
}

// NewConstantNode creates a new constant node.
func NewConstantNode(id common.LogicalTimestamp, value any) *ConstantNode {
	n := &ConstantNode{value: value}
	n.init(n, id)
	return n
}

// Type returns the type of the node.
func (n *ConstantNode) Type() common.NodeType {
	return common.NodeTypeCon
}

// Value returns the value of the node.
func (n *ConstantNode) Value() any {
	return n.value
}

// Boxed reports whether the value was stored as an opaque box.
func (n *ConstantNode) Boxed() bool {
	return n.boxed
}

type jsonConstant struct {
	Type  string                  `json:"type"`
	ID    common.LogicalTimestamp `json:"id"`
	Value any                     `json:"value"`
	Boxed bool                    `json:"boxed,omitempty"`
}

// MarshalJSON returns a JSON representation of the node.
func (n *ConstantNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonConstant{
		Type:  string(n.Type()),
		ID:    n.id,
		Value: n.value,
		Boxed: n.boxed,
	})
}
