package crdt

import (
	"encoding/json"
	"sort"

	"reactivecrdt/luvjson/common"
)

// LWWObjectNode represents a Last-Write-Wins object node.
type LWWObjectNode struct {
	nodeBase
	fields map[string]*LWWObjectField
}

// LWWObjectField represents a field in a LWW object. A deleted field keeps its
// timestamp so older concurrent writes cannot resurrect it.
type LWWObjectField struct {
	Timestamp common.LogicalTimestamp
	Value     Node
	Deleted   bool
}

// NewLWWObjectNode creates a new LWW object node.
func NewLWWObjectNode(id common.LogicalTimestamp) *LWWObjectNode {
	n := &LWWObjectNode{fields: make(map[string]*LWWObjectField)}
	n.init(n, id)
	return n
}

// Type returns the type of the node.
func (n *LWWObjectNode) Type() common.NodeType {
	return common.NodeTypeObj
}

// Value returns the plain value of the node.
func (n *LWWObjectNode) Value() any {
	result := make(map[string]any, len(n.fields))
	for key, field := range n.fields {
		if !field.Deleted {
			result[key] = field.Value.Value()
		}
	}
	return result
}

// Get returns the node stored under key, or nil.
func (n *LWWObjectNode) Get(key string) Node {
	n.reportAccess()
	if field, ok := n.fields[key]; ok && !field.Deleted {
		return field.Value
	}
	return nil
}

// Has reports whether key is present.
func (n *LWWObjectNode) Has(key string) bool {
	n.reportAccess()
	field, ok := n.fields[key]
	return ok && !field.Deleted
}

// Keys returns the visible keys of the object in ascending order.
func (n *LWWObjectNode) Keys() []string {
	n.reportAccess()
	return n.keys()
}

// Size returns the number of visible keys.
func (n *LWWObjectNode) Size() int {
	n.reportAccess()
	return len(n.keys())
}

func (n *LWWObjectNode) keys() []string {
	keys := make([]string, 0, len(n.fields))
	for key, field := range n.fields {
		if !field.Deleted {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Set stores a plain value or a detached node under key.
func (n *LWWObjectNode) Set(key string, value any) error {
	if n.doc == nil {
		node, err := detachedNode(value)
		if err != nil {
			return err
		}
		if old, ok := n.fields[key]; ok && !old.Deleted {
			old.Value.base().parent = nil
		}
		node.base().parent = n
		n.fields[key] = &LWWObjectField{Value: node}
		n.changed()
		return nil
	}
	return n.doc.transact(func() error {
		return n.doc.setObjectField(n, key, value)
	})
}

// Delete removes key. It returns false if the key was not present.
func (n *LWWObjectNode) Delete(key string) (bool, error) {
	field, ok := n.fields[key]
	if !ok || field.Deleted {
		return false, nil
	}

	if n.doc == nil {
		field.Value.base().parent = nil
		delete(n.fields, key)
		n.changed()
		return true, nil
	}

	err := n.doc.transact(func() error {
		ts := n.doc.tick(1)
		n.DeleteField(key, ts)
		n.doc.record(Op{
			Type:   common.OperationTypeDel,
			ID:     ts,
			Target: n.id,
			Key:    key,
		})
		n.changed()
		return nil
	})
	return err == nil, err
}

// SetField integrates a field write. It returns false if a newer write exists.
func (n *LWWObjectNode) SetField(key string, timestamp common.LogicalTimestamp, value Node) bool {
	field, ok := n.fields[key]
	if ok && timestamp.Compare(field.Timestamp) <= 0 {
		return false
	}
	n.fields[key] = &LWWObjectField{Timestamp: timestamp, Value: value}
	return true
}

// DeleteField integrates a field deletion. It returns false if a newer write exists.
func (n *LWWObjectNode) DeleteField(key string, timestamp common.LogicalTimestamp) bool {
	field, ok := n.fields[key]
	if ok && timestamp.Compare(field.Timestamp) <= 0 {
		return false
	}
	n.fields[key] = &LWWObjectField{Timestamp: timestamp, Deleted: true}
	return true
}

// Fields returns the raw fields including tombstones.
func (n *LWWObjectNode) Fields() map[string]*LWWObjectField {
	result := make(map[string]*LWWObjectField, len(n.fields))
	for key, field := range n.fields {
		result[key] = field
	}
	return result
}

type jsonField struct {
	Timestamp common.LogicalTimestamp `json:"ts"`
	Value     json.RawMessage         `json:"value,omitempty"`
	Deleted   bool                    `json:"deleted,omitempty"`
}

type jsonObject struct {
	Type   string                  `json:"type"`
	ID     common.LogicalTimestamp `json:"id"`
	Name   string                  `json:"name,omitempty"`
	Fields map[string]jsonField    `json:"fields"`
}

// MarshalJSON returns a JSON representation of the node.
func (n *LWWObjectNode) MarshalJSON() ([]byte, error) {
	node := jsonObject{
		Type:   string(n.Type()),
		ID:     n.id,
		Name:   rootName(n),
		Fields: make(map[string]jsonField, len(n.fields)),
	}

	for key, field := range n.fields {
		f := jsonField{Timestamp: field.Timestamp, Deleted: field.Deleted}
		if !field.Deleted {
			valueJSON, err := json.Marshal(field.Value)
			if err != nil {
				return nil, err
			}
			f.Value = valueJSON
		}
		node.Fields[key] = f
	}

	return json.Marshal(node)
}
