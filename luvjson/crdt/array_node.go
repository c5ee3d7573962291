package crdt

import (
	"encoding/json"

	"reactivecrdt/luvjson/common"
)

// RGAElement represents an element in a Replicated Growable Array.
type RGAElement struct {
	ID      common.LogicalTimestamp
	Value   Node
	Deleted bool
}

// RGAArrayNode represents a Replicated Growable Array array node.
// Elements are ordered by their insertion reference and, between concurrent
// inserts at the same reference, by descending id.
type RGAArrayNode struct {
	nodeBase
	elements []*RGAElement
}

// NewRGAArrayNode creates a new RGA array node.
func NewRGAArrayNode(id common.LogicalTimestamp) *RGAArrayNode {
	n := &RGAArrayNode{elements: make([]*RGAElement, 0)}
	n.init(n, id)
	return n
}

// Type returns the type of the node.
func (n *RGAArrayNode) Type() common.NodeType {
	return common.NodeTypeArr
}

// Value returns the plain value of the node.
func (n *RGAArrayNode) Value() any {
	result := make([]any, 0, len(n.elements))
	for _, elem := range n.elements {
		if !elem.Deleted {
			result = append(result, elem.Value.Value())
		}
	}
	return result
}

// Length returns the number of visible elements in the array.
func (n *RGAArrayNode) Length() int {
	n.reportAccess()
	return n.length()
}

func (n *RGAArrayNode) length() int {
	count := 0
	for _, elem := range n.elements {
		if !elem.Deleted {
			count++
		}
	}
	return count
}

// Get returns the node stored at the visible index.
func (n *RGAArrayNode) Get(index int) (Node, error) {
	n.reportAccess()
	elem := n.visibleAt(index)
	if elem == nil {
		return nil, common.ErrIndexOutOfRange{Index: index, Length: n.length()}
	}
	return elem.Value, nil
}

// Slice returns the nodes in [start, end). Negative bounds count from the end
// and out-of-range bounds are clamped.
func (n *RGAArrayNode) Slice(start, end int) []Node {
	n.reportAccess()
	visible := n.visible()
	start, end = ClampRange(start, end, len(visible))

	result := make([]Node, 0, end-start)
	for _, elem := range visible[start:end] {
		result = append(result, elem.Value)
	}
	return result
}

// Insert inserts values before the visible index. Values may be plain values
// or detached nodes.
func (n *RGAArrayNode) Insert(index int, values ...any) error {
	if length := n.length(); index < 0 || index > length {
		return common.ErrIndexOutOfRange{Index: index, Length: length}
	}
	if len(values) == 0 {
		return nil
	}
	nodes, err := prepareValues(n.doc, values)
	if err != nil {
		return err
	}
	if n.doc == nil {
		n.insertDetached(index, nodes)
		return nil
	}
	return n.doc.transact(func() error {
		return n.doc.insertIntoArray(n, index, nodes)
	})
}

// Push appends values to the end of the array.
func (n *RGAArrayNode) Push(values ...any) error {
	return n.Insert(n.length(), values...)
}

// Unshift prepends values to the array.
func (n *RGAArrayNode) Unshift(values ...any) error {
	return n.Insert(0, values...)
}

// Delete removes length visible elements starting at index.
func (n *RGAArrayNode) Delete(index, length int) error {
	size := n.length()
	if index < 0 || length < 0 || index+length > size {
		return common.ErrIndexOutOfRange{Index: index + length, Length: size}
	}
	if length == 0 {
		return nil
	}

	if n.doc == nil {
		visible := n.visible()
		for _, elem := range visible[index : index+length] {
			n.removeElement(elem)
			elem.Value.base().parent = nil
		}
		n.changed()
		return nil
	}

	return n.doc.transact(func() error {
		visible := n.visible()
		ids := make([]common.LogicalTimestamp, 0, length)
		for _, elem := range visible[index : index+length] {
			elem.Deleted = true
			ids = append(ids, elem.ID)
		}
		n.doc.record(Op{
			Type:   common.OperationTypeDel,
			ID:     n.doc.tick(1),
			Target: n.id,
			IDs:    ids,
		})
		n.changed()
		return nil
	})
}

// Elements returns the raw elements including tombstones.
func (n *RGAArrayNode) Elements() []*RGAElement {
	return append([]*RGAElement(nil), n.elements...)
}

// InsertAfter integrates an element after refID. A zero refID inserts at the
// head. It returns false if the element already exists or refID is unknown.
func (n *RGAArrayNode) InsertAfter(refID, elemID common.LogicalTimestamp, value Node) bool {
	if n.indexOf(elemID) >= 0 {
		return false
	}

	pos := -1
	if !refID.IsZero() {
		if pos = n.indexOf(refID); pos < 0 {
			return false
		}
	}

	i := pos + 1
	for i < len(n.elements) && n.elements[i].ID.Compare(elemID) > 0 {
		i++
	}

	elem := &RGAElement{ID: elemID, Value: value}
	n.elements = append(n.elements, nil)
	copy(n.elements[i+1:], n.elements[i:])
	n.elements[i] = elem
	return true
}

// DeleteElement marks an element as deleted.
func (n *RGAArrayNode) DeleteElement(elemID common.LogicalTimestamp) bool {
	pos := n.indexOf(elemID)
	if pos < 0 || n.elements[pos].Deleted {
		return false
	}
	n.elements[pos].Deleted = true
	return true
}

func (n *RGAArrayNode) insertDetached(index int, nodes []Node) {
	// detached elements have no ids yet, so positions are found by pointer
	pos := len(n.elements)
	if elem := n.visibleAt(index); elem != nil {
		for i, e := range n.elements {
			if e == elem {
				pos = i
				break
			}
		}
	}

	inserted := make([]*RGAElement, len(nodes))
	for i, node := range nodes {
		node.base().parent = n
		inserted[i] = &RGAElement{Value: node}
	}
	n.elements = append(n.elements[:pos], append(inserted, n.elements[pos:]...)...)
	n.changed()
}

func (n *RGAArrayNode) removeElement(elem *RGAElement) {
	for i, e := range n.elements {
		if e == elem {
			n.elements = append(n.elements[:i], n.elements[i+1:]...)
			return
		}
	}
}

func (n *RGAArrayNode) visible() []*RGAElement {
	result := make([]*RGAElement, 0, len(n.elements))
	for _, elem := range n.elements {
		if !elem.Deleted {
			result = append(result, elem)
		}
	}
	return result
}

func (n *RGAArrayNode) visibleAt(index int) *RGAElement {
	if index < 0 {
		return nil
	}
	visibleIndex := 0
	for _, elem := range n.elements {
		if elem.Deleted {
			continue
		}
		if visibleIndex == index {
			return elem
		}
		visibleIndex++
	}
	return nil
}

// refBefore returns the id of the element an insert at index goes after.
func (n *RGAArrayNode) refBefore(index int) common.LogicalTimestamp {
	if index == 0 {
		return common.NilID
	}
	return n.visibleAt(index - 1).ID
}

func (n *RGAArrayNode) indexOf(id common.LogicalTimestamp) int {
	for i, elem := range n.elements {
		if elem.ID == id {
			return i
		}
	}
	return -1
}

type jsonElement struct {
	ID      common.LogicalTimestamp `json:"id"`
	Value   json.RawMessage         `json:"value"`
	Deleted bool                    `json:"deleted,omitempty"`
}

type jsonArray struct {
	Type     string                  `json:"type"`
	ID       common.LogicalTimestamp `json:"id"`
	Name     string                  `json:"name,omitempty"`
	Elements []jsonElement           `json:"elements"`
}

// MarshalJSON returns a JSON representation of the node.
func (n *RGAArrayNode) MarshalJSON() ([]byte, error) {
	node := jsonArray{
		Type:     string(n.Type()),
		ID:       n.id,
		Name:     rootName(n),
		Elements: make([]jsonElement, len(n.elements)),
	}

	for i, elem := range n.elements {
		valueJSON, err := json.Marshal(elem.Value)
		if err != nil {
			return nil, err
		}
		node.Elements[i] = jsonElement{
			ID:      elem.ID,
			Value:   valueJSON,
			Deleted: elem.Deleted,
		}
	}

	return json.Marshal(node)
}

// ClampRange resolves JavaScript-style slice bounds against a length.
func ClampRange(start, end, length int) (int, int) {
	resolve := func(i int) int {
		if i < 0 {
			i += length
			if i < 0 {
				i = 0
			}
		}
		if i > length {
			i = length
		}
		return i
	}

	start, end = resolve(start), resolve(end)
	if end < start {
		end = start
	}
	return start, end
}
