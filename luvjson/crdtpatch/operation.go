package crdtpatch

import (
	"encoding/json"
	"strings"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdt"
)

// Operation represents a JSON CRDT Patch operation.
type Operation interface {
	// Type returns the type of the operation.
	Type() common.OperationType

	// GetID returns the ID of the operation.
	GetID() common.LogicalTimestamp

	// Apply integrates the operation into the document.
	Apply(doc *crdt.Document) error

	// Span returns the number of logical clock cycles the operation takes.
	Span() uint64

	// ToOp returns the document-level form of the operation.
	ToOp() crdt.Op

	// MarshalJSON returns a JSON representation of the operation.
	json.Marshaler

	// UnmarshalJSON parses a JSON representation of the operation.
	json.Unmarshaler
}

// MakeOperation creates a new operation based on the operation type.
func MakeOperation(opType common.OperationType, id common.LogicalTimestamp) Operation {
	switch opType {
	case common.OperationTypeNew:
		return &NewOperation{ID: id}
	case common.OperationTypeIns:
		return &InsOperation{ID: id}
	case common.OperationTypeDel:
		return &DelOperation{ID: id}
	case common.OperationTypeNop:
		return &NopOperation{ID: id}
	default:
		return nil
	}
}

// FromOp converts a document-level operation into its patch form.
func FromOp(op crdt.Op) (Operation, error) {
	switch op.Type {
	case common.OperationTypeNew:
		return &NewOperation{ID: op.ID, NodeType: op.NodeType, Name: op.Name, Value: op.Value, Boxed: op.Boxed}, nil
	case common.OperationTypeIns:
		return &InsOperation{ID: op.ID, TargetID: op.Target, RefID: op.Ref, Key: op.Key, ChildID: op.Child, Text: op.Text}, nil
	case common.OperationTypeDel:
		return &DelOperation{ID: op.ID, TargetID: op.Target, Key: op.Key, IDs: op.IDs}, nil
	case common.OperationTypeNop:
		return &NopOperation{ID: op.ID, SpanValue: op.Span()}, nil
	default:
		return nil, common.ErrInvalidOperationType{Type: string(op.Type)}
	}
}

// NewOperation represents an operation that creates a new CRDT node.
// A non-empty Name creates a named root type.
type NewOperation struct {
	ID       common.LogicalTimestamp
	NodeType common.NodeType
	Name     string
	Value    any
	Boxed    bool
}

// Type returns the type of the operation.
func (o *NewOperation) Type() common.OperationType {
	return common.OperationTypeNew
}

// GetID returns the ID of the operation.
func (o *NewOperation) GetID() common.LogicalTimestamp {
	return o.ID
}

// Apply applies the operation to the document.
func (o *NewOperation) Apply(doc *crdt.Document) error {
	return doc.Integrate(o.ToOp())
}

// Span returns the number of logical clock cycles the operation takes.
func (o *NewOperation) Span() uint64 {
	return 1
}

// ToOp returns the document-level form of the operation.
func (o *NewOperation) ToOp() crdt.Op {
	return crdt.Op{
		Type:     common.OperationTypeNew,
		ID:       o.ID,
		NodeType: o.NodeType,
		Name:     o.Name,
		Value:    o.Value,
		Boxed:    o.Boxed,
	}
}

type jsonNewOp struct {
	Op    string                  `json:"op"`
	ID    common.LogicalTimestamp `json:"id"`
	Name  string                  `json:"name,omitempty"`
	Value json.RawMessage         `json:"value,omitempty"`
	Boxed bool                    `json:"boxed,omitempty"`
}

// MarshalJSON returns a JSON representation of the operation.
func (o *NewOperation) MarshalJSON() ([]byte, error) {
	op := jsonNewOp{
		Op:    "new_" + string(o.NodeType),
		ID:    o.ID,
		Name:  o.Name,
		Boxed: o.Boxed,
	}
	if o.NodeType == common.NodeTypeCon {
		value, err := json.Marshal(o.Value)
		if err != nil {
			return nil, err
		}
		op.Value = value
	}
	return json.Marshal(op)
}

// UnmarshalJSON parses a JSON representation of the operation.
func (o *NewOperation) UnmarshalJSON(data []byte) error {
	var op jsonNewOp
	if err := json.Unmarshal(data, &op); err != nil {
		return err
	}
	nodeType, ok := strings.CutPrefix(op.Op, "new_")
	if !ok || !common.NodeType(nodeType).Valid() {
		return common.ErrInvalidNodeType{Type: op.Op}
	}

	o.ID = op.ID
	o.NodeType = common.NodeType(nodeType)
	o.Name = op.Name
	o.Boxed = op.Boxed
	o.Value = nil
	if len(op.Value) > 0 {
		if err := json.Unmarshal(op.Value, &o.Value); err != nil {
			return err
		}
	}
	return nil
}

// InsOperation inserts into an existing node: an element after RefID in an
// array, a field under Key in an object, or Text after RefID in a string.
type InsOperation struct {
	ID       common.LogicalTimestamp
	TargetID common.LogicalTimestamp
	RefID    common.LogicalTimestamp
	Key      string
	ChildID  common.LogicalTimestamp
	Text     string
}

// Type returns the type of the operation.
func (o *InsOperation) Type() common.OperationType {
	return common.OperationTypeIns
}

// GetID returns the ID of the operation.
func (o *InsOperation) GetID() common.LogicalTimestamp {
	return o.ID
}

// Apply applies the operation to the document.
func (o *InsOperation) Apply(doc *crdt.Document) error {
	return doc.Integrate(o.ToOp())
}

// Span returns the number of logical clock cycles the operation takes.
func (o *InsOperation) Span() uint64 {
	return o.ToOp().Span()
}

// ToOp returns the document-level form of the operation.
func (o *InsOperation) ToOp() crdt.Op {
	return crdt.Op{
		Type:   common.OperationTypeIns,
		ID:     o.ID,
		Target: o.TargetID,
		Ref:    o.RefID,
		Key:    o.Key,
		Child:  o.ChildID,
		Text:   o.Text,
	}
}

type jsonInsOp struct {
	Op    string                   `json:"op"`
	ID    common.LogicalTimestamp  `json:"id"`
	Obj   common.LogicalTimestamp  `json:"obj"`
	Ref   *common.LogicalTimestamp `json:"ref,omitempty"`
	Key   string                   `json:"key,omitempty"`
	Value *common.LogicalTimestamp `json:"value,omitempty"`
	Text  string                   `json:"text,omitempty"`
}

// MarshalJSON returns a JSON representation of the operation.
func (o *InsOperation) MarshalJSON() ([]byte, error) {
	op := jsonInsOp{
		Op:   string(common.OperationTypeIns),
		ID:   o.ID,
		Obj:  o.TargetID,
		Key:  o.Key,
		Text: o.Text,
	}
	if !o.RefID.IsZero() {
		ref := o.RefID
		op.Ref = &ref
	}
	if !o.ChildID.IsZero() {
		child := o.ChildID
		op.Value = &child
	}
	return json.Marshal(op)
}

// UnmarshalJSON parses a JSON representation of the operation.
func (o *InsOperation) UnmarshalJSON(data []byte) error {
	var op jsonInsOp
	if err := json.Unmarshal(data, &op); err != nil {
		return err
	}
	if op.Op != string(common.OperationTypeIns) {
		return common.ErrInvalidOperationType{Type: op.Op}
	}
	if op.Value == nil && op.Text == "" {
		return common.ErrInvalidOperation{Message: "ins operation without value or text"}
	}

	*o = InsOperation{ID: op.ID, TargetID: op.Obj, Key: op.Key, Text: op.Text}
	if op.Ref != nil {
		o.RefID = *op.Ref
	}
	if op.Value != nil {
		o.ChildID = *op.Value
	}
	return nil
}

// DelOperation deletes a field under Key from an object or the elements IDs
// from an array or string.
type DelOperation struct {
	ID       common.LogicalTimestamp
	TargetID common.LogicalTimestamp
	Key      string
	IDs      []common.LogicalTimestamp
}

// Type returns the type of the operation.
func (o *DelOperation) Type() common.OperationType {
	return common.OperationTypeDel
}

// GetID returns the ID of the operation.
func (o *DelOperation) GetID() common.LogicalTimestamp {
	return o.ID
}

// Apply applies the operation to the document.
func (o *DelOperation) Apply(doc *crdt.Document) error {
	return doc.Integrate(o.ToOp())
}

// Span returns the number of logical clock cycles the operation takes.
func (o *DelOperation) Span() uint64 {
	return 1
}

// ToOp returns the document-level form of the operation.
func (o *DelOperation) ToOp() crdt.Op {
	return crdt.Op{
		Type:   common.OperationTypeDel,
		ID:     o.ID,
		Target: o.TargetID,
		Key:    o.Key,
		IDs:    o.IDs,
	}
}

type jsonDelOp struct {
	Op   string                    `json:"op"`
	ID   common.LogicalTimestamp   `json:"id"`
	Obj  common.LogicalTimestamp   `json:"obj"`
	Key  string                    `json:"key,omitempty"`
	What []common.LogicalTimestamp `json:"what,omitempty"`
}

// MarshalJSON returns a JSON representation of the operation.
func (o *DelOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonDelOp{
		Op:   string(common.OperationTypeDel),
		ID:   o.ID,
		Obj:  o.TargetID,
		Key:  o.Key,
		What: o.IDs,
	})
}

// UnmarshalJSON parses a JSON representation of the operation.
func (o *DelOperation) UnmarshalJSON(data []byte) error {
	var op jsonDelOp
	if err := json.Unmarshal(data, &op); err != nil {
		return err
	}
	if op.Op != string(common.OperationTypeDel) {
		return common.ErrInvalidOperationType{Type: op.Op}
	}
	if op.Key == "" && len(op.What) == 0 {
		return common.ErrInvalidOperation{Message: "del operation without key or ids"}
	}
	*o = DelOperation{ID: op.ID, TargetID: op.Obj, Key: op.Key, IDs: op.What}
	return nil
}

// NopOperation reserves clock cycles without changing the document.
type NopOperation struct {
	ID        common.LogicalTimestamp
	SpanValue uint64
}

// Type returns the type of the operation.
func (o *NopOperation) Type() common.OperationType {
	return common.OperationTypeNop
}

// GetID returns the ID of the operation.
func (o *NopOperation) GetID() common.LogicalTimestamp {
	return o.ID
}

// Apply applies the operation to the document.
func (o *NopOperation) Apply(doc *crdt.Document) error {
	return doc.Integrate(o.ToOp())
}

// Span returns the number of logical clock cycles the operation takes.
func (o *NopOperation) Span() uint64 {
	return o.ToOp().Span()
}

// ToOp returns the document-level form of the operation.
func (o *NopOperation) ToOp() crdt.Op {
	return crdt.Op{Type: common.OperationTypeNop, ID: o.ID, Length: o.SpanValue}
}

type jsonNopOp struct {
	Op  string                  `json:"op"`
	ID  common.LogicalTimestamp `json:"id"`
	Len uint64                  `json:"len,omitempty"`
}

// MarshalJSON returns a JSON representation of the operation.
func (o *NopOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonNopOp{Op: string(common.OperationTypeNop), ID: o.ID, Len: o.SpanValue})
}

// UnmarshalJSON parses a JSON representation of the operation.
func (o *NopOperation) UnmarshalJSON(data []byte) error {
	var op jsonNopOp
	if err := json.Unmarshal(data, &op); err != nil {
		return err
	}
	if op.Op != string(common.OperationTypeNop) {
		return common.ErrInvalidOperationType{Type: op.Op}
	}
	*o = NopOperation{ID: op.ID, SpanValue: op.Len}
	return nil
}
