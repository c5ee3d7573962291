package crdtpatch

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdt"
)

// Patch represents a JSON CRDT Patch document: the operations of one
// transaction, as exchanged between replicas.
type Patch struct {
	// id is the ID of the patch. Its session id names the replica that
	// produced the patch.
	id common.LogicalTimestamp

	// metadata is optional custom metadata.
	metadata map[string]any

	// operations is the list of operations in the patch.
	operations []Operation
}

// NewPatch creates a new JSON CRDT Patch document.
func NewPatch(id common.LogicalTimestamp) *Patch {
	return &Patch{
		id:         id,
		metadata:   make(map[string]any),
		operations: make([]Operation, 0),
	}
}

// NewPatchFromOps creates a patch from document-level operations.
func NewPatchFromOps(id common.LogicalTimestamp, ops []crdt.Op) (*Patch, error) {
	p := NewPatch(id)
	for _, op := range ops {
		operation, err := FromOp(op)
		if err != nil {
			return nil, err
		}
		p.AddOperation(operation)
	}
	return p, nil
}

// ID returns the ID of the patch.
func (p *Patch) ID() common.LogicalTimestamp {
	return p.id
}

// SessionID returns the session of the replica that produced the patch.
func (p *Patch) SessionID() common.SessionID {
	return p.id.SID
}

// Metadata returns the metadata of the patch.
func (p *Patch) Metadata() map[string]any {
	return p.metadata
}

// SetMetadata sets the metadata of the patch.
func (p *Patch) SetMetadata(metadata map[string]any) {
	p.metadata = metadata
}

// Operations returns the operations in the patch.
func (p *Patch) Operations() []Operation {
	return p.operations
}

// AddOperation adds an operation to the patch.
func (p *Patch) AddOperation(op Operation) {
	p.operations = append(p.operations, op)
}

// Ops returns the document-level form of all operations.
func (p *Patch) Ops() []crdt.Op {
	ops := make([]crdt.Op, len(p.operations))
	for i, op := range p.operations {
		ops[i] = op.ToOp()
	}
	return ops
}

// Span returns the number of logical clock cycles the patch takes.
func (p *Patch) Span() uint64 {
	var span uint64
	for _, op := range p.operations {
		span += op.Span()
	}
	return span
}

// Apply integrates all operations into the document as one transaction.
func (p *Patch) Apply(doc *crdt.Document) error {
	if err := doc.Integrate(p.Ops()...); err != nil {
		return errors.Wrapf(err, "failed to apply patch %v", p.id)
	}
	return nil
}

// Clone creates a copy of the patch with the same ID and operations.
func (p *Patch) Clone() *Patch {
	clone := NewPatch(p.id)
	for k, v := range p.metadata {
		clone.metadata[k] = v
	}
	for _, op := range p.operations {
		// FromOp cannot fail for operations that came out of ToOp
		copied, _ := FromOp(op.ToOp())
		clone.AddOperation(copied)
	}
	return clone
}

type jsonPatch struct {
	ID       common.LogicalTimestamp `json:"id"`
	Metadata map[string]any          `json:"meta,omitempty"`
	Ops      []json.RawMessage       `json:"ops"`
}

// MarshalJSON implements the json.Marshaler interface.
func (p *Patch) MarshalJSON() ([]byte, error) {
	ops := make([]json.RawMessage, len(p.operations))
	for i, op := range p.operations {
		opJSON, err := json.Marshal(op)
		if err != nil {
			return nil, err
		}
		ops[i] = opJSON
	}

	return json.Marshal(jsonPatch{
		ID:       p.id,
		Metadata: p.metadata,
		Ops:      ops,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var patch jsonPatch
	if err := json.Unmarshal(data, &patch); err != nil {
		return err
	}

	p.id = patch.ID
	p.metadata = patch.Metadata
	if p.metadata == nil {
		p.metadata = make(map[string]any)
	}

	p.operations = make([]Operation, len(patch.Ops))
	for i, opJSON := range patch.Ops {
		var opmeta struct {
			Op string                  `json:"op"`
			ID common.LogicalTimestamp `json:"id"`
		}
		if err := json.Unmarshal(opJSON, &opmeta); err != nil {
			return errors.Wrapf(err, "operation %d", i)
		}

		var opType common.OperationType
		switch {
		case opmeta.Op == "nop":
			opType = common.OperationTypeNop
		case opmeta.Op == "ins":
			opType = common.OperationTypeIns
		case opmeta.Op == "del":
			opType = common.OperationTypeDel
		case strings.HasPrefix(opmeta.Op, "new_"):
			opType = common.OperationTypeNew
		default:
			return common.ErrInvalidOperation{Message: "invalid operation type: " + opmeta.Op}
		}

		op := MakeOperation(opType, opmeta.ID)
		if err := json.Unmarshal(opJSON, op); err != nil {
			return errors.Wrapf(err, "operation %d", i)
		}
		p.operations[i] = op
	}

	return nil
}
