package crdt

import (
	"unicode/utf8"

	"reactivecrdt/luvjson/common"
)

// Op is the in-memory record of one document operation. Local mutations
// record ops and Integrate applies them on other replicas.
type Op struct {
	// Type is the operation kind.
	Type common.OperationType

	// ID is the timestamp of the operation. For "new" it is the id of the
	// created node, for "ins" it is the id of the first inserted element.
	ID common.LogicalTimestamp

	// Target is the node an "ins" or "del" operation modifies.
	Target common.LogicalTimestamp

	// Ref is the element an array or text insert goes after. Zero inserts at
	// the head.
	Ref common.LogicalTimestamp

	// NodeType, Name, Value and Boxed describe the node a "new" operation creates.
	NodeType common.NodeType
	Name     string
	Value    any
	Boxed    bool

	// Key is the object field written or deleted.
	Key string

	// Child is the node inserted into an array or stored in an object field.
	Child common.LogicalTimestamp

	// Text is the text inserted into a string node.
	Text string

	// IDs are the elements removed by a sequence "del" operation.
	IDs []common.LogicalTimestamp

	// Length is the number of counters a "nop" operation consumes.
	Length uint64
}

// Span returns the number of logical clock counters the operation consumes.
func (op Op) Span() uint64 {
	switch op.Type {
	case common.OperationTypeIns:
		if op.Text != "" {
			return uint64(utf8.RuneCountInString(op.Text))
		}
	case common.OperationTypeNop:
		if op.Length > 0 {
			return op.Length
		}
	}
	return 1
}
