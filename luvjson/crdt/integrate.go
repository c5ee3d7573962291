package crdt

import (
	"github.com/pkg/errors"

	"reactivecrdt/luvjson/common"
)

// Integrate applies operations produced by another replica as one
// transaction. Operations that were already applied are skipped, so
// integrating the same ops twice is harmless. The ops are checked with Ready
// first: if any of them cannot be applied yet, nothing is applied and the
// clock and state vector stay where they were.
func (d *Document) Integrate(ops ...Op) error {
	if err := d.Ready(ops...); err != nil {
		return err
	}
	return d.transact(func() error {
		for i, op := range ops {
			applied, err := d.integrateOp(op)
			if err != nil {
				return errors.Wrapf(err, "failed to integrate operation %d (%s %v)", i, op.Type, op.ID)
			}
			d.observe(op.ID, op.Span())
			if applied {
				d.remoteOps = append(d.remoteOps, op)
			}
		}
		return nil
	})
}

// Ready reports whether ops can be integrated now. It returns
// common.ErrMissingDependency for the first operation that references a node
// or element neither the document nor an earlier op in ops provides, and
// other errors for malformed operations. It does not modify the document.
func (d *Document) Ready(ops ...Op) error {
	created := make(map[common.LogicalTimestamp]common.NodeType)
	elements := make(map[common.LogicalTimestamp]bool)

	nodeType := func(id common.LogicalTimestamp) (common.NodeType, bool) {
		if n, ok := d.index[id]; ok {
			return n.Type(), true
		}
		t, ok := created[id]
		return t, ok
	}
	hasElement := func(target, id common.LogicalTimestamp) bool {
		if elements[id] {
			return true
		}
		switch n := d.index[target].(type) {
		case *RGAArrayNode:
			return n.indexOf(id) >= 0
		case *RGAStringNode:
			return n.indexOf(id) >= 0
		}
		return false
	}

	for _, op := range ops {
		switch op.Type {
		case common.OperationTypeNew:
			if _, ok := d.index[op.ID]; ok {
				continue
			}
			switch op.NodeType {
			case common.NodeTypeCon, common.NodeTypeArr, common.NodeTypeObj, common.NodeTypeStr:
				created[op.ID] = op.NodeType
			default:
				return common.ErrInvalidNodeType{Type: string(op.NodeType)}
			}

		case common.OperationTypeIns:
			t, ok := nodeType(op.Target)
			if !ok {
				return common.ErrMissingDependency{ID: op.Target}
			}
			switch t {
			case common.NodeTypeArr:
				if hasElement(op.Target, op.ID) {
					continue
				}
				if _, ok := nodeType(op.Child); !ok {
					return common.ErrMissingDependency{ID: op.Child}
				}
				if !op.Ref.IsZero() && !hasElement(op.Target, op.Ref) {
					return common.ErrMissingDependency{ID: op.Ref}
				}
				elements[op.ID] = true
			case common.NodeTypeObj:
				if _, ok := nodeType(op.Child); !ok {
					return common.ErrMissingDependency{ID: op.Child}
				}
			case common.NodeTypeStr:
				if !op.Ref.IsZero() && !hasElement(op.Target, op.Ref) && !hasElement(op.Target, op.ID) {
					return common.ErrMissingDependency{ID: op.Ref}
				}
				for k := range op.Span() {
					elements[op.ID.Increment(k)] = true
				}
			default:
				return common.ErrInvalidNodeType{Type: string(t)}
			}

		case common.OperationTypeDel:
			t, ok := nodeType(op.Target)
			if !ok {
				return common.ErrMissingDependency{ID: op.Target}
			}
			switch t {
			case common.NodeTypeArr, common.NodeTypeStr:
				for _, id := range op.IDs {
					if !hasElement(op.Target, id) {
						return common.ErrMissingDependency{ID: id}
					}
				}
			case common.NodeTypeObj:
			default:
				return common.ErrInvalidNodeType{Type: string(t)}
			}

		case common.OperationTypeNop:

		default:
			return common.ErrInvalidOperationType{Type: string(op.Type)}
		}
	}
	return nil
}

func (d *Document) integrateOp(op Op) (bool, error) {
	switch op.Type {
	case common.OperationTypeNew:
		if _, ok := d.index[op.ID]; ok {
			return false, nil
		}
		_, err := d.createNode(op)
		return err == nil, err

	case common.OperationTypeIns:
		target, ok := d.index[op.Target]
		if !ok {
			return false, common.ErrNodeNotFound{ID: op.Target}
		}
		return d.integrateInsert(target, op)

	case common.OperationTypeDel:
		target, ok := d.index[op.Target]
		if !ok {
			return false, common.ErrNodeNotFound{ID: op.Target}
		}
		return d.integrateDelete(target, op)

	case common.OperationTypeNop:
		return false, nil

	default:
		return false, common.ErrInvalidOperationType{Type: string(op.Type)}
	}
}

func (d *Document) integrateInsert(target Node, op Op) (bool, error) {
	switch n := target.(type) {
	case *RGAArrayNode:
		if n.indexOf(op.ID) >= 0 {
			return false, nil
		}
		child, ok := d.index[op.Child]
		if !ok {
			return false, common.ErrNodeNotFound{ID: op.Child}
		}
		if !n.InsertAfter(op.Ref, op.ID, child) {
			return false, common.ErrInvalidOperation{Message: "unknown insert reference " + op.Ref.String()}
		}
		child.base().parent = n
		n.changed()
		return true, nil

	case *LWWObjectNode:
		child, ok := d.index[op.Child]
		if !ok {
			return false, common.ErrNodeNotFound{ID: op.Child}
		}
		if !n.SetField(op.Key, op.ID, child) {
			return false, nil
		}
		child.base().parent = n
		n.changed()
		return true, nil

	case *RGAStringNode:
		if n.indexOf(op.ID) >= 0 {
			return false, nil
		}
		if !n.InsertAfter(op.Ref, op.ID, op.Text) {
			return false, common.ErrInvalidOperation{Message: "unknown insert reference " + op.Ref.String()}
		}
		n.changed()
		return true, nil

	default:
		return false, common.ErrInvalidNodeType{Type: string(target.Type())}
	}
}

func (d *Document) integrateDelete(target Node, op Op) (bool, error) {
	changed := false
	switch n := target.(type) {
	case *RGAArrayNode:
		for _, id := range op.IDs {
			if n.DeleteElement(id) {
				changed = true
			}
		}
	case *LWWObjectNode:
		changed = n.DeleteField(op.Key, op.ID)
	case *RGAStringNode:
		for _, id := range op.IDs {
			if n.DeleteChar(id) {
				changed = true
			}
		}
	default:
		return false, common.ErrInvalidNodeType{Type: string(target.Type())}
	}
	if changed {
		target.base().changed()
	}
	return changed, nil
}
