package crdt

import (
	"slices"

	"github.com/pkg/errors"

	"reactivecrdt/luvjson/common"
)

// Update describes the operations committed by one transaction.
type Update struct {
	// Ops are the committed operations in application order.
	Ops []Op
	// Local is true for operations produced by local mutations and false for
	// integrated remote operations.
	Local bool
}

// UpdateHandler is called after a transaction committed operations.
type UpdateHandler func(u Update)

// Document represents a JSON CRDT document.
type Document struct {
	// root is the root object of the document.
	root *LWWObjectNode

	// index maps node IDs to nodes.
	index map[common.LogicalTimestamp]Node

	// clock is the Lamport clock of the document.
	clock uint64

	// vector holds the highest counter seen per session.
	vector map[string]uint64

	// localSessionID is the session ID of the local user.
	localSessionID common.SessionID

	depth     int
	localOps  []Op
	remoteOps []Op
	changed   []Node

	handlers  map[int]UpdateHandler
	handlerID int
}

// NewDocument creates a new JSON CRDT document.
func NewDocument(sessionID common.SessionID) *Document {
	doc := &Document{
		index:          make(map[common.LogicalTimestamp]Node),
		vector:         make(map[string]uint64),
		localSessionID: sessionID,
		handlers:       make(map[int]UpdateHandler),
	}

	doc.root = NewLWWObjectNode(common.RootID)
	doc.root.doc = doc
	doc.index[common.RootID] = doc.root

	return doc
}

// Root returns the root object of the document.
func (d *Document) Root() *LWWObjectNode {
	return d.root
}

// SessionID returns the local session ID of the document.
func (d *Document) SessionID() common.SessionID {
	return d.localSessionID
}

// Clock returns the current Lamport clock value.
func (d *Document) Clock() uint64 {
	return d.clock
}

// StateVector returns a copy of the highest counter seen per session.
func (d *Document) StateVector() map[string]uint64 {
	result := make(map[string]uint64, len(d.vector))
	for sid, counter := range d.vector {
		result[sid] = counter
	}
	return result
}

// GetNode returns the node with the specified ID.
func (d *Document) GetNode(id common.LogicalTimestamp) (Node, error) {
	node, ok := d.index[id]
	if !ok {
		return nil, common.ErrNodeNotFound{ID: id}
	}
	return node, nil
}

// View returns the plain value of the whole document.
func (d *Document) View() any {
	return d.root.Value()
}

// OnUpdate registers a handler called after every committed transaction.
// The returned function removes the handler.
func (d *Document) OnUpdate(handler UpdateHandler) func() {
	d.handlerID++
	id := d.handlerID
	d.handlers[id] = handler
	return func() {
		delete(d.handlers, id)
	}
}

// Transact runs fn as one transaction. Listeners are notified once, after fn
// returned, and all local operations are reported as a single update.
// Operations applied before an error are kept.
func (d *Document) Transact(fn func() error) error {
	return d.transact(fn)
}

// GetArray returns the named root array, creating it if needed.
func (d *Document) GetArray(name string) (*RGAArrayNode, error) {
	node, err := d.named(name, common.NodeTypeArr)
	if err != nil {
		return nil, err
	}
	return node.(*RGAArrayNode), nil
}

// GetObject returns the named root object, creating it if needed.
func (d *Document) GetObject(name string) (*LWWObjectNode, error) {
	node, err := d.named(name, common.NodeTypeObj)
	if err != nil {
		return nil, err
	}
	return node.(*LWWObjectNode), nil
}

// GetText returns the named root text, creating it if needed.
func (d *Document) GetText(name string) (*RGAStringNode, error) {
	node, err := d.named(name, common.NodeTypeStr)
	if err != nil {
		return nil, err
	}
	return node.(*RGAStringNode), nil
}

// NamedID returns the id every replica uses for the named root type.
func NamedID(name string) common.LogicalTimestamp {
	return common.LogicalTimestamp{SID: common.NamedSessionID(name), Counter: 0}
}

func (d *Document) named(name string, nodeType common.NodeType) (Node, error) {
	id := NamedID(name)
	if node, ok := d.index[id]; ok {
		if node.Type() != nodeType {
			return nil, common.ErrInvalidNodeType{Type: string(node.Type())}
		}
		return node, nil
	}

	var node Node
	err := d.transact(func() error {
		op := Op{Type: common.OperationTypeNew, ID: id, NodeType: nodeType, Name: name}
		var err error
		node, err = d.createNode(op)
		if err != nil {
			return err
		}
		d.record(op)
		return nil
	})
	return node, err
}

// createNode builds and indexes the node described by a "new" operation.
func (d *Document) createNode(op Op) (Node, error) {
	var node Node
	switch op.NodeType {
	case common.NodeTypeCon:
		c := NewConstantNode(op.ID, op.Value)
		c.boxed = op.Boxed
		node = c
	case common.NodeTypeArr:
		node = NewRGAArrayNode(op.ID)
	case common.NodeTypeObj:
		node = NewLWWObjectNode(op.ID)
	case common.NodeTypeStr:
		node = NewRGAStringNode(op.ID)
	default:
		return nil, common.ErrInvalidNodeType{Type: string(op.NodeType)}
	}

	b := node.base()
	b.doc = d
	d.index[op.ID] = node

	if op.Name != "" {
		b.name = op.Name
		b.parent = d.root
		if d.root.SetField(op.Name, op.ID, node) {
			d.root.changed()
		}
	}
	return node, nil
}

// tick reserves span counters for the local session.
func (d *Document) tick(span uint64) common.LogicalTimestamp {
	id := common.LogicalTimestamp{SID: d.localSessionID, Counter: d.clock + 1}
	d.observe(id, span)
	return id
}

// observe advances the clock and the state vector past an operation.
func (d *Document) observe(id common.LogicalTimestamp, span uint64) {
	if id.Counter == 0 {
		return
	}
	last := id.Counter + span - 1
	if last > d.clock {
		d.clock = last
	}
	sid := id.SID.String()
	if last > d.vector[sid] {
		d.vector[sid] = last
	}
}

func (d *Document) record(op Op) {
	d.localOps = append(d.localOps, op)
}

func (d *Document) markChanged(n Node) {
	for _, existing := range d.changed {
		if existing == n {
			return
		}
	}
	d.changed = append(d.changed, n)
	if d.depth == 0 {
		d.commit()
	}
}

func (d *Document) transact(fn func() error) error {
	d.depth++
	defer func() {
		d.depth--
		if d.depth == 0 {
			d.commit()
		}
	}()
	return fn()
}

// commit hands the finished transaction to update handlers and notifies each
// listener of the changed nodes exactly once.
func (d *Document) commit() {
	localOps, remoteOps, changed := d.localOps, d.remoteOps, d.changed
	d.localOps, d.remoteOps, d.changed = nil, nil, nil

	if len(localOps) > 0 {
		d.emit(Update{Ops: localOps, Local: true})
	}
	if len(remoteOps) > 0 {
		d.emit(Update{Ops: remoteOps, Local: false})
	}

	type notification struct {
		listener ChangeListener
		node     Node
	}
	var pending []notification
	seen := make(map[ChangeListener]bool)
	for _, node := range changed {
		for _, l := range node.base().listeners {
			if !seen[l] {
				seen[l] = true
				pending = append(pending, notification{listener: l, node: node})
			}
		}
	}
	for _, p := range pending {
		p.listener.NodeChanged(p.node)
	}
}

func (d *Document) emit(u Update) {
	ids := make([]int, 0, len(d.handlers))
	for id := range d.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if handler, ok := d.handlers[id]; ok {
			handler(u)
		}
	}
}

// adopt assigns ids to a detached node and its content.
func (d *Document) adopt(node Node) error {
	id := d.tick(1)
	b := node.base()
	b.id = id
	b.doc = d
	d.index[id] = node

	op := Op{Type: common.OperationTypeNew, ID: id, NodeType: node.Type()}
	if c, ok := node.(*ConstantNode); ok {
		op.Value = c.value
		op.Boxed = c.boxed
	}
	d.record(op)

	switch n := node.(type) {
	case *RGAArrayNode:
		ref := common.NilID
		for _, elem := range n.elements {
			if err := d.adopt(elem.Value); err != nil {
				return err
			}
			elem.ID = d.tick(1)
			d.record(Op{
				Type:   common.OperationTypeIns,
				ID:     elem.ID,
				Target: id,
				Ref:    ref,
				Child:  elem.Value.ID(),
			})
			ref = elem.ID
		}
	case *LWWObjectNode:
		for _, key := range n.keys() {
			field := n.fields[key]
			if err := d.adopt(field.Value); err != nil {
				return err
			}
			field.Timestamp = d.tick(1)
			d.record(Op{
				Type:   common.OperationTypeIns,
				ID:     field.Timestamp,
				Target: id,
				Key:    key,
				Child:  field.Value.ID(),
			})
		}
		// drop tombstones left over from detached edits
		for key, field := range n.fields {
			if field.Deleted {
				delete(n.fields, key)
			}
		}
	case *RGAStringNode:
		text := n.value()
		n.chars = nil
		if text != "" {
			first := d.tick(uint64(len([]rune(text))))
			n.InsertAfter(common.NilID, first, text)
			d.record(Op{
				Type:   common.OperationTypeIns,
				ID:     first,
				Target: id,
				Text:   text,
			})
		}
	}
	return nil
}

// insertIntoArray integrates nodes prepared by prepareValues.
func (d *Document) insertIntoArray(arr *RGAArrayNode, index int, nodes []Node) error {
	ref := arr.refBefore(index)
	for _, node := range nodes {
		if err := d.adopt(node); err != nil {
			return errors.Wrap(err, "failed to integrate array value")
		}
		elemID := d.tick(1)
		arr.InsertAfter(ref, elemID, node)
		node.base().parent = arr
		d.record(Op{
			Type:   common.OperationTypeIns,
			ID:     elemID,
			Target: arr.id,
			Ref:    ref,
			Child:  node.ID(),
		})
		ref = elemID
	}
	arr.changed()
	return nil
}

func (d *Document) setObjectField(obj *LWWObjectNode, key string, value any) error {
	nodes, err := prepareValues(d, []any{value})
	if err != nil {
		return errors.Wrapf(err, "failed to integrate value for key %s", key)
	}
	node := nodes[0]
	if err := d.adopt(node); err != nil {
		return errors.Wrapf(err, "failed to integrate value for key %s", key)
	}
	ts := d.tick(1)
	obj.SetField(key, ts, node)
	node.base().parent = obj
	d.record(Op{
		Type:   common.OperationTypeIns,
		ID:     ts,
		Target: obj.id,
		Key:    key,
		Child:  node.ID(),
	})
	obj.changed()
	return nil
}
