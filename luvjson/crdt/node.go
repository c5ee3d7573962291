package crdt

import (
	"encoding/json"

	"reactivecrdt/luvjson/common"
)

// Node represents a CRDT node in the JSON CRDT document.
type Node interface {
	// ID returns the unique identifier of the node.
	ID() common.LogicalTimestamp

	// Type returns the type of the node.
	Type() common.NodeType

	// Value returns the plain value of the node. It does not report an access.
	Value() any

	// Parent returns the node containing this node, or nil.
	Parent() Node

	// Document returns the document the node is integrated into, or nil for
	// a detached node.
	Document() *Document

	// SetImplicitObserver attaches the observer that the next reads report to.
	SetImplicitObserver(o AccessObserver)

	// ImplicitObserver returns the currently attached observer.
	ImplicitObserver() AccessObserver

	// Listen registers l to be notified after the node changed.
	Listen(l ChangeListener)

	// Unlisten removes l.
	Unlisten(l ChangeListener)

	// MarshalJSON returns a JSON representation of the node.
	json.Marshaler

	base() *nodeBase
}

// AccessObserver is notified when a node is read while the observer is
// attached to it.
type AccessObserver interface {
	NodeAccessed(n Node)
}

// ChangeListener is notified after the visible content of a node changed,
// at most once per transaction.
type ChangeListener interface {
	NodeChanged(n Node)
}

// nodeBase holds the state shared by every node kind.
type nodeBase struct {
	id        common.LogicalTimestamp
	name      string
	self      Node
	doc       *Document
	parent    Node
	implicit  AccessObserver
	listeners []ChangeListener
}

func (b *nodeBase) init(self Node, id common.LogicalTimestamp) {
	b.self = self
	b.id = id
}

// ID returns the unique identifier of the node.
func (b *nodeBase) ID() common.LogicalTimestamp {
	return b.id
}

// Parent returns the node containing this node.
func (b *nodeBase) Parent() Node {
	return b.parent
}

// Document returns the owning document.
func (b *nodeBase) Document() *Document {
	return b.doc
}

// SetImplicitObserver attaches o to the node.
func (b *nodeBase) SetImplicitObserver(o AccessObserver) {
	b.implicit = o
}

// ImplicitObserver returns the attached observer.
func (b *nodeBase) ImplicitObserver() AccessObserver {
	return b.implicit
}

// Listen registers a change listener. Registering twice is a no-op.
func (b *nodeBase) Listen(l ChangeListener) {
	for _, existing := range b.listeners {
		if existing == l {
			return
		}
	}
	b.listeners = append(b.listeners, l)
}

// Unlisten removes a change listener.
func (b *nodeBase) Unlisten(l ChangeListener) {
	for i, existing := range b.listeners {
		if existing == l {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *nodeBase) base() *nodeBase {
	return b
}

// reportAccess tells the attached observer that the node was read.
func (b *nodeBase) reportAccess() {
	if b.implicit != nil {
		b.implicit.NodeAccessed(b.self)
	}
}

// changed records a visible change of the node.
func (b *nodeBase) changed() {
	if b.doc != nil {
		b.doc.markChanged(b.self)
		return
	}
	for _, l := range append([]ChangeListener(nil), b.listeners...) {
		l.NodeChanged(b.self)
	}
}

// rootName returns the name of a named root type, or "".
func rootName(n Node) string {
	return n.base().name
}

// Listeners returns a copy of the listeners registered on n.
func Listeners(n Node) []ChangeListener {
	return append([]ChangeListener(nil), n.base().listeners...)
}
