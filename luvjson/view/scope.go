package view

import (
	"reactivecrdt/luvjson/crdt"
	"reactivecrdt/luvjson/reactive"
)

// tracked runs read with the active scope attached to n, so the accesses n
// reports during read are attributed to that scope. The attachment is made
// on every call and undone afterwards.
func tracked[T any](n crdt.Node, read func() T) T {
	prev := n.ImplicitObserver()
	if o := reactive.Current(); o != nil {
		n.SetImplicitObserver(o)
	} else {
		n.SetImplicitObserver(nil)
	}
	defer n.SetImplicitObserver(prev)
	return read()
}

// TextValue returns the content of a text node, recording the read in the
// active scope.
func TextValue(text *crdt.RGAStringNode) string {
	return tracked(text, text.String)
}

// transact groups fn into one transaction of the node's document. Detached
// nodes have no document and run fn directly.
func transact(n crdt.Node, fn func() error) error {
	if doc := n.Document(); doc != nil {
		return doc.Transact(fn)
	}
	return fn()
}
