package crdtpatch

import (
	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdt"
)

// PatchBuilder collects the local operations of a document and turns them
// into patches. Each committed local transaction becomes one pending patch.
type PatchBuilder struct {
	// sessionID is the session ID of the document.
	sessionID common.SessionID

	// pending holds committed transactions not flushed yet.
	pending [][]crdt.Op

	// cancel detaches the builder from the document.
	cancel func()
}

// NewPatchBuilder creates a PatchBuilder that records the local updates of doc.
func NewPatchBuilder(doc *crdt.Document) *PatchBuilder {
	b := &PatchBuilder{sessionID: doc.SessionID()}
	b.cancel = doc.OnUpdate(func(u crdt.Update) {
		if u.Local {
			b.pending = append(b.pending, u.Ops)
		}
	})
	return b
}

// Pending returns the number of transactions waiting to be flushed.
func (b *PatchBuilder) Pending() int {
	return len(b.pending)
}

// Ready reports whether a pending transaction holds an operation with a
// local counter. Transactions that only create named roots are held back
// until they can travel with real content.
func (b *PatchBuilder) Ready() bool {
	for _, tx := range b.pending {
		for _, op := range tx {
			if op.ID.SID == b.sessionID && op.ID.Counter > 0 {
				return true
			}
		}
	}
	return false
}

// Next removes the oldest pending transaction and returns it as a patch, or
// nil if nothing is pending.
func (b *PatchBuilder) Next() (*Patch, error) {
	if len(b.pending) == 0 {
		return nil, nil
	}
	ops := b.pending[0]
	b.pending = b.pending[1:]
	return NewPatchFromOps(b.patchID(ops), ops)
}

// Flush merges all pending transactions into one patch, or returns nil if
// nothing is pending.
func (b *PatchBuilder) Flush() (*Patch, error) {
	if len(b.pending) == 0 {
		return nil, nil
	}
	var ops []crdt.Op
	for _, tx := range b.pending {
		ops = append(ops, tx...)
	}
	b.pending = nil
	return NewPatchFromOps(b.patchID(ops), ops)
}

// Close detaches the builder from the document. Pending transactions stay
// available.
func (b *PatchBuilder) Close() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// patchID returns the id of the first operation made by the local session.
// Patches holding only named root creations get counter 0.
func (b *PatchBuilder) patchID(ops []crdt.Op) common.LogicalTimestamp {
	for _, op := range ops {
		if op.ID.SID == b.sessionID {
			return op.ID
		}
	}
	return common.LogicalTimestamp{SID: b.sessionID}
}
