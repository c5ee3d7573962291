// Package reactive records which document nodes a computation reads and
// re-runs it when one of them changes.
//
// An Observer is the observation scope. Reads made inside Observer.Run (or an
// Autorun) through the view layer are attributed to the innermost active
// scope; the observer then listens to the nodes it read and calls its
// callback after each transaction that changed one of them.
package reactive

import (
	"go.uber.org/zap"

	"reactivecrdt/luvjson/core/lvlog"
	"reactivecrdt/luvjson/crdt"
)

// Option configures an Observer.
type Option func(*Observer)

// WithName names the observer in debug logs.
func WithName(name string) Option {
	return func(o *Observer) {
		o.name = name
	}
}

// Observer is a dependency-tracking scope. It implements crdt.AccessObserver
// and crdt.ChangeListener. An Observer is not safe for concurrent use.
type Observer struct {
	name     string
	callback func()
	deps     map[crdt.Node]struct{}
	disposed bool
	runs     int
}

// NewObserver creates an observer that calls callback after a node it depends
// on changed.
func NewObserver(callback func(), opts ...Option) *Observer {
	o := &Observer{
		callback: callback,
		deps:     make(map[crdt.Node]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run calls fn with the observer as the active scope. Dependencies collected
// by earlier runs are kept; call Reset first to start over.
func (o *Observer) Run(fn func()) {
	push(o)
	defer pop(o)
	fn()
}

// NodeAccessed subscribes the observer to n.
func (o *Observer) NodeAccessed(n crdt.Node) {
	if o.disposed {
		return
	}
	if _, ok := o.deps[n]; ok {
		return
	}
	o.deps[n] = struct{}{}
	n.Listen(o)
}

// NodeChanged calls the callback.
func (o *Observer) NodeChanged(n crdt.Node) {
	if o.disposed || o.callback == nil {
		return
	}
	o.runs++
	lvlog.Debug("observer triggered",
		zap.String("observer", o.name),
		zap.Stringer("node", n.ID()),
		zap.Int("runs", o.runs))
	o.callback()
}

// Dependencies returns the number of nodes the observer listens to.
func (o *Observer) Dependencies() int {
	return len(o.deps)
}

// DependsOn reports whether the observer listens to n.
func (o *Observer) DependsOn(n crdt.Node) bool {
	_, ok := o.deps[n]
	return ok
}

// Triggered returns how many times a change invoked the callback.
func (o *Observer) Triggered() int {
	return o.runs
}

// Reset stops listening to every dependency.
func (o *Observer) Reset() {
	for n := range o.deps {
		n.Unlisten(o)
	}
	clear(o.deps)
}

// Dispose resets the observer and ignores all later accesses and changes.
func (o *Observer) Dispose() {
	o.Reset()
	o.disposed = true
}

// Disposed reports whether Dispose was called.
func (o *Observer) Disposed() bool {
	return o.disposed
}
