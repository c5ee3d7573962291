package reactive

import "sync"

// The scope stack is process-wide. A nil entry marks an untracked section.
var scopes struct {
	sync.Mutex
	stack []*Observer
}

func push(o *Observer) {
	scopes.Lock()
	scopes.stack = append(scopes.stack, o)
	scopes.Unlock()
}

func pop(o *Observer) {
	scopes.Lock()
	defer scopes.Unlock()
	n := len(scopes.stack)
	if n == 0 || scopes.stack[n-1] != o {
		panic("reactive: unbalanced scope stack")
	}
	scopes.stack[n-1] = nil
	scopes.stack = scopes.stack[:n-1]
}

// Current returns the innermost active observer, or nil outside any scope and
// inside Untracked.
func Current() *Observer {
	scopes.Lock()
	defer scopes.Unlock()
	if n := len(scopes.stack); n > 0 {
		return scopes.stack[n-1]
	}
	return nil
}

// Untracked calls fn with no active scope, so its reads create no
// dependencies.
func Untracked(fn func()) {
	push(nil)
	defer pop(nil)
	fn()
}
