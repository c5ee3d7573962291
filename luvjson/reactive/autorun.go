package reactive

// Autorun runs fn immediately and again whenever a node it read changes.
// Each run starts with fresh dependencies. A change caused by fn itself
// schedules one more run after the current one instead of recursing.
// Dispose the returned observer to stop.
func Autorun(fn func(), opts ...Option) *Observer {
	var (
		o       *Observer
		running bool
		dirty   bool
	)
	run := func() {
		if running {
			dirty = true
			return
		}
		running = true
		defer func() { running = false }()
		for {
			dirty = false
			o.Reset()
			o.Run(fn)
			if !dirty || o.disposed {
				return
			}
		}
	}
	o = NewObserver(run, opts...)
	run()
	return o
}
