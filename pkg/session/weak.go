package session

// Core objects may be destroyed while callbacks referencing them are still
// queued on the loop. Weak references pair the pointer with a liveness flag
// set at destruction; holders must check Get before dereferencing and degrade
// to a no-op or an error when the object is gone.
//
// Everything here runs on the loop goroutine, so a plain bool suffices.

type weakFlag struct {
	alive bool
}

func newWeakFlag() *weakFlag {
	return &weakFlag{alive: true}
}

func (f *weakFlag) invalidate() {
	f.alive = false
}

// WeakBreakpoint is a non-owning reference to a Breakpoint.
type WeakBreakpoint struct {
	bp   *Breakpoint
	flag *weakFlag
}

// Get returns the breakpoint, or nil if it has been destroyed.
func (w WeakBreakpoint) Get() *Breakpoint {
	if w.flag != nil && w.flag.alive {
		return w.bp
	}
	return nil
}

// WeakProcess is a non-owning reference to a Process.
type WeakProcess struct {
	p    *Process
	flag *weakFlag
}

// Get returns the process, or nil if it has been destroyed.
func (w WeakProcess) Get() *Process {
	if w.flag != nil && w.flag.alive {
		return w.p
	}
	return nil
}

// WeakThread is a non-owning reference to a Thread.
type WeakThread struct {
	t    *Thread
	flag *weakFlag
}

// Get returns the thread, or nil if it has been destroyed.
func (w WeakThread) Get() *Thread {
	if w.flag != nil && w.flag.alive {
		return w.t
	}
	return nil
}

// WeakTarget is a non-owning reference to a Target.
type WeakTarget struct {
	t    *Target
	flag *weakFlag
}

// Get returns the target, or nil if it has been destroyed.
func (w WeakTarget) Get() *Target {
	if w.flag != nil && w.flag.alive {
		return w.t
	}
	return nil
}
