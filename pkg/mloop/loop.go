// Package mloop provides the single-goroutine cooperative message loop that
// owns all debugger client state. Every Session, System, Target, Thread and
// Breakpoint mutation happens on the loop goroutine; Post is the only entry
// point that may be called from other goroutines.
package mloop

import (
	"sync"
)

// Loop is a FIFO task queue drained by a single goroutine.
//
// Loops are passed explicitly to every component that needs to schedule work;
// there is no process-global "current loop".
type Loop struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []func()
	quit  bool
}

// New returns a Loop ready to accept tasks. Run must be called for the tasks
// to execute.
func New() *Loop {
	l := &Loop{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Post schedules fn to run on the loop goroutine. Safe to call from any
// goroutine, including from within a task. Tasks posted after Quit are
// dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quit {
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
}

// Run drains the queue until Quit is called, blocking when the queue is
// empty. It must be called from exactly one goroutine.
func (l *Loop) Run() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.quit {
			l.cond.Wait()
		}
		if l.quit && len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}

// RunUntilIdle drains every task currently queued, including tasks posted by
// the tasks it runs, then returns. Used by tests to pump the loop
// deterministically.
func (l *Loop) RunUntilIdle() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}

// Quit makes Run return once the queue is drained. Pending tasks still run;
// new Posts are dropped.
func (l *Loop) Quit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quit = true
	l.cond.Broadcast()
}
