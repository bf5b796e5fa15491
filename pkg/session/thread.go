package session

import (
	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
)

// Thread is one thread of a live process. It owns the controller stack that
// implements step semantics and arbitrates whether an exception surfaces to
// the user or silently continues.
type Thread struct {
	process *Process
	session *Session

	koid  uint64
	name  string
	state debugipc.ThreadState

	stack Stack

	// controllers are ordered oldest first; the last entry is the topmost
	// (most recently pushed) and decides how the thread continues.
	controllers []ThreadController

	flag *weakFlag
}

func newThread(p *Process, record debugipc.ThreadRecord) *Thread {
	t := &Thread{
		process: p,
		session: p.session,
		koid:    record.ThreadKoid,
		name:    record.Name,
		state:   record.State,
		flag:    newWeakFlag(),
	}
	t.stack.thread = t
	return t
}

// Koid returns the thread koid.
func (t *Thread) Koid() uint64 { return t.koid }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Process returns the owning process.
func (t *Thread) Process() *Process { return t.process }

// State returns the last known scheduler state.
func (t *Thread) State() debugipc.ThreadState { return t.state }

// Stack returns the thread's frame list.
func (t *Thread) Stack() *Stack { return &t.stack }

// WeakRef returns a liveness-checked reference to this thread.
func (t *Thread) WeakRef() WeakThread { return WeakThread{t: t, flag: t.flag} }

func (t *Thread) destroy() {
	t.controllers = nil
	t.flag.invalidate()
}

// AddController pushes a controller. The controller initializes against the
// current stop; an init failure means it never joins the stack.
func (t *Thread) AddController(c ThreadController) error {
	if err := c.InitWithThread(t); err != nil {
		return err
	}
	t.controllers = append(t.controllers, c)
	return nil
}

// ClearControllers cancels all pending step operations.
func (t *Thread) ClearControllers() {
	t.controllers = nil
}

// setFramesFromException installs the stop's frames before any arbitration
// or observer work runs.
func (t *Thread) setFramesFromException(frames []debugipc.StackFrame) {
	t.stack.setFrames(frames)
	t.state = debugipc.ThreadStateBlocked
}

// OnException arbitrates a stop between the controller stack and the user.
//
// The decision runs in order:
//  1. An empty stack means the agent could not unwind; all controllers are
//     abandoned and the stop surfaces.
//  2. Each controller is consulted. StopDone pops the controller and forces
//     a surface. StopContinue is a vote to keep going. StopUnexpected
//     leaves the controller in place without a vote.
//  3. If no controller voted to continue, the stop surfaces. A thread with
//     no controllers therefore always surfaces its stops.
//  4. A hit on a live user-visible breakpoint always surfaces, even when a
//     controller wanted to continue through it.
//  5. A non-debug exception (a crash) always surfaces.
//  6. A surfaced stop goes to thread observers with the internal and dead
//     breakpoints filtered out; otherwise the thread silently continues.
func (t *Thread) OnException(etype debugipc.ExceptionType, hits []WeakBreakpoint) {
	shouldStop := false
	forcedStop := false

	if t.stack.Size() == 0 {
		t.controllers = nil
		forcedStop = true
	}

	anyContinue := false
	if !forcedStop {
		kept := t.controllers[:0]
		for _, c := range t.controllers {
			switch c.OnThreadStop(etype, hits) {
			case StopContinue:
				anyContinue = true
				kept = append(kept, c)
			case StopDone:
				shouldStop = true
			case StopUnexpected:
				kept = append(kept, c)
			}
		}
		t.controllers = kept
	}

	if forcedStop || !anyContinue {
		shouldStop = true
	}

	observable := make([]WeakBreakpoint, 0, len(hits))
	for _, wb := range hits {
		bp := wb.Get()
		if bp == nil || bp.isInternal {
			continue
		}
		observable = append(observable, wb)
		shouldStop = true
	}

	if !etype.IsDebug() {
		shouldStop = true
	}

	if !shouldStop {
		t.Continue(false)
		return
	}
	info := &StopInfo{ExceptionType: etype, HitBreakpoints: observable}
	t.session.eachThreadObserver(func(o ThreadObserver) { o.OnThreadStopped(t, info) })
}

// Continue resumes the thread. The topmost controller picks the resume
// operation; with no controllers the thread plainly continues. A synthetic
// stop is re-dispatched locally without involving the agent, so a controller
// that is already satisfied reports completion immediately.
func (t *Thread) Continue(forwardException bool) {
	op := ContinueOp{How: debugipc.ResumeResolveAndContinue}
	if forwardException {
		op.How = debugipc.ResumeForwardAndContinue
	}
	if n := len(t.controllers); n > 0 {
		op = t.controllers[n-1].GetContinueOp()
		if op.SyntheticStop {
			weak := t.WeakRef()
			t.session.loop.Post(func() {
				thread := weak.Get()
				if thread == nil {
					return
				}
				thread.OnException(debugipc.ExceptionSynthetic, nil)
			})
			return
		}
	}

	t.resumeWith(op)
}

func (t *Thread) resumeWith(op ContinueOp) {
	t.state = debugipc.ThreadStateRunning
	hadFrames := t.stack.Valid()
	t.stack.invalidate()
	if hadFrames {
		t.session.eachThreadObserver(func(o ThreadObserver) { o.OnThreadFramesInvalidated(t) })
	}

	req := &debugipc.ResumeRequest{
		ProcessKoid: t.process.koid,
		ThreadKoids: []uint64{t.koid},
		How:         op.How,
	}
	if op.How == debugipc.ResumeStepInRange {
		req.RangeBegin = op.RangeBegin
		req.RangeEnd = op.RangeEnd
	}
	weak := t.WeakRef()
	t.session.remote.Resume(req, func(reply *debugipc.ResumeReply, err error) {
		if err == nil {
			return
		}
		if thread := weak.Get(); thread != nil {
			thread.session.log.Warnf("error resuming thread %d.%d: %v", thread.process.koid, thread.koid, err)
		}
	})
}

// Pause asks the agent to suspend the thread. cb runs on the loop once the
// agent confirms and reports the thread's stopped record.
func (t *Thread) Pause(cb func(error)) {
	weak := t.WeakRef()
	t.session.remote.Pause(&debugipc.PauseRequest{
		ProcessKoid: t.process.koid,
		ThreadKoid:  t.koid,
	}, func(reply *debugipc.PauseReply, err error) {
		thread := weak.Get()
		if thread == nil {
			cb(ErrCanceled)
			return
		}
		if err != nil {
			cb(err)
			return
		}
		for _, rec := range reply.Threads {
			if rec.ThreadKoid == thread.koid {
				thread.state = rec.State
			}
		}
		cb(nil)
	})
}
