package session

import (
	"fmt"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
)

// TargetState is the attach lifecycle of one target slot.
type TargetState int

const (
	// TargetNone means no process and no operation in flight.
	TargetNone TargetState = iota
	// TargetAttaching means an Attach request is in flight.
	TargetAttaching
	// TargetStarting means a Launch request is in flight.
	TargetStarting
	// TargetRunning means the target owns a live Process.
	TargetRunning
)

func (s TargetState) String() string {
	switch s {
	case TargetNone:
		return "None"
	case TargetAttaching:
		return "Attaching"
	case TargetStarting:
		return "Starting"
	case TargetRunning:
		return "Running"
	}
	return fmt.Sprintf("TargetState(%d)", int(s))
}

// Target is one process-attachment slot. Exactly one Process exists iff the
// state is Running. Targets are created by the System and destroyed only by
// explicit user action.
type Target struct {
	system  *System
	session *Session

	state   TargetState
	process *Process

	// args are the last launch arguments, kept for restart.
	args []string

	flag *weakFlag
}

func newTarget(sys *System) *Target {
	return &Target{system: sys, session: sys.session, flag: newWeakFlag()}
}

// State returns the current lifecycle state.
func (t *Target) State() TargetState { return t.state }

// Process returns the running process, or nil.
func (t *Target) Process() *Process { return t.process }

// System returns the owning system.
func (t *Target) System() *System { return t.system }

// WeakRef returns a liveness-checked reference to this target.
func (t *Target) WeakRef() WeakTarget { return WeakTarget{t: t, flag: t.flag} }

func (t *Target) destroy() {
	t.flag.invalidate()
}

// Launch starts the program named by args on the remote system and attaches
// to it. Precondition failures are posted, never delivered reentrantly.
func (t *Target) Launch(args []string, cb func(error)) {
	if t.state != TargetNone {
		err := fmt.Errorf("can't launch, the target is %s", t.state)
		t.session.loop.Post(func() { cb(err) })
		return
	}
	if len(args) == 0 {
		err := fmt.Errorf("no program specified to launch")
		t.session.loop.Post(func() { cb(err) })
		return
	}
	t.args = args
	t.state = TargetStarting

	weak := t.WeakRef()
	t.session.remote.Launch(&debugipc.LaunchRequest{Inferior: debugipc.InferiorBinary, Argv: args},
		func(reply *debugipc.LaunchReply, err error) {
			target := weak.Get()
			if target == nil {
				// Deleted while the request was in flight. The callback
				// still fires so the caller's UI never hangs.
				cb(fmt.Errorf("the target was destroyed while launching: %w", ErrCanceled))
				return
			}
			target.onLaunchOrAttachReply(reply2err(err, launchStatus(reply)), launchKoid(reply), launchName(reply), false, cb)
		})
}

func launchStatus(r *debugipc.LaunchReply) debugipc.ZxStatus {
	if r == nil {
		return debugipc.ZxOk
	}
	return r.Status
}
func launchKoid(r *debugipc.LaunchReply) uint64 {
	if r == nil {
		return 0
	}
	return r.ProcessKoid
}
func launchName(r *debugipc.LaunchReply) string {
	if r == nil {
		return ""
	}
	return r.ProcessName
}

// reply2err folds a transport error and a backend status into one error
// domain: transport errors pass through, nonzero statuses become
// BackendErrors, everything else is nil.
func reply2err(err error, status debugipc.ZxStatus) error {
	if err != nil {
		return err
	}
	if status != debugipc.ZxOk {
		return BackendError{Status: status, Message: status.String()}
	}
	return nil
}

// Attach attaches to the process with the given koid.
func (t *Target) Attach(koid uint64, cb func(error)) {
	if t.state != TargetNone {
		err := fmt.Errorf("can't attach, the target is %s", t.state)
		t.session.loop.Post(func() { cb(err) })
		return
	}
	t.state = TargetAttaching

	weak := t.WeakRef()
	t.session.remote.Attach(&debugipc.AttachRequest{Type: debugipc.AttachProcess, Koid: koid},
		func(reply *debugipc.AttachReply, err error) {
			target := weak.Get()
			if target == nil {
				cb(fmt.Errorf("the target was destroyed while attaching: %w", ErrCanceled))
				return
			}
			if err != nil {
				target.state = TargetNone
				cb(err)
				return
			}
			switch reply.Status {
			case debugipc.ZxOk:
				target.completeAttach(reply.Koid, reply.Name, cb)
			case debugipc.ZxErrAlreadyBound:
				// The agent is already attached to this process. That can be
				// a benign race (a filter attached it just before us) or a
				// genuine conflict; ask the agent which.
				target.resolveAlreadyBound(koid, cb)
			default:
				target.state = TargetNone
				cb(backendErrorf(reply.Status, "error attaching, %s", reply.Status))
			}
		})
}

// resolveAlreadyBound distinguishes a benign re-attach race from a real
// conflict with a secondary ProcessStatus query.
func (t *Target) resolveAlreadyBound(koid uint64, cb func(error)) {
	weak := t.WeakRef()
	t.session.remote.ProcessStatus(&debugipc.ProcessStatusRequest{ProcessKoid: koid},
		func(reply *debugipc.ProcessStatusReply, err error) {
			target := weak.Get()
			if target == nil {
				cb(fmt.Errorf("the target was destroyed while attaching: %w", ErrCanceled))
				return
			}
			if err != nil || reply.Status != debugipc.ZxOk {
				target.state = TargetNone
				cb(backendErrorf(debugipc.ZxErrAlreadyBound,
					"error attaching, %s", debugipc.ZxErrAlreadyBound))
				return
			}
			// The agent is attached on our behalf; report success.
			target.completeAttach(reply.Record.ProcessKoid, reply.Record.Name, cb)
		})
}

func (t *Target) completeAttach(koid uint64, name string, cb func(error)) {
	t.createProcess(koid, name, false)
	cb(nil)
}

// processCreatedFromNotification installs a process the agent reported
// (filter match, component launch) without a request of ours in flight.
func (t *Target) processCreatedFromNotification(koid uint64, name string, autoAttached bool) {
	if t.state == TargetRunning {
		panic("processCreatedFromNotification on a running target")
	}
	t.createProcess(koid, name, autoAttached)
}

// createProcess transitions to Running and fires DidCreateProcess exactly
// once.
func (t *Target) createProcess(koid uint64, name string, autoAttached bool) {
	t.state = TargetRunning
	t.process = newProcess(t, koid, name)
	p := t.process
	t.session.eachProcessObserver(func(o ProcessObserver) { o.DidCreateProcess(p, autoAttached) })
}

// Detach detaches from the running process, leaving it running without a
// debugger.
func (t *Target) Detach(cb func(error)) {
	if t.state != TargetRunning || t.process == nil {
		err := fmt.Errorf("can't detach, no process")
		t.session.loop.Post(func() { cb(err) })
		return
	}
	koid := t.process.koid
	weak := t.WeakRef()
	t.session.remote.Detach(&debugipc.DetachRequest{Type: debugipc.AttachProcess, Koid: koid},
		func(reply *debugipc.DetachReply, err error) {
			target := weak.Get()
			if target == nil {
				cb(fmt.Errorf("the target was destroyed while detaching: %w", ErrCanceled))
				return
			}
			if err != nil {
				cb(err)
				return
			}
			if reply.Status != debugipc.ZxOk {
				cb(backendErrorf(reply.Status, "error detaching, %s", reply.Status))
				return
			}
			target.destroyProcess(ProcessDestroyDetach, 0)
			cb(nil)
		})
}

// Kill kills the running process.
func (t *Target) Kill(cb func(error)) {
	if t.state != TargetRunning || t.process == nil {
		err := fmt.Errorf("can't kill, no process")
		t.session.loop.Post(func() { cb(err) })
		return
	}
	koid := t.process.koid
	weak := t.WeakRef()
	t.session.remote.Kill(&debugipc.KillRequest{ProcessKoid: koid},
		func(reply *debugipc.KillReply, err error) {
			target := weak.Get()
			if target == nil {
				cb(fmt.Errorf("the target was destroyed while killing: %w", ErrCanceled))
				return
			}
			if err != nil {
				cb(err)
				return
			}
			if reply.Status != debugipc.ZxOk {
				cb(backendErrorf(reply.Status, "error killing, %s", reply.Status))
				return
			}
			target.destroyProcess(ProcessDestroyKill, 0)
			cb(nil)
		})
}

// ImplicitlyDetach drops the process bookkeeping without telling the
// backend. Used on connection teardown.
func (t *Target) ImplicitlyDetach() {
	if t.process != nil {
		t.destroyProcess(ProcessDestroyDetach, 0)
	}
	t.state = TargetNone
}

// onProcessExiting handles the agent's exit notification.
func (t *Target) onProcessExiting(returnCode int64) {
	if t.process == nil {
		return
	}
	t.destroyProcess(ProcessDestroyExit, returnCode)
}

// destroyProcess fires WillDestroyProcess (the process stays alive through
// the callbacks), then destroys it and reverts to None.
func (t *Target) destroyProcess(reason ProcessDestroyReason, exitCode int64) {
	p := t.process
	if p == nil {
		return
	}
	t.session.eachProcessObserver(func(o ProcessObserver) { o.WillDestroyProcess(p, reason, exitCode) })
	for _, bp := range t.system.breakpoints {
		bp.willDestroyProcess(p)
	}
	t.process = nil
	t.state = TargetNone
	p.destroy()
}

// onLaunchOrAttachReply finishes a Launch. ZX_ERR_IO from a launch means the
// binary was not found on the target system.
func (t *Target) onLaunchOrAttachReply(err error, koid uint64, name string, autoAttached bool, cb func(error)) {
	if err != nil {
		t.state = TargetNone
		var be BackendError
		if asBackendError(err, &be) && be.Status == debugipc.ZxErrIO {
			cb(backendErrorf(be.Status, "binary not found on the target system"))
			return
		}
		if asBackendError(err, &be) {
			cb(backendErrorf(be.Status, "error launching, %s", be.Status))
			return
		}
		cb(err)
		return
	}
	t.createProcess(koid, name, autoAttached)
	cb(nil)
}

func asBackendError(err error, out *BackendError) bool {
	be, ok := err.(BackendError)
	if ok {
		*out = be
	}
	return ok
}
