package session

import "github.com/vsrinivas/fuchsia-debug/pkg/debugipc"

// Observer interfaces exposed by the core to its collaborators (console
// front ends, fidlcat). All notifications fire on the loop goroutine.
// Observer lists are iterated over a snapshot copy, so an observer may add or
// remove observers, breakpoints or filters from inside a notification.

// NotificationLevel classifies session-wide messages.
type NotificationLevel int

const (
	NotificationInfo NotificationLevel = iota
	NotificationWarning
	NotificationError
	// NotificationProcessStdout and Stderr carry forwarded process I/O.
	NotificationProcessStdout
	NotificationProcessStderr
)

// SessionObserver receives connection-scope notifications.
type SessionObserver interface {
	// HandleNotification reports a session-wide message (transport errors,
	// dropped replies, forwarded process I/O).
	HandleNotification(level NotificationLevel, msg string)
	// HandlePreviousConnectedProcesses reports processes the agent was
	// already attached to when this client connected.
	HandlePreviousConnectedProcesses(procs []debugipc.ProcessRecord)
	// HandleProcessesInLimbo reports crashed processes waiting in limbo for
	// a debugger.
	HandleProcessesInLimbo(procs []debugipc.ProcessRecord)
}

// SystemObserver receives object-registry notifications. Internal
// breakpoints never generate these.
type SystemObserver interface {
	DidCreateBreakpoint(bp *Breakpoint)
	WillDestroyBreakpoint(bp *Breakpoint)
	DidCreateFilter(f *Filter)
	WillDestroyFilter(f *Filter)
	// OnDownloadsStarted fires when the number of in-flight symbol downloads
	// goes from zero to one.
	OnDownloadsStarted()
	// OnDownloadsStopped fires when the last in-flight download finishes,
	// with counts accumulated since OnDownloadsStarted.
	OnDownloadsStopped(succeeded, failed int)
}

// TargetObserver receives target lifecycle notifications.
type TargetObserver interface {
	DidCreateTarget(t *Target)
	WillDestroyTarget(t *Target)
}

// ProcessDestroyReason says why a process is going away.
type ProcessDestroyReason int

const (
	ProcessDestroyExit ProcessDestroyReason = iota
	ProcessDestroyDetach
	ProcessDestroyKill
)

// ProcessObserver receives process and thread lifecycle notifications.
type ProcessObserver interface {
	// DidCreateProcess fires exactly once when a target transitions to
	// Running. autoAttached is true for filter- or limbo-driven attaches.
	DidCreateProcess(p *Process, autoAttached bool)
	// WillDestroyProcess fires exactly once before the process object is
	// destroyed; the object stays alive for the duration of the call.
	WillDestroyProcess(p *Process, reason ProcessDestroyReason, exitCode int64)
	DidCreateThread(p *Process, t *Thread)
	WillDestroyThread(p *Process, t *Thread)
	DidLoadModuleSymbols(p *Process)
	WillUnloadModuleSymbols(p *Process)
	// OnSymbolLoadFailure reports a module whose symbols could not be
	// loaded; the process remains usable without them.
	OnSymbolLoadFailure(p *Process, err error)
}

// StopInfo describes one thread stop delivered to ThreadObservers.
type StopInfo struct {
	ExceptionType debugipc.ExceptionType
	// HitBreakpoints lists the user-visible breakpoints hit. Internal
	// breakpoints and already-destroyed ones are filtered out.
	HitBreakpoints []WeakBreakpoint
}

// ThreadObserver receives thread stop notifications.
type ThreadObserver interface {
	// OnThreadStopped fires when a stop surfaces to the user; transparent
	// resumes by thread controllers do not notify.
	OnThreadStopped(t *Thread, info *StopInfo)
	// OnThreadFramesInvalidated fires when cached frames become stale
	// (thread resumed). Suppressed when no frames were cached.
	OnThreadFramesInvalidated(t *Thread)
}

// BreakpointObserver receives breakpoint resolution notifications.
type BreakpointObserver interface {
	// OnBreakpointMatched fires when location resolution changes the set of
	// addresses a breakpoint covers. userRequested is true when the change
	// came from a settings update rather than a module load.
	OnBreakpointMatched(bp *Breakpoint, userRequested bool)
	// OnBreakpointUpdateFailure reports a backend error syncing the
	// breakpoint.
	OnBreakpointUpdateFailure(bp *Breakpoint, err error)
}

// FilterObserver receives filter lifecycle and match notifications.
type FilterObserver interface {
	DidCreateFilter(f *Filter)
	DidChangeFilter(f *Filter)
	WillDestroyFilter(f *Filter)
	// OnFilterMatches reports process koids the agent matched for a job.
	OnFilterMatches(job *JobContext, matchedKoids []uint64)
}
