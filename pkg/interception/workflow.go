package interception

import (
	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/logflags"
	"github.com/vsrinivas/fuchsia-debug/pkg/mloop"
	"github.com/vsrinivas/fuchsia-debug/pkg/session"
	"github.com/vsrinivas/fuchsia-debug/pkg/symbolizer"
)

// monitoredProcess is the workflow bookkeeping for one attached process.
type monitoredProcess struct {
	process session.WeakProcess
	koid    uint64
	name    string
	isMain  bool

	// entryBreakpoints maps each installed entry breakpoint to its syscall.
	entryBreakpoints map[*session.Breakpoint]*Syscall
	installed        bool
}

type exitKey struct {
	processKoid uint64
	address     uint64
}

// Workflow layers two-phase syscall interception on the session core.
//
// Each monitored process gets one internal breakpoint per syscall, placed by
// symbol name so module loads resolve it against the PLT stubs. An entry stop
// reads the argument registers, plants a breakpoint on the caller's return
// address, and resumes; the return stop reads the result register and resumes
// again. Between the two stops the thread carries an in-flight decoder, so a
// thread is always in exactly one of the two phases.
//
// Decoding is gated on main processes: nothing is captured until a process
// matching a main filter (or a directly attached pid) shows up, at which
// point entry breakpoints are installed retroactively on every process
// attached earlier. The workflow shuts down when the last main process goes
// away.
type Workflow struct {
	session *session.Session
	loop    *mloop.Loop
	log     logflags.Logger

	table *SyscallTable
	sink  EventSink

	// OneShotExits plants thread-scoped one-shot return breakpoints. When
	// false, return breakpoints are address-scoped, shared by every thread of
	// the process and deduplicated.
	OneShotExits bool

	decodeEvents bool
	// hasMainConfig is set when Monitor named main processes. Without any,
	// every process counts as main and decoding starts with the first one.
	hasMainConfig bool
	mainNames     map[string]bool
	mainKoids     map[uint64]bool
	pendingPids   map[uint64]bool

	processes map[uint64]*monitoredProcess

	// decoders tracks each thread's in-flight syscall between its entry stop
	// and its return stop.
	decoders map[uint64]*syscallDecoder
	// exitBreakpoints dedups shared return breakpoints by address.
	exitBreakpoints map[exitKey]*session.Breakpoint
	// threadsInError dedups fault reporting: one exception event per thread
	// until it next stops normally.
	threadsInError map[uint64]bool

	shutdownFn func()
}

// NewWorkflow creates a workflow on the given session and registers it as a
// process and thread observer. Must run on the loop goroutine.
func NewWorkflow(s *session.Session, table *SyscallTable, sink EventSink) *Workflow {
	w := &Workflow{
		session:         s,
		loop:            s.Loop(),
		log:             logflags.FidlcatLogger(),
		table:           table,
		sink:            sink,
		mainNames:       make(map[string]bool),
		mainKoids:       make(map[uint64]bool),
		pendingPids:     make(map[uint64]bool),
		processes:       make(map[uint64]*monitoredProcess),
		decoders:        make(map[uint64]*syscallDecoder),
		exitBreakpoints: make(map[exitKey]*session.Breakpoint),
		threadsInError:  make(map[uint64]bool),
	}
	s.AddProcessObserver(w)
	s.AddThreadObserver(w)
	return w
}

// SetShutdownCallback installs the function invoked when the last main
// process goes away.
func (w *Workflow) SetShutdownCallback(fn func()) { w.shutdownFn = fn }

// DecodingEvents reports whether a main process has arrived and decoding is
// live.
func (w *Workflow) DecodingEvents() bool { return w.decodeEvents }

// Monitor configures what to intercept. mainNames become main filters whose
// processes gate decoding; extraNames become secondary filters; pids are
// attached directly and count as main. cb runs on the loop once the direct
// attach requests resolve; filter-driven attaches trickle in afterwards.
func (w *Workflow) Monitor(mainNames, extraNames []string, pids []uint64, cb func(error)) {
	sys := w.session.System()
	if len(mainNames) > 0 || len(pids) > 0 {
		w.hasMainConfig = true
	}
	for _, name := range mainNames {
		w.mainNames[name] = true
		f := sys.CreateNewFilter()
		f.SetType(session.FilterProcessName)
		f.SetPattern(name)
	}
	for _, name := range extraNames {
		f := sys.CreateNewFilter()
		f.SetType(session.FilterProcessName)
		f.SetPattern(name)
	}

	if len(pids) == 0 {
		if cb != nil {
			w.loop.Post(func() { cb(nil) })
		}
		return
	}
	outstanding := len(pids)
	var firstErr error
	for _, pid := range pids {
		w.pendingPids[pid] = true
		sys.AttachToProcess(pid, func(err error) {
			if err != nil && firstErr == nil {
				firstErr = err
			}
			outstanding--
			if outstanding == 0 && cb != nil {
				cb(firstErr)
			}
		})
	}
}

func (w *Workflow) isMainProcess(p *session.Process) bool {
	if !w.hasMainConfig {
		return true
	}
	return w.mainNames[p.Name()] || w.pendingPids[p.Koid()]
}

func (w *Workflow) DidCreateProcess(p *session.Process, autoAttached bool) {
	isMain := w.isMainProcess(p)
	delete(w.pendingPids, p.Koid())

	mp := &monitoredProcess{
		process:          p.WeakRef(),
		koid:             p.Koid(),
		name:             p.Name(),
		isMain:           isMain,
		entryBreakpoints: make(map[*session.Breakpoint]*Syscall),
	}
	w.processes[p.Koid()] = mp

	if isMain {
		w.mainKoids[p.Koid()] = true
		if !w.decodeEvents {
			w.decodeEvents = true
			w.log.Infof("main process %s koid=%d started, decoding events", p.Name(), p.Koid())
			// Processes attached before the main one arrived get their
			// breakpoints now.
			for _, other := range w.processes {
				if other != mp {
					w.installEntryBreakpoints(other)
				}
			}
		}
	}
	if w.decodeEvents {
		w.installEntryBreakpoints(mp)
	}
	w.sink.OnProcessMonitored(p)
}

func (w *Workflow) installEntryBreakpoints(mp *monitoredProcess) {
	if mp.installed {
		return
	}
	mp.installed = true
	p := mp.process.Get()
	if p == nil {
		return
	}
	sys := w.session.System()
	for _, sc := range w.table.All() {
		sc := sc
		bp := sys.CreateNewInternalBreakpoint()
		mp.entryBreakpoints[bp] = sc
		bp.SetSettings(session.BreakpointSettings{
			Enabled:  true,
			Name:     sc.Name,
			StopMode: debugipc.BreakpointStopSameThread,
			Scope:    session.BreakpointScope{Process: p.WeakRef()},
			Locations: []symbolizer.InputLocation{{
				Type: symbolizer.InputLocationName,
				Name: sc.Name,
			}},
		}, func(err error) {
			if err != nil {
				w.log.Warnf("could not install breakpoint on %s in %s: %v", sc.Name, mp.name, err)
			}
		})
	}
}

func (w *Workflow) WillDestroyProcess(p *session.Process, reason session.ProcessDestroyReason, code int64) {
	mp, ok := w.processes[p.Koid()]
	if !ok {
		return
	}
	delete(w.processes, p.Koid())

	sys := w.session.System()
	for bp := range mp.entryBreakpoints {
		if sys.BreakpointByBackendID(bp.ID()) == bp {
			sys.DeleteBreakpoint(bp)
		}
	}
	for key, bp := range w.exitBreakpoints {
		if key.processKoid != p.Koid() {
			continue
		}
		delete(w.exitBreakpoints, key)
		if sys.BreakpointByBackendID(bp.ID()) == bp {
			sys.DeleteBreakpoint(bp)
		}
	}

	w.sink.OnProcessTerminated(p.Koid(), p.Name())

	if mp.isMain {
		delete(w.mainKoids, p.Koid())
		if len(w.mainKoids) == 0 && w.decodeEvents && w.shutdownFn != nil {
			w.shutdownFn()
		}
	}
}

func (w *Workflow) DidCreateThread(p *session.Process, t *session.Thread) {}

func (w *Workflow) WillDestroyThread(p *session.Process, t *session.Thread) {
	if d, ok := w.decoders[t.Koid()]; ok {
		w.dropDecoder(t.Koid(), d)
	}
	delete(w.threadsInError, t.Koid())
}

// dropDecoder abandons an in-flight decode, tearing down its one-shot return
// breakpoint if the agent still has it.
func (w *Workflow) dropDecoder(threadKoid uint64, d *syscallDecoder) {
	delete(w.decoders, threadKoid)
	if d.exitBreakpoint == nil {
		return
	}
	sys := w.session.System()
	if sys.BreakpointByBackendID(d.exitBreakpoint.ID()) == d.exitBreakpoint {
		sys.DeleteBreakpoint(d.exitBreakpoint)
	}
	d.exitBreakpoint = nil
}

func (w *Workflow) DidLoadModuleSymbols(p *session.Process)    {}
func (w *Workflow) WillUnloadModuleSymbols(p *session.Process) {}

func (w *Workflow) OnSymbolLoadFailure(p *session.Process, err error) {
	w.log.Warnf("symbols unavailable for %s: %v", p.Name(), err)
}

// OnThreadStopped routes a surfaced stop on a monitored process. Entry stops
// start a decoder, return stops finish one, faults report once per thread,
// and anything else is left to other observers.
func (w *Workflow) OnThreadStopped(t *session.Thread, info *session.StopInfo) {
	p := t.Process()
	mp, ok := w.processes[p.Koid()]
	if !ok {
		return
	}

	if !info.ExceptionType.IsDebug() {
		w.onThreadFault(t, info.ExceptionType)
		return
	}

	frames := t.Stack().Frames()
	if len(frames) == 0 {
		return
	}
	ip := frames[0].IP

	if d, ok := w.decoders[t.Koid()]; ok {
		if d.exitAddr == ip {
			delete(w.threadsInError, t.Koid())
			d.loadReturnValue(t)
			return
		}
		// A stop somewhere else while a return was pending. The pending
		// decode cannot complete and is dropped so the thread never wedges.
		w.log.Errorf("thread %d stopped at 0x%x while awaiting return of %s, dropping pending decode",
			t.Koid(), ip, d.syscall.Name)
		w.dropDecoder(t.Koid(), d)
	}

	if _, ok := w.exitBreakpoints[exitKey{processKoid: mp.koid, address: ip}]; ok {
		// A shared return breakpoint hit on a thread with no call in flight.
		t.Continue(false)
		return
	}

	sc := w.syscallAtAddress(mp, ip)
	if sc == nil {
		if info.ExceptionType.IsBreakpointClass() && len(info.HitBreakpoints) == 0 {
			w.log.Errorf("internal error: breakpoint at 0x%x in %s has no syscall descriptor, continuing",
				ip, mp.name)
			t.Continue(false)
		}
		return
	}

	delete(w.threadsInError, t.Koid())
	d := &syscallDecoder{
		workflow:    w,
		syscall:     sc,
		thread:      t.WeakRef(),
		processKoid: p.Koid(),
		processName: p.Name(),
		threadKoid:  t.Koid(),
	}
	d.decodeEntry(t)
}

func (w *Workflow) OnThreadFramesInvalidated(t *session.Thread) {}

func (w *Workflow) syscallAtAddress(mp *monitoredProcess, ip uint64) *Syscall {
	for bp, sc := range mp.entryBreakpoints {
		for _, addr := range bp.ResolvedLocations(mp.koid) {
			if addr == ip {
				return sc
			}
		}
	}
	return nil
}

// onThreadFault reports a hardware fault once per thread. The thread is left
// stopped for a debugger; reporting re-arms when it next stops normally.
func (w *Workflow) onThreadFault(t *session.Thread, etype debugipc.ExceptionType) {
	if w.threadsInError[t.Koid()] {
		return
	}
	w.threadsInError[t.Koid()] = true
	if d, ok := w.decoders[t.Koid()]; ok {
		w.dropDecoder(t.Koid(), d)
	}
	w.sink.OnSyscallEvent(&Event{
		ProcessKoid: t.Process().Koid(),
		ProcessName: t.Process().Name(),
		ThreadKoid:  t.Koid(),
		Phase:       PhaseException,
		Exception:   etype,
	})
}

// entryDecoded emits the entry event, arms the return breakpoint and resumes.
func (w *Workflow) entryDecoded(t *session.Thread, d *syscallDecoder) {
	w.sink.OnSyscallEvent(&Event{
		ProcessKoid: d.processKoid,
		ProcessName: d.processName,
		ThreadKoid:  d.threadKoid,
		Syscall:     d.syscall.Name,
		Phase:       PhaseEntry,
		Args:        d.args,
	})
	if !d.syscall.HasReturn || d.exitAddr == 0 {
		t.Continue(false)
		return
	}
	w.installExitBreakpoint(t, d)
	w.decoders[t.Koid()] = d
	t.Continue(false)
}

func (w *Workflow) installExitBreakpoint(t *session.Thread, d *syscallDecoder) {
	key := exitKey{processKoid: d.processKoid, address: d.exitAddr}
	if !w.OneShotExits {
		if _, ok := w.exitBreakpoints[key]; ok {
			return
		}
	}
	bp := w.session.System().CreateNewInternalBreakpoint()
	settings := session.BreakpointSettings{
		Enabled:  true,
		StopMode: debugipc.BreakpointStopSameThread,
		Scope:    session.BreakpointScope{Process: t.Process().WeakRef()},
		Locations: []symbolizer.InputLocation{{
			Type:    symbolizer.InputLocationAddress,
			Address: d.exitAddr,
		}},
	}
	if w.OneShotExits {
		settings.OneShot = true
		settings.Scope.Thread = t.WeakRef()
		d.exitBreakpoint = bp
	} else {
		w.exitBreakpoints[key] = bp
	}
	bp.SetSettings(settings, func(err error) {
		if err != nil {
			w.log.Warnf("could not install return breakpoint at 0x%x: %v", d.exitAddr, err)
		}
	})
}

// exitDecoded emits the exit event and resumes. The thread's next entry stop
// starts a fresh decoder.
func (w *Workflow) exitDecoded(t *session.Thread, d *syscallDecoder, ret uint64) {
	delete(w.decoders, t.Koid())
	w.sink.OnSyscallEvent(&Event{
		ProcessKoid: d.processKoid,
		ProcessName: d.processName,
		ThreadKoid:  d.threadKoid,
		Syscall:     d.syscall.Name,
		Phase:       PhaseExit,
		Args:        d.args,
		ReturnValue: ret,
	})
	t.Continue(false)
}

func (w *Workflow) decoderError(t *session.Thread, d *syscallDecoder, err error) {
	w.log.Errorf("could not decode %s on thread %d: %v", d.syscall.Name, t.Koid(), err)
	delete(w.decoders, t.Koid())
	t.Continue(false)
}
