package session

import (
	"fmt"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/logflags"
)

// maxFilterMatchesPerNotification caps how many processes one filter-match
// notification may auto-attach. A broader match is assumed to be a
// misconfigured filter (e.g. an all-processes pattern on the root job) and
// attaches nothing.
const maxFilterMatchesPerNotification = 50

// System is the root registry of debugging objects: Targets, JobContexts,
// Breakpoints (keyed by backend ID), Filters, SymbolServers and in-flight
// symbol Downloads. It always owns at least one Target.
type System struct {
	session *Session
	log     logflags.Logger

	targets []*Target
	jobs    []*JobContext

	breakpoints      map[uint32]*Breakpoint
	nextBreakpointID uint32

	filters           []*Filter
	filterSyncPending bool

	symbolServers []SymbolServer
	symbolLoader  SymbolLoader

	// downloads collapses concurrent requests for the same artifact into one
	// transfer. Entries drop out when their download completes, so a stored
	// pointer never outlives the transfer it names.
	downloads map[downloadKey]*Download

	// Aggregate download events fire on the 0→1 and 1→0 edges only.
	downloadsInFlight int
	downloadSucceeded int
	downloadFailed    int

	observers []SystemObserver

	settings Settings
}

func newSystem(s *Session) *System {
	sys := &System{
		session:          s,
		log:              logflags.SessionLogger(),
		breakpoints:      make(map[uint32]*Breakpoint),
		nextBreakpointID: 1,
		downloads:        make(map[downloadKey]*Download),
	}
	// The system always has at least one target slot.
	sys.targets = append(sys.targets, newTarget(sys))
	return sys
}

// Session returns the owning session.
func (sys *System) Session() *Session { return sys.session }

func (sys *System) AddObserver(o SystemObserver) { sys.observers = append(sys.observers, o) }

func (sys *System) RemoveObserver(o SystemObserver) {
	for i, x := range sys.observers {
		if x == o {
			sys.observers = append(sys.observers[:i], sys.observers[i+1:]...)
			return
		}
	}
}

// eachObserver iterates a snapshot so observers may mutate the registry from
// inside a notification.
func (sys *System) eachObserver(fn func(SystemObserver)) {
	for _, o := range append([]SystemObserver(nil), sys.observers...) {
		fn(o)
	}
}

// Targets returns a snapshot of the target list.
func (sys *System) Targets() []*Target {
	return append([]*Target(nil), sys.targets...)
}

// JobContexts returns a snapshot of the job list.
func (sys *System) JobContexts() []*JobContext {
	return append([]*JobContext(nil), sys.jobs...)
}

// CreateNewTarget allocates an empty target slot.
func (sys *System) CreateNewTarget() *Target {
	t := newTarget(sys)
	sys.targets = append(sys.targets, t)
	sys.session.eachTargetObserver(func(o TargetObserver) { o.DidCreateTarget(t) })
	return t
}

// DeleteTarget removes an explicitly user-deleted target. The last target
// cannot be deleted; targets are never auto-removed.
func (sys *System) DeleteTarget(t *Target) error {
	if len(sys.targets) == 1 {
		return fmt.Errorf("cannot delete the last target")
	}
	if t.State() != TargetNone {
		return fmt.Errorf("cannot delete a target that is attached or attaching")
	}
	for i, x := range sys.targets {
		if x == t {
			sys.session.eachTargetObserver(func(o TargetObserver) { o.WillDestroyTarget(t) })
			sys.targets = append(sys.targets[:i], sys.targets[i+1:]...)
			t.destroy()
			return nil
		}
	}
	panic("DeleteTarget: target not registered")
}

// CreateNewJobContext allocates an empty job slot.
func (sys *System) CreateNewJobContext() *JobContext {
	j := newJobContext(sys)
	sys.jobs = append(sys.jobs, j)
	return j
}

// CreateNewBreakpoint allocates a user-visible breakpoint with a fresh
// backend ID and notifies observers. Observers may react by mutating the
// breakpoint list.
func (sys *System) CreateNewBreakpoint() *Breakpoint {
	bp := sys.createBreakpoint(false)
	sys.eachObserver(func(o SystemObserver) { o.DidCreateBreakpoint(bp) })
	return bp
}

// CreateNewInternalBreakpoint allocates an internal breakpoint (step
// scaffolding, syscall interception plumbing). Internal breakpoints never
// appear in user-facing listings and generate no observer notifications.
func (sys *System) CreateNewInternalBreakpoint() *Breakpoint {
	return sys.createBreakpoint(true)
}

func (sys *System) createBreakpoint(internal bool) *Breakpoint {
	id := sys.nextBreakpointID
	sys.nextBreakpointID++
	bp := newBreakpoint(sys.session, id, internal)
	sys.breakpoints[id] = bp
	return bp
}

// DeleteBreakpoint tears down a breakpoint: backend removal (if still
// installed there), observer notification for user-visible ones, then
// destruction. Deleting an unregistered breakpoint is a bug in the caller,
// not a user error.
func (sys *System) DeleteBreakpoint(bp *Breakpoint) {
	if sys.breakpoints[bp.ID()] != bp {
		panic(fmt.Sprintf("DeleteBreakpoint: breakpoint %d not registered", bp.ID()))
	}
	if !bp.isInternal {
		sys.eachObserver(func(o SystemObserver) { o.WillDestroyBreakpoint(bp) })
	}
	delete(sys.breakpoints, bp.ID())
	bp.destroy()
}

// BreakpointByBackendID returns the breakpoint with the given backend ID,
// internal or not, or nil.
func (sys *System) BreakpointByBackendID(id uint32) *Breakpoint {
	return sys.breakpoints[id]
}

// Breakpoints returns the user-visible breakpoints. Internal ones are
// excluded.
func (sys *System) Breakpoints() []*Breakpoint {
	var out []*Breakpoint
	for _, bp := range sys.breakpoints {
		if !bp.isInternal {
			out = append(out, bp)
		}
	}
	return out
}

// CreateNewFilter allocates an empty filter. It matches nothing until a
// pattern or job is set.
func (sys *System) CreateNewFilter() *Filter {
	f := newFilter(sys)
	sys.filters = append(sys.filters, f)
	sys.eachObserver(func(o SystemObserver) { o.DidCreateFilter(f) })
	sys.session.eachFilterObserver(func(o FilterObserver) { o.DidCreateFilter(f) })
	return f
}

// DeleteFilter removes a filter and resyncs the agent-side filter sets.
func (sys *System) DeleteFilter(f *Filter) {
	for i, x := range sys.filters {
		if x == f {
			sys.eachObserver(func(o SystemObserver) { o.WillDestroyFilter(f) })
			sys.session.eachFilterObserver(func(o FilterObserver) { o.WillDestroyFilter(f) })
			sys.filters = append(sys.filters[:i], sys.filters[i+1:]...)
			sys.SyncFilters()
			return
		}
	}
	panic("DeleteFilter: filter not registered")
}

// Filters returns a snapshot of the filter list.
func (sys *System) Filters() []*Filter {
	return append([]*Filter(nil), sys.filters...)
}

// SyncFilters recomputes and re-sends every job's flattened filter list.
// Mutations within one loop turn coalesce into a single recompute and at
// most one UpdateFilter round trip per job.
func (sys *System) SyncFilters() {
	if sys.filterSyncPending {
		return
	}
	sys.filterSyncPending = true
	sys.session.loop.Post(func() {
		sys.filterSyncPending = false
		for _, job := range sys.JobContexts() {
			job.RefreshFilters()
		}
	})
}

// OnFilterMatches handles the agent's report of live processes matching the
// filter set of a job. Over-broad matches attach nothing.
func (sys *System) OnFilterMatches(job *JobContext, matchedKoids []uint64) {
	sys.session.eachFilterObserver(func(o FilterObserver) { o.OnFilterMatches(job, matchedKoids) })

	if len(matchedKoids) > maxFilterMatchesPerNotification {
		sys.log.Errorf("filter matched %d processes (limit %d), attaching to none; narrow the filter",
			len(matchedKoids), maxFilterMatchesPerNotification)
		return
	}
	for _, koid := range matchedKoids {
		if sys.ProcessFromKoid(koid) != nil {
			continue // already attached
		}
		koid := koid
		sys.AttachToProcess(koid, func(err error) {
			if err != nil {
				sys.log.Warnf("auto-attach to process %d failed: %v", koid, err)
			}
		})
	}
}

// AttachToProcess attaches to the process with the given koid, reusing a free
// target slot or creating one. Attaching twice to the same koid fails with a
// posted error and issues no IPC request.
func (sys *System) AttachToProcess(koid uint64, cb func(error)) {
	for _, t := range sys.targets {
		if t.process != nil && t.process.koid == koid {
			sys.session.loop.Post(func() { cb(AlreadyAttachedError{Koid: koid}) })
			return
		}
	}
	var target *Target
	for _, t := range sys.targets {
		if t.State() == TargetNone {
			target = t
			break
		}
	}
	if target == nil {
		target = sys.CreateNewTarget()
	}
	target.Attach(koid, cb)
}

// ProcessFromKoid returns the live process with the given koid, or nil.
func (sys *System) ProcessFromKoid(koid uint64) *Process {
	for _, t := range sys.targets {
		if t.process != nil && t.process.koid == koid {
			return t.process
		}
	}
	return nil
}

// DidConnect runs after a connection (or minidump open) is established:
// jobs re-attach and re-send their cached filters.
func (sys *System) DidConnect() {
	for _, job := range sys.JobContexts() {
		job.didConnect()
	}
	sys.syncGlobalSettings()
}

// DidDisconnect drops all agent-side bookkeeping locally. No messages are
// sent; the backend may already be gone.
func (sys *System) DidDisconnect() {
	for _, t := range sys.Targets() {
		t.ImplicitlyDetach()
	}
	for _, j := range sys.JobContexts() {
		j.implicitlyDetach()
	}
	for _, bp := range sys.breakpoints {
		bp.BackendBreakpointRemoved()
	}
}

// SetSymbolLoader installs the module symbol loading subsystem. Processes
// created afterwards use it to index their modules.
func (sys *System) SetSymbolLoader(l SymbolLoader) {
	sys.symbolLoader = l
}

// AddSymbolServer registers a symbol server for Download fan-out.
func (sys *System) AddSymbolServer(srv SymbolServer) {
	sys.symbolServers = append(sys.symbolServers, srv)
}

// SymbolServers returns a snapshot of the registered servers.
func (sys *System) SymbolServers() []SymbolServer {
	return append([]SymbolServer(nil), sys.symbolServers...)
}

type downloadKey struct {
	buildID  string
	fileType DownloadFileType
}

// GetDownload returns the in-flight download for (buildID, fileType),
// starting one if needed. Concurrent requests for the same key share one
// transfer; each caller's callback fires exactly once when it resolves.
func (sys *System) GetDownload(buildID string, fileType DownloadFileType, cb DownloadCallback) *Download {
	key := downloadKey{buildID: buildID, fileType: fileType}
	if d, ok := sys.downloads[key]; ok {
		d.addCallback(cb)
		return d
	}
	d := newDownload(sys, buildID, fileType)
	d.addCallback(cb)
	sys.downloads[key] = d
	sys.downloadStarted()
	d.start(sys.SymbolServers())
	return d
}

// RequestDownload is GetDownload without handing back the object; used by
// symbol-load paths that only care about the callback.
func (sys *System) RequestDownload(buildID string, fileType DownloadFileType, cb DownloadCallback) {
	sys.GetDownload(buildID, fileType, cb)
}

func (sys *System) downloadStarted() {
	sys.downloadsInFlight++
	if sys.downloadsInFlight == 1 {
		sys.downloadSucceeded = 0
		sys.downloadFailed = 0
		sys.eachObserver(func(o SystemObserver) { o.OnDownloadsStarted() })
	}
}

func (sys *System) downloadFinished(d *Download, succeeded bool) {
	delete(sys.downloads, downloadKey{buildID: d.buildID, fileType: d.fileType})
	if succeeded {
		sys.downloadSucceeded++
	} else {
		sys.downloadFailed++
	}
	sys.downloadsInFlight--
	if sys.downloadsInFlight == 0 {
		sys.eachObserver(func(o SystemObserver) {
			o.OnDownloadsStopped(sys.downloadSucceeded, sys.downloadFailed)
		})
	}
}

// Settings returns the mutable global settings.
func (sys *System) Settings() *Settings { return &sys.settings }

// SetPauseOnLaunch updates the pause-on-launch setting and pushes it to the
// agent.
func (sys *System) SetPauseOnLaunch(pause bool) {
	sys.settings.PauseOnLaunch = pause
	sys.syncGlobalSettings()
}

// SetPauseOnAttach updates the pause-on-attach setting and pushes it to the
// agent.
func (sys *System) SetPauseOnAttach(pause bool) {
	sys.settings.PauseOnAttach = pause
	sys.syncGlobalSettings()
}

func (sys *System) syncGlobalSettings() {
	sys.session.remote.UpdateGlobalSettings(&debugipc.UpdateGlobalSettingsRequest{
		PauseOnLaunch: sys.settings.PauseOnLaunch,
		PauseOnAttach: sys.settings.PauseOnAttach,
	}, func(reply *debugipc.UpdateGlobalSettingsReply, err error) {
		if err != nil {
			sys.log.Warnf("could not sync global settings: %v", err)
		}
	})
}
