package session

import (
	"sort"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/symbolizer"
)

// BreakpointScope narrows a breakpoint to one process or one thread. The
// zero value applies everywhere.
type BreakpointScope struct {
	Process WeakProcess
	Thread  WeakThread
}

// BreakpointSettings is the client-side description of a breakpoint. It is
// richer than the wire form: locations are symbolic and re-resolve as
// modules load and unload, and HitMult is evaluated client-side.
type BreakpointSettings struct {
	Enabled  bool
	Type     debugipc.BreakpointType
	Name     string
	StopMode debugipc.BreakpointStop
	OneShot  bool
	// HitMult of N>1 suppresses stops whose cumulative hit count is not a
	// multiple of N. Zero and one stop on every hit.
	HitMult   uint32
	Scope     BreakpointScope
	Locations []symbolizer.InputLocation
}

// Breakpoint holds symbolic settings and keeps the backend in sync with the
// addresses they currently resolve to. The same ID names the breakpoint on
// both sides for its whole lifetime.
type Breakpoint struct {
	session *Session

	id         uint32
	isInternal bool

	settings BreakpointSettings
	stats    debugipc.BreakpointStats

	// resolved maps process koid to the addresses the settings resolve to in
	// that process. An entry exists for every applicable process, even when
	// nothing resolved, so listings can show pending breakpoints per process.
	resolved map[uint64][]uint64

	backendInstalled bool
	lastSent         debugipc.BreakpointSettings

	flag *weakFlag
}

func newBreakpoint(s *Session, id uint32, internal bool) *Breakpoint {
	return &Breakpoint{
		session:    s,
		id:         id,
		isInternal: internal,
		resolved:   make(map[uint64][]uint64),
		flag:       newWeakFlag(),
	}
}

// ID returns the backend breakpoint ID.
func (b *Breakpoint) ID() uint32 { return b.id }

// IsInternal reports whether the breakpoint is hidden step scaffolding.
func (b *Breakpoint) IsInternal() bool { return b.isInternal }

// Settings returns the current settings.
func (b *Breakpoint) Settings() BreakpointSettings { return b.settings }

// HitCount returns the cumulative backend-reported hit count.
func (b *Breakpoint) HitCount() uint32 { return b.stats.HitCount }

// WeakRef returns a liveness-checked reference to this breakpoint.
func (b *Breakpoint) WeakRef() WeakBreakpoint { return WeakBreakpoint{bp: b, flag: b.flag} }

// SetSettings replaces the settings, re-resolves locations in every
// applicable process and syncs the backend. cb runs on the loop with the
// sync result.
func (b *Breakpoint) SetSettings(s BreakpointSettings, cb func(error)) {
	b.settings = s
	b.resolveAll()
	if !b.isInternal {
		b.session.eachBreakpointObserver(func(o BreakpointObserver) { o.OnBreakpointMatched(b, true) })
	}
	b.syncBackend(cb)
}

// ResolvedLocations returns the addresses currently resolved in the given
// process.
func (b *Breakpoint) ResolvedLocations(processKoid uint64) []uint64 {
	return append([]uint64(nil), b.resolved[processKoid]...)
}

// appliesToProcess checks the scope against a process.
func (b *Breakpoint) appliesToProcess(p *Process) bool {
	if scoped := b.settings.Scope.Process.Get(); scoped != nil {
		return scoped == p
	}
	// A dead process scope matches nothing.
	if b.settings.Scope.Process != (WeakProcess{}) {
		return false
	}
	return true
}

func (b *Breakpoint) resolveAll() {
	b.resolved = make(map[uint64][]uint64)
	for _, t := range b.session.system.targets {
		p := t.process
		if p == nil || !b.appliesToProcess(p) {
			continue
		}
		b.resolved[p.koid] = b.resolveInProcess(p)
	}
}

func (b *Breakpoint) resolveInProcess(p *Process) []uint64 {
	var addrs []uint64
	for _, in := range b.settings.Locations {
		for _, loc := range p.symbols.ResolveInputLocation(in) {
			addrs = append(addrs, loc.Address)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// didLoadModuleSymbols re-resolves this breakpoint in a process whose symbol
// set changed and syncs the backend if the addresses moved.
func (b *Breakpoint) didLoadModuleSymbols(p *Process) {
	if !b.appliesToProcess(p) {
		return
	}
	before := b.resolved[p.koid]
	after := b.resolveInProcess(p)
	b.resolved[p.koid] = after
	if uint64SlicesEqual(before, after) {
		return
	}
	if !b.isInternal {
		b.session.eachBreakpointObserver(func(o BreakpointObserver) { o.OnBreakpointMatched(b, false) })
	}
	b.syncBackend(nil)
}

// willDestroyProcess drops the process's resolved addresses and syncs.
func (b *Breakpoint) willDestroyProcess(p *Process) {
	if _, ok := b.resolved[p.koid]; !ok {
		return
	}
	delete(b.resolved, p.koid)
	b.syncBackend(nil)
}

// hasEnabledLocation reports whether the backend has anything to install.
func (b *Breakpoint) hasEnabledLocation() bool {
	if !b.settings.Enabled {
		return false
	}
	for _, addrs := range b.resolved {
		if len(addrs) > 0 {
			return true
		}
	}
	return false
}

func (b *Breakpoint) wireSettings() debugipc.BreakpointSettings {
	out := debugipc.BreakpointSettings{
		ID:      b.id,
		Type:    b.settings.Type,
		Name:    b.settings.Name,
		Stop:    b.settings.StopMode,
		OneShot: b.settings.OneShot,
	}
	var threadKoid uint64
	if t := b.settings.Scope.Thread.Get(); t != nil {
		threadKoid = t.koid
	}
	koids := make([]uint64, 0, len(b.resolved))
	for koid := range b.resolved {
		koids = append(koids, koid)
	}
	sort.Slice(koids, func(i, j int) bool { return koids[i] < koids[j] })
	for _, koid := range koids {
		for _, addr := range b.resolved[koid] {
			out.Locations = append(out.Locations, debugipc.BreakpointLocation{
				ProcessKoid: koid,
				ThreadKoid:  threadKoid,
				Address:     addr,
			})
		}
	}
	return out
}

// syncBackend reconciles backend state with the current resolution. The call
// is idempotent: when the wire form matches what the agent already has, no
// message is sent. cb (optional) runs on the loop with the result.
func (b *Breakpoint) syncBackend(cb func(error)) {
	done := func(err error) {
		if cb != nil {
			b.session.loop.Post(func() { cb(err) })
		}
	}

	if !b.hasEnabledLocation() {
		if !b.backendInstalled {
			done(nil)
			return
		}
		b.backendInstalled = false
		b.lastSent = debugipc.BreakpointSettings{}
		b.session.remote.RemoveBreakpoint(&debugipc.RemoveBreakpointRequest{BreakpointID: b.id},
			func(reply *debugipc.RemoveBreakpointReply, err error) {
				done(err)
			})
		return
	}

	wire := b.wireSettings()
	if b.backendInstalled && wireSettingsEqual(wire, b.lastSent) {
		done(nil)
		return
	}

	weak := b.WeakRef()
	b.session.remote.AddOrChangeBreakpoint(&debugipc.AddOrChangeBreakpointRequest{Breakpoint: wire},
		func(reply *debugipc.AddOrChangeBreakpointReply, err error) {
			bp := weak.Get()
			if bp == nil {
				done(ErrCanceled)
				return
			}
			if err == nil && reply.Status != debugipc.ZxOk {
				err = backendErrorf(reply.Status, "error setting breakpoint %d, %s", bp.id, reply.Status)
			}
			if err != nil {
				if !bp.isInternal {
					bp.session.eachBreakpointObserver(func(o BreakpointObserver) { o.OnBreakpointUpdateFailure(bp, err) })
				}
				done(err)
				return
			}
			bp.backendInstalled = true
			bp.lastSent = wire
			done(nil)
		})
}

// updateStats installs backend-reported hit stats. Runs before any stop
// handling so observers see coherent counts.
func (b *Breakpoint) updateStats(stats debugipc.BreakpointStats) {
	b.stats = stats
}

// BackendBreakpointRemoved records that the agent no longer has this
// breakpoint (one-shot auto-delete, disconnect). Teardown will not send a
// redundant RemoveBreakpoint.
func (b *Breakpoint) BackendBreakpointRemoved() {
	b.backendInstalled = false
	b.lastSent = debugipc.BreakpointSettings{}
}

func (b *Breakpoint) destroy() {
	if b.backendInstalled {
		b.backendInstalled = false
		b.session.remote.RemoveBreakpoint(&debugipc.RemoveBreakpointRequest{BreakpointID: b.id},
			func(*debugipc.RemoveBreakpointReply, error) {})
	}
	b.flag.invalidate()
}

func wireSettingsEqual(a, b debugipc.BreakpointSettings) bool {
	if a.ID != b.ID || a.Type != b.Type || a.Name != b.Name ||
		a.Stop != b.Stop || a.OneShot != b.OneShot || len(a.Locations) != len(b.Locations) {
		return false
	}
	for i := range a.Locations {
		if a.Locations[i] != b.Locations[i] {
			return false
		}
	}
	return true
}

func uint64SlicesEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
