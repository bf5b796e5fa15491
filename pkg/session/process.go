package session

import (
	"fmt"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/symbolizer"
)

// maxIOBufferSize caps each of the stdout/stderr ring buffers. Oldest data
// is dropped first.
const maxIOBufferSize = 1024 * 1024

// tlsHelperSymbols name the three libc-provided helper blobs needed to
// compute TLS addresses on the target: the thrd_t layout helper, the link
// map module-ID helper, and the tlsbase helper.
var tlsHelperSymbols = [3]string{"zxdb.thrd_t", "zxdb.link_map_tls_modid", "zxdb.tlsbase"}

// TLSHelpers holds the helper programs read from the target process.
type TLSHelpers struct {
	ThrdT           []byte
	LinkMapTLSModID []byte
	TLSBase         []byte
}

type tlsLoadState int

const (
	tlsUnloaded tlsLoadState = iota
	tlsLoading
	tlsLoaded
	tlsFailed
)

// SymbolLoader is the external symbol subsystem's entry point for producing
// a module's symbol index, typically by locating a symbol file by build ID
// (possibly via a Download).
type SymbolLoader interface {
	LoadModule(m debugipc.Module, cb func(*symbolizer.Index, error))
}

// Process is one live debugged process. It exclusively owns its Threads and
// its symbol bookkeeping. Stdout/stderr forwarded by the agent accumulate in
// capped ring buffers.
type Process struct {
	target  *Target
	session *Session

	koid uint64
	name string

	threads map[uint64]*Thread
	modules []debugipc.Module
	symbols symbolizer.ProcessSymbols

	tlsState            tlsLoadState
	tlsHelpers          *TLSHelpers
	tlsErr              error
	tlsWaiters          []func(*TLSHelpers, error)
	tlsReadsOutstanding int

	stdout ioBuffer
	stderr ioBuffer

	flag *weakFlag
}

func newProcess(t *Target, koid uint64, name string) *Process {
	return &Process{
		target:  t,
		session: t.session,
		koid:    koid,
		name:    name,
		threads: make(map[uint64]*Thread),
		symbols: symbolizer.NewProcessSymbols(),
		flag:    newWeakFlag(),
	}
}

// Koid returns the process koid.
func (p *Process) Koid() uint64 { return p.koid }

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Target returns the owning target.
func (p *Process) Target() *Target { return p.target }

// Session returns the owning session.
func (p *Process) Session() *Session { return p.session }

// Symbols returns the symbol resolver for this process.
func (p *Process) Symbols() symbolizer.ProcessSymbols { return p.symbols }

// WeakRef returns a liveness-checked reference to this process.
func (p *Process) WeakRef() WeakProcess { return WeakProcess{p: p, flag: p.flag} }

// Threads returns a snapshot of the live threads.
func (p *Process) Threads() []*Thread {
	out := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out
}

// ThreadFromKoid returns the live thread with the given koid, or nil.
func (p *Process) ThreadFromKoid(koid uint64) *Thread {
	return p.threads[koid]
}

// Modules returns the last reported module list.
func (p *Process) Modules() []debugipc.Module {
	return append([]debugipc.Module(nil), p.modules...)
}

// Stdout returns the buffered stdout contents.
func (p *Process) Stdout() []byte { return p.stdout.bytes() }

// Stderr returns the buffered stderr contents.
func (p *Process) Stderr() []byte { return p.stderr.bytes() }

func (p *Process) destroy() {
	for _, t := range p.Threads() {
		p.destroyThread(t)
	}
	// Dangling TLS waiters still hear an answer.
	p.failTLSWaiters(fmt.Errorf("process %d destroyed: %w", p.koid, ErrCanceled))
	p.flag.invalidate()
}

// onThreadStarting creates the thread object and, unless the session is
// configured to pause on launch, resumes it (the agent keeps new threads
// suspended until the client acknowledges them).
func (p *Process) onThreadStarting(record debugipc.ThreadRecord) {
	if _, ok := p.threads[record.ThreadKoid]; ok {
		p.session.log.Warnf("duplicate thread-starting notification for %d.%d", p.koid, record.ThreadKoid)
		return
	}
	t := newThread(p, record)
	p.threads[record.ThreadKoid] = t
	p.session.eachProcessObserver(func(o ProcessObserver) { o.DidCreateThread(p, t) })

	if !p.session.system.settings.PauseOnLaunch {
		p.session.remote.Resume(&debugipc.ResumeRequest{
			ProcessKoid: p.koid,
			ThreadKoids: []uint64{record.ThreadKoid},
			How:         debugipc.ResumeResolveAndContinue,
		}, func(*debugipc.ResumeReply, error) {})
	}
}

func (p *Process) onThreadExiting(koid uint64) {
	t, ok := p.threads[koid]
	if !ok {
		return
	}
	p.destroyThread(t)
}

func (p *Process) destroyThread(t *Thread) {
	p.session.eachProcessObserver(func(o ProcessObserver) { o.WillDestroyThread(p, t) })
	delete(p.threads, t.koid)
	t.destroy()
}

// onModules handles a module-list notification: loads symbols for each new
// module, re-resolves breakpoints, then resumes the threads the agent
// stopped for the load. When pause-on-launch is set and exactly one thread
// was stopped, that stop is left in place; multi-threaded launches always
// resume.
func (p *Process) onModules(modules []debugipc.Module, stoppedThreadKoids []uint64) {
	p.modules = modules
	for _, m := range modules {
		p.loadModuleSymbols(m)
	}

	if len(stoppedThreadKoids) == 0 {
		return
	}
	if len(stoppedThreadKoids) == 1 && p.session.system.settings.PauseOnLaunch {
		return
	}
	p.session.remote.Resume(&debugipc.ResumeRequest{
		ProcessKoid: p.koid,
		ThreadKoids: stoppedThreadKoids,
		How:         debugipc.ResumeResolveAndContinue,
	}, func(*debugipc.ResumeReply, error) {})
}

func (p *Process) loadModuleSymbols(m debugipc.Module) {
	loader := p.session.system.symbolLoader
	if loader == nil {
		// No symbol subsystem wired up; the module is tracked without
		// symbols so address breakpoints still work.
		p.symbols.DidLoadModule(m.Name, m.BuildID, m.Base, nil)
		p.notifyModulesLoaded()
		return
	}
	weak := p.WeakRef()
	loader.LoadModule(m, func(index *symbolizer.Index, err error) {
		proc := weak.Get()
		if proc == nil {
			return
		}
		if err != nil {
			proc.symbols.DidLoadModule(m.Name, m.BuildID, m.Base, nil)
			proc.session.eachProcessObserver(func(o ProcessObserver) { o.OnSymbolLoadFailure(proc, err) })
		} else {
			proc.symbols.DidLoadModule(m.Name, m.BuildID, m.Base, index)
		}
		proc.notifyModulesLoaded()
	})
}

// notifyModulesLoaded fans the module-symbol change to observers and
// re-resolves every breakpoint that could apply to this process.
func (p *Process) notifyModulesLoaded() {
	p.session.eachProcessObserver(func(o ProcessObserver) { o.DidLoadModuleSymbols(p) })
	for _, bp := range p.session.system.breakpoints {
		bp.didLoadModuleSymbols(p)
	}
}

func (p *Process) onIO(kind debugipc.IOType, data string) {
	switch kind {
	case debugipc.IOTypeStdout:
		p.stdout.append([]byte(data))
	case debugipc.IOTypeStderr:
		p.stderr.append([]byte(data))
	}
}

// GetTLSHelpers returns the TLS helper blobs, reading them from the target
// on first use. The three memory reads are single-flight: concurrent callers
// queue on the same load and all hear the same answer.
func (p *Process) GetTLSHelpers(cb func(*TLSHelpers, error)) {
	switch p.tlsState {
	case tlsLoaded:
		helpers := p.tlsHelpers
		p.session.loop.Post(func() { cb(helpers, nil) })
		return
	case tlsFailed:
		err := p.tlsErr
		p.session.loop.Post(func() { cb(nil, err) })
		return
	case tlsLoading:
		p.tlsWaiters = append(p.tlsWaiters, cb)
		return
	}

	p.tlsState = tlsLoading
	p.tlsWaiters = append(p.tlsWaiters, cb)
	p.tlsHelpers = &TLSHelpers{}
	p.tlsReadsOutstanding = len(tlsHelperSymbols)

	for i, symName := range tlsHelperSymbols {
		locs := p.symbols.ResolveInputLocation(symbolizer.InputLocation{
			Type: symbolizer.InputLocationName,
			Name: symName,
		})
		if len(locs) == 0 {
			p.tlsReadDone(i, nil, fmt.Errorf("TLS helper symbol %q not found", symName))
			continue
		}
		idx := i
		weak := p.WeakRef()
		p.session.remote.ReadMemory(&debugipc.ReadMemoryRequest{
			ProcessKoid: p.koid,
			Address:     locs[0].Address,
			Size:        p.session.arch.PageSize,
		}, func(reply *debugipc.ReadMemoryReply, err error) {
			proc := weak.Get()
			if proc == nil {
				return
			}
			if err != nil {
				proc.tlsReadDone(idx, nil, err)
				return
			}
			if len(reply.Blocks) == 0 || !reply.Blocks[0].Valid {
				proc.tlsReadDone(idx, nil, fmt.Errorf("TLS helper %q memory not readable", tlsHelperSymbols[idx]))
				return
			}
			proc.tlsReadDone(idx, reply.Blocks[0].Data, nil)
		})
	}
}

func (p *Process) tlsReadDone(idx int, data []byte, err error) {
	if p.tlsState != tlsLoading {
		return
	}
	if err != nil {
		p.tlsState = tlsFailed
		p.tlsErr = err
		p.tlsHelpers = nil
		p.failTLSWaiters(err)
		return
	}
	switch idx {
	case 0:
		p.tlsHelpers.ThrdT = data
	case 1:
		p.tlsHelpers.LinkMapTLSModID = data
	case 2:
		p.tlsHelpers.TLSBase = data
	}
	p.tlsReadsOutstanding--
	if p.tlsReadsOutstanding > 0 {
		return
	}
	p.tlsState = tlsLoaded
	waiters := p.tlsWaiters
	p.tlsWaiters = nil
	helpers := p.tlsHelpers
	for _, w := range waiters {
		w := w
		p.session.loop.Post(func() { w(helpers, nil) })
	}
}

func (p *Process) failTLSWaiters(err error) {
	waiters := p.tlsWaiters
	p.tlsWaiters = nil
	for _, w := range waiters {
		w := w
		p.session.loop.Post(func() { w(nil, err) })
	}
}

// ioBuffer is a byte ring capped at maxIOBufferSize.
type ioBuffer struct {
	data []byte
}

func (b *ioBuffer) append(d []byte) {
	b.data = append(b.data, d...)
	if over := len(b.data) - maxIOBufferSize; over > 0 {
		b.data = b.data[over:]
	}
}

func (b *ioBuffer) bytes() []byte {
	return append([]byte(nil), b.data...)
}
