package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/logflags"
)

// ErrMinidumpReadOnly fails every mutating operation against an open
// post-mortem snapshot.
var ErrMinidumpReadOnly = fmt.Errorf("operation not supported on a minidump")

// minidumpSnapshot is the on-disk form of a post-mortem dump: one JSON
// document with the machine info and the full state of every captured
// process.
type minidumpSnapshot struct {
	Arch     string            `json:"arch"`
	PageSize uint32            `json:"page_size"`
	Procs    []minidumpProcess `json:"processes"`
}

type minidumpProcess struct {
	Record  debugipc.ProcessRecord   `json:"record"`
	Threads []minidumpThread         `json:"threads"`
	Modules []debugipc.Module        `json:"modules"`
	Memory  []debugipc.MemoryBlock   `json:"memory"`
	Regions []debugipc.AddressRegion `json:"address_space"`
}

type minidumpThread struct {
	Record    debugipc.ThreadRecord  `json:"record"`
	Frames    []debugipc.StackFrame  `json:"frames"`
	Registers []debugipc.Register    `json:"registers"`
	Exception debugipc.ExceptionType `json:"exception,omitempty"`
}

// minidumpRemoteAPI answers query operations from a snapshot and fails the
// rest. Replies post on the loop so the callback discipline matches the live
// backend exactly.
type minidumpRemoteAPI struct {
	session  *Session
	log      logflags.Logger
	snapshot minidumpSnapshot
}

func newMinidumpRemoteAPI(s *Session, path string) (*minidumpRemoteAPI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open minidump: %w", err)
	}
	md := &minidumpRemoteAPI{session: s, log: logflags.MinidumpLogger()}
	if err := json.Unmarshal(data, &md.snapshot); err != nil {
		return nil, fmt.Errorf("could not parse minidump %s: %w", path, err)
	}
	if md.snapshot.Arch == "" {
		return nil, fmt.Errorf("minidump %s has no architecture record", path)
	}
	return md, nil
}

func (m *minidumpRemoteAPI) arch() ArchInfo {
	pageSize := m.snapshot.PageSize
	if pageSize == 0 {
		pageSize = 4096
	}
	return ArchInfo{Arch: m.snapshot.Arch, PageSize: pageSize}
}

// dispatchStartupNotifications replays the snapshot's processes and threads
// into the session as if the agent had just reported them, ending with each
// thread's captured exception so front ends land on the crash.
func (m *minidumpRemoteAPI) dispatchStartupNotifications() {
	m.log.Debugf("replaying %d processes from minidump", len(m.snapshot.Procs))
	for i := range m.snapshot.Procs {
		proc := &m.snapshot.Procs[i]
		m.session.DispatchProcessStarting(&debugipc.NotifyProcessStarting{
			Type: debugipc.ProcessStartingAttach,
			Koid: proc.Record.ProcessKoid,
			Name: proc.Record.Name,
		})
		if p := m.session.system.ProcessFromKoid(proc.Record.ProcessKoid); p != nil {
			p.onModules(proc.Modules, nil)
		}
		for _, t := range proc.Threads {
			m.session.DispatchNotification(debugipc.MsgNotifyThreadStarting, mustMarshal(debugipc.NotifyThread{Record: t.Record}))
		}
		for _, t := range proc.Threads {
			if t.Exception == debugipc.ExceptionNone {
				continue
			}
			m.session.DispatchNotifyException(&debugipc.NotifyException{
				Thread: t.Record,
				Type:   t.Exception,
				Frames: t.Frames,
			})
		}
	}
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func (m *minidumpRemoteAPI) findProcess(koid uint64) *minidumpProcess {
	for i := range m.snapshot.Procs {
		if m.snapshot.Procs[i].Record.ProcessKoid == koid {
			return &m.snapshot.Procs[i]
		}
	}
	return nil
}

func (m *minidumpRemoteAPI) findThread(processKoid, threadKoid uint64) *minidumpThread {
	proc := m.findProcess(processKoid)
	if proc == nil {
		return nil
	}
	for i := range proc.Threads {
		if proc.Threads[i].Record.ThreadKoid == threadKoid {
			return &proc.Threads[i]
		}
	}
	return nil
}

// post delivers a reply on the loop, preserving the never-reentrant rule.
func post[Reply any](m *minidumpRemoteAPI, cb func(*Reply, error), reply *Reply, err error) {
	m.session.loop.Post(func() { cb(reply, err) })
}

func (m *minidumpRemoteAPI) Hello(req *debugipc.HelloRequest, cb func(*debugipc.HelloReply, error)) {
	a := m.arch()
	post(m, cb, &debugipc.HelloReply{
		Signature: debugipc.HelloSignature,
		Version:   debugipc.Version,
		Arch:      a.Arch,
		PageSize:  a.PageSize,
	}, nil)
}

func (m *minidumpRemoteAPI) Launch(req *debugipc.LaunchRequest, cb func(*debugipc.LaunchReply, error)) {
	post(m, cb, nil, ErrMinidumpReadOnly)
}

func (m *minidumpRemoteAPI) Kill(req *debugipc.KillRequest, cb func(*debugipc.KillReply, error)) {
	post(m, cb, nil, ErrMinidumpReadOnly)
}

func (m *minidumpRemoteAPI) Attach(req *debugipc.AttachRequest, cb func(*debugipc.AttachReply, error)) {
	if req.Type != debugipc.AttachProcess {
		post(m, cb, nil, ErrMinidumpReadOnly)
		return
	}
	proc := m.findProcess(req.Koid)
	if proc == nil {
		post(m, cb, &debugipc.AttachReply{Status: debugipc.ZxErrNotFound}, nil)
		return
	}
	post(m, cb, &debugipc.AttachReply{
		Status: debugipc.ZxOk,
		Koid:   proc.Record.ProcessKoid,
		Name:   proc.Record.Name,
	}, nil)
}

func (m *minidumpRemoteAPI) Detach(req *debugipc.DetachRequest, cb func(*debugipc.DetachReply, error)) {
	post(m, cb, &debugipc.DetachReply{Status: debugipc.ZxOk}, nil)
}

func (m *minidumpRemoteAPI) Modules(req *debugipc.ModulesRequest, cb func(*debugipc.ModulesReply, error)) {
	proc := m.findProcess(req.ProcessKoid)
	if proc == nil {
		post(m, cb, nil, fmt.Errorf("process %d not in minidump", req.ProcessKoid))
		return
	}
	post(m, cb, &debugipc.ModulesReply{Modules: append([]debugipc.Module(nil), proc.Modules...)}, nil)
}

func (m *minidumpRemoteAPI) Pause(req *debugipc.PauseRequest, cb func(*debugipc.PauseReply, error)) {
	// Everything in a snapshot is already stopped.
	reply := &debugipc.PauseReply{}
	if proc := m.findProcess(req.ProcessKoid); proc != nil {
		for _, t := range proc.Threads {
			reply.Threads = append(reply.Threads, t.Record)
		}
	}
	post(m, cb, reply, nil)
}

func (m *minidumpRemoteAPI) Resume(req *debugipc.ResumeRequest, cb func(*debugipc.ResumeReply, error)) {
	post(m, cb, nil, ErrMinidumpReadOnly)
}

func (m *minidumpRemoteAPI) ProcessTree(req *debugipc.ProcessTreeRequest, cb func(*debugipc.ProcessTreeReply, error)) {
	root := debugipc.ProcessTreeRecord{Type: debugipc.ProcessTreeJob, Name: "minidump"}
	for i := range m.snapshot.Procs {
		rec := m.snapshot.Procs[i].Record
		root.Children = append(root.Children, debugipc.ProcessTreeRecord{
			Type: debugipc.ProcessTreeProcess,
			Koid: rec.ProcessKoid,
			Name: rec.Name,
		})
	}
	post(m, cb, &debugipc.ProcessTreeReply{Root: root}, nil)
}

func (m *minidumpRemoteAPI) Threads(req *debugipc.ThreadsRequest, cb func(*debugipc.ThreadsReply, error)) {
	proc := m.findProcess(req.ProcessKoid)
	if proc == nil {
		post(m, cb, nil, fmt.Errorf("process %d not in minidump", req.ProcessKoid))
		return
	}
	reply := &debugipc.ThreadsReply{}
	for _, t := range proc.Threads {
		reply.Threads = append(reply.Threads, t.Record)
	}
	post(m, cb, reply, nil)
}

func (m *minidumpRemoteAPI) ReadMemory(req *debugipc.ReadMemoryRequest, cb func(*debugipc.ReadMemoryReply, error)) {
	proc := m.findProcess(req.ProcessKoid)
	if proc == nil {
		post(m, cb, nil, fmt.Errorf("process %d not in minidump", req.ProcessKoid))
		return
	}
	post(m, cb, &debugipc.ReadMemoryReply{Blocks: sliceMemory(proc.Memory, req.Address, req.Size)}, nil)
}

// sliceMemory cuts the requested range out of the captured blocks. Ranges
// the capture does not cover come back as invalid blocks, matching the live
// agent's behavior for unmapped memory.
func sliceMemory(blocks []debugipc.MemoryBlock, address uint64, size uint32) []debugipc.MemoryBlock {
	type span struct {
		begin, end uint64
		data       []byte
	}
	var spans []span
	reqEnd := address + uint64(size)
	for _, b := range blocks {
		if !b.Valid {
			continue
		}
		bEnd := b.Address + uint64(b.Size)
		if bEnd <= address || b.Address >= reqEnd {
			continue
		}
		begin := b.Address
		if begin < address {
			begin = address
		}
		end := bEnd
		if end > reqEnd {
			end = reqEnd
		}
		spans = append(spans, span{begin: begin, end: end, data: b.Data[begin-b.Address : end-b.Address]})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].begin < spans[j].begin })

	var out []debugipc.MemoryBlock
	cursor := address
	for _, sp := range spans {
		if sp.begin > cursor {
			out = append(out, debugipc.MemoryBlock{Address: cursor, Valid: false, Size: uint32(sp.begin - cursor)})
		}
		out = append(out, debugipc.MemoryBlock{
			Address: sp.begin,
			Valid:   true,
			Size:    uint32(sp.end - sp.begin),
			Data:    sp.data,
		})
		cursor = sp.end
	}
	if cursor < reqEnd {
		out = append(out, debugipc.MemoryBlock{Address: cursor, Valid: false, Size: uint32(reqEnd - cursor)})
	}
	return out
}

func (m *minidumpRemoteAPI) WriteMemory(req *debugipc.WriteMemoryRequest, cb func(*debugipc.WriteMemoryReply, error)) {
	post(m, cb, nil, ErrMinidumpReadOnly)
}

func (m *minidumpRemoteAPI) ReadRegisters(req *debugipc.ReadRegistersRequest, cb func(*debugipc.ReadRegistersReply, error)) {
	t := m.findThread(req.ProcessKoid, req.ThreadKoid)
	if t == nil {
		post(m, cb, nil, fmt.Errorf("thread %d.%d not in minidump", req.ProcessKoid, req.ThreadKoid))
		return
	}
	post(m, cb, &debugipc.ReadRegistersReply{Registers: append([]debugipc.Register(nil), t.Registers...)}, nil)
}

func (m *minidumpRemoteAPI) WriteRegisters(req *debugipc.WriteRegistersRequest, cb func(*debugipc.WriteRegistersReply, error)) {
	post(m, cb, nil, ErrMinidumpReadOnly)
}

func (m *minidumpRemoteAPI) AddOrChangeBreakpoint(req *debugipc.AddOrChangeBreakpointRequest, cb func(*debugipc.AddOrChangeBreakpointReply, error)) {
	post(m, cb, nil, ErrMinidumpReadOnly)
}

func (m *minidumpRemoteAPI) RemoveBreakpoint(req *debugipc.RemoveBreakpointRequest, cb func(*debugipc.RemoveBreakpointReply, error)) {
	post(m, cb, nil, ErrMinidumpReadOnly)
}

func (m *minidumpRemoteAPI) SysInfo(req *debugipc.SysInfoRequest, cb func(*debugipc.SysInfoReply, error)) {
	post(m, cb, &debugipc.SysInfoReply{Version: "minidump"}, nil)
}

func (m *minidumpRemoteAPI) Status(req *debugipc.StatusRequest, cb func(*debugipc.StatusReply, error)) {
	reply := &debugipc.StatusReply{}
	for i := range m.snapshot.Procs {
		reply.Processes = append(reply.Processes, m.snapshot.Procs[i].Record)
	}
	post(m, cb, reply, nil)
}

func (m *minidumpRemoteAPI) ProcessStatus(req *debugipc.ProcessStatusRequest, cb func(*debugipc.ProcessStatusReply, error)) {
	proc := m.findProcess(req.ProcessKoid)
	if proc == nil {
		post(m, cb, &debugipc.ProcessStatusReply{Status: debugipc.ZxErrNotFound}, nil)
		return
	}
	post(m, cb, &debugipc.ProcessStatusReply{Status: debugipc.ZxOk, Record: proc.Record}, nil)
}

func (m *minidumpRemoteAPI) ThreadStatus(req *debugipc.ThreadStatusRequest, cb func(*debugipc.ThreadStatusReply, error)) {
	t := m.findThread(req.ProcessKoid, req.ThreadKoid)
	if t == nil {
		post(m, cb, nil, fmt.Errorf("thread %d.%d not in minidump", req.ProcessKoid, req.ThreadKoid))
		return
	}
	post(m, cb, &debugipc.ThreadStatusReply{
		Record: t.Record,
		Frames: append([]debugipc.StackFrame(nil), t.Frames...),
	}, nil)
}

func (m *minidumpRemoteAPI) AddressSpace(req *debugipc.AddressSpaceRequest, cb func(*debugipc.AddressSpaceReply, error)) {
	proc := m.findProcess(req.ProcessKoid)
	if proc == nil {
		post(m, cb, nil, fmt.Errorf("process %d not in minidump", req.ProcessKoid))
		return
	}
	post(m, cb, &debugipc.AddressSpaceReply{Map: append([]debugipc.AddressRegion(nil), proc.Regions...)}, nil)
}

func (m *minidumpRemoteAPI) UpdateFilter(req *debugipc.UpdateFilterRequest, cb func(*debugipc.UpdateFilterReply, error)) {
	// Filters are meaningless post-mortem but harmless; nothing ever matches.
	post(m, cb, &debugipc.UpdateFilterReply{}, nil)
}

func (m *minidumpRemoteAPI) LoadInfoHandleTable(req *debugipc.LoadInfoHandleTableRequest, cb func(*debugipc.LoadInfoHandleTableReply, error)) {
	post(m, cb, &debugipc.LoadInfoHandleTableReply{Status: debugipc.ZxErrNotFound}, nil)
}

func (m *minidumpRemoteAPI) ConfigAgent(req *debugipc.ConfigAgentRequest, cb func(*debugipc.ConfigAgentReply, error)) {
	post(m, cb, nil, ErrMinidumpReadOnly)
}

func (m *minidumpRemoteAPI) QuitAgent(req *debugipc.QuitAgentRequest, cb func(*debugipc.QuitAgentReply, error)) {
	post(m, cb, nil, ErrMinidumpReadOnly)
}

func (m *minidumpRemoteAPI) UpdateGlobalSettings(req *debugipc.UpdateGlobalSettingsRequest, cb func(*debugipc.UpdateGlobalSettingsReply, error)) {
	post(m, cb, &debugipc.UpdateGlobalSettingsReply{Status: debugipc.ZxOk}, nil)
}
