package session

import "github.com/vsrinivas/fuchsia-debug/pkg/debugipc"

// RemoteAPI is the pure request/reply surface of the debug agent. Every
// method issues one request and invokes cb exactly once, asynchronously on
// the loop goroutine, with either the decoded reply or an error. No method
// ever calls back reentrantly from within the requesting call.
//
// Three implementations exist: the stream-backed one used for live
// connections, the minidump one answering from a post-mortem snapshot, and
// the mock in sessiontest.
type RemoteAPI interface {
	Hello(req *debugipc.HelloRequest, cb func(*debugipc.HelloReply, error))
	Launch(req *debugipc.LaunchRequest, cb func(*debugipc.LaunchReply, error))
	Kill(req *debugipc.KillRequest, cb func(*debugipc.KillReply, error))
	Attach(req *debugipc.AttachRequest, cb func(*debugipc.AttachReply, error))
	Detach(req *debugipc.DetachRequest, cb func(*debugipc.DetachReply, error))
	Modules(req *debugipc.ModulesRequest, cb func(*debugipc.ModulesReply, error))
	Pause(req *debugipc.PauseRequest, cb func(*debugipc.PauseReply, error))
	Resume(req *debugipc.ResumeRequest, cb func(*debugipc.ResumeReply, error))
	ProcessTree(req *debugipc.ProcessTreeRequest, cb func(*debugipc.ProcessTreeReply, error))
	Threads(req *debugipc.ThreadsRequest, cb func(*debugipc.ThreadsReply, error))
	ReadMemory(req *debugipc.ReadMemoryRequest, cb func(*debugipc.ReadMemoryReply, error))
	WriteMemory(req *debugipc.WriteMemoryRequest, cb func(*debugipc.WriteMemoryReply, error))
	ReadRegisters(req *debugipc.ReadRegistersRequest, cb func(*debugipc.ReadRegistersReply, error))
	WriteRegisters(req *debugipc.WriteRegistersRequest, cb func(*debugipc.WriteRegistersReply, error))
	AddOrChangeBreakpoint(req *debugipc.AddOrChangeBreakpointRequest, cb func(*debugipc.AddOrChangeBreakpointReply, error))
	RemoveBreakpoint(req *debugipc.RemoveBreakpointRequest, cb func(*debugipc.RemoveBreakpointReply, error))
	SysInfo(req *debugipc.SysInfoRequest, cb func(*debugipc.SysInfoReply, error))
	Status(req *debugipc.StatusRequest, cb func(*debugipc.StatusReply, error))
	ProcessStatus(req *debugipc.ProcessStatusRequest, cb func(*debugipc.ProcessStatusReply, error))
	ThreadStatus(req *debugipc.ThreadStatusRequest, cb func(*debugipc.ThreadStatusReply, error))
	AddressSpace(req *debugipc.AddressSpaceRequest, cb func(*debugipc.AddressSpaceReply, error))
	UpdateFilter(req *debugipc.UpdateFilterRequest, cb func(*debugipc.UpdateFilterReply, error))
	LoadInfoHandleTable(req *debugipc.LoadInfoHandleTableRequest, cb func(*debugipc.LoadInfoHandleTableReply, error))
	ConfigAgent(req *debugipc.ConfigAgentRequest, cb func(*debugipc.ConfigAgentReply, error))
	QuitAgent(req *debugipc.QuitAgentRequest, cb func(*debugipc.QuitAgentReply, error))
	UpdateGlobalSettings(req *debugipc.UpdateGlobalSettingsRequest, cb func(*debugipc.UpdateGlobalSettingsReply, error))
}
