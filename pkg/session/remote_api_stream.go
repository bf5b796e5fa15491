package session

import "github.com/vsrinivas/fuchsia-debug/pkg/debugipc"

// remoteAPIStream serializes every RemoteAPI call over the session's live
// stream, correlating the reply by transaction ID.
type remoteAPIStream struct {
	session *Session
}

// send funnels one request through the session and decodes the reply into
// newReply's result before invoking done.
func sendOverStream[Req any, Reply any](s *Session, kind debugipc.MsgKind, req *Req, cb func(*Reply, error)) {
	s.sendMessage(kind, req, func(body []byte, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		reply := new(Reply)
		if err := debugipc.DecodeBody(kind, body, reply); err != nil {
			cb(nil, err)
			return
		}
		cb(reply, nil)
	})
}

func (r *remoteAPIStream) Hello(req *debugipc.HelloRequest, cb func(*debugipc.HelloReply, error)) {
	sendOverStream(r.session, debugipc.MsgHello, req, cb)
}

func (r *remoteAPIStream) Launch(req *debugipc.LaunchRequest, cb func(*debugipc.LaunchReply, error)) {
	sendOverStream(r.session, debugipc.MsgLaunch, req, cb)
}

func (r *remoteAPIStream) Kill(req *debugipc.KillRequest, cb func(*debugipc.KillReply, error)) {
	sendOverStream(r.session, debugipc.MsgKill, req, cb)
}

func (r *remoteAPIStream) Attach(req *debugipc.AttachRequest, cb func(*debugipc.AttachReply, error)) {
	sendOverStream(r.session, debugipc.MsgAttach, req, cb)
}

func (r *remoteAPIStream) Detach(req *debugipc.DetachRequest, cb func(*debugipc.DetachReply, error)) {
	sendOverStream(r.session, debugipc.MsgDetach, req, cb)
}

func (r *remoteAPIStream) Modules(req *debugipc.ModulesRequest, cb func(*debugipc.ModulesReply, error)) {
	sendOverStream(r.session, debugipc.MsgModules, req, cb)
}

func (r *remoteAPIStream) Pause(req *debugipc.PauseRequest, cb func(*debugipc.PauseReply, error)) {
	sendOverStream(r.session, debugipc.MsgPause, req, cb)
}

func (r *remoteAPIStream) Resume(req *debugipc.ResumeRequest, cb func(*debugipc.ResumeReply, error)) {
	sendOverStream(r.session, debugipc.MsgResume, req, cb)
}

func (r *remoteAPIStream) ProcessTree(req *debugipc.ProcessTreeRequest, cb func(*debugipc.ProcessTreeReply, error)) {
	sendOverStream(r.session, debugipc.MsgProcessTree, req, cb)
}

func (r *remoteAPIStream) Threads(req *debugipc.ThreadsRequest, cb func(*debugipc.ThreadsReply, error)) {
	sendOverStream(r.session, debugipc.MsgThreads, req, cb)
}

func (r *remoteAPIStream) ReadMemory(req *debugipc.ReadMemoryRequest, cb func(*debugipc.ReadMemoryReply, error)) {
	sendOverStream(r.session, debugipc.MsgReadMemory, req, cb)
}

func (r *remoteAPIStream) WriteMemory(req *debugipc.WriteMemoryRequest, cb func(*debugipc.WriteMemoryReply, error)) {
	sendOverStream(r.session, debugipc.MsgWriteMemory, req, cb)
}

func (r *remoteAPIStream) ReadRegisters(req *debugipc.ReadRegistersRequest, cb func(*debugipc.ReadRegistersReply, error)) {
	sendOverStream(r.session, debugipc.MsgReadRegisters, req, cb)
}

func (r *remoteAPIStream) WriteRegisters(req *debugipc.WriteRegistersRequest, cb func(*debugipc.WriteRegistersReply, error)) {
	sendOverStream(r.session, debugipc.MsgWriteRegisters, req, cb)
}

func (r *remoteAPIStream) AddOrChangeBreakpoint(req *debugipc.AddOrChangeBreakpointRequest, cb func(*debugipc.AddOrChangeBreakpointReply, error)) {
	sendOverStream(r.session, debugipc.MsgAddOrChangeBreakpoint, req, cb)
}

func (r *remoteAPIStream) RemoveBreakpoint(req *debugipc.RemoveBreakpointRequest, cb func(*debugipc.RemoveBreakpointReply, error)) {
	sendOverStream(r.session, debugipc.MsgRemoveBreakpoint, req, cb)
}

func (r *remoteAPIStream) SysInfo(req *debugipc.SysInfoRequest, cb func(*debugipc.SysInfoReply, error)) {
	sendOverStream(r.session, debugipc.MsgSysInfo, req, cb)
}

func (r *remoteAPIStream) Status(req *debugipc.StatusRequest, cb func(*debugipc.StatusReply, error)) {
	sendOverStream(r.session, debugipc.MsgStatus, req, cb)
}

func (r *remoteAPIStream) ProcessStatus(req *debugipc.ProcessStatusRequest, cb func(*debugipc.ProcessStatusReply, error)) {
	sendOverStream(r.session, debugipc.MsgProcessStatus, req, cb)
}

func (r *remoteAPIStream) ThreadStatus(req *debugipc.ThreadStatusRequest, cb func(*debugipc.ThreadStatusReply, error)) {
	sendOverStream(r.session, debugipc.MsgThreadStatus, req, cb)
}

func (r *remoteAPIStream) AddressSpace(req *debugipc.AddressSpaceRequest, cb func(*debugipc.AddressSpaceReply, error)) {
	sendOverStream(r.session, debugipc.MsgAddressSpace, req, cb)
}

func (r *remoteAPIStream) UpdateFilter(req *debugipc.UpdateFilterRequest, cb func(*debugipc.UpdateFilterReply, error)) {
	sendOverStream(r.session, debugipc.MsgUpdateFilter, req, cb)
}

func (r *remoteAPIStream) LoadInfoHandleTable(req *debugipc.LoadInfoHandleTableRequest, cb func(*debugipc.LoadInfoHandleTableReply, error)) {
	sendOverStream(r.session, debugipc.MsgLoadInfoHandleTable, req, cb)
}

func (r *remoteAPIStream) ConfigAgent(req *debugipc.ConfigAgentRequest, cb func(*debugipc.ConfigAgentReply, error)) {
	sendOverStream(r.session, debugipc.MsgConfigAgent, req, cb)
}

func (r *remoteAPIStream) QuitAgent(req *debugipc.QuitAgentRequest, cb func(*debugipc.QuitAgentReply, error)) {
	sendOverStream(r.session, debugipc.MsgQuitAgent, req, cb)
}

func (r *remoteAPIStream) UpdateGlobalSettings(req *debugipc.UpdateGlobalSettingsRequest, cb func(*debugipc.UpdateGlobalSettingsReply, error)) {
	sendOverStream(r.session, debugipc.MsgUpdateGlobalSettings, req, cb)
}
