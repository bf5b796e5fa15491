// Package sessiontest provides a scriptable RemoteAPI for exercising the
// session core without a debug agent.
package sessiontest

import (
	"fmt"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/mloop"
)

// Call is one recorded RemoteAPI invocation.
type Call struct {
	Method  string
	Request interface{}
}

type replyEntry struct {
	reply interface{}
	err   error
}

// MockRemoteAPI records every request and answers from scripted replies.
// Replies post on the loop like the real backends, so callback ordering in
// tests matches production. A method with nothing scripted answers with a
// zero-value (success) reply.
type MockRemoteAPI struct {
	loop *mloop.Loop

	// Calls records every invocation in order.
	Calls []Call

	queued   map[string][]replyEntry
	handlers map[string]func(req interface{}) (interface{}, error)
}

// New creates a mock that posts its replies on loop.
func New(loop *mloop.Loop) *MockRemoteAPI {
	return &MockRemoteAPI{
		loop:     loop,
		queued:   make(map[string][]replyEntry),
		handlers: make(map[string]func(interface{}) (interface{}, error)),
	}
}

// Enqueue scripts the next reply for method. Scripted replies are consumed
// in FIFO order before any handler or default applies.
func (m *MockRemoteAPI) Enqueue(method string, reply interface{}, err error) {
	m.queued[method] = append(m.queued[method], replyEntry{reply: reply, err: err})
}

// SetHandler installs a function answering every otherwise-unscripted call
// to method.
func (m *MockRemoteAPI) SetHandler(method string, h func(req interface{}) (interface{}, error)) {
	m.handlers[method] = h
}

// CallsTo returns the recorded requests for one method, in order.
func (m *MockRemoteAPI) CallsTo(method string) []interface{} {
	var out []interface{}
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c.Request)
		}
	}
	return out
}

// CallCount returns how many times method was invoked.
func (m *MockRemoteAPI) CallCount(method string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func dispatch[Req any, Reply any](m *MockRemoteAPI, method string, req *Req, cb func(*Reply, error)) {
	m.Calls = append(m.Calls, Call{Method: method, Request: req})

	var reply *Reply
	var err error
	if entries := m.queued[method]; len(entries) > 0 {
		e := entries[0]
		m.queued[method] = entries[1:]
		if e.err != nil {
			err = e.err
		} else if e.reply != nil {
			typed, ok := e.reply.(*Reply)
			if !ok {
				panic(fmt.Sprintf("sessiontest: scripted reply for %s has type %T", method, e.reply))
			}
			reply = typed
		} else {
			reply = new(Reply)
		}
	} else if h, ok := m.handlers[method]; ok {
		r, herr := h(req)
		if herr != nil {
			err = herr
		} else if r != nil {
			typed, ok := r.(*Reply)
			if !ok {
				panic(fmt.Sprintf("sessiontest: handler reply for %s has type %T", method, r))
			}
			reply = typed
		} else {
			reply = new(Reply)
		}
	} else {
		reply = new(Reply)
	}

	m.loop.Post(func() { cb(reply, err) })
}

func (m *MockRemoteAPI) Hello(req *debugipc.HelloRequest, cb func(*debugipc.HelloReply, error)) {
	dispatch(m, "Hello", req, cb)
}
func (m *MockRemoteAPI) Launch(req *debugipc.LaunchRequest, cb func(*debugipc.LaunchReply, error)) {
	dispatch(m, "Launch", req, cb)
}
func (m *MockRemoteAPI) Kill(req *debugipc.KillRequest, cb func(*debugipc.KillReply, error)) {
	dispatch(m, "Kill", req, cb)
}
func (m *MockRemoteAPI) Attach(req *debugipc.AttachRequest, cb func(*debugipc.AttachReply, error)) {
	dispatch(m, "Attach", req, cb)
}
func (m *MockRemoteAPI) Detach(req *debugipc.DetachRequest, cb func(*debugipc.DetachReply, error)) {
	dispatch(m, "Detach", req, cb)
}
func (m *MockRemoteAPI) Modules(req *debugipc.ModulesRequest, cb func(*debugipc.ModulesReply, error)) {
	dispatch(m, "Modules", req, cb)
}
func (m *MockRemoteAPI) Pause(req *debugipc.PauseRequest, cb func(*debugipc.PauseReply, error)) {
	dispatch(m, "Pause", req, cb)
}
func (m *MockRemoteAPI) Resume(req *debugipc.ResumeRequest, cb func(*debugipc.ResumeReply, error)) {
	dispatch(m, "Resume", req, cb)
}
func (m *MockRemoteAPI) ProcessTree(req *debugipc.ProcessTreeRequest, cb func(*debugipc.ProcessTreeReply, error)) {
	dispatch(m, "ProcessTree", req, cb)
}
func (m *MockRemoteAPI) Threads(req *debugipc.ThreadsRequest, cb func(*debugipc.ThreadsReply, error)) {
	dispatch(m, "Threads", req, cb)
}
func (m *MockRemoteAPI) ReadMemory(req *debugipc.ReadMemoryRequest, cb func(*debugipc.ReadMemoryReply, error)) {
	dispatch(m, "ReadMemory", req, cb)
}
func (m *MockRemoteAPI) WriteMemory(req *debugipc.WriteMemoryRequest, cb func(*debugipc.WriteMemoryReply, error)) {
	dispatch(m, "WriteMemory", req, cb)
}
func (m *MockRemoteAPI) ReadRegisters(req *debugipc.ReadRegistersRequest, cb func(*debugipc.ReadRegistersReply, error)) {
	dispatch(m, "ReadRegisters", req, cb)
}
func (m *MockRemoteAPI) WriteRegisters(req *debugipc.WriteRegistersRequest, cb func(*debugipc.WriteRegistersReply, error)) {
	dispatch(m, "WriteRegisters", req, cb)
}
func (m *MockRemoteAPI) AddOrChangeBreakpoint(req *debugipc.AddOrChangeBreakpointRequest, cb func(*debugipc.AddOrChangeBreakpointReply, error)) {
	dispatch(m, "AddOrChangeBreakpoint", req, cb)
}
func (m *MockRemoteAPI) RemoveBreakpoint(req *debugipc.RemoveBreakpointRequest, cb func(*debugipc.RemoveBreakpointReply, error)) {
	dispatch(m, "RemoveBreakpoint", req, cb)
}
func (m *MockRemoteAPI) SysInfo(req *debugipc.SysInfoRequest, cb func(*debugipc.SysInfoReply, error)) {
	dispatch(m, "SysInfo", req, cb)
}
func (m *MockRemoteAPI) Status(req *debugipc.StatusRequest, cb func(*debugipc.StatusReply, error)) {
	dispatch(m, "Status", req, cb)
}
func (m *MockRemoteAPI) ProcessStatus(req *debugipc.ProcessStatusRequest, cb func(*debugipc.ProcessStatusReply, error)) {
	dispatch(m, "ProcessStatus", req, cb)
}
func (m *MockRemoteAPI) ThreadStatus(req *debugipc.ThreadStatusRequest, cb func(*debugipc.ThreadStatusReply, error)) {
	dispatch(m, "ThreadStatus", req, cb)
}
func (m *MockRemoteAPI) AddressSpace(req *debugipc.AddressSpaceRequest, cb func(*debugipc.AddressSpaceReply, error)) {
	dispatch(m, "AddressSpace", req, cb)
}
func (m *MockRemoteAPI) UpdateFilter(req *debugipc.UpdateFilterRequest, cb func(*debugipc.UpdateFilterReply, error)) {
	dispatch(m, "UpdateFilter", req, cb)
}
func (m *MockRemoteAPI) LoadInfoHandleTable(req *debugipc.LoadInfoHandleTableRequest, cb func(*debugipc.LoadInfoHandleTableReply, error)) {
	dispatch(m, "LoadInfoHandleTable", req, cb)
}
func (m *MockRemoteAPI) ConfigAgent(req *debugipc.ConfigAgentRequest, cb func(*debugipc.ConfigAgentReply, error)) {
	dispatch(m, "ConfigAgent", req, cb)
}
func (m *MockRemoteAPI) QuitAgent(req *debugipc.QuitAgentRequest, cb func(*debugipc.QuitAgentReply, error)) {
	dispatch(m, "QuitAgent", req, cb)
}
func (m *MockRemoteAPI) UpdateGlobalSettings(req *debugipc.UpdateGlobalSettingsRequest, cb func(*debugipc.UpdateGlobalSettingsReply, error)) {
	dispatch(m, "UpdateGlobalSettings", req, cb)
}
