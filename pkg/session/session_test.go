package session

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/mloop"
	"github.com/vsrinivas/fuchsia-debug/pkg/session/sessiontest"
	"github.com/vsrinivas/fuchsia-debug/pkg/symbolizer"
)

func newTestSession(t *testing.T) (*Session, *sessiontest.MockRemoteAPI, *mloop.Loop) {
	t.Helper()
	loop := mloop.New()
	mock := sessiontest.New(loop)
	return NewSessionWithRemoteAPI(loop, mock), mock, loop
}

// attachTestProcess attaches a process through the public path so targets,
// observers and bookkeeping all see it the normal way.
func attachTestProcess(t *testing.T, s *Session, mock *sessiontest.MockRemoteAPI, loop *mloop.Loop, koid uint64) *Process {
	t.Helper()
	mock.Enqueue("Attach", &debugipc.AttachReply{Status: debugipc.ZxOk, Koid: koid, Name: "test-proc"}, nil)
	var attachErr error
	called := false
	s.System().AttachToProcess(koid, func(err error) {
		called = true
		attachErr = err
	})
	loop.RunUntilIdle()
	require.True(t, called, "attach callback never fired")
	require.NoError(t, attachErr)
	p := s.System().ProcessFromKoid(koid)
	require.NotNil(t, p)
	return p
}

func addTestThread(t *testing.T, p *Process, koid uint64) *Thread {
	t.Helper()
	p.onThreadStarting(debugipc.ThreadRecord{
		ProcessKoid: p.Koid(),
		ThreadKoid:  koid,
		Name:        "test-thread",
		State:       debugipc.ThreadStateRunning,
	})
	p.session.loop.RunUntilIdle()
	thread := p.ThreadFromKoid(koid)
	require.NotNil(t, thread)
	return thread
}

type recordingThreadObserver struct {
	stops       []*StopInfo
	threads     []*Thread
	invalidated int
}

func (o *recordingThreadObserver) OnThreadStopped(t *Thread, info *StopInfo) {
	o.stops = append(o.stops, info)
	o.threads = append(o.threads, t)
}

func (o *recordingThreadObserver) OnThreadFramesInvalidated(t *Thread) {
	o.invalidated++
}

func singleFrame(ip uint64) []debugipc.StackFrame {
	return []debugipc.StackFrame{{IP: ip, SP: 0x8000}}
}

// symLocAddr builds a one-entry address location list.
func symLocAddr(addr uint64) []symbolizer.InputLocation {
	return []symbolizer.InputLocation{{Type: symbolizer.InputLocationAddress, Address: addr}}
}

func mustEncodeBody(t *testing.T, body interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return data
}

func TestReplyCorrelationByTransactionID(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)

	var sent bytes.Buffer
	s.stream = NewStreamBuffer(&sent)
	s.stream.SetDataAvailableCallback(s.OnStreamReadable)

	var got1, got2 *debugipc.ThreadsReply
	s.RemoteAPI().Threads(&debugipc.ThreadsRequest{ProcessKoid: 1}, func(r *debugipc.ThreadsReply, err error) {
		require.NoError(t, err)
		got1 = r
	})
	s.RemoteAPI().Threads(&debugipc.ThreadsRequest{ProcessKoid: 2}, func(r *debugipc.ThreadsReply, err error) {
		require.NoError(t, err)
		got2 = r
	})
	loop.RunUntilIdle()
	require.Equal(t, 2, len(s.pendingRequests))

	// Answer out of order: the second request first.
	reply2, err := debugipc.EncodeMessage(debugipc.MsgThreads, 2, &debugipc.ThreadsReply{
		Threads: []debugipc.ThreadRecord{{ProcessKoid: 2, ThreadKoid: 22}},
	})
	require.NoError(t, err)
	reply1, err := debugipc.EncodeMessage(debugipc.MsgThreads, 1, &debugipc.ThreadsReply{
		Threads: []debugipc.ThreadRecord{{ProcessKoid: 1, ThreadKoid: 11}},
	})
	require.NoError(t, err)

	// Feed the first reply split across two reads to exercise partial-message
	// buffering.
	s.stream.AddReadData(reply2[:5])
	require.Nil(t, got2)
	s.stream.AddReadData(reply2[5:])
	s.stream.AddReadData(reply1)
	loop.RunUntilIdle()

	require.NotNil(t, got1)
	require.NotNil(t, got2)
	assert.Equal(t, uint64(11), got1.Threads[0].ThreadKoid)
	assert.Equal(t, uint64(22), got2.Threads[0].ThreadKoid)
	assert.Empty(t, s.pendingRequests)
}

func TestUnknownTransactionDropped(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)
	var sent bytes.Buffer
	s.stream = NewStreamBuffer(&sent)
	s.stream.SetDataAvailableCallback(s.OnStreamReadable)

	msg, err := debugipc.EncodeMessage(debugipc.MsgThreads, 99, &debugipc.ThreadsReply{})
	require.NoError(t, err)
	s.stream.AddReadData(msg)
	loop.RunUntilIdle()

	// Still connected: a stray reply is not a protocol error.
	assert.True(t, s.IsConnected())
}

func TestOversizedMessageTearsDownConnection(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)
	var sent bytes.Buffer
	s.stream = NewStreamBuffer(&sent)
	s.stream.SetDataAvailableCallback(s.OnStreamReadable)

	hdr := debugipc.EncodeHeader(debugipc.Header{
		Size:          debugipc.MaxMessageSize + 1,
		Kind:          debugipc.MsgThreads,
		TransactionID: 1,
	})
	s.stream.AddReadData(hdr)
	loop.RunUntilIdle()

	assert.False(t, s.IsConnected())
}

func TestConditionalBreakpointSuppressesStop(t *testing.T) {
	s, mock, loop := newTestSession(t)
	p := attachTestProcess(t, s, mock, loop, 100)
	addTestThread(t, p, 200)

	obs := &recordingThreadObserver{}
	s.AddThreadObserver(obs)

	bp := s.System().CreateNewBreakpoint()
	bp.SetSettings(BreakpointSettings{
		Enabled:   true,
		HitMult:   3,
		Locations: symLocAddr(0x1000),
	}, func(err error) { require.NoError(t, err) })
	loop.RunUntilIdle()

	resumesBefore := mock.CallCount("Resume")

	// Hits 1 and 2 miss the multiple: the process silently resumes.
	for hit := uint32(1); hit <= 2; hit++ {
		s.DispatchNotifyException(&debugipc.NotifyException{
			Thread:         debugipc.ThreadRecord{ProcessKoid: 100, ThreadKoid: 200},
			Type:           debugipc.ExceptionSoftwareBreakpoint,
			Frames:         singleFrame(0x1000),
			HitBreakpoints: []debugipc.BreakpointStats{{ID: bp.ID(), HitCount: hit}},
		})
	}
	loop.RunUntilIdle()
	assert.Empty(t, obs.stops)
	assert.Equal(t, resumesBefore+2, mock.CallCount("Resume"))
	assert.Equal(t, uint32(2), bp.HitCount(), "stats update even on suppressed stops")

	// Hit 3 is the multiple: the stop surfaces.
	s.DispatchNotifyException(&debugipc.NotifyException{
		Thread:         debugipc.ThreadRecord{ProcessKoid: 100, ThreadKoid: 200},
		Type:           debugipc.ExceptionSoftwareBreakpoint,
		Frames:         singleFrame(0x1000),
		HitBreakpoints: []debugipc.BreakpointStats{{ID: bp.ID(), HitCount: 3}},
	})
	loop.RunUntilIdle()
	require.Len(t, obs.stops, 1)
	require.Len(t, obs.stops[0].HitBreakpoints, 1)
	assert.Same(t, bp, obs.stops[0].HitBreakpoints[0].Get())
}

func TestUnknownBreakpointHitIsNotSuppressed(t *testing.T) {
	s, mock, loop := newTestSession(t)
	p := attachTestProcess(t, s, mock, loop, 100)
	addTestThread(t, p, 200)

	obs := &recordingThreadObserver{}
	s.AddThreadObserver(obs)

	// A hit on an ID this client never created must stop, not resume.
	s.DispatchNotifyException(&debugipc.NotifyException{
		Thread:         debugipc.ThreadRecord{ProcessKoid: 100, ThreadKoid: 200},
		Type:           debugipc.ExceptionSoftwareBreakpoint,
		Frames:         singleFrame(0x1000),
		HitBreakpoints: []debugipc.BreakpointStats{{ID: 9999, HitCount: 1}},
	})
	loop.RunUntilIdle()
	require.Len(t, obs.stops, 1)
	// The dead entry is filtered from the observable list.
	assert.Empty(t, obs.stops[0].HitBreakpoints)
}

func TestOneShotBreakpointAutoDeletes(t *testing.T) {
	s, mock, loop := newTestSession(t)
	p := attachTestProcess(t, s, mock, loop, 100)
	addTestThread(t, p, 200)

	obs := &recordingThreadObserver{}
	s.AddThreadObserver(obs)

	bp := s.System().CreateNewBreakpoint()
	bp.SetSettings(BreakpointSettings{
		Enabled:   true,
		OneShot:   true,
		Locations: symLocAddr(0x2000),
	}, func(err error) { require.NoError(t, err) })
	loop.RunUntilIdle()

	id := bp.ID()
	weak := bp.WeakRef()

	s.DispatchNotifyException(&debugipc.NotifyException{
		Thread:         debugipc.ThreadRecord{ProcessKoid: 100, ThreadKoid: 200},
		Type:           debugipc.ExceptionSoftwareBreakpoint,
		Frames:         singleFrame(0x2000),
		HitBreakpoints: []debugipc.BreakpointStats{{ID: id, HitCount: 1, ShouldDelete: true}},
	})
	loop.RunUntilIdle()

	// The stop surfaced with the breakpoint still alive at notification time.
	require.Len(t, obs.stops, 1)
	require.Len(t, obs.stops[0].HitBreakpoints, 1)

	// Afterwards the breakpoint is gone, its weak refs are dead, and no
	// redundant RemoveBreakpoint went to the agent.
	assert.Nil(t, s.System().BreakpointByBackendID(id))
	assert.Nil(t, weak.Get())
	assert.Equal(t, 0, mock.CallCount("RemoveBreakpoint"))
}

func TestProcessIONotifiesAndBuffers(t *testing.T) {
	s, mock, loop := newTestSession(t)
	p := attachTestProcess(t, s, mock, loop, 100)

	var levels []NotificationLevel
	var msgs []string
	s.AddObserver(&funcSessionObserver{
		onNotification: func(level NotificationLevel, msg string) {
			levels = append(levels, level)
			msgs = append(msgs, msg)
		},
	})

	body := mustEncodeBody(t, debugipc.NotifyIO{ProcessKoid: 100, Type: debugipc.IOTypeStderr, Data: "oops\n"})
	s.DispatchNotification(debugipc.MsgNotifyIO, body)
	loop.RunUntilIdle()

	require.Len(t, levels, 1)
	assert.Equal(t, NotificationProcessStderr, levels[0])
	assert.Equal(t, "oops\n", msgs[0])
	assert.Equal(t, []byte("oops\n"), p.Stderr())
	assert.Empty(t, p.Stdout())
}

func TestProcessStartingLimboOnlyNotifies(t *testing.T) {
	s, _, loop := newTestSession(t)

	var limbo []debugipc.ProcessRecord
	s.AddObserver(&funcSessionObserver{
		onLimbo: func(procs []debugipc.ProcessRecord) { limbo = append(limbo, procs...) },
	})

	s.DispatchProcessStarting(&debugipc.NotifyProcessStarting{
		Type: debugipc.ProcessStartingLimbo,
		Koid: 55,
		Name: "crashed",
	})
	loop.RunUntilIdle()

	require.Len(t, limbo, 1)
	assert.Equal(t, uint64(55), limbo[0].ProcessKoid)
	assert.Nil(t, s.System().ProcessFromKoid(55), "limbo processes are not auto-attached")
}

func TestProcessStartingReusesEmptyTarget(t *testing.T) {
	s, _, loop := newTestSession(t)

	require.Len(t, s.System().Targets(), 1)
	s.DispatchProcessStarting(&debugipc.NotifyProcessStarting{
		Type: debugipc.ProcessStartingAttach,
		Koid: 77,
		Name: "matched",
	})
	loop.RunUntilIdle()

	// The initial empty target was reused, not a new one created.
	assert.Len(t, s.System().Targets(), 1)
	require.NotNil(t, s.System().ProcessFromKoid(77))
}

func TestComponentLaunchIsNotAutoAttached(t *testing.T) {
	s, _, loop := newTestSession(t)

	var auto []bool
	s.AddProcessObserver(&funcProcessObserver{
		onCreate: func(p *Process, autoAttached bool) { auto = append(auto, autoAttached) },
	})

	s.ExpectComponent("fuchsia-pkg://host/app#meta/app.cm")
	s.DispatchProcessStarting(&debugipc.NotifyProcessStarting{
		Type:         debugipc.ProcessStartingAttach,
		Koid:         88,
		Name:         "app.cm",
		ComponentURL: "fuchsia-pkg://host/app#meta/app.cm",
	})
	// The same URL again without an expectation is a plain filter match.
	s.DispatchProcessStarting(&debugipc.NotifyProcessStarting{
		Type:         debugipc.ProcessStartingAttach,
		Koid:         89,
		Name:         "app.cm",
		ComponentURL: "fuchsia-pkg://host/app#meta/app.cm",
	})
	loop.RunUntilIdle()

	require.Equal(t, []bool{false, true}, auto)
}

func TestDisconnectFailsPendingRequests(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)
	var sent bytes.Buffer
	s.stream = NewStreamBuffer(&sent)
	s.stream.SetDataAvailableCallback(s.OnStreamReadable)

	var gotErr error
	s.RemoteAPI().SysInfo(&debugipc.SysInfoRequest{}, func(r *debugipc.SysInfoReply, err error) {
		gotErr = err
	})
	loop.RunUntilIdle()

	var cbErr error
	s.Disconnect(func(err error) { cbErr = err })
	loop.RunUntilIdle()

	require.NoError(t, cbErr)
	assert.ErrorIs(t, gotErr, ErrNotConnected)
	assert.False(t, s.IsConnected())
}

func TestDisconnectSendsQuitAgentWhenConfigured(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)
	var sent bytes.Buffer
	s.stream = NewStreamBuffer(&sent)
	s.stream.SetDataAvailableCallback(s.OnStreamReadable)
	s.System().Settings().QuitAgentOnExit = true

	s.Disconnect(nil)
	loop.RunUntilIdle()

	require.GreaterOrEqual(t, sent.Len(), debugipc.HeaderSize)
	h := debugipc.DecodeHeader(sent.Bytes())
	assert.Equal(t, debugipc.MsgQuitAgent, h.Kind)
	assert.False(t, s.IsConnected())
}

func TestDisconnectLeavesAgentRunningByDefault(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)
	var sent bytes.Buffer
	s.stream = NewStreamBuffer(&sent)
	s.stream.SetDataAvailableCallback(s.OnStreamReadable)

	s.Disconnect(nil)
	loop.RunUntilIdle()

	assert.Zero(t, sent.Len())
}

// test observer scaffolding

type funcSessionObserver struct {
	onNotification func(NotificationLevel, string)
	onPrevious     func([]debugipc.ProcessRecord)
	onLimbo        func([]debugipc.ProcessRecord)
}

func (o *funcSessionObserver) HandleNotification(level NotificationLevel, msg string) {
	if o.onNotification != nil {
		o.onNotification(level, msg)
	}
}
func (o *funcSessionObserver) HandlePreviousConnectedProcesses(procs []debugipc.ProcessRecord) {
	if o.onPrevious != nil {
		o.onPrevious(procs)
	}
}
func (o *funcSessionObserver) HandleProcessesInLimbo(procs []debugipc.ProcessRecord) {
	if o.onLimbo != nil {
		o.onLimbo(procs)
	}
}

type funcProcessObserver struct {
	onCreate  func(*Process, bool)
	onDestroy func(*Process, ProcessDestroyReason, int64)
}

func (o *funcProcessObserver) DidCreateProcess(p *Process, autoAttached bool) {
	if o.onCreate != nil {
		o.onCreate(p, autoAttached)
	}
}
func (o *funcProcessObserver) WillDestroyProcess(p *Process, reason ProcessDestroyReason, exitCode int64) {
	if o.onDestroy != nil {
		o.onDestroy(p, reason, exitCode)
	}
}
func (o *funcProcessObserver) DidCreateThread(p *Process, t *Thread)     {}
func (o *funcProcessObserver) WillDestroyThread(p *Process, t *Thread)   {}
func (o *funcProcessObserver) DidLoadModuleSymbols(p *Process)           {}
func (o *funcProcessObserver) WillUnloadModuleSymbols(p *Process)        {}
func (o *funcProcessObserver) OnSymbolLoadFailure(p *Process, err error) {}
