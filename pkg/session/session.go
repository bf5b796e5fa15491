package session

import (
	"fmt"
	"io"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/logflags"
	"github.com/vsrinivas/fuchsia-debug/pkg/mloop"
)

// ArchInfo describes the architecture of the connected system, learned from
// the Hello handshake.
type ArchInfo struct {
	Arch     string
	PageSize uint32
}

// Session owns the connection to one debug agent and the System object tree
// hanging off it. It correlates request replies by transaction ID and
// demultiplexes unsolicited notifications to the right Process and Thread.
//
// At most one of {live stream, open minidump, pending connection} exists at
// any time. All methods must be called on the loop goroutine.
type Session struct {
	loop   *mloop.Loop
	log    logflags.Logger
	ipcLog logflags.Logger

	system *System
	remote RemoteAPI

	stream  *StreamBuffer
	conn    io.Closer
	pending *pendingConnection

	minidumpPath string

	arch ArchInfo

	nextTransactionID uint32
	pendingRequests   map[uint32]*pendingRequest

	observers           []SessionObserver
	targetObservers     []TargetObserver
	processObservers    []ProcessObserver
	threadObservers     []ThreadObserver
	breakpointObservers []BreakpointObserver
	filterObservers     []FilterObserver

	// expectedComponents holds component URLs the client launched and is
	// waiting to see a process notification for.
	expectedComponents map[string]struct{}
}

type pendingRequest struct {
	kind   debugipc.MsgKind
	handle func(body []byte, err error)
}

// NewSession creates a Session whose RemoteAPI serializes over the live
// stream once Connect succeeds.
func NewSession(loop *mloop.Loop) *Session {
	s := newSessionCommon(loop)
	s.remote = &remoteAPIStream{session: s}
	return s
}

// NewSessionWithRemoteAPI creates a Session with an injected RemoteAPI.
// Used by tests and by tools that drive the core without a socket.
func NewSessionWithRemoteAPI(loop *mloop.Loop, api RemoteAPI) *Session {
	s := newSessionCommon(loop)
	s.remote = api
	s.arch = ArchInfo{Arch: "x64", PageSize: 4096}
	return s
}

func newSessionCommon(loop *mloop.Loop) *Session {
	s := &Session{
		loop:               loop,
		log:                logflags.SessionLogger(),
		ipcLog:             logflags.IPCLogger(),
		nextTransactionID:  1,
		pendingRequests:    make(map[uint32]*pendingRequest),
		expectedComponents: make(map[string]struct{}),
	}
	s.system = newSystem(s)
	return s
}

// Loop returns the loop this session runs on.
func (s *Session) Loop() *mloop.Loop { return s.loop }

// System returns the object registry of this session.
func (s *Session) System() *System { return s.system }

// RemoteAPI returns the request/reply surface of the agent.
func (s *Session) RemoteAPI() RemoteAPI { return s.remote }

// Arch returns the architecture info from the handshake.
func (s *Session) Arch() ArchInfo { return s.arch }

// IsConnected returns true if a live agent connection exists.
func (s *Session) IsConnected() bool { return s.stream != nil }

// IsMinidump returns true if a post-mortem snapshot is open.
func (s *Session) IsMinidump() bool { return s.minidumpPath != "" }

func (s *Session) AddObserver(o SessionObserver)    { s.observers = append(s.observers, o) }
func (s *Session) RemoveObserver(o SessionObserver) { s.observers = removeSessionObserver(s.observers, o) }

func (s *Session) AddTargetObserver(o TargetObserver) { s.targetObservers = append(s.targetObservers, o) }
func (s *Session) AddProcessObserver(o ProcessObserver) {
	s.processObservers = append(s.processObservers, o)
}
func (s *Session) AddThreadObserver(o ThreadObserver) { s.threadObservers = append(s.threadObservers, o) }
func (s *Session) AddBreakpointObserver(o BreakpointObserver) {
	s.breakpointObservers = append(s.breakpointObservers, o)
}
func (s *Session) AddFilterObserver(o FilterObserver) { s.filterObservers = append(s.filterObservers, o) }

func (s *Session) RemoveThreadObserver(o ThreadObserver) {
	for i, x := range s.threadObservers {
		if x == o {
			s.threadObservers = append(s.threadObservers[:i], s.threadObservers[i+1:]...)
			return
		}
	}
}

func removeSessionObserver(list []SessionObserver, o SessionObserver) []SessionObserver {
	for i, x := range list {
		if x == o {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// snapshots for mutation-tolerant iteration.
func (s *Session) eachObserver(fn func(SessionObserver)) {
	for _, o := range append([]SessionObserver(nil), s.observers...) {
		fn(o)
	}
}
func (s *Session) eachTargetObserver(fn func(TargetObserver)) {
	for _, o := range append([]TargetObserver(nil), s.targetObservers...) {
		fn(o)
	}
}
func (s *Session) eachProcessObserver(fn func(ProcessObserver)) {
	for _, o := range append([]ProcessObserver(nil), s.processObservers...) {
		fn(o)
	}
}
func (s *Session) eachThreadObserver(fn func(ThreadObserver)) {
	for _, o := range append([]ThreadObserver(nil), s.threadObservers...) {
		fn(o)
	}
}
func (s *Session) eachBreakpointObserver(fn func(BreakpointObserver)) {
	for _, o := range append([]BreakpointObserver(nil), s.breakpointObservers...) {
		fn(o)
	}
}
func (s *Session) eachFilterObserver(fn func(FilterObserver)) {
	for _, o := range append([]FilterObserver(nil), s.filterObservers...) {
		fn(o)
	}
}

func (s *Session) notify(level NotificationLevel, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case NotificationError:
		s.log.Error(msg)
	case NotificationWarning:
		s.log.Warn(msg)
	}
	s.eachObserver(func(o SessionObserver) { o.HandleNotification(level, msg) })
}

// Connect starts an asynchronous connection attempt to the agent at addr.
// cb runs on the loop with the result. Fails (posted, never reentrant) if a
// connection, minidump or pending attempt already exists.
func (s *Session) Connect(addr string, cb func(error)) {
	if err := s.connectionConflict(); err != nil {
		s.loop.Post(func() { cb(err) })
		return
	}
	pc := newPendingConnection(s, addr, cb)
	s.pending = pc
	pc.start()
}

func (s *Session) connectionConflict() error {
	switch {
	case s.stream != nil:
		return AlreadyConnectedError{What: "connection"}
	case s.minidumpPath != "":
		return AlreadyConnectedError{What: "minidump"}
	case s.pending != nil:
		return AlreadyConnectedError{What: "pending connection"}
	}
	return nil
}

// connectionResolved is posted by the pending connection with its result.
// A stale result (the pending connection was canceled by Disconnect) is
// discarded; its callback was already invoked with ErrCanceled.
func (s *Session) connectionResolved(pc *pendingConnection, conn io.ReadWriteCloser, hello *debugipc.HelloReply, err error) {
	if s.pending != pc {
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.pending = nil
	if err != nil {
		pc.cb(err)
		return
	}

	s.arch = ArchInfo{Arch: hello.Arch, PageSize: hello.PageSize}
	s.conn = conn
	s.stream = NewStreamBuffer(conn)
	s.stream.SetDataAvailableCallback(s.OnStreamReadable)
	startConnReader(s.loop, conn, s.stream, s.onConnReadError)

	s.system.DidConnect()
	s.requestAgentStatus()
	s.log.Infof("connected to debug agent at %s (%s, protocol %d)", pc.addr, hello.Arch, hello.Version)
	pc.cb(nil)
}

// requestAgentStatus asks the agent what it was already doing and fans the
// answer to observers: previously-attached processes and limbo processes.
func (s *Session) requestAgentStatus() {
	s.remote.Status(&debugipc.StatusRequest{}, func(reply *debugipc.StatusReply, err error) {
		if err != nil {
			s.notify(NotificationWarning, "could not query agent status: %v", err)
			return
		}
		if len(reply.Processes) > 0 {
			s.eachObserver(func(o SessionObserver) { o.HandlePreviousConnectedProcesses(reply.Processes) })
		}
		if len(reply.LimboProcesses) > 0 {
			s.eachObserver(func(o SessionObserver) { o.HandleProcessesInLimbo(reply.LimboProcesses) })
		}
	})
}

// Disconnect tears down the live connection or cancels a pending one. cb runs
// on the loop. Disconnecting a session with nothing open is an error.
func (s *Session) Disconnect(cb func(error)) {
	if s.pending != nil {
		pc := s.pending
		s.pending = nil
		pc.cancel()
		if cb != nil {
			s.loop.Post(func() { cb(nil) })
		}
		return
	}
	if s.stream == nil && s.minidumpPath == "" {
		err := fmt.Errorf("not connected")
		if cb != nil {
			s.loop.Post(func() { cb(err) })
		}
		return
	}
	if s.minidumpPath != "" {
		s.minidumpPath = ""
		s.remote = &remoteAPIStream{session: s}
	}
	if s.stream != nil && s.system.settings.QuitAgentOnExit {
		// Fire and forget. The connection is torn down immediately after, so
		// the reply fails with ErrNotConnected and is discarded.
		s.remote.QuitAgent(&debugipc.QuitAgentRequest{}, func(*debugipc.QuitAgentReply, error) {})
	}
	s.clearConnectionData()
	if cb != nil {
		s.loop.Post(func() { cb(nil) })
	}
}

// OpenMinidump opens a post-mortem snapshot. The snapshot-backed RemoteAPI
// answers queries; mutating operations fail. cb runs on the loop.
func (s *Session) OpenMinidump(path string, cb func(error)) {
	if err := s.connectionConflict(); err != nil {
		s.loop.Post(func() { cb(err) })
		return
	}
	md, err := newMinidumpRemoteAPI(s, path)
	if err != nil {
		s.loop.Post(func() { cb(err) })
		return
	}
	s.minidumpPath = path
	s.remote = md
	s.arch = md.arch()
	s.system.DidConnect()
	md.dispatchStartupNotifications()
	s.loop.Post(func() { cb(nil) })
}

// clearConnectionData drops all connection state. Local bookkeeping only:
// targets and jobs are implicitly detached without telling the (possibly
// dead) backend, and every pending request callback fails with a transport
// error rather than being dropped.
func (s *Session) clearConnectionData() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.stream = nil
	pending := s.pendingRequests
	s.pendingRequests = make(map[uint32]*pendingRequest)
	for _, pr := range pending {
		pr := pr
		s.loop.Post(func() { pr.handle(nil, ErrNotConnected) })
	}
	s.system.DidDisconnect()
}

// onConnReadError is posted by the connection reader goroutine when the
// socket dies.
func (s *Session) onConnReadError(err error) {
	if s.stream == nil {
		return
	}
	s.notify(NotificationError, "connection to the debug agent lost: %v", err)
	s.clearConnectionData()
}

// OnStreamReadable drains complete messages from the stream buffer. Replies
// are matched to pending requests by transaction ID; transaction ID 0 is an
// unsolicited notification.
func (s *Session) OnStreamReadable() {
	for {
		hdrBytes, ok := s.stream.Peek(debugipc.HeaderSize)
		if !ok {
			return
		}
		hdr := debugipc.DecodeHeader(hdrBytes)
		if hdr.Size > debugipc.MaxMessageSize {
			s.notify(NotificationError,
				"corrupted stream from debug agent: message of %d bytes declared, disconnecting", hdr.Size)
			s.clearConnectionData()
			return
		}
		if s.stream.Avail() < debugipc.HeaderSize+int(hdr.Size) {
			return // wait for more data
		}
		s.stream.Consume(debugipc.HeaderSize)
		body := s.stream.Consume(int(hdr.Size))
		if logflags.IPC() {
			s.ipcLog.Debugf("<- %s txn=%d size=%d", hdr.Kind, hdr.TransactionID, hdr.Size)
		}

		if hdr.TransactionID == 0 {
			s.DispatchNotification(hdr.Kind, body)
			continue
		}
		pr, ok := s.pendingRequests[hdr.TransactionID]
		if !ok {
			s.notify(NotificationWarning, "reply for unknown transaction %d (%s) dropped", hdr.TransactionID, hdr.Kind)
			continue
		}
		delete(s.pendingRequests, hdr.TransactionID)
		pr.handle(body, nil)
	}
}

// sendMessage frames and sends a request, registering the reply handler. The
// stream implementation of RemoteAPI funnels through here.
func (s *Session) sendMessage(kind debugipc.MsgKind, req interface{}, handle func(body []byte, err error)) {
	if s.stream == nil {
		s.loop.Post(func() { handle(nil, ErrNotConnected) })
		return
	}
	txn := s.nextTransactionID
	s.nextTransactionID++
	msg, err := debugipc.EncodeMessage(kind, txn, req)
	if err != nil {
		s.loop.Post(func() { handle(nil, err) })
		return
	}
	s.pendingRequests[txn] = &pendingRequest{kind: kind, handle: handle}
	if logflags.IPC() {
		s.ipcLog.Debugf("-> %s txn=%d size=%d", kind, txn, len(msg)-debugipc.HeaderSize)
	}
	if err := s.stream.Write(msg); err != nil {
		delete(s.pendingRequests, txn)
		s.loop.Post(func() { handle(nil, err) })
	}
}

// ExpectComponent records that the client launched the component at url and
// the next matching process notification belongs to that launch.
func (s *Session) ExpectComponent(url string) {
	s.expectedComponents[url] = struct{}{}
}

// ThreadFromKoids routes to a live thread, or nil.
func (s *Session) ThreadFromKoids(processKoid, threadKoid uint64) *Thread {
	p := s.system.ProcessFromKoid(processKoid)
	if p == nil {
		return nil
	}
	return p.ThreadFromKoid(threadKoid)
}

// DispatchNotification decodes and routes one agent-initiated notification.
func (s *Session) DispatchNotification(kind debugipc.MsgKind, body []byte) {
	switch kind {
	case debugipc.MsgNotifyProcessStarting:
		var n debugipc.NotifyProcessStarting
		if err := debugipc.DecodeBody(kind, body, &n); err != nil {
			s.notify(NotificationWarning, "bad notification: %v", err)
			return
		}
		s.DispatchProcessStarting(&n)
	case debugipc.MsgNotifyProcessExiting:
		var n debugipc.NotifyProcessExiting
		if err := debugipc.DecodeBody(kind, body, &n); err != nil {
			return
		}
		if p := s.system.ProcessFromKoid(n.ProcessKoid); p != nil {
			p.target.onProcessExiting(n.ReturnCode)
		}
	case debugipc.MsgNotifyThreadStarting:
		var n debugipc.NotifyThread
		if err := debugipc.DecodeBody(kind, body, &n); err != nil {
			return
		}
		if p := s.system.ProcessFromKoid(n.Record.ProcessKoid); p != nil {
			p.onThreadStarting(n.Record)
		}
	case debugipc.MsgNotifyThreadExiting:
		var n debugipc.NotifyThread
		if err := debugipc.DecodeBody(kind, body, &n); err != nil {
			return
		}
		if p := s.system.ProcessFromKoid(n.Record.ProcessKoid); p != nil {
			p.onThreadExiting(n.Record.ThreadKoid)
		}
	case debugipc.MsgNotifyException:
		var n debugipc.NotifyException
		if err := debugipc.DecodeBody(kind, body, &n); err != nil {
			return
		}
		s.DispatchNotifyException(&n)
	case debugipc.MsgNotifyModules:
		var n debugipc.NotifyModules
		if err := debugipc.DecodeBody(kind, body, &n); err != nil {
			return
		}
		if p := s.system.ProcessFromKoid(n.ProcessKoid); p != nil {
			p.onModules(n.Modules, n.StoppedThreadKoids)
		}
	case debugipc.MsgNotifyIO:
		var n debugipc.NotifyIO
		if err := debugipc.DecodeBody(kind, body, &n); err != nil {
			return
		}
		if p := s.system.ProcessFromKoid(n.ProcessKoid); p != nil {
			p.onIO(n.Type, n.Data)
		}
		level := NotificationProcessStdout
		if n.Type == debugipc.IOTypeStderr {
			level = NotificationProcessStderr
		}
		s.eachObserver(func(o SessionObserver) { o.HandleNotification(level, n.Data) })
	default:
		s.notify(NotificationWarning, "unhandled notification kind %s", kind)
	}
}

// DispatchNotifyException is the central stop-handling entry point.
//
// Breakpoint hit stats are attached before anything else fires so every
// observer sees coherent breakpoint state. If the stop is a breakpoint-class
// exception and every hit breakpoint is a conditional one that missed its
// hit multiple, the stop is fully suppressed: all threads of the process are
// resumed and the thread controller layer never hears about it.
func (s *Session) DispatchNotifyException(n *debugipc.NotifyException) {
	thread := s.ThreadFromKoids(n.Thread.ProcessKoid, n.Thread.ThreadKoid)
	if thread == nil {
		s.log.Warnf("exception for unknown thread %d.%d", n.Thread.ProcessKoid, n.Thread.ThreadKoid)
		return
	}

	allConditionalMissed := n.Type.IsBreakpointClass() && len(n.HitBreakpoints) > 0
	hits := make([]WeakBreakpoint, 0, len(n.HitBreakpoints))
	for _, stats := range n.HitBreakpoints {
		bp := s.system.BreakpointByBackendID(stats.ID)
		if bp == nil {
			// Hit on a breakpoint this client no longer (or never) tracked.
			allConditionalMissed = false
			hits = append(hits, WeakBreakpoint{})
			continue
		}
		bp.updateStats(stats)
		hits = append(hits, bp.WeakRef())
		if !(bp.settings.HitMult > 1 && stats.HitCount%bp.settings.HitMult != 0) {
			allConditionalMissed = false
		}
	}

	if allConditionalMissed {
		s.remote.Resume(&debugipc.ResumeRequest{
			ProcessKoid: thread.process.koid,
			How:         debugipc.ResumeResolveAndContinue,
		}, func(*debugipc.ResumeReply, error) {})
		return
	}

	thread.setFramesFromException(n.Frames)
	thread.OnException(n.Type, hits)

	// One-shots the backend already removed: mark removed so teardown does
	// not re-send a RemoveBreakpoint, then delete.
	for _, stats := range n.HitBreakpoints {
		if !stats.ShouldDelete {
			continue
		}
		if bp := s.system.BreakpointByBackendID(stats.ID); bp != nil {
			bp.BackendBreakpointRemoved()
			s.system.DeleteBreakpoint(bp)
		}
	}
}

// DispatchProcessStarting routes a new-process notification: limbo processes
// only notify observers; launches and filter matches land in an existing
// empty Target or a newly created one.
func (s *Session) DispatchProcessStarting(n *debugipc.NotifyProcessStarting) {
	if n.Type == debugipc.ProcessStartingLimbo {
		rec := debugipc.ProcessRecord{ProcessKoid: n.Koid, Name: n.Name, ComponentURL: n.ComponentURL}
		s.eachObserver(func(o SessionObserver) { o.HandleProcessesInLimbo([]debugipc.ProcessRecord{rec}) })
		return
	}

	viaComponentLaunch := false
	if n.ComponentURL != "" {
		if _, ok := s.expectedComponents[n.ComponentURL]; ok {
			delete(s.expectedComponents, n.ComponentURL)
			viaComponentLaunch = true
		}
	}

	var target *Target
	for _, t := range s.system.Targets() {
		if t.State() == TargetNone && t.process == nil {
			target = t
			break
		}
	}
	if target == nil {
		target = s.system.CreateNewTarget()
	}
	autoAttached := n.Type == debugipc.ProcessStartingAttach && !viaComponentLaunch
	target.processCreatedFromNotification(n.Koid, n.Name, autoAttached)
}
