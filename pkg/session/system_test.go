package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/mloop"
)

// echoAttach answers every Attach with success for the requested koid.
func echoAttach(req interface{}) (interface{}, error) {
	r := req.(*debugipc.AttachRequest)
	return &debugipc.AttachReply{
		Status: debugipc.ZxOk,
		Koid:   r.Koid,
		Name:   fmt.Sprintf("proc-%d", r.Koid),
	}, nil
}

func attachTestJob(t *testing.T, s *Session, loop *mloop.Loop, koid uint64) *JobContext {
	t.Helper()
	job := s.System().CreateNewJobContext()
	var jobErr error
	job.Attach(koid, func(err error) { jobErr = err })
	loop.RunUntilIdle()
	require.NoError(t, jobErr)
	require.Equal(t, JobAttached, job.State())
	return job
}

func TestFilterMatchOverCapAttachesNothing(t *testing.T) {
	s, mock, loop := newTestSession(t)
	mock.SetHandler("Attach", echoAttach)
	mock.Enqueue("Attach", &debugipc.AttachReply{Status: debugipc.ZxOk, Koid: 1, Name: "job"}, nil)
	job := attachTestJob(t, s, loop, 1)

	koids := make([]uint64, maxFilterMatchesPerNotification+1)
	for i := range koids {
		koids[i] = uint64(1000 + i)
	}
	attachesBefore := mock.CallCount("Attach")
	s.System().OnFilterMatches(job, koids)
	loop.RunUntilIdle()
	assert.Equal(t, attachesBefore, mock.CallCount("Attach"), "over-cap match must attach nothing")

	// Exactly at the cap every match attaches.
	s.System().OnFilterMatches(job, koids[:maxFilterMatchesPerNotification])
	loop.RunUntilIdle()
	assert.Equal(t, attachesBefore+maxFilterMatchesPerNotification, mock.CallCount("Attach"))
}

func TestFilterMatchSkipsAlreadyAttached(t *testing.T) {
	s, mock, loop := newTestSession(t)
	mock.SetHandler("Attach", echoAttach)
	p := attachTestProcess(t, s, mock, loop, 500)
	require.NotNil(t, p)
	mock.Enqueue("Attach", &debugipc.AttachReply{Status: debugipc.ZxOk, Koid: 2, Name: "job"}, nil)
	job := attachTestJob(t, s, loop, 2)

	attachesBefore := mock.CallCount("Attach")
	s.System().OnFilterMatches(job, []uint64{500, 501})
	loop.RunUntilIdle()

	// Only 501 needs a request; 500 is already attached.
	assert.Equal(t, attachesBefore+1, mock.CallCount("Attach"))
	assert.NotNil(t, s.System().ProcessFromKoid(501))
}

func TestAttachTwiceFailsWithoutIPC(t *testing.T) {
	s, mock, loop := newTestSession(t)
	mock.SetHandler("Attach", echoAttach)
	attachTestProcess(t, s, mock, loop, 42)

	attachesBefore := mock.CallCount("Attach")
	var gotErr error
	s.System().AttachToProcess(42, func(err error) { gotErr = err })
	loop.RunUntilIdle()

	var already AlreadyAttachedError
	require.ErrorAs(t, gotErr, &already)
	assert.Equal(t, uint64(42), already.Koid)
	assert.Equal(t, attachesBefore, mock.CallCount("Attach"), "duplicate attach must not reach the agent")
}

func TestAllProcessesPatternFlattensToEmptyString(t *testing.T) {
	s, mock, loop := newTestSession(t)
	mock.Enqueue("Attach", &debugipc.AttachReply{Status: debugipc.ZxOk, Koid: 9, Name: "job"}, nil)
	attachTestJob(t, s, loop, 9)

	f := s.System().CreateNewFilter()
	f.SetType(FilterProcessNameSubstr)
	f.SetPattern(AllProcessesPattern)
	loop.RunUntilIdle()

	calls := mock.CallsTo("UpdateFilter")
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1].(*debugipc.UpdateFilterRequest)
	assert.Equal(t, []string{""}, last.Filters)
}

func TestFilterMutationsBatchIntoOneSync(t *testing.T) {
	s, mock, loop := newTestSession(t)
	mock.Enqueue("Attach", &debugipc.AttachReply{Status: debugipc.ZxOk, Koid: 9, Name: "job"}, nil)
	attachTestJob(t, s, loop, 9)

	before := mock.CallCount("UpdateFilter")
	f1 := s.System().CreateNewFilter()
	f1.SetType(FilterProcessNameSubstr)
	f1.SetPattern("alpha")
	f2 := s.System().CreateNewFilter()
	f2.SetType(FilterProcessName)
	f2.SetPattern("beta")
	loop.RunUntilIdle()

	assert.Equal(t, before+1, mock.CallCount("UpdateFilter"),
		"four mutations in one turn coalesce into one round trip")
	calls := mock.CallsTo("UpdateFilter")
	last := calls[len(calls)-1].(*debugipc.UpdateFilterRequest)
	assert.Equal(t, []string{"alpha", "beta"}, last.Filters)
}

func TestUnchangedFilterListSkipsSend(t *testing.T) {
	s, mock, loop := newTestSession(t)
	mock.Enqueue("Attach", &debugipc.AttachReply{Status: debugipc.ZxOk, Koid: 9, Name: "job"}, nil)
	attachTestJob(t, s, loop, 9)

	f := s.System().CreateNewFilter()
	f.SetType(FilterProcessNameSubstr)
	f.SetPattern("gamma")
	loop.RunUntilIdle()
	count := mock.CallCount("UpdateFilter")

	// Setting the same pattern again recomputes to an identical list.
	f.SetPattern("gamma")
	loop.RunUntilIdle()
	assert.Equal(t, count, mock.CallCount("UpdateFilter"))
}

func TestFilterMatchesTriggerAutoAttach(t *testing.T) {
	s, mock, loop := newTestSession(t)
	mock.SetHandler("Attach", echoAttach)
	mock.Enqueue("Attach", &debugipc.AttachReply{Status: debugipc.ZxOk, Koid: 9, Name: "job"}, nil)
	attachTestJob(t, s, loop, 9)

	mock.Enqueue("UpdateFilter", &debugipc.UpdateFilterReply{MatchedProcesses: []uint64{700, 701}}, nil)
	f := s.System().CreateNewFilter()
	f.SetType(FilterProcessNameSubstr)
	f.SetPattern("svc")
	loop.RunUntilIdle()

	assert.NotNil(t, s.System().ProcessFromKoid(700))
	assert.NotNil(t, s.System().ProcessFromKoid(701))
}

func TestCannotDeleteLastTarget(t *testing.T) {
	s, _, _ := newTestSession(t)
	targets := s.System().Targets()
	require.Len(t, targets, 1)
	assert.Error(t, s.System().DeleteTarget(targets[0]))
}

func TestGlobalSettingsSync(t *testing.T) {
	s, mock, loop := newTestSession(t)

	s.System().SetPauseOnLaunch(true)
	loop.RunUntilIdle()

	calls := mock.CallsTo("UpdateGlobalSettings")
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1].(*debugipc.UpdateGlobalSettingsRequest)
	assert.True(t, last.PauseOnLaunch)
	assert.False(t, last.PauseOnAttach)
}

// download tests

type fakeFetch struct {
	buildID  string
	fileType DownloadFileType
	cb       func(string, error)
}

type fakeSymbolServer struct {
	name    string
	state   SymbolServerState
	fetches []fakeFetch
}

func (f *fakeSymbolServer) Name() string             { return f.name }
func (f *fakeSymbolServer) State() SymbolServerState { return f.state }
func (f *fakeSymbolServer) Fetch(buildID string, fileType DownloadFileType, cb func(string, error)) {
	f.fetches = append(f.fetches, fakeFetch{buildID: buildID, fileType: fileType, cb: cb})
}

type recordingSystemObserver struct {
	downloadsStarted int
	downloadsStopped int
	lastSucceeded    int
	lastFailed       int
}

func (o *recordingSystemObserver) DidCreateBreakpoint(bp *Breakpoint)   {}
func (o *recordingSystemObserver) WillDestroyBreakpoint(bp *Breakpoint) {}
func (o *recordingSystemObserver) DidCreateFilter(f *Filter)            {}
func (o *recordingSystemObserver) WillDestroyFilter(f *Filter)          {}
func (o *recordingSystemObserver) OnDownloadsStarted()                  { o.downloadsStarted++ }
func (o *recordingSystemObserver) OnDownloadsStopped(succeeded, failed int) {
	o.downloadsStopped++
	o.lastSucceeded = succeeded
	o.lastFailed = failed
}

func TestDownloadDedupAndFanOut(t *testing.T) {
	s, _, loop := newTestSession(t)
	sys := s.System()

	srv := &fakeSymbolServer{name: "srv", state: SymbolServerReady}
	sys.AddSymbolServer(srv)
	obs := &recordingSystemObserver{}
	sys.AddObserver(obs)

	var results []string
	cb := func(path string, err error) {
		require.NoError(t, err)
		results = append(results, path)
	}
	d1 := sys.GetDownload("abc123", DownloadDebugInfo, cb)
	d2 := sys.GetDownload("abc123", DownloadDebugInfo, cb)
	loop.RunUntilIdle()

	assert.Same(t, d1, d2, "same key shares one transfer")
	require.Len(t, srv.fetches, 1, "dedup means one fetch")
	assert.Equal(t, 1, obs.downloadsStarted)
	assert.Equal(t, 0, obs.downloadsStopped)

	srv.fetches[0].cb("/cache/abc123/debuginfo", nil)
	loop.RunUntilIdle()

	assert.Equal(t, []string{"/cache/abc123/debuginfo", "/cache/abc123/debuginfo"}, results)
	assert.Equal(t, 1, obs.downloadsStopped)
	assert.Equal(t, 1, obs.lastSucceeded)
	assert.Equal(t, 0, obs.lastFailed)

	// The table entry is gone: a new request starts a new transfer.
	sys.GetDownload("abc123", DownloadDebugInfo, func(string, error) {})
	loop.RunUntilIdle()
	assert.Len(t, srv.fetches, 2)
	assert.Equal(t, 2, obs.downloadsStarted)
}

func TestDownloadDistinctFileTypesAreSeparate(t *testing.T) {
	s, _, loop := newTestSession(t)
	sys := s.System()
	srv := &fakeSymbolServer{name: "srv", state: SymbolServerReady}
	sys.AddSymbolServer(srv)

	d1 := sys.GetDownload("abc123", DownloadDebugInfo, nil)
	d2 := sys.GetDownload("abc123", DownloadBinary, nil)
	loop.RunUntilIdle()

	assert.NotSame(t, d1, d2)
	assert.Len(t, srv.fetches, 2)
}

func TestDownloadFallbackChain(t *testing.T) {
	s, _, loop := newTestSession(t)
	sys := s.System()

	bad := &fakeSymbolServer{name: "bad", state: SymbolServerReady}
	notReady := &fakeSymbolServer{name: "auth-wall", state: SymbolServerAuth}
	good := &fakeSymbolServer{name: "good", state: SymbolServerReady}
	sys.AddSymbolServer(bad)
	sys.AddSymbolServer(notReady)
	sys.AddSymbolServer(good)

	obs := &recordingSystemObserver{}
	sys.AddObserver(obs)

	var gotPath string
	var calls int
	sys.RequestDownload("deadbeef", DownloadBinary, func(path string, err error) {
		calls++
		require.NoError(t, err)
		gotPath = path
	})
	loop.RunUntilIdle()

	require.Len(t, bad.fetches, 1)
	assert.Empty(t, notReady.fetches, "non-ready servers are skipped")
	assert.Empty(t, good.fetches)

	bad.fetches[0].cb("", fmt.Errorf("404"))
	loop.RunUntilIdle()
	require.Len(t, good.fetches, 1)

	good.fetches[0].cb("/cache/deadbeef/binary", nil)
	loop.RunUntilIdle()
	assert.Equal(t, 1, calls, "callback fires exactly once")
	assert.Equal(t, "/cache/deadbeef/binary", gotPath)
	assert.Equal(t, 1, obs.lastSucceeded)
}

func TestDownloadAllServersFail(t *testing.T) {
	s, _, loop := newTestSession(t)
	sys := s.System()
	srv := &fakeSymbolServer{name: "srv", state: SymbolServerReady}
	sys.AddSymbolServer(srv)
	obs := &recordingSystemObserver{}
	sys.AddObserver(obs)

	var gotErr error
	sys.RequestDownload("feedface", DownloadDebugInfo, func(path string, err error) { gotErr = err })
	loop.RunUntilIdle()
	require.Len(t, srv.fetches, 1)
	srv.fetches[0].cb("", fmt.Errorf("unreachable"))
	loop.RunUntilIdle()

	require.Error(t, gotErr)
	assert.Equal(t, 0, obs.lastSucceeded)
	assert.Equal(t, 1, obs.lastFailed)
}
