package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
)

func TestLaunchSuccess(t *testing.T) {
	s, mock, loop := newTestSession(t)
	target := s.System().Targets()[0]

	mock.Enqueue("Launch", &debugipc.LaunchReply{
		Status:      debugipc.ZxOk,
		ProcessKoid: 300,
		ProcessName: "my_program",
	}, nil)

	var launchErr error
	target.Launch([]string{"/pkg/bin/my_program", "--flag"}, func(err error) { launchErr = err })
	assert.Equal(t, TargetStarting, target.State())
	loop.RunUntilIdle()

	require.NoError(t, launchErr)
	assert.Equal(t, TargetRunning, target.State())
	require.NotNil(t, target.Process())
	assert.Equal(t, uint64(300), target.Process().Koid())

	calls := mock.CallsTo("Launch")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"/pkg/bin/my_program", "--flag"}, calls[0].(*debugipc.LaunchRequest).Argv)
}

func TestLaunchBinaryNotFound(t *testing.T) {
	s, mock, loop := newTestSession(t)
	target := s.System().Targets()[0]

	mock.Enqueue("Launch", &debugipc.LaunchReply{Status: debugipc.ZxErrIO}, nil)

	var launchErr error
	target.Launch([]string{"/pkg/bin/nonexistent"}, func(err error) { launchErr = err })
	loop.RunUntilIdle()

	require.Error(t, launchErr)
	assert.Contains(t, launchErr.Error(), "binary not found on the target system")
	assert.Equal(t, TargetNone, target.State(), "a failed launch frees the slot")
}

func TestLaunchPreconditions(t *testing.T) {
	s, mock, loop := newTestSession(t)
	target := s.System().Targets()[0]

	var emptyErr error
	target.Launch(nil, func(err error) { emptyErr = err })
	loop.RunUntilIdle()
	require.Error(t, emptyErr)

	attachTestProcess(t, s, mock, loop, 100)
	busy := s.System().Targets()[0]
	require.Equal(t, TargetRunning, busy.State())
	var busyErr error
	busy.Launch([]string{"prog"}, func(err error) { busyErr = err })
	loop.RunUntilIdle()
	require.Error(t, busyErr)
	assert.Contains(t, busyErr.Error(), "Running")
}

func TestAttachAlreadyBoundBenignRace(t *testing.T) {
	s, mock, loop := newTestSession(t)
	target := s.System().Targets()[0]

	// The agent says it is already attached, and the follow-up status query
	// confirms the process is healthy: that is a filter race, not an error.
	mock.Enqueue("Attach", &debugipc.AttachReply{Status: debugipc.ZxErrAlreadyBound}, nil)
	mock.Enqueue("ProcessStatus", &debugipc.ProcessStatusReply{
		Status: debugipc.ZxOk,
		Record: debugipc.ProcessRecord{ProcessKoid: 400, Name: "raced"},
	}, nil)

	var attachErr error
	target.Attach(400, func(err error) { attachErr = err })
	loop.RunUntilIdle()

	require.NoError(t, attachErr)
	assert.Equal(t, TargetRunning, target.State())
	require.NotNil(t, target.Process())
	assert.Equal(t, "raced", target.Process().Name())
}

func TestAttachAlreadyBoundRealConflict(t *testing.T) {
	s, mock, loop := newTestSession(t)
	target := s.System().Targets()[0]

	mock.Enqueue("Attach", &debugipc.AttachReply{Status: debugipc.ZxErrAlreadyBound}, nil)
	mock.Enqueue("ProcessStatus", &debugipc.ProcessStatusReply{Status: debugipc.ZxErrNotFound}, nil)

	var attachErr error
	target.Attach(400, func(err error) { attachErr = err })
	loop.RunUntilIdle()

	require.Error(t, attachErr)
	var be BackendError
	require.ErrorAs(t, attachErr, &be)
	assert.Equal(t, debugipc.ZxErrAlreadyBound, be.Status)
	assert.Equal(t, TargetNone, target.State())
}

func TestDetachLeavesTargetReusable(t *testing.T) {
	s, mock, loop := newTestSession(t)
	p := attachTestProcess(t, s, mock, loop, 100)
	target := p.Target()

	var reasons []ProcessDestroyReason
	s.AddProcessObserver(&funcProcessObserver{
		onDestroy: func(p *Process, reason ProcessDestroyReason, code int64) {
			reasons = append(reasons, reason)
		},
	})

	var detachErr error
	target.Detach(func(err error) { detachErr = err })
	loop.RunUntilIdle()

	require.NoError(t, detachErr)
	assert.Equal(t, []ProcessDestroyReason{ProcessDestroyDetach}, reasons)
	assert.Equal(t, TargetNone, target.State())
	assert.Nil(t, target.Process())
	assert.Nil(t, p.WeakRef().Get())
}

func TestKillReportsReason(t *testing.T) {
	s, mock, loop := newTestSession(t)
	p := attachTestProcess(t, s, mock, loop, 100)

	var reasons []ProcessDestroyReason
	s.AddProcessObserver(&funcProcessObserver{
		onDestroy: func(p *Process, reason ProcessDestroyReason, code int64) {
			reasons = append(reasons, reason)
		},
	})

	var killErr error
	p.Target().Kill(func(err error) { killErr = err })
	loop.RunUntilIdle()

	require.NoError(t, killErr)
	assert.Equal(t, []ProcessDestroyReason{ProcessDestroyKill}, reasons)
}

func TestProcessExitReportsCode(t *testing.T) {
	s, mock, loop := newTestSession(t)
	attachTestProcess(t, s, mock, loop, 100)

	var codes []int64
	s.AddProcessObserver(&funcProcessObserver{
		onDestroy: func(p *Process, reason ProcessDestroyReason, code int64) {
			require.Equal(t, ProcessDestroyExit, reason)
			codes = append(codes, code)
		},
	})

	body := mustEncodeBody(t, debugipc.NotifyProcessExiting{ProcessKoid: 100, ReturnCode: 42})
	s.DispatchNotification(debugipc.MsgNotifyProcessExiting, body)
	loop.RunUntilIdle()

	assert.Equal(t, []int64{42}, codes)
	assert.Nil(t, s.System().ProcessFromKoid(100))
}

func TestDestroyedTargetCallbackStillFires(t *testing.T) {
	s, mock, loop := newTestSession(t)

	// A second target so the first can be deleted while attaching.
	target := s.System().CreateNewTarget()
	mock.Enqueue("Attach", &debugipc.AttachReply{Status: debugipc.ZxOk, Koid: 100, Name: "p"}, nil)

	var attachErr error
	called := false
	target.Attach(100, func(err error) {
		called = true
		attachErr = err
	})
	// Delete before the (posted) reply lands. The slot is Attaching, so force
	// through destroy directly the way System teardown does.
	target.state = TargetNone
	require.NoError(t, s.System().DeleteTarget(target))
	loop.RunUntilIdle()

	require.True(t, called, "callbacks are never dropped")
	require.Error(t, attachErr)
	assert.ErrorIs(t, attachErr, ErrCanceled)
}
