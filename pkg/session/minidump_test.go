package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/mloop"
)

func writeTestMinidump(t *testing.T, snap minidumpSnapshot) string {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "core.dump")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testSnapshot() minidumpSnapshot {
	return minidumpSnapshot{
		Arch:     "arm64",
		PageSize: 4096,
		Procs: []minidumpProcess{{
			Record:  debugipc.ProcessRecord{ProcessKoid: 10, Name: "crashed_app"},
			Modules: []debugipc.Module{{Name: "app", Base: 0x10000, BuildID: "bid"}},
			Memory: []debugipc.MemoryBlock{{
				Address: 0x20000, Valid: true, Size: 8,
				Data: []byte{1, 2, 3, 4, 5, 6, 7, 8},
			}},
			Threads: []minidumpThread{{
				Record:    debugipc.ThreadRecord{ProcessKoid: 10, ThreadKoid: 11, State: debugipc.ThreadStateCoreDump},
				Frames:    []debugipc.StackFrame{{IP: 0x10040, SP: 0x7000}},
				Exception: debugipc.ExceptionPageFault,
			}},
		}},
	}
}

func TestOpenMinidumpReplaysState(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)

	obs := &recordingThreadObserver{}
	s.AddThreadObserver(obs)

	path := writeTestMinidump(t, testSnapshot())
	var openErr error
	s.OpenMinidump(path, func(err error) { openErr = err })
	loop.RunUntilIdle()

	require.NoError(t, openErr)
	assert.True(t, s.IsMinidump())
	assert.False(t, s.IsConnected())
	assert.Equal(t, "arm64", s.Arch().Arch)

	p := s.System().ProcessFromKoid(10)
	require.NotNil(t, p)
	assert.Equal(t, "crashed_app", p.Name())
	thread := p.ThreadFromKoid(11)
	require.NotNil(t, thread)

	// The captured exception surfaced like a live stop.
	require.Len(t, obs.stops, 1)
	assert.Equal(t, debugipc.ExceptionPageFault, obs.stops[0].ExceptionType)
	assert.Equal(t, 1, thread.Stack().Size())
}

func TestMinidumpRejectsMutation(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)
	path := writeTestMinidump(t, testSnapshot())
	s.OpenMinidump(path, func(err error) { require.NoError(t, err) })
	loop.RunUntilIdle()

	var writeErr, resumeErr error
	s.RemoteAPI().WriteMemory(&debugipc.WriteMemoryRequest{ProcessKoid: 10, Address: 0x20000, Data: []byte{0}},
		func(r *debugipc.WriteMemoryReply, err error) { writeErr = err })
	s.RemoteAPI().Resume(&debugipc.ResumeRequest{ProcessKoid: 10},
		func(r *debugipc.ResumeReply, err error) { resumeErr = err })
	loop.RunUntilIdle()

	assert.ErrorIs(t, writeErr, ErrMinidumpReadOnly)
	assert.ErrorIs(t, resumeErr, ErrMinidumpReadOnly)
}

func TestMinidumpReadMemory(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)
	path := writeTestMinidump(t, testSnapshot())
	s.OpenMinidump(path, func(err error) { require.NoError(t, err) })
	loop.RunUntilIdle()

	var reply *debugipc.ReadMemoryReply
	s.RemoteAPI().ReadMemory(&debugipc.ReadMemoryRequest{ProcessKoid: 10, Address: 0x1fffc, Size: 16},
		func(r *debugipc.ReadMemoryReply, err error) {
			require.NoError(t, err)
			reply = r
		})
	loop.RunUntilIdle()

	// 4 unmapped bytes, the captured 8, then 4 unmapped again.
	require.NotNil(t, reply)
	require.Len(t, reply.Blocks, 3)
	assert.False(t, reply.Blocks[0].Valid)
	assert.Equal(t, uint32(4), reply.Blocks[0].Size)
	assert.True(t, reply.Blocks[1].Valid)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, reply.Blocks[1].Data)
	assert.False(t, reply.Blocks[2].Valid)
}

func TestMinidumpConflictsWithConnect(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)
	path := writeTestMinidump(t, testSnapshot())
	s.OpenMinidump(path, func(err error) { require.NoError(t, err) })
	loop.RunUntilIdle()

	var openErr error
	s.OpenMinidump(path, func(err error) { openErr = err })
	loop.RunUntilIdle()
	var already AlreadyConnectedError
	require.ErrorAs(t, openErr, &already)
	assert.Equal(t, "minidump", already.What)

	// Disconnect closes the dump and restores the live backend.
	s.Disconnect(func(err error) { require.NoError(t, err) })
	loop.RunUntilIdle()
	assert.False(t, s.IsMinidump())
	assert.Nil(t, s.System().ProcessFromKoid(10))
}

func TestOpenMinidumpBadFile(t *testing.T) {
	loop := mloop.New()
	s := NewSession(loop)

	path := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	var openErr error
	s.OpenMinidump(path, func(err error) { openErr = err })
	loop.RunUntilIdle()
	require.Error(t, openErr)
	assert.False(t, s.IsMinidump())
}
