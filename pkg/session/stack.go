package session

import (
	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/symbolizer"
)

// Frame is one stack frame with its symbolized location.
type Frame struct {
	IP       uint64
	SP       uint64
	CFA      uint64
	Location symbolizer.Location
}

// Stack is a thread's frame list. Frames are only meaningful while the
// thread is stopped; resuming invalidates them.
type Stack struct {
	thread *Thread
	frames []Frame
	valid  bool
}

// Valid reports whether the frames describe the current stop.
func (s *Stack) Valid() bool { return s.valid }

// Frames returns the frame list, innermost first. Empty when invalid.
func (s *Stack) Frames() []Frame {
	if !s.valid {
		return nil
	}
	return append([]Frame(nil), s.frames...)
}

// Size returns the number of frames, zero when invalid.
func (s *Stack) Size() int {
	if !s.valid {
		return 0
	}
	return len(s.frames)
}

// setFrames installs the frames reported with a stop, symbolizing each
// instruction pointer through the process symbols.
func (s *Stack) setFrames(raw []debugipc.StackFrame) {
	syms := s.thread.process.symbols
	s.frames = s.frames[:0]
	for _, f := range raw {
		frame := Frame{IP: f.IP, SP: f.SP, CFA: f.CFA}
		locs := syms.ResolveInputLocation(symbolizer.InputLocation{
			Type:    symbolizer.InputLocationAddress,
			Address: f.IP,
		})
		if len(locs) > 0 {
			frame.Location = locs[0]
		} else {
			frame.Location = symbolizer.Location{Address: f.IP}
		}
		s.frames = append(s.frames, frame)
	}
	s.valid = true
}

// invalidate drops the frames. Fired when the thread resumes.
func (s *Stack) invalidate() {
	s.frames = s.frames[:0]
	s.valid = false
}
