package interception

import (
	"fmt"
	"io"
	"strings"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/session"
)

// EventPhase says which side of a syscall an event describes.
type EventPhase int

const (
	// PhaseEntry carries the arguments captured when the syscall was called.
	PhaseEntry EventPhase = iota
	// PhaseExit carries the return value captured when the syscall returned.
	PhaseExit
	// PhaseException reports a hardware fault on a monitored thread.
	PhaseException
)

// Event is one decoded interception event.
type Event struct {
	ProcessKoid uint64
	ProcessName string
	ThreadKoid  uint64

	// Syscall is empty for PhaseException events.
	Syscall string
	Phase   EventPhase

	// Args holds the integer argument registers captured at entry. Arguments
	// passed on the stack are not captured.
	Args []uint64
	// ReturnValue is only meaningful for PhaseExit.
	ReturnValue uint64
	// Exception is only meaningful for PhaseException.
	Exception debugipc.ExceptionType
}

// EventSink receives workflow output. All calls run on the loop goroutine.
type EventSink interface {
	OnSyscallEvent(e *Event)
	OnProcessMonitored(p *session.Process)
	OnProcessTerminated(koid uint64, name string)
}

// WriterSink formats events as one text line each.
type WriterSink struct {
	W io.Writer
}

func (s *WriterSink) OnSyscallEvent(e *Event) {
	switch e.Phase {
	case PhaseEntry:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = fmt.Sprintf("0x%x", a)
		}
		fmt.Fprintf(s.W, "%s %d:%d %s(%s)\n",
			e.ProcessName, e.ProcessKoid, e.ThreadKoid, e.Syscall, strings.Join(args, ", "))
	case PhaseExit:
		fmt.Fprintf(s.W, "%s %d:%d %s -> 0x%x\n",
			e.ProcessName, e.ProcessKoid, e.ThreadKoid, e.Syscall, e.ReturnValue)
	case PhaseException:
		fmt.Fprintf(s.W, "%s %d:%d exception (type %d)\n",
			e.ProcessName, e.ProcessKoid, e.ThreadKoid, e.Exception)
	}
}

func (s *WriterSink) OnProcessMonitored(p *session.Process) {
	fmt.Fprintf(s.W, "monitoring %s koid=%d\n", p.Name(), p.Koid())
}

func (s *WriterSink) OnProcessTerminated(koid uint64, name string) {
	fmt.Fprintf(s.W, "stopped monitoring %s koid=%d\n", name, koid)
}
