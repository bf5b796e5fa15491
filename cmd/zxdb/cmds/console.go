package cmds

import (
	"fmt"
	"io"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/session"
)

// consoleOutput prints session, process and thread notifications to the
// terminal. All callbacks run on the loop goroutine.
type consoleOutput struct {
	out io.Writer
}

var _ session.SessionObserver = (*consoleOutput)(nil)
var _ session.ProcessObserver = (*consoleOutput)(nil)
var _ session.ThreadObserver = (*consoleOutput)(nil)

func (c *consoleOutput) HandleNotification(level session.NotificationLevel, msg string) {
	switch level {
	case session.NotificationProcessStdout, session.NotificationProcessStderr:
		fmt.Fprint(c.out, msg)
	case session.NotificationWarning:
		fmt.Fprintf(c.out, "warning: %s\n", msg)
	case session.NotificationError:
		fmt.Fprintf(c.out, "error: %s\n", msg)
	default:
		fmt.Fprintf(c.out, "%s\n", msg)
	}
}

func (c *consoleOutput) HandlePreviousConnectedProcesses(procs []debugipc.ProcessRecord) {
	for _, p := range procs {
		fmt.Fprintf(c.out, "agent already attached to %d (%s)\n", p.ProcessKoid, p.Name)
	}
}

func (c *consoleOutput) HandleProcessesInLimbo(procs []debugipc.ProcessRecord) {
	for _, p := range procs {
		fmt.Fprintf(c.out, "process %d (%s) crashed and is waiting in limbo\n", p.ProcessKoid, p.Name)
	}
}

func (c *consoleOutput) DidCreateProcess(p *session.Process, autoAttached bool) {
	verb := "launched"
	if autoAttached {
		verb = "attached to"
	}
	fmt.Fprintf(c.out, "%s process %d (%s)\n", verb, p.Koid(), p.Name())
}

func (c *consoleOutput) WillDestroyProcess(p *session.Process, reason session.ProcessDestroyReason, exitCode int64) {
	switch reason {
	case session.ProcessDestroyExit:
		fmt.Fprintf(c.out, "process %d (%s) exited with code %d\n", p.Koid(), p.Name(), exitCode)
	case session.ProcessDestroyDetach:
		fmt.Fprintf(c.out, "detached from process %d (%s)\n", p.Koid(), p.Name())
	case session.ProcessDestroyKill:
		fmt.Fprintf(c.out, "killed process %d (%s)\n", p.Koid(), p.Name())
	}
}

func (c *consoleOutput) DidCreateThread(p *session.Process, t *session.Thread) {
	fmt.Fprintf(c.out, "thread %d started in process %d\n", t.Koid(), p.Koid())
}

func (c *consoleOutput) WillDestroyThread(p *session.Process, t *session.Thread) {
	fmt.Fprintf(c.out, "thread %d exited in process %d\n", t.Koid(), p.Koid())
}

func (c *consoleOutput) DidLoadModuleSymbols(p *session.Process) {
	for _, status := range p.Symbols().ModuleStatuses() {
		state := "no symbols"
		if status.SymbolsLoaded {
			state = fmt.Sprintf("%d symbols", status.FunctionsIndexed)
		}
		fmt.Fprintf(c.out, "loaded %s (%s)\n", status.Name, state)
	}
}

func (c *consoleOutput) WillUnloadModuleSymbols(p *session.Process) {}

func (c *consoleOutput) OnSymbolLoadFailure(p *session.Process, err error) {
	fmt.Fprintf(c.out, "symbol load failure for process %d: %v\n", p.Koid(), err)
}

func (c *consoleOutput) OnThreadStopped(t *session.Thread, info *session.StopInfo) {
	fmt.Fprintf(c.out, "thread %d of process %d stopped on %s\n",
		t.Koid(), t.Process().Koid(), info.ExceptionType)
	for _, wb := range info.HitBreakpoints {
		if bp := wb.Get(); bp != nil {
			fmt.Fprintf(c.out, "  hit breakpoint %d\n", bp.ID())
		}
	}
	for i, f := range t.Stack().Frames() {
		sym := f.Location.Symbol
		if sym == "" {
			sym = "<unknown>"
		}
		fmt.Fprintf(c.out, "  #%d 0x%x %s\n", i, f.IP, sym)
	}
}

func (c *consoleOutput) OnThreadFramesInvalidated(t *session.Thread) {}
