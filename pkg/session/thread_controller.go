package session

import (
	"fmt"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/symbolizer"
)

// StopOp is a thread controller's verdict on one stop.
type StopOp int

const (
	// StopUnexpected means the stop has nothing to do with this controller.
	// The controller stays installed and casts no vote.
	StopUnexpected StopOp = iota
	// StopContinue means the controller's operation is still in progress and
	// the thread should keep running.
	StopContinue
	// StopDone means the controller's operation completed. The controller is
	// removed and the stop surfaces.
	StopDone
)

// ContinueOp is how a controller wants its thread resumed. SyntheticStop
// short-circuits the agent: the controller is already satisfied and the
// thread should re-dispatch a local stop instead of running.
type ContinueOp struct {
	SyntheticStop bool
	How           debugipc.ResumeHow
	RangeBegin    uint64
	RangeEnd      uint64
}

// ThreadController implements one stepping operation on one thread.
// Controllers stack: the topmost decides how the thread continues, and every
// controller votes on each stop.
type ThreadController interface {
	Name() string
	// InitWithThread binds the controller to its thread. The thread must be
	// stopped with a valid stack. An error aborts installation.
	InitWithThread(t *Thread) error
	// GetContinueOp picks the resume operation for the next Continue.
	GetContinueOp() ContinueOp
	// OnThreadStop votes on a stop.
	OnThreadStop(etype debugipc.ExceptionType, hits []WeakBreakpoint) StopOp
}

// StepOverRangeController steps the thread until the instruction pointer
// leaves [begin, end). A thread already outside the range completes with a
// synthetic stop and never touches the agent.
type StepOverRangeController struct {
	thread *Thread
	begin  uint64
	end    uint64
}

// NewStepOverRangeController steps until the IP leaves [begin, end).
func NewStepOverRangeController(begin, end uint64) *StepOverRangeController {
	return &StepOverRangeController{begin: begin, end: end}
}

func (c *StepOverRangeController) Name() string { return "StepOverRange" }

func (c *StepOverRangeController) InitWithThread(t *Thread) error {
	if t.Stack().Size() == 0 {
		return fmt.Errorf("can't step, the thread has no stack")
	}
	c.thread = t
	return nil
}

func (c *StepOverRangeController) GetContinueOp() ContinueOp {
	if !c.inRange() {
		return ContinueOp{SyntheticStop: true}
	}
	return ContinueOp{
		How:        debugipc.ResumeStepInRange,
		RangeBegin: c.begin,
		RangeEnd:   c.end,
	}
}

func (c *StepOverRangeController) OnThreadStop(etype debugipc.ExceptionType, hits []WeakBreakpoint) StopOp {
	switch etype {
	case debugipc.ExceptionSingleStep, debugipc.ExceptionSynthetic:
	default:
		return StopUnexpected
	}
	if c.inRange() {
		return StopContinue
	}
	return StopDone
}

func (c *StepOverRangeController) inRange() bool {
	frames := c.thread.Stack().Frames()
	if len(frames) == 0 {
		return false
	}
	ip := frames[0].IP
	return ip >= c.begin && ip < c.end
}

// FinishController runs the thread until the current frame returns, using an
// internal one-shot breakpoint on the return address.
type FinishController struct {
	thread     *Thread
	returnAddr uint64
	breakpoint *Breakpoint
}

// NewFinishController finishes the innermost frame of the thread it is
// installed on.
func NewFinishController() *FinishController {
	return &FinishController{}
}

func (c *FinishController) Name() string { return "Finish" }

func (c *FinishController) InitWithThread(t *Thread) error {
	frames := t.Stack().Frames()
	if len(frames) < 2 {
		return fmt.Errorf("can't finish, no caller frame")
	}
	c.thread = t
	c.returnAddr = frames[1].IP

	bp := t.session.system.CreateNewInternalBreakpoint()
	c.breakpoint = bp
	bp.SetSettings(BreakpointSettings{
		Enabled:  true,
		Type:     debugipc.BreakpointTypeSoftware,
		StopMode: debugipc.BreakpointStopSameThread,
		OneShot:  true,
		Scope:    BreakpointScope{Thread: t.WeakRef(), Process: t.process.WeakRef()},
		Locations: []symbolizer.InputLocation{{
			Type:    symbolizer.InputLocationAddress,
			Address: c.returnAddr,
		}},
	}, func(err error) {
		if err != nil {
			t.session.log.Warnf("finish breakpoint failed: %v", err)
		}
	})
	return nil
}

func (c *FinishController) GetContinueOp() ContinueOp {
	return ContinueOp{How: debugipc.ResumeResolveAndContinue}
}

func (c *FinishController) OnThreadStop(etype debugipc.ExceptionType, hits []WeakBreakpoint) StopOp {
	for _, wb := range hits {
		if bp := wb.Get(); bp != nil && bp == c.breakpoint {
			c.teardown()
			return StopDone
		}
	}
	return StopUnexpected
}

// teardown removes the internal breakpoint if the system still tracks it.
// One-shot auto-deletion may already have torn it down.
func (c *FinishController) teardown() {
	bp := c.breakpoint
	c.breakpoint = nil
	if bp == nil {
		return
	}
	sys := c.thread.session.system
	if sys.BreakpointByBackendID(bp.ID()) == bp {
		sys.DeleteBreakpoint(bp)
	}
}
