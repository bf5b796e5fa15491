package debugipc

// Record types shared between replies and notifications.

// ProcessRecord describes one process known to the agent.
type ProcessRecord struct {
	ProcessKoid uint64 `json:"process_koid"`
	Name        string `json:"name"`
	// Components the process was launched under, if any.
	ComponentURL string `json:"component_url,omitempty"`
}

// ThreadState mirrors the kernel's thread state plus the agent-side
// CoreDump synthetic state.
type ThreadState uint32

const (
	ThreadStateNew ThreadState = iota
	ThreadStateRunning
	ThreadStateSuspended
	ThreadStateBlocked
	ThreadStateDying
	ThreadStateDead
	ThreadStateCoreDump
)

// ThreadRecord describes one thread of a process.
type ThreadRecord struct {
	ProcessKoid uint64      `json:"process_koid"`
	ThreadKoid  uint64      `json:"thread_koid"`
	Name        string      `json:"name"`
	State       ThreadState `json:"state"`
}

// StackFrame is one frame as reported by the agent. The agent sends either
// only the top frame (partial stack) or the complete unwound stack.
type StackFrame struct {
	IP  uint64 `json:"ip"`
	SP  uint64 `json:"sp"`
	CFA uint64 `json:"cfa"`
}

// ExceptionType classifies a thread stop.
type ExceptionType uint32

const (
	ExceptionNone ExceptionType = iota
	ExceptionGeneral
	ExceptionPageFault
	ExceptionUndefinedInstruction
	ExceptionUnalignedAccess
	ExceptionPolicyError
	ExceptionThreadStarting
	ExceptionThreadExiting
	ExceptionProcessStarting
	ExceptionHardwareBreakpoint
	ExceptionWatchpoint
	ExceptionSoftwareBreakpoint
	ExceptionSingleStep
	// ExceptionSynthetic marks a stop generated locally by the client (a
	// thread controller completing without a device round trip). It never
	// appears on the wire.
	ExceptionSynthetic
)

func (t ExceptionType) String() string {
	switch t {
	case ExceptionNone:
		return "none"
	case ExceptionGeneral:
		return "general fault"
	case ExceptionPageFault:
		return "page fault"
	case ExceptionUndefinedInstruction:
		return "undefined instruction"
	case ExceptionUnalignedAccess:
		return "unaligned access"
	case ExceptionPolicyError:
		return "policy error"
	case ExceptionThreadStarting:
		return "thread starting"
	case ExceptionThreadExiting:
		return "thread exiting"
	case ExceptionProcessStarting:
		return "process starting"
	case ExceptionHardwareBreakpoint:
		return "hardware breakpoint"
	case ExceptionWatchpoint:
		return "watchpoint"
	case ExceptionSoftwareBreakpoint:
		return "software breakpoint"
	case ExceptionSingleStep:
		return "single step"
	case ExceptionSynthetic:
		return "synthetic"
	}
	return "unknown"
}

// IsDebug reports whether t is a deliberate debug stop (breakpoint, step,
// watchpoint or synthetic) as opposed to a hardware fault. Faults always
// surface to the user regardless of thread controller votes.
func (t ExceptionType) IsDebug() bool {
	switch t {
	case ExceptionHardwareBreakpoint, ExceptionWatchpoint,
		ExceptionSoftwareBreakpoint, ExceptionSingleStep, ExceptionSynthetic,
		ExceptionThreadStarting, ExceptionProcessStarting:
		return true
	}
	return false
}

// IsBreakpointClass reports whether t is a breakpoint-style stop whose hit
// list is meaningful (used for conditional-breakpoint filtering).
func (t ExceptionType) IsBreakpointClass() bool {
	switch t {
	case ExceptionHardwareBreakpoint, ExceptionWatchpoint, ExceptionSoftwareBreakpoint:
		return true
	}
	return false
}

// MemoryBlock is one contiguous region of a ReadMemory reply. Invalid blocks
// cover unmapped holes in the requested range.
type MemoryBlock struct {
	Address uint64 `json:"address"`
	Valid   bool   `json:"valid"`
	Size    uint32 `json:"size"`
	Data    []byte `json:"data,omitempty"`
}

// Module describes one loaded module of a process.
type Module struct {
	Name    string `json:"name"`
	Base    uint64 `json:"base"`
	BuildID string `json:"build_id"`
}

// Register is one machine register value. Data is the raw little-endian
// value; interpretation is architecture specific.
type Register struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// AddressRegion is one entry of an address space dump.
type AddressRegion struct {
	Name  string `json:"name"`
	Base  uint64 `json:"base"`
	Size  uint64 `json:"size"`
	Depth uint32 `json:"depth"`
}

// BreakpointType distinguishes execution breakpoints from watchpoints.
type BreakpointType uint32

const (
	BreakpointTypeSoftware BreakpointType = iota
	BreakpointTypeHardware
	BreakpointTypeReadWrite
	BreakpointTypeWrite
)

// BreakpointStop describes which threads the agent stops when a breakpoint
// hits.
type BreakpointStop uint32

const (
	BreakpointStopNone BreakpointStop = iota
	BreakpointStopSameThread
	BreakpointStopSameProcess
	BreakpointStopAll
)

// BreakpointLocation is one resolved address of a breakpoint in one process.
// ThreadKoid is zero unless the breakpoint is scoped to one thread.
type BreakpointLocation struct {
	ProcessKoid uint64 `json:"process_koid"`
	ThreadKoid  uint64 `json:"thread_koid,omitempty"`
	Address     uint64 `json:"address"`
}

// BreakpointSettings is the wire form of one breakpoint sent to the agent.
type BreakpointSettings struct {
	ID        uint32               `json:"id"`
	Type      BreakpointType       `json:"type"`
	Name      string               `json:"name,omitempty"`
	Stop      BreakpointStop       `json:"stop"`
	OneShot   bool                 `json:"one_shot,omitempty"`
	Locations []BreakpointLocation `json:"locations"`
}

// BreakpointStats is per-breakpoint hit information attached to exception
// notifications. ShouldDelete is set when the agent auto-removed a one-shot
// breakpoint after this hit; the client must tear down its object without
// sending a redundant RemoveBreakpoint.
type BreakpointStats struct {
	ID           uint32 `json:"id"`
	HitCount     uint32 `json:"hit_count"`
	ShouldDelete bool   `json:"should_delete,omitempty"`
}

// ResumeHow selects the resume mode of a Resume request.
type ResumeHow uint32

const (
	ResumeResolveAndContinue ResumeHow = iota
	ResumeForwardAndContinue
	ResumeStepInstruction
	ResumeStepInRange
)

// ProcessTreeRecord is one node of the job/process tree.
type ProcessTreeRecord struct {
	Type     ProcessTreeRecordType `json:"type"`
	Koid     uint64                `json:"koid"`
	Name     string                `json:"name"`
	Children []ProcessTreeRecord   `json:"children,omitempty"`
}

type ProcessTreeRecordType uint32

const (
	ProcessTreeJob ProcessTreeRecordType = iota
	ProcessTreeProcess
)

// InfoHandle is one entry of a handle table dump.
type InfoHandle struct {
	Type        uint32 `json:"type"`
	HandleValue uint32 `json:"handle_value"`
	Rights      uint32 `json:"rights"`
	Koid        uint64 `json:"koid"`
	RelatedKoid uint64 `json:"related_koid"`
}

// IOType tags a NotifyIO payload.
type IOType uint32

const (
	IOTypeStdout IOType = iota
	IOTypeStderr
)
