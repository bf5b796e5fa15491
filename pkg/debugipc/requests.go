package debugipc

// Request and reply bodies. Each request kind has exactly one reply kind with
// the same MsgKind; replies echo the request's transaction ID.

type HelloRequest struct{}

type HelloReply struct {
	Signature uint32 `json:"signature"`
	Version   uint32 `json:"version"`
	Arch      string `json:"arch"`
	PageSize  uint32 `json:"page_size"`
}

// InferiorType distinguishes plain binaries from component launches.
type InferiorType uint32

const (
	InferiorBinary InferiorType = iota
	InferiorComponent
)

type LaunchRequest struct {
	Inferior InferiorType `json:"inferior"`
	Argv     []string     `json:"argv"`
}

type LaunchReply struct {
	Status      ZxStatus `json:"status"`
	ProcessKoid uint64   `json:"process_koid"`
	ProcessName string   `json:"process_name"`
}

type KillRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
}

type KillReply struct {
	Status ZxStatus `json:"status"`
}

// AttachType selects what kind of kernel object an Attach targets.
type AttachType uint32

const (
	AttachProcess AttachType = iota
	AttachJob
	AttachComponentRootJob
	AttachSystemRootJob
)

type AttachRequest struct {
	Type AttachType `json:"type"`
	Koid uint64     `json:"koid"`
}

type AttachReply struct {
	Status ZxStatus `json:"status"`
	Koid   uint64   `json:"koid"`
	Name   string   `json:"name"`
}

type DetachRequest struct {
	Type AttachType `json:"type"`
	Koid uint64     `json:"koid"`
}

type DetachReply struct {
	Status ZxStatus `json:"status"`
}

type ModulesRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
}

type ModulesReply struct {
	Modules []Module `json:"modules"`
}

type PauseRequest struct {
	// Zero ProcessKoid pauses all attached processes; zero ThreadKoid pauses
	// all threads of the process.
	ProcessKoid uint64 `json:"process_koid"`
	ThreadKoid  uint64 `json:"thread_koid"`
}

type PauseReply struct {
	Threads []ThreadRecord `json:"threads"`
}

type ResumeRequest struct {
	ProcessKoid uint64    `json:"process_koid"`
	ThreadKoids []uint64  `json:"thread_koids"`
	How         ResumeHow `json:"how"`
	RangeBegin  uint64    `json:"range_begin,omitempty"`
	RangeEnd    uint64    `json:"range_end,omitempty"`
}

type ResumeReply struct{}

type ProcessTreeRequest struct{}

type ProcessTreeReply struct {
	Root ProcessTreeRecord `json:"root"`
}

type ThreadsRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
}

type ThreadsReply struct {
	Threads []ThreadRecord `json:"threads"`
}

type ReadMemoryRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
	Address     uint64 `json:"address"`
	Size        uint32 `json:"size"`
}

type ReadMemoryReply struct {
	Blocks []MemoryBlock `json:"blocks"`
}

type WriteMemoryRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
	Address     uint64 `json:"address"`
	Data        []byte `json:"data"`
}

type WriteMemoryReply struct {
	Status ZxStatus `json:"status"`
}

type ReadRegistersRequest struct {
	ProcessKoid uint64   `json:"process_koid"`
	ThreadKoid  uint64   `json:"thread_koid"`
	Categories  []string `json:"categories"`
}

type ReadRegistersReply struct {
	Registers []Register `json:"registers"`
}

type WriteRegistersRequest struct {
	ProcessKoid uint64     `json:"process_koid"`
	ThreadKoid  uint64     `json:"thread_koid"`
	Registers   []Register `json:"registers"`
}

type WriteRegistersReply struct {
	Status ZxStatus `json:"status"`
}

type AddOrChangeBreakpointRequest struct {
	Breakpoint BreakpointSettings `json:"breakpoint"`
}

type AddOrChangeBreakpointReply struct {
	Status ZxStatus `json:"status"`
}

type RemoveBreakpointRequest struct {
	BreakpointID uint32 `json:"breakpoint_id"`
}

type RemoveBreakpointReply struct{}

type SysInfoRequest struct{}

type SysInfoReply struct {
	Version           string `json:"version"`
	NumCPUs           uint32 `json:"num_cpus"`
	MemoryMB          uint32 `json:"memory_mb"`
	HWBreakpointCount uint32 `json:"hw_breakpoint_count"`
	HWWatchpointCount uint32 `json:"hw_watchpoint_count"`
}

type StatusRequest struct{}

// StatusReply reports what the agent was already doing when the client
// connected: processes it is attached to from a previous session and
// processes waiting in limbo for a debugger.
type StatusReply struct {
	Processes      []ProcessRecord `json:"processes"`
	LimboProcesses []ProcessRecord `json:"limbo_processes"`
}

type ProcessStatusRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
}

type ProcessStatusReply struct {
	Status ZxStatus      `json:"status"`
	Record ProcessRecord `json:"record"`
}

type ThreadStatusRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
	ThreadKoid  uint64 `json:"thread_koid"`
}

type ThreadStatusReply struct {
	Record ThreadRecord `json:"record"`
	Frames []StackFrame `json:"frames"`
}

type AddressSpaceRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
	// Zero means dump the whole address space.
	Address uint64 `json:"address"`
}

type AddressSpaceReply struct {
	Map []AddressRegion `json:"map"`
}

// UpdateFilterRequest replaces the whole filter set of one job. An empty
// string entry means "match every process" per wire convention.
type UpdateFilterRequest struct {
	JobKoid uint64   `json:"job_koid"`
	Filters []string `json:"filters"`
}

type UpdateFilterReply struct {
	MatchedProcesses []uint64 `json:"matched_processes"`
}

type LoadInfoHandleTableRequest struct {
	ProcessKoid uint64 `json:"process_koid"`
}

type LoadInfoHandleTableReply struct {
	Status  ZxStatus     `json:"status"`
	Handles []InfoHandle `json:"handles"`
}

// ConfigAction is one agent-side configuration toggle.
type ConfigAction struct {
	Type  ConfigActionType `json:"type"`
	Value string           `json:"value"`
}

type ConfigActionType uint32

const (
	// ConfigActionOnExit configures what the agent does with attached
	// processes when the client disconnects.
	ConfigActionOnExit ConfigActionType = iota
)

type ConfigAgentRequest struct {
	Actions []ConfigAction `json:"actions"`
}

type ConfigAgentReply struct {
	Results []ZxStatus `json:"results"`
}

type QuitAgentRequest struct{}

type QuitAgentReply struct{}

type UpdateGlobalSettingsRequest struct {
	PauseOnLaunch bool `json:"pause_on_launch"`
	PauseOnAttach bool `json:"pause_on_attach"`
}

type UpdateGlobalSettingsReply struct {
	Status ZxStatus `json:"status"`
}

// Notifications (transaction ID 0, agent to client only).

// ProcessStartingType says why a process notification arrived: the client
// launched it, a filter matched it, or it entered limbo after crashing.
type ProcessStartingType uint32

const (
	ProcessStartingLaunch ProcessStartingType = iota
	ProcessStartingAttach
	ProcessStartingLimbo
)

type NotifyProcessStarting struct {
	Type         ProcessStartingType `json:"type"`
	Koid         uint64              `json:"koid"`
	Name         string              `json:"name"`
	ComponentURL string              `json:"component_url,omitempty"`
}

type NotifyProcessExiting struct {
	ProcessKoid uint64 `json:"process_koid"`
	ReturnCode  int64  `json:"return_code"`
}

type NotifyThread struct {
	Record ThreadRecord `json:"record"`
}

type NotifyException struct {
	Thread         ThreadRecord      `json:"thread"`
	Type           ExceptionType     `json:"type"`
	Frames         []StackFrame      `json:"frames"`
	HitBreakpoints []BreakpointStats `json:"hit_breakpoints,omitempty"`
}

type NotifyModules struct {
	ProcessKoid        uint64   `json:"process_koid"`
	Modules            []Module `json:"modules"`
	StoppedThreadKoids []uint64 `json:"stopped_thread_koids,omitempty"`
}

type NotifyIO struct {
	ProcessKoid       uint64 `json:"process_koid"`
	Type              IOType `json:"type"`
	Data              string `json:"data"`
	MoreDataAvailable bool   `json:"more_data_available,omitempty"`
}
