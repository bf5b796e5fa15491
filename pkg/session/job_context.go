package session

import (
	"fmt"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
)

// JobContextState is the attach lifecycle of one job slot.
type JobContextState int

const (
	JobNone JobContextState = iota
	JobAttaching
	JobAttached
)

func (s JobContextState) String() string {
	switch s {
	case JobNone:
		return "None"
	case JobAttaching:
		return "Attaching"
	case JobAttached:
		return "Attached"
	}
	return fmt.Sprintf("JobContextState(%d)", int(s))
}

// JobContext is one job-attachment slot, analogous to Target but for a job
// (a container of processes). It tracks the flattened filter pattern list
// last synced to the agent for this job; the agent matches those patterns
// against newly launched process names and reports matches for auto-attach.
type JobContext struct {
	system  *System
	session *Session

	state JobContextState
	koid  uint64
	name  string

	// filters is the last list successfully sent to the agent.
	filters []string
	// pendingFilters caches the intended list while not yet attached.
	pendingFilters []string
	hasPending     bool

	flag *weakFlag
}

func newJobContext(sys *System) *JobContext {
	return &JobContext{system: sys, session: sys.session, flag: newWeakFlag()}
}

// State returns the current lifecycle state.
func (j *JobContext) State() JobContextState { return j.state }

// Koid returns the attached job koid, zero if not attached.
func (j *JobContext) Koid() uint64 { return j.koid }

// Name returns the attached job name.
func (j *JobContext) Name() string { return j.name }

// Attach attaches this slot to the job with the given koid.
func (j *JobContext) Attach(koid uint64, cb func(error)) {
	if j.state != JobNone {
		err := fmt.Errorf("can't attach, the job is %s", j.state)
		j.session.loop.Post(func() { cb(err) })
		return
	}
	j.state = JobAttaching

	weak := j // single-threaded; liveness via flag
	flag := j.flag
	j.session.remote.Attach(&debugipc.AttachRequest{Type: debugipc.AttachJob, Koid: koid},
		func(reply *debugipc.AttachReply, err error) {
			if !flag.alive {
				cb(fmt.Errorf("the job was destroyed while attaching: %w", ErrCanceled))
				return
			}
			if err != nil {
				weak.state = JobNone
				cb(err)
				return
			}
			if reply.Status != debugipc.ZxOk {
				weak.state = JobNone
				cb(backendErrorf(reply.Status, "error attaching to job, %s", reply.Status))
				return
			}
			weak.state = JobAttached
			weak.koid = reply.Koid
			weak.name = reply.Name
			// Filters configured before attachment completed are sent now.
			if weak.hasPending {
				pending := weak.pendingFilters
				weak.hasPending = false
				weak.pendingFilters = nil
				weak.SendAndUpdateFilters(pending, true)
			}
			cb(nil)
		})
}

// Detach detaches the slot from its job.
func (j *JobContext) Detach(cb func(error)) {
	if j.state != JobAttached {
		err := fmt.Errorf("can't detach, no job")
		j.session.loop.Post(func() { cb(err) })
		return
	}
	koid := j.koid
	flag := j.flag
	j.session.remote.Detach(&debugipc.DetachRequest{Type: debugipc.AttachJob, Koid: koid},
		func(reply *debugipc.DetachReply, err error) {
			if !flag.alive {
				cb(fmt.Errorf("the job was destroyed while detaching: %w", ErrCanceled))
				return
			}
			if err != nil {
				cb(err)
				return
			}
			if reply.Status != debugipc.ZxOk {
				cb(backendErrorf(reply.Status, "error detaching from job, %s", reply.Status))
				return
			}
			j.implicitlyDetach()
			cb(nil)
		})
}

// implicitlyDetach drops job bookkeeping locally only.
func (j *JobContext) implicitlyDetach() {
	j.state = JobNone
	j.koid = 0
	j.name = ""
	j.filters = nil
}

func (j *JobContext) didConnect() {
	// Slots detach on disconnect, so there is nothing to re-send here; the
	// hook exists for minidump opens where jobs are synthesized.
}

// RefreshFilters recomputes the flattened pattern list for filters scoped to
// this job or unscoped, and sends it if it changed. The all-processes
// sentinel maps to an empty string per wire convention. If the job is not
// attached yet the list is cached for when attachment completes.
func (j *JobContext) RefreshFilters() {
	var patterns []string
	for _, f := range j.system.Filters() {
		if !f.IsValid() {
			continue
		}
		if f.job != nil && f.job != j {
			continue
		}
		p := f.Pattern()
		if p == AllProcessesPattern {
			p = ""
		}
		patterns = append(patterns, p)
	}
	if j.state != JobAttached {
		j.pendingFilters = patterns
		j.hasPending = true
		return
	}
	j.SendAndUpdateFilters(patterns, false)
}

// SendAndUpdateFilters sends the filter list for this job. The network call
// is skipped when the list matches what the agent already has, unless
// forceSend. On success the synced list is stored and any matched processes
// are fanned out for auto-attach.
func (j *JobContext) SendAndUpdateFilters(filters []string, forceSend bool) {
	if !forceSend && stringSlicesEqual(filters, j.filters) {
		return
	}
	flag := j.flag
	j.session.remote.UpdateFilter(&debugipc.UpdateFilterRequest{JobKoid: j.koid, Filters: filters},
		func(reply *debugipc.UpdateFilterReply, err error) {
			if !flag.alive {
				return
			}
			if err != nil {
				j.system.log.Warnf("error updating filters for job %d: %v", j.koid, err)
				return
			}
			j.filters = filters
			if len(reply.MatchedProcesses) > 0 {
				j.system.OnFilterMatches(j, reply.MatchedProcesses)
			}
		})
}

// Filters returns the last list synced to the agent.
func (j *JobContext) Filters() []string {
	return append([]string(nil), j.filters...)
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
