package session

// AllProcessesPattern is the user-facing sentinel meaning "match every
// process". It flattens to an empty string on the wire.
const AllProcessesPattern = "*"

// FilterType says what a filter pattern is matched against.
type FilterType int

const (
	FilterUnset FilterType = iota
	// FilterProcessNameSubstr matches a substring of the process name.
	FilterProcessNameSubstr
	// FilterProcessName matches the full process name.
	FilterProcessName
	// FilterComponentName matches the component name.
	FilterComponentName
	// FilterComponentURL matches the full component URL.
	FilterComponentURL
	// FilterComponentMoniker matches the component moniker.
	FilterComponentMoniker
)

// Filter is a pattern the agent matches against newly launched processes to
// drive client auto-attach. A nil job scope applies the filter to every
// attached job.
type Filter struct {
	system  *System
	ftype   FilterType
	pattern string
	job     *JobContext
}

func newFilter(sys *System) *Filter {
	return &Filter{system: sys}
}

// Type returns the match type.
func (f *Filter) Type() FilterType { return f.ftype }

// Pattern returns the match pattern.
func (f *Filter) Pattern() string { return f.pattern }

// Job returns the job scope, nil for all jobs.
func (f *Filter) Job() *JobContext { return f.job }

// IsValid reports whether the filter can match anything: a type must be set
// and either a job scope or a nonempty pattern present.
func (f *Filter) IsValid() bool {
	return f.ftype != FilterUnset && (f.job != nil || f.pattern != "")
}

// SetType sets the match type and resyncs.
func (f *Filter) SetType(t FilterType) {
	f.ftype = t
	f.sync()
}

// SetPattern sets the match pattern and resyncs.
func (f *Filter) SetPattern(pattern string) {
	f.pattern = pattern
	f.sync()
}

// SetJob scopes the filter to one job (nil for all jobs) and resyncs.
func (f *Filter) SetJob(job *JobContext) {
	f.job = job
	f.sync()
}

// sync notifies observers and asks the System to recompute every job's
// filter list. Recomputation is batched: several mutations in one loop turn
// produce one UpdateFilter round trip per job.
func (f *Filter) sync() {
	f.system.session.eachFilterObserver(func(o FilterObserver) { o.DidChangeFilter(f) })
	f.system.SyncFilters()
}
