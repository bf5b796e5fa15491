// Package interception drives syscall interception on top of the session
// core: it plants breakpoints on syscall entry symbols in every monitored
// process, pairs each entry with its return, and emits decoded events.
package interception

import (
	"github.com/derekparker/trie"
)

// Syscall describes one intercepted system call.
type Syscall struct {
	// Name is the exported symbol name, e.g. "zx_channel_write".
	Name string
	// NumArgs is how many integer argument registers the call consumes.
	NumArgs int
	// HasReturn is false for calls that never return (zx_process_exit).
	HasReturn bool
}

// SyscallTable is the registry of intercepted syscalls, indexed by symbol
// name with prefix search for breakpoint planning.
type SyscallTable struct {
	names *trie.Trie
	all   []*Syscall
}

// NewSyscallTable builds a table from the given syscalls.
func NewSyscallTable(syscalls []*Syscall) *SyscallTable {
	t := &SyscallTable{names: trie.New()}
	for _, sc := range syscalls {
		t.names.Add(sc.Name, sc)
		t.all = append(t.all, sc)
	}
	return t
}

// Find returns the syscall with exactly the given name, or nil.
func (t *SyscallTable) Find(name string) *Syscall {
	node, ok := t.names.Find(name)
	if !ok {
		return nil
	}
	return node.Meta().(*Syscall)
}

// MatchingPrefix returns every syscall whose name starts with prefix.
func (t *SyscallTable) MatchingPrefix(prefix string) []*Syscall {
	var out []*Syscall
	for _, key := range t.names.PrefixSearch(prefix) {
		if node, ok := t.names.Find(key); ok {
			out = append(out, node.Meta().(*Syscall))
		}
	}
	return out
}

// All returns every registered syscall.
func (t *SyscallTable) All() []*Syscall {
	return append([]*Syscall(nil), t.all...)
}

// Len returns the number of registered syscalls.
func (t *SyscallTable) Len() int { return len(t.all) }

// DefaultSyscalls returns the stock interception set: the channel, socket,
// handle and process lifecycle calls whose traffic makes up FIDL IPC.
func DefaultSyscalls() []*Syscall {
	return []*Syscall{
		{Name: "zx_channel_create", NumArgs: 3, HasReturn: true},
		{Name: "zx_channel_write", NumArgs: 6, HasReturn: true},
		{Name: "zx_channel_write_etc", NumArgs: 6, HasReturn: true},
		{Name: "zx_channel_read", NumArgs: 8, HasReturn: true},
		{Name: "zx_channel_read_etc", NumArgs: 8, HasReturn: true},
		{Name: "zx_channel_call", NumArgs: 6, HasReturn: true},
		{Name: "zx_socket_create", NumArgs: 3, HasReturn: true},
		{Name: "zx_socket_write", NumArgs: 5, HasReturn: true},
		{Name: "zx_socket_read", NumArgs: 5, HasReturn: true},
		{Name: "zx_handle_close", NumArgs: 1, HasReturn: true},
		{Name: "zx_handle_close_many", NumArgs: 2, HasReturn: true},
		{Name: "zx_handle_duplicate", NumArgs: 3, HasReturn: true},
		{Name: "zx_handle_replace", NumArgs: 3, HasReturn: true},
		{Name: "zx_object_wait_one", NumArgs: 4, HasReturn: true},
		{Name: "zx_object_wait_many", NumArgs: 3, HasReturn: true},
		{Name: "zx_object_wait_async", NumArgs: 5, HasReturn: true},
		{Name: "zx_port_create", NumArgs: 2, HasReturn: true},
		{Name: "zx_port_wait", NumArgs: 3, HasReturn: true},
		{Name: "zx_process_exit", NumArgs: 1, HasReturn: false},
	}
}
