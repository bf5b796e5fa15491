// Package symbolizer is the boundary to the symbol subsystem. The debugger
// core consumes it to turn symbolic breakpoint locations into addresses and
// to report per-module symbol load status; the heavy lifting (DWARF parsing,
// build-id indexes) lives behind these interfaces.
package symbolizer

import "fmt"

// InputLocationType says how an InputLocation identifies code.
type InputLocationType int

const (
	InputLocationNone InputLocationType = iota
	// InputLocationName identifies code by symbol name.
	InputLocationName
	// InputLocationAddress identifies code by absolute address.
	InputLocationAddress
	// InputLocationLine identifies code by file and line.
	InputLocationLine
)

// InputLocation is a user-specified place in a program. Exactly one of the
// fields corresponding to Type is meaningful.
type InputLocation struct {
	Type    InputLocationType
	Name    string
	Address uint64
	File    string
	Line    int
}

func (l InputLocation) String() string {
	switch l.Type {
	case InputLocationName:
		return l.Name
	case InputLocationAddress:
		return fmt.Sprintf("0x%x", l.Address)
	case InputLocationLine:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return "<no location>"
}

// Location is one resolved code location in a particular process.
type Location struct {
	Address uint64
	Symbol  string
	File    string
	Line    int
	// Module is the build ID of the module the address falls in.
	Module string
}

// ModuleSymbolStatus reports the symbol load state of one module of a
// process.
type ModuleSymbolStatus struct {
	Name    string
	BuildID string
	Base    uint64
	// SymbolsLoaded is false when only the module list entry is known and no
	// symbol file could be found.
	SymbolsLoaded bool
	// FunctionsIndexed counts the name-index entries for the module.
	FunctionsIndexed int
}

// ProcessSymbols resolves locations for one process. Implementations track
// module load/unload as the process runs.
type ProcessSymbols interface {
	// ResolveInputLocation expands loc into zero or more addresses valid in
	// this process. Symbolic names may match in several modules.
	ResolveInputLocation(loc InputLocation) []Location
	// ModuleStatuses returns the load status of every module of the process.
	ModuleStatuses() []ModuleSymbolStatus
	// DidLoadModule makes the module's symbols available for resolution.
	DidLoadModule(name, buildID string, base uint64, index *Index)
	// WillUnloadModule drops the module's symbols.
	WillUnloadModule(buildID string)
}

// DebugFileType distinguishes the artifacts a symbol server can provide for
// one build ID.
type DebugFileType int

const (
	// FileTypeDebugInfo is the unstripped binary or split debug info.
	FileTypeDebugInfo DebugFileType = iota
	// FileTypeBinary is the stripped executable (needed for disassembly on
	// targets where the debug info lacks program text).
	FileTypeBinary
)

func (t DebugFileType) String() string {
	switch t {
	case FileTypeDebugInfo:
		return "debuginfo"
	case FileTypeBinary:
		return "binary"
	}
	return fmt.Sprintf("DebugFileType(%d)", int(t))
}
