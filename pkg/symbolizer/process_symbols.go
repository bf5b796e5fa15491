package symbolizer

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/vsrinivas/fuchsia-debug/pkg/logflags"
)

const resolveCacheSize = 256

type loadedModule struct {
	name    string
	buildID string
	base    uint64
	index   *Index // nil when no symbols could be found
}

// processSymbols is the stock ProcessSymbols implementation backed by
// per-module Indexes. Resolution results are memoized in an LRU keyed by the
// input location; the cache is flushed whenever the module set changes.
type processSymbols struct {
	modules []*loadedModule
	cache   *lru.Cache
	log     logflags.Logger
}

// NewProcessSymbols returns an empty ProcessSymbols. Modules are added as the
// target process reports them loaded.
func NewProcessSymbols() ProcessSymbols {
	cache, _ := lru.New(resolveCacheSize)
	return &processSymbols{cache: cache, log: logflags.SymbolizerLogger()}
}

func (ps *processSymbols) DidLoadModule(name, buildID string, base uint64, index *Index) {
	ps.WillUnloadModule(buildID)
	ps.modules = append(ps.modules, &loadedModule{name: name, buildID: buildID, base: base, index: index})
	ps.cache.Purge()
	ps.log.Debugf("loaded module %s (%s) at 0x%x", name, buildID, base)
}

func (ps *processSymbols) WillUnloadModule(buildID string) {
	for i, m := range ps.modules {
		if m.buildID == buildID {
			ps.modules = append(ps.modules[:i], ps.modules[i+1:]...)
			ps.cache.Purge()
			return
		}
	}
}

func (ps *processSymbols) ModuleStatuses() []ModuleSymbolStatus {
	out := make([]ModuleSymbolStatus, 0, len(ps.modules))
	for _, m := range ps.modules {
		st := ModuleSymbolStatus{Name: m.name, BuildID: m.buildID, Base: m.base}
		if m.index != nil {
			st.SymbolsLoaded = true
			st.FunctionsIndexed = m.index.Count()
		}
		out = append(out, st)
	}
	return out
}

func (ps *processSymbols) ResolveInputLocation(loc InputLocation) []Location {
	if cached, ok := ps.cache.Get(loc); ok {
		return cached.([]Location)
	}
	var out []Location
	switch loc.Type {
	case InputLocationAddress:
		l := Location{Address: loc.Address}
		if m, sym := ps.symbolForAddress(loc.Address); sym != nil {
			l.Symbol = sym.Name
			l.File = sym.File
			l.Line = sym.Line
			l.Module = m.buildID
		}
		out = []Location{l}
	case InputLocationName:
		for _, m := range ps.modules {
			if m.index == nil {
				continue
			}
			if sym := m.index.FindName(loc.Name); sym != nil {
				out = append(out, locationFor(m, sym))
				continue
			}
			// PLT stubs carry linker decorations after the base name.
			for _, sym := range m.index.FindPrefix(loc.Name) {
				out = append(out, locationFor(m, sym))
			}
		}
	case InputLocationLine:
		for _, m := range ps.modules {
			if m.index == nil {
				continue
			}
			for _, sym := range m.index.byAddr {
				if sym.File == loc.File && sym.Line == loc.Line {
					out = append(out, locationFor(m, sym))
				}
			}
		}
	}
	ps.cache.Add(loc, out)
	return out
}

func (ps *processSymbols) symbolForAddress(addr uint64) (*loadedModule, *Symbol) {
	for _, m := range ps.modules {
		if m.index == nil || addr < m.base {
			continue
		}
		if sym := m.index.FindAddress(addr - m.base); sym != nil {
			return m, sym
		}
	}
	return nil, nil
}

func locationFor(m *loadedModule, sym *Symbol) Location {
	return Location{
		Address: m.base + sym.Value,
		Symbol:  sym.Name,
		File:    sym.File,
		Line:    sym.Line,
		Module:  m.buildID,
	}
}
