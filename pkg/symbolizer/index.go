package symbolizer

import (
	"sort"

	"github.com/derekparker/trie"
)

// Symbol is one named address range inside a module. Addresses are
// module-relative; the process-level resolver rebases them.
type Symbol struct {
	Name string
	// Value is the module-relative address of the symbol.
	Value uint64
	Size  uint64
	File  string
	Line  int
}

// Index holds the searchable symbols of one module: a name trie for exact and
// prefix lookup plus an address-sorted table for reverse resolution.
type Index struct {
	names  *trie.Trie
	byAddr []*Symbol // sorted by Value
	count  int
}

// NewIndex builds an Index from syms.
func NewIndex(syms []Symbol) *Index {
	idx := &Index{names: trie.New()}
	for i := range syms {
		s := syms[i]
		idx.names.Add(s.Name, &s)
		idx.byAddr = append(idx.byAddr, &s)
		idx.count++
	}
	sort.Slice(idx.byAddr, func(i, j int) bool { return idx.byAddr[i].Value < idx.byAddr[j].Value })
	return idx
}

// Count returns the number of indexed symbols.
func (idx *Index) Count() int {
	return idx.count
}

// FindName returns the symbol with exactly the given name, or nil.
func (idx *Index) FindName(name string) *Symbol {
	node, ok := idx.names.Find(name)
	if !ok {
		return nil
	}
	return node.Meta().(*Symbol)
}

// FindPrefix returns every symbol whose name starts with prefix. Used for PLT
// stub lookup where the linker may decorate the base name.
func (idx *Index) FindPrefix(prefix string) []*Symbol {
	var out []*Symbol
	for _, key := range idx.names.PrefixSearch(prefix) {
		if node, ok := idx.names.Find(key); ok {
			out = append(out, node.Meta().(*Symbol))
		}
	}
	return out
}

// FindAddress returns the symbol covering the module-relative address, or
// nil if the address falls outside every known symbol.
func (idx *Index) FindAddress(addr uint64) *Symbol {
	i := sort.Search(len(idx.byAddr), func(i int) bool { return idx.byAddr[i].Value > addr })
	if i == 0 {
		return nil
	}
	s := idx.byAddr[i-1]
	if s.Size != 0 && addr >= s.Value+s.Size {
		return nil
	}
	return s
}
