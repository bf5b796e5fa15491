package symbolizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedTestSymbols() ProcessSymbols {
	ps := NewProcessSymbols()
	ps.DidLoadModule("app", "app-id", 0x10000, NewIndex([]Symbol{
		{Name: "main", Value: 0x100, Size: 0x40, File: "main.cc", Line: 10},
		{Name: "DoWork", Value: 0x200, Size: 0x40, File: "work.cc", Line: 5},
	}))
	ps.DidLoadModule("libc.so", "libc-id", 0x40000, NewIndex([]Symbol{
		{Name: "__zx_channel_write@plt", Value: 0x300, Size: 0x10},
	}))
	return ps
}

func TestResolveByName(t *testing.T) {
	ps := loadedTestSymbols()

	locs := ps.ResolveInputLocation(InputLocation{Type: InputLocationName, Name: "main"})
	require.Len(t, locs, 1)
	assert.Equal(t, uint64(0x10100), locs[0].Address)
	assert.Equal(t, "main", locs[0].Symbol)
	assert.Equal(t, "app-id", locs[0].Module)

	assert.Empty(t, ps.ResolveInputLocation(InputLocation{Type: InputLocationName, Name: "missing"}))
}

func TestResolveNameFallsBackToPrefixForPLT(t *testing.T) {
	ps := loadedTestSymbols()

	locs := ps.ResolveInputLocation(InputLocation{Type: InputLocationName, Name: "__zx_channel_write"})
	require.Len(t, locs, 1)
	assert.Equal(t, uint64(0x40300), locs[0].Address)
	assert.Equal(t, "__zx_channel_write@plt", locs[0].Symbol)
}

func TestResolveByAddress(t *testing.T) {
	ps := loadedTestSymbols()

	locs := ps.ResolveInputLocation(InputLocation{Type: InputLocationAddress, Address: 0x10120})
	require.Len(t, locs, 1)
	assert.Equal(t, "main", locs[0].Symbol)
	assert.Equal(t, "main.cc", locs[0].File)

	// An unmapped address still resolves to a bare location.
	locs = ps.ResolveInputLocation(InputLocation{Type: InputLocationAddress, Address: 0x1})
	require.Len(t, locs, 1)
	assert.Equal(t, uint64(0x1), locs[0].Address)
	assert.Empty(t, locs[0].Symbol)
}

func TestResolveByLine(t *testing.T) {
	ps := loadedTestSymbols()

	locs := ps.ResolveInputLocation(InputLocation{Type: InputLocationLine, File: "work.cc", Line: 5})
	require.Len(t, locs, 1)
	assert.Equal(t, "DoWork", locs[0].Symbol)
}

func TestModuleReloadReplacesSymbols(t *testing.T) {
	ps := loadedTestSymbols()

	// Resolve once so the answer is cached, then move the module.
	before := ps.ResolveInputLocation(InputLocation{Type: InputLocationName, Name: "main"})
	require.Len(t, before, 1)

	ps.DidLoadModule("app", "app-id", 0x80000, NewIndex([]Symbol{
		{Name: "main", Value: 0x100, Size: 0x40},
	}))

	after := ps.ResolveInputLocation(InputLocation{Type: InputLocationName, Name: "main"})
	require.Len(t, after, 1)
	assert.Equal(t, uint64(0x80100), after[0].Address, "stale cache entries are flushed")

	statuses := ps.ModuleStatuses()
	require.Len(t, statuses, 2)
}

func TestUnloadDropsModule(t *testing.T) {
	ps := loadedTestSymbols()
	ps.WillUnloadModule("libc-id")

	assert.Empty(t, ps.ResolveInputLocation(InputLocation{Type: InputLocationName, Name: "__zx_channel_write"}))
	statuses := ps.ModuleStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "app-id", statuses[0].BuildID)
}

func TestModuleWithoutSymbols(t *testing.T) {
	ps := NewProcessSymbols()
	ps.DidLoadModule("stripped", "stripped-id", 0x10000, nil)

	statuses := ps.ModuleStatuses()
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].SymbolsLoaded)
	assert.Zero(t, statuses[0].FunctionsIndexed)

	assert.Empty(t, ps.ResolveInputLocation(InputLocation{Type: InputLocationName, Name: "main"}))
}
