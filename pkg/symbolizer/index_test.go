package symbolizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex() *Index {
	return NewIndex([]Symbol{
		{Name: "main", Value: 0x100, Size: 0x40, File: "main.cc", Line: 10},
		{Name: "helper", Value: 0x200, Size: 0x20, File: "main.cc", Line: 50},
		{Name: "__zx_channel_write@plt", Value: 0x300, Size: 0x10},
		{Name: "__zx_channel_write_etc@plt", Value: 0x310, Size: 0x10},
		{Name: "unsized_marker", Value: 0x400},
	})
}

func TestIndexFindName(t *testing.T) {
	idx := testIndex()
	assert.Equal(t, 5, idx.Count())

	sym := idx.FindName("main")
	require.NotNil(t, sym)
	assert.Equal(t, uint64(0x100), sym.Value)
	assert.Equal(t, "main.cc", sym.File)

	assert.Nil(t, idx.FindName("mai"), "exact match only")
	assert.Nil(t, idx.FindName("missing"))
}

func TestIndexFindPrefix(t *testing.T) {
	idx := testIndex()

	plt := idx.FindPrefix("__zx_channel_write")
	require.Len(t, plt, 2)
	names := map[string]bool{}
	for _, s := range plt {
		names[s.Name] = true
	}
	assert.True(t, names["__zx_channel_write@plt"])
	assert.True(t, names["__zx_channel_write_etc@plt"])

	assert.Empty(t, idx.FindPrefix("__zx_socket"))
}

func TestIndexFindAddress(t *testing.T) {
	idx := testIndex()

	// Interior, first byte and last byte of a sized symbol.
	for _, addr := range []uint64{0x100, 0x120, 0x13f} {
		sym := idx.FindAddress(addr)
		require.NotNil(t, sym, "addr 0x%x", addr)
		assert.Equal(t, "main", sym.Name)
	}

	// One past the end falls in the gap before helper.
	assert.Nil(t, idx.FindAddress(0x140))
	assert.Nil(t, idx.FindAddress(0x0), "below every symbol")

	// An unsized symbol covers everything after it.
	sym := idx.FindAddress(0x5000)
	require.NotNil(t, sym)
	assert.Equal(t, "unsized_marker", sym.Name)
}
