package interception

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyscallTableFind(t *testing.T) {
	table := NewSyscallTable(DefaultSyscalls())

	sc := table.Find("zx_channel_write")
	require.NotNil(t, sc)
	assert.Equal(t, 6, sc.NumArgs)
	assert.True(t, sc.HasReturn)

	assert.Nil(t, table.Find("zx_channel"), "prefixes are not exact matches")
	assert.Nil(t, table.Find("zx_vmo_read"))

	exit := table.Find("zx_process_exit")
	require.NotNil(t, exit)
	assert.False(t, exit.HasReturn)
}

func TestSyscallTablePrefixSearch(t *testing.T) {
	table := NewSyscallTable(DefaultSyscalls())

	channel := table.MatchingPrefix("zx_channel_")
	names := make(map[string]bool)
	for _, sc := range channel {
		names[sc.Name] = true
	}
	assert.Len(t, channel, 6)
	assert.True(t, names["zx_channel_write"])
	assert.True(t, names["zx_channel_write_etc"])
	assert.True(t, names["zx_channel_call"])

	assert.Empty(t, table.MatchingPrefix("zx_vmo_"))
	assert.Equal(t, table.Len(), len(table.MatchingPrefix("zx_")))
}
