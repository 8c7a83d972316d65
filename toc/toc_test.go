package toc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableLookup(t *testing.T) {
	tbl := newTable(0xdeadbeef, []Entry[int]{
		{Name: "pid.kp", ID: 1, Info: 7},
		{Name: "pid.ki", ID: 2, Info: 3},
	})

	e, ok := tbl.Lookup("pid.kp")
	require.True(t, ok)
	require.Equal(t, uint16(1), e.ID)
	require.Equal(t, 7, e.Info)

	e, ok = tbl.LookupID(2)
	require.True(t, ok)
	require.Equal(t, "pid.ki", e.Name)

	_, ok = tbl.Lookup("missing.var")
	require.False(t, ok)

	require.Equal(t, []string{"pid.kp", "pid.ki"}, tbl.Names())
	require.Equal(t, uint32(0xdeadbeef), tbl.CRC32)
}

func TestTableReindexAfterDecode(t *testing.T) {
	tbl := newTable(1, []Entry[int]{{Name: "a.b", ID: 9, Info: 1}})
	raw, err := encodeTable(tbl)
	require.NoError(t, err)

	decoded, err := decodeTable[int](raw)
	require.NoError(t, err)

	e, ok := decoded.Lookup("a.b")
	require.True(t, ok)
	require.Equal(t, uint16(9), e.ID)
}
