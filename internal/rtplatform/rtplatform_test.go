package rtplatform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapCodeSegment_RoundTrip(t *testing.T) {
	code := []byte{0xc3} // ret
	mapped, err := MapCodeSegment(code)
	require.NoError(t, err)
	require.Len(t, mapped, len(code))
	require.Equal(t, code[0], mapped[0])

	require.NoError(t, UnmapCodeSegment(mapped))
}

func TestMapCodeSegment_ZeroLengthPanics(t *testing.T) {
	require.Panics(t, func() { _, _ = MapCodeSegment(nil) })
}

func TestUnmapCodeSegment_ZeroLengthErrors(t *testing.T) {
	require.Error(t, UnmapCodeSegment(nil))
}

func TestRemapRW_RemapRX_RoundTrip(t *testing.T) {
	mapped, err := MapCodeSegment([]byte{0xc3})
	require.NoError(t, err)
	defer func() { _ = UnmapCodeSegment(mapped) }()

	require.NoError(t, RemapRW(mapped))
	mapped[0] = 0x90 // nop; only legal to write while RW.
	require.NoError(t, RemapRX(mapped))
}
