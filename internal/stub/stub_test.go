package stub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dora-lang/corejit/internal/rt"
)

type fakeBuilder struct {
	lazyCalls   int
	nativeCalls int
	lazyErr     error
	nativeErr   error
}

func (f *fakeBuilder) BuildLazyStub(fn rt.FctId) (uintptr, error) {
	f.lazyCalls++
	if f.lazyErr != nil {
		return 0, f.lazyErr
	}
	return 0x5000 + uintptr(fn), nil
}

func (f *fakeBuilder) BuildNativeStub(fn rt.FctId, ptr uintptr, returnsRef, returnsFloat bool, argc int) (uintptr, error) {
	f.nativeCalls++
	if f.nativeErr != nil {
		return 0, f.nativeErr
	}
	return ptr + 0x10000, nil
}

func TestManager_Address_CompiledSkipsStub(t *testing.T) {
	b := &fakeBuilder{}
	compiled := func(fn rt.FctId) (*rt.JitFct, bool) {
		return &rt.JitFct{Fct: fn, CodePtr: 0x9999}, true
	}
	m := New(b, compiled, func(rt.FctId) (int32, bool) { return 0, false })

	addr, err := m.Address(1)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x9999), addr)
	require.Zero(t, b.lazyCalls)
}

func TestManager_Address_BuildsAndCachesStub(t *testing.T) {
	b := &fakeBuilder{}
	compiled := func(rt.FctId) (*rt.JitFct, bool) { return nil, false }
	m := New(b, compiled, func(rt.FctId) (int32, bool) { return 0, false })

	addr1, err := m.Address(7)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x5007), addr1)

	addr2, err := m.Address(7)
	require.NoError(t, err)
	require.Equal(t, addr1, addr2)
	require.Equal(t, 1, b.lazyCalls) // second Address call reused the cache.
}

func TestManager_Address_BuildError(t *testing.T) {
	b := &fakeBuilder{lazyErr: errors.New("boom")}
	m := New(b, func(rt.FctId) (*rt.JitFct, bool) { return nil, false }, nil)

	_, err := m.Address(1)
	require.Error(t, err)
}

func TestManager_Invalidate(t *testing.T) {
	b := &fakeBuilder{}
	compiled := func(rt.FctId) (*rt.JitFct, bool) { return nil, false }
	m := New(b, compiled, func(rt.FctId) (int32, bool) { return 0, false })

	_, err := m.Address(3)
	require.NoError(t, err)
	require.Equal(t, 1, b.lazyCalls)

	m.Invalidate(3)
	_, err = m.Address(3)
	require.NoError(t, err)
	require.Equal(t, 2, b.lazyCalls) // cache was evicted, stub rebuilt.
}

func TestManager_EnsureNativeStub_CachesByPointer(t *testing.T) {
	b := &fakeBuilder{}
	m := New(b, func(rt.FctId) (*rt.JitFct, bool) { return nil, false }, nil)

	addr1 := m.EnsureNativeStub(1, 0x4000, false, false, 2)
	addr2 := m.EnsureNativeStub(2, 0x4000, false, false, 2) // different FctId, same host ptr.
	require.Equal(t, addr1, addr2)
	require.Equal(t, 1, b.nativeCalls)
}

func TestManager_EnsureNativeStub_PanicsOnBuildError(t *testing.T) {
	b := &fakeBuilder{nativeErr: errors.New("boom")}
	m := New(b, func(rt.FctId) (*rt.JitFct, bool) { return nil, false }, nil)

	require.Panics(t, func() { m.EnsureNativeStub(1, 0x4000, false, false, 0) })
}

func TestManager_VTableIndex(t *testing.T) {
	m := New(&fakeBuilder{}, func(rt.FctId) (*rt.JitFct, bool) { return nil, false },
		func(fn rt.FctId) (int32, bool) {
			if fn == 9 {
				return 3, true
			}
			return 0, false
		})

	idx, ok := m.VTableIndex(9)
	require.True(t, ok)
	require.Equal(t, int32(3), idx)

	_, ok = m.VTableIndex(10)
	require.False(t, ok)
}
