package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tryge/embedb/internal/store"
)

func openTempStore(t *testing.T) *store.PageStore {
	t.Helper()
	s, err := store.Open(t.TempDir()+"/bitmap.bin", 4096*64, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func always(uint32) bool { return true }

func TestNew_OwnBitInvariant(t *testing.T) {
	p := New(2)
	require.Equal(t, uint32(2), p.PageID())
	require.Equal(t, uint16(1), p.FirstFreePageIndex())
	require.Equal(t, uint16(Capacity-1), p.FreePageCount())
	require.True(t, p.bitmap()[0]&1 == 1)
	require.Equal(t, byte(0), p.bitmap()[0]&^1)
}

func TestAllocate_MonotoneWithFreeBelowCursor(t *testing.T) {
	p := New(2)

	a, ok := p.Allocate(always)
	require.True(t, ok)
	require.Equal(t, uint32(3), a)

	b, ok := p.Allocate(always)
	require.True(t, ok)
	require.Equal(t, uint32(4), b)

	require.True(t, p.Free(a))

	c, ok := p.Allocate(always)
	require.True(t, ok)
	require.Greater(t, c, b)
}

func TestAllocate_FilterSkipping(t *testing.T) {
	p := New(2)
	rejected := map[uint32]bool{4: true, 5: true, 7: true, 16: true}
	filter := func(id uint32) bool { return !rejected[id] }

	want := []uint32{3, 6, 8, 9, 10, 11, 12, 13, 14, 15, 17, 18}
	for _, w := range want {
		got, ok := p.Allocate(filter)
		require.True(t, ok)
		require.Equal(t, w, got)
	}
}

func TestLoad_FullPageRefusal(t *testing.T) {
	p := New(2)
	for i := uint32(0); i < Capacity-1; i++ {
		_, ok := p.Allocate(always)
		require.True(t, ok)
	}
	_, ok := p.Allocate(always)
	require.False(t, ok)

	s := openTempStore(t)
	require.NoError(t, p.Persist(s))
	view, err := s.ReadPage(p.PageID())
	require.NoError(t, err)

	_, ok = Load(view, always)
	require.False(t, ok)
}

func TestLoad_AlmostFullRefusal(t *testing.T) {
	p := New(2)
	for i := uint32(0); i < Capacity-2; i++ {
		_, ok := p.Allocate(always)
		require.True(t, ok)
	}
	require.Equal(t, uint16(1), p.FreePageCount())

	s := openTempStore(t)
	require.NoError(t, p.Persist(s))
	view, err := s.ReadPage(p.PageID())
	require.NoError(t, err)

	_, ok := Load(view, always)
	require.False(t, ok)
}

func TestLoad_FilterBlockedRefusal(t *testing.T) {
	p := New(2)
	s := openTempStore(t)
	require.NoError(t, p.Persist(s))
	view, err := s.ReadPage(p.PageID())
	require.NoError(t, err)

	_, ok := Load(view, func(uint32) bool { return false })
	require.False(t, ok)
}

func TestLoadAndRelocate(t *testing.T) {
	p := New(2)
	_, ok := p.Allocate(always)
	require.True(t, ok)
	id4, ok := p.Allocate(always)
	require.True(t, ok)
	require.Equal(t, uint32(4), id4)

	require.True(t, p.Free(3))

	s := openTempStore(t)
	require.NoError(t, p.Persist(s))
	view, err := s.ReadPage(p.PageID())
	require.NoError(t, err)

	loaded, ok := Load(view, func(id uint32) bool { return id != 3 })
	require.True(t, ok)

	_, ok = loaded.Allocate(always)
	require.True(t, ok)

	require.NoError(t, loaded.Persist(s))

	require.Equal(t, uint32(5), loaded.PageID())
	require.Equal(t, uint16(Capacity-3), loaded.FreePageCount())
	require.Equal(t, uint16(0), loaded.FirstFreePageIndex())
	require.Equal(t, byte(0x1C), loaded.bitmap()[0])
}

func TestLoadInto(t *testing.T) {
	p := New(2)
	s := openTempStore(t)
	require.NoError(t, p.Persist(s))
	view, err := s.ReadPage(p.PageID())
	require.NoError(t, err)

	into := LoadInto(view, 0)
	require.Equal(t, uint32(0), into.PageID())
	require.Equal(t, uint16(Capacity), into.FreePageCount())
	require.Equal(t, uint16(0), into.FirstFreePageIndex())
	require.Equal(t, byte(0), into.bitmap()[0])
}

func TestLoadInto_AfterRelocation(t *testing.T) {
	p := New(2)
	_, ok := p.Allocate(always)
	require.True(t, ok)
	_, ok = p.Allocate(always)
	require.True(t, ok)
	require.True(t, p.Free(3))

	s := openTempStore(t)
	require.NoError(t, p.Persist(s))
	view, err := s.ReadPage(p.PageID())
	require.NoError(t, err)

	loaded, ok := Load(view, func(id uint32) bool { return id != 3 })
	require.True(t, ok)
	_, ok = loaded.Allocate(always)
	require.True(t, ok)
	require.NoError(t, loaded.Persist(s))

	view2, err := s.ReadPage(loaded.PageID())
	require.NoError(t, err)

	into := LoadInto(view2, 0)
	require.Equal(t, uint32(0), into.PageID())
	require.Equal(t, uint16(Capacity-2), into.FreePageCount())
	require.Equal(t, uint16(0), into.FirstFreePageIndex())
	require.Equal(t, byte(0x14), into.bitmap()[0])
}
