package palloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tryge/embedb/internal/bitmap"
	"github.com/tryge/embedb/internal/store"
)

func openTempStore(t *testing.T) *store.PageStore {
	t.Helper()
	s, err := store.Open(t.TempDir()+"/alloc.bin", 4096*int(3*bitmap.Capacity), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func always(uint32) bool { return true }

func TestAllocator_RoundTrip(t *testing.T) {
	s := openTempStore(t)
	a := New(s, 0)

	id, ok := a.Allocate(always)
	require.True(t, ok)
	require.Equal(t, uint32(1), id)

	require.True(t, a.Free(id, always))
	require.NoError(t, a.Persist())

	reloaded, ok := Load(s, a.RootPageID(), always)
	require.True(t, ok)

	next, ok := reloaded.Allocate(always)
	require.True(t, ok)
	require.NoError(t, reloaded.Persist())
	require.Greater(t, next, uint32(0))
}

func TestAllocator_GrowsIntoIndexOnOverflow(t *testing.T) {
	s := openTempStore(t)
	a := New(s, 0)

	var last uint32
	for i := uint32(0); i < uint32(bitmap.Capacity)-1; i++ {
		id, ok := a.Allocate(always)
		require.True(t, ok)
		last = id
	}

	overflow, ok := a.Allocate(always)
	require.True(t, ok)
	require.Greater(t, overflow, last)
	require.NoError(t, a.Persist())
}

func TestLockedAllocator_ConcurrentAllocate(t *testing.T) {
	s := openTempStore(t)
	locked := NewLocked(New(s, 0))

	seen := make(chan uint32, 50)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, ok := locked.Allocate(always)
			require.True(t, ok)
			seen <- id
		}()
	}
	wg.Wait()
	close(seen)

	ids := map[uint32]bool{}
	for id := range seen {
		require.False(t, ids[id], "duplicate allocation %d", id)
		ids[id] = true
	}
	require.Len(t, ids, 50)
}
