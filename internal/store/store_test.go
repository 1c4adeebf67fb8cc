package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tryge/embedb/internal/page"
	"github.com/tryge/embedb/internal/palerr"
)

func openTempStore(t *testing.T, maxSize int) *PageStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.bin")
	s, err := Open(path, maxSize, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPageStore_GrowOnWrite(t *testing.T) {
	s := openTempStore(t, 4*page.Size)
	require.Equal(t, 0, s.CurrentSize())

	buf := make([]byte, page.Size)
	buf[0] = 0xAB
	require.NoError(t, s.WritePage(1, buf))
	require.Equal(t, 2*page.Size, s.CurrentSize())
}

func TestPageStore_WriteBeyondMaxSizeFails(t *testing.T) {
	s := openTempStore(t, page.Size)
	buf := make([]byte, page.Size)
	err := s.WritePage(1, buf)
	require.Error(t, err)
	require.IsType(t, (*palerr.InvalidInputError)(nil), err)
}

func TestPageStore_WritePageWrongSizeFails(t *testing.T) {
	s := openTempStore(t, page.Size)
	err := s.WritePage(0, make([]byte, page.Size-1))
	require.Error(t, err)
}

func TestPageStore_ReadBeyondCurrentSizeFails(t *testing.T) {
	s := openTempStore(t, 2*page.Size)
	_, err := s.ReadPage(0)
	require.Error(t, err)
}

func TestPageStore_RoundTripReadWriteRange(t *testing.T) {
	s := openTempStore(t, page.Size)
	require.NoError(t, s.WritePageRange(0, 0, []byte{1, 2, 3, 4, 5}))
	require.NoError(t, s.Flush())

	view, err := s.ReadPage(0)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, view.Content()[:5])
	require.Equal(t, byte(0), view.Content()[page.Size-1])
}

func TestPageStore_WritePageRangeOverrunFails(t *testing.T) {
	s := openTempStore(t, page.Size)
	err := s.WritePageRange(0, page.Size-2, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestPageStore_NewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "existing.bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)

	s, err := NewFromFile(f, 4*page.Size)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, 0, s.CurrentSize())
	require.Equal(t, 4*page.Size, s.MaxSize())
}
