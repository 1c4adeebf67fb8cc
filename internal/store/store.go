// Package store implements the page-backed file store the allocator is
// built on: fixed-size page I/O over one backing file, served from a
// memory map on the read path and positional writes on the write path,
// growing the file on demand up to a caller-chosen cap.
package store

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/ncw/directio"
	"github.com/sirupsen/logrus"

	"github.com/tryge/embedb/internal/page"
	"github.com/tryge/embedb/internal/palerr"
)

// PageStore translates (page id, buffer) pairs into file I/O at byte offset
// id*page.Size, growing the backing file as required up to maxSize.
type PageStore struct {
	file        *os.File
	mapping     mmap.MMap
	maxSize     int
	currentSize int
	direct      bool
	alignedBuf  []byte
	log         *logrus.Entry
}

// NewFromFile wraps an already-open file, matching the on-disk state the
// allocator will read and grow. maxSize must be a multiple of page.Size;
// the store does not enforce this itself, callers do.
func NewFromFile(f *os.File, maxSize int) (*PageStore, error) {
	return newStore(f, maxSize, false)
}

// Open opens (creating if absent) the file at path and installs a
// maxSize-byte memory map over it. When direct is true the file is opened
// through github.com/ncw/directio so that writes bypass the page cache;
// direct-I/O writes must be page-aligned, which every write in this store
// already is.
func Open(path string, maxSize int, direct bool) (*PageStore, error) {
	var f *os.File
	var err error
	if direct {
		f, err = directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	}
	if err != nil {
		return nil, palerr.NewIOError("open backing file", err)
	}
	return newStore(f, maxSize, direct)
}

func newStore(f *os.File, maxSize int, direct bool) (*PageStore, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, palerr.NewIOError("stat backing file", err)
	}

	m, err := mmap.MapRegion(f, maxSize, mmap.RDWR, 0, 0)
	if err != nil {
		return nil, palerr.NewIOError("mmap backing file", err)
	}

	s := &PageStore{
		file:        f,
		mapping:     m,
		maxSize:     maxSize,
		currentSize: int(info.Size()),
		direct:      direct,
		log:         logrus.WithField("component", "pagestore"),
	}
	if direct {
		s.alignedBuf = directio.AlignedBlock(page.Size)
	}
	s.log.Debugf("opened store: current_size=%d max_size=%d", s.currentSize, s.maxSize)
	return s, nil
}

// MaxSize returns the configured maximum size of the backing file, in bytes.
func (s *PageStore) MaxSize() int { return s.maxSize }

// CurrentSize returns the current length of the backing file, in bytes.
func (s *PageStore) CurrentSize() int { return s.currentSize }

// Flush persists buffered writes and fsyncs the backing file.
func (s *PageStore) Flush() error {
	if err := s.file.Sync(); err != nil {
		return palerr.NewIOError("flush backing file", err)
	}
	return nil
}

// Close unmaps the backing file and closes the file handle. Any View handed
// out earlier points into that mapping and must not be dereferenced once
// Close has unmapped it; Close does not wait for views to be dropped.
func (s *PageStore) Close() error {
	if err := s.mapping.Unmap(); err != nil {
		return palerr.NewIOError("unmap backing file", err)
	}
	return s.file.Close()
}

// ReadPage returns a borrowed view of page id. It fails with
// InvalidInputError if the requested range exceeds the current file
// length, with a distinct message when it exceeds MaxSize.
func (s *PageStore) ReadPage(id uint32) (*View, error) {
	offset := int(id) * page.Size
	end := offset + page.Size
	if end > s.currentSize {
		if end > s.maxSize {
			return nil, palerr.NewInvalidInput(
				"invalid page, the specified page is beyond maximum file size (max size = %d)", s.maxSize)
		}
		return nil, palerr.NewInvalidInput(
			"invalid page, the specified page does not yet exist (current size = %d)", s.currentSize)
	}
	return &View{data: s.mapping[offset:end:end]}, nil
}

// WritePage writes buf (which must be exactly page.Size bytes) to the slot
// for page id.
func (s *PageStore) WritePage(id uint32, buf []byte) error {
	if len(buf) != page.Size {
		return palerr.NewInvalidInput("invalid size, buf needs to hold exactly %d bytes", page.Size)
	}
	return s.writeBufAt(buf, int(id)*page.Size)
}

// WritePageRange writes buf at offset bytes into page id's slot. offset+len(buf)
// must not exceed page.Size.
func (s *PageStore) WritePageRange(id uint32, offset int, buf []byte) error {
	if offset+len(buf) > page.Size {
		return palerr.NewInvalidInput("invalid (offset,size), write would overrun page")
	}
	return s.writeBufAt(buf, int(id)*page.Size+offset)
}

func (s *PageStore) writeBufAt(buf []byte, pos int) error {
	if err := s.ensurePageExistsAt(pos); err != nil {
		return err
	}
	if s.direct {
		pageStart := pos &^ (page.Size - 1)
		inPageOffset := pos - pageStart
		// O_DIRECT requires a full, page-aligned buffer: read-modify-write
		// the surrounding page through the map rather than writing the
		// caller's (possibly sub-page) slice directly.
		copy(s.alignedBuf, s.mapping[pageStart:pageStart+page.Size])
		copy(s.alignedBuf[inPageOffset:], buf)
		if _, err := s.file.WriteAt(s.alignedBuf, int64(pageStart)); err != nil {
			return palerr.NewIOError("write page", err)
		}
		return nil
	}
	if _, err := s.file.WriteAt(buf, int64(pos)); err != nil {
		return palerr.NewIOError("write page", err)
	}
	return nil
}

func (s *PageStore) ensurePageExistsAt(pos int) error {
	newSize := (pos &^ (page.Size - 1)) + page.Size
	if newSize > s.maxSize {
		return palerr.NewInvalidInput("invalid page, the specified page is beyond maximum file size (%d)", s.maxSize)
	}
	if newSize > s.currentSize {
		if err := s.file.Truncate(int64(newSize)); err != nil {
			return palerr.NewIOError("grow backing file", err)
		}
		s.currentSize = newSize
		s.log.Debugf("grew backing file to %d bytes", newSize)
	}
	return nil
}

// View exposes a read-only P-byte slice of the memory map, borrowed from
// the store's mapping. Views remain valid across further writes that
// extend the file, since nothing in the store ever shrinks or remaps once
// Open has sized the mapping to MaxSize. Views hold no reference count on
// the mapping: they become invalid when Close unmaps it.
type View struct {
	data []byte
}

// PageID returns the u32 at offset 0 of the view: the page id the page
// claims to live at. Callers should compare this against the id they asked
// for.
func (v *View) PageID() uint32 { return page.GetU32(v.data, 0) }

// PageType returns the u32 at offset 4 of the view.
func (v *View) PageType() uint32 { return page.GetU32(v.data, 4) }

// GetU16 reads a little-endian u16 at byte offset off within the page.
func (v *View) GetU16(off int) uint16 { return page.GetU16(v.data, off) }

// GetU32 reads a little-endian u32 at byte offset off within the page.
func (v *View) GetU32(off int) uint32 { return page.GetU32(v.data, off) }

// Content returns the full page.Size-byte slice backing this view.
func (v *View) Content() []byte { return v.data }
