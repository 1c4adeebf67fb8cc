// Package bitmap implements the BitmapPage: a single page tracking
// allocation state for B = 32640 consecutive page ids, one bit per page,
// the page's own id among them.
package bitmap

import (
	"github.com/tryge/embedb/internal/page"
	"github.com/tryge/embedb/internal/store"
)

// headerSize is the length of a BitmapPage's header: the common page id and
// type fields followed by first_managed_page_id, free_page_count and
// first_free_page_idx. The bit payload starts right after it.
const headerSize = 16

// Capacity is B, the number of page ids one BitmapPage tracks.
const Capacity = uint32((page.Size - headerSize) * 8)

// noFreeIndex is the 0xFFFF sentinel meaning "no free slot in this bitmap".
const noFreeIndex uint16 = 0xFFFF

// Filter is the caller-supplied predicate deciding whether a page id is
// acceptable to hand out. True means "allocatable"; false means "pretend
// it is taken" for the duration of this search, without marking it used.
type Filter func(pageID uint32) bool

func alwaysIdx(uint16) bool { return true }

// Page is the in-memory form of a BitmapPage: its current location (which
// may differ from first_managed_page_id after relocation), a forward-only
// search cursor, and the working 4096-byte buffer whose bit payload is
// mutated directly by Allocate/Free.
type Page struct {
	pageID                  uint32
	firstManagedPageID      uint32
	lastManagedPageID       uint32
	currentFirstFreePageIdx uint16
	firstFreePageIdx        uint16
	freePageCount           uint16
	buffer                  [page.Size]byte
}

// New creates a fresh BitmapPage covering [firstManagedPageID, firstManagedPageID+Capacity-1],
// placed at its own first_managed_page_id with that page already marked used.
func New(firstManagedPageID uint32) *Page {
	p := &Page{
		pageID:             firstManagedPageID,
		firstManagedPageID: firstManagedPageID,
		lastManagedPageID:  firstManagedPageID + Capacity - 1,
		firstFreePageIdx:   0,
		freePageCount:      uint16(Capacity),
	}
	p.markUsed(firstManagedPageID, alwaysIdx)
	return p
}

// Load reads a persisted bitmap, relocating it to the first filter-passing
// free slot at or after the persisted floor and reserving a second
// filter-passing free slot for the bitmap's next relocation. It returns
// ok=false if no such pair of slots exists: a bitmap loaded with only one
// free slot left would have nowhere to relocate to next time, deadlocking
// the allocator on its own metadata.
func Load(view *store.View, filter Filter) (*Page, bool) {
	firstManagedPageID := view.GetU32(8)
	freePageCount := view.GetU16(12)
	firstFreePageIdx := view.GetU16(14)

	bitmapFilter := func(idx uint16) bool { return filter(firstManagedPageID + uint32(idx)) }

	currentIdx, ok := findClearFiltered(view.Content()[headerSize:], firstFreePageIdx, bitmapFilter)
	if !ok {
		return nil, false
	}
	nextIdx, ok := findClearFiltered(view.Content()[headerSize:], currentIdx+1, bitmapFilter)
	if !ok {
		return nil, false
	}

	p := &Page{
		pageID:                  firstManagedPageID + uint32(currentIdx),
		firstManagedPageID:      firstManagedPageID,
		lastManagedPageID:       firstManagedPageID + Capacity - 1,
		currentFirstFreePageIdx: nextIdx,
		firstFreePageIdx:        firstFreePageIdx,
		freePageCount:           freePageCount,
	}
	copy(p.buffer[:], view.Content())
	p.markUsed(p.pageID, bitmapFilter)
	p.Free(view.PageID())

	return p, true
}

// LoadInto reads a persisted bitmap and installs it at the caller-chosen
// targetPageID, with no filter and no reservation of a second free slot:
// the caller (IndexPage's copy-on-write free path) has already reserved
// targetPageID through a sibling bitmap.
func LoadInto(view *store.View, targetPageID uint32) *Page {
	firstManagedPageID := view.GetU32(8)
	freePageCount := view.GetU16(12)
	firstFreePageIdx := view.GetU16(14)

	p := &Page{
		pageID:                  targetPageID,
		firstManagedPageID:      firstManagedPageID,
		lastManagedPageID:       firstManagedPageID + Capacity - 1,
		currentFirstFreePageIdx: firstFreePageIdx,
		firstFreePageIdx:        firstFreePageIdx,
		freePageCount:           freePageCount,
	}
	copy(p.buffer[:], view.Content())
	p.Free(view.PageID())
	return p
}

// PageID returns the bitmap's current on-disk location.
func (p *Page) PageID() uint32 { return p.pageID }

// FirstManagedPageID returns the smallest page id this bitmap tracks.
func (p *Page) FirstManagedPageID() uint32 { return p.firstManagedPageID }

// FreePageCount returns the number of zero bits in the payload.
func (p *Page) FreePageCount() uint16 { return p.freePageCount }

// FirstFreePageIndex returns the persisted floor: the smallest index of a
// zero bit, or the noFreeIndex sentinel when none exists.
func (p *Page) FirstFreePageIndex() uint16 { return p.firstFreePageIdx }

// Contains reports whether pageID falls within this bitmap's managed range.
func (p *Page) Contains(pageID uint32) bool {
	return pageID >= p.firstManagedPageID && pageID <= p.lastManagedPageID
}

// Allocate finds the first filter-passing free page at or after the
// current search cursor, marks it used, and returns it. It returns
// ok=false on exhaustion; exhaustion is never an error here.
func (p *Page) Allocate(filter Filter) (uint32, bool) {
	startPage := p.firstManagedPageID
	bitmapFilter := func(idx uint16) bool { return filter(startPage + uint32(idx)) }

	idx, ok := findClearFiltered(p.bitmap(), p.currentFirstFreePageIdx, bitmapFilter)
	if !ok {
		p.currentFirstFreePageIdx = noFreeIndex
		return 0, false
	}

	p.currentFirstFreePageIdx = idx
	pageID := p.firstManagedPageID + uint32(idx)
	p.markUsed(pageID, bitmapFilter)
	return pageID, true
}

// Free clears the bit for pageID if it falls within this bitmap's range,
// lowering the persisted floor but never the in-memory search cursor: a
// free within one allocation sweep never rewinds the sweep.
func (p *Page) Free(pageID uint32) bool {
	if !p.Contains(pageID) {
		return false
	}
	p.markFree(pageID)
	return true
}

func (p *Page) pageForIdx(idx uint16) uint32 {
	return p.firstManagedPageID + uint32(idx)
}

func (p *Page) markUsed(pageID uint32, filter func(uint16) bool) bool {
	offset := uint16(pageID - p.firstManagedPageID)
	changed := setBit(p.bitmap(), offset)
	if !changed {
		return false
	}
	p.freePageCount--
	if pageID == p.pageForIdx(p.currentFirstFreePageIdx) {
		next, ok := findClearFiltered(p.bitmap(), p.currentFirstFreePageIdx+1, filter)
		if !ok {
			next = noFreeIndex
		}
		p.currentFirstFreePageIdx = next
	}
	if pageID == p.pageForIdx(p.firstFreePageIdx) {
		next, ok := findClearFiltered(p.bitmap(), p.firstFreePageIdx+1, func(uint16) bool { return true })
		if !ok {
			next = noFreeIndex
		}
		p.firstFreePageIdx = next
	}
	return true
}

func (p *Page) markFree(pageID uint32) {
	offset := uint16(pageID - p.firstManagedPageID)
	if !clearBit(p.bitmap(), offset) {
		return
	}
	p.freePageCount++
	if pageID < p.pageForIdx(p.firstFreePageIdx) {
		p.firstFreePageIdx = offset
	}
}

func (p *Page) bitmap() []byte { return p.buffer[headerSize:page.Size] }

// Persist serializes the header into the working buffer (the bit payload
// already reflects every prior Allocate/Free) and writes it to pageID's
// slot in s.
func (p *Page) Persist(s *store.PageStore) error {
	p.updateHeader()
	if err := s.WritePage(p.pageID, p.buffer[:]); err != nil {
		return err
	}
	return nil
}

func (p *Page) updateHeader() {
	page.PutU32(p.buffer[:], 0, p.pageID)
	page.PutU32(p.buffer[:], 4, uint32(page.TypeBitmap))
	page.PutU32(p.buffer[:], 8, p.firstManagedPageID)
	page.PutU16(p.buffer[:], 12, p.freePageCount)
	page.PutU16(p.buffer[:], 14, p.firstFreePageIdx)
}

// findClearFiltered scans bitmap for the first zero bit at or after offset
// that passes filter, skipping whole 0xFF bytes without inspecting their
// individual bits.
func findClearFiltered(bitmap []byte, offset uint16, filter func(uint16) bool) (uint16, bool) {
	byteStart := int(offset >> 3)
	if byteStart >= len(bitmap) {
		return 0, false
	}

	if b := bitmap[byteStart]; b != 0xFF {
		for bit := offset & 7; bit <= 7; bit++ {
			mask := byte(1) << bit
			if b&mask == 0 {
				candidate := uint16(byteStart<<3) + bit
				if filter(candidate) {
					return candidate, true
				}
			}
		}
	}

	for byteIdx := byteStart + 1; byteIdx < len(bitmap); byteIdx++ {
		b := bitmap[byteIdx]
		if b == 0xFF {
			continue
		}
		for bit := uint16(0); bit <= 7; bit++ {
			mask := byte(1) << bit
			if b&mask == 0 {
				candidate := uint16(byteIdx<<3) + bit
				if filter(candidate) {
					return candidate, true
				}
			}
		}
	}
	return 0, false
}

func setBit(bitmap []byte, idx uint16) bool {
	byteIdx, mask := idx>>3, byte(1)<<(idx&7)
	wasClear := bitmap[byteIdx]&mask == 0
	if wasClear {
		bitmap[byteIdx] |= mask
	}
	return wasClear
}

func clearBit(bitmap []byte, idx uint16) bool {
	byteIdx, mask := idx>>3, byte(1)<<(idx&7)
	wasSet := bitmap[byteIdx]&mask == mask
	if wasSet {
		bitmap[byteIdx] &^= mask
	}
	return wasSet
}
