// Package index implements the IndexPage: a single page holding up to 510
// bitmap slots (pageID, freePageCount) pairs, lazily activating and growing
// bitmaps as earlier ones fill up.
package index

import (
	"math"

	"github.com/tryge/embedb/internal/bitmap"
	"github.com/tryge/embedb/internal/page"
	"github.com/tryge/embedb/internal/store"
)

const headerSize = 16

// Capacity is I, the maximum number of bitmap slots one IndexPage holds.
const Capacity = uint16((page.Size - headerSize) / 8)

const noPageID = uint32(math.MaxUint32)

// Filter is the same allocatable-id predicate used by bitmap.Filter,
// threaded down to whichever bitmap slot is currently active.
type Filter = bitmap.Filter

// Page is the in-memory form of an IndexPage. dirtyBitmaps holds every
// bitmap this index has activated, grown or relocated since it was loaded;
// they stay resident (never evicted back to cold storage), and Persist
// writes them out without removing them from the map, so later allocations
// keep working against the in-memory copies.
type Page struct {
	pageID             uint32
	firstManagedPageID uint32
	currentBitmapCount uint16
	currentBitmapIdx   uint16
	firstFreeBitmapIdx uint16
	dirtyBitmaps       map[uint16]*bitmap.Page
	buffer             [page.Size]byte
}

// Grow builds the first IndexPage over an existing lone BitmapPage: it
// creates a second bitmap covering the range that starts right after the
// first bitmap's managed range, takes the index's own page id from that
// second bitmap, records both slots, and returns the new index with both
// bitmaps dirty.
func Grow(first *bitmap.Page) *Page {
	second := bitmap.New(first.FirstManagedPageID() + bitmap.Capacity)
	secondPageID, _ := second.Allocate(func(uint32) bool { return true })

	firstFreeBitmapIdx := uint16(1)
	if first.FreePageCount() > 0 {
		firstFreeBitmapIdx = 0
	}

	p := &Page{
		pageID:             secondPageID,
		firstManagedPageID: first.FirstManagedPageID(),
		currentBitmapCount: 2,
		currentBitmapIdx:   1,
		firstFreeBitmapIdx: firstFreeBitmapIdx,
		dirtyBitmaps:       map[uint16]*bitmap.Page{},
	}
	p.update(first)
	p.update(second)
	p.dirtyBitmaps[0] = first
	p.dirtyBitmaps[1] = second
	return p
}

// Load reads a persisted index, relocates it (copy-on-write, same
// discipline as bitmap.Load), and activates the bitmap slot at its
// persisted floor so the first Allocate call after Load has somewhere to
// search. It returns ok=false on exhaustion.
func Load(view *store.View, s *store.PageStore, filter Filter) (*Page, bool) {
	oldPageID := view.PageID()
	firstManagedPageID := view.GetU32(8)
	currentBitmapCount := view.GetU16(12)
	firstFreeBitmapIdx := view.GetU16(14)

	p := &Page{
		pageID:             noPageID,
		firstManagedPageID: firstManagedPageID,
		currentBitmapCount: currentBitmapCount,
		currentBitmapIdx:   firstFreeBitmapIdx,
		firstFreeBitmapIdx: firstFreeBitmapIdx,
		dirtyBitmaps:       map[uint16]*bitmap.Page{},
	}
	copy(p.buffer[:], view.Content())

	if !p.activateNextBitmap(s, firstFreeBitmapIdx, filter) {
		return nil, false
	}

	newPageID, ok := p.Allocate(s, filter)
	if !ok {
		return nil, false
	}
	p.pageID = newPageID

	if !p.Free(oldPageID, s, filter) {
		return nil, false
	}
	return p, true
}

// PageID returns the index's current on-disk location.
func (p *Page) PageID() uint32 { return p.pageID }

// FirstManagedPageID returns the smallest page id this index's bitmaps
// collectively cover.
func (p *Page) FirstManagedPageID() uint32 { return p.firstManagedPageID }

// Persist writes out every bitmap touched since Load/Grow, then the index
// page itself.
func (p *Page) Persist(s *store.PageStore) error {
	for _, bm := range p.dirtyBitmaps {
		if err := bm.Persist(s); err != nil {
			return err
		}
	}
	p.updateHeader()
	return s.WritePage(p.pageID, p.buffer[:])
}

func (p *Page) updateHeader() {
	page.PutU32(p.buffer[:], 0, p.pageID)
	page.PutU32(p.buffer[:], 4, uint32(page.TypeIndex))
	page.PutU32(p.buffer[:], 8, p.firstManagedPageID)
	page.PutU16(p.buffer[:], 12, p.currentBitmapCount)
	page.PutU16(p.buffer[:], 14, p.firstFreeBitmapIdx)
}

// activateNextBitmap tries, in order starting at startIdx, to load the
// bitmap recorded at each slot until one of them satisfies filter for at
// least two free pages (its own relocation and a reservation for next
// time). It grows a brand-new bitmap slot once every existing slot has
// been tried and failed.
func (p *Page) activateNextBitmap(s *store.PageStore, startIdx uint16, filter Filter) bool {
	content := p.buffer[headerSize:]
	for idx := startIdx; idx < p.currentBitmapCount; idx++ {
		bitmapPageID := page.GetU32(content, int(idx)*8)

		view, err := s.ReadPage(bitmapPageID)
		if err != nil {
			continue
		}

		bm, ok := bitmap.Load(view, filter)
		if !ok {
			continue
		}

		freed := bm.Contains(bitmapPageID)
		p.update(bm)
		p.currentBitmapIdx = idx
		p.dirtyBitmaps[idx] = bm
		if !freed {
			if !p.Free(bitmapPageID, s, filter) {
				return false
			}
		}
		return true
	}

	return p.growNextBitmap()
}

func (p *Page) growNextBitmap() bool {
	if p.currentBitmapCount >= Capacity {
		return false
	}
	bm := bitmap.New(p.firstManagedPageID + uint32(p.currentBitmapCount)*bitmap.Capacity)
	p.update(bm)
	p.dirtyBitmaps[p.currentBitmapCount] = bm
	p.currentBitmapIdx = p.currentBitmapCount
	p.currentBitmapCount++
	return true
}

// Allocate hands out a page id from the currently active bitmap slot,
// activating and growing further slots as each fills up. It returns
// ok=false once every slot (existing and growable) is exhausted.
func (p *Page) Allocate(s *store.PageStore, filter Filter) (uint32, bool) {
	for {
		bm := p.dirtyBitmaps[p.currentBitmapIdx]
		result, ok := bm.Allocate(filter)
		p.updateBitmapData(p.currentBitmapIdx, bm.PageID(), bm.FreePageCount())
		if ok {
			return result, true
		}
		if !p.activateNextBitmap(s, p.currentBitmapIdx+1, filter) {
			return 0, false
		}
	}
}

// Free clears pageID's bit in whichever bitmap manages it, loading and
// relocating that bitmap first if it is not already resident. It returns
// false if pageID lies outside every slot this index currently covers.
func (p *Page) Free(pageID uint32, s *store.PageStore, filter Filter) bool {
	if pageID < p.firstManagedPageID ||
		(pageID-p.firstManagedPageID)/bitmap.Capacity >= uint32(p.currentBitmapCount) {
		return false
	}
	if result, handled := p.freeDirty(pageID); handled {
		return result
	}
	return p.freeUnloaded(pageID, s, filter)
}

func (p *Page) freeDirty(pageID uint32) (result bool, handled bool) {
	idx := uint16((pageID - p.firstManagedPageID) / bitmap.Capacity)
	bm, present := p.dirtyBitmaps[idx]
	if !present {
		return false, false
	}
	result = bm.Free(pageID)
	p.updateBitmapData(idx, bm.PageID(), bm.FreePageCount())
	return result, true
}

func (p *Page) freeUnloaded(pageID uint32, s *store.PageStore, filter Filter) bool {
	newBitmapPageID, ok := p.Allocate(s, filter)
	if !ok {
		return false
	}

	bitmapIdx := uint16((pageID - p.firstManagedPageID) / bitmap.Capacity)
	oldBitmapPageID := page.GetU32(p.buffer[headerSize:], int(bitmapIdx)*8)

	view, err := s.ReadPage(oldBitmapPageID)
	if err != nil {
		return false
	}

	bm := bitmap.LoadInto(view, newBitmapPageID)
	result := bm.Free(pageID)
	p.update(bm)
	p.dirtyBitmaps[bitmapIdx] = bm
	return result
}

func (p *Page) update(bm *bitmap.Page) {
	idx := uint16((bm.FirstManagedPageID() - p.firstManagedPageID) / bitmap.Capacity)
	p.updateBitmapData(idx, bm.PageID(), bm.FreePageCount())
}

func (p *Page) updateBitmapData(idx uint16, pageID uint32, freePageCount uint16) {
	offset := headerSize + int(idx)*8
	page.PutU32(p.buffer[:], offset, pageID)
	page.PutU32(p.buffer[:], offset+4, uint32(freePageCount))

	if idx < p.firstFreeBitmapIdx && freePageCount > 0 {
		p.firstFreeBitmapIdx = idx
	} else if idx == p.firstFreeBitmapIdx && freePageCount == 0 {
		for i := idx + 1; i < p.currentBitmapCount; i++ {
			count := page.GetU32(p.buffer[:], headerSize+int(i)*8+4)
			if count > 0 {
				p.firstFreeBitmapIdx = i
				return
			}
		}
		p.firstFreeBitmapIdx = p.currentBitmapCount
	}
}
