package palloc

import (
	"github.com/sirupsen/logrus"

	"github.com/tryge/embedb/internal/bitmap"
	"github.com/tryge/embedb/internal/index"
	"github.com/tryge/embedb/internal/page"
	"github.com/tryge/embedb/internal/store"
)

// Allocator is the top-level allocate/free/persist/load contract: a single
// BitmapPage until its range fills up, then an IndexPage aggregating many.
// Which of the two is active, and at what page id, is the allocator's own
// concern; a caller that needs to find the allocator again after a reopen
// must record RootPageID() somewhere of its own (a superblock page, most
// naturally) and pass it back to Load.
type Allocator struct {
	store  *store.PageStore
	bitmap *bitmap.Page
	index  *index.Page
	log    *logrus.Entry
}

// New bootstraps a fresh allocator as a single BitmapPage managing pages
// starting at firstManagedPageID.
func New(s *store.PageStore, firstManagedPageID uint32) *Allocator {
	return &Allocator{
		store:  s,
		bitmap: bitmap.New(firstManagedPageID),
		log:    logrus.WithField("component", "allocator"),
	}
}

// Load reads the page at rootPageID, determines from its type tag whether
// it is a lone BitmapPage or an IndexPage, relocates it accordingly, and
// returns the resulting Allocator. It reports ok=false on exhaustion (no
// pair of free slots available for the relocation) or a store error.
func Load(s *store.PageStore, rootPageID uint32, filter Filter) (*Allocator, bool) {
	view, err := s.ReadPage(rootPageID)
	if err != nil {
		return nil, false
	}

	a := &Allocator{store: s, log: logrus.WithField("component", "allocator")}

	switch page.Type(view.PageType()) {
	case page.TypeIndex:
		idx, ok := index.Load(view, s, filter)
		if !ok {
			return nil, false
		}
		a.index = idx
	default: // bitmap
		bm, ok := bitmap.Load(view, filter)
		if !ok {
			return nil, false
		}
		a.bitmap = bm
	}
	return a, true
}

// RootPageID returns the page id a caller must remember in order to Load
// this allocator again later: the current bitmap's location, or the
// current index's location once one exists.
func (a *Allocator) RootPageID() uint32 {
	if a.index != nil {
		return a.index.PageID()
	}
	return a.bitmap.PageID()
}

// Allocate hands out a filter-admissible free page id, growing from a lone
// bitmap into an IndexPage the first time the bitmap itself is exhausted.
func (a *Allocator) Allocate(filter Filter) (uint32, bool) {
	if a.index != nil {
		return a.index.Allocate(a.store, filter)
	}

	id, ok := a.bitmap.Allocate(filter)
	if ok {
		return id, true
	}

	a.log.Debug("single bitmap exhausted, growing index page")
	a.index = index.Grow(a.bitmap)
	a.bitmap = nil
	return a.index.Allocate(a.store, filter)
}

// Free marks pageID free again. It returns false if pageID falls outside
// every range this allocator manages, or (once an index exists) if freeing
// it required a relocation that itself ran out of free slots.
func (a *Allocator) Free(pageID uint32, filter Filter) bool {
	if a.index != nil {
		return a.index.Free(pageID, a.store, filter)
	}
	return a.bitmap.Free(pageID)
}

// Persist writes every page this allocator has touched (the single bitmap,
// or the index and every bitmap it has dirtied) to the store.
func (a *Allocator) Persist() error {
	if a.index != nil {
		return a.index.Persist(a.store)
	}
	return a.bitmap.Persist(a.store)
}
