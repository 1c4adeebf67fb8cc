// Package page holds the constants and little-endian wire helpers shared by
// every structured page kind the allocator writes: the 4096-byte page size,
// the 16-byte common header, and the page type tags from the header's
// bytes 4-7.
package page

import "encoding/binary"

// Size is the fixed size, in bytes, of every page in the store.
const Size = 4096

// HeaderSize is the length of the header common to every structured page:
// page id (4 bytes), page type (4 bytes), and 8 bytes of type-specific data.
const HeaderSize = 16

// Type identifies the kind of structured page a given page holds, taken
// from the header's bytes 4-7.
type Type uint32

const (
	// TypeBitmap marks a page whose payload is a BitmapPage.
	TypeBitmap Type = 1
	// TypeIndex marks a page whose payload is an IndexPage.
	TypeIndex Type = 2
)

// PutU16 writes v as little-endian at offset off in buf.
func PutU16(buf []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(buf[off:off+2], v)
}

// PutU32 writes v as little-endian at offset off in buf.
func PutU32(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}

// GetU16 reads a little-endian u16 at offset off in buf.
func GetU16(buf []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(buf[off : off+2])
}

// GetU32 reads a little-endian u32 at offset off in buf.
func GetU32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off : off+4])
}
