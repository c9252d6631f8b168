// Package asm provides the append-only byte sink that JIT-emitted machine
// code is written into. It knows nothing about x86-64 — the encoder in
// internal/x64 is the only writer of interesting bytes.
package asm

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/janweinstock/ftl/internal/platform"
)

// CodeBuffer is a contiguous, growable region of memory that instructions
// are appended into and later executed from. Bytes in [0, Cursor()) are
// immutable once written except through Patch, which is used to resolve
// label fixups.
type CodeBuffer struct {
	region *platform.Region
	cursor int
}

// NewCodeBuffer allocates a buffer with room for at least capacity bytes.
func NewCodeBuffer(capacity int) (*CodeBuffer, error) {
	r, err := platform.Alloc(capacity)
	if err != nil {
		return nil, err
	}
	return &CodeBuffer{region: r}, nil
}

// Cursor returns the offset of the next byte that will be written.
func (b *CodeBuffer) Cursor() int {
	return b.cursor
}

// Len is an alias for Cursor, the number of bytes written so far.
func (b *CodeBuffer) Len() int {
	return b.cursor
}

// Cap returns the current capacity of the backing mapping.
func (b *CodeBuffer) Cap() int {
	return b.region.Len()
}

func (b *CodeBuffer) ensure(n int) error {
	if b.cursor+n <= b.region.Len() {
		return nil
	}
	if err := b.region.MakeWritable(); err != nil {
		return err
	}
	newCap := b.region.Len()
	if newCap == 0 {
		newCap = 4096
	}
	for newCap < b.cursor+n {
		newCap *= 2
	}
	grown, err := platform.Alloc(newCap)
	if err != nil {
		return fmt.Errorf("asm: grow buffer to %d bytes: %w", newCap, err)
	}
	copy(grown.Bytes(), b.region.Bytes()[:b.cursor])
	if err := b.region.Free(); err != nil {
		return err
	}
	b.region = grown
	return nil
}

// WriteByte appends a single byte, advancing the cursor.
func (b *CodeBuffer) WriteByte(v byte) error {
	if err := b.ensure(1); err != nil {
		return err
	}
	b.region.Bytes()[b.cursor] = v
	b.cursor++
	return nil
}

// Write appends bs, advancing the cursor by len(bs).
func (b *CodeBuffer) Write(bs []byte) error {
	if err := b.ensure(len(bs)); err != nil {
		return err
	}
	copy(b.region.Bytes()[b.cursor:], bs)
	b.cursor += len(bs)
	return nil
}

// WriteUint16LE appends v little-endian.
func (b *CodeBuffer) WriteUint16LE(v uint16) error {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return b.Write(tmp[:])
}

// WriteUint32LE appends v little-endian.
func (b *CodeBuffer) WriteUint32LE(v uint32) error {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return b.Write(tmp[:])
}

// WriteUint64LE appends v little-endian.
func (b *CodeBuffer) WriteUint64LE(v uint64) error {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return b.Write(tmp[:])
}

// Patch overwrites the width bytes starting at off with the little-endian
// encoding of v. off+width must already have been written.
func (b *CodeBuffer) Patch(off int, width int, v int64) error {
	if off < 0 || off+width > b.cursor {
		return fmt.Errorf("asm: patch [%d,%d) out of written range [0,%d)", off, off+width, b.cursor)
	}
	dst := b.region.Bytes()[off : off+width]
	switch width {
	case 1:
		dst[0] = byte(v)
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v)))
	default:
		return fmt.Errorf("asm: unsupported patch width %d", width)
	}
	return nil
}

// Bytes returns the written prefix of the buffer. The slice aliases the
// backing mapping and is only valid until the next write that grows the
// buffer.
func (b *CodeBuffer) Bytes() []byte {
	return b.region.Bytes()[:b.cursor]
}

// Entry returns a pointer to the first byte of the buffer, used as a
// function entry point once the region has been finalized executable.
func (b *CodeBuffer) Entry() uintptr {
	bs := b.region.Bytes()
	if len(bs) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&bs[0]))
}

// Finalize makes the underlying region executable. No further Write calls
// are permitted until MakeWritable is called again (done transparently by
// ensure on the next write that grows the buffer).
func (b *CodeBuffer) Finalize() error {
	return b.region.MakeExecutable()
}

// Free releases the backing memory. The buffer must not be used afterward.
func (b *CodeBuffer) Free() error {
	return b.region.Free()
}
