// Package buffer implements the read-through/write-through buffer layer
// that sits between the raw block device and every structure-aware
// layer above it (bitmaps, inode table, directory data). It mirrors
// original_source/buffer.c's buffer_read/buffer_write/
// buffer_read_superblock, translated into borrow/release handles rather
// than C's malloc'd buffer* records.
package buffer

import (
	"github.com/pkg/errors"

	"github.com/nullsector/ext2fs/pkg/blockdev"
	"github.com/nullsector/ext2fs/pkg/ext2"
)

// Flag bits carried by a Handle. BUSY is reserved for a future locking
// layer (spec.md §5) and is never set by this package.
const (
	FlagValid = 1 << iota
	FlagDirty
	FlagBusy
)

// Handle is a borrowed view onto one logical block's bytes. The holder
// may read or write Data directly; MarkDirty + Flush (or Release, which
// flushes automatically if dirty) are required before the block number
// can be reused by a later Get.
type Handle struct {
	layer *Layer
	Block uint32
	Data  []byte
	Flags int
	super bool // true if this handle is the fixed-offset superblock buffer
}

// MarkDirty flags the handle as modified. It must be called before
// Flush/Release for writes to reach the device.
func (h *Handle) MarkDirty() {
	h.Flags |= FlagDirty
}

// Flush writes Data back to the device immediately if the handle is
// dirty, then clears the dirty flag. Safe to call on a clean handle
// (no-op).
func (h *Handle) Flush() error {
	if h.Flags&FlagDirty == 0 {
		return nil
	}

	offset := h.layer.superblockOffset
	if !h.super {
		offset = int64(h.Block) * int64(h.layer.blockSize)
	}

	if err := h.layer.dev.WriteAt(h.Data, offset); err != nil {
		return errors.Wrapf(err, "buffer: flush block %d", h.Block)
	}
	h.Flags &^= FlagDirty
	return nil
}

// Release flushes the handle if dirty and returns it to the layer.
// Every handle obtained from Get must eventually be released (spec.md
// §5): acquiring the same block twice without releasing is undefined.
func (h *Handle) Release() error {
	return h.Flush()
}

// Layer is the buffer layer itself. The reference policy (spec.md
// §4.2) is "no caching": every Get re-reads from the device and every
// Flush writes straight through, which keeps single-owner semantics
// trivially correct without an invalidation story.
type Layer struct {
	dev               blockdev.Device
	blockSize         uint32
	superblockOffset  int64
}

// New returns a buffer layer over dev using the given file-system block
// size.
func New(dev blockdev.Device, blockSize uint32) *Layer {
	return &Layer{dev: dev, blockSize: blockSize, superblockOffset: ext2.SuperblockOffset}
}

// Get borrows the buffer for logical block number block, always
// reflecting the latest on-disk (or previously flushed) content.
func (l *Layer) Get(block uint32) (*Handle, error) {
	data := make([]byte, l.blockSize)
	offset := int64(block) * int64(l.blockSize)
	if err := l.dev.ReadAt(data, offset); err != nil {
		return nil, errors.Wrapf(err, "buffer: get block %d", block)
	}
	return &Handle{layer: l, Block: block, Data: data, Flags: FlagValid}, nil
}

// GetSuperblock borrows the special fixed-offset superblock buffer: it
// always lives at byte offset 1024 regardless of the file-system's
// block size (spec.md §4.2).
func (l *Layer) GetSuperblock() (*Handle, error) {
	data := make([]byte, ext2.SuperblockSize)
	if err := l.dev.ReadAt(data, l.superblockOffset); err != nil {
		return nil, errors.Wrap(err, "buffer: get superblock")
	}
	return &Handle{layer: l, Data: data, Flags: FlagValid, super: true}, nil
}

// BlockSize returns the block size this layer was constructed with.
func (l *Layer) BlockSize() uint32 {
	return l.blockSize
}
