// Package dirent implements the DirectoryOps component: packing and
// unpacking the variable-length directory-entry stream held in a
// directory's data blocks, name lookup, path resolution, and the
// slack-splitting insert/tombstone-coalescing remove algorithms.
// Grounded on original_source/dir.c's ext2_add_child (insert) and
// ext2_find_child (lookup), generalized from dir.c's single-block
// assumption: insert allocates a new block once the directory's last
// block has no room; slack in earlier blocks is not reused.
package dirent

import (
	"encoding/binary"

	"github.com/nullsector/ext2fs/pkg/bitmap"
	"github.com/nullsector/ext2fs/pkg/blockmap"
	"github.com/nullsector/ext2fs/pkg/buffer"
	"github.com/nullsector/ext2fs/pkg/ext2"
	"github.com/nullsector/ext2fs/pkg/inodetbl"
)

const entryHeaderLen = 8

// Ops operates on the directory data blocks of a mounted file-system.
type Ops struct {
	buf    *buffer.Layer
	blocks *blockmap.Map
	alloc  *bitmap.Allocator
	inodes *inodetbl.Table
}

// New returns directory operations over the given layers.
func New(buf *buffer.Layer, blocks *blockmap.Map, alloc *bitmap.Allocator, inodes *inodetbl.Table) *Ops {
	return &Ops{buf: buf, blocks: blocks, alloc: alloc, inodes: inodes}
}

// entry is a decoded view of one directory-entry slot, with its byte
// offset within the block it was read from.
type entry struct {
	offset   int
	ino      uint32
	recLen   int
	nameLen  int
	fileType uint8
	name     string
}

func decodeEntry(data []byte, offset int) entry {
	ino := binary.LittleEndian.Uint32(data[offset:])
	recLen := int(binary.LittleEndian.Uint16(data[offset+4:]))
	nameLen := int(data[offset+6])
	fileType := data[offset+7]
	name := string(data[offset+entryHeaderLen : offset+entryHeaderLen+nameLen])
	return entry{offset: offset, ino: ino, recLen: recLen, nameLen: nameLen, fileType: fileType, name: name}
}

func encodeEntry(data []byte, e entry) {
	binary.LittleEndian.PutUint32(data[e.offset:], e.ino)
	binary.LittleEndian.PutUint16(data[e.offset+4:], uint16(e.recLen))
	data[e.offset+6] = byte(e.nameLen)
	data[e.offset+7] = e.fileType
	copy(data[e.offset+entryHeaderLen:e.offset+entryHeaderLen+e.nameLen], e.name)
}

func walkBlock(data []byte, fn func(e entry) (stop bool)) {
	offset := 0
	size := len(data)
	for offset < size {
		e := decodeEntry(data, offset)
		if e.recLen == 0 {
			return
		}
		if fn(e) {
			return
		}
		offset += e.recLen
	}
}

func (o *Ops) blockCount(in *ext2.Inode) uint32 {
	return uint32(in.BlockCount(o.buf.BlockSize()))
}

// Lookup walks dirIno's data blocks in order, returning the inode
// number of the first non-tombstone entry whose name matches exactly.
func (o *Ops) Lookup(dirIno uint32, name string) (uint32, error) {
	in, err := o.inodes.Read(dirIno)
	if err != nil {
		return 0, err
	}

	n := o.blockCount(in)
	for b := uint32(0); b < n; b++ {
		physical, err := o.blocks.Resolve(in, b)
		if err != nil {
			return 0, err
		}
		h, err := o.buf.Get(physical)
		if err != nil {
			return 0, err
		}

		var found uint32
		walkBlock(h.Data, func(e entry) bool {
			if e.ino != 0 && e.name == name {
				found = e.ino
				return true
			}
			return false
		})
		if found != 0 {
			return found, nil
		}
	}
	return 0, ext2.ErrNotFound
}

// Insert adds a new (name, childIno) entry of the given file-type to
// dirIno, per spec.md §4.7: reuse trailing slack in the last data
// block if any entry there has it, otherwise allocate a fresh data
// block sized to hold exactly one full-block entry. hintGroup seeds
// the allocator's first-fit scan when a new block is required.
func (o *Ops) Insert(dirIno uint32, name string, childIno uint32, fileType uint8, hintGroup uint32) error {
	in, err := o.inodes.Read(dirIno)
	if err != nil {
		return err
	}

	n := o.blockCount(in)
	need := ext2.MinDirEntLen(len(name))

	for b := uint32(0); b < n; b++ {
		physical, err := o.blocks.Resolve(in, b)
		if err != nil {
			return err
		}
		h, err := o.buf.Get(physical)
		if err != nil {
			return err
		}

		var conflict error
		walkBlock(h.Data, func(e entry) bool {
			if e.ino == 0 {
				return false
			}
			if e.name == name {
				conflict = ext2.ErrNameExists
				return true
			}
			if e.ino == childIno {
				conflict = ext2.ErrDuplicateInode
				return true
			}
			return false
		})
		if conflict != nil {
			return conflict
		}
	}

	blockSize := int(o.buf.BlockSize())

	for b := uint32(0); b < n; b++ {
		if b != n-1 {
			continue
		}
		physical, err := o.blocks.Resolve(in, b)
		if err != nil {
			return err
		}
		h, err := o.buf.Get(physical)
		if err != nil {
			return err
		}

		placed := false
		walkBlock(h.Data, func(e entry) bool {
			if e.ino == 0 {
				return false
			}
			minimal := ext2.MinDirEntLen(e.nameLen)
			slack := e.recLen - minimal
			if slack < need {
				return false
			}
			e.recLen = minimal
			encodeEntry(h.Data, e)

			newEntry := entry{
				offset:   e.offset + minimal,
				ino:      childIno,
				recLen:   slack,
				nameLen:  len(name),
				fileType: fileType,
				name:     name,
			}
			encodeEntry(h.Data, newEntry)
			placed = true
			return true
		})

		if placed {
			h.MarkDirty()
			return h.Release()
		}
	}

	blk, err := o.alloc.AllocBlock(hintGroup)
	if err != nil {
		return err
	}
	if err := o.blocks.Assign(in, n, blk); err != nil {
		return err
	}

	h, err := o.buf.Get(blk)
	if err != nil {
		return err
	}
	for i := range h.Data {
		h.Data[i] = 0
	}
	encodeEntry(h.Data, entry{
		offset:   0,
		ino:      childIno,
		recLen:   blockSize,
		nameLen:  len(name),
		fileType: fileType,
		name:     name,
	})
	h.MarkDirty()
	if err := h.Release(); err != nil {
		return err
	}

	in.SetSize(int64(n+1) * int64(blockSize))
	return o.inodes.Write(dirIno, in)
}

// Remove tombstones the matching entry (inode = 0) and coalesces it
// into the preceding entry of the same block by growing that entry's
// rec_len. An entry with no predecessor (the block's first entry) is
// left as a bare tombstone.
func (o *Ops) Remove(dirIno uint32, name string) error {
	in, err := o.inodes.Read(dirIno)
	if err != nil {
		return err
	}

	n := o.blockCount(in)
	for b := uint32(0); b < n; b++ {
		physical, err := o.blocks.Resolve(in, b)
		if err != nil {
			return err
		}
		h, err := o.buf.Get(physical)
		if err != nil {
			return err
		}

		var prevOffset = -1
		var matchOffset = -1
		var matchRecLen int
		walkBlock(h.Data, func(e entry) bool {
			if e.ino != 0 && e.name == name {
				matchOffset = e.offset
				matchRecLen = e.recLen
				return true
			}
			prevOffset = e.offset
			return false
		})

		if matchOffset < 0 {
			continue
		}

		if prevOffset >= 0 {
			prev := decodeEntry(h.Data, prevOffset)
			prev.recLen += matchRecLen
			encodeEntry(h.Data, prev)
		} else {
			match := decodeEntry(h.Data, matchOffset)
			match.ino = 0
			encodeEntry(h.Data, match)
		}

		h.MarkDirty()
		return h.Release()
	}

	return ext2.ErrNotFound
}

// InitDir writes the initial data block of a freshly created directory
// inode, containing only "." and ".." entries spanning the whole
// block, then updates the inode's size and block pointer. Both
// original ext2_create_dir (which omitted these entries) and the
// resulting missing-dot-entries behavior are fixed here by always
// writing them.
func (o *Ops) InitDir(in *ext2.Inode, selfIno, parentIno uint32, hintGroup uint32) error {
	blk, err := o.alloc.AllocBlock(hintGroup)
	if err != nil {
		return err
	}
	if err := o.blocks.Assign(in, 0, blk); err != nil {
		return err
	}

	h, err := o.buf.Get(blk)
	if err != nil {
		return err
	}
	for i := range h.Data {
		h.Data[i] = 0
	}

	dotLen := ext2.MinDirEntLen(1)
	dotdotLen := int(o.buf.BlockSize()) - dotLen

	encodeEntry(h.Data, entry{offset: 0, ino: selfIno, recLen: dotLen, nameLen: 1, fileType: ext2.FileTypeDir, name: "."})
	encodeEntry(h.Data, entry{offset: dotLen, ino: parentIno, recLen: dotdotLen, nameLen: 2, fileType: ext2.FileTypeDir, name: ".."})

	h.MarkDirty()
	if err := h.Release(); err != nil {
		return err
	}

	in.SetSize(int64(o.buf.BlockSize()))
	return nil
}

// PathResolve splits path on "/" and applies Lookup component by
// component starting from the root inode.
func (o *Ops) PathResolve(path string) (uint32, error) {
	ino := uint32(ext2.RootInode)

	start := 0
	for start <= len(path) {
		end := start
		for end < len(path) && path[end] != '/' {
			end++
		}
		component := path[start:end]
		if component != "" {
			next, err := o.Lookup(ino, component)
			if err != nil {
				return 0, err
			}
			ino = next
		}
		start = end + 1
	}
	return ino, nil
}
