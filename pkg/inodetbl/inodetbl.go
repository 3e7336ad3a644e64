// Package inodetbl implements the InodeTable component: locating,
// reading, and writing fixed-size inode records, and driving inode
// allocation/free through the bitmap allocator. Grounded on
// original_source/file.c's ext2_touch_file (create) and the
// commented-out ext2_remove_link (free semantics), translated to use
// this module's buffer/bitmap layers instead of direct malloc'd blocks.
package inodetbl

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/nullsector/ext2fs/pkg/bitmap"
	"github.com/nullsector/ext2fs/pkg/buffer"
	"github.com/nullsector/ext2fs/pkg/ext2"
)

// BlockFreer is the subset of BlockMap that Table.RemoveLink needs to
// release a file's data blocks. It is expressed as an interface here so
// that inodetbl does not import blockmap; ext2fs composes both and
// passes its *blockmap.Map.
type BlockFreer interface {
	FreeAll(inode *ext2.Inode) error
}

// Table is the inode table for a mounted file-system.
type Table struct {
	buf    *buffer.Layer
	alloc  *bitmap.Allocator
	sb     *ext2.Superblock
	groups []ext2.GroupDescriptor
}

// New returns a Table over the given mounted mirrors.
func New(buf *buffer.Layer, alloc *bitmap.Allocator, sb *ext2.Superblock, groups []ext2.GroupDescriptor) *Table {
	return &Table{buf: buf, alloc: alloc, sb: sb, groups: groups}
}

func (t *Table) locate(ino uint32) (group uint32, blockWithinTable uint32, offset uint32, err error) {
	if ino == 0 {
		return 0, 0, 0, ext2.ErrCorruptMetadata
	}
	group, index := ext2.InodeGroupIndex(ino, t.sb.InodesPerGroup)
	if int(group) >= len(t.groups) {
		return 0, 0, 0, ext2.ErrCorruptMetadata
	}
	blockWithinTable, offset = ext2.InodeTableOffset(index, t.sb.BlockSize())
	return group, blockWithinTable, offset, nil
}

// Read derives the inode's table location and decodes its 128-byte
// record.
func (t *Table) Read(ino uint32) (*ext2.Inode, error) {
	group, blockWithinTable, offset, err := t.locate(ino)
	if err != nil {
		return nil, err
	}

	block := t.groups[group].InodeTable + blockWithinTable
	h, err := t.buf.Get(block)
	if err != nil {
		return nil, err
	}

	in := &ext2.Inode{}
	r := bytes.NewReader(h.Data[offset : offset+ext2.InodeSize])
	if err := binary.Read(r, binary.LittleEndian, in); err != nil {
		return nil, errors.Wrap(err, "inodetbl: decode inode")
	}
	return in, nil
}

// Write encodes inode and writes it back to its table slot.
func (t *Table) Write(ino uint32, in *ext2.Inode) error {
	group, blockWithinTable, offset, err := t.locate(ino)
	if err != nil {
		return err
	}

	block := t.groups[group].InodeTable + blockWithinTable
	h, err := t.buf.Get(block)
	if err != nil {
		return err
	}

	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, in); err != nil {
		return errors.Wrap(err, "inodetbl: encode inode")
	}
	copy(h.Data[offset:offset+ext2.InodeSize], b.Bytes())

	h.MarkDirty()
	return h.Release()
}

// Create allocates a fresh inode, initializes it per spec, and writes
// it to the table. mode carries both the permission bits and, already
// OR'd in by the caller, the file-type bits (ext2.ModeRegular etc).
func (t *Table) Create(isDir bool, mode uint16, now uint32) (uint32, *ext2.Inode, error) {
	ino, err := t.alloc.AllocInode(isDir)
	if err != nil {
		return 0, nil, err
	}

	in := &ext2.Inode{
		Mode:       mode,
		LinksCount: 1,
		AccessTime: now,
		CreateTime: now,
		ModifyTime: now,
		DeleteTime: 0,
	}

	if err := t.Write(ino, in); err != nil {
		return 0, nil, err
	}
	return ino, in, nil
}

// AddLink increments the inode's link count.
func (t *Table) AddLink(ino uint32) error {
	in, err := t.Read(ino)
	if err != nil {
		return err
	}
	in.LinksCount++
	return t.Write(ino, in)
}

// RemoveLink decrements the inode's link count. If it reaches zero, the
// inode's data blocks (and indirect block, if any) are freed via
// blocks, its block pointers, sector count and size are zeroed, dtime
// is stamped, and the inode bit is released; mode, owner and the other
// timestamps are left as they were.
func (t *Table) RemoveLink(ino uint32, blocks BlockFreer, now uint32) error {
	in, err := t.Read(ino)
	if err != nil {
		return err
	}

	if in.LinksCount > 1 {
		in.LinksCount--
		return t.Write(ino, in)
	}

	if err := blocks.FreeAll(in); err != nil {
		return err
	}

	for i := range in.Block {
		in.Block[i] = 0
	}
	in.LinksCount = 0
	in.Sectors = 0
	in.SetSize(0)
	in.DeleteTime = now

	if err := t.alloc.FreeInode(ino); err != nil {
		return err
	}
	return t.Write(ino, in)
}
