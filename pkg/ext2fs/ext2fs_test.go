package ext2fs

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullsector/ext2fs/pkg/blockdev"
	"github.com/nullsector/ext2fs/pkg/ext2"
)

func ceilDivTest(a, b uint32) uint32 {
	return (a + b - 1) / b
}

func setBitTest(bitmap []byte, bit int) {
	bitmap[bit/8] |= 1 << uint(bit%8)
}

func logBlockSizeFor(blockSize uint32) uint32 {
	n := uint32(0)
	for v := blockSize; v > 1024; v >>= 1 {
		n++
	}
	return n
}

func encodeEntryTest(data []byte, offset int, ino uint32, recLen int, nameLen int, fileType uint8, name string) {
	binary.LittleEndian.PutUint32(data[offset:], ino)
	binary.LittleEndian.PutUint16(data[offset+4:], uint16(recLen))
	data[offset+6] = byte(nameLen)
	data[offset+7] = fileType
	copy(data[offset+8:offset+8+nameLen], name)
}

// buildImage constructs a minimal single-group ext2 image: superblock,
// group descriptor table, block/inode bitmaps, an inode table, and a
// root directory whose first data block already holds "." and "..".
// extraDataBlocks is the number of additional free blocks left over
// for the test to allocate from.
func buildImage(t *testing.T, blockSize, extraDataBlocks, inodesCount uint32) *blockdev.Memory {
	t.Helper()

	firstDataBlock := uint32(0)
	if blockSize == 1024 {
		firstDataBlock = 1
	}
	bgdtBlock := firstDataBlock + 1
	blockBitmapBlock := bgdtBlock + 1
	inodeBitmapBlock := blockBitmapBlock + 1
	inodeTableBlocks := ceilDivTest(inodesCount*ext2.InodeSize, blockSize)
	inodeTableStart := inodeBitmapBlock + 1
	dataStart := inodeTableStart + inodeTableBlocks
	rootBlock := dataStart
	totalBlocks := dataStart + 1 + extraDataBlocks

	// Block numbers are 1-based (bit i of the bitmap allocates block
	// i+1) while addressed on the device as a direct 0-based multiple
	// of blockSize, so the device must hold one extra block beyond
	// totalBlocks to make the highest allocatable block number
	// addressable.
	dev := blockdev.NewMemory(int64(totalBlocks+1) * int64(blockSize))

	blockBitmap := make([]byte, blockSize)
	for b := uint32(1); b <= rootBlock; b++ {
		setBitTest(blockBitmap, int(b-1))
	}
	freeBlocks := totalBlocks - rootBlock
	require.NoError(t, dev.WriteAt(blockBitmap, int64(blockBitmapBlock)*int64(blockSize)))

	// Inodes 1-11 are reserved (root is inode 2, already within that
	// range); the first inode available for file creation is 12,
	// matching the reference end-to-end scenario.
	const reservedInodes = 11
	inodeBitmap := make([]byte, blockSize)
	for i := 0; i < reservedInodes; i++ {
		setBitTest(inodeBitmap, i)
	}
	freeInodes := inodesCount - reservedInodes
	require.NoError(t, dev.WriteAt(inodeBitmap, int64(inodeBitmapBlock)*int64(blockSize)))

	rootInode := ext2.Inode{
		Mode:       ext2.ModeDirectory | 0755,
		LinksCount: 2,
		Sectors:    blockSize / ext2.SectorSize,
	}
	rootInode.Block[0] = rootBlock
	rootInode.SetSize(int64(blockSize))

	_, idx := ext2.InodeGroupIndex(ext2.RootInode, inodesCount)
	blockWithin, offset := ext2.InodeTableOffset(idx, blockSize)
	inodeBlockBuf := make([]byte, blockSize)
	var inodeEnc bytes.Buffer
	require.NoError(t, binary.Write(&inodeEnc, binary.LittleEndian, &rootInode))
	copy(inodeBlockBuf[offset:], inodeEnc.Bytes())
	require.NoError(t, dev.WriteAt(inodeBlockBuf, int64(inodeTableStart+blockWithin)*int64(blockSize)))

	dirBlock := make([]byte, blockSize)
	dotLen := ext2.MinDirEntLen(1)
	dotdotLen := int(blockSize) - dotLen
	encodeEntryTest(dirBlock, 0, ext2.RootInode, dotLen, 1, ext2.FileTypeDir, ".")
	encodeEntryTest(dirBlock, dotLen, ext2.RootInode, dotdotLen, 2, ext2.FileTypeDir, "..")
	require.NoError(t, dev.WriteAt(dirBlock, int64(rootBlock)*int64(blockSize)))

	sb := ext2.Superblock{
		InodesCount:     inodesCount,
		BlocksCount:     totalBlocks,
		FreeBlocksCount: freeBlocks,
		FreeInodesCount: freeInodes,
		FirstDataBlock:  firstDataBlock,
		LogBlockSize:    logBlockSizeFor(blockSize),
		BlocksPerGroup:  totalBlocks,
		FragsPerGroup:   totalBlocks,
		InodesPerGroup:  inodesCount,
		Magic:           ext2.Signature,
	}
	var sbBuf bytes.Buffer
	require.NoError(t, binary.Write(&sbBuf, binary.LittleEndian, &sb))
	require.NoError(t, dev.WriteAt(sbBuf.Bytes(), ext2.SuperblockOffset))

	gd := ext2.GroupDescriptor{
		BlockBitmap: blockBitmapBlock,
		InodeBitmap: inodeBitmapBlock,
		InodeTable:  inodeTableStart,
		FreeBlocks:  uint16(freeBlocks),
		FreeInodes:  uint16(freeInodes),
		UsedDirs:    1,
	}
	var gdBuf bytes.Buffer
	require.NoError(t, binary.Write(&gdBuf, binary.LittleEndian, &gd))
	require.NoError(t, dev.WriteAt(gdBuf.Bytes(), int64(bgdtBlock)*int64(blockSize)))

	return dev
}

func mountTest(t *testing.T, dev *blockdev.Memory) *Filesystem {
	t.Helper()
	fs, err := Mount(dev, WithClock(func() uint32 { return 1000 }))
	require.NoError(t, err)
	return fs
}

func TestWriteFileReadFileRoundTrip(t *testing.T) {
	dev := buildImage(t, 1024, 64, 32)
	fs := mountTest(t, dev)

	ino, err := fs.WriteFile(ext2.RootInode, "hello.txt", []byte("hello\n"), 0o640)
	require.NoError(t, err)
	require.EqualValues(t, 12, ino)

	data, err := fs.ReadFile(ino)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))

	entries, err := fs.Ls(ext2.RootInode)
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if e.Name == "hello.txt" {
			found = true
			require.EqualValues(t, ino, e.Ino)
			require.EqualValues(t, ext2.FileTypeRegular, e.FileType)
			require.EqualValues(t, 6, e.Inode.Size())
		}
	}
	require.True(t, found)
}

func TestWriteFileTriggersIndirectBlock(t *testing.T) {
	dev := buildImage(t, 1024, 64, 32)
	fs := mountTest(t, dev)

	data := bytes.Repeat([]byte{'x'}, 13*1024)
	ino, err := fs.WriteFile(ext2.RootInode, "big.bin", data, 0o640)
	require.NoError(t, err)

	in, err := fs.ReadInode(ino)
	require.NoError(t, err)

	require.EqualValues(t, 13*2+2, in.Sectors)
	require.NotZero(t, in.Block[12])

	h, err := fs.buf.Get(in.Block[12])
	require.NoError(t, err)
	firstIndirect := binary.LittleEndian.Uint32(h.Data)
	require.Equal(t, firstIndirect, in.Block[12]-1)

	readBack, err := fs.ReadFile(ino)
	require.NoError(t, err)
	require.Equal(t, data, readBack)
}

// TestOverwriteFileShrinksPastIndirectBoundary covers the inode's
// single-indirect block itself being freed (not just its data blocks)
// when an overwrite shrinks a file back under the direct-pointer limit,
// and that Sectors is recomputed consistently with a fresh WriteFile of
// the same size.
func TestOverwriteFileShrinksPastIndirectBoundary(t *testing.T) {
	dev := buildImage(t, 1024, 64, 32)
	fs := mountTest(t, dev)

	big := bytes.Repeat([]byte{'x'}, 13*1024)
	ino, err := fs.WriteFile(ext2.RootInode, "big.bin", big, 0o640)
	require.NoError(t, err)

	in, err := fs.ReadInode(ino)
	require.NoError(t, err)
	indirectBlock := in.Block[12]
	require.NotZero(t, indirectBlock)

	freeBlocksBefore := fs.sb.FreeBlocksCount

	small := bytes.Repeat([]byte{'y'}, 5*1024)
	require.NoError(t, fs.OverwriteFile(ino, small))

	in, err = fs.ReadInode(ino)
	require.NoError(t, err)
	require.Zero(t, in.Block[12])
	require.EqualValues(t, 5*2, in.Sectors)

	// the 8 orphaned data blocks (direct indices 5-11 plus the single
	// indirect-mapped block at index 12) and the indirect block itself
	// are all returned to the allocator.
	require.Greater(t, fs.sb.FreeBlocksCount, freeBlocksBefore)

	readBack, err := fs.ReadFile(ino)
	require.NoError(t, err)
	require.Equal(t, small, readBack)
}

// TestOverwriteFileGrowsPastIndirectBoundaryMatchesWriteFile confirms
// OverwriteFile and WriteFile produce the same Sectors accounting for
// an inode that crosses into the single-indirect range.
func TestOverwriteFileGrowsPastIndirectBoundaryMatchesWriteFile(t *testing.T) {
	dev := buildImage(t, 1024, 64, 32)
	fs := mountTest(t, dev)

	data := bytes.Repeat([]byte{'z'}, 13*1024)

	ino, err := fs.WriteFile(ext2.RootInode, "small.bin", []byte("x"), 0o640)
	require.NoError(t, err)

	require.NoError(t, fs.OverwriteFile(ino, data))

	in, err := fs.ReadInode(ino)
	require.NoError(t, err)
	require.EqualValues(t, 13*2+2, in.Sectors)
	require.NotZero(t, in.Block[12])

	readBack, err := fs.ReadFile(ino)
	require.NoError(t, err)
	require.Equal(t, data, readBack)
}

// TestInsertOverflowsIntoSecondDirectoryBlock fills the root directory
// block's trailing slack with enough fixed-width names to exhaust it,
// then confirms the next insert allocates a second data block and that
// names from both the first and the overflowing batch still resolve.
func TestInsertOverflowsIntoSecondDirectoryBlock(t *testing.T) {
	dev := buildImage(t, 1024, 128, 256)
	fs := mountTest(t, dev)

	const fileCount = 90
	for i := 0; i < fileCount; i++ {
		name := "f" + padThree(i)
		_, err := fs.WriteFile(ext2.RootInode, name, []byte("x"), 0o640)
		require.NoError(t, err)
	}

	first, err := fs.dirs.Lookup(ext2.RootInode, "f"+padThree(0))
	require.NoError(t, err)
	require.NotZero(t, first)

	last, err := fs.dirs.Lookup(ext2.RootInode, "f"+padThree(fileCount-1))
	require.NoError(t, err)
	require.NotZero(t, last)

	root, err := fs.ReadInode(ext2.RootInode)
	require.NoError(t, err)
	require.EqualValues(t, 2, root.BlockCount(fs.buf.BlockSize()))
}

func padThree(i int) string {
	digits := []byte{'0', '0', '0'}
	for p := 2; i > 0 && p >= 0; p-- {
		digits[p] = byte('0' + i%10)
		i /= 10
	}
	return string(digits)
}

func TestRemoveLinkFreesBlocksAndInode(t *testing.T) {
	dev := buildImage(t, 1024, 64, 32)
	fs := mountTest(t, dev)

	ino, err := fs.WriteFile(ext2.RootInode, "doomed.txt", []byte("bye"), 0o640)
	require.NoError(t, err)

	freeBlocksBefore := fs.sb.FreeBlocksCount
	freeInodesBefore := fs.sb.FreeInodesCount

	require.NoError(t, fs.Unlink(ext2.RootInode, "doomed.txt"))

	require.Equal(t, freeBlocksBefore+1, fs.sb.FreeBlocksCount)
	require.Equal(t, freeInodesBefore+1, fs.sb.FreeInodesCount)

	_, err = fs.dirs.Lookup(ext2.RootInode, "doomed.txt")
	require.ErrorIs(t, err, ext2.ErrNotFound)

	in, err := fs.ReadInode(ino)
	require.NoError(t, err)
	require.EqualValues(t, 0, in.LinksCount)
	require.NotZero(t, in.DeleteTime)
}

func TestPathResolveMissingComponent(t *testing.T) {
	dev := buildImage(t, 1024, 64, 32)
	fs := mountTest(t, dev)

	aIno, err := fs.MakeDir(ext2.RootInode, "a", 0o755)
	require.NoError(t, err)

	bIno, err := fs.MakeDir(aIno, "b", 0o755)
	require.NoError(t, err)

	_, err = fs.WriteFile(bIno, "c", []byte("leaf"), 0o640)
	require.NoError(t, err)

	ino, err := fs.ReadPath("/a/b/c")
	require.NoError(t, err)
	require.NotZero(t, ino)

	_, err = fs.ReadPath("/a/missing/c")
	require.ErrorIs(t, err, ext2.ErrNotFound)
}

func TestMount4096ByteBlockImage(t *testing.T) {
	dev := buildImage(t, 4096, 16, 32)
	fs := mountTest(t, dev)

	require.EqualValues(t, 4096, fs.BlockSize())

	entries, err := fs.Ls(ext2.RootInode)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)
}
