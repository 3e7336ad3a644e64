package ext2

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOnDiskStructSizes(t *testing.T) {
	require.Equal(t, SuperblockSize, binary.Size(Superblock{}))
	require.Equal(t, GroupDescriptorSize, binary.Size(GroupDescriptor{}))
	require.Equal(t, InodeSize, binary.Size(Inode{}))
}

func TestSuperblockValid(t *testing.T) {
	sb := Superblock{Magic: Signature, LogBlockSize: 0, BlocksPerGroup: 8192, InodesPerGroup: 2048}
	require.NoError(t, sb.Valid())

	bad := sb
	bad.Magic = 0x1234
	require.ErrorIs(t, bad.Valid(), ErrBadSuperblock)

	badBlockSize := sb
	badBlockSize.LogBlockSize = 9
	require.ErrorIs(t, badBlockSize.Valid(), ErrBadSuperblock)

	noGroup := sb
	noGroup.BlocksPerGroup = 0
	require.ErrorIs(t, noGroup.Valid(), ErrBadSuperblock)
}

func TestBlockSizeDerivation(t *testing.T) {
	require.EqualValues(t, 1024, (&Superblock{LogBlockSize: 0}).BlockSize())
	require.EqualValues(t, 2048, (&Superblock{LogBlockSize: 1}).BlockSize())
	require.EqualValues(t, 4096, (&Superblock{LogBlockSize: 2}).BlockSize())
}

func TestInodeSizeRoundTrip(t *testing.T) {
	in := &Inode{}
	in.SetSize(13312)
	require.EqualValues(t, 13312, in.Size())

	big := &Inode{}
	big.SetSize(1 << 40)
	require.EqualValues(t, 1<<40, big.Size())
}

func TestInodeModeClassification(t *testing.T) {
	dir := &Inode{Mode: ModeDirectory | 0755}
	require.True(t, dir.IsDirectory())
	require.False(t, dir.IsRegular())

	reg := &Inode{Mode: ModeRegular | 0640}
	require.True(t, reg.IsRegular())
	require.False(t, reg.IsDirectory())

	link := &Inode{Mode: ModeSymlink | 0777}
	require.True(t, link.IsSymlink())
}

func TestAlign4AndMinDirEntLen(t *testing.T) {
	require.Equal(t, 0, Align4(0))
	require.Equal(t, 4, Align4(1))
	require.Equal(t, 12, Align4(9))
	require.Equal(t, 12, MinDirEntLen(1))
	require.Equal(t, 12, MinDirEntLen(4))
	require.Equal(t, 16, MinDirEntLen(5))
}

func TestInodeGroupIndex(t *testing.T) {
	group, idx := InodeGroupIndex(12, 2048)
	require.EqualValues(t, 0, group)
	require.EqualValues(t, 11, idx)

	group, idx = InodeGroupIndex(2049, 2048)
	require.EqualValues(t, 1, group)
	require.EqualValues(t, 0, idx)
}

func TestInodeTableOffset(t *testing.T) {
	blockWithin, offset := InodeTableOffset(0, 1024)
	require.EqualValues(t, 0, blockWithin)
	require.EqualValues(t, 0, offset)

	blockWithin, offset = InodeTableOffset(8, 1024)
	require.EqualValues(t, 1, blockWithin)
	require.EqualValues(t, 0, offset)

	blockWithin, offset = InodeTableOffset(9, 1024)
	require.EqualValues(t, 1, blockWithin)
	require.EqualValues(t, 128, offset)
}
