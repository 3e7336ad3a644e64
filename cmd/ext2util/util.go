package main

import (
	"errors"

	"github.com/mitchellh/go-homedir"

	"github.com/nullsector/ext2fs/pkg/blockdev"
	"github.com/nullsector/ext2fs/pkg/ext2"
	"github.com/nullsector/ext2fs/pkg/ext2fs"
)

// exitCodeFor maps the engine's sentinel error taxonomy onto distinct
// process exit codes, per spec.md §6's recommendation.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, ext2.ErrBadSuperblock):
		return 2
	case errors.Is(err, ext2.ErrNoSpace):
		return 3
	case errors.Is(err, ext2.ErrNotFound):
		return 4
	case errors.Is(err, ext2.ErrNameExists), errors.Is(err, ext2.ErrDuplicateInode):
		return 5
	case errors.Is(err, ext2.ErrIO), errors.Is(err, ext2.ErrCorruptMetadata), errors.Is(err, ext2.ErrDoubleFree):
		return 1
	default:
		return 6
	}
}

func mountImage(path string) (*ext2fs.Filesystem, *blockdev.File, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, nil, err
	}

	dev, err := blockdev.Open(expanded)
	if err != nil {
		return nil, nil, err
	}

	fs, err := ext2fs.Mount(dev, ext2fs.WithLogger(log))
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	return fs, dev, nil
}
