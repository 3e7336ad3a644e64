// Package blockdev provides the opaque byte-addressable backing store
// that every higher layer of the ext2 engine routes through. It has no
// notion of blocks or file-system structures: it only reads and writes
// spans of bytes at an absolute offset.
package blockdev

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// Device is the contract every layer above buffer.Layer is built on:
// positional reads and writes of arbitrary byte spans, and a size query.
// Implementations need not cache anything; buffer.Layer above does no
// caching either.
type Device interface {
	ReadAt(dst []byte, offset int64) error
	WriteAt(src []byte, offset int64) error
	Size() (int64, error)
}

// File is a Device backed by a host file, opened read-write.
type File struct {
	f *os.File
}

// Open opens path as a raw block device backing store.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "blockdev: open")
	}
	return &File{f: f}, nil
}

// Close releases the underlying host file descriptor.
func (d *File) Close() error {
	return d.f.Close()
}

// ReadAt reads len(dst) bytes starting at offset. A short read is
// treated as an I/O error since the caller always knows the exact size
// it expects.
func (d *File) ReadAt(dst []byte, offset int64) error {
	n, err := d.f.ReadAt(dst, offset)
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "blockdev: read")
	}
	if n != len(dst) {
		return errors.Wrapf(io.ErrUnexpectedEOF, "blockdev: short read at offset %d", offset)
	}
	return nil
}

// WriteAt writes all of src starting at offset.
func (d *File) WriteAt(src []byte, offset int64) error {
	n, err := d.f.WriteAt(src, offset)
	if err != nil {
		return errors.Wrap(err, "blockdev: write")
	}
	if n != len(src) {
		return errors.Wrapf(io.ErrShortWrite, "blockdev: short write at offset %d", offset)
	}
	return nil
}

// Size returns the current size of the backing file in bytes.
func (d *File) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "blockdev: stat")
	}
	return fi.Size(), nil
}
