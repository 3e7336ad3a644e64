package blockdev

import "github.com/pkg/errors"

// Memory is an in-memory Device, used by the test-suites across this
// module to build small synthetic ext2 images without touching the
// host file-system, mirroring how the teacher's compiler tests build
// file-trees entirely in memory (see pkg/ext/common_test.go's style of
// exercising layout math without a real disk).
type Memory struct {
	buf []byte
}

// NewMemory returns a zero-filled in-memory device of the given size.
func NewMemory(size int64) *Memory {
	return &Memory{buf: make([]byte, size)}
}

// Bytes exposes the underlying buffer for test assertions.
func (m *Memory) Bytes() []byte {
	return m.buf
}

// ReadAt implements Device.
func (m *Memory) ReadAt(dst []byte, offset int64) error {
	if offset < 0 || offset+int64(len(dst)) > int64(len(m.buf)) {
		return errors.Errorf("blockdev: read out of range at offset %d len %d", offset, len(dst))
	}
	copy(dst, m.buf[offset:offset+int64(len(dst))])
	return nil
}

// WriteAt implements Device.
func (m *Memory) WriteAt(src []byte, offset int64) error {
	if offset < 0 || offset+int64(len(src)) > int64(len(m.buf)) {
		return errors.Errorf("blockdev: write out of range at offset %d len %d", offset, len(src))
	}
	copy(m.buf[offset:offset+int64(len(src))], src)
	return nil
}

// Size implements Device.
func (m *Memory) Size() (int64, error) {
	return int64(len(m.buf)), nil
}
