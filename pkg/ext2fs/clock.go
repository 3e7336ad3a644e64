package ext2fs

import "time"

// defaultClock stamps inode times with the wall-clock second count, the
// same unit original_source/ext2.c's time() calls use for atime/ctime/
// mtime/dtime.
func defaultClock() uint32 {
	return uint32(time.Now().Unix())
}
