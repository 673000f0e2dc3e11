//go:build darwin

package engine

import (
	"golang.org/x/sys/unix"
)

// syncRange synchronously flushes modified pages to the backing file.
//
// On macOS, msync() requires the address to match the original mmap()
// address, so sub-slices cannot be passed. The whole region is synced;
// the kernel only writes pages that are actually dirty.
func syncRange(data []byte, _, _ int) error {
	return unix.Msync(data, unix.MS_SYNC)
}

// asyncRange schedules a write-back without waiting.
func asyncRange(data []byte, _, _ int) error {
	return unix.Msync(data, unix.MS_ASYNC)
}

// fdatasync forces completion of outstanding writes. macOS has no
// fdatasync; F_FULLFSYNC pushes data past the drive cache.
func fdatasync(fd int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_FULLFSYNC, 0)
	return err
}
