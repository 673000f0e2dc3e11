//go:build linux || freebsd

package engine

import (
	"golang.org/x/sys/unix"
)

// syncRange synchronously flushes data[start:end] to the backing file.
//
// On Linux and FreeBSD, msync() accepts page-aligned sub-slices, so only
// the requested range is written.
func syncRange(data []byte, start, end int) error {
	return unix.Msync(data[start:end], unix.MS_SYNC)
}

// asyncRange schedules a write-back of data[start:end] without waiting.
func asyncRange(data []byte, start, end int) error {
	return unix.Msync(data[start:end], unix.MS_ASYNC)
}

// fdatasync forces completion of outstanding writes to the file.
func fdatasync(fd int) error {
	return unix.Fdatasync(fd)
}
