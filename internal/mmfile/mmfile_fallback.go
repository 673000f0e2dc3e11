//go:build !unix

// Package mmfile provides platform-specific helpers for memory-mapping
// pool files read-write.
package mmfile

import (
	"fmt"
	"os"
)

// Map falls back to a heap buffer when mmap is not available. Writes are
// flowed back to the file by the flush layer, not by the mapping itself,
// so crash consistency is weaker on these platforms.
func Map(f *os.File, size int64) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("mmfile: invalid mapping size %d", size)
	}
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		_, err := f.WriteAt(data, 0)
		return err
	}
	return data, cleanup, nil
}
