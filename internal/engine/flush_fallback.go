//go:build !linux && !freebsd && !darwin

package engine

// Without a shared mapping there is nothing to msync; the mmfile fallback
// writes the buffer back on unmap. Crash consistency is weaker here.

func syncRange(_ []byte, _, _ int) error { return nil }

func asyncRange(_ []byte, _, _ int) error { return nil }

func fdatasync(_ int) error { return nil }
