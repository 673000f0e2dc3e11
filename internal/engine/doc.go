// Package engine implements the raw pool-file engine: the memory mapping
// of one pool file, its header, the undo log, the heap allocator, and the
// persist/flush/drain primitives. Everything is addressed by pool-relative
// byte offset, never by virtual address, so state written here is valid no
// matter where the file is mapped on the next open.
//
// The engine is NOT thread-safe. Callers serialize access; the public
// pmem package does this with a per-pool mutex.
package engine
