// Package format defines the on-file layout of a pool: the header page,
// the undo-log region, and heap block headers, together with the
// little-endian field helpers used to read and write them.
package format

// Pool file geometry. A pool file is divided into three regions:
//
//	[0, HeaderSize)            pool header (one page)
//	[LogOffset, HeapOffset)    undo-log region
//	[HeapOffset, pool size)    heap (block-structured allocations)
const (
	// PageSize is the OS page granularity assumed for flushing.
	PageSize = 4096

	// HeaderSize is the size of the pool header region (one page).
	HeaderSize = PageSize

	// LogOffset is the file offset where the undo-log region begins.
	LogOffset = HeaderSize

	// LogSize is the size of the undo-log region.
	LogSize = 256 * 1024

	// HeapOffset is the file offset where the heap begins.
	HeapOffset = LogOffset + LogSize

	// MinPoolSize is the smallest pool file the engine accepts (8 MiB),
	// leaving a usable heap after the header and log regions.
	MinPoolSize = 8 * 1024 * 1024
)

// Pool header field offsets. The checksum at ChecksumOffset covers
// [0, ChecksumOffset) and is a truncated BLAKE3 digest.
const (
	Magic        = "PMEMPOOL"
	Version      = uint32(1)
	MagicOffset  = 0x00 // 8 bytes
	VersionOff   = 0x08 // u32
	UUIDOffset   = 0x10 // 16 bytes
	LayoutOffset = 0x20 // LayoutMax bytes, NUL padded
	LayoutMax    = 64
	PoolSizeOff  = 0x60 // u64
	RootOff      = 0x68 // u64, 0 = no root allocated yet
	RootSizeOff  = 0x70 // u64
	CreatedAtOff = 0x78 // u64, unix seconds

	ChecksumOffset = 0x80 // u64, truncated BLAKE3 of [0, 0x80)
	HeaderUsed     = 0x88 // bytes of the header page actually in use
)

// Undo-log layout. The log head publishes the number of valid entries;
// an entry is only counted after its payload has been persisted, so a
// torn append is never replayed.
const (
	LogCountOff = 0x00 // u32, number of valid entries
	LogTailOff  = 0x08 // u64, file offset of the next entry slot
	LogHeadSize = 16

	LogEntryOff     = 0x00 // u64, protected range offset
	LogEntryLen     = 0x08 // u64, protected range length
	LogEntryHdrSize = 16
)

// Heap block layout. Every allocation is preceded by a 16-byte header;
// payload offsets handed out by the allocator point past it.
const (
	BlockHeaderSize = 16
	BlockSizeOff    = 0x00 // u64, total block size including header
	BlockStateOff   = 0x08 // u32, BlockFree or BlockUsed

	BlockFree = uint32(0x45455246) // "FREE"
	BlockUsed = uint32(0x44455355) // "USED"

	// MinBlockSize is the smallest block the allocator will split off
	// (header plus an 8-byte payload).
	MinBlockSize = BlockHeaderSize + 8
)

// Align8 returns n aligned up to the next 8-byte boundary.
func Align8(n uint64) uint64 {
	return (n + 7) &^ 7
}

// AlignPage returns n aligned up to the next page boundary.
func AlignPage(n uint64) uint64 {
	return (n + PageSize - 1) &^ (PageSize - 1)
}

// PageFloor returns n aligned down to the containing page boundary.
func PageFloor(n uint64) uint64 {
	return n &^ (PageSize - 1)
}
