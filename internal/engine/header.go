package engine

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/pmemkit/pmemkit/internal/format"
)

// headerChecksum computes the pool header checksum: the first 8 bytes of
// the BLAKE3 digest of everything before the checksum field.
func headerChecksum(hdr []byte) uint64 {
	sum := blake3.Sum256(hdr[:format.ChecksumOffset])
	return format.ReadU64(sum[:], 0)
}

// writeHeader initializes a fresh pool header in hdr and returns nothing.
// The caller persists the page.
func writeHeader(hdr []byte, id uuid.UUID, layout string, poolSize uint64) {
	copy(hdr[format.MagicOffset:], format.Magic)
	format.PutU32(hdr, format.VersionOff, format.Version)
	copy(hdr[format.UUIDOffset:format.UUIDOffset+16], id[:])
	copy(hdr[format.LayoutOffset:format.LayoutOffset+format.LayoutMax], make([]byte, format.LayoutMax))
	copy(hdr[format.LayoutOffset:], layout)
	format.PutU64(hdr, format.PoolSizeOff, poolSize)
	format.PutU64(hdr, format.RootOff, 0)
	format.PutU64(hdr, format.RootSizeOff, 0)
	format.PutU64(hdr, format.ChecksumOffset, headerChecksum(hdr))
}

// validateHeader checks magic, version, checksum, recorded size, and the
// layout string of an existing pool header.
func validateHeader(hdr []byte, layout string, fileSize int64) error {
	if len(hdr) < format.HeaderUsed {
		return fmt.Errorf("%w: header truncated", ErrCorrupt)
	}
	if !bytes.Equal(hdr[format.MagicOffset:format.MagicOffset+8], []byte(format.Magic)) {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := format.ReadU32(hdr, format.VersionOff); v != format.Version {
		return fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, v)
	}
	if got, want := format.ReadU64(hdr, format.ChecksumOffset), headerChecksum(hdr); got != want {
		return fmt.Errorf("%w: header checksum mismatch (got %#x want %#x)", ErrCorrupt, got, want)
	}
	if recorded := format.ReadU64(hdr, format.PoolSizeOff); recorded != uint64(fileSize) {
		return fmt.Errorf("%w: recorded pool size %d does not match file size %d",
			ErrCorrupt, recorded, fileSize)
	}
	if stored := headerLayout(hdr); stored != layout {
		return fmt.Errorf("%w: pool has layout %q, requested %q", ErrLayoutMismatch, stored, layout)
	}
	return nil
}

// headerLayout extracts the NUL-padded layout string.
func headerLayout(hdr []byte) string {
	raw := hdr[format.LayoutOffset : format.LayoutOffset+format.LayoutMax]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

// headerUUID extracts the pool UUID.
func headerUUID(hdr []byte) uuid.UUID {
	var id uuid.UUID
	copy(id[:], hdr[format.UUIDOffset:format.UUIDOffset+16])
	return id
}
