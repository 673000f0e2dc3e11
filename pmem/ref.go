package pmem

import (
	"fmt"
	"unsafe"

	"github.com/google/uuid"

	"github.com/pmemkit/pmemkit/internal/format"
)

// Ref is a relocation-safe reference to storage inside a pool: a pool
// identity plus a byte offset from the pool base. It stays valid across
// close and reopen, even when the pool lands at a different virtual
// address, because resolution always goes through the live mapping.
//
// The zero Ref is the null reference: offset zero addresses the pool
// header and is never handed out by the allocator.
type Ref struct {
	pool uuid.UUID
	off  uint64
}

// StoredRefSize is the on-pool size of a stored reference: the target's
// pool identity followed by a self-relative offset delta.
const StoredRefSize = 24

// RefTo builds a reference to the given offset inside pool p. Most code
// receives references from Tx.Alloc or Pool.Root instead.
func RefTo(p *Pool, off uint64) Ref {
	return Ref{pool: p.id, off: off}
}

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool { return r == Ref{} }

// Pool returns the identity of the owning pool.
func (r Ref) Pool() uuid.UUID { return r.pool }

// Offset returns the byte offset from the pool base.
func (r Ref) Offset() uint64 { return r.off }

// Equal reports whether r and o resolve to the same location. Refs into
// different pools are never equal, regardless of their offsets.
func (r Ref) Equal(o Ref) bool { return r == o }

// Add returns a reference n bytes further into the same allocation.
// Defined only for references into an array allocation; staying in
// bounds is the caller's responsibility.
func (r Ref) Add(n int64) Ref {
	r.off = uint64(int64(r.off) + n)
	return r
}

// Index returns a reference to element i of an array of elemSize-byte
// elements starting at r.
func (r Ref) Index(i int, elemSize uintptr) Ref {
	return r.Add(int64(i) * int64(elemSize))
}

func (r Ref) String() string {
	if r.IsNull() {
		return "pmem.Ref(null)"
	}
	return fmt.Sprintf("pmem.Ref(%s+%#x)", r.pool, r.off)
}

// checkRef validates that r points into p.
func (p *Pool) checkRef(r Ref) error {
	if r.IsNull() {
		return fmt.Errorf("%w: null reference", ErrInvalidArgument)
	}
	if r.pool != p.id {
		return fmt.Errorf("%w: reference belongs to pool %s, not %s", ErrInvalidPool, r.pool, p.id)
	}
	if err := p.checkOpen(); err != nil {
		return err
	}
	return nil
}

// Bytes returns a live view of the n bytes behind r. The slice aliases
// the mapping and is invalidated by Close.
func (p *Pool) Bytes(r Ref, n int) ([]byte, error) {
	if err := p.checkRef(r); err != nil {
		return nil, err
	}
	end := r.off + uint64(n)
	if n < 0 || end > uint64(p.eng.Size()) || end < r.off {
		return nil, fmt.Errorf("%w: %d bytes at %s exceed pool size", ErrInvalidArgument, n, r)
	}
	return p.eng.Bytes()[r.off : r.off+uint64(n)], nil
}

// Deref returns a typed pointer to the storage behind r. The pointer
// aliases the mapping: it is invalidated by Close, and writes through it
// must follow the snapshot-before-write discipline to stay
// crash-consistent.
func Deref[T any](p *Pool, r Ref) (*T, error) {
	var zero T
	b, err := p.Bytes(r, int(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(b))), nil
}

// Load copies the value behind r out of the pool.
func Load[T any](p *Pool, r Ref) (T, error) {
	ptr, err := Deref[T](p, r)
	if err != nil {
		var zero T
		return zero, err
	}
	return *ptr, nil
}

// ReadRef decodes the stored reference at slot at. Stored references are
// self-relative: the slot holds the target pool identity and the offset
// delta from the slot itself, so the encoding is valid wherever the pool
// is mapped.
func (p *Pool) ReadRef(at Ref) (Ref, error) {
	b, err := p.Bytes(at, StoredRefSize)
	if err != nil {
		return Ref{}, err
	}
	var id uuid.UUID
	copy(id[:], b[:16])
	if id == (uuid.UUID{}) {
		return Ref{}, nil
	}
	delta := format.ReadI64(b, 16)
	return Ref{pool: id, off: uint64(int64(at.off) + delta)}, nil
}

// WriteRef stores target into the slot at, transactionally. A null
// target stores the null encoding (zero pool identity).
func (tx *Tx) WriteRef(at, target Ref) error {
	if err := tx.Snapshot(at, StoredRefSize); err != nil {
		return err
	}
	b, err := tx.p.Bytes(at, StoredRefSize)
	if err != nil {
		return err
	}
	if target.IsNull() {
		clear(b[:StoredRefSize])
		return nil
	}
	copy(b[:16], target.pool[:])
	format.PutI64(b, 16, int64(target.off)-int64(at.off))
	return nil
}

// Less orders two references by their resolved addresses within this
// registry. Refs in different pools order by mapping address, so the
// result is stable only while both pools stay open.
func (reg *Registry) Less(a, b Ref) (bool, error) {
	pa, err := reg.Pool(a.pool)
	if err != nil {
		return false, err
	}
	pb, err := reg.Pool(b.pool)
	if err != nil {
		return false, err
	}
	baseA := uintptr(unsafe.Pointer(unsafe.SliceData(pa.eng.Bytes())))
	baseB := uintptr(unsafe.Pointer(unsafe.SliceData(pb.eng.Bytes())))
	return baseA+uintptr(a.off) < baseB+uintptr(b.off), nil
}
