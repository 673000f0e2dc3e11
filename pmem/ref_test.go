package pmem

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefNullAndArithmetic(t *testing.T) {
	p := newTestPool(t)

	var null Ref
	assert.True(t, null.IsNull())
	assert.Equal(t, "pmem.Ref(null)", null.String())

	r := RefTo(p, 0x2000)
	assert.False(t, r.IsNull())
	assert.Equal(t, uint64(0x2000), r.Offset())
	assert.Equal(t, p.UUID(), r.Pool())

	assert.Equal(t, uint64(0x2010), r.Add(16).Offset())
	assert.Equal(t, uint64(0x2000+3*8), r.Index(3, 8).Offset())
	assert.True(t, r.Equal(r.Add(0)))
	assert.False(t, r.Equal(r.Add(8)))
}

func TestRefWrongPoolRejected(t *testing.T) {
	reg := NewRegistry()
	dir := t.TempDir()
	p1, err := reg.Create(filepath.Join(dir, "a.pm"), testLayout, MinPoolSize, 0o644)
	require.NoError(t, err)
	defer p1.Close()
	p2, err := reg.Create(filepath.Join(dir, "b.pm"), testLayout, MinPoolSize, 0o644)
	require.NoError(t, err)
	defer p2.Close()

	var obj Ref
	require.NoError(t, Run(p1, func(tx *Tx) error {
		r, err := tx.Alloc(16)
		obj = r
		return err
	}))

	_, err = p2.Bytes(obj, 8)
	assert.ErrorIs(t, err, ErrInvalidPool)

	err = Run(p2, func(tx *Tx) error {
		return Store(tx, obj, uint64(1))
	})
	assert.ErrorIs(t, err, ErrInvalidPool)

	// The registry resolves a ref into whichever of its pools owns it.
	b, err := reg.Resolve(obj, 8)
	require.NoError(t, err)
	assert.Len(t, b, 8)
}

func TestBytesBounds(t *testing.T) {
	p := newTestPool(t)
	r := RefTo(p, uint64(MinPoolSize)-8)

	_, err := p.Bytes(r, 8)
	require.NoError(t, err)
	_, err = p.Bytes(r, 16)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = p.Bytes(r, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// An offset near 2^64 must not wrap past the size check.
	wrap := RefTo(p, ^uint64(0)-4)
	_, err = p.Bytes(wrap, 8)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// List nodes are a uint64 value followed by a stored next reference.
func nextSlot(n Ref) Ref { return n.Add(8) }

// Builds a linked list through stored references and walks it after a
// close and reopen, when the mapping address has no reason to match.
func TestStoredRefsSurviveReopen(t *testing.T) {
	reg := NewRegistry()
	path := filepath.Join(t.TempDir(), "list.pm")
	p, err := reg.Create(path, testLayout, MinPoolSize, 0o644)
	require.NoError(t, err)

	head, err := p.Root(uint64(StoredRefSize))
	require.NoError(t, err)

	err = Run(p, func(tx *Tx) error {
		var prev Ref
		for i := 3; i >= 1; i-- {
			n, err := tx.Alloc(uint64(32))
			if err != nil {
				return err
			}
			if err := Store(tx, n, uint64(i*10)); err != nil {
				return err
			}
			if err := tx.WriteRef(nextSlot(n), prev); err != nil {
				return err
			}
			prev = n
		}
		return tx.WriteRef(head, prev)
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	p, err = reg.Open(path, testLayout)
	require.NoError(t, err)
	defer p.Close()

	head, err = p.Root(uint64(StoredRefSize))
	require.NoError(t, err)

	var values []uint64
	cur, err := p.ReadRef(head)
	require.NoError(t, err)
	for !cur.IsNull() {
		v, err := Load[uint64](p, cur)
		require.NoError(t, err)
		values = append(values, v)
		cur, err = p.ReadRef(nextSlot(cur))
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{10, 20, 30}, values)
}

func TestWriteRefNull(t *testing.T) {
	p := newTestPool(t)

	slot, err := p.Root(uint64(StoredRefSize))
	require.NoError(t, err)

	var obj Ref
	require.NoError(t, Run(p, func(tx *Tx) error {
		r, err := tx.Alloc(8)
		if err != nil {
			return err
		}
		obj = r
		return tx.WriteRef(slot, r)
	}))

	got, err := p.ReadRef(slot)
	require.NoError(t, err)
	assert.True(t, got.Equal(obj))

	require.NoError(t, Run(p, func(tx *Tx) error {
		return tx.WriteRef(slot, Ref{})
	}))
	got, err = p.ReadRef(slot)
	require.NoError(t, err)
	assert.True(t, got.IsNull())
}

// A stored ref can point at its own slot; the zero delta must not read
// back as null.
func TestStoredRefSelfPointer(t *testing.T) {
	p := newTestPool(t)

	slot, err := p.Root(uint64(StoredRefSize))
	require.NoError(t, err)
	require.NoError(t, Run(p, func(tx *Tx) error {
		return tx.WriteRef(slot, slot)
	}))

	got, err := p.ReadRef(slot)
	require.NoError(t, err)
	assert.False(t, got.IsNull())
	assert.True(t, got.Equal(slot))
}

func TestRegistryLess(t *testing.T) {
	p := newTestPool(t)

	var lo, hi Ref
	require.NoError(t, Run(p, func(tx *Tx) error {
		a, err := tx.Alloc(16)
		if err != nil {
			return err
		}
		b, err := tx.Alloc(16)
		if err != nil {
			return err
		}
		lo, hi = a, b
		if b.Offset() < a.Offset() {
			lo, hi = b, a
		}
		return nil
	}))

	less, err := p.reg.Less(lo, hi)
	require.NoError(t, err)
	assert.True(t, less)
	less, err = p.reg.Less(hi, lo)
	require.NoError(t, err)
	assert.False(t, less)
}

func TestDerefWriteThrough(t *testing.T) {
	p := newTestPool(t)

	var obj Ref
	require.NoError(t, Run(p, func(tx *Tx) error {
		r, err := tx.Alloc(uint64(16))
		if err != nil {
			return err
		}
		obj = r
		return Store(tx, r, uint64(321))
	}))

	ptr, err := Deref[uint64](p, obj)
	require.NoError(t, err)
	assert.Equal(t, uint64(321), *ptr)
}
