package pmem

import (
	"fmt"
	"unsafe"
)

// Root returns a reference to the pool's root object, the fixed entry
// point into its object graph. The root is allocated (zeroed) inside an
// internal transaction on the first call for this pool's lifetime;
// concurrent first calls serialize so exactly one root ever exists. Its
// size is fixed at first access: later calls with a different size fail
// with ErrInvalidArgument.
//
// Root must not be called from inside a transaction on the same pool.
func (p *Pool) Root(size uint64) (Ref, error) {
	if size == 0 {
		return Ref{}, fmt.Errorf("%w: zero-size root", ErrInvalidArgument)
	}
	if err := p.checkOpen(); err != nil {
		return Ref{}, err
	}

	p.txMu.Lock()
	defer p.txMu.Unlock()

	if off, rsize := p.eng.RootInfo(); off != 0 {
		if rsize != size {
			return Ref{}, fmt.Errorf("%w: root is %d bytes, requested %d",
				ErrInvalidArgument, rsize, size)
		}
		return Ref{pool: p.id, off: off}, nil
	}

	// First access: allocate the root and record it atomically.
	if err := p.eng.TxBegin(); err != nil {
		return Ref{}, mapEngineErr(err)
	}
	off, err := p.eng.Alloc(size)
	if err == nil {
		err = p.eng.SetRoot(off, size)
	}
	if err != nil {
		if abortErr := p.eng.TxAbort(); abortErr != nil {
			return Ref{}, mapEngineErr(abortErr)
		}
		return Ref{}, mapEngineErr(err)
	}
	if err := p.eng.TxCommit(); err != nil {
		return Ref{}, mapEngineErr(err)
	}
	return Ref{pool: p.id, off: off}, nil
}

// RootOf returns a typed pointer to the pool's root object, sizing it
// from T. The same fixed-size rule as Root applies: every access for one
// pool must use the same root type.
func RootOf[T any](p *Pool) (*T, error) {
	var zero T
	r, err := p.Root(uint64(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return Deref[T](p, r)
}

// RootRef returns the typed root's reference without dereferencing it.
func RootRef[T any](p *Pool) (Ref, error) {
	var zero T
	return p.Root(uint64(unsafe.Sizeof(zero)))
}
