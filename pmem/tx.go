package pmem

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/pmemkit/pmemkit/internal/format"
)

// TxStage is the lifecycle stage of one transaction frame.
type TxStage int

const (
	// TxActive is a frame whose body is still running.
	TxActive TxStage = iota
	// TxCommitting is a frame running its commit callbacks and flushes.
	TxCommitting
	// TxCommitted is a frame whose writes are durable.
	TxCommitted
	// TxAborting is a frame restoring snapshots.
	TxAborting
	// TxAborted is a frame whose writes have been rolled back.
	TxAborted
)

// span is a snapshot-exempt range: storage allocated within the current
// transaction, whose rollback is deallocation rather than restoration.
type span struct {
	off, end uint64
}

// txState is the bookkeeping shared by every frame of one nested
// transaction. Nesting is flat: all frames feed a single undo log, so an
// abort anywhere poisons the whole stack.
type txState struct {
	aborted    bool
	abortCause error
	fresh      []span
	frees      []uint64
	onCommit   []func() error
	onAbort    []func()
}

// Tx is one transaction frame. It is only valid inside the function Run
// passed it to; using a frame after its body returns fails with
// ErrTxRequired.
//
// A Tx is bound to the goroutine running its body and must not be shared.
type Tx struct {
	p     *Pool
	s     *txState
	depth int
	stage TxStage
}

// Run executes fn inside a transaction on p. If fn returns nil the
// transaction commits: every write made through the transaction becomes
// durable atomically with respect to crashes. If fn returns an error or
// panics, every snapshotted write is rolled back and allocations are
// released; the error is returned wrapped in ErrTxAborted (a panic is
// re-raised after rollback).
//
// Outermost transactions on one pool serialize with each other. Nested
// scopes are entered with Tx.Run, never by calling this function inside
// a body (that would deadlock).
func Run(p *Pool, fn func(*Tx) error) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.txMu.Lock()
	defer p.txMu.Unlock()

	if err := p.eng.TxBegin(); err != nil {
		return mapEngineErr(err)
	}
	tx := &Tx{p: p, s: &txState{}, stage: TxActive}
	return tx.finishOutermost(tx.call(fn))
}

// Run executes fn in a child frame sharing this transaction's undo log.
// A child abort propagates: once any frame aborts, the outermost frame
// rolls everything back even if an enclosing body swallows the error.
func (tx *Tx) Run(fn func(*Tx) error) error {
	if err := tx.usable(); err != nil {
		return err
	}
	child := &Tx{p: tx.p, s: tx.s, depth: tx.depth + 1, stage: TxActive}
	err := child.call(fn)
	if err != nil || child.s.aborted {
		child.stage = TxAborted
		tx.s.aborted = true
		if tx.s.abortCause == nil {
			tx.s.abortCause = err
		}
		if err == nil {
			err = tx.s.abortCause
		}
		return wrapAbort(err)
	}
	child.stage = TxCommitted // merged into the enclosing frame
	return nil
}

// call invokes fn, converting a panic into a rollback before re-raising.
func (tx *Tx) call(fn func(*Tx) error) (err error) {
	defer func() {
		tx.stage = TxCommitted // overwritten below on failure paths
		if r := recover(); r != nil {
			tx.s.aborted = true
			tx.stage = TxAborted
			if tx.depth == 0 {
				tx.rollback(fmt.Errorf("panic: %v", r))
			}
			panic(r)
		}
	}()
	return fn(tx)
}

// finishOutermost closes the outermost frame: commit when the body
// succeeded and no inner frame aborted, rollback otherwise.
func (tx *Tx) finishOutermost(fnErr error) error {
	s := tx.s
	if fnErr != nil || s.aborted {
		tx.stage = TxAborting
		cause := fnErr
		if cause == nil {
			cause = s.abortCause
		}
		return tx.rollback(cause)
	}

	tx.stage = TxCommitting

	// Commit callbacks may veto the commit; a callback error turns the
	// whole frame into an abort.
	for _, cb := range s.onCommit {
		if err := cb(); err != nil {
			tx.stage = TxAborting
			return tx.rollback(fmt.Errorf("commit callback: %w", err))
		}
	}

	// Deferred frees run as the last writes of the transaction, so an
	// aborting sibling could still have dereferenced the objects.
	for _, off := range s.frees {
		if err := tx.p.eng.Free(off); err != nil {
			tx.stage = TxAborting
			return tx.rollback(fmt.Errorf("deferred free: %w", err))
		}
	}

	if err := tx.p.eng.TxCommit(); err != nil {
		tx.stage = TxAborting
		return tx.rollback(fmt.Errorf("commit: %w", err))
	}
	tx.stage = TxCommitted
	return nil
}

// rollback restores all snapshotted state and reports the cause wrapped
// in ErrTxAborted.
func (tx *Tx) rollback(cause error) error {
	if err := tx.p.eng.TxAbort(); err != nil {
		return fmt.Errorf("%w: rollback failed: %w (cause: %v)", ErrTxAborted, err, cause)
	}
	for i := len(tx.s.onAbort) - 1; i >= 0; i-- {
		tx.s.onAbort[i]()
	}
	tx.stage = TxAborted
	return wrapAbort(cause)
}

func wrapAbort(cause error) error {
	if cause == nil {
		return ErrTxAborted
	}
	if errors.Is(cause, ErrTxAborted) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrTxAborted, cause)
}

// Stage returns the frame's lifecycle stage.
func (tx *Tx) Stage() TxStage { return tx.stage }

// Pool returns the pool this transaction mutates.
func (tx *Tx) Pool() *Pool { return tx.p }

func (tx *Tx) usable() error {
	if tx.stage != TxActive {
		return fmt.Errorf("%w: frame is no longer active", ErrTxRequired)
	}
	if tx.s.aborted {
		return wrapAbort(tx.s.abortCause)
	}
	return nil
}

// Abort marks the transaction aborted with the given cause and returns
// the error the body should propagate. All frames up to the outermost
// will roll back; the abort cannot be absorbed by an enclosing frame.
func (tx *Tx) Abort(cause error) error {
	tx.s.aborted = true
	if tx.s.abortCause == nil {
		tx.s.abortCause = cause
	}
	return wrapAbort(cause)
}

// Snapshot records the prior contents of length bytes behind r so they
// are restored if the transaction aborts. It must precede the first
// write to any byte of the range. Storage allocated within this
// transaction is exempt and the call becomes a no-op for it.
func (tx *Tx) Snapshot(r Ref, length uint64) error {
	if err := tx.usable(); err != nil {
		return err
	}
	if err := tx.p.checkRef(r); err != nil {
		return err
	}
	if tx.isFresh(r.off, length) {
		tx.p.eng.MarkDirty(r.off, length)
		return nil
	}
	return mapEngineErr(tx.p.eng.Snapshot(r.off, length))
}

func (tx *Tx) isFresh(off, length uint64) bool {
	for _, f := range tx.s.fresh {
		if off >= f.off && off+length <= f.end {
			return true
		}
	}
	return false
}

// Alloc returns a reference to size zeroed bytes of pool storage. If the
// transaction aborts, the allocation is released automatically.
func (tx *Tx) Alloc(size uint64) (Ref, error) {
	if err := tx.usable(); err != nil {
		return Ref{}, err
	}
	off, err := tx.p.eng.Alloc(size)
	if err != nil {
		return Ref{}, mapEngineErr(err)
	}
	tx.s.fresh = append(tx.s.fresh, span{off: off, end: off + format.Align8(size)})
	return Ref{pool: tx.p.id, off: off}, nil
}

// Free schedules the release of the allocation behind r. The release
// happens at commit; until then the object remains dereferenceable. A
// null reference is a no-op. If the transaction aborts, the object is
// kept.
func (tx *Tx) Free(r Ref) error {
	if err := tx.usable(); err != nil {
		return err
	}
	if r.IsNull() {
		return nil
	}
	if err := tx.p.checkRef(r); err != nil {
		return err
	}
	// Fail now, not at commit, if r is not a live allocation.
	if _, err := tx.p.eng.AllocSize(r.off); err != nil {
		return mapEngineErr(fmt.Errorf("%w: %w", ErrInvalidArgument, err))
	}
	tx.s.frees = append(tx.s.frees, r.off)
	return nil
}

// Realloc resizes the allocation behind r, preserving its leading
// contents. Growing is alloc-copy-free: the returned reference differs
// from r and r's storage is released at commit. Shrinking (or a size
// that still fits the existing block) returns r unchanged. A null r is
// equivalent to Alloc.
func (tx *Tx) Realloc(r Ref, size uint64) (Ref, error) {
	if err := tx.usable(); err != nil {
		return Ref{}, err
	}
	if r.IsNull() {
		return tx.Alloc(size)
	}
	if size == 0 {
		return Ref{}, fmt.Errorf("%w: zero-size realloc", ErrInvalidArgument)
	}
	if err := tx.p.checkRef(r); err != nil {
		return Ref{}, err
	}

	oldSize, err := tx.p.eng.AllocSize(r.off)
	if err != nil {
		return Ref{}, mapEngineErr(err)
	}
	if size <= oldSize {
		return r, nil
	}

	newRef, err := tx.Alloc(size)
	if err != nil {
		return Ref{}, err
	}
	data := tx.p.eng.Bytes()
	copy(data[newRef.off:newRef.off+oldSize], data[r.off:r.off+oldSize])
	tx.p.eng.MarkDirty(newRef.off, oldSize)
	if err := tx.Free(r); err != nil {
		return Ref{}, err
	}
	return newRef, nil
}

// OnCommit registers fn to run while the outermost frame commits. An
// error from fn aborts the transaction instead.
func (tx *Tx) OnCommit(fn func() error) {
	tx.s.onCommit = append(tx.s.onCommit, fn)
}

// OnAbort registers fn to run after the transaction has rolled back.
func (tx *Tx) OnAbort(fn func()) {
	tx.s.onAbort = append(tx.s.onAbort, fn)
}

// Store snapshots the storage behind r and writes v into it. This is
// the snapshot-before-write discipline packaged as one call.
func Store[T any](tx *Tx, r Ref, v T) error {
	size := uint64(unsafe.Sizeof(v))
	if err := tx.Snapshot(r, size); err != nil {
		return err
	}
	ptr, err := Deref[T](tx.p, r)
	if err != nil {
		return err
	}
	*ptr = v
	return nil
}
