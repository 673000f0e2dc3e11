package engine

import (
	"fmt"

	"github.com/pmemkit/pmemkit/internal/format"
)

// DefragResult summarizes a defragmentation run.
type DefragResult struct {
	Relocated uint64 // objects actually moved
	Total     uint64 // objects processed
}

// Defrag relocates the given allocations toward the start of the heap to
// reduce fragmentation. Each element is a payload offset, updated in
// place when its object moves. Nil and zero entries are skipped.
//
// Every relocation runs in its own transaction, so a crash can tear at
// most nothing: an object is durably at its old or its new offset. A
// failed relocation stops the run; objects already moved stay moved, and
// the returned counts tell the caller how far the run got.
//
// Must be called outside any active transaction.
func (e *Engine) Defrag(offs []*uint64) (DefragResult, error) {
	var res DefragResult
	if e.txActive {
		return res, fmt.Errorf("%w: defrag inside a transaction", ErrTxActive)
	}
	for i, p := range offs {
		if p == nil || *p == 0 {
			continue
		}
		res.Total++
		moved, err := e.relocate(i, p)
		if err != nil {
			return res, fmt.Errorf("%w: object %d: %v", ErrDefrag, i, err)
		}
		if moved {
			res.Relocated++
		}
	}
	return res, nil
}

// relocate moves one allocation to the lowest-offset free block that can
// hold it, if any exists below its current position.
func (e *Engine) relocate(idx int, p *uint64) (bool, error) {
	blk, blkSize, err := e.heap.blockOf(*p)
	if err != nil {
		return false, err
	}
	payloadSize := blkSize - format.BlockHeaderSize

	// Lowest free block below the object that fits it.
	var target uint64
	found := false
	for off, sz := range e.heap.free {
		if off >= blk || sz < blkSize {
			continue
		}
		if !found || off < target {
			target = off
			found = true
		}
	}
	if !found {
		return false, nil
	}

	if err := e.TxBegin(); err != nil {
		return false, err
	}
	newOff, err := e.moveTo(idx, p, target, payloadSize)
	if err != nil {
		if abortErr := e.TxAbort(); abortErr != nil {
			return false, abortErr
		}
		return false, err
	}
	if err := e.TxCommit(); err != nil {
		return false, err
	}
	*p = newOff
	return true, nil
}

func (e *Engine) moveTo(idx int, p *uint64, target, payloadSize uint64) (uint64, error) {
	if e.OnRelocate != nil {
		if err := e.OnRelocate(idx, *p); err != nil {
			return 0, err
		}
	}
	newOff, err := e.heap.allocateAt(target, payloadSize)
	if err != nil {
		return 0, err
	}
	copy(e.data[newOff:newOff+payloadSize], e.data[*p:*p+payloadSize])
	e.dirty.add(newOff, payloadSize)
	if err := e.heap.release(*p); err != nil {
		return 0, err
	}
	return newOff, nil
}
