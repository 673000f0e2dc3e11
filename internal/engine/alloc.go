package engine

import (
	"fmt"

	"github.com/pmemkit/pmemkit/internal/format"
)

// allocStats holds allocator counters, queryable through the ctl facility.
type allocStats struct {
	AllocCalls    uint64 // total successful allocations
	FreeCalls     uint64 // total successful frees
	CurrAllocated uint64 // payload bytes currently in use
}

// allocator manages the heap region as a chain of contiguous blocks.
//
// Block state lives on file (size + FREE/USED tag per header); the free
// maps are an in-memory index rebuilt at open and after any rollback, so
// a crash can never leave the index and the file disagreeing. Every
// header mutation is snapshotted through the engine's undo log before
// being overwritten, which makes allocator metadata transactional.
type allocator struct {
	e          *Engine
	start, end uint64

	free  map[uint64]uint64 // free block start -> block size
	byEnd map[uint64]uint64 // free block end -> block start

	stats allocStats
}

func newAllocator(e *Engine) *allocator {
	return &allocator{
		e:     e,
		start: format.HeapOffset,
		end:   uint64(e.size),
	}
}

// initHeap formats the heap as a single free block spanning the region.
// Only valid on a freshly created pool.
func (a *allocator) initHeap() {
	blk := a.start
	a.writeHeader(blk, a.end-a.start, format.BlockFree)
	a.free = map[uint64]uint64{blk: a.end - a.start}
	a.byEnd = map[uint64]uint64{a.end: blk}
	a.stats = allocStats{}
}

// rebuild walks the block chain and reconstructs the free indexes and
// usage statistics from on-file state.
func (a *allocator) rebuild() error {
	free := make(map[uint64]uint64)
	byEnd := make(map[uint64]uint64)
	var inUse uint64

	blk := a.start
	for blk < a.end {
		size, state, err := a.readHeader(blk)
		if err != nil {
			return err
		}
		switch state {
		case format.BlockFree:
			free[blk] = size
			byEnd[blk+size] = blk
		case format.BlockUsed:
			inUse += size - format.BlockHeaderSize
		default:
			return fmt.Errorf("%w: block at %#x has state %#x", ErrCorrupt, blk, state)
		}
		blk += size
	}
	if blk != a.end {
		return fmt.Errorf("%w: block chain ends at %#x, heap ends at %#x", ErrCorrupt, blk, a.end)
	}

	a.free = free
	a.byEnd = byEnd
	a.stats.CurrAllocated = inUse
	return nil
}

// allocate carves a used block for size payload bytes out of the
// best-fitting free block and returns the zeroed payload offset.
func (a *allocator) allocate(size uint64) (uint64, error) {
	need := format.BlockHeaderSize + format.Align8(size)
	if need < format.MinBlockSize {
		need = format.MinBlockSize
	}

	// Best fit; ties broken by lowest offset for determinism.
	var blk, blkSize uint64
	for off, sz := range a.free {
		if sz < need {
			continue
		}
		if blkSize == 0 || sz < blkSize || (sz == blkSize && off < blk) {
			blk, blkSize = off, sz
		}
	}
	if blkSize == 0 {
		return 0, fmt.Errorf("%w: need %d bytes", ErrNoSpace, need)
	}
	return a.carve(blk, need, size)
}

// allocateAt carves out of a specific free block. Used by defrag to place
// an object at a chosen offset.
func (a *allocator) allocateAt(blk, size uint64) (uint64, error) {
	blkSize, ok := a.free[blk]
	need := format.BlockHeaderSize + format.Align8(size)
	if need < format.MinBlockSize {
		need = format.MinBlockSize
	}
	if !ok || blkSize < need {
		return 0, fmt.Errorf("%w: block %#x cannot hold %d bytes", ErrNoSpace, blk, need)
	}
	return a.carve(blk, need, size)
}

// carve turns the leading need bytes of free block blk into a used block,
// splitting off the remainder when it can stand alone as a free block.
func (a *allocator) carve(blk, need, payloadSize uint64) (uint64, error) {
	blkSize := a.free[blk]
	blkEnd := blk + blkSize

	if err := a.e.snapshot(blk, format.BlockHeaderSize); err != nil {
		return 0, err
	}

	delete(a.free, blk)
	delete(a.byEnd, blkEnd)

	if rest := blkSize - need; rest >= format.MinBlockSize {
		restOff := blk + need
		if err := a.e.snapshot(restOff, format.BlockHeaderSize); err != nil {
			return 0, err
		}
		a.writeHeader(restOff, rest, format.BlockFree)
		a.free[restOff] = rest
		a.byEnd[blkEnd] = restOff
	} else {
		need = blkSize // absorb the unsplittable tail
	}
	a.writeHeader(blk, need, format.BlockUsed)

	payload := blk + format.BlockHeaderSize
	clear(a.e.data[payload : blk+need])
	a.e.dirty.add(payload, need-format.BlockHeaderSize)

	a.stats.AllocCalls++
	a.stats.CurrAllocated += need - format.BlockHeaderSize
	return payload, nil
}

// release frees the block owning payloadOff and coalesces it with free
// neighbors on both sides.
func (a *allocator) release(payloadOff uint64) error {
	blk, size, err := a.blockOf(payloadOff)
	if err != nil {
		return err
	}

	if err := a.e.snapshot(blk, format.BlockHeaderSize); err != nil {
		return err
	}
	a.stats.FreeCalls++
	a.stats.CurrAllocated -= size - format.BlockHeaderSize

	newStart, newSize := blk, size

	// Forward coalesce.
	if next := blk + size; next < a.end {
		if nextSize, ok := a.free[next]; ok {
			if err := a.e.snapshot(next, format.BlockHeaderSize); err != nil {
				return err
			}
			delete(a.free, next)
			delete(a.byEnd, next+nextSize)
			newSize += nextSize
		}
	}

	// Backward coalesce.
	if prev, ok := a.byEnd[blk]; ok {
		if err := a.e.snapshot(prev, format.BlockHeaderSize); err != nil {
			return err
		}
		prevSize := a.free[prev]
		delete(a.free, prev)
		delete(a.byEnd, blk)
		newStart = prev
		newSize += prevSize
	}

	a.writeHeader(newStart, newSize, format.BlockFree)
	a.free[newStart] = newSize
	a.byEnd[newStart+newSize] = newStart
	return nil
}

// blockOf validates payloadOff and returns its block offset and size.
func (a *allocator) blockOf(payloadOff uint64) (blk, size uint64, err error) {
	if payloadOff < a.start+format.BlockHeaderSize || payloadOff >= a.end {
		return 0, 0, fmt.Errorf("%w: offset %#x outside heap", ErrBadRef, payloadOff)
	}
	blk = payloadOff - format.BlockHeaderSize
	size, state, err := a.readHeader(blk)
	if err != nil {
		return 0, 0, err
	}
	if state != format.BlockUsed {
		return 0, 0, fmt.Errorf("%w: offset %#x is not a live allocation", ErrBadRef, payloadOff)
	}
	return blk, size, nil
}

// payloadSize returns the usable payload size of a live allocation.
func (a *allocator) payloadSize(payloadOff uint64) (uint64, error) {
	_, size, err := a.blockOf(payloadOff)
	if err != nil {
		return 0, err
	}
	return size - format.BlockHeaderSize, nil
}

// freeSpace returns the total free payload bytes and the largest single
// free payload available.
func (a *allocator) freeSpace() (total, largest uint64) {
	for _, sz := range a.free {
		payload := sz - format.BlockHeaderSize
		total += payload
		if payload > largest {
			largest = payload
		}
	}
	return total, largest
}

// coalescePass merges any adjacent free blocks across the whole heap,
// returning the number of merges performed. Frees coalesce eagerly, so
// this normally finds nothing; it backs the heap.coalesce ctl entry point.
func (a *allocator) coalescePass() (int, error) {
	merged := 0
	blk := a.start
	for blk < a.end {
		size, state, err := a.readHeader(blk)
		if err != nil {
			return merged, err
		}
		next := blk + size
		if state == format.BlockFree && next < a.end {
			nextSize, nextState, err := a.readHeader(next)
			if err != nil {
				return merged, err
			}
			if nextState == format.BlockFree {
				if err := a.e.snapshot(blk, format.BlockHeaderSize); err != nil {
					return merged, err
				}
				if err := a.e.snapshot(next, format.BlockHeaderSize); err != nil {
					return merged, err
				}
				delete(a.free, next)
				delete(a.byEnd, next+nextSize)
				delete(a.byEnd, next)
				a.writeHeader(blk, size+nextSize, format.BlockFree)
				a.free[blk] = size + nextSize
				a.byEnd[blk+size+nextSize] = blk
				merged++
				continue // retry the grown block against its new neighbor
			}
		}
		blk = next
	}
	return merged, nil
}

func (a *allocator) readHeader(blk uint64) (size uint64, state uint32, err error) {
	if blk+format.BlockHeaderSize > a.end {
		return 0, 0, fmt.Errorf("%w: block header at %#x beyond heap end", ErrCorrupt, blk)
	}
	size = format.ReadU64(a.e.data, int(blk)+format.BlockSizeOff)
	state = format.ReadU32(a.e.data, int(blk)+format.BlockStateOff)
	if size < format.MinBlockSize || size%8 != 0 || blk+size > a.end {
		return 0, 0, fmt.Errorf("%w: block at %#x has size %d", ErrCorrupt, blk, size)
	}
	return size, state, nil
}

func (a *allocator) writeHeader(blk, size uint64, state uint32) {
	format.PutU64(a.e.data, int(blk)+format.BlockSizeOff, size)
	format.PutU32(a.e.data, int(blk)+format.BlockStateOff, state)
	a.e.dirty.add(blk, format.BlockHeaderSize)
}
