package engine

import (
	"bytes"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/pmemkit/pmemkit/internal/format"
	"github.com/pmemkit/pmemkit/internal/mmfile"
)

// Engine is one open pool file: its mapping, undo log, and heap.
type Engine struct {
	f     *os.File
	data  []byte
	unmap func() error
	size  int64
	path  string

	id     uuid.UUID
	layout string

	txActive bool
	dirty    *tracker
	log      *undoLog
	heap     *allocator

	statsEnabled bool

	// OnRelocate is a test hook called before each defrag relocation
	// (nil in production). Returning an error fails that relocation.
	OnRelocate func(idx int, payloadOff uint64) error
}

// Create initializes a new pool file at path. The target must not exist,
// or must exist with a zeroed header (a preallocated region). A size of
// zero means "use the existing file's size".
func Create(path, layout string, size int64, mode os.FileMode) (*Engine, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	if len(layout) > format.LayoutMax-1 {
		return nil, fmt.Errorf("%w: layout %q longer than %d bytes",
			ErrInvalidArgument, layout, format.LayoutMax-1)
	}
	if size != 0 && size < format.MinPoolSize {
		return nil, fmt.Errorf("%w: pool size %d below minimum %d",
			ErrInvalidArgument, size, int64(format.MinPoolSize))
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, mode)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	e, err := initPool(f, path, layout, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	return e, nil
}

func initPool(f *os.File, path, layout string, size int64) (*Engine, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	switch {
	case st.Size() > 0:
		// Reusing an existing file requires it to be zeroed, so a live
		// pool is never clobbered by accident.
		probe := make([]byte, format.HeaderSize)
		n, err := f.ReadAt(probe, 0)
		if err != nil && n < len(probe) {
			probe = probe[:n]
		}
		if !bytes.Equal(probe, make([]byte, len(probe))) {
			return nil, fmt.Errorf("%w: %s", ErrNotZeroed, path)
		}
		if size == 0 {
			size = st.Size()
		}
		if size < format.MinPoolSize {
			return nil, fmt.Errorf("%w: pool size %d below minimum %d",
				ErrInvalidArgument, size, int64(format.MinPoolSize))
		}
	case size == 0:
		return nil, fmt.Errorf("%w: zero size and no existing file", ErrInvalidArgument)
	}

	if st.Size() != size {
		if err := f.Truncate(size); err != nil {
			return nil, fmt.Errorf("create pool: %w", err)
		}
	}

	data, unmap, err := mmfile.Map(f, size)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	e := &Engine{
		f:      f,
		data:   data,
		unmap:  unmap,
		size:   size,
		path:   path,
		id:     uuid.New(),
		layout: layout,
		dirty:  newTracker(),
	}
	writeHeader(data, e.id, layout, uint64(size))
	e.log = newLog(data)
	e.heap = newAllocator(e)
	e.heap.initHeap()

	// The header, zeroed log head, and initial heap block must all be
	// durable before the pool is usable.
	if err := syncRange(data, 0, len(data)); err != nil {
		e.teardown()
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := fdatasync(int(f.Fd())); err != nil {
		e.teardown()
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return e, nil
}

// Open maps an existing pool file, validating its header against layout
// and rolling back any transaction interrupted by a crash.
func Open(path, layout string) (*Engine, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	if len(layout) > format.LayoutMax-1 {
		return nil, fmt.Errorf("%w: layout %q longer than %d bytes",
			ErrInvalidArgument, layout, format.LayoutMax-1)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open pool: %w", err)
	}
	size := st.Size()
	if size < format.MinPoolSize {
		f.Close()
		return nil, fmt.Errorf("%w: file %s is %d bytes, below minimum pool size",
			ErrInvalidArgument, path, size)
	}

	data, unmap, err := mmfile.Map(f, size)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open pool: %w", err)
	}

	e := &Engine{
		f:     f,
		data:  data,
		unmap: unmap,
		size:  size,
		path:  path,
		dirty: newTracker(),
	}
	if err := validateHeader(data, layout, size); err != nil {
		e.teardown()
		return nil, err
	}
	e.id = headerUUID(data)
	e.layout = headerLayout(data)

	e.log = newLog(data)
	if e.log.onFileCount() > 0 {
		if err := e.recover(); err != nil {
			e.teardown()
			return nil, err
		}
	}

	e.heap = newAllocator(e)
	if err := e.heap.rebuild(); err != nil {
		e.teardown()
		return nil, err
	}
	return e, nil
}

// recover rolls back the transaction that was in flight when the pool
// was last mapped. The pool returns to its last committed state.
func (e *Engine) recover() error {
	if err := e.log.loadEntries(); err != nil {
		return err
	}
	e.log.rollback(e.dirty.add)
	if err := e.dirty.flush(e.data); err != nil {
		return fmt.Errorf("recover pool: %w", err)
	}
	if err := e.log.truncate(); err != nil {
		return fmt.Errorf("recover pool: %w", err)
	}
	return e.Drain()
}

// Check reports the consistency of the pool file at path:
// -1 if the file cannot be read, 1 if consistent, 0 otherwise.
func Check(path, layout string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1
	}
	if int64(len(data)) < format.MinPoolSize {
		return 0
	}
	if err := validateHeader(data, layout, int64(len(data))); err != nil {
		return 0
	}
	// An unrecovered transaction is replayable state, not corruption: the
	// heap may be mid-mutation, but the next open rolls it back. Replay
	// the log over this in-memory copy and judge the rolled-back image.
	if format.ReadU32(data, format.LogOffset+format.LogCountOff) > 0 {
		l := newLog(data)
		if err := l.loadEntries(); err != nil {
			return 0
		}
		l.rollback(func(off, length uint64) {})
	}
	// Walk the block chain.
	blk := uint64(format.HeapOffset)
	end := uint64(len(data))
	for blk < end {
		if blk+format.BlockHeaderSize > end {
			return 0
		}
		size := format.ReadU64(data, int(blk)+format.BlockSizeOff)
		state := format.ReadU32(data, int(blk)+format.BlockStateOff)
		if size < format.MinBlockSize || size%8 != 0 || blk+size > end {
			return 0
		}
		if state != format.BlockFree && state != format.BlockUsed {
			return 0
		}
		blk += size
	}
	if blk != end {
		return 0
	}
	return 1
}

// Close unmaps and closes the pool file after a final sync.
func (e *Engine) Close() error {
	if err := syncRange(e.data, 0, len(e.data)); err != nil {
		return fmt.Errorf("close pool: %w", err)
	}
	if err := fdatasync(int(e.f.Fd())); err != nil {
		return fmt.Errorf("close pool: %w", err)
	}
	return e.teardown()
}

func (e *Engine) teardown() error {
	var first error
	if e.unmap != nil {
		first = e.unmap()
		e.unmap = nil
	}
	e.data = nil
	if err := e.f.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Bytes returns the live mapping. The slice is invalidated by Close.
func (e *Engine) Bytes() []byte { return e.data }

// Size returns the pool size in bytes.
func (e *Engine) Size() int64 { return e.size }

// Path returns the pool file path.
func (e *Engine) Path() string { return e.path }

// UUID returns the pool's identity minted at create time.
func (e *Engine) UUID() uuid.UUID { return e.id }

// Layout returns the pool's layout string.
func (e *Engine) Layout() string { return e.layout }

// RootInfo returns the root object's payload offset and size, both zero
// when no root has been allocated yet.
func (e *Engine) RootInfo() (off, size uint64) {
	return format.ReadU64(e.data, format.RootOff), format.ReadU64(e.data, format.RootSizeOff)
}

// SetRoot records the root object's location in the pool header. Must be
// called inside an active transaction; the header fields are snapshotted
// so an abort restores them.
func (e *Engine) SetRoot(off, size uint64) error {
	if !e.txActive {
		return ErrTxRequired
	}
	if err := e.snapshot(0, format.HeaderUsed); err != nil {
		return err
	}
	format.PutU64(e.data, format.RootOff, off)
	format.PutU64(e.data, format.RootSizeOff, size)
	format.PutU64(e.data, format.ChecksumOffset, headerChecksum(e.data))
	return nil
}

// Persist synchronously flushes the given range to the backing file.
func (e *Engine) Persist(off, length uint64) error {
	start, end, err := e.flushBounds(off, length)
	if err != nil {
		return err
	}
	if err := syncRange(e.data, start, end); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// Flush schedules a write-back of the given range without waiting.
// Pair with Drain for durability.
func (e *Engine) Flush(off, length uint64) error {
	start, end, err := e.flushBounds(off, length)
	if err != nil {
		return err
	}
	if err := asyncRange(e.data, start, end); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Drain blocks until previously flushed writes have reached the file.
func (e *Engine) Drain() error {
	if err := fdatasync(int(e.f.Fd())); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

func (e *Engine) flushBounds(off, length uint64) (start, end int, err error) {
	if off+length > uint64(e.size) || off+length < off {
		return 0, 0, fmt.Errorf("%w: range [%d, %d) outside pool", ErrInvalidArgument, off, off+length)
	}
	start = int(format.PageFloor(off))
	end = int(format.AlignPage(off + length))
	if end > len(e.data) {
		end = len(e.data)
	}
	return start, end, nil
}

// TxBegin starts the engine-level transaction. The engine supports one
// flat transaction at a time; nesting is flattened by the pmem layer.
func (e *Engine) TxBegin() error {
	if e.txActive {
		return ErrTxActive
	}
	e.txActive = true
	return nil
}

// TxActive reports whether a transaction is in progress.
func (e *Engine) TxActive() bool { return e.txActive }

// Snapshot captures the prior contents of a range into the undo log.
// Must precede the first write to that range within the transaction.
func (e *Engine) Snapshot(off, length uint64) error {
	if !e.txActive {
		return ErrNoTx
	}
	if length == 0 {
		return nil
	}
	if off+length > uint64(e.size) || off+length < off {
		return fmt.Errorf("%w: snapshot range [%d, %d) outside pool", ErrInvalidArgument, off, off+length)
	}
	return e.snapshot(off, length)
}

func (e *Engine) snapshot(off, length uint64) error {
	if err := e.log.snapshot(off, length); err != nil {
		return err
	}
	// The range is about to be overwritten; flush it at commit.
	e.dirty.add(off, length)
	return nil
}

// MarkDirty records a range for flushing at commit without snapshotting
// it. Used for freshly allocated storage, whose rollback is deallocation.
func (e *Engine) MarkDirty(off, length uint64) {
	e.dirty.add(off, length)
}

// TxCommit makes all writes of the current transaction durable: dirty
// data ranges are flushed first, and only then is the undo log truncated
// (the commit marker). A crash before the truncation replays the log and
// rolls the transaction back; a crash after it leaves all writes visible.
func (e *Engine) TxCommit() error {
	if !e.txActive {
		return ErrNoTx
	}
	if err := e.dirty.flush(e.data); err != nil {
		return fmt.Errorf("commit: flush data: %w", err)
	}
	if err := e.Drain(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := e.log.truncate(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	e.txActive = false
	return nil
}

// TxAbort restores every snapshotted range to its pre-transaction
// contents, persists the restored state, and truncates the log. The
// allocator indexes are rebuilt from the restored on-file state.
func (e *Engine) TxAbort() error {
	if !e.txActive {
		return ErrNoTx
	}
	e.dirty.reset()
	e.log.rollback(e.dirty.add)
	if err := e.dirty.flush(e.data); err != nil {
		return fmt.Errorf("abort: flush restored data: %w", err)
	}
	if err := e.log.truncate(); err != nil {
		return fmt.Errorf("abort: %w", err)
	}
	e.txActive = false
	if err := e.heap.rebuild(); err != nil {
		return fmt.Errorf("abort: %w", err)
	}
	return nil
}

// Alloc returns the offset of size zeroed payload bytes. Allocation
// mutates allocator metadata and therefore requires an active
// transaction; an interrupted non-transactional allocation could corrupt
// the heap irrecoverably.
func (e *Engine) Alloc(size uint64) (uint64, error) {
	if !e.txActive {
		return 0, ErrTxRequired
	}
	if size == 0 {
		return 0, fmt.Errorf("%w: zero-size allocation", ErrInvalidArgument)
	}
	return e.heap.allocate(size)
}

// Free releases the allocation at payload offset off. Requires an active
// transaction for the same reason as Alloc.
func (e *Engine) Free(off uint64) error {
	if !e.txActive {
		return ErrTxRequired
	}
	return e.heap.release(off)
}

// AllocSize returns the usable payload size of a live allocation.
func (e *Engine) AllocSize(off uint64) (uint64, error) {
	return e.heap.payloadSize(off)
}
