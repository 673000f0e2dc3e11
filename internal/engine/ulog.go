package engine

import (
	"fmt"

	"github.com/pmemkit/pmemkit/internal/format"
)

// logEntry describes one snapshot held in the undo-log region.
type logEntry struct {
	off      uint64 // protected range offset
	length   uint64 // protected range length
	entryOff uint64 // file offset of the entry header
}

// undoLog manages the on-file undo log.
//
// Append protocol: the entry header and payload are persisted first, and
// only then is the published entry count bumped and persisted. A crash
// between the two leaves a torn entry past the count, which recovery
// never reads. Truncating the count to zero is the commit marker; it is
// persisted only after every protected data range has been flushed.
type undoLog struct {
	data    []byte
	tail    uint64
	entries []logEntry
}

func newLog(data []byte) *undoLog {
	return &undoLog{
		data: data,
		tail: format.LogOffset + format.LogHeadSize,
	}
}

// onFileCount returns the published entry count.
func (l *undoLog) onFileCount() uint32 {
	return format.ReadU32(l.data, format.LogOffset+format.LogCountOff)
}

// snapshot appends a copy of data[off:off+length] to the log and
// publishes it. The protected range may be overwritten once snapshot
// returns.
func (l *undoLog) snapshot(off, length uint64) error {
	need := format.LogEntryHdrSize + format.Align8(length)
	if l.tail+need > format.HeapOffset {
		return fmt.Errorf("%w: %d bytes requested, %d available",
			ErrLogFull, need, format.HeapOffset-l.tail)
	}

	e := l.tail
	format.PutU64(l.data, int(e)+format.LogEntryOff, off)
	format.PutU64(l.data, int(e)+format.LogEntryLen, length)
	copy(l.data[e+format.LogEntryHdrSize:], l.data[off:off+length])

	// Persist the entry before publishing it.
	if err := syncRange(l.data, int(format.PageFloor(e)), int(format.AlignPage(e+need))); err != nil {
		return fmt.Errorf("persist log entry: %w", err)
	}

	count := l.onFileCount() + 1
	format.PutU32(l.data, format.LogOffset+format.LogCountOff, count)
	format.PutU64(l.data, format.LogOffset+format.LogTailOff, e+need)
	if err := syncRange(l.data, format.LogOffset, format.LogOffset+format.PageSize); err != nil {
		return fmt.Errorf("persist log head: %w", err)
	}

	l.entries = append(l.entries, logEntry{off: off, length: length, entryOff: e})
	l.tail = e + need
	return nil
}

// loadEntries rebuilds the in-memory entry list from the on-file log.
// Used when opening a pool that crashed mid-transaction.
func (l *undoLog) loadEntries() error {
	count := l.onFileCount()
	l.entries = l.entries[:0]
	e := uint64(format.LogOffset + format.LogHeadSize)
	for i := uint32(0); i < count; i++ {
		if e+format.LogEntryHdrSize > format.HeapOffset {
			return fmt.Errorf("%w: undo log overruns its region", ErrCorrupt)
		}
		off := format.ReadU64(l.data, int(e)+format.LogEntryOff)
		length := format.ReadU64(l.data, int(e)+format.LogEntryLen)
		if length == 0 || off+length > uint64(len(l.data)) ||
			e+format.LogEntryHdrSize+length > format.HeapOffset {
			return fmt.Errorf("%w: bad undo log entry %d", ErrCorrupt, i)
		}
		l.entries = append(l.entries, logEntry{off: off, length: length, entryOff: e})
		e += format.LogEntryHdrSize + format.Align8(length)
	}
	l.tail = e
	return nil
}

// rollback copies snapshots back over the current data, newest first, and
// reports each restored range through markDirty. The caller flushes the
// restored ranges and then truncates the log.
func (l *undoLog) rollback(markDirty func(off, length uint64)) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		copy(l.data[e.off:e.off+e.length], l.data[e.entryOff+format.LogEntryHdrSize:])
		markDirty(e.off, e.length)
	}
}

// truncate discards all entries, persisting the zeroed count as the
// commit (or completed-rollback) marker.
func (l *undoLog) truncate() error {
	format.PutU32(l.data, format.LogOffset+format.LogCountOff, 0)
	format.PutU64(l.data, format.LogOffset+format.LogTailOff, 0)
	if err := syncRange(l.data, format.LogOffset, format.LogOffset+format.PageSize); err != nil {
		return fmt.Errorf("persist log head: %w", err)
	}
	l.entries = l.entries[:0]
	l.tail = format.LogOffset + format.LogHeadSize
	return nil
}

// used returns the number of log bytes currently occupied.
func (l *undoLog) used() uint64 {
	return l.tail - (format.LogOffset + format.LogHeadSize)
}

// capacity returns the number of log bytes available in total.
func (l *undoLog) capacity() uint64 {
	return format.LogSize - format.LogHeadSize
}
