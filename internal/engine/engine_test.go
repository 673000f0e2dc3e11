package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmemkit/pmemkit/internal/format"
)

func newTestPool(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.obj")
	e, err := Create(path, "test", format.MinPoolSize, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() {
		if e.data != nil {
			e.teardown()
		}
	})
	return e
}

func TestCreateValidation(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		path   string
		layout string
		size   int64
	}{
		{"empty_path", "", "test", format.MinPoolSize},
		{"undersized", filepath.Join(dir, "small.obj"), "test", 4096},
		{"layout_too_long", filepath.Join(dir, "layout.obj"), string(make([]byte, 100)), format.MinPoolSize},
		{"zero_size_no_file", filepath.Join(dir, "missing.obj"), "test", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(tt.path, tt.layout, tt.size, 0o644)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestCreateRefusesLivePool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.obj")
	e, err := Create(path, "test", format.MinPoolSize, 0o644)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = Create(path, "test", format.MinPoolSize, 0o644)
	require.ErrorIs(t, err, ErrNotZeroed)
}

func TestCreateInPlaceOnZeroedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.obj")
	require.NoError(t, os.WriteFile(path, make([]byte, format.MinPoolSize), 0o644))

	e, err := Create(path, "test", 0, 0o644)
	require.NoError(t, err)
	assert.Equal(t, int64(format.MinPoolSize), e.Size())
	require.NoError(t, e.Close())
}

func TestOpenValidatesLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.obj")
	e, err := Create(path, "accounts", format.MinPoolSize, 0o644)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = Open(path, "orders")
	require.ErrorIs(t, err, ErrLayoutMismatch)

	e, err = Open(path, "accounts")
	require.NoError(t, err)
	assert.Equal(t, "accounts", e.Layout())
	require.NoError(t, e.Close())
}

func TestOpenRejectsCorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.obj")
	e, err := Create(path, "test", format.MinPoolSize, 0o644)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[format.LayoutOffset] ^= 0xff // breaks the checksum
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Open(path, "test")
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestUUIDStableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.obj")
	e, err := Create(path, "test", format.MinPoolSize, 0o644)
	require.NoError(t, err)
	id := e.UUID()
	require.NoError(t, e.Close())

	e, err = Open(path, "test")
	require.NoError(t, err)
	assert.Equal(t, id, e.UUID())
	require.NoError(t, e.Close())
}

func TestAllocRequiresTransaction(t *testing.T) {
	e := newTestPool(t)

	_, err := e.Alloc(64)
	require.ErrorIs(t, err, ErrTxRequired)
	require.ErrorIs(t, e.Free(format.HeapOffset+format.BlockHeaderSize), ErrTxRequired)

	// Metadata must be untouched: the whole heap is still one free block.
	total, largest := e.heap.freeSpace()
	assert.Equal(t, total, largest)
}

func TestTxCommitPersistsWrites(t *testing.T) {
	e := newTestPool(t)

	require.NoError(t, e.TxBegin())
	off, err := e.Alloc(128)
	require.NoError(t, err)
	copy(e.data[off:], "hello")
	e.MarkDirty(off, 5)
	require.NoError(t, e.TxCommit())

	assert.Equal(t, "hello", string(e.data[off:off+5]))
	assert.False(t, e.TxActive())
}

func TestTxAbortRestoresSnapshots(t *testing.T) {
	e := newTestPool(t)

	// Commit an initial value.
	require.NoError(t, e.TxBegin())
	off, err := e.Alloc(64)
	require.NoError(t, err)
	copy(e.data[off:], "before")
	e.MarkDirty(off, 6)
	require.NoError(t, e.TxCommit())

	// Mutate under snapshot, then abort.
	require.NoError(t, e.TxBegin())
	require.NoError(t, e.Snapshot(off, 6))
	copy(e.data[off:], "after!")
	require.NoError(t, e.TxAbort())

	assert.Equal(t, "before", string(e.data[off:off+6]))
}

func TestTxAbortReleasesAllocation(t *testing.T) {
	e := newTestPool(t)
	totalBefore, _ := e.heap.freeSpace()

	require.NoError(t, e.TxBegin())
	off, err := e.Alloc(1024)
	require.NoError(t, err)
	require.NoError(t, e.TxAbort())

	// The block header was rolled back, so the space is free again.
	totalAfter, _ := e.heap.freeSpace()
	assert.Equal(t, totalBefore, totalAfter)

	// And a fresh allocation reuses it.
	require.NoError(t, e.TxBegin())
	off2, err := e.Alloc(1024)
	require.NoError(t, err)
	assert.Equal(t, off, off2)
	require.NoError(t, e.TxCommit())
}

func TestSnapshotValidation(t *testing.T) {
	e := newTestPool(t)

	require.ErrorIs(t, e.Snapshot(format.HeapOffset, 8), ErrNoTx)

	require.NoError(t, e.TxBegin())
	require.ErrorIs(t, e.Snapshot(uint64(e.size), 16), ErrInvalidArgument)
	require.NoError(t, e.TxCommit())
}

func TestSetRootSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.obj")
	e, err := Create(path, "test", format.MinPoolSize, 0o644)
	require.NoError(t, err)

	require.NoError(t, e.TxBegin())
	off, err := e.Alloc(256)
	require.NoError(t, err)
	require.NoError(t, e.SetRoot(off, 256))
	require.NoError(t, e.TxCommit())
	require.NoError(t, e.Close())

	e, err = Open(path, "test")
	require.NoError(t, err)
	gotOff, gotSize := e.RootInfo()
	assert.Equal(t, off, gotOff)
	assert.Equal(t, uint64(256), gotSize)
	require.NoError(t, e.Close())
}

func TestCheckTriState(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, -1, Check(filepath.Join(dir, "missing.obj"), "test"))

	path := filepath.Join(dir, "pool.obj")
	e, err := Create(path, "test", format.MinPoolSize, 0o644)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	assert.Equal(t, 1, Check(path, "test"))
	assert.Equal(t, 0, Check(path, "other-layout"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[format.MagicOffset] = 'X'
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	assert.Equal(t, 0, Check(path, "test"))
}

func TestPersistFlushDrainBounds(t *testing.T) {
	e := newTestPool(t)

	require.NoError(t, e.Persist(format.HeapOffset, 64))
	require.NoError(t, e.Flush(format.HeapOffset, 64))
	require.NoError(t, e.Drain())

	require.ErrorIs(t, e.Persist(uint64(e.size), 1), ErrInvalidArgument)
	require.ErrorIs(t, e.Flush(uint64(e.size)-1, 2), ErrInvalidArgument)
}

// TestCrashRecovery simulates a crash by copying the pool file while a
// transaction is mid-flight. The mapping is MAP_SHARED, so the copy sees
// the torn state: snapshots in the log, protected data overwritten, no
// commit marker. Opening the copy must roll everything back.
func TestCrashRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.obj")
	e, err := Create(path, "test", format.MinPoolSize, 0o644)
	require.NoError(t, err)

	require.NoError(t, e.TxBegin())
	off, err := e.Alloc(64)
	require.NoError(t, err)
	copy(e.data[off:], "committed")
	e.MarkDirty(off, 9)
	require.NoError(t, e.TxCommit())

	// Torn transaction: snapshot taken, data overwritten, not committed.
	require.NoError(t, e.TxBegin())
	require.NoError(t, e.Snapshot(off, 9))
	copy(e.data[off:], "torn-torn")

	crashed := filepath.Join(dir, "crashed.obj")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(crashed, raw, 0o644))

	require.NoError(t, e.TxAbort())
	require.NoError(t, e.Close())

	re, err := Open(crashed, "test")
	require.NoError(t, err)
	defer re.Close()
	assert.Equal(t, "committed", string(re.data[off:off+9]))
	assert.Zero(t, re.log.onFileCount())
	assert.Equal(t, 1, Check(crashed, "test"))
}

// A crash copy with a pending undo log is recoverable, not corrupt: the
// check rolls the log back over its own view before judging the heap.
func TestCheckPendingLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.obj")
	e, err := Create(path, "test", format.MinPoolSize, 0o644)
	require.NoError(t, err)

	// Crash mid-allocation: block headers are mid-mutation on file, with
	// their prior contents published in the log.
	require.NoError(t, e.TxBegin())
	_, err = e.Alloc(64)
	require.NoError(t, err)

	crashed := filepath.Join(dir, "crashed.obj")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(crashed, raw, 0o644))

	require.NoError(t, e.TxAbort())
	require.NoError(t, e.Close())

	assert.Equal(t, 1, Check(crashed, "test"))

	// A log whose published count overruns the region is corruption, not
	// replayable state.
	broken, err := os.ReadFile(crashed)
	require.NoError(t, err)
	format.PutU32(broken, format.LogOffset+format.LogCountOff, ^uint32(0))
	require.NoError(t, os.WriteFile(crashed, broken, 0o644))
	assert.Equal(t, 0, Check(crashed, "test"))
}
