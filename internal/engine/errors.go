package engine

import "errors"

var (
	// ErrInvalidArgument indicates a bad path, size, or layout argument.
	ErrInvalidArgument = errors.New("engine: invalid argument")

	// ErrCorrupt indicates the pool header or heap failed validation.
	ErrCorrupt = errors.New("engine: pool corrupt")

	// ErrLayoutMismatch indicates the pool was created with a different layout string.
	ErrLayoutMismatch = errors.New("engine: layout mismatch")

	// ErrNotZeroed indicates create targeted an existing, non-zeroed file.
	ErrNotZeroed = errors.New("engine: existing file is not zeroed")

	// ErrTxRequired indicates an allocator operation outside an active transaction.
	ErrTxRequired = errors.New("engine: transaction required")

	// ErrTxActive indicates TxBegin while a transaction is already active.
	ErrTxActive = errors.New("engine: transaction already active")

	// ErrNoTx indicates a commit/abort/snapshot with no active transaction.
	ErrNoTx = errors.New("engine: no active transaction")

	// ErrLogFull indicates the undo log cannot hold another snapshot.
	ErrLogFull = errors.New("engine: undo log full")

	// ErrNoSpace indicates no free block large enough was found.
	ErrNoSpace = errors.New("engine: no free block large enough")

	// ErrBadRef indicates an offset that is not a live allocation.
	ErrBadRef = errors.New("engine: bad allocation reference")

	// ErrCtlUnknown indicates an unrecognized ctl entry point name.
	ErrCtlUnknown = errors.New("engine: unknown ctl entry point")

	// ErrCtlType indicates a ctl argument of the wrong type.
	ErrCtlType = errors.New("engine: wrong ctl argument type")

	// ErrDefrag indicates a defragmentation run stopped early. The
	// DefragResult returned alongside holds the counts obtained so far.
	ErrDefrag = errors.New("engine: defragmentation failed")
)
