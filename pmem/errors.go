package pmem

import (
	"errors"
	"fmt"

	"github.com/pmemkit/pmemkit/internal/engine"
)

var (
	// ErrInvalidArgument indicates a bad path, size, layout, or reference
	// argument.
	ErrInvalidArgument = errors.New("pmem: invalid argument")

	// ErrPoolOp indicates an open/create/close failure that is not an
	// argument problem: I/O errors, corrupt or incompatible pool files.
	ErrPoolOp = errors.New("pmem: pool operation failed")

	// ErrClosed indicates a double close. Closing twice is a programmer
	// bug, not a runtime condition.
	ErrClosed = errors.New("pmem: pool already closed")

	// ErrInvalidPool indicates a reference into a pool that is not
	// currently open.
	ErrInvalidPool = errors.New("pmem: pool not open")

	// ErrTxRequired indicates an allocation or free attempted outside an
	// active transaction.
	ErrTxRequired = errors.New("pmem: transaction required")

	// ErrTxAborted indicates a transaction that rolled back. The cause is
	// attached; after an inner frame aborts, every enclosing frame
	// reports this error.
	ErrTxAborted = errors.New("pmem: transaction aborted")

	// ErrCtlUnknown indicates an unrecognized ctl entry point name.
	ErrCtlUnknown = engine.ErrCtlUnknown
)

// DefragResult reports how many objects a defragmentation run processed
// and how many it actually relocated.
type DefragResult = engine.DefragResult

// DefragError reports a defragmentation run that stopped early. Objects
// relocated before the failure stay relocated; Result carries the counts
// obtained so far, so callers must inspect it rather than assume
// all-or-nothing.
type DefragError struct {
	Result DefragResult
	Err    error
}

func (e *DefragError) Error() string {
	return fmt.Sprintf("pmem: defrag failed after relocating %d of %d objects: %v",
		e.Result.Relocated, e.Result.Total, e.Err)
}

func (e *DefragError) Unwrap() error { return e.Err }

// mapEngineErr translates engine error kinds into this package's
// sentinels while keeping the original chain intact.
func mapEngineErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrInvalidArgument):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, engine.ErrTxRequired):
		return fmt.Errorf("%w: %w", ErrTxRequired, err)
	case errors.Is(err, engine.ErrNotZeroed),
		errors.Is(err, engine.ErrCorrupt),
		errors.Is(err, engine.ErrLayoutMismatch):
		return fmt.Errorf("%w: %w", ErrPoolOp, err)
	default:
		return err
	}
}
