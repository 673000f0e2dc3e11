package engine

import "fmt"

// Pool-scope control facility: named entry points with get/set/exec
// semantics against engine internals. Names mirror the dotted style of
// allocator tunables ("stats.heap.curr_allocated" and friends).

// CtlGet reads a named engine internal.
func (e *Engine) CtlGet(name string) (any, error) {
	switch name {
	case "stats.heap.curr_allocated":
		return e.heap.stats.CurrAllocated, nil
	case "stats.heap.allocations":
		return e.heap.stats.AllocCalls, nil
	case "stats.heap.frees":
		return e.heap.stats.FreeCalls, nil
	case "stats.heap.free_space":
		total, _ := e.heap.freeSpace()
		return total, nil
	case "stats.heap.largest_free":
		_, largest := e.heap.freeSpace()
		return largest, nil
	case "stats.enabled":
		return e.statsEnabled, nil
	case "pool.size":
		return uint64(e.size), nil
	case "tx.log.capacity":
		return e.log.capacity(), nil
	case "tx.log.used":
		return e.log.used(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrCtlUnknown, name)
	}
}

// CtlSet writes a named engine tunable and returns the value now in
// effect.
func (e *Engine) CtlSet(name string, arg any) (any, error) {
	switch name {
	case "stats.enabled":
		v, ok := arg.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %q wants bool, got %T", ErrCtlType, name, arg)
		}
		e.statsEnabled = v
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrCtlUnknown, name)
	}
}

// CtlExec runs a named engine operation and returns its result.
func (e *Engine) CtlExec(name string, arg any) (any, error) {
	switch name {
	case "heap.coalesce":
		if err := e.TxBegin(); err != nil {
			return nil, err
		}
		merged, err := e.heap.coalescePass()
		if err != nil {
			if abortErr := e.TxAbort(); abortErr != nil {
				return merged, abortErr
			}
			return merged, err
		}
		if err := e.TxCommit(); err != nil {
			return merged, err
		}
		return merged, nil
	case "stats.reset":
		e.heap.stats.AllocCalls = 0
		e.heap.stats.FreeCalls = 0
		return arg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrCtlUnknown, name)
	}
}
