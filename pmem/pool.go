package pmem

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pmemkit/pmemkit/internal/engine"
	"github.com/pmemkit/pmemkit/internal/format"
)

// MinPoolSize is the smallest pool file Create accepts.
const MinPoolSize = format.MinPoolSize

// Pool is a handle to one open pool file. It owns the mapping: closing
// the pool unmaps the file and invalidates every reference into it.
//
// The handle may be shared across goroutines. Transactions on one pool
// serialize with each other; Close must not race with in-flight
// reference resolutions, which is the caller's synchronization to
// provide.
type Pool struct {
	eng *engine.Engine
	reg *Registry
	id  uuid.UUID

	mu       sync.Mutex // guards closed, userData, cleanups, root access
	txMu     sync.Mutex // serializes outermost transaction frames
	closed   bool
	userData any
	cleanups []func()
}

// UUID returns the pool's identity, minted at create time and stable
// across reopens.
func (p *Pool) UUID() uuid.UUID { return p.id }

// Path returns the pool file path.
func (p *Pool) Path() string { return p.eng.Path() }

// Layout returns the layout string the pool was created with.
func (p *Pool) Layout() string { return p.eng.Layout() }

// Size returns the pool size in bytes.
func (p *Pool) Size() int64 { return p.eng.Size() }

// SetUserData attaches arbitrary per-pool data to the handle. It is not
// persisted.
func (p *Pool) SetUserData(v any) {
	p.mu.Lock()
	p.userData = v
	p.mu.Unlock()
}

// UserData returns the value set by SetUserData, or nil.
func (p *Pool) UserData() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userData
}

// OnClose registers fn to run when the pool is closed, before the file
// is unmapped. Callbacks run in reverse registration order.
func (p *Pool) OnClose(fn func()) {
	p.mu.Lock()
	p.cleanups = append(p.cleanups, fn)
	p.mu.Unlock()
}

// Close runs registered cleanup callbacks, deregisters the pool, and
// unmaps the file. Closing an already-closed pool is a logic error and
// fails with ErrClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	cleanups := p.cleanups
	p.cleanups = nil
	p.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	p.reg.remove(p.id)
	if err := p.eng.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrPoolOp, err)
	}
	return nil
}

func (p *Pool) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: %s", ErrClosed, p.id)
	}
	return nil
}

// Persist synchronously flushes length bytes behind r to the backing
// file. Mutations it covers must have happened inside a transaction if
// crash consistency is required; Persist itself adds no atomicity.
func (p *Pool) Persist(r Ref, length uint64) error {
	if err := p.checkRef(r); err != nil {
		return err
	}
	return mapEngineErr(p.eng.Persist(r.off, length))
}

// PersistRange is Persist addressed by raw pool offset.
func (p *Pool) PersistRange(off, length uint64) error {
	return mapEngineErr(p.eng.Persist(off, length))
}

// Flush schedules a write-back of length bytes behind r without waiting.
// Pair with Drain for durability.
func (p *Pool) Flush(r Ref, length uint64) error {
	if err := p.checkRef(r); err != nil {
		return err
	}
	return mapEngineErr(p.eng.Flush(r.off, length))
}

// FlushRange is Flush addressed by raw pool offset.
func (p *Pool) FlushRange(off, length uint64) error {
	return mapEngineErr(p.eng.Flush(off, length))
}

// Drain blocks until previously flushed writes have reached the file.
func (p *Pool) Drain() error {
	return mapEngineErr(p.eng.Drain())
}

// CopyPersist copies src to the storage behind r and persists it in one
// call. Non-transactional: use it only for data whose torn state is
// acceptable or rebuilt on open.
func (p *Pool) CopyPersist(r Ref, src []byte) error {
	dst, err := p.Bytes(r, len(src))
	if err != nil {
		return err
	}
	copy(dst, src)
	return mapEngineErr(p.eng.Persist(r.off, uint64(len(src))))
}

// ZeroPersist zeroes length bytes behind r and persists them in one
// call. Non-transactional, like CopyPersist.
func (p *Pool) ZeroPersist(r Ref, length uint64) error {
	dst, err := p.Bytes(r, int(length))
	if err != nil {
		return err
	}
	clear(dst)
	return mapEngineErr(p.eng.Persist(r.off, length))
}

// Defrag relocates the referenced objects toward the start of the heap,
// updating each Ref in place as its object moves. On partial failure the
// returned *DefragError carries the counts obtained so far; objects
// already moved stay moved. Must be called outside any transaction.
func (p *Pool) Defrag(refs ...*Ref) (DefragResult, error) {
	if err := p.checkOpen(); err != nil {
		return DefragResult{}, err
	}
	p.txMu.Lock()
	defer p.txMu.Unlock()

	offs := make([]*uint64, len(refs))
	vals := make([]uint64, len(refs))
	for i, r := range refs {
		if r == nil || r.IsNull() {
			continue
		}
		if r.pool != p.id {
			return DefragResult{}, fmt.Errorf("%w: reference %d belongs to pool %s",
				ErrInvalidArgument, i, r.pool)
		}
		vals[i] = r.off
		offs[i] = &vals[i]
	}

	res, err := p.eng.Defrag(offs)
	for i, r := range refs {
		if offs[i] != nil {
			r.off = vals[i]
		}
	}
	if err != nil {
		return res, &DefragError{Result: res, Err: err}
	}
	return res, nil
}

// CtlGet reads a named engine internal at pool scope, for example
// "stats.heap.curr_allocated". Unknown names fail with ErrCtlUnknown.
func (p *Pool) CtlGet(name string) (any, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	return p.eng.CtlGet(name)
}

// CtlSet modifies a named engine tunable at pool scope and returns the
// value now in effect.
func (p *Pool) CtlSet(name string, arg any) (any, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	return p.eng.CtlSet(name, arg)
}

// CtlExec runs a named engine operation at pool scope.
func (p *Pool) CtlExec(name string, arg any) (any, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.eng.CtlExec(name, arg)
}

// CtlAs narrows a CtlGet/CtlSet/CtlExec result to a concrete type:
//
//	used, err := pmem.CtlAs[uint64](p.CtlGet("stats.heap.curr_allocated"))
func CtlAs[M any](v any, err error) (M, error) {
	var zero M
	if err != nil {
		return zero, err
	}
	m, ok := v.(M)
	if !ok {
		return zero, fmt.Errorf("%w: ctl result is %T, not %T", ErrInvalidArgument, v, zero)
	}
	return m, nil
}
