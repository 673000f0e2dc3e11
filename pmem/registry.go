package pmem

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/pmemkit/pmemkit/internal/engine"
)

// Registry is the arena table: it maps pool identities to their live
// mappings so references can be resolved no matter which handle created
// them. At most one live mapping exists per identity; closing a pool
// removes it and invalidates every reference derived from it.
//
// Most programs use the package-level Open/Create against
// DefaultRegistry. Tests that need isolation construct their own.
type Registry struct {
	mu    sync.RWMutex
	pools map[uuid.UUID]*Pool
}

// DefaultRegistry backs the package-level Open, Create, and Resolve.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[uuid.UUID]*Pool)}
}

// Open maps an existing pool file and registers it. The layout string
// must match the one given at create time.
func (reg *Registry) Open(path, layout string) (*Pool, error) {
	eng, err := engine.Open(path, layout)
	if err != nil {
		return nil, mapEngineErr(fmt.Errorf("pmem: open %s: %w", path, err))
	}
	return reg.adopt(eng)
}

// Create initializes a new pool file of the given size and registers it.
// A size of zero reuses an existing (zeroed) file's size.
func (reg *Registry) Create(path, layout string, size int64, mode os.FileMode) (*Pool, error) {
	eng, err := engine.Create(path, layout, size, mode)
	if err != nil {
		return nil, mapEngineErr(fmt.Errorf("pmem: create %s: %w", path, err))
	}
	return reg.adopt(eng)
}

func (reg *Registry) adopt(eng *engine.Engine) (*Pool, error) {
	p := &Pool{eng: eng, reg: reg, id: eng.UUID()}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, live := reg.pools[p.id]; live {
		eng.Close()
		return nil, fmt.Errorf("%w: pool %s is already open", ErrPoolOp, p.id)
	}
	reg.pools[p.id] = p
	return p, nil
}

func (reg *Registry) remove(id uuid.UUID) {
	reg.mu.Lock()
	delete(reg.pools, id)
	reg.mu.Unlock()
}

// Pool returns the live pool with the given identity.
func (reg *Registry) Pool(id uuid.UUID) (*Pool, error) {
	reg.mu.RLock()
	p, ok := reg.pools[id]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPool, id)
	}
	return p, nil
}

// Resolve returns a live view of the n bytes behind r. It fails with
// ErrInvalidPool when r's pool is not open in this registry.
func (reg *Registry) Resolve(r Ref, n int) ([]byte, error) {
	p, err := reg.Pool(r.pool)
	if err != nil {
		return nil, err
	}
	return p.Bytes(r, n)
}

// Open maps an existing pool file using DefaultRegistry.
func Open(path, layout string) (*Pool, error) {
	return DefaultRegistry.Open(path, layout)
}

// Create initializes a new pool file using DefaultRegistry.
func Create(path, layout string, size int64, mode os.FileMode) (*Pool, error) {
	return DefaultRegistry.Create(path, layout, size, mode)
}

// Check reports the consistency of the pool file at path: -1 if the file
// cannot be read, 1 if consistent, 0 otherwise.
func Check(path, layout string) int {
	return engine.Check(path, layout)
}
