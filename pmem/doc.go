// Package pmem provides crash-consistent access to objects stored in a
// memory-mapped pool file. A pool survives process exit and power loss:
// after any crash, reopening it yields either the state before the
// interrupted transaction or the state after the last committed one,
// never a torn intermediate.
//
// Objects inside a pool are addressed with relocation-safe references
// (Ref): a pool identity plus a byte offset, valid no matter where the
// pool is mapped on the next open. The single entry point into a pool's
// object graph is its root object, reachable through Pool.Root.
//
// All mutation happens inside transactions:
//
//	p, err := pmem.Create(path, "accounts", pmem.MinPoolSize, 0o644)
//	...
//	err = pmem.Run(p, func(tx *pmem.Tx) error {
//		r, err := tx.Alloc(uint64(unsafe.Sizeof(Account{})))
//		if err != nil {
//			return err
//		}
//		return pmem.Store(tx, r, Account{Balance: 42})
//	})
//
// A transaction commits when its body returns nil and rolls back when it
// returns an error or panics. Writes to pre-existing data must be
// preceded by a snapshot (Tx.Snapshot, or the Store helper); freshly
// allocated storage is exempt, since rolling an allocation back is just
// deallocation.
//
// The package performs no internal scheduling and does not serialize
// mutating transactions touching the same objects; that is the caller's
// lock to take. Transactions on one pool serialize with each other, and
// different pools are fully independent.
package pmem
