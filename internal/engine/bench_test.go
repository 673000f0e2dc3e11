package engine

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/pmemkit/pmemkit/internal/format"
)

func newBenchPool(b *testing.B) *Engine {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.pm")
	e, err := Create(path, "bench", 8*format.MinPoolSize, 0o644)
	if err != nil {
		b.Fatalf("failed to create pool: %v", err)
	}
	b.Cleanup(func() { _ = e.Close() })
	return e
}

func BenchmarkAlloc(b *testing.B) {
	for _, size := range []uint64{64, 1024, 16384} {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			e := newBenchPool(b)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := e.TxBegin(); err != nil {
					b.Fatalf("tx begin failed: %v", err)
				}
				off, err := e.Alloc(size)
				if err != nil {
					b.Fatalf("alloc failed: %v", err)
				}
				if err := e.TxCommit(); err != nil {
					b.Fatalf("commit failed: %v", err)
				}
				// Free outside the timed path would skew less, but the
				// pool would fill: alloc+free is the steady state.
				if err := e.TxBegin(); err != nil {
					b.Fatalf("tx begin failed: %v", err)
				}
				if err := e.Free(off); err != nil {
					b.Fatalf("free failed: %v", err)
				}
				if err := e.TxCommit(); err != nil {
					b.Fatalf("commit failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkSnapshotCommit(b *testing.B) {
	for _, size := range []uint64{64, 1024, 16384} {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			e := newBenchPool(b)
			if err := e.TxBegin(); err != nil {
				b.Fatalf("tx begin failed: %v", err)
			}
			off, err := e.Alloc(size)
			if err != nil {
				b.Fatalf("alloc failed: %v", err)
			}
			if err := e.TxCommit(); err != nil {
				b.Fatalf("commit failed: %v", err)
			}

			data := e.Bytes()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := e.TxBegin(); err != nil {
					b.Fatalf("tx begin failed: %v", err)
				}
				if err := e.Snapshot(off, size); err != nil {
					b.Fatalf("snapshot failed: %v", err)
				}
				data[off] = byte(i)
				if err := e.TxCommit(); err != nil {
					b.Fatalf("commit failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkHeapRebuild(b *testing.B) {
	e := newBenchPool(b)
	if err := e.TxBegin(); err != nil {
		b.Fatalf("tx begin failed: %v", err)
	}
	for i := 0; i < 1000; i++ {
		if _, err := e.Alloc(256); err != nil {
			b.Fatalf("alloc failed: %v", err)
		}
	}
	if err := e.TxCommit(); err != nil {
		b.Fatalf("commit failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := e.heap.rebuild(); err != nil {
			b.Fatalf("rebuild failed: %v", err)
		}
	}
}
