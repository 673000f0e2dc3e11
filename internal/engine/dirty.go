package engine

import (
	"sort"

	"github.com/pmemkit/pmemkit/internal/format"
)

// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
// This reduces allocations during typical transaction workloads.
const defaultRangeCapacity = 64

// Range is a dirty byte range in absolute file offsets.
type Range struct {
	Off int64
	Len int64
}

// tracker accumulates dirty ranges written under the current transaction
// and flushes them, page-aligned and coalesced, at commit.
//
// NOT thread-safe; guarded by the owning pool's transaction lock.
type tracker struct {
	ranges []Range
}

func newTracker() *tracker {
	return &tracker{ranges: make([]Range, 0, defaultRangeCapacity)}
}

// add records a dirty range. Alignment and coalescing happen at flush time.
func (t *tracker) add(off, length uint64) {
	if length == 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: int64(off), Len: int64(length)})
}

// flush msyncs every coalesced range of data, then clears the tracker.
func (t *tracker) flush(data []byte) error {
	for _, r := range t.coalesce() {
		start := int(r.Off)
		end := int(r.Off + r.Len)
		if end > len(data) {
			end = len(data)
		}
		if start >= end {
			continue
		}
		if err := syncRange(data, start, end); err != nil {
			return err
		}
	}
	t.ranges = t.ranges[:0]
	return nil
}

// reset drops all tracked ranges without flushing.
func (t *tracker) reset() {
	t.ranges = t.ranges[:0]
}

// coalesce page-aligns all ranges, sorts them, and merges
// overlapping/adjacent ranges into a minimal flush list.
func (t *tracker) coalesce() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(t.ranges))
	for i, r := range t.ranges {
		start := int64(format.PageFloor(uint64(r.Off)))
		end := int64(format.AlignPage(uint64(r.Off + r.Len)))
		aligned[i] = Range{Off: start, Len: end - start}
	}

	sort.Slice(aligned, func(i, j int) bool {
		return aligned[i].Off < aligned[j].Off
	})

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.Off+current.Len {
			if end := next.Off + next.Len; end > current.Off+current.Len {
				current.Len = end - current.Off
			}
		} else {
			merged = append(merged, current)
			current = next
		}
	}
	return append(merged, current)
}
