package utils

import (
	"sync/atomic"
	"testing"
)

func TestParallelForCoversRange(t *testing.T) {
	for _, n := range []int{0, 1, 7, 100, 100003} {
		seen := make([]int32, n)
		ParallelFor(n, func(begin, end int) {
			for i := begin; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
		})
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, c)
			}
		}
	}
}

func TestParallelForChunksAreOrderedAndDisjoint(t *testing.T) {
	const n = 1000
	var total int64
	ParallelFor(n, func(begin, end int) {
		if begin >= end {
			t.Errorf("empty chunk [%d, %d)", begin, end)
		}
		atomic.AddInt64(&total, int64(end-begin))
	})
	if total != n {
		t.Errorf("chunks cover %d elements, want %d", total, n)
	}
}
