package utils

import (
	"runtime"
	"sync"
)

// ParallelFor splits [0,n) into contiguous chunks and runs fn on each chunk
// from its own goroutine. Callers must write only to disjoint output
// elements; the velocity coefficients and lattice metadata they read are
// never mutated during a call, so no locking is needed.
func ParallelFor(n int, fn func(begin, end int)) {
	if n <= 0 {
		return
	}
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for begin := 0; begin < n; begin += chunk {
		end := begin + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(b, e int) {
			defer wg.Done()
			fn(b, e)
		}(begin, end)
	}
	wg.Wait()
}
