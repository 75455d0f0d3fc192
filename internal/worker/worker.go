// Package worker provides the data-parallel worker pool pattern reused
// throughout the engine: a buffered-channel semaphore bounding concurrency,
// one goroutine per work unit, draining the semaphore to join.
package worker

import (
	"runtime"
	"sync"
)

// Parallel runs work(i) for i in [0,n) with at most maxConcurrency goroutines
// in flight at once, and returns the first non-nil error encountered (all
// work units still run to completion; results after the first error are
// discarded by the caller if it chooses to bail).
func Parallel(n, maxConcurrency int, work func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = runtime.NumCPU()
	}
	if maxConcurrency > n {
		maxConcurrency = n
	}

	sem := make(chan bool, maxConcurrency)
	errs := make(chan error, n)
	wg := sync.WaitGroup{}

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- true
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := work(i); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// NumCPU mirrors runtime.NumCPU, exposed so callers sizing batches don't
// need to import runtime directly alongside this package.
func NumCPU() int { return runtime.NumCPU() }
