/*
Package workers sizes and runs the goroutine pools used by catalog rescans.

# Sizing

runtime.NumCPU reports the host's CPUs even inside a container with a CPU
limit; GOMAXPROCS follows the limit. Count multiplies GOMAXPROCS by a task
specific factor and caps the result:

	workers.ForCPU(8)   // 1 per CPU, at most 8
	workers.ForMixed(8) // 1.5 per CPU
	workers.ForIO(16)   // 2 per CPU, for stat and read heavy work

The CATALOG_WORKERS environment variable overrides the computed count. The
limit still applies. Invalid or non-positive values are ignored.

Rescans hit the catalog database as well as the file system, so keep the
limit near the size of the connection pool.

# Running a Pool

ForEach drains a channel on a fixed number of goroutines:

	paths := make(chan string)
	go func() {
	    defer close(paths)
	    for _, p := range dirs {
	        paths <- p
	    }
	}()
	workers.ForEach(ctx, workers.ForIO(8), paths, func(ctx context.Context, p string) {
	    scan(ctx, p)
	})

ForEach returns when the channel is closed and drained or the context is
done, whichever comes first.
*/
package workers
