/*
Package filesystem wraps the file system calls made by the scanner with
retry logic for NFS stale file handle errors.

Album roots often live on network mounts. When the server side changes,
os.Stat and friends can fail with ESTALE for a short while; those calls are
retried with exponential backoff while every other error is returned at
once.

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

Custom retry configuration:

	config := filesystem.RetryConfig{
	    MaxRetries:     5,
	    InitialBackoff: 100 * time.Millisecond,
	    MaxBackoff:     1 * time.Second,
	    Roots:          mapper,
	}
	entries, err := filesystem.ReadDirWithRetry(dir, config)

The defaults are three retries starting at 50ms and capped at 500ms.

# Metrics

Stale errors, retries and final failures are counted per operation and per
album root. The root label comes from the RetryConfig's Labeler, then from
the one installed with SetDefaultLabeler, and is "unknown" otherwise.
*/
package filesystem
