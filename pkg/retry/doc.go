// Package retry retries transient failures with exponential backoff.
//
// The KV store uses it for writes: a write either succeeds or, after the
// configured attempts, returns the last error. Errors the errors package
// classifies as invalid or fatal, and errors wrapped with NonRetryable, end
// the loop at once.
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return bucket.Put(ctx, key, value)
//	})
package retry
