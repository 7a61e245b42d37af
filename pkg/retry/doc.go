// Package retry runs an operation with exponential backoff and jitter.
//
// The transcoder uses it for startup work against NATS: opening the
// connection and creating key-value buckets.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Errors wrapped with Permanent, and invalid or fatal classified errors from
// the errors package, stop the loop at once. Cancelling ctx stops it during
// an attempt or a backoff.
package retry
