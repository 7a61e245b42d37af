// Package natsclient wraps the NATS connection used by the JetStream input
// source and the NATS output sinks.
//
// The client puts a circuit breaker in front of connection and JetStream
// calls: after a threshold of consecutive failures (default 5) the circuit
// opens and calls fail fast with ErrCircuitOpen until the backoff elapses.
// The backoff doubles each round up to a maximum.
//
//	client, err := natsclient.NewClient("nats://localhost:4222", natsclient.WithName("transcoder"))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// KVStore adds per-operation timeouts, a value size limit and write-once creates
// on top of a JetStream key-value bucket.
//
// NewTestClient starts a throwaway NATS server with testcontainers for
// integration tests (build tag "integration").
package natsclient
