// Package notifier delivers short direct messages (for example "your account
// was used") without blocking the caller.
//
// Notify enqueues and returns. A small worker pool drains the queue through
// the transport adapter, paced by a token-bucket limiter. Delivery is
// best-effort: a failed send is logged, reported on the event bus and
// dropped. Nothing is retried.
//
// The service keeps a short in-memory history of delivered texts for
// diagnostics.
package notifier
