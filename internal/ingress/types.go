// Package ingress is the instrumentation hook sitting in front of the
// monitored service's request handling: it assigns/propagates trace
// ids, consults the failure injector, and buffers completed
// TelemetryRecords for batched persistence.
package ingress

import "time"

const (
	QueueCapacity = 1024
	MaxBatchSize  = 100
	FlushWindow   = 500 * time.Millisecond
)

// TryEnqueue attempts a non-blocking send, returning false if the
// channel is full so the caller can count it as dropped rather than
// stall the request path.
func TryEnqueue[T any](ch chan T, rec T) bool {
	select {
	case ch <- rec:
		return true
	default:
		return false
	}
}
