package ingest

import "time"

// Config tunes the ingestion pipeline's queue and batching behavior.
type Config struct {
	// QueueCapacity bounds the number of pending capture events. Senders
	// block once it's full; this is the pipeline's backpressure mechanism.
	QueueCapacity int

	// BatchSize flushes pending captures once this many have queued up,
	// without waiting for FlushInterval.
	BatchSize int

	// FlushInterval flushes whatever is pending on a timer when BatchSize
	// isn't reached. A missed tick while a flush is already running is
	// dropped, not queued.
	FlushInterval time.Duration
}

// DefaultConfig returns the batch/flush values from the original pipeline:
// a 100-capture batch threshold with a time-based backstop flush.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 1000,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
	}
}
