package wal

import "time"

// SyncPolicy selects the durability strategy.
type SyncPolicy int

const (
	// SyncEveryWrite calls fsync() after every append.
	// Safest, slowest. The index logs use this: a mutation must be on
	// disk before the operation returns.
	SyncEveryWrite SyncPolicy = iota

	// SyncInterval calls fsync() periodically in the background.
	SyncInterval

	// SyncBatch calls fsync() when the accumulated bytes hit a threshold.
	SyncBatch
)

// Options configures a WALWriter.
type Options struct {
	// In-memory buffer size before flushing to the OS (bufio)
	BufferSize int

	// Sync policy
	SyncPolicy SyncPolicy

	// Interval for SyncInterval
	SyncIntervalDuration time.Duration

	// Accumulated bytes that trigger a sync (SyncBatch only)
	SyncBatchBytes int64
}

// DefaultOptions returns the configuration used for index logs.
func DefaultOptions() Options {
	return Options{
		BufferSize:           64 * 1024, // 64KB bufio buffer
		SyncPolicy:           SyncEveryWrite,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024, // 1MB
	}
}
