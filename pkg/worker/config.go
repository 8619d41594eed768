// Package worker drives the durable event log into the runtime: a pool of
// pollers with bounded in-flight dispatch, per-message retry with backoff,
// idle-message reclamation, health reporting and throughput metrics.
package worker

import (
	"runtime"
	"time"
)

// Config holds the operational limits of the pool. All values are
// env-driven through the CLI; zero values take the documented defaults.
type Config struct {
	// WorkerCount is the number of independent pollers. Defaults to the
	// host CPU core count.
	WorkerCount int

	// PollInterval is the pause after an empty or failed read.
	PollInterval time.Duration

	// BatchSize bounds the number of messages read per poll call.
	BatchSize int64

	// MaxRetries bounds per-message processing retries before the event is
	// marked failed and acknowledged.
	MaxRetries int

	// ConcurrencyLimit bounds in-flight event-processing tasks per worker.
	ConcurrencyLimit int64

	// BlockTimeout bounds each blocking read against the log.
	BlockTimeout time.Duration

	// ClaimTimeout is how long a delivered message may stay unacknowledged
	// before peers may reclaim it.
	ClaimTimeout time.Duration

	HealthCheckInterval time.Duration
	MetricsInterval     time.Duration

	// Retry backoff bounds for failed event processing.
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = runtime.NumCPU()
	}

	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}

	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = 5
	}

	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 2 * time.Second
	}

	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 30 * time.Second
	}

	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}

	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 60 * time.Second
	}

	if c.RetryInitialBackoff <= 0 {
		c.RetryInitialBackoff = 200 * time.Millisecond
	}

	if c.RetryMaxBackoff <= 0 {
		c.RetryMaxBackoff = 5 * time.Second
	}

	return c
}
