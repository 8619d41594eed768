package models

import "time"

// HealthStatus classifies a worker's recent behavior.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// WorkerHealth is the process-lifetime health snapshot of one worker.
type WorkerHealth struct {
	WorkerID        string       `json:"worker_id"`
	Status          HealthStatus `json:"status"`
	LastHeartbeatAt time.Time    `json:"last_heartbeat_at"`
}

// WorkerStatistics holds the throughput counters of one worker.
type WorkerStatistics struct {
	WorkerID         string `json:"worker_id"`
	EventsProcessed  int64  `json:"events_processed"`
	EventsSucceeded  int64  `json:"events_succeeded"`
	EventsFailed     int64  `json:"events_failed"`
	ActiveEventCount int64  `json:"active_event_count"`
}
