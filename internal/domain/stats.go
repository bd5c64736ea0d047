package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionInfo - снимок одного зарегистрированного соединения.
type ConnectionInfo struct {
	ConnectionID string    `json:"connection_id"`
	UserID       uuid.UUID `json:"user_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

type RegistryStats struct {
	ActiveConnections          int    `json:"activeConnections"`
	PeakConnections            int    `json:"peakConnections"`
	TotalConnectionsSinceStart uint64 `json:"totalConnectionsSinceStart"`
	DistinctUsersOnline        int    `json:"distinctUsersOnline"`
}

// SweepResult - итог одного прохода сборщика зависших соединений.
type SweepResult struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Removed   int           `json:"removed"`
	Dead      int           `json:"dead"`
	Stale     int           `json:"stale"`
	Active    int           `json:"active"`
	Peak      int           `json:"peak"`
}

type ProcessMemory struct {
	RSS       uint64 `json:"rss"`
	VMS       uint64 `json:"vms"`
	HeapAlloc uint64 `json:"heapAlloc"`
}

type RealtimeStats struct {
	RegistryStats
	ProcessMemory ProcessMemory `json:"processMemory"`
	LastSweep     *SweepResult  `json:"lastSweep,omitempty"`
}
