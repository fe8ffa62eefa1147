package dto

import "time"

// TypeStatsDTO summarises finished jobs of one type. Durations are seconds.
type TypeStatsDTO struct {
	Type          string  `json:"type"`
	Count         int64   `json:"count"`
	AvgExistence  float64 `json:"avg_existence_seconds"`
	AvgFetchDelay float64 `json:"avg_fetch_delay_seconds"`
	AvgRuntime    float64 `json:"avg_runtime_seconds"`
}

type QueueStatsDTO struct {
	Length        int64            `json:"length"`
	Pending       map[string]int64 `json:"pending"`
	Types         []TypeStatsDTO   `json:"types"`
	Workers       int              `json:"workers"`
	LastHeartbeat *time.Time       `json:"last_heartbeat,omitempty"`
}

type ProcessDTO struct {
	PID           string         `json:"pid"`
	Server        string         `json:"server,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	Alive         bool           `json:"alive"`
}
