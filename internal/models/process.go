package models

import (
	"time"

	"gorm.io/datatypes"
)

// Process is one live worker's heartbeat row.
type Process struct {
	PID           string            `gorm:"column:pid;primaryKey;type:varchar(64)"`
	Server        string            `gorm:"type:varchar(255);not null;default:''"`
	Meta          datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"autoCreateTime"`
	LastHeartbeat time.Time         `gorm:"not null;index"`
}
