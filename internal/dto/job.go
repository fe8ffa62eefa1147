package dto

import (
	"encoding/json"
	"time"
)

type JobCreateDTO struct {
	Type        string          `json:"type" validate:"required,max=255"`
	Payload     json.RawMessage `json:"payload"`
	Group       string          `json:"group" validate:"max=255"`
	Reference   string          `json:"reference" validate:"max=255"`
	MaxAttempts int             `json:"max_attempts" validate:"gte=0,lte=100"`
	NotBefore   *time.Time      `json:"not_before,omitempty"`
}

type JobResponseDTO struct {
	ID             uint            `json:"id"`
	Type           string          `json:"type"`
	Group          string          `json:"group,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	WorkerKey      string          `json:"worker_key,omitempty"`
	FailureMessage string          `json:"failure_message,omitempty"`
	NotBefore      *time.Time      `json:"not_before,omitempty"`
	FetchedAt      *time.Time      `json:"fetched_at,omitempty"`
	RetryAt        *time.Time      `json:"retry_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
