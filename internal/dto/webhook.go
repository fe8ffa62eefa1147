package dto

import "encoding/json"

// SendWebhookPayload is the payload of a webhook job. Method defaults to
// POST; any 2xx response counts as delivered unless ExpectStatus is set.
type SendWebhookPayload struct {
	URL          string            `json:"url" validate:"required,url"`
	Method       string            `json:"method,omitempty" validate:"omitempty,oneof=POST PUT PATCH"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         json.RawMessage   `json:"body" validate:"required"`
	Timeout      int               `json:"timeout,omitempty" validate:"omitempty,gte=1,lte=30"`
	ExpectStatus []int             `json:"expect_status,omitempty" validate:"omitempty,dive,gte=100,lte=599"`
}
