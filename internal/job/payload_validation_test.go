package job

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/joshu-sajeev/pollq/common"
	"github.com/joshu-sajeev/pollq/internal/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantMsg    string
		wantFields []string
	}{
		{
			name: "valid webhook",
			raw:  `{"url":"https://example.com/hook","method":"POST","body":{"a":1},"timeout":10}`,
		},
		{
			name:    "not an object",
			raw:     `[1,2]`,
			wantMsg: "invalid payload format",
		},
		{
			name:       "bad method and timeout",
			raw:        `{"url":"https://example.com/hook","method":"GET","body":{},"timeout":99}`,
			wantMsg:    "payload validation failed",
			wantFields: []string{"method", "timeout"},
		},
		{
			name:       "unknown key",
			raw:        `{"url":"https://example.com/hook","body":{},"metod":"PUT"}`,
			wantMsg:    "invalid payload format",
			wantFields: []string{"payload"},
		},
		{
			name: "method and timeout are optional",
			raw:  `{"url":"https://example.com/hook","body":{}}`,
		},
		{
			name:       "expected status out of range",
			raw:        `{"url":"https://example.com/hook","body":{},"expect_status":[200,42]}`,
			wantMsg:    "payload validation failed",
			wantFields: []string{"expect_status[1]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePayload[dto.SendWebhookPayload](json.RawMessage(tt.raw))

			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}

			var apiErr common.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusBadRequest, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			for _, f := range tt.wantFields {
				assert.Contains(t, apiErr.Fields, f)
			}
		})
	}
}
