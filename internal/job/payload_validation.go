package job

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/joshu-sajeev/pollq/common"
	"github.com/joshu-sajeev/pollq/middleware"
)

// validatePayload decodes raw strictly into T and checks its validate tags,
// so a typo in a payload key is rejected before the job is stored.
func validatePayload[T any](raw json.RawMessage) error {
	var payload T

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return common.APIError{
			Status:  http.StatusBadRequest,
			Message: "invalid payload format",
			Fields:  map[string]any{"payload": err.Error()},
		}
	}

	if err := middleware.Validate(payload); err != nil {
		return common.APIError{
			Status:  http.StatusBadRequest,
			Message: "payload validation failed",
			Fields:  middleware.FormatValidationErrors(err),
		}
	}

	return nil
}
