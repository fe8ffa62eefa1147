package middleware

import (
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/joshu-sajeev/pollq/common"
)

var validate = newValidator()

// newValidator reports fields by their JSON name, the one clients send.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the validate tags of a struct.
func Validate(v any) error {
	return validate.Struct(v)
}

func Bind[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		if errors.Is(err, io.EOF) {
			c.Error(common.Errf(http.StatusBadRequest, "request body is required"))
			return false
		}
		c.Error(common.Errf(http.StatusBadRequest, "invalid json: %v", err.Error()))
		return false
	}

	if err := Validate(dest); err != nil {
		c.Error(common.APIError{
			Status:  http.StatusBadRequest,
			Message: "validation failed",
			Fields:  FormatValidationErrors(err),
		})
		return false
	}

	return true
}

// FormatValidationErrors maps each failing field to the rule it broke, e.g.
// "max_attempts": "failed lte=100".
func FormatValidationErrors(err error) map[string]any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]any{"_": err.Error()}
	}

	fields := make(map[string]any, len(verrs))
	for _, e := range verrs {
		rule := e.Tag()
		if e.Param() != "" {
			rule += "=" + e.Param()
		}
		fields[e.Field()] = "failed " + rule
	}
	return fields
}
