package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/joshu-sajeev/pollq/internal/models"
	"github.com/joshu-sajeev/pollq/internal/task"
)

// PanicError wraps a value recovered from a handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v", e.Value)
}

func runSafely(ctx context.Context, t task.Task, j *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.Run(ctx, j.Payload, j.ID)
}

// faultKind names the class of a handler failure for the stored message.
func faultKind(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("panic(%T)", pe.Value)
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}
