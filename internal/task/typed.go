package task

import (
	"context"
	"fmt"
)

type typed[T any] struct {
	codec Codec
	run   func(ctx context.Context, payload T, jobID uint) error
	def   func() T
}

// Typed wraps a handler for payload type T. The payload is decoded with
// codec before run is called; an empty payload leaves T at its zero value.
func Typed[T any](codec Codec, run func(ctx context.Context, payload T, jobID uint) error) Task {
	if codec == nil {
		codec = JSON
	}
	return &typed[T]{codec: codec, run: run}
}

// TypedWithDefault is Typed plus an Adder that encodes def().
func TypedWithDefault[T any](codec Codec, run func(ctx context.Context, payload T, jobID uint) error, def func() T) Task {
	if codec == nil {
		codec = JSON
	}
	return &typedAdder[T]{typed[T]{codec: codec, run: run, def: def}}
}

func (t *typed[T]) Run(ctx context.Context, payload []byte, jobID uint) error {
	var v T
	if len(payload) > 0 {
		if err := t.codec.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("decode payload for job %d: %w", jobID, err)
		}
	}
	return t.run(ctx, v, jobID)
}

type typedAdder[T any] struct {
	typed[T]
}

func (t *typedAdder[T]) DefaultPayload() ([]byte, error) {
	return t.codec.Marshal(t.def())
}
