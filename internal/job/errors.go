package job

import "errors"

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidJobType = errors.New("job type is required")
)
