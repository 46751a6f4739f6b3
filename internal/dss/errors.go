package dss

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotCancellable = errors.New("cannot cancel completed or failed job")
)
