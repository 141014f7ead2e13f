package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest rejects a trigger before any job is created.
	ErrInvalidRequest = errors.New("invalid job request")
	// ErrJobNotRunning is returned when cancelling a job this process is not running.
	ErrJobNotRunning = errors.New("job is not running")
)

// UnknownSourceError names a requested source missing from the registry.
type UnknownSourceError struct {
	Name string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source %q", e.Name)
}
